// Package dispatch sends authenticated requests to the backend. It attaches the stored bearer
// token and a CSRF token, and answers a 401 with exactly one refresh and one retry.
// When the refresh cannot happen or fails, the session is torn down.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/inventory-client/internal/identity"
	"github.com/openkcm/inventory-client/internal/serviceerr"
	"github.com/openkcm/inventory-client/internal/session"
)

var (
	ErrNoRefreshToken = errors.New("no refresh token stored")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrClearSession   = errors.New("failed to clear session")
	ErrReadSession    = errors.New("failed to read session")
)

// Identity is the part of the identity client the dispatcher depends on.
type Identity interface {
	Refresh(ctx context.Context, refreshToken string) (session.CredentialPair, error)
	CSRFToken(ctx context.Context) (string, error)
}

type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	store      session.Store
	identity   Identity

	singleFlight bool
	refreshGroup singleflight.Group
	onTerminal   func(ctx context.Context, err error)

	telemetry *telemetry
}

type Option func(*Dispatcher)

// WithSingleFlightRefresh makes concurrent 401s that hold the same refresh token share one refresh.
func WithSingleFlightRefresh() Option {
	return func(d *Dispatcher) { d.singleFlight = true }
}

// WithOnAuthTerminal registers fn to run after the session was torn down.
func WithOnAuthTerminal(fn func(ctx context.Context, err error)) Option {
	return func(d *Dispatcher) { d.onTerminal = fn }
}

// WithTelemetry replaces the global otel meter and tracer.
func WithTelemetry(meter metric.Meter, tracer trace.Tracer) Option {
	return func(d *Dispatcher) { d.telemetry = newTelemetry(meter, tracer) }
}

// New creates a dispatcher. The http client should share its cookie jar with the identity
// client so the CSRF cookie travels with the mutating request.
func New(baseURL string, httpClient *http.Client, store session.Store, id Identity, opts ...Option) *Dispatcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	d := &Dispatcher{
		baseURL:    baseURL,
		httpClient: httpClient,
		store:      store,
		identity:   id,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.telemetry == nil {
		d.telemetry = newTelemetry(nil, nil)
	}

	return d
}

// attempt carries the per call state. The Request itself stays untouched.
type attempt struct {
	req       *Request
	csrfToken string
	retried   bool
	state     State
}

// Send dispatches req. A 2xx answer returns the response and no error.
// Other answers return the response together with a *serviceerr.StatusError.
// A terminal auth failure returns no response and an error matching serviceerr.ErrAuthTerminal.
func (d *Dispatcher) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx = slogctx.With(ctx,
		commoncfg.AttrRequestID, uuid.NewString(),
		"method", req.Method,
		"path", req.Path,
	)

	ctx, span := d.telemetry.tracer.Start(ctx, "dispatch "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	resp, state, err := d.send(ctx, req)

	span.SetAttributes(attribute.String("dispatch.state", state.String()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	d.telemetry.recordDispatch(ctx, state)

	return resp, err
}

func (d *Dispatcher) send(ctx context.Context, req *Request) (*Response, State, error) {
	at := &attempt{req: req, state: StateUnsent}

	pair, err := d.store.Get(ctx)
	switch {
	case err == nil:
	case errors.Is(err, serviceerr.ErrIncompleteCredentials):
		return nil, StateTerminalAuthFailure, d.teardown(ctx, err)
	case errors.Is(err, serviceerr.ErrNoSession):
		slogctx.Debug(ctx, "No session stored, sending without bearer")
	default:
		return nil, at.state, fmt.Errorf("%w: %w", ErrReadSession, err)
	}

	if req.mutating() {
		at.csrfToken = d.csrfToken(ctx)
	}

	resp, err := d.dispatch(ctx, at, pair.AccessToken)
	if err != nil {
		return nil, at.state, err
	}

	decision := Classify(resp.StatusCode, at.retried)
	if decision != Retry {
		return d.finish(ctx, at, resp, decision)
	}

	at.state = StateFailedAuthNoRetry
	slogctx.Info(ctx, "Access token rejected, refreshing")

	at.state = StateRefreshInFlight
	refreshed, err := d.refresh(ctx)
	switch {
	case err == nil:
	case cancelled(err):
		// the session is still valid; the caller gave up
		slogctx.Debug(ctx, "Refresh abandoned", "error", err)
		return nil, at.state, err
	default:
		at.state = StateTerminalAuthFailure
		return nil, at.state, d.teardown(ctx, err)
	}

	at.retried = true
	resp, err = d.dispatch(ctx, at, refreshed.AccessToken)
	if err != nil {
		return nil, at.state, err
	}

	return d.finish(ctx, at, resp, Classify(resp.StatusCode, at.retried))
}

func (d *Dispatcher) finish(ctx context.Context, at *attempt, resp *Response, decision Decision) (*Response, State, error) {
	at.state = finalState(decision, at.retried)
	resp.State = at.state

	if decision == Succeed {
		return resp, at.state, nil
	}

	slogctx.Debug(ctx, "Request failed", "status", resp.StatusCode, "state", at.state)

	return resp, at.state, serviceerr.NewStatusError(resp.StatusCode, resp.Body)
}

// csrfToken fetches a token for a mutating request. A failed fetch is logged and the request
// goes out without the header; the backend then rejects it.
func (d *Dispatcher) csrfToken(ctx context.Context) string {
	token, err := d.identity.CSRFToken(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Could not fetch CSRF token, sending without it", "error", err)
		return ""
	}

	return token
}

func (d *Dispatcher) dispatch(ctx context.Context, at *attempt, accessToken string) (*Response, error) {
	httpReq, err := d.newHTTPRequest(ctx, at, accessToken)
	if err != nil {
		return nil, err
	}

	at.state = StateSent

	httpResp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, transportError(err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func (d *Dispatcher) newHTTPRequest(ctx context.Context, at *attempt, accessToken string) (*http.Request, error) {
	target, err := url.JoinPath(d.baseURL, at.req.Path)
	if err != nil {
		return nil, fmt.Errorf("building request url: %w", err)
	}
	if len(at.req.Query) > 0 {
		target += "?" + at.req.Query.Encode()
	}

	var body io.Reader
	if at.req.Body != nil {
		body = bytes.NewReader(at.req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, at.req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for key, values := range at.req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if at.req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if at.csrfToken != "" {
		httpReq.Header.Set(identity.HeaderCSRFToken, at.csrfToken)
	}

	return httpReq, nil
}

// refresh trades the stored refresh token for a new pair and stores it.
func (d *Dispatcher) refresh(ctx context.Context) (session.CredentialPair, error) {
	pair, err := d.store.Get(ctx)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNoSession) {
			return session.CredentialPair{}, ErrNoRefreshToken
		}
		return session.CredentialPair{}, fmt.Errorf("%w: %w", ErrReadSession, err)
	}

	if !d.singleFlight {
		return d.doRefresh(ctx, pair.RefreshToken)
	}

	// The shared refresh must not die with the caller that started it.
	v, err, shared := d.refreshGroup.Do(pair.RefreshToken, func() (any, error) {
		return d.doRefresh(context.WithoutCancel(ctx), pair.RefreshToken)
	})
	if err != nil {
		return session.CredentialPair{}, err
	}
	if shared {
		slogctx.Debug(ctx, "Joined in-flight refresh")
	}

	//nolint:forcetypeassert
	return v.(session.CredentialPair), nil
}

func (d *Dispatcher) doRefresh(ctx context.Context, refreshToken string) (session.CredentialPair, error) {
	pair, err := d.identity.Refresh(ctx, refreshToken)
	d.telemetry.recordRefresh(ctx, err == nil)
	if err != nil {
		return session.CredentialPair{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if err := d.store.Set(ctx, pair); err != nil {
		return session.CredentialPair{}, fmt.Errorf("%w: storing refreshed pair: %w", ErrRefreshFailed, err)
	}

	slogctx.Info(ctx, "Access token refreshed")

	return pair, nil
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// teardown clears the session and reports a terminal auth failure caused by cause.
func (d *Dispatcher) teardown(ctx context.Context, cause error) error {
	err := fmt.Errorf("%w: %w", serviceerr.ErrAuthTerminal, cause)

	if clearErr := d.store.Clear(ctx); clearErr != nil {
		slogctx.Error(ctx, "Failed to clear session", "error", clearErr)
		err = errors.Join(err, fmt.Errorf("%w: %w", ErrClearSession, clearErr))
	}

	slogctx.Warn(ctx, "Session terminated", "cause", cause)

	if d.onTerminal != nil {
		d.onTerminal(ctx, err)
	}

	return err
}

func transportError(err error) error {
	if cancelled(err) {
		return err
	}

	return fmt.Errorf("%w: %w", serviceerr.ErrNetworkFailure, err)
}
