// Package identity talks to the collaborators that hand out credentials: the OAuth token
// endpoint of the backend, its CSRF and Google login endpoints, and the Google userinfo endpoint.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/patrickmn/go-cache"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/oauth2"

	"github.com/openkcm/inventory-client/internal/config"
	"github.com/openkcm/inventory-client/internal/serviceerr"
	"github.com/openkcm/inventory-client/internal/session"
)

// HeaderCSRFToken carries the CSRF token on mutating requests.
const HeaderCSRFToken = "X-CSRFToken"

var (
	ErrLoadClientCredentials = errors.New("failed to load OAuth client credentials")
	ErrMissingRefreshToken   = errors.New("login response carries no refresh token")
)

type Client struct {
	httpClient *http.Client
	oauth      *oauth2.Config

	csrfURL         string
	googleLoginURL  string
	googleIssuerURL string

	// discovered OIDC providers by issuer
	providers *cache.Cache
}

// NewClient builds a client from the API configuration.
// httpClient should carry a cookie jar: the CSRF token is bound to the csrftoken cookie.
func NewClient(cfg *config.API, httpClient *http.Client) (*Client, error) {
	clientID, err := config.LoadOptionalValue(cfg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%w: client id: %w", ErrLoadClientCredentials, err)
	}

	clientSecret, err := config.LoadOptionalValue(cfg.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: client secret: %w", ErrLoadClientCredentials, err)
	}

	csrfURL, err := url.JoinPath(cfg.BaseURL, cfg.CSRFPath)
	if err != nil {
		return nil, fmt.Errorf("building csrf url: %w", err)
	}

	googleLoginURL, err := url.JoinPath(cfg.BaseURL, cfg.GoogleLoginPath)
	if err != nil {
		return nil, fmt.Errorf("building google login url: %w", err)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		csrfURL:         csrfURL,
		googleLoginURL:  googleLoginURL,
		googleIssuerURL: cfg.GoogleIssuerURL,
		providers:       cache.New(cache.NoExpiration, 0),
	}, nil
}

// HTTPClient is the client every identity call goes through.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// PasswordLogin exchanges a username and password for a credential pair.
func (c *Client) PasswordLogin(ctx context.Context, username, password string) (session.CredentialPair, error) {
	token, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), username, password)
	if err != nil {
		return session.CredentialPair{}, fmt.Errorf("password grant: %w", loginError(err))
	}

	slogctx.Debug(ctx, "Password grant succeeded", "username", username)

	return pairFromToken(token)
}

// Refresh exchanges the refresh token for a new pair.
// A backend that does not rotate refresh tokens leaves the old one in the result.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.CredentialPair, error) {
	source := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	token, err := source.Token()
	if err != nil {
		return session.CredentialPair{}, fmt.Errorf("refresh grant: %w", refreshError(err))
	}

	return pairFromToken(token)
}

// CSRFToken fetches a fresh CSRF token. The matching cookie lands in the client's jar.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.csrfURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating csrf request: %w", err)
	}

	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := c.doJSON(req, &body); err != nil {
		return "", fmt.Errorf("fetching csrf token: %w", err)
	}
	if body.CSRFToken == "" {
		return "", fmt.Errorf("fetching csrf token: %w", serviceerr.ErrServerFailure)
	}

	return body.CSRFToken, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) doJSON(req *http.Request, into any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}

	if kind := serviceerr.KindOf(resp.StatusCode); kind != nil {
		return serviceerr.NewStatusError(resp.StatusCode, body)
	}

	return decodeJSON(body, into)
}

func pairFromToken(token *oauth2.Token) (session.CredentialPair, error) {
	pair := session.CredentialPair{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if !pair.Complete() {
		return session.CredentialPair{}, fmt.Errorf("%w: %w", serviceerr.ErrAuthTerminal, ErrMissingRefreshToken)
	}

	return pair, nil
}

// loginError classifies a failed password grant. Rejected credentials are a validation failure.
func loginError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return transportError(err)
	}

	kind := serviceerr.ErrServerFailure
	if code := retrieveStatus(retrieveErr); code >= 400 && code < 500 {
		kind = serviceerr.ErrValidationFailure
	}

	return fmt.Errorf("%w: %s", kind, retrieveReason(retrieveErr))
}

// refreshError classifies a failed refresh grant. Any answer from the token endpoint is terminal.
func refreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return transportError(err)
	}

	return fmt.Errorf("%w: %s", serviceerr.ErrAuthTerminal, retrieveReason(retrieveErr))
}

func retrieveStatus(err *oauth2.RetrieveError) int {
	if err.Response == nil {
		return 0
	}
	return err.Response.StatusCode
}

func retrieveReason(err *oauth2.RetrieveError) string {
	switch {
	case err.ErrorDescription != "":
		return err.ErrorDescription
	case err.ErrorCode != "":
		return err.ErrorCode
	default:
		return fmt.Sprintf("status %d", retrieveStatus(err))
	}
}

// transportError marks err as a network failure unless the context ended.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %w", serviceerr.ErrNetworkFailure, err)
}
