package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/valkey-io/valkey-go"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/inventory-client/internal/config"
	"github.com/openkcm/inventory-client/internal/dispatch"
	"github.com/openkcm/inventory-client/internal/identity"
	"github.com/openkcm/inventory-client/internal/items"
	"github.com/openkcm/inventory-client/internal/serviceerr"
	"github.com/openkcm/inventory-client/internal/session"
	sessionbolt "github.com/openkcm/inventory-client/internal/session/bolt"
	sessionmemory "github.com/openkcm/inventory-client/internal/session/memory"
	sessionvalkey "github.com/openkcm/inventory-client/internal/session/valkey"
)

const boltOpenTimeout = time.Second

var (
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrUnknownStoreType = errors.New("unknown session store type")
)

// View is what the client shows after boot routing.
type View int

const (
	ViewLogin View = iota
	ViewItems
)

func (v View) String() string {
	if v == ViewItems {
		return "items"
	}
	return "login"
}

// App is the application root. It owns the session store and wires the identity client,
// the dispatcher and the items service around it.
type App struct {
	cfg        *config.Config
	store      session.Store
	identity   *identity.Client
	dispatcher *dispatch.Dispatcher
	items      *items.Service

	closeFn func() error
}

// Open creates the App with the store and the http client described by cfg.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	store, closeFn, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	httpClient, err := loadHTTPClient(cfg)
	if err != nil {
		_ = closeFn()
		return nil, fmt.Errorf("loading http client: %w", err)
	}

	app, err := New(ctx, cfg, store, httpClient)
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	app.closeFn = closeFn

	return app, nil
}

// New creates the App around an already opened store. The http client is shared by
// the identity client and the dispatcher so both use the same cookie jar.
func New(ctx context.Context, cfg *config.Config, store session.Store, httpClient *http.Client) (*App, error) {
	idClient, err := identity.NewClient(&cfg.API, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating identity client: %w", err)
	}

	opts := []dispatch.Option{
		dispatch.WithOnAuthTerminal(onAuthTerminal),
		dispatch.WithTelemetry(newMeter(cfg), newTracer(cfg)),
	}
	if cfg.Dispatcher.SingleFlightRefresh {
		opts = append(opts, dispatch.WithSingleFlightRefresh())
	}
	dispatcher := dispatch.New(cfg.API.BaseURL, idClient.HTTPClient(), store, idClient, opts...)

	slogctx.Debug(ctx, "Application initialised",
		"store", cfg.Session.Store,
		"baseURL", cfg.API.BaseURL,
		"singleFlightRefresh", cfg.Dispatcher.SingleFlightRefresh,
	)

	return &App{
		cfg:        cfg,
		store:      store,
		identity:   idClient,
		dispatcher: dispatcher,
		items:      items.NewService(&cfg.Items, dispatcher),
		closeFn:    func() error { return nil },
	}, nil
}

// WithApp opens the App for the duration of fn.
func WithApp(ctx context.Context, cfg *config.Config, fn func(*App) error) error {
	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(app)
}

func (a *App) Close() error {
	return a.closeFn()
}

// Route decides the initial view: the items view when credentials are stored.
func (a *App) Route(ctx context.Context) View {
	if session.IsPresent(ctx, a.store) {
		return ViewItems
	}
	return ViewLogin
}

func (a *App) Login(ctx context.Context, username, password string) error {
	pair, err := a.identity.PasswordLogin(ctx, username, password)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	return a.storePair(ctx, pair)
}

func (a *App) LoginGoogle(ctx context.Context, providerAccessToken string) error {
	pair, err := a.identity.GoogleLogin(ctx, providerAccessToken)
	if err != nil {
		return fmt.Errorf("logging in with google: %w", err)
	}

	return a.storePair(ctx, pair)
}

// Logout drops the stored credentials. The backend is not told.
func (a *App) Logout(ctx context.Context) error {
	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	slogctx.Info(ctx, "Logged out")

	return nil
}

// Verify confirms the stored credentials with one authenticated GET on the items collection,
// going through the usual refresh and teardown handling.
func (a *App) Verify(ctx context.Context) error {
	if err := a.requireSession(ctx); err != nil {
		return err
	}

	_, err := a.dispatcher.Send(ctx, &dispatch.Request{Method: http.MethodGet, Path: items.CollectionPath})
	if err != nil {
		return fmt.Errorf("verifying session: %w", err)
	}

	return nil
}

func (a *App) ListItems(ctx context.Context) ([]items.Item, error) {
	if err := a.requireSession(ctx); err != nil {
		return nil, err
	}
	return a.items.List(ctx)
}

func (a *App) GetItem(ctx context.Context, id int64) (items.Item, error) {
	if err := a.requireSession(ctx); err != nil {
		return items.Item{}, err
	}
	return a.items.Get(ctx, id)
}

func (a *App) CreateItem(ctx context.Context, in items.Input) (items.Item, error) {
	if err := a.requireSession(ctx); err != nil {
		return items.Item{}, err
	}
	return a.items.Create(ctx, in)
}

func (a *App) UpdateItem(ctx context.Context, id int64, in items.Input) (items.Item, error) {
	if err := a.requireSession(ctx); err != nil {
		return items.Item{}, err
	}
	return a.items.Update(ctx, id, in)
}

func (a *App) DeleteItem(ctx context.Context, id int64) error {
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	return a.items.Delete(ctx, id)
}

func (a *App) storePair(ctx context.Context, pair session.CredentialPair) error {
	if err := a.store.Set(ctx, pair); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}

	slogctx.Info(ctx, "Logged in")

	return nil
}

// requireSession fails with ErrNotLoggedIn only when the store is readable and empty.
func (a *App) requireSession(ctx context.Context) error {
	_, err := a.store.Get(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, serviceerr.ErrNoSession):
		return fmt.Errorf("%w: %w", serviceerr.ErrAuthTerminal, ErrNotLoggedIn)
	default:
		return fmt.Errorf("%w: %w", dispatch.ErrReadSession, err)
	}
}

// onAuthTerminal is the redirect to the login view: the session is gone and the user
// has to log in again.
func onAuthTerminal(ctx context.Context, err error) {
	slogctx.Warn(ctx, "Session expired, please log in again", "error", err)
}

func openStore(cfg *config.Config) (session.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Session.Store {
	case config.StoreTypeMemory:
		return sessionmemory.NewStore(), noop, nil
	case config.StoreTypeFile, "":
		store, err := sessionbolt.NewStoreFromFile(os.ExpandEnv(cfg.Session.File), cfg.Session.Bucket,
			&bbolt.Options{Timeout: boltOpenTimeout})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StoreTypeValKey:
		valkeyOpts, err := config.MakeValkeyOptions(cfg.ValKey)
		if err != nil {
			return nil, nil, fmt.Errorf("making valkey options: %w", err)
		}

		valkeyClient, err := valkey.NewClient(valkeyOpts)
		if err != nil {
			return nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
		}

		closeFn := func() error {
			valkeyClient.Close()
			return nil
		}
		return sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStoreType, cfg.Session.Store)
	}
}

func newMeter(cfg *config.Config) metric.Meter {
	return otel.Meter(
		"inventory/"+cfg.Application.Name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)
}

func newTracer(cfg *config.Config) trace.Tracer {
	return otel.Tracer(
		"inventory/"+cfg.Application.Name,
		trace.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)
}
