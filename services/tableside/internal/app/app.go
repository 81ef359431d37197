// Package app wires the table client runtime from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableside/services/tableside/internal/backend"
	"github.com/appetiteclub/tableside/services/tableside/internal/cart"
	"github.com/appetiteclub/tableside/services/tableside/internal/checkout"
	"github.com/appetiteclub/tableside/services/tableside/internal/durable"
	"github.com/appetiteclub/tableside/services/tableside/internal/loading"
	"github.com/appetiteclub/tableside/services/tableside/internal/orders"
	"github.com/appetiteclub/tableside/services/tableside/internal/realtime"
	"github.com/appetiteclub/tableside/services/tableside/internal/session"
	"github.com/appetiteclub/tableside/services/tableside/internal/tableside"
	"github.com/appetiteclub/tableside/services/tableside/internal/throttle"
)

const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"

	defaultStorePath = "tableside.db"
	clientName       = "tableside"
)

var ErrUnknownTransport = errors.New("unknown realtime transport")

// Settings is the resolved configuration.
type Settings struct {
	APIURL            string
	APITimeout        time.Duration
	RealtimeURL       string
	RealtimeTransport string
	StorePath         string
	Locale            string
}

// LoadSettings reads the tableside keys from config.
func LoadSettings(config *apt.Config) (Settings, error) {
	s := Settings{
		APIURL:            config.GetStringOrDef("api.url", "http://localhost:5000/api"),
		RealtimeURL:       config.GetStringOrDef("realtime.url", "ws://localhost:5000/realtime"),
		RealtimeTransport: config.GetStringOrDef("realtime.transport", TransportWebSocket),
		StorePath:         config.GetStringOrDef("store.path", defaultStorePath),
		Locale:            config.GetStringOrDef("locale", "en"),
		APITimeout:        backend.DefaultTimeout,
	}

	if raw, ok := config.GetString("api.timeout"); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("api.timeout: %w", err)
		}
		s.APITimeout = d
	}
	return s, nil
}

// App holds every component of the runtime.
type App struct {
	Settings Settings
	Logger   apt.Logger

	Store    durable.Store
	Cache    *durable.MemoryStore
	Loading  *loading.Coordinator
	Client   *backend.Client
	Sessions *session.Validator
	Cart     *cart.Guard
	Rooms    *realtime.Multiplexer
	Actions  *throttle.TableActions
	Checkout *checkout.Coordinator
	Orders   *orders.Tracker
	Handler  *tableside.Handler

	transport     realtime.Transport
	unsubscribe   func()
	cancelRestore context.CancelFunc
	restored      chan struct{}
}

// Option overrides a dependency, mostly for tests.
type Option func(*App)

// WithStore replaces the SQLite store.
func WithStore(store durable.Store) Option {
	return func(a *App) { a.Store = store }
}

// WithSessionCache replaces the in-memory session-scoped store.
func WithSessionCache(cache *durable.MemoryStore) Option {
	return func(a *App) { a.Cache = cache }
}

// WithTransport replaces the configured realtime transport.
func WithTransport(t realtime.Transport) Option {
	return func(a *App) { a.transport = t }
}

// New builds the runtime. Nothing connects until Start.
func New(settings Settings, logger apt.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	a := &App{Settings: settings, Logger: logger}
	for _, o := range opts {
		o(a)
	}

	if a.transport == nil {
		t, err := newTransport(settings, logger)
		if err != nil {
			return nil, err
		}
		a.transport = t
	}

	if a.Store == nil {
		path := settings.StorePath
		if path == "" {
			path = defaultStorePath
		}
		store, err := durable.OpenSQLite(path, durable.WithMkdirAll())
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.Store = store
	}

	if a.Cache == nil {
		a.Cache = durable.NewMemoryStore()
	}
	a.Loading = loading.NewCoordinator()
	a.Client = backend.NewClient(settings.APIURL, a.Loading,
		backend.WithTimeout(settings.APITimeout),
		backend.WithLogger(logger),
	)
	a.Sessions = session.NewValidator(a.Client, a.Store, a.Cache, logger)
	a.Cart = cart.NewGuard(a.Store, logger)
	a.Rooms = realtime.NewMultiplexer(a.transport,
		realtime.WithLogger(logger),
		realtime.WithMessages(orderstatus.NewMessages(settings.Locale)),
	)
	a.Actions = throttle.NewTableActions(throttle.New(logger), a.Client, logger)
	a.Checkout = checkout.NewCoordinator(a.Client, a.Sessions, a.Cart, a.Rooms, a.Store, logger)
	a.Orders = orders.NewTracker(a.Client.WithTier(loading.Background), a.Rooms, a.Store, logger)
	a.Handler = tableside.NewHandler(tableside.HandlerDeps{
		Sessions: a.Sessions,
		Cart:     a.Cart,
		Checkout: a.Checkout,
		Orders:   a.Orders,
		Actions:  a.Actions,
		Rooms:    a.Rooms,
		Loading:  a.Loading,
	}, logger)

	return a, nil
}

// Start restores the session, connects the realtime multiplexer and
// rejoins the rooms of open orders.
func (a *App) Start(ctx context.Context) error {
	if s, ok := a.Sessions.Restore(); ok {
		a.Logger.Info("session restored", "restaurant_id", s.RestaurantID, "table_id", s.TableID)
		_ = a.Rooms.JoinRestaurant(s.RestaurantID)
		_ = a.Rooms.JoinTable(s.TableID)
	}

	// The next item after a placed order starts a new checkout.
	a.unsubscribe = a.Cart.Subscribe(func(snap cart.Snapshot) {
		if !snap.Empty() {
			a.Checkout.Rearm()
		}
	})

	if err := a.Rooms.Start(ctx); err != nil {
		return err
	}

	restoreCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelRestore = cancel
	a.restored = make(chan struct{})
	go func() {
		defer close(a.restored)
		a.Orders.Restore(restoreCtx)
	}()
	return nil
}

// Stop disconnects and closes the store.
func (a *App) Stop(ctx context.Context) error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.cancelRestore != nil {
		a.cancelRestore()
		<-a.restored
	}
	err := a.Rooms.Stop(ctx)
	if closer, ok := a.Store.(interface{ Close() error }); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}

// Lifecycle adapts Start and Stop to the micro runtime.
func (a *App) Lifecycle() apt.LifecycleHooks {
	return apt.LifecycleHooks{OnStart: a.Start, OnStop: a.Stop}
}

func newTransport(settings Settings, logger apt.Logger) (realtime.Transport, error) {
	switch strings.ToLower(settings.RealtimeTransport) {
	case "", TransportWebSocket:
		return realtime.NewWebSocketTransport(settings.RealtimeURL, logger), nil
	case TransportNATS:
		return realtime.NewNATSTransport(settings.RealtimeURL, clientName, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, settings.RealtimeTransport)
	}
}
