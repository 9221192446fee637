// Package storefront wires the session, cart, notification and push
// channel together the way a signed-in shopper sees them.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cellar/internal/cart"
	"github.com/fjod/go_cellar/internal/config"
	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/internal/gateway"
	"github.com/fjod/go_cellar/internal/notification"
	"github.com/fjod/go_cellar/internal/session"
	"github.com/fjod/go_cellar/internal/sse"
	"github.com/fjod/go_cellar/pkg/logger"
)

var ErrForbidden = errors.New("admin access required")

const ackTimeout = 5 * time.Second

type App struct {
	Session       *session.Manager
	Gateway       *gateway.Client
	Cart          *cart.Store
	Notifications *notification.Store
	Channel       *sse.Channel

	guard   *session.Guard
	hydrate singleflight.Group
	log     *zap.Logger
}

type options struct {
	httpClient *http.Client
	afterFunc  sse.AfterFunc
	toast      func(domain.Notification)
	onFatal    func(error)
	onStatus   func(sse.Status)
	now        func() time.Time
}

type Option func(*options)

// WithHTTPClient sets the client used for REST calls and the stream.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

func WithAfterFunc(f sse.AfterFunc) Option {
	return func(o *options) { o.afterFunc = f }
}

// WithToast is called for every live notification.
func WithToast(f func(domain.Notification)) Option {
	return func(o *options) { o.toast = f }
}

// WithFatal is called once the push channel gives up reconnecting.
func WithFatal(f func(error)) Option {
	return func(o *options) { o.onFatal = f }
}

func WithStatus(f func(sse.Status)) Option {
	return func(o *options) { o.onStatus = f }
}

// WithClock sets the time source used to judge session expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds the app. A nil store keeps the session in memory.
func New(cfg *config.Storefront, store session.Store, log *zap.Logger, opts ...Option) *App {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log = logger.OrNop(log)

	a := &App{
		guard: session.NewGuard(),
		log:   log,
	}
	a.Session = session.NewManager(store, cfg.SessionKey, cfg.SessionTTL, log.Named("session"))
	if o.now != nil {
		a.Session.SetClock(o.now)
		a.guard.SetClock(o.now)
	}

	clientOpts := []gateway.Option{gateway.WithLogger(log.Named("gateway"))}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, gateway.WithHTTPClient(o.httpClient))
	}
	a.Gateway = gateway.NewClient(cfg.APIURL, a.Session, cfg.RequestTimeout, clientOpts...)

	a.Cart = cart.NewStore(a.Gateway, log.Named("cart"))
	a.Notifications = notification.NewStore(a.Gateway,
		notification.WithPageSize(cfg.NotificationPageSize),
		notification.WithToast(o.toast),
		notification.WithLogger(log.Named("notification")))

	channelOpts := []sse.Option{
		sse.WithPolicy(sse.Policy{MaxAttempts: cfg.SSEMaxAttempts, BaseDelay: cfg.SSEBaseDelay}),
		sse.WithLogger(log.Named("sse")),
	}
	if o.httpClient != nil {
		channelOpts = append(channelOpts, sse.WithHTTPClient(o.httpClient))
	}
	if o.afterFunc != nil {
		channelOpts = append(channelOpts, sse.WithAfterFunc(o.afterFunc))
	}
	a.Channel = sse.NewChannel(a.Gateway, sse.Handler{
		OnConnected: func(id string) {
			log.Info("notification channel connected", zap.String("connection_id", id))
		},
		OnNotification: a.receive,
		OnServerError: func(msg string) {
			log.Warn("notification channel server error", zap.String("message", msg))
		},
		OnFatal: func(err error) {
			log.Error("notification channel gave up", zap.Error(err))
			if o.onFatal != nil {
				o.onFatal(err)
			}
		},
		OnStatus: o.onStatus,
	}, channelOpts...)

	return a
}

// Start restores a persisted session. With one, the cart and notifications
// are hydrated and the push channel opened; without one the app stays
// anonymous and nil is returned.
func (a *App) Start(ctx context.Context) (*domain.Session, error) {
	s, err := a.Session.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	if err := a.signedIn(ctx); err != nil {
		return s, err
	}
	return s, nil
}

func (a *App) Login(ctx context.Context, accessToken, refreshToken string) (*domain.Session, error) {
	s, err := a.Session.Login(ctx, accessToken, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := a.signedIn(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Logout closes the channel and clears every per-user store.
func (a *App) Logout(ctx context.Context) error {
	a.Channel.Disconnect()
	a.Cart.Reset()
	a.Notifications.Reset()
	return a.Session.Logout(ctx)
}

// Hydrate loads the cart and the first notification page concurrently.
// Overlapping calls share one load.
func (a *App) Hydrate(ctx context.Context) error {
	_, err, _ := a.hydrate.Do("hydrate", func() (interface{}, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.Cart.Hydrate(gctx) })
		g.Go(func() error { return a.Notifications.FetchNotifications(gctx) })
		return nil, g.Wait()
	})
	return err
}

// Authorize applies the route guard to path for the current session. An
// expired session is denied like a missing one.
func (a *App) Authorize(path string) error {
	switch a.guard.Check(path, a.Session.Current()) {
	case session.RequireLogin:
		return fmt.Errorf("%s: %w", path, domain.ErrAuthRequired)
	case session.RequireAdmin:
		return fmt.Errorf("%s: %w", path, ErrForbidden)
	default:
		return nil
	}
}

func (a *App) Close() {
	a.Channel.Close()
}

func (a *App) signedIn(ctx context.Context) error {
	// The channel is opened even if hydration fails so pushes still arrive.
	hydrateErr := a.Hydrate(ctx)
	if err := a.Channel.Reconnect(); err != nil {
		return errors.Join(hydrateErr, fmt.Errorf("open notification channel: %w", err))
	}
	return hydrateErr
}

func (a *App) receive(n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	a.Notifications.Receive(ctx, n)
}
