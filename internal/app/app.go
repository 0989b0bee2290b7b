// Package app wires the digit trading server together and runs it until the
// root context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/digitbot/internal/config"
	"github.com/alanyoungcy/digitbot/internal/crypto"
	"github.com/alanyoungcy/digitbot/internal/domain"
	"github.com/alanyoungcy/digitbot/internal/platform/deriv"
	"github.com/alanyoungcy/digitbot/internal/server"
	"github.com/alanyoungcy/digitbot/internal/server/handler"
	"github.com/alanyoungcy/digitbot/internal/server/ws"
	"github.com/alanyoungcy/digitbot/internal/service"
	"github.com/alanyoungcy/digitbot/internal/session"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires every dependency, opens the operator session if a token is
// configured, and serves HTTP until ctx is cancelled. All sessions are closed
// before it returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	registry := session.NewRegistry(a.cfg.Sessions.MaxSessions, a.logger)
	// Registered after cleanup so sessions close (and archive) while the
	// stores are still open.
	a.closers = append(a.closers, registry.CloseAll)

	client, err := deriv.NewClient(deriv.ClientConfig{
		Endpoint:         a.cfg.Deriv.Endpoint,
		AppID:            a.cfg.Deriv.AppID,
		HandshakeTimeout: a.cfg.Deriv.HandshakeTimeout.Duration,
		PingInterval:     a.cfg.Deriv.PingInterval.Duration,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: deriv client: %w", err)
	}

	journal := service.NewJournal(deps.SignalBus, a.logger).WithNotifier(deps.Notifier)
	if deps.TradeStore != nil && deps.AuditStore != nil {
		journal.WithStores(deps.TradeStore, deps.AuditStore)
	}
	if deps.BlobWriter != nil {
		journal.WithArchive(deps.BlobWriter, a.cfg.S3.Prefix)
	}

	bridge, err := a.newBridge(ctx, registry, derivDialer(client), journal, deps.SignalBus)
	if err != nil {
		return err
	}
	if deps.LockManager != nil {
		bridge.WithLocks(deps.LockManager)
	}

	if a.cfg.Mode == service.ModeLive {
		a.openOperatorSession(ctx, bridge)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:          a.cfg.Mode,
		SessionCookie: handler.SessionCookie,
		AllSessions:   a.cfg.Server.APIKey != "",
		Sessions:      registry.Len,
		StartedAt:     time.Now().UTC(),
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, registry.Len),
		Trading: handler.NewTradingHandler(bridge, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(gctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		registry.CloseAll()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) newBridge(ctx context.Context, registry *session.Registry, dialer service.Dialer, journal *service.Journal, bus domain.SignalBus) (*service.Bridge, error) {
	tc := a.cfg.Trading
	policy := service.TradePolicy{
		Currency:     tc.Currency,
		Duration:     tc.Duration,
		DurationUnit: tc.DurationUnit,
		Basis:        tc.Basis,
	}
	sim := service.SimConfig{
		StartingBalance: decimal.NewFromFloat(tc.Sim.StartingBalance),
		PayoutRatio:     decimal.NewFromFloat(tc.Sim.PayoutRatio),
		WinProbability:  tc.Sim.WinProbability,
		Currency:        tc.Currency,
	}

	seed := tc.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	estimators := service.NewEstimatorRegistry()
	estimators.Register("random", service.NewRandomEstimator(rand.NewSource(seed+1)))
	estimator, err := estimators.Get(tc.Estimator)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	return service.NewBridge(ctx,
		service.BridgeConfig{
			Mode:           a.cfg.Mode,
			Symbol:         tc.Symbol,
			DefaultStake:   decimal.NewFromFloat(tc.DefaultStake),
			ConnectTimeout: a.cfg.Sessions.ConnectTimeout.Duration,
			CallTimeout:    a.cfg.Sessions.CallTimeout.Duration,
			TradeLockTTL:   a.cfg.Sessions.TradeLockTTL.Duration,
		},
		registry,
		dialer,
		service.NewLiveExecutor(policy, a.logger),
		service.NewSimulatedExecutor(sim, rand.NewSource(seed), a.logger),
		estimator,
		journal,
		bus,
		a.logger,
	), nil
}

// openOperatorSession connects the configured operator token, if any, and
// makes it the default session. Failure is logged, not fatal: callers can
// still connect their own tokens.
func (a *App) openOperatorSession(ctx context.Context, bridge *service.Bridge) {
	token, err := crypto.LoadToken(crypto.TokenSource{
		Raw:           a.cfg.Deriv.Token,
		EncryptedPath: a.cfg.Deriv.EncryptedTokenPath,
		Password:      a.cfg.Deriv.TokenPassword,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "operator token unavailable", slog.String("error", err.Error()))
		return
	}
	if token == "" {
		return
	}

	res, err := bridge.DoConnect(ctx, token)
	if err != nil {
		a.logger.ErrorContext(ctx, "operator session failed",
			slog.String("error", domain.UserMessage(err)),
		)
		return
	}
	bridge.SetDefaultSession(res.SessionID)
	a.logger.InfoContext(ctx, "operator session open",
		slog.String("session_id", res.SessionID),
		slog.String("login_id", res.LoginID),
		slog.String("balance", res.Balance.Amount.StringFixed(2)),
		slog.String("currency", res.Balance.Currency),
	)
}

// derivDialer adapts the broker client to service.Dialer. A failed connect
// must yield a nil interface, not a typed nil *deriv.Conn.
func derivDialer(c *deriv.Client) service.DialerFunc {
	return func(ctx context.Context, token string) (session.Conn, domain.Account, error) {
		conn, acct, err := c.Connect(ctx, token)
		if err != nil {
			return nil, domain.Account{}, err
		}
		return conn, acct, nil
	}
}
