package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/digitbot/internal/domain"
	"github.com/alanyoungcy/digitbot/internal/session"
)

// Trading modes.
const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

// Dialer opens and authorizes a broker connection.
type Dialer interface {
	Connect(ctx context.Context, token string) (session.Conn, domain.Account, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, token string) (session.Conn, domain.Account, error)

// Connect implements Dialer.
func (f DialerFunc) Connect(ctx context.Context, token string) (session.Conn, domain.Account, error) {
	return f(ctx, token)
}

// BridgeConfig holds the tunables of the request bridge.
type BridgeConfig struct {
	Mode           string
	Symbol         string
	DefaultStake   decimal.Decimal
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	TradeLockTTL   time.Duration
}

// ConnectResult is returned by DoConnect.
type ConnectResult struct {
	SessionID string
	LoginID   string
	Balance   domain.Balance
}

// TradeRequest is the input of DoTrade. A nil Amount means the default stake.
type TradeRequest struct {
	SessionID string
	Signal    string
	Amount    *decimal.Decimal
}

// Bridge turns each synchronous HTTP request into a bounded broker
// operation, or into a supervised session whose listener runs under the
// process root context. No transport it opens outlives an error return.
type Bridge struct {
	root      context.Context
	cfg       BridgeConfig
	registry  *session.Registry
	dialer    Dialer
	live      TradeExecutor
	sim       *SimulatedExecutor
	estimator SignalEstimator
	journal   *Journal
	locks     domain.LockManager
	bus       domain.SignalBus
	logger    *slog.Logger

	balances singleflight.Group

	mu        sync.RWMutex
	defaultID string
}

// NewBridge creates a Bridge. root bounds every session listener it starts.
func NewBridge(
	root context.Context,
	cfg BridgeConfig,
	registry *session.Registry,
	dialer Dialer,
	live TradeExecutor,
	sim *SimulatedExecutor,
	estimator SignalEstimator,
	journal *Journal,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Bridge {
	if cfg.Mode == "" {
		cfg.Mode = ModeLive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.TradeLockTTL <= 0 {
		cfg.TradeLockTTL = 30 * time.Second
	}
	return &Bridge{
		root:      root,
		cfg:       cfg,
		registry:  registry,
		dialer:    dialer,
		live:      live,
		sim:       sim,
		estimator: estimator,
		journal:   journal,
		bus:       bus,
		logger:    logger.With(slog.String("component", "bridge")),
	}
}

// WithLocks serializes trades per session through a distributed lock.
func (b *Bridge) WithLocks(lm domain.LockManager) *Bridge {
	b.locks = lm
	return b
}

// Mode returns the trading mode.
func (b *Bridge) Mode() string { return b.cfg.Mode }

// SetDefaultSession names the session used by requests that carry none,
// normally the operator session opened at startup.
func (b *Bridge) SetDefaultSession(id string) {
	b.mu.Lock()
	b.defaultID = id
	b.mu.Unlock()
}

// DoConnect authorizes token, registers a session and starts its balance
// listener. It returns once the session is live.
func (b *Bridge) DoConnect(ctx context.Context, token string) (ConnectResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ConnectResult{}, domain.Invalid("No token provided")
	}
	if err := b.registry.Reserve(); err != nil {
		return ConnectResult{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()

	conn, acct, err := b.dialer.Connect(cctx, token)
	if err != nil {
		return ConnectResult{}, err
	}

	s := session.New(session.NewID(), token, conn, acct, b.logger)
	if err := b.registry.Add(s); err != nil {
		_ = s.Close()
		return ConnectResult{}, err
	}
	if err := s.Start(b.root, b.onBalance); err != nil {
		_ = s.Close()
		return ConnectResult{}, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	// Only a started session is journaled, opened before closed.
	info := s.Info()
	if b.journal != nil {
		b.journal.SessionOpened(ctx, info)
		s.OnClose(func(s *session.Session) { b.journal.SessionClosed(s.Info()) })
	}
	b.logger.InfoContext(ctx, "session connected",
		slog.String("session_id", s.ID()),
		slog.String("login_id", info.LoginID),
	)

	return ConnectResult{
		SessionID: s.ID(),
		LoginID:   info.LoginID,
		Balance:   s.Balance(),
	}, nil
}

// DoAnalyze returns the estimator's recommendation. In live mode it answers
// WAIT until a session is connected.
func (b *Bridge) DoAnalyze(ctx context.Context, sessionID string) (domain.Estimate, error) {
	if b.cfg.Mode == ModeLive {
		if _, err := b.resolve(sessionID); err != nil {
			return domain.Estimate{
				Signal:     domain.SignalWait,
				Confidence: 0,
				Reason:     "Not connected to Deriv",
			}, nil
		}
	}
	est, err := b.estimator.Estimate(ctx)
	if err != nil {
		return domain.Estimate{}, fmt.Errorf("bridge: estimate: %w", err)
	}
	return est, nil
}

// DoTrade places one trade. In simulated mode no session is needed and a
// missing signal means EVEN; in live mode the trade runs on the caller's
// session.
func (b *Bridge) DoTrade(ctx context.Context, req TradeRequest) (domain.Purchase, error) {
	stake := b.cfg.DefaultStake
	if req.Amount != nil {
		stake = *req.Amount
	}

	if b.cfg.Mode == ModeSimulated {
		sig := req.Signal
		if strings.TrimSpace(sig) == "" {
			sig = string(domain.DirectionEven)
		}
		dir, err := domain.ParseDirection(sig)
		if err != nil {
			return domain.Purchase{}, err
		}
		p, err := b.sim.ProposeAndBuy(ctx, nil, b.cfg.Symbol, dir, stake)
		if err != nil {
			return domain.Purchase{}, err
		}
		b.record(ctx, req.SessionID, stake, p)
		return p, nil
	}

	s, err := b.resolve(req.SessionID)
	if err != nil {
		return domain.Purchase{}, err
	}
	dir, err := domain.ParseDirection(req.Signal)
	if err != nil {
		return domain.Purchase{}, err
	}
	if err := ValidateOrder(dir, stake); err != nil {
		return domain.Purchase{}, err
	}

	if b.locks != nil {
		unlock, err := b.locks.Acquire(ctx, "trade:"+s.ID(), b.cfg.TradeLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return domain.Purchase{}, &domain.ValidationError{Kind: domain.ErrLockHeld, Message: "A trade is already in progress"}
			}
			return domain.Purchase{}, fmt.Errorf("bridge: trade lock: %w", err)
		}
		defer unlock()
	}

	cctx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	p, err := b.live.ProposeAndBuy(cctx, s, b.cfg.Symbol, dir, stake)
	if err != nil {
		return domain.Purchase{}, err
	}
	if p.HasBalance {
		s.SetBalance(domain.Balance{Amount: p.BalanceAfter})
	}
	b.record(ctx, s.ID(), stake, p)
	return p, nil
}

// DoGetBalance authorizes token on a short-lived connection and reads the
// balance once. Concurrent requests for the same token share one
// connection. In simulated mode it reports the simulated balance.
func (b *Bridge) DoGetBalance(ctx context.Context, token string) (domain.Balance, error) {
	if b.cfg.Mode == ModeSimulated {
		return b.sim.Balance(), nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Balance{}, domain.Invalid("No token provided")
	}

	// The shared read runs under root so one caller giving up does not fail
	// the others; each caller still returns when its own ctx ends.
	sum := sha256.Sum256([]byte(token))
	ch := b.balances.DoChan(hex.EncodeToString(sum[:]), func() (any, error) {
		cctx, cancel := context.WithTimeout(b.root, b.cfg.ConnectTimeout+b.cfg.CallTimeout)
		defer cancel()

		conn, _, err := b.dialer.Connect(cctx, token)
		if err != nil {
			return domain.Balance{}, err
		}
		defer conn.Close()

		bal, err := conn.Balance(cctx)
		if err != nil {
			return domain.Balance{}, err
		}
		return bal, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Balance{}, res.Err
		}
		return res.Val.(domain.Balance), nil
	case <-ctx.Done():
		return domain.Balance{}, fmt.Errorf("%w: balance: %w", domain.ErrConnection, ctx.Err())
	}
}

// DoDisconnect tears down a session.
func (b *Bridge) DoDisconnect(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.NotConnected()
	}
	if err := b.registry.Close(sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotConnected()
		}
		return err
	}
	b.mu.Lock()
	if b.defaultID == sessionID {
		b.defaultID = ""
	}
	b.mu.Unlock()
	return nil
}

// Sessions lists the live sessions.
func (b *Bridge) Sessions() []domain.SessionInfo {
	return b.registry.List()
}

// Trades returns recently journaled trades.
func (b *Bridge) Trades(ctx context.Context, sessionID string, limit int) ([]domain.TradeRecord, error) {
	if b.journal == nil {
		return nil, fmt.Errorf("%w: trade journal", domain.ErrUnavailable)
	}
	return b.journal.Recent(ctx, sessionID, limit)
}

// Audit returns recent session and trade lifecycle events.
func (b *Bridge) Audit(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error) {
	if b.journal == nil {
		return nil, fmt.Errorf("%w: audit log", domain.ErrUnavailable)
	}
	return b.journal.Audit(ctx, sessionID, limit)
}

func (b *Bridge) resolve(sessionID string) (*session.Session, error) {
	if sessionID == "" {
		b.mu.RLock()
		sessionID = b.defaultID
		b.mu.RUnlock()
	}
	if sessionID == "" {
		return nil, domain.NotConnected()
	}
	s, err := b.registry.Get(sessionID)
	if err != nil {
		return nil, domain.NotConnected()
	}
	if s.State() != domain.SessionAuthorized {
		return nil, domain.NotConnected()
	}
	return s, nil
}

func (b *Bridge) record(ctx context.Context, sessionID string, stake decimal.Decimal, p domain.Purchase) {
	if b.journal == nil {
		return
	}
	b.journal.RecordTrade(ctx, domain.TradeRecord{
		SessionID:  sessionID,
		ContractID: p.ContractID,
		Symbol:     b.cfg.Symbol,
		Direction:  p.Direction,
		Stake:      stake,
		BuyPrice:   p.BuyPrice,
		Payout:     p.Payout,
		Simulated:  p.Simulated,
		Settled:    p.Settled,
		Won:        p.Won,
		Profit:     p.Profit,
	})
}

// onBalance forwards a session's balance updates to the bus.
func (b *Bridge) onBalance(s *session.Session, upd domain.BalanceUpdate) {
	if b.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":       "balance",
		"session_id":  s.ID(),
		"balance":     upd.Balance.Amount.InexactFloat64(),
		"currency":    upd.Balance.Currency,
		"received_at": upd.ReceivedAt,
	})
	if err := b.bus.Publish(b.root, domain.BalanceChannel(s.ID()), payload); err != nil {
		b.logger.Warn("bridge: publish balance failed",
			slog.String("session_id", s.ID()),
			slog.String("error", err.Error()),
		)
	}
}
