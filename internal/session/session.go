// Package session owns authenticated broker sessions: the connection handle,
// its supervised balance listener, and the process-wide registry that maps
// session ids to sessions.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

// Conn is the broker connection a session owns. *deriv.Conn implements it.
type Conn interface {
	Proposal(ctx context.Context, p domain.ContractParams) (domain.Proposal, error)
	Buy(ctx context.Context, proposalID string, price decimal.Decimal) (domain.Purchase, error)
	Balance(ctx context.Context) (domain.Balance, error)
	SubscribeBalance(ctx context.Context) (<-chan domain.BalanceUpdate, error)
	Close() error
}

// Token is a broker API token. It never prints its value.
type Token string

func (Token) String() string { return "***" }

// LogValue implements slog.LogValuer.
func (Token) LogValue() slog.Value { return slog.StringValue("***") }

// BalanceSink receives every balance update a session's listener sees.
type BalanceSink func(s *Session, upd domain.BalanceUpdate)

// Session is one authenticated connection to the broker.
type Session struct {
	id        string
	token     Token
	conn      Conn
	createdAt time.Time
	logger    *slog.Logger

	// callMu serializes foreground broker calls on this session.
	callMu sync.Mutex

	mu      sync.RWMutex
	state   domain.SessionState
	loginID string
	balance domain.Balance

	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	closeOnce sync.Once
	closeErr  error
	onClose   []func(*Session)
}

// New wraps an authorized connection. The session is not registered and has
// no listener until Registry.Add and Start are called.
func New(id string, token string, conn Conn, acct domain.Account, logger *slog.Logger) *Session {
	return &Session{
		id:        id,
		token:     Token(token),
		conn:      conn,
		createdAt: time.Now().UTC(),
		logger:    logger.With(slog.String("session_id", id)),
		state:     domain.SessionAuthorized,
		loginID:   acct.LoginID,
		balance:   acct.Balance,
		done:      make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current authorization state.
func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Balance returns the last known balance.
func (s *Session) Balance() domain.Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// SetBalance records a new balance, e.g. the balance_after of a purchase.
func (s *Session) SetBalance(b domain.Balance) {
	s.mu.Lock()
	if b.Currency == "" {
		b.Currency = s.balance.Currency
	}
	s.balance = b
	s.mu.Unlock()
}

// Info returns the token-free public view of the session.
func (s *Session) Info() domain.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SessionInfo{
		ID:        s.id,
		LoginID:   s.loginID,
		State:     s.state,
		Balance:   s.balance.Amount.InexactFloat64(),
		Currency:  s.balance.Currency,
		CreatedAt: s.createdAt,
	}
}

// Done is closed when the session has been torn down and its listener, if
// any, has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Proposal forwards to the connection, serialized with other foreground calls.
func (s *Session) Proposal(ctx context.Context, p domain.ContractParams) (domain.Proposal, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	if err := s.usable(); err != nil {
		return domain.Proposal{}, err
	}
	return s.conn.Proposal(ctx, p)
}

// Buy forwards to the connection, serialized with other foreground calls.
func (s *Session) Buy(ctx context.Context, proposalID string, price decimal.Decimal) (domain.Purchase, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	if err := s.usable(); err != nil {
		return domain.Purchase{}, err
	}
	return s.conn.Buy(ctx, proposalID, price)
}

func (s *Session) usable() error {
	if st := s.State(); st != domain.SessionAuthorized {
		return fmt.Errorf("%w: session %s is %s", domain.ErrNotConnected, s.id, st)
	}
	return nil
}

// Start subscribes to balance updates and runs the listener in a goroutine
// bound to parent. The listener updates the cached balance, forwards each
// update to sink, and tears the session down when the stream ends.
func (s *Session) Start(parent context.Context, sink BalanceSink) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return domain.ErrAlreadySubscribed
	}
	if s.state != domain.SessionAuthorized {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", domain.ErrNotConnected, s.id, s.state)
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	updates, err := s.conn.SubscribeBalance(ctx)
	if err != nil {
		cancel()
		s.mu.Lock()
		s.state = domain.SessionFailed
		s.mu.Unlock()
		close(s.done)
		return fmt.Errorf("session: subscribe balance: %w", err)
	}

	go s.listen(ctx, updates, sink)
	return nil
}

func (s *Session) listen(ctx context.Context, updates <-chan domain.BalanceUpdate, sink BalanceSink) {
	defer close(s.done)
	defer s.shutdown()

	s.logger.Debug("session: listener started")
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				s.logger.Info("session: balance stream ended")
				return
			}
			s.SetBalance(upd.Balance)
			if sink != nil {
				sink(s, upd)
			}
		}
	}
}

// OnClose registers fn to run once when the session is torn down. If the
// session is already closed fn runs immediately.
func (s *Session) OnClose(fn func(*Session)) {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		fn(s)
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Close tears the session down: it cancels the listener, closes the
// transport, runs the OnClose hooks and waits for the listener to exit.
// It is idempotent.
func (s *Session) Close() error {
	s.shutdown()
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if started {
		<-s.done
	}
	return s.closeErr
}

// shutdown performs the teardown without waiting for the listener, so the
// listener itself can call it.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.state = domain.SessionClosed
		hooks := s.onClose
		s.onClose = nil
		if !s.started {
			close(s.done)
		}
		s.mu.Unlock()

		s.closeErr = s.conn.Close()
		for _, fn := range hooks {
			fn(s)
		}
		s.logger.Info("session: closed")
	})
}
