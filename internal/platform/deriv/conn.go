package deriv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a frame to the broker.
	writeWait = 10 * time.Second

	// DefaultPingInterval is how often an application-level {"ping":1} is
	// sent. The broker drops connections that stay silent for two minutes.
	DefaultPingInterval = 30 * time.Second

	// streamBuffer is the per-subscription frame buffer.
	streamBuffer = 64
)

// waiter is a foreground call awaiting exactly one response frame.
type waiter struct {
	msgType string
	ch      chan frame
}

// Conn is one authorized connection to the broker. Foreground calls
// (proposal, buy, balance) and a single balance subscription share the
// transport; responses are routed by the echoed req_id, falling back to
// msg_type when the broker omits it.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	// pingEvery is the keep-alive period; the read deadline is three of them.
	pingEvery time.Duration

	writeMu sync.Mutex

	mu         sync.Mutex
	nextID     int64
	pending    map[int64]*waiter
	streams    map[int64]chan frame
	subscribed bool
	account    domain.Account

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
	err       error
}

func newConn(ws *websocket.Conn, pingEvery time.Duration, logger *slog.Logger) *Conn {
	if pingEvery <= 0 {
		pingEvery = DefaultPingInterval
	}
	c := &Conn{
		ws:        ws,
		logger:    logger,
		pingEvery: pingEvery,
		pending:   make(map[int64]*waiter),
		streams:   make(map[int64]chan frame),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	ws.SetReadDeadline(time.Now().Add(c.readWait()))
	go c.readLoop()
	go c.pingLoop()
	return c
}

// Account returns what the broker reported on authorize.
func (c *Conn) Account() domain.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// Done is closed once the transport has stopped reading.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close closes the transport. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// authorize sends the token and records the account on success.
func (c *Conn) authorize(ctx context.Context, token string) (domain.Account, error) {
	var resp authorizeResponse
	if err := c.call(ctx, "authorize", &authorizeRequest{Authorize: token}, &resp); err != nil {
		return domain.Account{}, tag(err, domain.ErrAuth)
	}
	acct := domain.Account{
		LoginID: resp.Authorize.LoginID,
		Balance: domain.Balance{
			Amount:   decimal.NewFromFloat(resp.Authorize.Balance),
			Currency: resp.Authorize.Currency,
		},
	}
	c.mu.Lock()
	c.account = acct
	c.mu.Unlock()
	return acct, nil
}

// Balance performs a one-shot balance request.
func (c *Conn) Balance(ctx context.Context) (domain.Balance, error) {
	var resp balanceResponse
	if err := c.call(ctx, "balance", &balanceRequest{Balance: 1, Subscribe: 0}, &resp); err != nil {
		return domain.Balance{}, tag(err, domain.ErrBroker)
	}
	return domain.Balance{
		Amount:   decimal.NewFromFloat(resp.Balance.Balance),
		Currency: resp.Balance.Currency,
	}, nil
}

// Proposal requests a price quote for a contract.
func (c *Conn) Proposal(ctx context.Context, p domain.ContractParams) (domain.Proposal, error) {
	req := &proposalRequest{
		Proposal:     1,
		Amount:       p.Amount.InexactFloat64(),
		Basis:        p.Basis,
		ContractType: p.ContractType,
		Currency:     p.Currency,
		Duration:     p.Duration,
		DurationUnit: p.DurationUnit,
		Symbol:       p.Symbol,
	}
	var resp proposalResponse
	if err := c.call(ctx, "proposal", req, &resp); err != nil {
		return domain.Proposal{}, tag(err, domain.ErrProposal)
	}
	return domain.Proposal{
		ID:       resp.Proposal.ID,
		AskPrice: decimal.NewFromFloat(resp.Proposal.AskPrice),
		Payout:   decimal.NewFromFloat(resp.Proposal.Payout),
		Longcode: resp.Proposal.Longcode,
		Params:   p,
	}, nil
}

// Buy accepts a proposal at the given price.
func (c *Conn) Buy(ctx context.Context, proposalID string, price decimal.Decimal) (domain.Purchase, error) {
	var resp buyResponse
	req := &buyRequest{Buy: proposalID, Price: price.InexactFloat64()}
	if err := c.call(ctx, "buy", req, &resp); err != nil {
		return domain.Purchase{}, tag(err, domain.ErrPurchase)
	}
	p := domain.Purchase{
		ContractID: string(resp.Buy.ContractID),
		BuyPrice:   decimal.NewFromFloat(resp.Buy.BuyPrice),
		Payout:     decimal.NewFromFloat(resp.Buy.Payout),
		Longcode:   resp.Buy.Longcode,
	}
	if resp.Buy.BalanceAfter != nil {
		p.BalanceAfter = decimal.NewFromFloat(*resp.Buy.BalanceAfter)
		p.HasBalance = true
	}
	return p, nil
}

// SubscribeBalance starts the balance subscription and returns a channel
// carrying every frame the broker pushes for it, the initial response
// included. The channel is closed when the transport closes, the broker
// reports an error on the stream, or ctx is cancelled. A connection can be
// subscribed only once.
func (c *Conn) SubscribeBalance(ctx context.Context) (<-chan domain.BalanceUpdate, error) {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil, domain.ErrAlreadySubscribed
	}
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.connErr()
	default:
	}
	c.subscribed = true
	c.nextID++
	id := c.nextID
	st := make(chan frame, streamBuffer)
	c.streams[id] = st
	c.mu.Unlock()

	req := &balanceRequest{Balance: 1, Subscribe: 1}
	req.setReqID(id)
	if err := c.write(req); err != nil {
		c.dropStream(id)
		return nil, err
	}

	out := make(chan domain.BalanceUpdate)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				c.dropStream(id)
				c.forgetBalance()
				return
			case f, ok := <-st:
				if !ok {
					return
				}
				if f.env.Error != nil {
					c.logger.Warn("deriv: balance subscription error",
						slog.String("code", f.env.Error.Code),
						slog.String("error", f.env.Error.Message),
					)
					c.dropStream(id)
					return
				}
				upd, err := decodeBalanceUpdate(f)
				if err != nil {
					c.logger.Debug("deriv: skipping undecodable balance frame",
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- upd:
				case <-ctx.Done():
					c.dropStream(id)
					c.forgetBalance()
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeBalanceUpdate(f frame) (domain.BalanceUpdate, error) {
	var resp balanceResponse
	if err := json.Unmarshal(f.raw, &resp); err != nil {
		return domain.BalanceUpdate{}, err
	}
	upd := domain.BalanceUpdate{
		Balance: domain.Balance{
			Amount:   decimal.NewFromFloat(resp.Balance.Balance),
			Currency: resp.Balance.Currency,
		},
		Raw:        json.RawMessage(f.raw),
		ReceivedAt: time.Now().UTC(),
	}
	if f.env.Subscription != nil {
		upd.SubscriptionID = f.env.Subscription.ID
	}
	return upd, nil
}

// forgetBalance asks the broker to stop pushing balance frames. Best effort.
func (c *Conn) forgetBalance() {
	select {
	case <-c.done:
		return
	default:
	}
	_ = c.write(&forgetAllRequest{ForgetAll: "balance"})
}

func (c *Conn) dropStream(id int64) {
	c.mu.Lock()
	delete(c.streams, id)
	c.mu.Unlock()
}

// call writes req and waits for the matching response, decoding it into out.
// A broker rejection is returned as *domain.BrokerError tagged ErrBroker.
func (c *Conn) call(ctx context.Context, msgType string, req request, out any) error {
	w := &waiter{msgType: msgType, ch: make(chan frame, 1)}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return c.connErr()
	default:
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = w
	c.mu.Unlock()

	req.setReqID(id)
	if err := c.write(req); err != nil {
		c.removePending(id)
		return err
	}

	select {
	case f := <-w.ch:
		if f.env.Error != nil {
			return domain.NewBrokerError(domain.ErrBroker, f.env.Error.Code, f.env.Error.Message)
		}
		if out != nil {
			if err := json.Unmarshal(f.raw, out); err != nil {
				return fmt.Errorf("deriv: decode %s response: %w", msgType, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.removePending(id)
		return fmt.Errorf("%w: %s: %w", domain.ErrConnection, msgType, ctx.Err())
	case <-c.done:
		return c.connErr()
	}
}

func (c *Conn) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) write(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("deriv: marshal request: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write: %w", domain.ErrConnection, err)
	}
	return nil
}

func (c *Conn) connErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, c.err)
	}
	return fmt.Errorf("%w: connection closed", domain.ErrConnection)
}

func (c *Conn) readWait() time.Duration {
	return 3 * c.pingEvery
}

// readLoop owns the read side of the transport. When it exits every pending
// call fails with ErrConnection and every stream channel is closed. done is
// closed under c.mu so no stream can be registered after the sweep.
func (c *Conn) readLoop() {
	defer func() {
		c.mu.Lock()
		for id, st := range c.streams {
			close(st)
			delete(c.streams, id)
		}
		close(c.done)
		c.mu.Unlock()
		_ = c.Close()
	}()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("deriv: connection lost", slog.String("error", err.Error()))
				}
			}
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readWait()))

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Debug("deriv: dropping malformed frame", slog.String("error", err.Error()))
			continue
		}
		c.route(frame{env: env, raw: raw})
	}
}

func (c *Conn) route(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.env.ReqID != 0 {
		if w, ok := c.pending[f.env.ReqID]; ok {
			delete(c.pending, f.env.ReqID)
			w.ch <- f
			return
		}
		if st, ok := c.streams[f.env.ReqID]; ok {
			c.push(st, f)
			return
		}
		// Late answer to a cancelled call, or a forgotten stream.
		c.logger.Debug("deriv: no receiver for frame",
			slog.Int64("req_id", f.env.ReqID),
			slog.String("msg_type", f.env.MsgType),
		)
		return
	}

	// No usable req_id: match a pending call by message type first, then the
	// balance stream.
	for id, w := range c.pending {
		if w.msgType == f.env.MsgType {
			delete(c.pending, id)
			w.ch <- f
			return
		}
	}
	if f.env.MsgType == "balance" {
		for _, st := range c.streams {
			c.push(st, f)
			return
		}
	}
	if f.env.MsgType != "ping" && f.env.MsgType != "forget_all" {
		c.logger.Debug("deriv: unrouted frame", slog.String("msg_type", f.env.MsgType))
	}
}

// push delivers to a stream without blocking the read loop. Caller holds c.mu.
func (c *Conn) push(st chan frame, f frame) {
	select {
	case st <- f:
	default:
		c.logger.Warn("deriv: dropping frame for slow subscriber",
			slog.String("msg_type", f.env.MsgType),
		)
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.closing:
			return
		case <-ticker.C:
			if err := c.write(&pingRequest{Ping: 1}); err != nil {
				return
			}
		}
	}
}

// tag re-labels a generic broker rejection with the operation's kind.
func tag(err error, kind error) error {
	var be *domain.BrokerError
	if errors.As(err, &be) {
		return domain.NewBrokerError(kind, be.Code, be.Message)
	}
	return err
}
