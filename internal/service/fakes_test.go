package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/digitbot/internal/domain"
	"github.com/alanyoungcy/digitbot/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedSource makes rand.Float64 return v/(1<<63) on every draw.
type fixedSource int64

func (s fixedSource) Int63() int64 { return int64(s) }
func (fixedSource) Seed(int64)     {}

const (
	winSource  = fixedSource(0)       // Float64() == 0.0
	lossSource = fixedSource(1 << 62) // Float64() == 0.5
)

// fakeBroker records proposal and buy calls.
type fakeBroker struct {
	proposals atomic.Int32
	buys      atomic.Int32

	propErr error
	buyErr  error
	lastReq domain.ContractParams
	mu      sync.Mutex
}

func (b *fakeBroker) Proposal(_ context.Context, p domain.ContractParams) (domain.Proposal, error) {
	b.proposals.Add(1)
	b.mu.Lock()
	b.lastReq = p
	b.mu.Unlock()
	if b.propErr != nil {
		return domain.Proposal{}, b.propErr
	}
	return domain.Proposal{ID: "prop-1", AskPrice: p.Amount, Payout: p.Amount.Mul(decimal.NewFromFloat(1.95))}, nil
}

func (b *fakeBroker) Buy(_ context.Context, id string, price decimal.Decimal) (domain.Purchase, error) {
	b.buys.Add(1)
	if b.buyErr != nil {
		return domain.Purchase{}, b.buyErr
	}
	return domain.Purchase{
		ContractID:   "123456",
		BuyPrice:     price,
		BalanceAfter: decimal.NewFromInt(1000).Sub(price),
		HasBalance:   true,
	}, nil
}

func (b *fakeBroker) calls() int {
	return int(b.proposals.Load() + b.buys.Load())
}

// fakeConn is a session.Conn backed by a fakeBroker.
type fakeConn struct {
	*fakeBroker
	updates   chan domain.BalanceUpdate
	subErr    error
	closed    atomic.Int32
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{fakeBroker: &fakeBroker{}, updates: make(chan domain.BalanceUpdate, 4)}
}

func (c *fakeConn) Balance(context.Context) (domain.Balance, error) {
	return domain.Balance{Amount: decimal.NewFromInt(1000), Currency: "USD"}, nil
}

func (c *fakeConn) SubscribeBalance(context.Context) (<-chan domain.BalanceUpdate, error) {
	if c.subErr != nil {
		return nil, c.subErr
	}
	return c.updates, nil
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	c.closeOnce.Do(func() { close(c.updates) })
	return nil
}

// fakeDialer hands out fakeConns and counts dials.
type fakeDialer struct {
	mu     sync.Mutex
	dials  int
	conns  []*fakeConn
	err    error
	subErr error
	delay  time.Duration
}

func (d *fakeDialer) Connect(ctx context.Context, token string) (session.Conn, domain.Account, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, domain.Account{}, d.err
	}
	c := newFakeConn()
	c.subErr = d.subErr
	d.conns = append(d.conns, c)
	return c, domain.Account{
		LoginID: "CR" + token,
		Balance: domain.Balance{Amount: decimal.NewFromInt(1000), Currency: "USD"},
	}, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recordingBus is an in-memory domain.SignalBus that keeps every publish.
type recordingBus struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{msgs: map[string][][]byte{}}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	b.msgs[channel] = append(b.msgs[channel], payload)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recordingBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs[channel])
}

// memBlobs is an in-memory domain.BlobWriter.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, key string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = b
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, key string, data io.Reader, _ int64) error {
	return m.Put(ctx, key, data, "")
}
