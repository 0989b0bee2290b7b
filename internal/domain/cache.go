package domain

import (
	"context"
	"time"
)

// Channels published on the SignalBus.
const (
	ChannelBalancePrefix = "ch:balance:"
	ChannelTrade         = "ch:trade"
	ChannelSession       = "ch:session"

	// StreamTrades is the durable stream the trade journal appends to.
	StreamTrades = "stream:trades"
)

// BalanceChannel is the bus channel carrying balance updates for one session.
func BalanceChannel(sessionID string) string {
	return ChannelBalancePrefix + sessionID
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out. Channel names ending in '*' subscribe
// to every channel with that prefix.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// EventStream is implemented by buses that also offer a durable,
// append-only stream.
type EventStream interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
