// Package memory provides an in-process domain.SignalBus used when Redis is
// not configured.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

const subscriberBuffer = 128

type subscriber struct {
	pattern string
	ch      chan []byte
}

func (s *subscriber) matches(channel string) bool {
	if p, ok := strings.CutSuffix(s.pattern, "*"); ok {
		return strings.HasPrefix(channel, p)
	}
	return s.pattern == channel
}

// Bus fans published payloads out to matching subscribers. Slow subscribers
// lose messages rather than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish implements domain.SignalBus.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.matches(channel) {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe implements domain.SignalBus. The channel closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

var _ domain.SignalBus = (*Bus)(nil)
