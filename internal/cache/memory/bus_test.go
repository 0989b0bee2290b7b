package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case b := <-ch:
		return string(b)
	case <-time.After(time.Second):
		t.Fatal("no message")
		return ""
	}
}

func TestBusExactAndPrefix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBus()

	exact, err := b.Subscribe(ctx, "ch:trade")
	require.NoError(t, err)
	prefix, err := b.Subscribe(ctx, "ch:balance:*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "ch:balance:s1", []byte("b1")))
	require.NoError(t, b.Publish(ctx, "ch:trade", []byte("t1")))

	assert.Equal(t, "b1", recv(t, prefix))
	assert.Equal(t, "t1", recv(t, exact))

	select {
	case m := <-exact:
		t.Fatalf("unexpected message %q", m)
	default:
	}
}

func TestBusClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus()
	ch, err := b.Subscribe(ctx, "ch:session")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.NoError(t, b.Publish(context.Background(), "ch:session", []byte("x")))
}
