package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

func TestRegistryAddGetClose(t *testing.T) {
	r := NewRegistry(0, testLogger())
	s := newTestSession(NewID(), newFakeConn())
	require.NoError(t, r.Add(s))

	got, err := r.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, r.Close(s.ID()))
	_, err = r.Get(s.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, r.Close(s.ID()), domain.ErrNotFound)
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry(0, testLogger())
	require.NoError(t, r.Add(newTestSession("dup", newFakeConn())))
	err := r.Add(newTestSession("dup", newFakeConn()))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryLimit(t *testing.T) {
	r := NewRegistry(1, testLogger())
	require.NoError(t, r.Reserve())
	require.NoError(t, r.Add(newTestSession("a", newFakeConn())))
	assert.ErrorIs(t, r.Reserve(), domain.ErrSessionLimit)
	assert.ErrorIs(t, r.Add(newTestSession("b", newFakeConn())), domain.ErrSessionLimit)
}

func TestSessionRemovedWhenTransportDrops(t *testing.T) {
	r := NewRegistry(0, testLogger())
	conn := newFakeConn()
	s := newTestSession(NewID(), conn)
	require.NoError(t, r.Add(s))
	require.NoError(t, s.Start(context.Background(), nil))

	conn.drop()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not exit after transport drop")
	}
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, domain.SessionClosed, s.State())
}

func TestConcurrentAddsAreIndependent(t *testing.T) {
	r := NewRegistry(0, testLogger())

	const users = 32
	ids := make([]string, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := newTestSession(NewID(), newFakeConn())
			if err := r.Add(s); err != nil {
				t.Errorf("add: %v", err)
				return
			}
			ids[i] = s.ID()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, users, r.Len())
	seen := map[string]bool{}
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, r.List(), users)

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
}

func TestListNeverExposesToken(t *testing.T) {
	r := NewRegistry(0, testLogger())
	require.NoError(t, r.Add(newTestSession("a", newFakeConn())))
	infos := r.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "a", infos[0].ID)
	assert.Equal(t, "CR1", infos[0].LoginID)
	assert.Equal(t, 1000.0, infos[0].Balance)
}
