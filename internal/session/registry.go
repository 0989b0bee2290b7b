package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

// Registry maps session ids to live sessions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
	logger   *slog.Logger
}

// NewRegistry creates a Registry. max caps concurrently open sessions; zero
// means unlimited.
func NewRegistry(max int, logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		max:      max,
		logger:   logger.With(slog.String("component", "session_registry")),
	}
}

// NewID returns a fresh random session identifier.
func NewID() string {
	return uuid.NewString()
}

// Reserve reports whether one more session may be opened. It lets callers
// fail before dialing the broker; Add enforces the limit again.
func (r *Registry) Reserve() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.max > 0 && len(r.sessions) >= r.max {
		return domain.ErrSessionLimit
	}
	return nil
}

// Add registers s. The session removes itself from the registry when it is
// closed, whether explicitly or because its transport dropped.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	if _, ok := r.sessions[s.ID()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.ID(), domain.ErrAlreadyExists)
	}
	if r.max > 0 && len(r.sessions) >= r.max {
		r.mu.Unlock()
		return domain.ErrSessionLimit
	}
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	s.OnClose(func(s *Session) { r.remove(s) })
	r.logger.Info("session registered",
		slog.String("session_id", s.ID()),
		slog.Int("total_sessions", n),
	)
	return nil
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

// Close tears down the session with the given id.
func (r *Registry) Close(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Close()
}

// remove deletes s only if it is still the registered session for its id.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.ID()]; ok && cur == s {
		delete(r.sessions, s.ID())
	}
	n := len(r.sessions)
	r.mu.Unlock()
	r.logger.Info("session removed",
		slog.String("session_id", s.ID()),
		slog.Int("total_sessions", n),
	)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the public view of every live session, oldest first.
func (r *Registry) List() []domain.SessionInfo {
	r.mu.RLock()
	out := make([]domain.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CloseAll tears down every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Close()
		}(s)
	}
	wg.Wait()
}
