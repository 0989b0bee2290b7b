package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists the trade journal.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) (int64, error)
	ListBySession(ctx context.Context, sessionID string, opts ListOpts) ([]TradeRecord, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
}

// AuditEntry is one session or trade lifecycle event. Detail carries the
// session_id of the session it concerns.
type AuditEntry struct {
	ID        int64          `json:"id,omitempty"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// SessionID returns the session named in Detail, if any.
func (e AuditEntry) SessionID() string {
	id, _ := e.Detail["session_id"].(string)
	return id
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns entries newest first; an empty sessionID means all.
	List(ctx context.Context, sessionID string, opts ListOpts) ([]AuditEntry, error)
}
