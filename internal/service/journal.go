package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

const (
	recentTradesKept = 500
	recentAuditKept  = 500
	archiveTimeout   = 30 * time.Second

	// Archives at least this large go up as multipart uploads.
	multipartThreshold = 8 << 20
)

// Notifier delivers operator alerts. *notify.Notifier implements it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Journal records what happens to sessions and trades: it persists trades,
// writes the audit log, fans events out on the signal bus, alerts the
// operator and archives a session's trades when the session ends. Every
// backend except the bus is optional.
type Journal struct {
	bus      domain.SignalBus
	trades   domain.TradeStore
	audit    domain.AuditStore
	notifier Notifier
	blobs    domain.BlobWriter
	prefix   string
	logger   *slog.Logger

	mu     sync.Mutex
	recent []domain.TradeRecord
	events []domain.AuditEntry
}

// NewJournal creates a Journal that publishes on bus.
func NewJournal(bus domain.SignalBus, logger *slog.Logger) *Journal {
	return &Journal{
		bus:    bus,
		logger: logger.With(slog.String("component", "journal")),
	}
}

// WithStores attaches the trade and audit stores.
func (j *Journal) WithStores(trades domain.TradeStore, audit domain.AuditStore) *Journal {
	j.trades = trades
	j.audit = audit
	return j
}

// WithNotifier attaches an operator notifier.
func (j *Journal) WithNotifier(n Notifier) *Journal {
	j.notifier = n
	return j
}

// WithArchive uploads each closed session's trades under prefix.
func (j *Journal) WithArchive(blobs domain.BlobWriter, prefix string) *Journal {
	j.blobs = blobs
	j.prefix = prefix
	return j
}

// RecordTrade journals a completed purchase. Failures of individual
// backends are logged; the trade has already happened and is not undone.
func (j *Journal) RecordTrade(ctx context.Context, rec domain.TradeRecord) domain.TradeRecord {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if j.trades != nil {
		id, err := j.trades.Insert(ctx, rec)
		if err != nil {
			j.logger.WarnContext(ctx, "journal: insert trade failed",
				slog.String("contract_id", rec.ContractID),
				slog.String("error", err.Error()),
			)
		} else {
			rec.ID = id
		}
	}

	j.mu.Lock()
	j.recent = append(j.recent, rec)
	if over := len(j.recent) - recentTradesKept; over > 0 {
		j.recent = append(j.recent[:0:0], j.recent[over:]...)
	}
	j.mu.Unlock()

	payload, _ := json.Marshal(map[string]any{
		"event": "trade",
		"trade": rec,
	})
	j.publish(ctx, domain.ChannelTrade, payload)
	if es, ok := j.bus.(domain.EventStream); ok {
		if err := es.StreamAppend(ctx, domain.StreamTrades, payload); err != nil {
			j.logger.WarnContext(ctx, "journal: stream append failed",
				slog.String("error", err.Error()),
			)
		}
	}

	j.auditLog(ctx, "trade_executed", map[string]any{
		"session_id":  rec.SessionID,
		"contract_id": rec.ContractID,
		"direction":   rec.Direction,
		"stake":       rec.Stake.String(),
		"simulated":   rec.Simulated,
	})

	var msg string
	if rec.Settled {
		msg = fmt.Sprintf("%s %s stake %s profit %s", rec.Symbol, rec.Direction, rec.Stake.StringFixed(2), rec.Profit.StringFixed(2))
	} else {
		msg = fmt.Sprintf("%s %s stake %s contract %s", rec.Symbol, rec.Direction, rec.Stake.StringFixed(2), rec.ContractID)
	}
	j.notify(ctx, "trade", "Trade executed", msg)

	return rec
}

// SessionOpened journals a new session.
func (j *Journal) SessionOpened(ctx context.Context, info domain.SessionInfo) {
	j.sessionEvent(ctx, "session_opened", info)
	j.notify(ctx, "session", "Session opened", fmt.Sprintf("%s (%s) balance %.2f %s", info.ID, info.LoginID, info.Balance, info.Currency))
}

// SessionClosed journals the end of a session and archives its trades.
// It runs from the session's close hook, so it uses its own deadline.
func (j *Journal) SessionClosed(info domain.SessionInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	j.sessionEvent(ctx, "session_closed", info)
	j.notify(ctx, "session", "Session closed", info.ID)

	if j.blobs == nil {
		return
	}
	if err := j.archive(ctx, info); err != nil {
		j.logger.WarnContext(ctx, "journal: archive failed",
			slog.String("session_id", info.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns recent trades, newest first. An empty sessionID means all
// sessions.
func (j *Journal) Recent(ctx context.Context, sessionID string, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if j.trades != nil {
		opts := domain.ListOpts{Limit: limit}
		var (
			recs []domain.TradeRecord
			err  error
		)
		if sessionID != "" {
			recs, err = j.trades.ListBySession(ctx, sessionID, opts)
		} else {
			recs, err = j.trades.ListRecent(ctx, opts)
		}
		if err != nil {
			return nil, fmt.Errorf("journal: list trades: %w", err)
		}
		return recs, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.TradeRecord, 0, limit)
	for i := len(j.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID == "" || j.recent[i].SessionID == sessionID {
			out = append(out, j.recent[i])
		}
	}
	return out, nil
}

func (j *Journal) archive(ctx context.Context, info domain.SessionInfo) error {
	recs, err := j.Recent(ctx, info.ID, recentTradesKept)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := len(recs) - 1; i >= 0; i-- {
		if err := enc.Encode(recs[i]); err != nil {
			return fmt.Errorf("journal: encode trade: %w", err)
		}
	}

	key := archiveKey(j.prefix, info)
	size := buf.Len()
	if size >= multipartThreshold {
		err = j.blobs.PutMultipart(ctx, key, &buf, multipartThreshold)
	} else {
		err = j.blobs.Put(ctx, key, &buf, "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("journal: upload %s: %w", key, err)
	}
	j.logger.InfoContext(ctx, "journal: session archived",
		slog.String("session_id", info.ID),
		slog.String("key", key),
		slog.Int("trades", len(recs)),
	)
	return nil
}

func archiveKey(prefix string, info domain.SessionInfo) string {
	day := info.CreatedAt.UTC().Format("2006/01/02")
	return path.Join(prefix, day, info.ID+".jsonl")
}

func (j *Journal) sessionEvent(ctx context.Context, event string, info domain.SessionInfo) {
	payload, _ := json.Marshal(map[string]any{
		"event":   event,
		"session": info,
	})
	j.publish(ctx, domain.ChannelSession, payload)
	j.auditLog(ctx, event, map[string]any{
		"session_id": info.ID,
		"login_id":   info.LoginID,
	})
}

func (j *Journal) publish(ctx context.Context, channel string, payload []byte) {
	if j.bus == nil {
		return
	}
	if err := j.bus.Publish(ctx, channel, payload); err != nil {
		j.logger.WarnContext(ctx, "journal: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// Audit returns recent lifecycle events, newest first. An empty sessionID
// means all sessions. Without an audit store it reads the in-memory ring.
func (j *Journal) Audit(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if j.audit != nil {
		entries, err := j.audit.List(ctx, sessionID, domain.ListOpts{Limit: limit})
		if err != nil {
			return nil, fmt.Errorf("journal: list audit: %w", err)
		}
		return entries, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.AuditEntry, 0, min(limit, len(j.events)))
	for i := len(j.events) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID == "" || j.events[i].SessionID() == sessionID {
			out = append(out, j.events[i])
		}
	}
	return out, nil
}

func (j *Journal) auditLog(ctx context.Context, event string, detail map[string]any) {
	if j.audit == nil {
		j.mu.Lock()
		j.events = append(j.events, domain.AuditEntry{
			Event:     event,
			Detail:    detail,
			CreatedAt: time.Now().UTC(),
		})
		if over := len(j.events) - recentAuditKept; over > 0 {
			j.events = append(j.events[:0:0], j.events[over:]...)
		}
		j.mu.Unlock()
		return
	}
	if err := j.audit.Log(ctx, event, detail); err != nil {
		j.logger.WarnContext(ctx, "journal: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (j *Journal) notify(ctx context.Context, event, title, msg string) {
	if j.notifier == nil {
		return
	}
	if err := j.notifier.Notify(ctx, event, title, msg); err != nil {
		j.logger.WarnContext(ctx, "journal: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
