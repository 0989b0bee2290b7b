package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Session and
// trade lifecycle events land here as JSONB detail rows keyed by the
// session_id they carry.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first. A non-empty sessionID keeps only
// the entries whose detail names that session.
func (s *AuditStore) List(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := listAuditQuery(sessionID, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	out, err := scanAuditRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries: %w", err)
	}
	return out, nil
}

func listAuditQuery(sessionID string, opts domain.ListOpts) (string, []any) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	args := []any{}
	n := 1

	if sessionID != "" {
		query += fmt.Sprintf(" AND detail->>'session_id' = $%d", n)
		args = append(args, sessionID)
		n++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", n)
		args = append(args, *opts.Since)
		n++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", n)
		args = append(args, *opts.Until)
		n++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, opts.Limit)
		n++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, opts.Offset)
	}
	return query, args
}

func scanAuditRows(rows pgx.Rows) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal detail of entry %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.AuditStore = (*AuditStore)(nil)
