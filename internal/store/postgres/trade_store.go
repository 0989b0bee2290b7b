package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/digitbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, session_id, contract_id, symbol, direction,
	stake, buy_price, payout, simulated, settled, won, profit, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.ContractID, &t.Symbol, &t.Direction,
			&t.Stake, &t.BuyPrice, &t.Payout,
			&t.Simulated, &t.Settled, &t.Won, &t.Profit, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Insert stores one trade and returns its id. Re-inserting a contract id
// returns the existing row's id.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeRecord) (int64, error) {
	const query = `
		INSERT INTO trades (
			session_id, contract_id, symbol, direction,
			stake, buy_price, payout,
			simulated, settled, won, profit, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (contract_id) DO UPDATE SET contract_id = EXCLUDED.contract_id
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		t.SessionID, t.ContractID, t.Symbol, string(t.Direction),
		t.Stake, t.BuyPrice, t.Payout,
		t.Simulated, t.Settled, t.Won, t.Profit, t.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert trade %s: %w", t.ContractID, err)
	}
	return id, nil
}

// ListBySession returns a session's trades, newest first.
func (s *TradeStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := listTradesQuery(sessionID, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return out, nil
}

// ListRecent returns trades across all sessions, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := listTradesQuery("", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return out, nil
}

func listTradesQuery(sessionID string, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`
	args := []any{}
	argIdx := 1

	if sessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, sessionID)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

var _ domain.TradeStore = (*TradeStore)(nil)
