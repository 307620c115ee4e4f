package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CashTicker is the sentinel portfolio row holding free cash. Its quantity
// column is the cash balance in USD; avg_entry_price is always 1.
const CashTicker = "CASH"

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so position reads
// can run standalone or inside the execution transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Position is one portfolio row.
type Position struct {
	Ticker        string
	Quantity      float64
	AvgEntryPrice float64
	LastUpdated   time.Time
}

// PortfolioStore persists portfolio positions and the CASH sentinel row.
type PortfolioStore struct {
	q Querier
}

// NewPortfolioStore creates a portfolio store over a pool or transaction.
func NewPortfolioStore(q Querier) *PortfolioStore {
	return &PortfolioStore{q: q}
}

// EnsureCash seeds the CASH row with the initial balance if it is absent.
// An existing row is never overwritten.
func (s *PortfolioStore) EnsureCash(ctx context.Context, initialUSD float64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO portfolio_state (ticker, quantity, avg_entry_price)
		VALUES ($1, $2, 1)
		ON CONFLICT (ticker) DO NOTHING
	`, CashTicker, initialUSD)
	if err != nil {
		return fmt.Errorf("failed to seed cash row: %w", err)
	}
	return nil
}

// Position returns one row, or nil if the ticker has never been held.
func (s *PortfolioStore) Position(ctx context.Context, q Querier, ticker string) (*Position, error) {
	row := q.QueryRow(ctx, `
		SELECT ticker, quantity, avg_entry_price, last_updated
		FROM portfolio_state WHERE ticker = $1
	`, ticker)
	return scanPosition(row, ticker)
}

// PositionForUpdate reads one row under SELECT ... FOR UPDATE. Must run
// inside a transaction; the row lock serializes concurrent executions on
// the same ticker. Returns nil if the row does not exist.
func (s *PortfolioStore) PositionForUpdate(ctx context.Context, tx pgx.Tx, ticker string) (*Position, error) {
	row := tx.QueryRow(ctx, `
		SELECT ticker, quantity, avg_entry_price, last_updated
		FROM portfolio_state WHERE ticker = $1
		FOR UPDATE
	`, ticker)
	return scanPosition(row, ticker)
}

func scanPosition(row pgx.Row, ticker string) (*Position, error) {
	var p Position
	err := row.Scan(&p.Ticker, &p.Quantity, &p.AvgEntryPrice, &p.LastUpdated)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan position %s: %w", ticker, err)
	}
	return &p, nil
}

// Upsert writes a position row inside the execution transaction. A buy that
// adds to an existing position must pass the already-blended average entry
// price; this method stores exactly what it is given.
func (s *PortfolioStore) Upsert(ctx context.Context, q Querier, ticker string, quantity, avgEntryPrice float64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO portfolio_state (ticker, quantity, avg_entry_price, last_updated)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (ticker)
		DO UPDATE SET quantity = EXCLUDED.quantity,
		              avg_entry_price = EXCLUDED.avg_entry_price,
		              last_updated = NOW()
	`, ticker, quantity, avgEntryPrice)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", ticker, err)
	}
	return nil
}

// Delete removes a fully closed position row.
func (s *PortfolioStore) Delete(ctx context.Context, q Querier, ticker string) error {
	_, err := q.Exec(ctx, `DELETE FROM portfolio_state WHERE ticker = $1`, ticker)
	if err != nil {
		return fmt.Errorf("failed to delete position %s: %w", ticker, err)
	}
	return nil
}

// Positions returns all non-cash holdings with non-zero quantity.
func (s *PortfolioStore) Positions(ctx context.Context) ([]Position, error) {
	rows, err := s.q.Query(ctx, `
		SELECT ticker, quantity, avg_entry_price, last_updated
		FROM portfolio_state
		WHERE ticker <> $1 AND quantity > 0
		ORDER BY ticker
	`, CashTicker)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Ticker, &p.Quantity, &p.AvgEntryPrice, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate position rows: %w", err)
	}
	return positions, nil
}

// Cash returns the current cash balance.
func (s *PortfolioStore) Cash(ctx context.Context, q Querier) (float64, error) {
	p, err := s.Position(ctx, q, CashTicker)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, nil
	}
	return p.Quantity, nil
}
