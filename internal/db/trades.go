package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Trade is one executed paper trade.
type Trade struct {
	ID               int64
	TS               time.Time
	Ticker           string
	Side             string // BUY or SELL
	Quantity         float64
	Price            float64
	Commission       float64
	SignalType       string
	StrategyName     string
	TotalValue       float64
	SentimentAtTrade *float64
}

// TradeStore persists the trade journal.
type TradeStore struct {
	q Querier
}

// NewTradeStore creates a trade store over a pool or transaction.
func NewTradeStore(q Querier) *TradeStore {
	return &TradeStore{q: q}
}

// Insert records one trade. Runs inside the execution transaction so the
// journal entry commits atomically with the position updates.
func (s *TradeStore) Insert(ctx context.Context, q Querier, t Trade) (int64, error) {
	ts := t.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO trade_history
			(ts, ticker, side, quantity, price, commission, signal_type, strategy_name, total_value, sentiment_at_trade)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, ts, t.Ticker, t.Side, t.Quantity, t.Price, t.Commission,
		t.SignalType, t.StrategyName, t.TotalValue, t.SentimentAtTrade,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade: %w", err)
	}
	return id, nil
}

// Recent returns the newest trades, optionally restricted to one ticker.
func (s *TradeStore) Recent(ctx context.Context, ticker string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, ts, ticker, side, quantity, price, commission,
		       signal_type, COALESCE(strategy_name, ''), total_value, sentiment_at_trade
		FROM trade_history
	`
	args := []any{}
	if ticker != "" {
		query += " WHERE ticker = $1 ORDER BY ts DESC LIMIT $2"
		args = append(args, ticker, limit)
	} else {
		query += " ORDER BY ts DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// LastBuyForTicker returns the most recent BUY, used by exit rules to find
// the entry timestamp for timeout exits.
func (s *TradeStore) LastBuyForTicker(ctx context.Context, ticker string) (*Trade, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, ts, ticker, side, quantity, price, commission,
		       signal_type, COALESCE(strategy_name, ''), total_value, sentiment_at_trade
		FROM trade_history
		WHERE ticker = $1 AND side = 'BUY'
		ORDER BY ts DESC
		LIMIT 1
	`, ticker)

	var t Trade
	err := row.Scan(&t.ID, &t.TS, &t.Ticker, &t.Side, &t.Quantity, &t.Price,
		&t.Commission, &t.SignalType, &t.StrategyName, &t.TotalValue, &t.SentimentAtTrade)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last buy for %s: %w", ticker, err)
	}
	return &t, nil
}

func scanTrades(rows pgx.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.TS, &t.Ticker, &t.Side, &t.Quantity, &t.Price,
			&t.Commission, &t.SignalType, &t.StrategyName, &t.TotalValue, &t.SentimentAtTrade); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trade rows: %w", err)
	}
	return trades, nil
}
