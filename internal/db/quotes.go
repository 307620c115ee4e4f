package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Quote is one daily OHLC-reduced bar with derived indicators.
// SMA5, Volatility5 and RSI are nil until the indicator pass fills them.
type Quote struct {
	ID          int64
	Date        time.Time
	Ticker      string
	Close       float64
	Volume      int64
	SMA5        *float64
	Volatility5 *float64
	RSI         *float64
}

// QuoteStore persists daily bars and their indicator columns.
type QuoteStore struct {
	q Querier
}

// NewQuoteStore creates a quote store over a pool or transaction.
func NewQuoteStore(q Querier) *QuoteStore {
	return &QuoteStore{q: q}
}

// UpsertBar inserts or refreshes the bar for (date, ticker). Close and volume
// are overwritten on conflict; indicator columns are left untouched so a
// subsequent recompute pass can fill them.
func (s *QuoteStore) UpsertBar(ctx context.Context, q Quote) error {
	query := `
		INSERT INTO quotes (date, ticker, close, volume)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, ticker)
		DO UPDATE SET close = EXCLUDED.close, volume = EXCLUDED.volume
	`
	_, err := s.q.Exec(ctx, query, q.Date, q.Ticker, q.Close, q.Volume)
	if err != nil {
		return fmt.Errorf("failed to upsert quote %s %s: %w", q.Ticker, q.Date.Format("2006-01-02"), err)
	}
	return nil
}

// UpdateIndicators writes the derived columns for one (date, ticker) row.
func (s *QuoteStore) UpdateIndicators(ctx context.Context, date time.Time, ticker string, sma5, vol5, rsi *float64) error {
	query := `
		UPDATE quotes
		SET sma_5 = $3, volatility_5 = $4, rsi = $5
		WHERE date = $1 AND ticker = $2
	`
	tag, err := s.q.Exec(ctx, query, date, ticker, sma5, vol5, rsi)
	if err != nil {
		return fmt.Errorf("failed to update indicators for %s: %w", ticker, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no quote row for %s on %s", ticker, date.Format("2006-01-02"))
	}
	return nil
}

// UpdateRSI overwrites only the RSI column, used when a provider supplies
// authoritative RSI values after the local computation.
func (s *QuoteStore) UpdateRSI(ctx context.Context, date time.Time, ticker string, rsi float64) error {
	query := `UPDATE quotes SET rsi = $3 WHERE date = $1 AND ticker = $2`
	_, err := s.q.Exec(ctx, query, date, ticker, rsi)
	if err != nil {
		return fmt.Errorf("failed to update rsi for %s: %w", ticker, err)
	}
	return nil
}

// History returns bars for a ticker in ascending date order, at most limit
// rows counted back from the most recent bar. limit <= 0 returns everything.
func (s *QuoteStore) History(ctx context.Context, ticker string, limit int) ([]Quote, error) {
	query := `
		SELECT id, date, ticker, close, volume, sma_5, volatility_5, rsi
		FROM quotes
		WHERE ticker = $1
		ORDER BY date DESC
	`
	args := []any{ticker}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote history for %s: %w", ticker, err)
	}
	defer rows.Close()

	quotes, err := scanQuotes(rows)
	if err != nil {
		return nil, err
	}
	// Flip to ascending so callers can feed indicator windows directly.
	for i, j := 0, len(quotes)-1; i < j; i, j = i+1, j-1 {
		quotes[i], quotes[j] = quotes[j], quotes[i]
	}
	return quotes, nil
}

// HistoryAsOf returns bars with date <= asOf in ascending order, at most
// limit rows counted back from asOf. Replay reads go through here so a
// rewound clock never sees later bars.
func (s *QuoteStore) HistoryAsOf(ctx context.Context, ticker string, asOf time.Time, limit int) ([]Quote, error) {
	query := `
		SELECT id, date, ticker, close, volume, sma_5, volatility_5, rsi
		FROM quotes
		WHERE ticker = $1 AND date <= $2
		ORDER BY date DESC
	`
	args := []any{ticker, asOf}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote history for %s as of %s: %w", ticker, asOf.Format("2006-01-02"), err)
	}
	defer rows.Close()

	quotes, err := scanQuotes(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(quotes)-1; i < j; i, j = i+1, j-1 {
		quotes[i], quotes[j] = quotes[j], quotes[i]
	}
	return quotes, nil
}

// Latest returns the most recent bar for a ticker.
func (s *QuoteStore) Latest(ctx context.Context, ticker string) (*Quote, error) {
	query := `
		SELECT id, date, ticker, close, volume, sma_5, volatility_5, rsi
		FROM quotes
		WHERE ticker = $1
		ORDER BY date DESC
		LIMIT 1
	`
	q, err := scanQuoteRow(s.q.QueryRow(ctx, query, ticker))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest quote for %s: %w", ticker, err)
	}
	return q, nil
}

// LatestAsOf returns the most recent bar on or before the given date.
func (s *QuoteStore) LatestAsOf(ctx context.Context, ticker string, asOf time.Time) (*Quote, error) {
	query := `
		SELECT id, date, ticker, close, volume, sma_5, volatility_5, rsi
		FROM quotes
		WHERE ticker = $1 AND date <= $2
		ORDER BY date DESC
		LIMIT 1
	`
	q, err := scanQuoteRow(s.q.QueryRow(ctx, query, ticker, asOf))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query quote for %s as of %s: %w", ticker, asOf.Format("2006-01-02"), err)
	}
	return q, nil
}

// FirstOnOrAfter returns the first bar on or after the given date, used to
// anchor outcome analysis at T and T+N trading days.
func (s *QuoteStore) FirstOnOrAfter(ctx context.Context, ticker string, date time.Time) (*Quote, error) {
	query := `
		SELECT id, date, ticker, close, volume, sma_5, volatility_5, rsi
		FROM quotes
		WHERE ticker = $1 AND date >= $2
		ORDER BY date ASC
		LIMIT 1
	`
	q, err := scanQuoteRow(s.q.QueryRow(ctx, query, ticker, date))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query quote for %s from %s: %w", ticker, date.Format("2006-01-02"), err)
	}
	return q, nil
}

// Range returns bars between from and to inclusive, ascending.
func (s *QuoteStore) Range(ctx context.Context, ticker string, from, to time.Time) ([]Quote, error) {
	query := `
		SELECT id, date, ticker, close, volume, sma_5, volatility_5, rsi
		FROM quotes
		WHERE ticker = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := s.q.Query(ctx, query, ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote range for %s: %w", ticker, err)
	}
	defer rows.Close()
	return scanQuotes(rows)
}

func scanQuotes(rows pgx.Rows) ([]Quote, error) {
	var quotes []Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.ID, &q.Date, &q.Ticker, &q.Close, &q.Volume, &q.SMA5, &q.Volatility5, &q.RSI); err != nil {
			return nil, fmt.Errorf("failed to scan quote row: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate quote rows: %w", err)
	}
	return quotes, nil
}

func scanQuoteRow(row pgx.Row) (*Quote, error) {
	var q Quote
	if err := row.Scan(&q.ID, &q.Date, &q.Ticker, &q.Close, &q.Volume, &q.SMA5, &q.Volatility5, &q.RSI); err != nil {
		return nil, err
	}
	return &q, nil
}
