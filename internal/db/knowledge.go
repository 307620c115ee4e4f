package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Event is one knowledge-base entry: a news item, earnings record or macro
// event, with enrichment columns filled in by later pipeline passes.
type Event struct {
	ID             int64
	TS             time.Time
	Ticker         string
	Source         string
	Content        string
	EventType      string
	Importance     string
	Region         string
	Link           string
	SentimentScore *float64
	Insight        *string
	Embedding      []float32
	OutcomeJSON    []byte
}

// HasOutcome reports whether outcome analysis already ran for the event.
func (e *Event) HasOutcome() bool { return len(e.OutcomeJSON) > 0 }

// ContentHash returns the sha256 hex digest used in the fallback dedup key.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// EventFilter narrows knowledge-base queries. Implementations render a SQL
// clause starting at the given placeholder index.
type EventFilter interface {
	SQL(argIndex int) (string, []any)
}

// TickerFilter matches a single ticker.
type TickerFilter struct{ Ticker string }

func (f TickerFilter) SQL(i int) (string, []any) {
	return fmt.Sprintf("ticker = $%d", i), []any{f.Ticker}
}

// EventTypeFilter matches one event type (NEWS, EARNINGS, MACRO, ...).
type EventTypeFilter struct{ EventType string }

func (f EventTypeFilter) SQL(i int) (string, []any) {
	return fmt.Sprintf("event_type = $%d", i), []any{f.EventType}
}

// SourceFilter matches one source name.
type SourceFilter struct{ Source string }

func (f SourceFilter) SQL(i int) (string, []any) {
	return fmt.Sprintf("source = $%d", i), []any{f.Source}
}

// ImportanceFilter matches one importance level.
type ImportanceFilter struct{ Importance string }

func (f ImportanceFilter) SQL(i int) (string, []any) {
	return fmt.Sprintf("importance = $%d", i), []any{f.Importance}
}

// ContentFilter keeps events whose content contains the text,
// case-insensitively.
type ContentFilter struct{ Text string }

func (f ContentFilter) SQL(i int) (string, []any) {
	return fmt.Sprintf("content ILIKE '%%' || $%d || '%%'", i), []any{f.Text}
}

// SinceFilter keeps events at or after TS.
type SinceFilter struct{ TS time.Time }

func (f SinceFilter) SQL(i int) (string, []any) {
	return fmt.Sprintf("ts >= $%d", i), []any{f.TS}
}

// UntilFilter keeps events at or before TS. The backtest clock threads
// through here so reads never see the future.
type UntilFilter struct{ TS time.Time }

func (f UntilFilter) SQL(i int) (string, []any) {
	return fmt.Sprintf("ts <= $%d", i), []any{f.TS}
}

// KnowledgeStore persists knowledge-base events.
type KnowledgeStore struct {
	q Querier
}

// NewKnowledgeStore creates a knowledge store over a pool or transaction.
func NewKnowledgeStore(q Querier) *KnowledgeStore {
	return &KnowledgeStore{q: q}
}

const eventColumns = `id, ts, ticker, source, content, event_type, importance, region,
	COALESCE(link, ''), sentiment_score, insight, embedding, outcome_json`

// Insert stores an event, deduplicating on (source, link) when a link is
// present and on (ts, ticker, content hash) otherwise. Returns the row id
// and whether a new row was created; on a duplicate the existing row wins
// and its id is returned.
func (s *KnowledgeStore) Insert(ctx context.Context, e Event) (int64, bool, error) {
	if e.EventType == "" {
		e.EventType = "NEWS"
	}
	if e.Importance == "" {
		e.Importance = "MEDIUM"
	}
	if e.Region == "" {
		e.Region = "USA"
	}
	hash := ContentHash(e.Content)

	var conflict string
	if e.Link != "" {
		conflict = "(source, link) WHERE link IS NOT NULL AND link <> ''"
	} else {
		conflict = "(ts, ticker, content_hash) WHERE link IS NULL OR link = ''"
	}

	query := fmt.Sprintf(`
		INSERT INTO knowledge_base
			(ts, ticker, source, content, content_hash, event_type, importance, region, link, sentiment_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		ON CONFLICT %s DO NOTHING
		RETURNING id
	`, conflict)

	var id int64
	err := s.q.QueryRow(ctx, query,
		e.TS, e.Ticker, e.Source, e.Content, hash,
		e.EventType, e.Importance, e.Region, e.Link, e.SentimentScore,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != pgx.ErrNoRows {
		return 0, false, fmt.Errorf("failed to insert event: %w", err)
	}

	// Duplicate: fetch the surviving row's id.
	if e.Link != "" {
		err = s.q.QueryRow(ctx,
			`SELECT id FROM knowledge_base WHERE source = $1 AND link = $2`,
			e.Source, e.Link,
		).Scan(&id)
	} else {
		err = s.q.QueryRow(ctx,
			`SELECT id FROM knowledge_base
			 WHERE ts = $1 AND ticker = $2 AND content_hash = $3 AND (link IS NULL OR link = '')`,
			e.TS, e.Ticker, hash,
		).Scan(&id)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve duplicate event id: %w", err)
	}
	return id, false, nil
}

// UpdateSentiment writes the sentiment score and insight for one event.
// Enrichment may only touch enrichment columns, never the raw content.
func (s *KnowledgeStore) UpdateSentiment(ctx context.Context, id int64, score float64, insight string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE knowledge_base SET sentiment_score = $2, insight = $3 WHERE id = $1`,
		id, score, insight,
	)
	if err != nil {
		return fmt.Errorf("failed to update sentiment for event %d: %w", id, err)
	}
	return nil
}

// UpdateEmbedding writes the embedding vector for one event.
func (s *KnowledgeStore) UpdateEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := s.q.Exec(ctx,
		`UPDATE knowledge_base SET embedding = $2 WHERE id = $1`,
		id, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to update embedding for event %d: %w", id, err)
	}
	return nil
}

// UpdateOutcome writes the outcome JSON for one event.
func (s *KnowledgeStore) UpdateOutcome(ctx context.Context, id int64, outcome []byte) error {
	_, err := s.q.Exec(ctx,
		`UPDATE knowledge_base SET outcome_json = $2 WHERE id = $1`,
		id, outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to update outcome for event %d: %w", id, err)
	}
	return nil
}

// Query returns events matching all filters, newest first.
func (s *KnowledgeStore) Query(ctx context.Context, limit int, filters ...EventFilter) ([]Event, error) {
	var clauses []string
	var args []any
	idx := 1
	for _, f := range filters {
		clause, fargs := f.SQL(idx)
		clauses = append(clauses, clause)
		args = append(args, fargs...)
		idx += len(fargs)
	}

	query := "SELECT " + eventColumns + " FROM knowledge_base"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY ts DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SimilarEvent is a KNN search hit with its cosine similarity.
type SimilarEvent struct {
	Event
	Similarity float64
}

// SimilarTo runs a cosine KNN search against embedded events with ts <= asOf,
// keeping hits at or above minSimilarity. An empty ticker matches any; a zero
// since leaves the lookback unbounded. Rows without embeddings are excluded
// so the distance operator never sees NULL.
func (s *KnowledgeStore) SimilarTo(ctx context.Context, embedding []float32, ticker string, since, asOf time.Time, minSimilarity float64, limit int) ([]SimilarEvent, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
		SELECT ` + eventColumns + `,
			1 - (embedding <=> $1) AS similarity
		FROM knowledge_base
		WHERE embedding IS NOT NULL AND ts <= $2
	`
	args := []any{pgvector.NewVector(embedding), asOf}
	idx := 3
	if ticker != "" {
		query += fmt.Sprintf(" AND ticker = $%d", idx)
		args = append(args, ticker)
		idx++
	}
	if !since.IsZero() {
		query += fmt.Sprintf(" AND ts >= $%d", idx)
		args = append(args, since)
		idx++
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run similarity search: %w", err)
	}
	defer rows.Close()

	var hits []SimilarEvent
	for rows.Next() {
		var se SimilarEvent
		var vec *pgvector.Vector
		if err := rows.Scan(&se.ID, &se.TS, &se.Ticker, &se.Source, &se.Content,
			&se.EventType, &se.Importance, &se.Region, &se.Link,
			&se.SentimentScore, &se.Insight, &vec, &se.OutcomeJSON, &se.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan similarity row: %w", err)
		}
		if vec != nil {
			se.Embedding = vec.Slice()
		}
		if se.Similarity >= minSimilarity {
			hits = append(hits, se)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate similarity rows: %w", err)
	}
	return hits, nil
}

// PendingSentiment returns events with no sentiment score, content long
// enough to be meaningful and ts at or after since, oldest first. The since
// bound keeps stale backlog rows from burning LLM quota.
func (s *KnowledgeStore) PendingSentiment(ctx context.Context, minContentLen int, since time.Time, limit int) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM knowledge_base
		WHERE sentiment_score IS NULL AND LENGTH(content) >= $1 AND ts >= $2
		ORDER BY ts ASC
		LIMIT $3
	`
	rows, err := s.q.Query(ctx, query, minContentLen, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending sentiment events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// PendingEmbeddings returns events with no embedding, oldest first.
func (s *KnowledgeStore) PendingEmbeddings(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM knowledge_base
		WHERE embedding IS NULL
		ORDER BY ts ASC
		LIMIT $1
	`
	rows, err := s.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending embedding events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RipeForOutcome returns events older than daysAfter with no outcome yet.
// Macro sentinels (MARKET, MACRO tickers) never ripen.
func (s *KnowledgeStore) RipeForOutcome(ctx context.Context, asOf time.Time, daysAfter, limit int) ([]Event, error) {
	cutoff := asOf.AddDate(0, 0, -daysAfter)
	query := `
		SELECT ` + eventColumns + `
		FROM knowledge_base
		WHERE outcome_json IS NULL
		  AND ts <= $1
		  AND ticker NOT IN ('MACRO', 'US_MACRO')
		ORDER BY ts ASC
		LIMIT $2
	`
	rows, err := s.q.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ripe events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EmbeddedCount returns how many rows carry an embedding.
func (s *KnowledgeStore) EmbeddedCount(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_base WHERE embedding IS NOT NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count embedded events: %w", err)
	}
	return n, nil
}

// EnsureVectorIndex creates the ivfflat cosine index once enough rows carry
// embeddings. ivfflat clustering needs populated data, so the index is not
// part of the base migration.
func (s *KnowledgeStore) EnsureVectorIndex(ctx context.Context) error {
	n, err := s.EmbeddedCount(ctx)
	if err != nil {
		return err
	}
	if n < 10 {
		return nil
	}
	_, err = s.q.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_kb_embedding
		ON knowledge_base USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var vec *pgvector.Vector
		if err := rows.Scan(&e.ID, &e.TS, &e.Ticker, &e.Source, &e.Content,
			&e.EventType, &e.Importance, &e.Region, &e.Link,
			&e.SentimentScore, &e.Insight, &vec, &e.OutcomeJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if vec != nil {
			e.Embedding = vec.Slice()
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, nil
}
