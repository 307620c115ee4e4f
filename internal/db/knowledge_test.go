package db

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFilterSQL(t *testing.T) {
	tests := []struct {
		filter     EventFilter
		wantClause string
		wantArgs   []any
	}{
		{TickerFilter{Ticker: "MSFT"}, "ticker = $1", []any{"MSFT"}},
		{EventTypeFilter{EventType: "EARNINGS"}, "event_type = $1", []any{"EARNINGS"}},
		{SourceFilter{Source: "newsapi"}, "source = $1", []any{"newsapi"}},
		{ImportanceFilter{Importance: "HIGH"}, "importance = $1", []any{"HIGH"}},
		{ContentFilter{Text: "guidance"}, "content ILIKE '%' || $1 || '%'", []any{"guidance"}},
	}
	for _, tt := range tests {
		clause, args := tt.filter.SQL(1)
		assert.Equal(t, tt.wantClause, clause)
		assert.Equal(t, tt.wantArgs, args)
	}

	// Clause placeholders follow the running index.
	clause, _ := ContentFilter{Text: "rate cut"}.SQL(4)
	assert.Equal(t, "content ILIKE '%' || $4 || '%'", clause)
}

func TestKnowledgeInsertCreatesRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewKnowledgeStore(mock)
	ts := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	e := Event{
		TS: ts, Ticker: "MSFT", Source: "newsapi",
		Content: "Guidance raised", Link: "https://example.test/a",
	}

	mock.ExpectQuery("INSERT INTO knowledge_base").
		WithArgs(ts, "MSFT", "newsapi", "Guidance raised", ContentHash("Guidance raised"),
			"NEWS", "MEDIUM", "USA", "https://example.test/a", (*float64)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	id, created, err := store.Insert(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeInsertLinkDuplicateResolvesExistingID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewKnowledgeStore(mock)
	ts := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	e := Event{
		TS: ts, Ticker: "MSFT", Source: "newsapi",
		Content: "Guidance raised", Link: "https://example.test/a",
	}

	// ON CONFLICT DO NOTHING returns no row; the surviving id is selected.
	mock.ExpectQuery("INSERT INTO knowledge_base").
		WithArgs(ts, "MSFT", "newsapi", "Guidance raised", ContentHash("Guidance raised"),
			"NEWS", "MEDIUM", "USA", "https://example.test/a", (*float64)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM knowledge_base WHERE source").
		WithArgs("newsapi", "https://example.test/a").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, created, err := store.Insert(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeInsertLinklessDuplicateUsesContentHashKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewKnowledgeStore(mock)
	ts := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	e := Event{TS: ts, Ticker: "MSFT", Source: "manual", Content: "Guidance raised"}
	hash := ContentHash("Guidance raised")

	mock.ExpectQuery("INSERT INTO knowledge_base").
		WithArgs(ts, "MSFT", "manual", "Guidance raised", hash,
			"NEWS", "MEDIUM", "USA", "", (*float64)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM knowledge_base").
		WithArgs(ts, "MSFT", hash).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	id, created, err := store.Insert(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(9), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeQueryWithContentFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewKnowledgeStore(mock)
	ts := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "ts", "ticker", "source", "content", "event_type", "importance",
		"region", "link", "sentiment_score", "insight", "embedding", "outcome_json",
	}).AddRow(int64(1), ts, "MSFT", "newsapi", "Guidance raised", "NEWS", "HIGH",
		"USA", "", nil, nil, nil, nil)

	mock.ExpectQuery("FROM knowledge_base WHERE ticker").
		WithArgs("MSFT", "guidance", 10).
		WillReturnRows(rows)

	events, err := store.Query(context.Background(), 10,
		TickerFilter{Ticker: "MSFT"}, ContentFilter{Text: "guidance"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Guidance raised", events[0].Content)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeSimilarToAppliesTickerAndWindow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewKnowledgeStore(mock)
	asOf := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	since := asOf.AddDate(0, 0, -30)
	vec := []float32{0.1, 0.2, 0.3}

	rows := pgxmock.NewRows([]string{
		"id", "ts", "ticker", "source", "content", "event_type", "importance",
		"region", "link", "sentiment_score", "insight", "embedding", "outcome_json",
		"similarity",
	}).AddRow(int64(4), asOf.AddDate(0, 0, -5), "MSFT", "newsapi", "Past guidance beat",
		"NEWS", "HIGH", "USA", "", nil, nil, nil, nil, 0.82)

	mock.ExpectQuery("embedding IS NOT NULL AND ts").
		WithArgs(pgvector.NewVector(vec), asOf, "MSFT", since, 5).
		WillReturnRows(rows)

	hits, err := store.SimilarTo(context.Background(), vec, "MSFT", since, asOf, 0.6, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.82, hits[0].Similarity, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnowledgeSimilarToDropsHitsBelowMinSimilarity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewKnowledgeStore(mock)
	asOf := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	vec := []float32{0.1, 0.2, 0.3}

	rows := pgxmock.NewRows([]string{
		"id", "ts", "ticker", "source", "content", "event_type", "importance",
		"region", "link", "sentiment_score", "insight", "embedding", "outcome_json",
		"similarity",
	}).AddRow(int64(4), asOf.AddDate(0, 0, -5), "MSFT", "newsapi", "Barely related",
		"NEWS", "LOW", "USA", "", nil, nil, nil, nil, 0.41)

	mock.ExpectQuery("embedding IS NOT NULL AND ts").
		WithArgs(pgvector.NewVector(vec), asOf, 5).
		WillReturnRows(rows)

	hits, err := store.SimilarTo(context.Background(), vec, "", time.Time{}, asOf, 0.6, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingSentimentBoundsAge(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewKnowledgeStore(mock)
	since := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("sentiment_score IS NULL").
		WithArgs(20, since, 50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "ts", "ticker", "source", "content", "event_type", "importance",
			"region", "link", "sentiment_score", "insight", "embedding", "outcome_json",
		}))

	events, err := store.PendingSentiment(context.Background(), 20, since, 50)
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}
