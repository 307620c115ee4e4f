// Package kb is the knowledge-base service: deduplicated event storage,
// enrichment-column updates and similar-event search.
package kb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/embedding"
	"github.com/kobyzev-yuri/lse/internal/metrics"
)

// MacroTickers are the pseudo-ticker sentinels for non-instrument items.
var MacroTickers = []string{"MACRO", "US_MACRO"}

// IsMacroTicker reports whether a ticker is a macro sentinel.
func IsMacroTicker(ticker string) bool {
	for _, m := range MacroTickers {
		if ticker == m {
			return true
		}
	}
	return false
}

// Service wraps the knowledge store with the embedding capability.
type Service struct {
	store    *db.KnowledgeStore
	embedder embedding.Provider // may be nil
	now      clock.Clock
	logger   zerolog.Logger
}

// NewService creates the KB service. embedder may be nil; similar-event
// search then returns no hits and callers proceed without a prior.
func NewService(store *db.KnowledgeStore, embedder embedding.Provider, now clock.Clock) *Service {
	if now == nil {
		now = clock.System
	}
	return &Service{
		store:    store,
		embedder: embedder,
		now:      now,
		logger:   config.NewLogger("kb"),
	}
}

// Insert stores an event, returning the id of the new row or of the
// deduplication match.
func (s *Service) Insert(ctx context.Context, e db.Event) (int64, bool, error) {
	id, created, err := s.store.Insert(ctx, e)
	if err != nil {
		return 0, false, err
	}
	if created {
		metrics.NewsInserted.WithLabelValues(e.Source).Inc()
	} else {
		metrics.NewsDuplicates.WithLabelValues(e.Source).Inc()
	}
	return id, created, nil
}

// Query returns events matching the filters, capped at ts <= now so replay
// runs never see the future.
func (s *Service) Query(ctx context.Context, limit int, filters ...db.EventFilter) ([]db.Event, error) {
	filters = append(filters, db.UntilFilter{TS: s.now()})
	return s.store.Query(ctx, limit, filters...)
}

// RecentForTicker returns the news window the analyst weighs: tickered news
// within tickerWindow plus macro news within macroWindow.
func (s *Service) RecentForTicker(ctx context.Context, ticker string, tickerWindow, macroWindow time.Duration) ([]db.Event, error) {
	now := s.now()

	tickered, err := s.store.Query(ctx, 0,
		db.TickerFilter{Ticker: ticker},
		db.SinceFilter{TS: now.Add(-tickerWindow)},
		db.UntilFilter{TS: now},
	)
	if err != nil {
		return nil, err
	}

	var macro []db.Event
	for _, mt := range MacroTickers {
		events, err := s.store.Query(ctx, 0,
			db.TickerFilter{Ticker: mt},
			db.SinceFilter{TS: now.Add(-macroWindow)},
			db.UntilFilter{TS: now},
		)
		if err != nil {
			return nil, err
		}
		macro = append(macro, events...)
	}

	return append(tickered, macro...), nil
}

// SimilarTo embeds the query text and runs a cosine KNN search over embedded
// events with ts <= now. An empty ticker matches any; windowDays > 0 bounds
// the lookback. Without an embedder (or on embedder failure) it returns no
// hits; the analyst proceeds without a prior.
func (s *Service) SimilarTo(ctx context.Context, queryText, ticker string, windowDays int, minSimilarity float64, limit int) ([]db.SimilarEvent, error) {
	if s.embedder == nil || queryText == "" {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Query embedding failed, skipping similar-event search")
		return nil, nil
	}
	now := s.now()
	var since time.Time
	if windowDays > 0 {
		since = now.AddDate(0, 0, -windowDays)
	}
	return s.store.SimilarTo(ctx, vec, ticker, since, now, minSimilarity, limit)
}

// EnsureVectorIndex creates the ivfflat index once enough embeddings exist.
func (s *Service) EnsureVectorIndex(ctx context.Context) error {
	return s.store.EnsureVectorIndex(ctx)
}

// InsertManual validates and stores an operator-submitted entry via the API.
func (s *Service) InsertManual(ctx context.Context, ticker, source, content string, sentiment *float64) (int64, error) {
	if ticker == "" || content == "" {
		return 0, fmt.Errorf("ticker and content are required")
	}
	if sentiment != nil && (*sentiment < 0 || *sentiment > 1) {
		return 0, fmt.Errorf("sentiment_score %.2f out of range [0,1]", *sentiment)
	}
	if source == "" {
		source = "manual"
	}
	id, _, err := s.Insert(ctx, db.Event{
		TS:             s.now(),
		Ticker:         ticker,
		Source:         source,
		Content:        content,
		EventType:      "MANUAL",
		SentimentScore: sentiment,
	})
	return id, err
}
