package enrich

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/embedding"
	"github.com/kobyzev-yuri/lse/internal/metrics"
)

type embeddingStore interface {
	PendingEmbeddings(ctx context.Context, limit int) ([]db.Event, error)
	UpdateEmbedding(ctx context.Context, id int64, vec []float32) error
	EnsureVectorIndex(ctx context.Context) error
}

// EmbeddingEnricher backfills vectors for rows with a NULL embedding. The
// selection query only returns NULL rows, so an existing vector is never
// overwritten.
type EmbeddingEnricher struct {
	store    embeddingStore
	provider embedding.Provider
	logger   zerolog.Logger
}

// NewEmbeddingEnricher creates the enricher.
func NewEmbeddingEnricher(store embeddingStore, provider embedding.Provider) *EmbeddingEnricher {
	return &EmbeddingEnricher{
		store:    store,
		provider: provider,
		logger:   config.NewLogger("embeddings"),
	}
}

// BackfillEmbeddings embeds up to limit rows and refreshes the vector index
// when new vectors landed. A provider failure for one row skips that row.
// Returns how many rows were embedded.
func (e *EmbeddingEnricher) BackfillEmbeddings(ctx context.Context, limit int) (int, error) {
	if e.provider == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 100
	}

	pending, err := e.store.PendingEmbeddings(ctx, limit)
	if err != nil {
		return 0, err
	}

	embedded := 0
	for _, event := range pending {
		if ctx.Err() != nil {
			return embedded, ctx.Err()
		}
		if event.Content == "" {
			continue
		}

		vec, err := e.provider.Embed(ctx, event.Content)
		if err != nil {
			e.logger.Warn().Err(err).Int64("event_id", event.ID).Msg("Embedding failed, row left for next pass")
			metrics.EmbeddingErrors.Inc()
			continue
		}
		if err := e.store.UpdateEmbedding(ctx, event.ID, vec); err != nil {
			return embedded, err
		}
		embedded++
		metrics.EmbeddingsBackfilled.Inc()
	}

	if embedded > 0 {
		if err := e.store.EnsureVectorIndex(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("Vector index refresh failed")
		}
	}

	e.logger.Info().Int("embedded", embedded).Int("pending", len(pending)).Msg("Embedding pass complete")
	return embedded, nil
}
