// Package enrich holds the three knowledge-base enrichment sweeps:
// sentiment scoring, embedding backfill and post-event outcome analysis.
// Each writes only its own columns, so the sweeps commute.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/llm"
	"github.com/kobyzev-yuri/lse/internal/metrics"
)

// minContentLen filters out stub rows too short to score.
const minContentLen = 20

const sentimentSystemPrompt = `You are a financial sentiment analyst. Score the market sentiment of the given news for the named instrument on a scale from 0.0 (very bearish) to 1.0 (very bullish), 0.5 meaning neutral. Respond with strict JSON: {"score": number, "insight": string}. The insight is one sentence on the likely price impact.`

type sentimentStore interface {
	PendingSentiment(ctx context.Context, minContentLen int, since time.Time, limit int) ([]db.Event, error)
	UpdateSentiment(ctx context.Context, id int64, score float64, insight string) error
}

// SentimentEnricher scores unsentimented rows through the LLM.
type SentimentEnricher struct {
	store    sentimentStore
	provider llm.Provider
	limiter  *rate.Limiter
	now      clock.Clock
	logger   zerolog.Logger
}

// NewSentimentEnricher creates the enricher. Calls are throttled to one per
// half second. now may be nil for the system clock.
func NewSentimentEnricher(store sentimentStore, provider llm.Provider, now clock.Clock) *SentimentEnricher {
	if now == nil {
		now = clock.System
	}
	return &SentimentEnricher{
		store:    store,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		now:      now,
		logger:   config.NewLogger("sentiment"),
	}
}

type sentimentReply struct {
	Score   float64 `json:"score"`
	Insight string  `json:"insight"`
}

// EnrichPending scores up to limit rows no older than maxAgeDays. A parse
// failure leaves the row untouched for a later pass; a transport error stops
// the batch. Returns how many rows were scored.
func (e *SentimentEnricher) EnrichPending(ctx context.Context, maxAgeDays, limit int) (int, error) {
	if e.provider == nil {
		return 0, nil
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if limit <= 0 {
		limit = 50
	}

	since := e.now().AddDate(0, 0, -maxAgeDays)
	pending, err := e.store.PendingSentiment(ctx, minContentLen, since, limit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	scored := 0
	for _, event := range pending {
		if err := e.limiter.Wait(ctx); err != nil {
			return scored, err
		}

		user := fmt.Sprintf("Instrument: %s\nNews: %s", event.Ticker, event.Content)
		res, err := e.provider.Generate(ctx, sentimentSystemPrompt, user, 300, 0.1)
		if err != nil {
			// Transport failure: back off, stop the batch.
			metrics.SentimentErrors.Inc()
			return scored, fmt.Errorf("sentiment batch stopped at event %d: %w", event.ID, err)
		}

		reply, err := parseSentiment(res.Text)
		if err != nil {
			e.logger.Warn().Err(err).Int64("event_id", event.ID).Msg("Unparseable sentiment reply, row left for next pass")
			metrics.SentimentErrors.Inc()
			continue
		}

		if err := e.store.UpdateSentiment(ctx, event.ID, reply.Score, reply.Insight); err != nil {
			return scored, err
		}
		scored++
		metrics.SentimentEnriched.Inc()
	}

	e.logger.Info().Int("scored", scored).Int("pending", len(pending)).Msg("Sentiment pass complete")
	return scored, nil
}

func parseSentiment(text string) (*sentimentReply, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var reply sentimentReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("malformed sentiment JSON: %w", err)
	}
	if reply.Score < 0 {
		reply.Score = 0
	}
	if reply.Score > 1 {
		reply.Score = 1
	}
	return &reply, nil
}
