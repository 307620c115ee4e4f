package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/metrics"
)

// Outcome classification thresholds, in percent.
const (
	positiveThresholdPct = 2.0
	negativeThresholdPct = -2.0
)

// Outcome is the post-event price record stored in outcome_json.
type Outcome struct {
	PriceAtEvent        float64 `json:"price_at_event"`
	PriceAfter          float64 `json:"price_after"`
	PriceChangePct      float64 `json:"price_change_pct"`
	MaxUpPct            float64 `json:"max_up_pct"`
	MaxDownPct          float64 `json:"max_down_pct"`
	VolatilityChangePct float64 `json:"volatility_change_pct"`
	Outcome             string  `json:"outcome"`
	SentimentMatch      *bool   `json:"sentiment_match"`
	DaysAfter           int     `json:"days_after"`
}

type outcomeStore interface {
	RipeForOutcome(ctx context.Context, asOf time.Time, daysAfter, limit int) ([]db.Event, error)
	UpdateOutcome(ctx context.Context, id int64, outcome []byte) error
}

type outcomeQuoteReader interface {
	FirstOnOrAfter(ctx context.Context, ticker string, date time.Time) (*db.Quote, error)
	Range(ctx context.Context, ticker string, from, to time.Time) ([]db.Quote, error)
}

// OutcomeAnalyzer computes post-event price outcomes for ripe events.
type OutcomeAnalyzer struct {
	store  outcomeStore
	quotes outcomeQuoteReader
	now    clock.Clock
	logger zerolog.Logger
}

// NewOutcomeAnalyzer creates the analyzer.
func NewOutcomeAnalyzer(store outcomeStore, quotes outcomeQuoteReader, now clock.Clock) *OutcomeAnalyzer {
	if now == nil {
		now = clock.System
	}
	return &OutcomeAnalyzer{
		store:  store,
		quotes: quotes,
		now:    now,
		logger: config.NewLogger("outcomes"),
	}
}

// AnalyzeRipeEvents sweeps events older than daysAfter with no outcome yet.
// Events with missing anchor quotes are skipped and retried on the next
// sweep. Returns how many outcomes were written.
func (a *OutcomeAnalyzer) AnalyzeRipeEvents(ctx context.Context, daysAfter, limit int) (int, error) {
	if daysAfter <= 0 {
		daysAfter = 7
	}
	if limit <= 0 {
		limit = 100
	}

	ripe, err := a.store.RipeForOutcome(ctx, a.now(), daysAfter, limit)
	if err != nil {
		return 0, err
	}

	analyzed := 0
	for _, event := range ripe {
		if ctx.Err() != nil {
			return analyzed, ctx.Err()
		}

		outcome, err := a.analyze(ctx, event, daysAfter)
		if err != nil {
			return analyzed, err
		}
		if outcome == nil {
			continue
		}

		raw, err := json.Marshal(outcome)
		if err != nil {
			return analyzed, fmt.Errorf("failed to marshal outcome for event %d: %w", event.ID, err)
		}
		if err := a.store.UpdateOutcome(ctx, event.ID, raw); err != nil {
			return analyzed, err
		}
		analyzed++
		metrics.OutcomesAnalyzed.Inc()
	}

	a.logger.Info().Int("analyzed", analyzed).Int("ripe", len(ripe)).Msg("Outcome pass complete")
	return analyzed, nil
}

// analyze computes one event's outcome, or nil when anchor quotes are
// missing.
func (a *OutcomeAnalyzer) analyze(ctx context.Context, event db.Event, daysAfter int) (*Outcome, error) {
	eventDay := event.TS.Truncate(24 * time.Hour)

	at, err := a.quotes.FirstOnOrAfter(ctx, event.Ticker, eventDay)
	if err != nil {
		return nil, err
	}
	after, err := a.quotes.FirstOnOrAfter(ctx, event.Ticker, eventDay.AddDate(0, 0, daysAfter))
	if err != nil {
		return nil, err
	}
	if at == nil || after == nil || at.Close == 0 {
		a.logger.Debug().Int64("event_id", event.ID).Str("ticker", event.Ticker).Msg("Anchor quotes missing, event skipped")
		return nil, nil
	}

	window, err := a.quotes.Range(ctx, event.Ticker, at.Date, after.Date)
	if err != nil {
		return nil, err
	}

	changePct := (after.Close - at.Close) / at.Close * 100

	maxUp, maxDown := 0.0, 0.0
	for _, q := range window {
		move := (q.Close - at.Close) / at.Close * 100
		if move > maxUp {
			maxUp = move
		}
		if move < maxDown {
			maxDown = move
		}
	}

	var volChangePct float64
	if at.Volatility5 != nil && after.Volatility5 != nil && *at.Volatility5 != 0 {
		volChangePct = (*after.Volatility5 - *at.Volatility5) / *at.Volatility5 * 100
	}

	outcome := &Outcome{
		PriceAtEvent:        at.Close,
		PriceAfter:          after.Close,
		PriceChangePct:      changePct,
		MaxUpPct:            maxUp,
		MaxDownPct:          maxDown,
		VolatilityChangePct: volChangePct,
		Outcome:             classify(changePct),
		SentimentMatch:      sentimentMatch(event.SentimentScore, changePct),
		DaysAfter:           daysAfter,
	}
	return outcome, nil
}

func classify(changePct float64) string {
	switch {
	case changePct >= positiveThresholdPct:
		return "POSITIVE"
	case changePct <= negativeThresholdPct:
		return "NEGATIVE"
	default:
		return "NEUTRAL"
	}
}

// sentimentMatch reports whether the pre-event sentiment pointed the same
// way the price moved. Nil when sentiment is unknown or either side is
// exactly neutral.
func sentimentMatch(score *float64, changePct float64) *bool {
	if score == nil {
		return nil
	}
	sentimentSign := sign(*score - 0.5)
	changeSign := sign(changePct)
	if sentimentSign == 0 || changeSign == 0 {
		return nil
	}
	match := sentimentSign == changeSign
	return &match
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
