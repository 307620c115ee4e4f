// Package analyst fuses technicals, weighted news sentiment, similar-event
// priors, optional LLM guidance and session context into one discrete
// decision per instrument.
package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kobyzev-yuri/lse/internal/config"
	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/enrich"
	"github.com/kobyzev-yuri/lse/internal/kb"
	"github.com/kobyzev-yuri/lse/internal/llm"
	"github.com/kobyzev-yuri/lse/internal/quotes"
	"github.com/kobyzev-yuri/lse/internal/session"
	"github.com/kobyzev-yuri/lse/internal/strategy"
)

// News windows for the weighted sentiment aggregation.
const (
	tickerNewsWindow = 24 * time.Hour
	macroNewsWindow  = 72 * time.Hour
)

// similarWindowDays bounds the similar-event lookback for the outcome prior.
const similarWindowDays = 365

// Pre-market gap thresholds, in percent.
const (
	gapCautionPct = 2.5
	gapAvoidPct   = 5.0
)

// Entry advice values.
const (
	AdviceOK      = "OK"
	AdviceCaution = "CAUTION"
	AdviceAvoid   = "AVOID"
)

// Pre-market entry recommendations.
const (
	RecommendEnterNow = "ENTER_NOW"
	RecommendWaitOpen = "WAIT_OPEN"
)

type marketReader interface {
	State(ctx context.Context, ticker string, bars int) (*quotes.MarketState, error)
}

type newsReader interface {
	RecentForTicker(ctx context.Context, ticker string, tickerWindow, macroWindow time.Duration) ([]db.Event, error)
	SimilarTo(ctx context.Context, queryText, ticker string, windowDays int, minSimilarity float64, limit int) ([]db.SimilarEvent, error)
}

type sessionOracle interface {
	Phase() session.Phase
	Premarket(ctx context.Context, ticker string) session.PremarketContext
}

// SimilarPrior aggregates the outcomes of similar past events.
type SimilarPrior struct {
	Events         int     `json:"events"`
	AvgPriceChange float64 `json:"avg_price_change_pct"`
	SuccessRate    float64 `json:"success_rate"`
	Confidence     float64 `json:"confidence"`
}

// Decision is the analyst output for one ticker.
type Decision struct {
	Ticker                   string        `json:"ticker"`
	Decision                 string        `json:"decision"`
	Regime                   string        `json:"regime"`
	Confidence               float64       `json:"confidence"`
	TechnicalSignal          string        `json:"technical_signal"`
	WeightedSentiment        float64       `json:"weighted_sentiment"`
	NewsCount                int           `json:"news_count"`
	SimilarPrior             *SimilarPrior `json:"similar_prior,omitempty"`
	EntryPrice               float64       `json:"entry_price"`
	StopPct                  float64       `json:"stop_pct"`
	TargetPct                float64       `json:"target_pct"`
	EstimatedUpsidePctDay    float64       `json:"estimated_upside_pct_day"`
	SuggestedTakeProfitPrice float64       `json:"suggested_take_profit_price"`
	SessionPhase             string        `json:"session_phase"`
	EntryAdvice              string        `json:"entry_advice"`
	PremarketGapPct          float64       `json:"premarket_gap_pct,omitempty"`
	PremarketRecommendation  string        `json:"premarket_entry_recommendation,omitempty"`
	PremarketLimitPrice      float64       `json:"premarket_limit_price,omitempty"`
	LLMStrategy              string        `json:"llm_strategy,omitempty"`
	LLMReasoning             string        `json:"llm_reasoning,omitempty"`
	Reason                   string        `json:"reason"`
}

// Analyst runs the decision procedure.
type Analyst struct {
	market  marketReader
	news    newsReader
	session sessionOracle
	llm     llm.Provider // nil disables guidance
	regimes []strategy.Regime
	logger  zerolog.Logger
}

// New creates an analyst. llmProvider may be nil.
func New(market marketReader, news newsReader, oracle sessionOracle, llmProvider llm.Provider) *Analyst {
	return &Analyst{
		market:  market,
		news:    news,
		session: oracle,
		llm:     llmProvider,
		regimes: strategy.DefaultRegimes(),
		logger:  config.NewLogger("analyst"),
	}
}

// Analyze runs the full decision procedure for one ticker. useLLM requests
// guidance for this call; it is ignored when no provider is configured.
func (a *Analyst) Analyze(ctx context.Context, ticker string, useLLM bool) (*Decision, error) {
	state, err := a.market.State(ctx, ticker, 20)
	if err != nil {
		return nil, fmt.Errorf("failed to read market state for %s: %w", ticker, err)
	}
	phase := a.session.Phase()

	if state == nil || state.SMA5 == nil || state.Volatility5 == nil {
		// Not enough bars for any indicator window: hold, never crash.
		return hold(ticker, "insufficient quote history", phase), nil
	}

	events, err := a.news.RecentForTicker(ctx, ticker, tickerNewsWindow, macroNewsWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to read news for %s: %w", ticker, err)
	}
	sentiment := WeightedSentiment(ticker, events)
	hasMacro := hasMacroNews(events)

	tech := technicalSignal(state)

	prior := a.similarPrior(ctx, ticker, events)

	sel := strategy.Select(a.regimes, strategy.State{
		Ticker:          ticker,
		Close:           state.Close,
		SMA5:            state.SMA5,
		Volatility5:     state.Volatility5,
		AvgVolatility20: state.AvgVolatility20,
		NewsCount:       len(events),
		HasMacroNews:    hasMacro,
		Sentiment:       sentiment,
	})

	decision := &Decision{
		Ticker:            ticker,
		Regime:            sel.Regime.Name(),
		Confidence:        sel.Signal.Confidence,
		TechnicalSignal:   tech,
		WeightedSentiment: sentiment,
		NewsCount:         len(events),
		SimilarPrior:      prior,
		EntryPrice:        sel.Signal.EntryPrice,
		StopPct:           sel.Signal.StopPct,
		TargetPct:         sel.Signal.TargetPct,
		SessionPhase:      string(phase),
		EntryAdvice:       AdviceOK,
		Reason:            sel.Signal.Reason,
	}

	if useLLM && a.llm != nil {
		a.applyGuidance(ctx, decision, state, sentiment, prior, phase)
	}

	// The matrix owns the final mapping; LLM guidance only adjusted the
	// strategy label and confidence above.
	decision.Decision = mapDecision(decision.Regime, tech, sentiment)

	if phase == session.PhasePreMarket {
		a.applyPremarket(ctx, decision)
	}

	decision.EstimatedUpsidePctDay = decision.TargetPct * decision.Confidence
	if decision.TargetPct > 0 {
		decision.SuggestedTakeProfitPrice = decision.EntryPrice * (1 + decision.TargetPct/100)
	}

	a.logger.Info().
		Str("ticker", ticker).
		Str("decision", decision.Decision).
		Str("regime", decision.Regime).
		Float64("sentiment", sentiment).
		Str("technical", tech).
		Msg("Analysis complete")

	return decision, nil
}

// technicalSignal is BUY when price sits above the short average with calm
// volatility, HOLD otherwise.
func technicalSignal(state *quotes.MarketState) string {
	if state.SMA5 == nil || state.Volatility5 == nil || state.AvgVolatility20 == nil {
		return strategy.SignalHold
	}
	if state.Close > *state.SMA5 && *state.Volatility5 < *state.AvgVolatility20 {
		return strategy.SignalBuy
	}
	return strategy.SignalHold
}

// WeightedSentiment averages sentiment over the news window: weight 2 for
// entries tied to the ticker (same ticker or a symbol mention in the
// content), weight 1 for macro entries, 0 otherwise. No scored news in the
// window yields the neutral 0.5.
func WeightedSentiment(ticker string, events []db.Event) float64 {
	var sum, weight float64
	for _, e := range events {
		if e.SentimentScore == nil {
			continue
		}
		var w float64
		switch {
		case e.Ticker == ticker || mentionsTicker(e.Content, ticker):
			w = 2.0
		case kb.IsMacroTicker(e.Ticker):
			w = 1.0
		default:
			continue
		}
		sum += *e.SentimentScore * w
		weight += w
	}
	if weight == 0 {
		return 0.5
	}
	return sum / weight
}

func mentionsTicker(content, ticker string) bool {
	if ticker == "" {
		return false
	}
	return strings.Contains(strings.ToUpper(content), strings.ToUpper(ticker))
}

func hasMacroNews(events []db.Event) bool {
	for _, e := range events {
		if kb.IsMacroTicker(e.Ticker) {
			return true
		}
	}
	return false
}

// similarPrior embeds the latest tickered news and aggregates the outcomes
// of similar past events. Nil when there is nothing to anchor on.
func (a *Analyst) similarPrior(ctx context.Context, ticker string, events []db.Event) *SimilarPrior {
	var latest string
	for _, e := range events {
		if e.Ticker == ticker {
			latest = e.Content
			break
		}
	}
	if latest == "" {
		return nil
	}

	// Priors aggregate across all tickers: how this kind of event played out
	// anywhere, within the last year.
	hits, err := a.news.SimilarTo(ctx, latest, "", similarWindowDays, 0.6, 5)
	if err != nil {
		a.logger.Warn().Err(err).Str("ticker", ticker).Msg("Similar-event search failed")
		return nil
	}

	var outcomes []enrich.Outcome
	for _, h := range hits {
		if !h.HasOutcome() {
			continue
		}
		var o enrich.Outcome
		if json.Unmarshal(h.OutcomeJSON, &o) == nil {
			outcomes = append(outcomes, o)
		}
	}
	if len(outcomes) == 0 {
		return nil
	}

	var changeSum float64
	positive := 0
	for _, o := range outcomes {
		changeSum += o.PriceChangePct
		if o.Outcome == "POSITIVE" {
			positive++
		}
	}
	n := float64(len(outcomes))
	confidence := n / 5.0
	if confidence > 1 {
		confidence = 1
	}
	return &SimilarPrior{
		Events:         len(outcomes),
		AvgPriceChange: changeSum / n,
		SuccessRate:    float64(positive) / n,
		Confidence:     confidence,
	}
}

// mapDecision applies the regime x technical x sentiment matrix.
func mapDecision(regime, tech string, sentiment float64) string {
	type row struct{ strong, buy, hold, weak string }
	matrix := map[string]row{
		"Momentum":      {strategy.SignalStrongBuy, strategy.SignalBuy, strategy.SignalHold, strategy.SignalHold},
		"MeanReversion": {strategy.SignalBuy, strategy.SignalHold, strategy.SignalHold, strategy.SignalSell},
		"VolatileGap":   {strategy.SignalStrongBuy, strategy.SignalBuy, strategy.SignalHold, strategy.SignalSell},
		"Neutral":       {strategy.SignalHold, strategy.SignalHold, strategy.SignalHold, strategy.SignalHold},
	}
	r, ok := matrix[regime]
	if !ok {
		return strategy.SignalHold
	}
	switch {
	case tech == strategy.SignalBuy && sentiment >= 0.7:
		return r.strong
	case tech == strategy.SignalBuy && sentiment >= 0.5:
		return r.buy
	case tech == strategy.SignalHold && sentiment < 0.3:
		return r.weak
	default:
		return r.hold
	}
}

// applyPremarket attaches gap advice when analyzing before the bell.
func (a *Analyst) applyPremarket(ctx context.Context, d *Decision) {
	pc := a.session.Premarket(ctx, d.Ticker)
	if pc.Err != nil {
		a.logger.Warn().Err(pc.Err).Str("ticker", d.Ticker).Msg("Premarket context unavailable")
		return
	}
	d.PremarketGapPct = pc.PremarketGapPct

	gap := pc.PremarketGapPct
	abs := gap
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= gapAvoidPct:
		d.EntryAdvice = AdviceAvoid
		d.PremarketRecommendation = RecommendWaitOpen
	case abs > gapCautionPct:
		d.EntryAdvice = AdviceCaution
		if gap > 0 {
			// Gapping up: chase with a limit halfway back to the prior close.
			d.PremarketRecommendation = "LIMIT_BELOW"
			d.PremarketLimitPrice = pc.PrevClose * (1 + gap/200)
		} else {
			d.PremarketRecommendation = RecommendWaitOpen
		}
	default:
		d.PremarketRecommendation = RecommendEnterNow
	}
}
