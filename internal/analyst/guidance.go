package analyst

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kobyzev-yuri/lse/internal/llm"
	"github.com/kobyzev-yuri/lse/internal/quotes"
	"github.com/kobyzev-yuri/lse/internal/session"
	"github.com/kobyzev-yuri/lse/internal/strategy"
)

const guidanceSystemPrompt = `You are a trading strategist. Given the technical and news snapshot of one instrument, pick the best-fitting strategy. Allowed strategy values: Momentum, MeanReversion, VolatileGap, Neutral, Hold. Respond with strict JSON: {"strategy": string, "reasoning": string, "confidence": number, "entry_price": number, "stop_loss": number, "take_profit": number}.`

type guidanceReply struct {
	Strategy   string  `json:"strategy"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// applyGuidance asks the LLM to reconcile the regime pick. Only the strategy
// label and confidence are deferred to the model; the final BUY/SELL mapping
// stays with the decision matrix. "Hold" overrides the regime outright.
func (a *Analyst) applyGuidance(ctx context.Context, d *Decision, state *quotes.MarketState, sentiment float64, prior *SimilarPrior, phase session.Phase) {
	user := buildGuidancePrompt(d, state, sentiment, prior, phase)

	res, err := a.llm.Generate(ctx, guidanceSystemPrompt, user, 600, 0.3)
	if err != nil {
		a.logger.Warn().Err(err).Str("ticker", d.Ticker).Msg("LLM guidance unavailable, keeping selector pick")
		return
	}
	raw, err := llm.ExtractJSON(res.Text)
	if err != nil {
		a.logger.Warn().Str("ticker", d.Ticker).Msg("LLM guidance had no JSON, keeping selector pick")
		return
	}
	var reply guidanceReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		a.logger.Warn().Err(err).Str("ticker", d.Ticker).Msg("Malformed LLM guidance, keeping selector pick")
		return
	}

	d.LLMStrategy = reply.Strategy
	d.LLMReasoning = reply.Reasoning

	switch reply.Strategy {
	case "Hold":
		// The model may stand aside regardless of the selector.
		d.Regime = "Neutral"
		d.StopPct = 0
		d.TargetPct = 0
	case "Momentum", "MeanReversion", "VolatileGap", "Neutral":
		d.Regime = reply.Strategy
	default:
		a.logger.Warn().Str("ticker", d.Ticker).Str("strategy", reply.Strategy).Msg("Unknown LLM strategy label ignored")
		return
	}
	if reply.Confidence > 0 && reply.Confidence <= 1 {
		d.Confidence = reply.Confidence
	}
}

func buildGuidancePrompt(d *Decision, state *quotes.MarketState, sentiment float64, prior *SimilarPrior, phase session.Phase) string {
	sma := 0.0
	if state.SMA5 != nil {
		sma = *state.SMA5
	}
	vol := 0.0
	if state.Volatility5 != nil {
		vol = *state.Volatility5
	}
	avgVol := 0.0
	if state.AvgVolatility20 != nil {
		avgVol = *state.AvgVolatility20
	}

	prompt := fmt.Sprintf(
		"Instrument: %s\nClose: %.2f\nSMA5: %.2f\nVolatility5: %.2f\nAvgVolatility20: %.2f\nWeighted sentiment: %.2f\nNews items in window: %d\nSelector pick: %s (%s)\nSession phase: %s\n",
		d.Ticker, state.Close, sma, vol, avgVol, sentiment, d.NewsCount, d.Regime, d.TechnicalSignal, phase,
	)
	if state.RSI != nil {
		prompt += fmt.Sprintf("RSI14: %.1f\n", *state.RSI)
	}
	if prior != nil {
		prompt += fmt.Sprintf("Similar past events: %d, avg change %.2f%%, success rate %.0f%%\n",
			prior.Events, prior.AvgPriceChange, prior.SuccessRate*100)
	}
	if phase == session.PhasePreMarket && d.PremarketGapPct != 0 {
		prompt += fmt.Sprintf("Pre-market gap: %.2f%%\n", d.PremarketGapPct)
	}
	prompt += "Which strategy fits best?"
	return prompt
}

// hold returns a defensive HOLD decision with a reason, shared by the
// degraded paths.
func hold(ticker, reason string, phase session.Phase) *Decision {
	return &Decision{
		Ticker:            ticker,
		Decision:          strategy.SignalHold,
		Regime:            "Neutral",
		TechnicalSignal:   strategy.SignalHold,
		WeightedSentiment: 0.5,
		SessionPhase:      string(phase),
		EntryAdvice:       AdviceOK,
		Reason:            reason,
	}
}
