package analyst

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobyzev-yuri/lse/internal/db"
	"github.com/kobyzev-yuri/lse/internal/quotes"
	"github.com/kobyzev-yuri/lse/internal/session"
)

func f(v float64) *float64 { return &v }

type fakeMarket struct {
	states map[string]*quotes.MarketState
}

func (m *fakeMarket) State(ctx context.Context, ticker string, bars int) (*quotes.MarketState, error) {
	return m.states[ticker], nil
}

type fakeNews struct {
	events  []db.Event
	similar []db.SimilarEvent
}

func (n *fakeNews) RecentForTicker(ctx context.Context, ticker string, tw, mw time.Duration) ([]db.Event, error) {
	return n.events, nil
}
func (n *fakeNews) SimilarTo(ctx context.Context, q, ticker string, windowDays int, minSim float64, limit int) ([]db.SimilarEvent, error) {
	return n.similar, nil
}

type fakeSession struct {
	phase session.Phase
	pc    session.PremarketContext
}

func (s *fakeSession) Phase() session.Phase { return s.phase }
func (s *fakeSession) Premarket(ctx context.Context, ticker string) session.PremarketContext {
	return s.pc
}

func TestMomentumStrongBuy(t *testing.T) {
	market := &fakeMarket{states: map[string]*quotes.MarketState{
		"MSFT": {
			Ticker: "MSFT", Close: 350,
			SMA5: f(345), Volatility5: f(2.5), AvgVolatility20: f(3.0),
			BarCount: 20,
		},
	}}
	news := &fakeNews{events: []db.Event{
		{Ticker: "MSFT", TS: time.Now().Add(-2 * time.Hour), SentimentScore: f(0.80), Content: "Cloud growth accelerates"},
	}}
	a := New(market, news, &fakeSession{phase: session.PhaseRegular}, nil)

	d, err := a.Analyze(context.Background(), "MSFT", false)
	require.NoError(t, err)
	assert.Equal(t, "STRONG_BUY", d.Decision)
	assert.Equal(t, "Momentum", d.Regime)
	assert.Equal(t, 3.0, d.StopPct)
	assert.Equal(t, 8.0, d.TargetPct)
	assert.Equal(t, "BUY", d.TechnicalSignal)
	assert.InDelta(t, 0.80, d.WeightedSentiment, 1e-9)
	assert.InDelta(t, 350*1.08, d.SuggestedTakeProfitPrice, 1e-6)
}

func TestMeanReversionHoldOnMidSentiment(t *testing.T) {
	market := &fakeMarket{states: map[string]*quotes.MarketState{
		"TER": {
			Ticker: "TER", Close: 120,
			SMA5: f(125), Volatility5: f(4.0), AvgVolatility20: f(2.5),
			BarCount: 20,
		},
	}}
	news := &fakeNews{events: []db.Event{
		{Ticker: "TER", TS: time.Now().Add(-time.Hour), SentimentScore: f(0.45), Content: "Orders flat this quarter"},
	}}
	a := New(market, news, &fakeSession{phase: session.PhaseRegular}, nil)

	d, err := a.Analyze(context.Background(), "TER", false)
	require.NoError(t, err)
	assert.Equal(t, "MeanReversion", d.Regime)
	assert.Equal(t, "HOLD", d.TechnicalSignal)
	assert.Equal(t, "HOLD", d.Decision)
	assert.Equal(t, 5.0, d.StopPct)
	assert.Equal(t, 4.0, d.TargetPct)
}

func TestVolatileGapSellOnMacroShock(t *testing.T) {
	market := &fakeMarket{states: map[string]*quotes.MarketState{
		"SPY": {
			Ticker: "SPY", Close: 500,
			SMA5: f(501), Volatility5: f(6.0), AvgVolatility20: f(3.0),
			BarCount: 20,
		},
	}}
	news := &fakeNews{events: []db.Event{
		{Ticker: "US_MACRO", TS: time.Now().Add(-30 * time.Minute), SentimentScore: f(0.15),
			EventType: "FOMC_STATEMENT", Content: "Policy statement surprises hawkish"},
	}}
	a := New(market, news, &fakeSession{phase: session.PhaseRegular}, nil)

	d, err := a.Analyze(context.Background(), "SPY", false)
	require.NoError(t, err)
	assert.Equal(t, "VolatileGap", d.Regime)
	assert.Equal(t, "SELL", d.Decision)
	assert.Equal(t, 7.0, d.StopPct)
	assert.Equal(t, 12.0, d.TargetPct)
}

func TestInsufficientHistoryHolds(t *testing.T) {
	market := &fakeMarket{states: map[string]*quotes.MarketState{
		"NEW": {Ticker: "NEW", Close: 10, BarCount: 3},
	}}
	a := New(market, &fakeNews{}, &fakeSession{phase: session.PhaseRegular}, nil)

	d, err := a.Analyze(context.Background(), "NEW", false)
	require.NoError(t, err)
	assert.Equal(t, "HOLD", d.Decision)
	assert.Equal(t, "insufficient quote history", d.Reason)
}

func TestPremarketGapCaution(t *testing.T) {
	market := &fakeMarket{states: map[string]*quotes.MarketState{
		"MSFT": {
			Ticker: "MSFT", Close: 350,
			SMA5: f(345), Volatility5: f(2.5), AvgVolatility20: f(3.0),
			BarCount: 20,
		},
	}}
	oracle := &fakeSession{
		phase: session.PhasePreMarket,
		pc: session.PremarketContext{
			Ticker: "MSFT", PrevClose: 350, PremarketLast: 360,
			PremarketGapPct: (360.0 - 350.0) / 350.0 * 100,
		},
	}
	a := New(market, &fakeNews{}, oracle, nil)

	d, err := a.Analyze(context.Background(), "MSFT", false)
	require.NoError(t, err)
	assert.Equal(t, AdviceCaution, d.EntryAdvice)
	assert.Equal(t, "LIMIT_BELOW", d.PremarketRecommendation)
	assert.Greater(t, d.PremarketLimitPrice, 350.0)
	assert.Less(t, d.PremarketLimitPrice, 360.0)
}

func TestPremarketGapAvoid(t *testing.T) {
	market := &fakeMarket{states: map[string]*quotes.MarketState{
		"MSFT": {
			Ticker: "MSFT", Close: 350,
			SMA5: f(345), Volatility5: f(2.5), AvgVolatility20: f(3.0),
			BarCount: 20,
		},
	}}
	oracle := &fakeSession{
		phase: session.PhasePreMarket,
		pc: session.PremarketContext{
			Ticker: "MSFT", PrevClose: 350, PremarketLast: 367.5,
			PremarketGapPct: 5.0,
		},
	}
	a := New(market, &fakeNews{}, oracle, nil)

	d, err := a.Analyze(context.Background(), "MSFT", false)
	require.NoError(t, err)
	assert.Equal(t, AdviceAvoid, d.EntryAdvice)
	assert.Equal(t, RecommendWaitOpen, d.PremarketRecommendation)
}

func TestWeightedSentiment(t *testing.T) {
	now := time.Now()
	events := []db.Event{
		{Ticker: "MSFT", TS: now, SentimentScore: f(0.9), Content: "Earnings beat"},
		{Ticker: "US_MACRO", TS: now, SentimentScore: f(0.3), Content: "Rates held"},
		{Ticker: "AAPL", TS: now, SentimentScore: f(0.1), Content: "Unrelated story"},
	}
	// (0.9*2 + 0.3*1) / 3 = 0.7; the AAPL entry carries weight 0.
	assert.InDelta(t, 0.7, WeightedSentiment("MSFT", events), 1e-9)
}

func TestWeightedSentimentMentionCountsDouble(t *testing.T) {
	now := time.Now()
	events := []db.Event{
		{Ticker: "US_MACRO", TS: now, SentimentScore: f(0.8), Content: "MSFT cited in policy debate"},
	}
	// Content mention outranks the macro weight.
	assert.InDelta(t, 0.8, WeightedSentiment("MSFT", events), 1e-9)
}

func TestWeightedSentimentEmptyWindow(t *testing.T) {
	assert.Equal(t, 0.5, WeightedSentiment("MSFT", nil))
	// Unscored news contributes nothing either.
	assert.Equal(t, 0.5, WeightedSentiment("MSFT", []db.Event{{Ticker: "MSFT", Content: "No score yet"}}))
}

func TestMapDecisionMatrix(t *testing.T) {
	tests := []struct {
		regime    string
		tech      string
		sentiment float64
		want      string
	}{
		{"Momentum", "BUY", 0.75, "STRONG_BUY"},
		{"Momentum", "BUY", 0.60, "BUY"},
		{"Momentum", "HOLD", 0.60, "HOLD"},
		{"Momentum", "HOLD", 0.20, "HOLD"},
		{"MeanReversion", "BUY", 0.75, "BUY"},
		{"MeanReversion", "BUY", 0.60, "HOLD"},
		{"MeanReversion", "HOLD", 0.20, "SELL"},
		{"VolatileGap", "BUY", 0.75, "STRONG_BUY"},
		{"VolatileGap", "HOLD", 0.20, "SELL"},
		{"Neutral", "BUY", 0.95, "HOLD"},
		{"Momentum", "BUY", 0.40, "HOLD"}, // below both sentiment columns
	}
	for _, tt := range tests {
		got := mapDecision(tt.regime, tt.tech, tt.sentiment)
		assert.Equal(t, tt.want, got, "%s/%s/%.2f", tt.regime, tt.tech, tt.sentiment)
	}
}
