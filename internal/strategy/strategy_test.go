package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestMomentumSuitability(t *testing.T) {
	state := State{
		Ticker:          "MSFT",
		Close:           350,
		SMA5:            f(345),
		Volatility5:     f(2.5),
		AvgVolatility20: f(3.0),
		Sentiment:       0.80,
	}
	sel := Select(DefaultRegimes(), state)
	assert.Equal(t, "Momentum", sel.Regime.Name())
	assert.Equal(t, SignalStrongBuy, sel.Signal.Signal)
	assert.Equal(t, 3.0, sel.Signal.StopPct)
	assert.Equal(t, 8.0, sel.Signal.TargetPct)
}

func TestMomentumModerateSentimentIsBuy(t *testing.T) {
	state := State{
		Close:           350,
		SMA5:            f(345),
		Volatility5:     f(2.5),
		AvgVolatility20: f(3.0),
		Sentiment:       0.60,
	}
	sel := Select(DefaultRegimes(), state)
	assert.Equal(t, "Momentum", sel.Regime.Name())
	assert.Equal(t, SignalBuy, sel.Signal.Signal)
}

func TestMeanReversionSuitability(t *testing.T) {
	state := State{
		Ticker:          "TER",
		Close:           120,
		SMA5:            f(125), // -4% deviation
		Volatility5:     f(4.0),
		AvgVolatility20: f(2.5),
		Sentiment:       0.45,
	}
	sel := Select(DefaultRegimes(), state)
	assert.Equal(t, "MeanReversion", sel.Regime.Name())
	assert.Equal(t, 5.0, sel.Signal.StopPct)
	assert.Equal(t, 4.0, sel.Signal.TargetPct)
}

func TestVolatileGapOnMacroNews(t *testing.T) {
	state := State{
		Close:           100,
		SMA5:            f(100.5), // small deviation keeps MeanReversion out
		Volatility5:     f(6.0),
		AvgVolatility20: f(3.0),
		HasMacroNews:    true,
		Sentiment:       0.15,
	}
	sel := Select(DefaultRegimes(), state)
	assert.Equal(t, "VolatileGap", sel.Regime.Name())
	assert.Equal(t, SignalSell, sel.Signal.Signal)
	assert.Equal(t, 7.0, sel.Signal.StopPct)
	assert.Equal(t, 12.0, sel.Signal.TargetPct)
}

func TestNeutralFallback(t *testing.T) {
	state := State{
		Close:           100,
		SMA5:            f(100),
		Volatility5:     f(1.0),
		AvgVolatility20: f(1.0),
		Sentiment:       0.5,
	}
	sel := Select(DefaultRegimes(), state)
	assert.Equal(t, "Neutral", sel.Regime.Name())
	assert.Equal(t, SignalHold, sel.Signal.Signal)
}

func TestIncompleteStateFallsToNeutral(t *testing.T) {
	state := State{Close: 100, Sentiment: 0.9}
	sel := Select(DefaultRegimes(), state)
	assert.Equal(t, "Neutral", sel.Regime.Name())
	assert.Equal(t, SignalHold, sel.Signal.Signal)
}

func TestOrderFirstMatchWins(t *testing.T) {
	// Suitable for both Momentum and VolatileGap predicates? Momentum requires
	// vol <= baseline while VolatileGap requires 1.5x, so craft a MeanReversion
	// vs VolatileGap overlap instead: stretched, volatile, extreme-ish macro.
	state := State{
		Close:           110,
		SMA5:            f(100), // 10% deviation
		Volatility5:     f(6.0),
		AvgVolatility20: f(3.0),
		HasMacroNews:    true,
		Sentiment:       0.35, // inside MeanReversion band
	}
	require.True(t, MeanReversion{}.IsSuitable(state))
	require.True(t, VolatileGap{}.IsSuitable(state))

	sel := Select(DefaultRegimes(), state)
	assert.Equal(t, "MeanReversion", sel.Regime.Name())
}
