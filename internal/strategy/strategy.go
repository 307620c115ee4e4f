// Package strategy selects a trading regime from the technical and news
// state of one instrument. Regimes are stateless; the selector is a pure
// function evaluating them in a fixed order, first match wins.
package strategy

import "fmt"

// Decision signals.
const (
	SignalStrongBuy = "STRONG_BUY"
	SignalBuy       = "BUY"
	SignalHold      = "HOLD"
	SignalSell      = "SELL"
)

// State is the market snapshot a regime evaluates. SMA5, Volatility5 and
// AvgVolatility20 are nil when the quote history is too short; every regime
// treats missing inputs as unsuitable.
type State struct {
	Ticker          string
	Close           float64
	SMA5            *float64
	Volatility5     *float64
	AvgVolatility20 *float64
	NewsCount       int
	HasMacroNews    bool
	Sentiment       float64 // weighted, in [0,1]
}

func (s State) complete() bool {
	return s.SMA5 != nil && s.Volatility5 != nil && s.AvgVolatility20 != nil
}

// Signal is a regime's trade proposal.
type Signal struct {
	Signal     string
	Confidence float64
	EntryPrice float64
	StopPct    float64
	TargetPct  float64
	Reason     string
}

// Regime is one trading style with its suitability predicate.
type Regime interface {
	Name() string
	IsSuitable(s State) bool
	CalculateSignal(s State) Signal
}

// Momentum trades continuation: price above the short average with calm
// volatility and supportive sentiment.
type Momentum struct{}

func (Momentum) Name() string { return "Momentum" }

func (Momentum) IsSuitable(s State) bool {
	if !s.complete() {
		return false
	}
	return s.Close > *s.SMA5 &&
		*s.Volatility5 <= *s.AvgVolatility20 &&
		s.Sentiment >= 0.55
}

func (Momentum) CalculateSignal(s State) Signal {
	signal := SignalBuy
	confidence := 0.6
	if s.Sentiment >= 0.7 {
		signal = SignalStrongBuy
		confidence = 0.8
	}
	return Signal{
		Signal:     signal,
		Confidence: confidence,
		EntryPrice: s.Close,
		StopPct:    3,
		TargetPct:  8,
		Reason: fmt.Sprintf("price %.2f above SMA5 %.2f with calm volatility, sentiment %.2f",
			s.Close, *s.SMA5, s.Sentiment),
	}
}

// MeanReversion trades a stretched price snapping back to the average under
// elevated volatility and unremarkable sentiment.
type MeanReversion struct{}

func (MeanReversion) Name() string { return "MeanReversion" }

func (MeanReversion) IsSuitable(s State) bool {
	if !s.complete() || *s.SMA5 == 0 {
		return false
	}
	deviation := (s.Close - *s.SMA5) / *s.SMA5
	if deviation < 0 {
		deviation = -deviation
	}
	return deviation > 0.02 &&
		*s.Volatility5 > *s.AvgVolatility20 &&
		s.Sentiment >= 0.30 && s.Sentiment <= 0.70
}

func (MeanReversion) CalculateSignal(s State) Signal {
	signal := SignalHold
	if s.Close < *s.SMA5 && s.Sentiment >= 0.5 {
		signal = SignalBuy
	}
	if s.Close > *s.SMA5 && s.Sentiment < 0.4 {
		signal = SignalSell
	}
	deviationPct := (s.Close - *s.SMA5) / *s.SMA5 * 100
	return Signal{
		Signal:     signal,
		Confidence: 0.55,
		EntryPrice: s.Close,
		StopPct:    5,
		TargetPct:  4,
		Reason: fmt.Sprintf("price %.2f stretched %.1f%% from SMA5 %.2f under high volatility",
			s.Close, deviationPct, *s.SMA5),
	}
}

// VolatileGap trades volatility spikes driven by macro events or extreme
// sentiment. Wide stop, wide target.
type VolatileGap struct{}

func (VolatileGap) Name() string { return "VolatileGap" }

func (VolatileGap) IsSuitable(s State) bool {
	if !s.complete() {
		return false
	}
	return *s.Volatility5 > 1.5*(*s.AvgVolatility20) &&
		(s.HasMacroNews || s.Sentiment > 0.8 || s.Sentiment < 0.2)
}

func (VolatileGap) CalculateSignal(s State) Signal {
	signal := SignalHold
	confidence := 0.5
	switch {
	case s.Sentiment > 0.8:
		signal = SignalStrongBuy
		confidence = 0.7
	case s.Sentiment < 0.2:
		signal = SignalSell
		confidence = 0.7
	}
	ratio := *s.Volatility5 / *s.AvgVolatility20
	return Signal{
		Signal:     signal,
		Confidence: confidence,
		EntryPrice: s.Close,
		StopPct:    7,
		TargetPct:  12,
		Reason: fmt.Sprintf("volatility %.2f is %.1fx the 20-day baseline with macro pressure",
			*s.Volatility5, ratio),
	}
}

// Neutral is the catch-all: always suitable, always HOLD.
type Neutral struct{}

func (Neutral) Name() string { return "Neutral" }

func (Neutral) IsSuitable(s State) bool { return true }

func (Neutral) CalculateSignal(s State) Signal {
	return Signal{
		Signal:     SignalHold,
		Confidence: 0.3,
		EntryPrice: s.Close,
		Reason:     "no regime predicate matched",
	}
}

// Selection is a selector result: the regime plus its signal.
type Selection struct {
	Regime Regime
	Signal Signal
}

// DefaultRegimes is the evaluation order. Neutral last catches everything.
func DefaultRegimes() []Regime {
	return []Regime{Momentum{}, MeanReversion{}, VolatileGap{}, Neutral{}}
}

// Select evaluates regimes in order and returns the first suitable one.
func Select(regimes []Regime, s State) Selection {
	for _, r := range regimes {
		if r.IsSuitable(s) {
			return Selection{Regime: r, Signal: r.CalculateSignal(s)}
		}
	}
	// Unreachable with Neutral in the list; kept for a custom regime set.
	n := Neutral{}
	return Selection{Regime: n, Signal: n.CalculateSignal(s)}
}
