// Package quotes ingests daily bars and maintains derived indicators.
package quotes

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
)

const (
	smaWindow = 5
	rsiPeriod = 14
)

// IndicatorRow holds the derived columns for one bar. Nil means the window
// had too few bars.
type IndicatorRow struct {
	SMA5        *float64
	Volatility5 *float64
	RSI         *float64
}

// ComputeIndicators derives SMA_5, corrected-sample volatility_5 and Wilder
// RSI_14 for each close in an ascending-date series. Output aligns 1:1 with
// the input.
func ComputeIndicators(closes []float64) []IndicatorRow {
	rows := make([]IndicatorRow, len(closes))

	for i := range closes {
		if i+1 < smaWindow {
			continue
		}
		window := closes[i+1-smaWindow : i+1]
		mean := sum(window) / float64(smaWindow)

		var sq float64
		for _, c := range window {
			d := c - mean
			sq += d * d
		}
		stddev := math.Sqrt(sq / float64(smaWindow-1))

		sma := mean
		vol := stddev
		rows[i].SMA5 = &sma
		rows[i].Volatility5 = &vol
	}

	for i, v := range wilderRSI(closes) {
		idx := i + rsiPeriod
		if idx < len(rows) {
			val := v
			rows[idx].RSI = &val
		}
	}

	return rows
}

// wilderRSI computes RSI over the series. The result is shorter than the
// input by the warm-up period; value j belongs to close index j+rsiPeriod.
func wilderRSI(closes []float64) []float64 {
	if len(closes) <= rsiPeriod {
		return nil
	}

	in := make(chan float64, len(closes))
	for _, c := range closes {
		in <- c
	}
	close(in)

	out := momentum.NewRsiWithPeriod[float64](rsiPeriod).Compute(in)

	var values []float64
	for v := range out {
		values = append(values, v)
	}
	return values
}

// AvgVolatility20 averages the last 20 non-nil volatility_5 values, the
// baseline the strategy predicates compare the current volatility against.
func AvgVolatility20(vols []*float64) *float64 {
	var window []float64
	for _, v := range vols {
		if v != nil {
			window = append(window, *v)
		}
	}
	if len(window) == 0 {
		return nil
	}
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	avg := sum(window) / float64(len(window))
	return &avg
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}
