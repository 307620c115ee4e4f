package quotes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIndicatorsShortSeries(t *testing.T) {
	rows := ComputeIndicators([]float64{100, 101, 102, 103})
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.Nil(t, r.SMA5)
		assert.Nil(t, r.Volatility5)
		assert.Nil(t, r.RSI)
	}
}

func TestComputeIndicatorsSMAAndVolatility(t *testing.T) {
	closes := []float64{10, 20, 30, 40, 50, 60}
	rows := ComputeIndicators(closes)
	require.Len(t, rows, 6)

	require.NotNil(t, rows[4].SMA5)
	assert.InDelta(t, 30.0, *rows[4].SMA5, 1e-9)

	require.NotNil(t, rows[5].SMA5)
	assert.InDelta(t, 40.0, *rows[5].SMA5, 1e-9)

	// Corrected sample stddev of {10..50} step 10 is sqrt(250).
	require.NotNil(t, rows[4].Volatility5)
	assert.InDelta(t, math.Sqrt(250), *rows[4].Volatility5, 1e-9)

	// RSI needs 14 prior bars.
	assert.Nil(t, rows[5].RSI)
}

func TestComputeIndicatorsRSIBounds(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i%5)
	}
	rows := ComputeIndicators(closes)

	var seen int
	for i, r := range rows {
		if r.RSI == nil {
			continue
		}
		seen++
		assert.GreaterOrEqual(t, i, 14, "RSI must respect the warm-up period")
		assert.GreaterOrEqual(t, *r.RSI, 0.0)
		assert.LessOrEqual(t, *r.RSI, 100.0)
	}
	assert.Greater(t, seen, 0)
}

func TestComputeIndicatorsRSIAllGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rows := ComputeIndicators(closes)
	last := rows[len(rows)-1]
	require.NotNil(t, last.RSI)
	assert.InDelta(t, 100.0, *last.RSI, 0.5)
}

func TestAvgVolatility20(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	assert.Nil(t, AvgVolatility20([]*float64{nil, nil}))

	got := AvgVolatility20([]*float64{nil, f(2), f(4)})
	require.NotNil(t, got)
	assert.InDelta(t, 3.0, *got, 1e-9)

	// More than 20 values: only the trailing 20 count.
	vols := make([]*float64, 25)
	for i := range vols {
		vols[i] = f(float64(i))
	}
	got = AvgVolatility20(vols)
	require.NotNil(t, got)
	assert.InDelta(t, 14.5, *got, 1e-9) // mean of 5..24
}
