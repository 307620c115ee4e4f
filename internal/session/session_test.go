package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/market"
)

func et(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

func TestPhaseAt(t *testing.T) {
	oracle := NewOracle(nil, nil)

	tests := []struct {
		name string
		at   time.Time
		want Phase
	}{
		{"early pre-market", et(t, 2025, 3, 11, 4, 0), PhasePreMarket},
		{"late pre-market", et(t, 2025, 3, 11, 9, 29), PhasePreMarket},
		{"open bell", et(t, 2025, 3, 11, 9, 30), PhaseRegular},
		{"midday", et(t, 2025, 3, 11, 13, 0), PhaseRegular},
		{"after close", et(t, 2025, 3, 11, 16, 0), PhasePostMarket},
		{"evening", et(t, 2025, 3, 11, 19, 59), PhasePostMarket},
		{"night", et(t, 2025, 3, 11, 22, 0), PhaseClosed},
		{"before pre-market", et(t, 2025, 3, 11, 3, 59), PhaseClosed},
		{"saturday", et(t, 2025, 3, 15, 13, 0), PhaseClosed},
		{"sunday", et(t, 2025, 3, 16, 13, 0), PhaseClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, oracle.PhaseAt(tt.at))
		})
	}
}

func TestHolidays(t *testing.T) {
	oracle := NewOracle(nil, nil)

	holidays := []time.Time{
		et(t, 2025, 1, 1, 13, 0),   // New Year's Day
		et(t, 2025, 1, 20, 13, 0),  // MLK Day, 3rd Monday
		et(t, 2025, 2, 17, 13, 0),  // Washington's Birthday
		et(t, 2025, 4, 18, 13, 0),  // Good Friday
		et(t, 2025, 5, 26, 13, 0),  // Memorial Day, last Monday
		et(t, 2025, 6, 19, 13, 0),  // Juneteenth
		et(t, 2025, 7, 4, 13, 0),   // Independence Day
		et(t, 2025, 9, 1, 13, 0),   // Labor Day
		et(t, 2025, 11, 27, 13, 0), // Thanksgiving
		et(t, 2025, 12, 25, 13, 0), // Christmas
		et(t, 2026, 7, 3, 13, 0),   // July 4 2026 is a Saturday, observed Friday
	}
	for _, h := range holidays {
		assert.Equal(t, PhaseClosed, oracle.PhaseAt(h), h.Format("2006-01-02"))
	}

	// Ordinary trading day for contrast.
	assert.Equal(t, PhaseRegular, oracle.PhaseAt(et(t, 2025, 4, 17, 13, 0)))
}

func TestMinutesUntilOpen(t *testing.T) {
	oracle := NewOracle(nil, clock.Fixed(et(t, 2025, 3, 11, 8, 30)))
	assert.Equal(t, 60, oracle.MinutesUntilOpen())

	oracle = NewOracle(nil, clock.Fixed(et(t, 2025, 3, 11, 13, 0)))
	assert.Equal(t, 0, oracle.MinutesUntilOpen())
}

func TestNearOpenAndClose(t *testing.T) {
	oracle := NewOracle(nil, clock.Fixed(et(t, 2025, 3, 11, 9, 15)))
	assert.True(t, oracle.NearOpen(30*time.Minute))
	assert.False(t, oracle.NearOpen(10*time.Minute))

	oracle = NewOracle(nil, clock.Fixed(et(t, 2025, 3, 11, 15, 45)))
	assert.True(t, oracle.NearClose(30*time.Minute))
	assert.False(t, oracle.NearClose(10*time.Minute))
}

type stubQuoteProvider struct {
	quote *market.PremarketQuote
	err   error
}

func (s *stubQuoteProvider) Name() string { return "stub" }
func (s *stubQuoteProvider) GetBars(ctx context.Context, ticker string, from, to time.Time) ([]market.Bar, error) {
	return nil, nil
}
func (s *stubQuoteProvider) GetPremarket(ctx context.Context, ticker string) (*market.PremarketQuote, error) {
	return s.quote, s.err
}

func TestPremarketGap(t *testing.T) {
	provider := &stubQuoteProvider{quote: &market.PremarketQuote{Last: 360, PrevClose: 350}}
	oracle := NewOracle(provider, clock.Fixed(et(t, 2025, 3, 11, 8, 0)))

	pc := oracle.Premarket(context.Background(), "MSFT")
	require.NoError(t, pc.Err)
	assert.InDelta(t, 2.857, pc.PremarketGapPct, 0.01)
	assert.Equal(t, 90, pc.MinutesUntilOpen)
}
