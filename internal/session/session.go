// Package session answers "what is the market doing right now": NYSE phase,
// holiday calendar and the pre-market context used for gap analysis.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/kobyzev-yuri/lse/internal/clock"
	"github.com/kobyzev-yuri/lse/internal/market"
)

// Phase is the market-session state.
type Phase string

const (
	PhasePreMarket  Phase = "PRE_MARKET"
	PhaseRegular    Phase = "REGULAR"
	PhasePostMarket Phase = "POST_MARKET"
	PhaseClosed     Phase = "CLOSED"
)

// NYSE session boundaries in Eastern Time, minutes from midnight.
const (
	preMarketStartMin = 4 * 60         // 04:00
	regularStartMin   = 9*60 + 30      // 09:30
	regularEndMin     = 16 * 60        // 16:00
	postMarketEndMin  = 20 * 60        // 20:00
)

// goodFridays holds the floating Good Friday dates (month, day) per year.
var goodFridays = map[int][2]int{
	2024: {3, 29},
	2025: {4, 18},
	2026: {4, 3},
	2027: {3, 26},
	2028: {4, 14},
	2029: {3, 30},
	2030: {4, 19},
}

// Oracle reports the NYSE session phase and pre-market context. It is the
// only component allowed to call the quote capability for off-hours data.
type Oracle struct {
	provider market.QuoteProvider // may be nil; PremarketContext then errors
	now      clock.Clock
	eastern  *time.Location
}

// NewOracle creates a session oracle. Panics if the tz database lacks
// America/New_York, which is a broken deployment rather than a runtime
// condition.
func NewOracle(provider market.QuoteProvider, now clock.Clock) *Oracle {
	if now == nil {
		now = clock.System
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(fmt.Sprintf("tz database missing America/New_York: %v", err))
	}
	return &Oracle{provider: provider, now: now, eastern: loc}
}

// Phase returns the current session phase.
func (o *Oracle) Phase() Phase {
	return o.PhaseAt(o.now())
}

// PhaseAt returns the session phase at an arbitrary instant.
func (o *Oracle) PhaseAt(t time.Time) Phase {
	et := t.In(o.eastern)
	if !o.isTradingDay(et) {
		return PhaseClosed
	}
	minutes := et.Hour()*60 + et.Minute()
	switch {
	case minutes >= preMarketStartMin && minutes < regularStartMin:
		return PhasePreMarket
	case minutes >= regularStartMin && minutes < regularEndMin:
		return PhaseRegular
	case minutes >= regularEndMin && minutes < postMarketEndMin:
		return PhasePostMarket
	default:
		return PhaseClosed
	}
}

// isTradingDay reports whether the NYSE is open on the given ET date.
func (o *Oracle) isTradingDay(et time.Time) bool {
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !o.isHoliday(et)
}

func (o *Oracle) isHoliday(et time.Time) bool {
	y, m, d := et.Year(), et.Month(), et.Day()

	// Fixed-date holidays with weekend observation: Sat moves to Friday,
	// Sun moves to Monday.
	for _, h := range [][2]int{{1, 1}, {6, 19}, {7, 4}, {12, 25}} {
		observed := observedDate(y, time.Month(h[0]), h[1])
		if observed.Month() == m && observed.Day() == d && observed.Year() == y {
			return true
		}
	}

	// Floating-rule holidays.
	switch {
	case m == time.January && d == nthWeekday(y, time.January, time.Monday, 3):
		return true // Martin Luther King Jr. Day
	case m == time.February && d == nthWeekday(y, time.February, time.Monday, 3):
		return true // Washington's Birthday
	case m == time.May && d == lastWeekday(y, time.May, time.Monday):
		return true // Memorial Day
	case m == time.September && d == nthWeekday(y, time.September, time.Monday, 1):
		return true // Labor Day
	case m == time.November && d == nthWeekday(y, time.November, time.Thursday, 4):
		return true // Thanksgiving
	}

	if gf, ok := goodFridays[y]; ok && int(m) == gf[0] && d == gf[1] {
		return true
	}
	return false
}

func observedDate(year int, month time.Month, day int) time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

// nthWeekday returns the day-of-month of the nth weekday in a month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) int {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(t.Weekday()) + 7) % 7
	return 1 + offset + (n-1)*7
}

// lastWeekday returns the day-of-month of the last weekday in a month.
func lastWeekday(year int, month time.Month, weekday time.Weekday) int {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	offset := (int(t.Weekday()) - int(weekday) + 7) % 7
	return t.Day() - offset
}

// MinutesUntilOpen returns minutes to the 09:30 ET bell. Zero outside
// PRE_MARKET.
func (o *Oracle) MinutesUntilOpen() int {
	et := o.now().In(o.eastern)
	if o.PhaseAt(et) != PhasePreMarket {
		return 0
	}
	open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, o.eastern)
	return int(open.Sub(et).Minutes())
}

// NearOpen reports whether the regular session opens within the window.
func (o *Oracle) NearOpen(window time.Duration) bool {
	m := o.MinutesUntilOpen()
	return m > 0 && time.Duration(m)*time.Minute <= window
}

// NearClose reports whether the regular session closes within the window.
func (o *Oracle) NearClose(window time.Duration) bool {
	et := o.now().In(o.eastern)
	if o.PhaseAt(et) != PhaseRegular {
		return false
	}
	close := time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, o.eastern)
	return close.Sub(et) <= window
}

// TradingDaysBetween counts NYSE trading days after the date of from, up to
// and including the date of to. Used for hold-time checks on fast positions.
func (o *Oracle) TradingDaysBetween(from, to time.Time) int {
	fromET := from.In(o.eastern)
	toET := to.In(o.eastern)
	days := 0
	d := time.Date(fromET.Year(), fromET.Month(), fromET.Day(), 0, 0, 0, 0, o.eastern)
	for d = d.AddDate(0, 0, 1); !d.After(toET); d = d.AddDate(0, 0, 1) {
		if o.isTradingDay(d) {
			days++
		}
	}
	return days
}

// PremarketContext is the off-hours snapshot for gap analysis.
type PremarketContext struct {
	Ticker           string
	PrevClose        float64
	PremarketLast    float64
	PremarketGapPct  float64
	MinutesUntilOpen int
	Err              error
}

// Premarket fetches the pre-market context for a ticker. Provider failures
// are carried in the Err field so the analyst can degrade instead of abort.
func (o *Oracle) Premarket(ctx context.Context, ticker string) PremarketContext {
	pc := PremarketContext{Ticker: ticker, MinutesUntilOpen: o.MinutesUntilOpen()}
	if o.provider == nil {
		pc.Err = fmt.Errorf("no quote provider configured")
		return pc
	}

	quote, err := o.provider.GetPremarket(ctx, ticker)
	if err != nil {
		pc.Err = err
		return pc
	}
	pc.PrevClose = quote.PrevClose
	pc.PremarketLast = quote.Last
	if quote.PrevClose != 0 {
		pc.PremarketGapPct = (quote.Last - quote.PrevClose) / quote.PrevClose * 100
	}
	return pc
}
