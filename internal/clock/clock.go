// Package clock provides the time indirection used for backtest replay.
// Components read time through a Clock so a replay run can pin "now" to a
// historical instant; every knowledge-base and quote read filters ts <= now.
package clock

import "time"

// Clock returns the current time as the system sees it.
type Clock func() time.Time

// System is the wall clock.
func System() time.Time { return time.Now() }

// Fixed returns a clock pinned to t, for replays and tests.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}
