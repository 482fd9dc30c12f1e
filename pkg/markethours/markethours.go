// Package markethours decides whether trading-session-dependent work should
// run at a given instant. No holiday calendar is consulted; weekends and the
// two intraday session windows are the only inputs.
package markethours

import (
	"fmt"
	"time"
)

// Session windows in zone-local minutes since midnight, both ends inclusive.
// The exchange trades 09:00-11:30 and 13:00-15:00.
var sessions = [][2]int{
	{9 * 60, 11*60 + 30},
	{13 * 60, 15 * 60},
}

// IsOpenAt reports whether the market is open at t, evaluated on the wall
// clock of the given IANA timezone.
func IsOpenAt(t time.Time, tz string) (bool, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	local := t.In(loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}

	minute := local.Hour()*60 + local.Minute()
	for _, s := range sessions {
		if minute >= s[0] && minute <= s[1] {
			return true, nil
		}
	}
	return false, nil
}
