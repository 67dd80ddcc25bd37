package schedule

import (
	"time"

	"gate-controller/internal/domain/gate"
)

// IsWithin reports whether now falls inside any window, evaluated in loc.
// Both window bounds are inclusive. The engine treats a true result as a
// schedule override and never consults the matcher for that event.
func IsWithin(now time.Time, loc *time.Location, windows []gate.ScheduleWindow) bool {
	local := now.In(loc)
	day := local.Weekday()
	tod := gate.ClockTimeOf(local)

	for _, w := range windows {
		if w.Day != day {
			continue
		}
		if !tod.Before(w.Start) && !tod.After(w.End) {
			return true
		}
	}
	return false
}
