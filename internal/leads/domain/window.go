package domain

import "time"

// QuietHours is the local-time window during which no nudges are sent.
// Start may be greater than End to wrap midnight (23 -> 7).
type QuietHours struct {
	Start int
	End   int
}

// Contains reports whether hour h falls inside the quiet window.
func (q QuietHours) Contains(h int) bool {
	if q.Start == q.End {
		return false
	}
	if q.Start > q.End {
		return h >= q.Start || h < q.End
	}
	return h >= q.Start && h < q.End
}

// Allowed reports whether now, seen in loc, is outside quiet hours.
func (q QuietHours) Allowed(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	return !q.Contains(now.In(loc).Hour())
}

// Location resolves the lead's time zone, falling back when unknown or invalid.
func (l *Lead) Location(fallback *time.Location) *time.Location {
	if l.TimeZone != "" {
		if loc, err := time.LoadLocation(l.TimeZone); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}
