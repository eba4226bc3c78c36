// Package datekey converts between instants and "YYYY-MM-DD" calendar-day
// keys in a single configured time zone.
//
// Arithmetic on keys (AddDays, DiffDays) is pure calendar arithmetic and does
// not depend on the zone; only the conversions to and from instants do.
package datekey

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the canonical date-key layout.
const Layout = "2006-01-02"

// Zone binds date-key conversions to one location.
type Zone struct {
	loc *time.Location
	now func() time.Time
}

// NewZone loads the IANA zone name. An empty name is rejected rather than
// silently meaning UTC or the host zone.
func NewZone(name string) (*Zone, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("datekey: empty time zone name")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("datekey: load zone %q: %w", name, err)
	}
	return &Zone{loc: loc, now: time.Now}, nil
}

// InLocation wraps an already loaded location.
func InLocation(loc *time.Location) *Zone {
	if loc == nil {
		loc = time.UTC
	}
	return &Zone{loc: loc, now: time.Now}
}

func (z *Zone) Location() *time.Location { return z.loc }

// Today is the current date key in the zone.
func (z *Zone) Today() string {
	return z.KeyOf(z.now())
}

// KeyOf returns the date key of instant t as observed in the zone.
func (z *Zone) KeyOf(t time.Time) string {
	return t.In(z.loc).Format(Layout)
}

// InstantRange returns [start of day, start of next day) for key in the zone.
// Days shortened or lengthened by DST transitions are handled by time.Date.
func (z *Zone) InstantRange(key string) (time.Time, time.Time, error) {
	d, ok := Parse(key)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("datekey: invalid key %q", key)
	}
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, z.loc)
	end := time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, z.loc)
	return start, end, nil
}

// Parse validates key strictly and returns it as UTC midnight.
func Parse(key string) (time.Time, bool) {
	if len(key) != len(Layout) {
		return time.Time{}, false
	}
	t, err := time.Parse(Layout, key)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func Valid(key string) bool {
	_, ok := Parse(key)
	return ok
}

// AddDays shifts key by n calendar days. Invalid keys yield "".
func AddDays(key string, n int) string {
	d, ok := Parse(key)
	if !ok {
		return ""
	}
	return d.AddDate(0, 0, n).Format(Layout)
}

// DiffDays returns b - a in whole days, positive when b is later.
// Invalid input yields 0.
func DiffDays(a, b string) int {
	da, okA := Parse(a)
	db, okB := Parse(b)
	if !okA || !okB {
		return 0
	}
	// Both are UTC midnights, so the difference is an exact multiple of 24h.
	return int(db.Sub(da) / (24 * time.Hour))
}
