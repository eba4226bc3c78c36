package calendar

import (
	"strings"
	"time"

	"groupcal/internal/datekey"
)

// Window is a resolved inclusive range of date keys.
type Window struct {
	Start string
	End   string
	// Empty is set when the resolved start falls after the end; such a
	// window never reaches the cache or the network.
	Empty bool
}

// ResolveWindow fills in missing bounds: start defaults to today and end to
// today plus futureDays. Malformed keys are treated as missing.
func ResolveWindow(start, end, today string, futureDays int) Window {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)

	if !datekey.Valid(start) {
		start = today
	}
	if !datekey.Valid(end) {
		end = datekey.AddDays(today, futureDays)
	}

	w := Window{Start: start, End: end}
	if start > end {
		w.Empty = true
	}
	return w
}

// FetchBoundary widens the window by bufferDays on each side and converts it
// into instants in zone: [start of first day, start of the day after the last).
// It is only used to bound recurrence expansion, never to filter results.
func (w Window) FetchBoundary(zone *datekey.Zone, bufferDays int) (time.Time, time.Time, error) {
	if bufferDays < 0 {
		bufferDays = 0
	}
	from, _, err := zone.InstantRange(datekey.AddDays(w.Start, -bufferDays))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	_, to, err := zone.InstantRange(datekey.AddDays(w.End, bufferDays))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}
