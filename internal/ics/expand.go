package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"groupcal/internal/datekey"
	appLog "groupcal/internal/log"
	"groupcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// DefaultTitle is used when neither an occurrence nor its series has a summary.
	DefaultTitle = "Event"

	isoLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Zone is the configured zone used for date keys.
	Zone *datekey.Zone

	// RangeStart / RangeEnd bound the instants that recurrence rules are
	// expanded into: [RangeStart, RangeEnd). This is the buffered fetch
	// boundary, wider than the window itself.
	RangeStart time.Time
	RangeEnd   time.Time

	// WindowStart / WindowEnd are the exact inclusive date keys an
	// occurrence's start date must fall in.
	WindowStart string
	WindowEnd   string

	// Today is the date key offsets are measured from.
	Today string

	// MaxOccurrencesPerEvent caps how many instances of one series are
	// emitted. It bounds output size only: the series is still walked from
	// DTSTART to RangeEnd before the cap applies. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// FormatInstant renders t as an ISO-8601 UTC timestamp with milliseconds.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ExpandOccurrences turns parsed events into concrete occurrences whose start
// date lies in [WindowStart, WindowEnd]. It handles:
//
//   - single events and RRULE series (plus RDATE extras)
//   - EXDATE exclusions
//   - RECURRENCE-ID overrides, including ones that cancel or move an instance
//   - STATUS:CANCELLED on whole series
//
// Occurrences are returned in feed order, each series chronologically. When
// two occurrences share an ID, only the first is kept.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, error) {
	if cfg.Zone == nil {
		return nil, errors.New("expand: zone is nil")
	}
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID, remembering feed order.
	var order []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if _, ok := baseByUID[ev.UID]; !ok {
			if _, ok := overridesByUID[ev.UID]; !ok {
				order = append(order, ev.UID)
			}
		}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	x := &expander{cfg: cfg, seen: make(map[string]struct{})}

	for _, uid := range order {
		bases := baseByUID[uid]
		overrides := overridesByUID[uid]

		if len(bases) == 0 {
			// Overrides without a master are shown as standalone events.
			for _, ov := range overrides {
				if !ov.Cancelled() {
					x.emit(ov, nil, ov.Start, ov.End)
				}
			}
			continue
		}

		for _, ev := range bases {
			if ev.Cancelled() {
				continue
			}
			if ev.RawRRule == "" {
				x.expandSingle(ev, overrides)
				continue
			}
			x.expandRecurring(ev, overrides)
		}
	}

	return x.out, nil
}

type expander struct {
	cfg  ExpandConfig
	seen map[string]struct{}
	out  []model.Occurrence
}

func (x *expander) expandSingle(ev ParsedEvent, overrides []ParsedEvent) {
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		if !o.Cancelled() {
			x.emit(o, &ev, o.Start, o.End)
		}
		return
	}
	x.emit(ev, nil, ev.Start, ev.End)
}

func (x *expander) expandRecurring(ev ParsedEvent, overrides []ParsedEvent) {
	loc := ev.Start.Location()

	occTimes, err := x.seriesStarts(ev, loc)
	if err != nil {
		appLog.Error("expand: unusable RRULE; using DTSTART only", err, "uid", ev.UID, "rrule", ev.RawRRule)
		x.expandSingle(ev, overrides)
		return
	}
	if len(occTimes) > x.cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:x.cfg.MaxOccurrencesPerEvent]
		appLog.Warn("expand: truncated occurrences for UID due to cap",
			"uid", ev.UID,
			"cap", x.cfg.MaxOccurrencesPerEvent,
		)
	}

	excluded := make(map[int64]struct{}, len(ev.ExDates))
	for _, ex := range ev.ExDates {
		excluded[ex.Unix()] = struct{}{}
	}

	used := make(map[int64]struct{})
	for _, occStart := range occTimes {
		if !occStart.Before(x.cfg.RangeEnd) {
			continue
		}
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			used[o.Recurrence.Unix()] = struct{}{}
			if !o.Cancelled() {
				x.emit(o, &ev, o.Start, o.End)
			}
			continue
		}
		x.emit(ev, nil, occStart, instanceEnd(ev, occStart))
	}

	// Overrides whose original slot lies outside the boundary may still have
	// been moved into it.
	for _, o := range overrides {
		rid := o.Recurrence.Unix()
		if _, ok := used[rid]; ok {
			continue
		}
		if _, ok := excluded[rid]; ok || o.Cancelled() {
			continue
		}
		if o.Start.Before(x.cfg.RangeStart) || !o.Start.Before(x.cfg.RangeEnd) {
			continue
		}
		x.emit(o, &ev, o.Start, o.End)
	}
}

// seriesStarts lists the instance starts of ev inside the expansion range.
// rrule-go panics on some rules it accepts (e.g. BYDAY=+9MO with FREQ=MONTHLY);
// such a panic is returned as an error.
func (x *expander) seriesStarts(ev ParsedEvent, loc *time.Location) (starts []time.Time, err error) {
	defer func() {
		if p := recover(); p != nil {
			starts, err = nil, fmt.Errorf("rrule panic: %v", p)
		}
	}()

	opt, err := rrule.StrToROptionInLocation(strings.TrimPrefix(ev.RawRRule, "RRULE:"), loc)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, err
	}

	var set rrule.Set
	set.RRule(r)
	for _, rd := range ev.RDates {
		set.RDate(rd.In(loc))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(loc))
	}
	return set.Between(x.cfg.RangeStart.In(loc), x.cfg.RangeEnd.In(loc), true), nil
}

// instanceEnd derives an instance end from the series' own length. All-day
// series keep their length in calendar days so DST shifts do not leak in.
func instanceEnd(ev ParsedEvent, occStart time.Time) time.Time {
	if ev.End.IsZero() {
		return time.Time{}
	}
	if ev.AllDay {
		days := datekey.DiffDays(ev.Start.Format(datekey.Layout), ev.End.Format(datekey.Layout))
		return time.Date(occStart.Year(), occStart.Month(), occStart.Day()+days, 0, 0, 0, 0, occStart.Location())
	}
	return occStart.Add(ev.End.Sub(ev.Start))
}

// findOverrideForStart finds an override whose RECURRENCE-ID matches the
// given instance start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// emit applies the window filter, dedup and title fallback, then appends.
// parent is the series an override belongs to, nil otherwise.
func (x *expander) emit(ev ParsedEvent, parent *ParsedEvent, start, end time.Time) {
	key := x.cfg.Zone.KeyOf(start)
	if key < x.cfg.WindowStart || key > x.cfg.WindowEnd {
		return
	}

	id := ev.UID + "_" + FormatInstant(start)
	if _, dup := x.seen[id]; dup {
		return
	}
	x.seen[id] = struct{}{}

	title := ev.Summary
	if title == "" && parent != nil {
		title = parent.Summary
	}
	if title == "" {
		title = DefaultTitle
	}

	x.out = append(x.out, model.Occurrence{
		ID:          id,
		UID:         ev.UID,
		Title:       title,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
		DateKey:     key,
		DaysOffset:  datekey.DiffDays(x.cfg.Today, key),
	})
}
