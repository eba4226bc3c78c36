package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "groupcal/internal/log"
)

// ErrEmptyBody is returned by ParseICS for a zero-length payload.
var ErrEmptyBody = errors.New("empty ICS body")

const statusCancelled = "CANCELLED"

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	Source Source

	UID string

	Summary     string
	Description string
	Location    string
	Status      string

	Start  time.Time
	End    time.Time // zero when the event has neither DTEND nor DURATION
	AllDay bool

	RawRRule   string
	RDates     []time.Time
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT replaces one recurring instance
}

// Cancelled reports whether STATUS marks the event (or override) cancelled.
func (ev ParsedEvent) Cancelled() bool {
	return strings.EqualFold(ev.Status, statusCancelled)
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - Floating and date-only values are interpreted in loc; TZID parameters
//     are honored when the zone is known to the runtime.
//   - All-day is detected from VALUE=DATE or a value without a time part.
//   - RRULE/RDATE/EXDATE/RECURRENCE-ID are recorded but not expanded; see expand.go.
//
// Components other than VEVENT are ignored. A VEVENT without UID or DTSTART
// is skipped and logged.
func ParseICS(src Source, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics parse: %w", err)
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp, loc)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentProperty("STATUS")); p != nil {
		out.Status = strings.ToUpper(strings.TrimSpace(p.Value))
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parsePropertyTime(dtStart, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.AllDay = allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		end, _, err := parsePropertyTime(ve.GetProperty(ical.ComponentPropertyDtEnd), loc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		if end.After(start) {
			out.End = end
		}
	case ve.GetProperty(ical.ComponentProperty("DURATION")) != nil:
		d, err := parseDuration(ve.GetProperty(ical.ComponentProperty("DURATION")).Value)
		if err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
		if d > 0 {
			out.End = start.Add(d)
		}
	case allDay:
		// RFC 5545: a date-valued DTSTART without DTEND spans one day.
		out.End = time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location())
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = strings.TrimSpace(rruleProp.Value)
	}

	// EXDATE and RDATE can appear multiple times, each possibly a comma list.
	out.ExDates = parseTimeList(ve.GetProperties(ical.ComponentPropertyExdate), loc)
	out.RDates = parseTimeList(ve.GetProperties(ical.ComponentProperty("RDATE")), loc)

	if ridProp := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); ridProp != nil {
		if t, _, err := parsePropertyTime(ridProp, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

func parseTimeList(props []*ical.IANAProperty, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range props {
		tzid, dateOnly := timeParams(p)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parseICSTime(part, tzid, dateOnly, loc); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

func parsePropertyTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	tzid, dateOnly := timeParams(p)
	return parseICSTime(p.Value, tzid, dateOnly, loc)
}

func timeParams(p *ical.IANAProperty) (tzid string, dateOnly bool) {
	params := p.ICalParameters
	if params == nil {
		return "", false
	}
	if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		dateOnly = true
	}
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		tzid = strings.Trim(tzs[0], `"`)
	}
	return tzid, dateOnly
}

// parseICSTime parses a DATE or DATE-TIME value. The boolean result reports
// whether the value was a whole-day DATE.
func parseICSTime(v, tzid string, dateOnly bool, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	// Date-only (all-day), e.g., 20250101
	if dateOnly || !strings.Contains(v, "T") {
		const layoutDate = "20060102"
		t, err := time.ParseInLocation(layoutDate, v, loc)
		return t, true, err
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		t, err := time.Parse(layout, v)
		return t, false, err
	}

	zone := loc
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			zone = l
		} else {
			appLog.Debug("unknown TZID, using configured zone", "tzid", tzid, "zone", loc.String())
		}
	}
	const layout = "20060102T150405"
	t, err := time.ParseInLocation(layout, v, zone)
	return t, false, err
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	return strings.TrimSpace(textUnescaper.Replace(s))
}
