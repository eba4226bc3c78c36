package calendar

import (
	"cmp"
	"slices"

	"groupcal/internal/datekey"
	"groupcal/internal/ics"
	"groupcal/internal/model"
)

// FormatItems converts occurrences into output items. Empty location and
// description become nil; a zero end becomes nil.
func FormatItems(occ []model.Occurrence) []model.CalendarEventItem {
	items := make([]model.CalendarEventItem, 0, len(occ))
	for _, o := range occ {
		item := model.CalendarEventItem{
			ID:          o.ID,
			Title:       o.Title,
			StartAt:     ics.FormatInstant(o.Start),
			IsAllDay:    o.AllDay,
			Location:    optional(o.Location),
			Description: optional(o.Description),
			DaysOffset:  o.DaysOffset,
		}
		if !o.End.IsZero() {
			end := ics.FormatInstant(o.End)
			item.EndAt = &end
		}
		items = append(items, item)
	}
	return items
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SortItems orders items around today: closest first, future before past at
// equal distance, then chronologically.
func SortItems(items []model.CalendarEventItem) {
	slices.SortStableFunc(items, compareItems)
}

func compareItems(a, b model.CalendarEventItem) int {
	if c := cmp.Compare(abs(a.DaysOffset), abs(b.DaysOffset)); c != 0 {
		return c
	}
	if c := cmp.Compare(b.DaysOffset, a.DaysOffset); c != 0 {
		return c
	}
	return cmp.Compare(a.StartAt, b.StartAt)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// RebaseItems returns a copy of items with offsets measured from newToday
// instead of oldToday, re-sorted. items is not modified.
func RebaseItems(items []model.CalendarEventItem, oldToday, newToday string) []model.CalendarEventItem {
	out := slices.Clone(items)
	if oldToday == newToday {
		return out
	}
	shift := datekey.DiffDays(newToday, oldToday)
	for i := range out {
		out[i].DaysOffset += shift
	}
	SortItems(out)
	return out
}
