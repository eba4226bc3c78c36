package model

import "time"

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion, override application and window filtering).
type Occurrence struct {
	// ID uniquely identifies this occurrence: the source UID combined with
	// the ISO form of the start instant.
	ID  string
	UID string

	Title       string
	Description string
	Location    string

	AllDay bool

	// Start is always set. End is zero for point events.
	Start time.Time
	End   time.Time

	// DateKey is the start date in the configured zone; DaysOffset is
	// DateKey minus today in whole days.
	DateKey    string
	DaysOffset int
}

// CalendarEventItem is the immutable output value handed to the rest of the
// application. Timestamps are ISO-8601 UTC strings with millisecond
// precision, so lexical order equals chronological order.
type CalendarEventItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	StartAt     string  `json:"startAt"`
	EndAt       *string `json:"endAt"`
	IsAllDay    bool    `json:"isAllDay"`
	Location    *string `json:"location"`
	Description *string `json:"description"`
	DaysOffset  int     `json:"daysOffset"`
}
