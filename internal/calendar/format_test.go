package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcal/internal/model"
)

func item(id string, offset int, startAt string) model.CalendarEventItem {
	return model.CalendarEventItem{ID: id, Title: id, StartAt: startAt, DaysOffset: offset}
}

func ids(items []model.CalendarEventItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestSortItemsAroundToday(t *testing.T) {
	items := []model.CalendarEventItem{
		item("past2", -2, "2024-03-08T10:00:00.000Z"),
		item("future2-late", 2, "2024-03-12T18:00:00.000Z"),
		item("today-late", 0, "2024-03-10T20:00:00.000Z"),
		item("future1", 1, "2024-03-11T09:00:00.000Z"),
		item("past1", -1, "2024-03-09T09:00:00.000Z"),
		item("future2-early", 2, "2024-03-12T08:00:00.000Z"),
		item("today-early", 0, "2024-03-10T07:00:00.000Z"),
	}

	SortItems(items)

	assert.Equal(t, []string{
		"today-early", "today-late",
		"future1", "past1",
		"future2-early", "future2-late", "past2",
	}, ids(items))

	for i := 1; i < len(items); i++ {
		assert.LessOrEqual(t, abs(items[i-1].DaysOffset), abs(items[i].DaysOffset))
	}
}

func TestFormatItems(t *testing.T) {
	start := time.Date(2024, 3, 10, 9, 30, 0, 0, time.FixedZone("KST", 9*3600))
	occ := []model.Occurrence{
		{
			ID: "a", Title: "Announcements", Start: start, End: start.Add(time.Hour),
			Location: "Room 2", DaysOffset: 0,
		},
		{ID: "b", Title: "Point", Start: start, DaysOffset: 3, AllDay: true},
	}

	items := FormatItems(occ)
	require.Len(t, items, 2)

	assert.Equal(t, "2024-03-10T00:30:00.000Z", items[0].StartAt)
	require.NotNil(t, items[0].EndAt)
	assert.Equal(t, "2024-03-10T01:30:00.000Z", *items[0].EndAt)
	require.NotNil(t, items[0].Location)
	assert.Equal(t, "Room 2", *items[0].Location)
	assert.Nil(t, items[0].Description)

	assert.Nil(t, items[1].EndAt)
	assert.True(t, items[1].IsAllDay)
	assert.Equal(t, 3, items[1].DaysOffset)
}

func TestRebaseItems(t *testing.T) {
	cached := []model.CalendarEventItem{
		item("today", 0, "2024-03-10T10:00:00.000Z"),
		item("tomorrow", 1, "2024-03-11T10:00:00.000Z"),
		item("later", 5, "2024-03-15T10:00:00.000Z"),
	}

	out := RebaseItems(cached, "2024-03-10", "2024-03-11")

	assert.Equal(t, []string{"tomorrow", "today", "later"}, ids(out))
	assert.Equal(t, []int{0, -1, 4}, []int{out[0].DaysOffset, out[1].DaysOffset, out[2].DaysOffset})
	assert.Equal(t, 0, cached[0].DaysOffset, "input must not be modified")

	same := RebaseItems(cached, "2024-03-10", "2024-03-10")
	assert.Equal(t, cached, same)
}
