package calendar

import (
	"slices"
	"sync"
	"time"

	"groupcal/internal/model"
)

// cacheEntry holds the resolved items of one window. Entries are replaced,
// never mutated.
type cacheEntry struct {
	items     []model.CalendarEventItem
	today     string // date key the offsets in items are relative to
	expiresAt time.Time
}

// windowCache is a TTL map keyed by feed identity and window.
type windowCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newWindowCache() *windowCache {
	return &windowCache{entries: make(map[string]cacheEntry)}
}

func cacheKey(feedID string, w Window) string {
	return feedID + "|" + w.Start + "|" + w.End
}

// get returns a live entry. An expired entry is dropped on the spot.
func (c *windowCache) get(key string, now time.Time) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *windowCache) set(key string, items []model.CalendarEventItem, today string, expiresAt time.Time) {
	e := cacheEntry{
		items:     slices.Clone(items),
		today:     today,
		expiresAt: expiresAt,
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// sweep removes every expired entry and reports how many were dropped.
func (c *windowCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *windowCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
