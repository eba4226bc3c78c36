// Package calendar resolves calendar items for a date window from a remote
// iCalendar feed. Results are cached per window for a short TTL and
// concurrent requests for the same window share one upstream fetch.
//
// Resolve never fails: every upstream or parse problem is logged and
// degrades to an empty item list.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"groupcal/internal/datekey"
	"groupcal/internal/ics"
	appLog "groupcal/internal/log"
	"groupcal/internal/model"
)

const (
	DefaultFutureDays   = 14
	DefaultTTL          = 30 * time.Second
	DefaultBufferDays   = 1
	DefaultFetchTimeout = 15 * time.Second
)

// Options configures a Service. Zero values select the defaults above.
type Options struct {
	Source ics.Source
	Zone   *datekey.Zone

	FutureDays   int
	TTL          time.Duration
	BufferDays   int
	FetchTimeout time.Duration

	MaxOccurrencesPerEvent int

	// Registerer receives the calendar metrics when non-nil.
	Registerer prometheus.Registerer

	// Clock drives cache expiry. Defaults to time.Now.
	Clock func() time.Time
}

// Request asks for the items of [Start, End]. Empty or malformed bounds
// fall back to defaults. A non-zero Now replaces the clock when computing
// "today"; cache expiry always follows the service clock.
type Request struct {
	Start string
	End   string
	Now   time.Time
}

// Result carries the ordered items and the window actually used.
type Result struct {
	Items []model.CalendarEventItem `json:"items"`
	Start string                    `json:"start"`
	End   string                    `json:"end"`
}

// Service is the read-through calendar cache.
type Service struct {
	fetcher ics.Fetcher
	src     ics.Source
	zone    *datekey.Zone
	opts    Options
	clock   func() time.Time

	cache   *windowCache
	group   singleflight.Group
	metrics *Metrics
}

// NewService validates opts and builds a Service around fetcher.
func NewService(fetcher ics.Fetcher, opts Options) (*Service, error) {
	if fetcher == nil {
		return nil, errors.New("calendar: fetcher is nil")
	}
	if opts.Zone == nil {
		return nil, errors.New("calendar: zone is nil")
	}
	if opts.Source.URL == "" {
		return nil, errors.New("calendar: feed URL is empty")
	}
	if opts.Source.ID == "" {
		opts.Source.ID = opts.Source.URL
	}
	if opts.FutureDays <= 0 {
		opts.FutureDays = DefaultFutureDays
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.BufferDays <= 0 {
		opts.BufferDays = DefaultBufferDays
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Service{
		fetcher: fetcher,
		src:     opts.Source,
		zone:    opts.Zone,
		opts:    opts,
		clock:   opts.Clock,
		cache:   newWindowCache(),
	}
	if opts.Registerer != nil {
		s.metrics = NewMetrics(opts.Registerer, func() float64 { return float64(s.cache.size()) })
	}
	return s, nil
}

// Resolve returns the items for the requested window. If ctx ends while
// waiting on a shared fetch, Resolve returns an empty list but the fetch
// carries on for the other waiters and the cache.
func (s *Service) Resolve(ctx context.Context, req Request) Result {
	now := req.Now
	if now.IsZero() {
		now = s.clock()
	}
	today := s.zone.KeyOf(now)

	w := ResolveWindow(req.Start, req.End, today, s.opts.FutureDays)
	res := Result{Items: []model.CalendarEventItem{}, Start: w.Start, End: w.End}
	if w.Empty {
		s.metrics.lookup("empty_window")
		return res
	}

	key := cacheKey(s.src.ID, w)
	if e, ok := s.cache.get(key, s.clock()); ok {
		s.metrics.lookup("hit")
		res.Items = RebaseItems(e.items, e.today, today)
		return res
	}
	s.metrics.lookup("miss")

	ch := s.group.DoChan(key, func() (any, error) {
		return s.load(key, w, today)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return res
		}
		e := r.Val.(cacheEntry)
		res.Items = RebaseItems(e.items, e.today, today)
	case <-ctx.Done():
		appLog.Info("calendar resolve abandoned by caller", "window_start", w.Start, "window_end", w.End, "reason", ctx.Err())
	}
	return res
}

// load runs once per key at a time. It is detached from any caller context.
// A panic while building the window settles the flight as a failed fetch.
func (s *Service) load(key string, w Window, today string) (entry cacheEntry, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.metrics.fetch("error", 0)
			err = fmt.Errorf("calendar load panic: %v", p)
			appLog.Error("calendar load panicked; serving no items", err,
				"feed", s.src.ID,
				"window_start", w.Start,
				"window_end", w.End,
			)
			entry = cacheEntry{}
		}
	}()

	// A flight that finished just before this one started may already have
	// stored the window.
	if e, ok := s.cache.get(key, s.clock()); ok {
		return e, nil
	}

	started := time.Now()
	items, err := s.fetchItems(w, today)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		s.metrics.fetch("error", elapsed)
		appLog.Error("calendar fetch failed; serving no items", err,
			"feed", s.src.ID,
			"window_start", w.Start,
			"window_end", w.End,
		)
		return cacheEntry{}, err
	}
	s.metrics.fetch("ok", elapsed)

	expiresAt := s.clock().Add(s.opts.TTL)
	s.cache.set(key, items, today, expiresAt)

	appLog.Info("calendar window cached",
		"feed", s.src.ID,
		"window_start", w.Start,
		"window_end", w.End,
		"items", len(items),
		"expires_at", expiresAt.Format(time.RFC3339),
	)
	return cacheEntry{items: items, today: today, expiresAt: expiresAt}, nil
}

func (s *Service) fetchItems(w Window, today string) ([]model.CalendarEventItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
	defer cancel()

	body, err := s.fetcher.Fetch(ctx, s.src)
	if err != nil {
		return nil, err
	}

	events, err := ics.ParseICS(s.src, body, s.zone.Location())
	if err != nil {
		return nil, err
	}

	from, to, err := w.FetchBoundary(s.zone, s.opts.BufferDays)
	if err != nil {
		return nil, err
	}

	occ, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
		Zone:                   s.zone,
		RangeStart:             from,
		RangeEnd:               to,
		WindowStart:            w.Start,
		WindowEnd:              w.End,
		Today:                  today,
		MaxOccurrencesPerEvent: s.opts.MaxOccurrencesPerEvent,
	})
	if err != nil {
		return nil, err
	}

	items := FormatItems(occ)
	SortItems(items)
	return items, nil
}

// Sweep drops expired cache entries. Reads already evict lazily; this keeps
// windows nobody asks for again from lingering.
func (s *Service) Sweep() int {
	n := s.cache.sweep(s.clock())
	if n > 0 {
		appLog.Debug("calendar cache sweep", "evicted", n)
	}
	return n
}
