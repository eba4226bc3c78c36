package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcal/internal/datekey"
	"groupcal/internal/ics"
)

const sampleFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//groupcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:before\r\nDTSTART:20240309T100000Z\r\nSUMMARY:Before\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:today\r\nDTSTART:20240310T100000Z\r\nDTEND:20240310T110000Z\r\nSUMMARY:Today\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:last\r\nDTSTART:20240324T100000Z\r\nSUMMARY:Last\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:after\r\nDTSTART:20240325T100000Z\r\nSUMMARY:After\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// spyFetcher counts calls and optionally blocks until gate is closed.
type spyFetcher struct {
	calls atomic.Int32
	body  []byte
	err   error
	gate  chan struct{}
}

func (f *spyFetcher) Fetch(ctx context.Context, _ ics.Source) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

// stallFetcher blocks until the fetch context ends.
type stallFetcher struct {
	calls atomic.Int32
}

func (f *stallFetcher) Fetch(ctx context.Context, _ ics.Source) ([]byte, error) {
	f.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, ics.Source) ([]byte, error) {
	panic("boom")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, f ics.Fetcher, clock *fakeClock, reg prometheus.Registerer) *Service {
	t.Helper()
	s, err := NewService(f, Options{
		Source:     ics.Source{ID: "group-cal", URL: "https://example.com/basic.ics"},
		Zone:       datekey.InLocation(time.UTC),
		Clock:      clock.Now,
		Registerer: reg,
	})
	require.NoError(t, err)
	return s
}

func TestResolveDefaultWindowScenario(t *testing.T) {
	f := &spyFetcher{body: []byte(sampleFeed)}
	s := newTestService(t, f, &fakeClock{now: testNow}, nil)

	res := s.Resolve(context.Background(), Request{})

	assert.Equal(t, "2024-03-10", res.Start)
	assert.Equal(t, "2024-03-24", res.End)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "today_2024-03-10T10:00:00.000Z", res.Items[0].ID)
	assert.Equal(t, 0, res.Items[0].DaysOffset)
	assert.Equal(t, "last_2024-03-24T10:00:00.000Z", res.Items[1].ID)
	assert.Equal(t, 14, res.Items[1].DaysOffset)

	for _, it := range res.Items {
		key := it.StartAt[:len(datekey.Layout)]
		assert.GreaterOrEqual(t, key, res.Start)
		assert.LessOrEqual(t, key, res.End)
	}
}

func TestResolveSingleFlight(t *testing.T) {
	f := &spyFetcher{body: []byte(sampleFeed), gate: make(chan struct{})}
	s := newTestService(t, f, &fakeClock{now: testNow}, nil)

	const callers = 25
	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Resolve(context.Background(), Request{Now: testNow})
		}(i)
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the remaining callers a chance to attach to the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, r := range results {
		assert.Equal(t, results[0].Items, r.Items)
		assert.Len(t, r.Items, 2)
	}
}

func TestResolveTTL(t *testing.T) {
	f := &spyFetcher{body: []byte(sampleFeed)}
	clock := &fakeClock{now: testNow}
	s := newTestService(t, f, clock, nil)
	ctx := context.Background()

	s.Resolve(ctx, Request{})
	require.Equal(t, int32(1), f.calls.Load())

	clock.Advance(DefaultTTL - time.Second)
	s.Resolve(ctx, Request{})
	assert.Equal(t, int32(1), f.calls.Load(), "fresh entry must be served from cache")

	clock.Advance(2 * time.Second)
	s.Resolve(ctx, Request{})
	assert.Equal(t, int32(2), f.calls.Load(), "expired entry must be refetched")
}

func TestResolveDistinctWindowsAreDistinctEntries(t *testing.T) {
	f := &spyFetcher{body: []byte(sampleFeed)}
	s := newTestService(t, f, &fakeClock{now: testNow}, nil)
	ctx := context.Background()

	s.Resolve(ctx, Request{})
	s.Resolve(ctx, Request{Start: "2024-03-10", End: "2024-03-20"})
	s.Resolve(ctx, Request{Start: "2024-03-10", End: "2024-03-24"})

	assert.Equal(t, int32(2), f.calls.Load())
}

func TestResolveEmptyWindowShortCircuits(t *testing.T) {
	f := &spyFetcher{body: []byte(sampleFeed)}
	s := newTestService(t, f, &fakeClock{now: testNow}, nil)

	res := s.Resolve(context.Background(), Request{Start: "2024-03-20", End: "2024-03-10"})

	assert.Empty(t, res.Items)
	assert.NotNil(t, res.Items)
	assert.Equal(t, "2024-03-20", res.Start)
	assert.Equal(t, "2024-03-10", res.End)
	assert.Equal(t, int32(0), f.calls.Load())
	assert.Equal(t, 0, s.cache.size())
}

func TestResolveFailureIsNotCached(t *testing.T) {
	f := &spyFetcher{err: errors.New("connection refused")}
	s := newTestService(t, f, &fakeClock{now: testNow}, nil)
	ctx := context.Background()

	res := s.Resolve(ctx, Request{})
	assert.Empty(t, res.Items)
	assert.Equal(t, "2024-03-10", res.Start)

	s.Resolve(ctx, Request{})
	assert.Equal(t, int32(2), f.calls.Load(), "failures must not be cached")
	assert.Equal(t, 0, s.cache.size())
}

func TestResolveFetchTimeoutIsAFailure(t *testing.T) {
	f := &stallFetcher{}
	s, err := NewService(f, Options{
		Source:       ics.Source{ID: "group-cal", URL: "https://example.com/basic.ics"},
		Zone:         datekey.InLocation(time.UTC),
		Clock:        (&fakeClock{now: testNow}).Now,
		FetchTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	ctx := context.Background()

	res := s.Resolve(ctx, Request{})
	assert.Empty(t, res.Items)
	assert.Equal(t, 0, s.cache.size())

	s.Resolve(ctx, Request{})
	assert.Equal(t, int32(2), f.calls.Load(), "timed out fetches must not be cached")
}

func TestResolveRecoversFromPanickingLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestService(t, panicFetcher{}, &fakeClock{now: testNow}, reg)

	var res Result
	require.NotPanics(t, func() {
		res = s.Resolve(context.Background(), Request{})
	})
	assert.Empty(t, res.Items)
	assert.Equal(t, "2024-03-10", res.Start)
	assert.Equal(t, 0, s.cache.size())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.fetches.WithLabelValues("error")))
}

func TestResolveSurvivesPanickingRRule(t *testing.T) {
	feed := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//groupcal//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:odd\r\nDTSTART:20240104T190000Z\r\nRRULE:FREQ=MONTHLY;BYDAY=+9MO\r\nSUMMARY:Odd\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:today\r\nDTSTART:20240310T100000Z\r\nSUMMARY:Today\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	s := newTestService(t, &spyFetcher{body: []byte(feed)}, &fakeClock{now: testNow}, nil)

	var res Result
	require.NotPanics(t, func() {
		res = s.Resolve(context.Background(), Request{Start: "2024-01-01", End: "2024-12-31"})
	})
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Today", res.Items[0].Title)
	assert.Equal(t, "Odd", res.Items[1].Title)
	assert.Equal(t, -66, res.Items[1].DaysOffset)
}

func TestResolveUnparseableFeedDegrades(t *testing.T) {
	f := &spyFetcher{body: []byte{}}
	s := newTestService(t, f, &fakeClock{now: testNow}, nil)

	res := s.Resolve(context.Background(), Request{})
	assert.Empty(t, res.Items)
	assert.Equal(t, 0, s.cache.size())
}

func TestResolveCallerCancellationDoesNotCancelSharedFetch(t *testing.T) {
	f := &spyFetcher{body: []byte(sampleFeed), gate: make(chan struct{})}
	s := newTestService(t, f, &fakeClock{now: testNow}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- s.Resolve(ctx, Request{}) }()

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Empty(t, res.Items)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(f.gate)
	res := s.Resolve(context.Background(), Request{})
	assert.Len(t, res.Items, 2)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestResolveRebasesCachedOffsets(t *testing.T) {
	f := &spyFetcher{body: []byte(sampleFeed)}
	s := newTestService(t, f, &fakeClock{now: testNow}, nil)
	ctx := context.Background()
	req := Request{Start: "2024-03-10", End: "2024-03-24", Now: testNow}

	first := s.Resolve(ctx, req)
	require.Len(t, first.Items, 2)

	req.Now = testNow.Add(24 * time.Hour)
	second := s.Resolve(ctx, req)
	require.Len(t, second.Items, 2)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, -1, second.Items[0].DaysOffset)
	assert.Equal(t, 13, second.Items[1].DaysOffset)
	assert.Equal(t, 0, first.Items[0].DaysOffset, "earlier results are not mutated")
}

func TestSweepEvictsExpired(t *testing.T) {
	f := &spyFetcher{body: []byte(sampleFeed)}
	clock := &fakeClock{now: testNow}
	s := newTestService(t, f, clock, nil)
	ctx := context.Background()

	s.Resolve(ctx, Request{})
	s.Resolve(ctx, Request{End: "2024-03-12"})
	require.Equal(t, 2, s.cache.size())

	assert.Equal(t, 0, s.Sweep())
	clock.Advance(DefaultTTL + time.Millisecond)
	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 0, s.cache.size())
}

func TestResolveMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := &spyFetcher{body: []byte(sampleFeed)}
	s := newTestService(t, f, &fakeClock{now: testNow}, reg)
	ctx := context.Background()

	s.Resolve(ctx, Request{})
	s.Resolve(ctx, Request{})
	s.Resolve(ctx, Request{Start: "2024-04-01", End: "2024-03-01"})

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.lookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.lookups.WithLabelValues("empty_window")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.fetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.entries))
}

func TestResolveOverHTTP(t *testing.T) {
	var hits, status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if code := int(status.Load()); code != http.StatusOK {
			http.Error(w, "unavailable", code)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	clock := &fakeClock{now: testNow}
	s, err := NewService(ics.NewHTTPFetcher(time.Second), Options{
		Source: ics.Source{ID: "group-cal", URL: srv.URL + "/basic.ics"},
		Zone:   datekey.InLocation(time.UTC),
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	res := s.Resolve(context.Background(), Request{})
	assert.Len(t, res.Items, 2)

	status.Store(http.StatusBadGateway)
	clock.Advance(time.Minute)
	res = s.Resolve(context.Background(), Request{})
	assert.Empty(t, res.Items)
	assert.Equal(t, int32(2), hits.Load())
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(nil, Options{})
	assert.Error(t, err)

	_, err = NewService(&spyFetcher{}, Options{Source: ics.Source{URL: "x"}})
	assert.Error(t, err)

	_, err = NewService(&spyFetcher{}, Options{Zone: datekey.InLocation(time.UTC)})
	assert.True(t, err != nil && strings.Contains(err.Error(), "feed URL"))
}
