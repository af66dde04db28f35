package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-aggregator/cache"
	"price-aggregator/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingAggregator returns whatever next produces and counts calls.
type countingAggregator struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	next     func(query string) *models.AggregationReport
}

func (a *countingAggregator) Aggregate(_ context.Context, query string, _ []Connector) *models.AggregationReport {
	a.calls.Add(1)
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		m := a.maxSeen.Load()
		if n <= m || a.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.next != nil {
		return a.next(query)
	}
	return &models.AggregationReport{ID: query + "-report", Query: query, Listings: []models.NormalizedListing{}}
}

func newTestService(agg ReportAggregator, clock *testClock, opts ...ServiceOption) *PriceService {
	c := cache.New(cache.Config{TTL: 60 * time.Second, MaxEntries: 100, MaxMemoryBytes: 1 << 20}, cache.WithClock(clock.Now))
	return NewPriceService(agg, c, NewRegistry(), opts...)
}

func TestLookupCacheScenario(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	agg := &countingAggregator{}
	svc := newTestService(agg, clock)
	ctx := context.Background()

	first, err := svc.Lookup(ctx, "AK-47")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.EqualValues(t, 1, agg.calls.Load())

	clock.Advance(59_999 * time.Millisecond)
	second, err := svc.Lookup(ctx, "AK-47")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Same(t, first.Report, second.Report)
	assert.EqualValues(t, 1, agg.calls.Load())

	clock.Advance(2 * time.Millisecond)
	third, err := svc.Lookup(ctx, "AK-47")
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.False(t, third.Stale)
	assert.EqualValues(t, 2, agg.calls.Load())
}

func TestLookupNormalizesKey(t *testing.T) {
	clock := &testClock{now: time.Unix(0, 0)}
	agg := &countingAggregator{}
	svc := newTestService(agg, clock)

	_, err := svc.Lookup(context.Background(), "  knife ")
	require.NoError(t, err)
	res, err := svc.Lookup(context.Background(), "knife")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "knife", res.Report.Query)
}

func TestLookupRejectsEmptyItem(t *testing.T) {
	svc := newTestService(&countingAggregator{}, &testClock{})
	for _, item := range []string{"", "   ", "\t\n"} {
		_, err := svc.Lookup(context.Background(), item)
		assert.ErrorIs(t, err, ErrEmptyQuery)
	}
}

func TestLookupServesStaleReportOnInternalFailure(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	var failing atomic.Bool
	agg := &countingAggregator{next: func(q string) *models.AggregationReport {
		if failing.Load() {
			return &models.AggregationReport{Query: q, Diagnostic: "internal error: boom"}
		}
		return &models.AggregationReport{ID: "good", Query: q}
	}}
	svc := newTestService(agg, clock)
	ctx := context.Background()

	_, err := svc.Lookup(ctx, "item")
	require.NoError(t, err)

	failing.Store(true)
	clock.Advance(61 * time.Second)

	res, err := svc.Lookup(ctx, "item")
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.True(t, res.Cached)
	assert.Equal(t, "good", res.Report.ID)

	// The diagnostic report is never cached.
	assert.Empty(t, svc.Cache().Keys())
}

func TestLookupReturnsDiagnosticWithoutStaleEntry(t *testing.T) {
	agg := &countingAggregator{next: func(q string) *models.AggregationReport {
		return &models.AggregationReport{Query: q, Diagnostic: "internal error: boom"}
	}}
	svc := newTestService(agg, &testClock{now: time.Unix(0, 0)})

	res, err := svc.Lookup(context.Background(), "item")
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.True(t, res.Report.Failed())
	assert.Empty(t, svc.Cache().Keys())
}

func TestLookupSingleFlight(t *testing.T) {
	agg := &countingAggregator{delay: 100 * time.Millisecond}
	svc := newTestService(agg, &testClock{now: time.Unix(0, 0)}, WithSingleFlight(true))

	var wg sync.WaitGroup
	reports := make([]*models.AggregationReport, 8)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Lookup(context.Background(), "item")
			assert.NoError(t, err)
			reports[i] = res.Report
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, agg.calls.Load())
	for _, r := range reports {
		assert.Same(t, reports[0], r)
	}
}

func TestAggregateManyLimits(t *testing.T) {
	svc := newTestService(&countingAggregator{}, &testClock{}, WithBatchLimits(3, 2))

	_, err := svc.AggregateMany(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBatchEmpty)

	_, err = svc.AggregateMany(context.Background(), []string{"a", "b", "c", "d"})
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	maxItems, concurrency := svc.BatchLimits()
	assert.Equal(t, 3, maxItems)
	assert.Equal(t, 2, concurrency)
}

func TestAggregateManyRunsInGroups(t *testing.T) {
	agg := &countingAggregator{delay: 20 * time.Millisecond}
	svc := newTestService(agg, &testClock{now: time.Unix(0, 0)}, WithBatchLimits(10, 2))

	items := []string{"a", " b ", "", "c", "d"}
	results, err := svc.AggregateMany(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, len(items))

	for i, r := range results {
		assert.Equal(t, strings.TrimSpace(items[i]), r.Item)
	}
	assert.Equal(t, ErrEmptyQuery.Error(), results[2].Error)
	assert.Nil(t, results[2].Report)
	assert.Equal(t, "b", results[1].Report.Query)

	assert.EqualValues(t, 4, agg.calls.Load())
	assert.LessOrEqual(t, agg.maxSeen.Load(), int32(2))
}

func TestAggregateManyCancelled(t *testing.T) {
	svc := newTestService(&countingAggregator{}, &testClock{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.AggregateMany(ctx, []string{"a"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func slowSteam(delay time.Duration) Connector {
	return ConnectorFunc{ID: "steam", Fetch: func(ctx context.Context, item string) ([]models.RawListing, error) {
		select {
		case <-time.After(delay):
			return []models.RawListing{raw("steam", "10", "USD")}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

func TestLookupDoesNotCacheCancelledAggregation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(slowSteam(50*time.Millisecond), 0))
	agg := NewAggregator(NewScorer(), time.Second, nil)
	svc := NewPriceService(agg, cache.New(cache.Config{}), reg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(5*time.Millisecond, cancel)
	first, err := svc.Lookup(ctx, "AK-47")
	require.NoError(t, err)
	assert.Empty(t, first.Report.Listings)
	assert.Empty(t, svc.Cache().Keys())

	second, err := svc.Lookup(context.Background(), "AK-47")
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.Len(t, second.Report.Listings, 1)
}

func TestSingleFlightSurvivesLeaderCancellation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(slowSteam(50*time.Millisecond), 0))
	agg := NewAggregator(NewScorer(), time.Second, nil)
	svc := NewPriceService(agg, cache.New(cache.Config{}), reg, WithSingleFlight(true))

	leaderCtx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(5*time.Millisecond, cancel)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i, ctx := range []context.Context{leaderCtx, context.Background()} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Lookup(ctx, "AK-47")
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	for _, res := range results {
		assert.Len(t, res.Report.Listings, 1)
	}
	assert.Equal(t, []string{"AK-47"}, svc.Cache().Keys())
}
