package utils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLSetNoDuplicates(t *testing.T) {
	s := NewURLSet()

	assert.True(t, s.Add("https://example.com/1"), "first Add should return true")
	assert.False(t, s.Add("https://example.com/1"), "second Add of same URL should return false")
	assert.Equal(t, 1, s.Size())
}

func TestURLSetConcurrency(t *testing.T) {
	s := NewURLSet()
	var added int64
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Add("https://example.com/same") {
				atomic.AddInt64(&added, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, added, "expected exactly 1 successful add")
}

func TestThrottleSpacing(t *testing.T) {
	interval := 50 * time.Millisecond
	th := NewThrottle(interval)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Wait(ctx))
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		// rate.Limiter may release a few ms early; allow small slack.
		assert.GreaterOrEqual(t, gap, interval-10*time.Millisecond, "gap %d", i)
	}
}

func TestThrottleDisabled(t *testing.T) {
	th := NewThrottle(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestThrottleHonoursContext(t *testing.T) {
	th := NewThrottle(time.Hour)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, th.Wait(ctx))
}

func TestRunInGroupsBoundsConcurrency(t *testing.T) {
	var inFlight, peak int64
	var calls int64

	err := RunInGroups(context.Background(), 7, 2, func(ctx context.Context, i int) error {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		atomic.AddInt64(&calls, 1)
		return nil
	})

	require.NoError(t, err)
	assert.EqualValues(t, 7, calls)
	assert.LessOrEqual(t, peak, int64(2))
}

func TestRunInGroupsGroupsAreSequential(t *testing.T) {
	var mu sync.Mutex
	var order []int

	err := RunInGroups(context.Background(), 4, 2, func(ctx context.Context, i int) error {
		if i < 2 {
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
		return nil
	})

	require.NoError(t, err)
	require.Len(t, order, 4)
	// the slow first group must complete before the second group starts
	assert.ElementsMatch(t, []int{0, 1}, order[:2])
	assert.ElementsMatch(t, []int{2, 3}, order[2:])
}

func TestRunInGroupsStopsOnError(t *testing.T) {
	var calls int64
	boom := errors.New("boom")

	err := RunInGroups(context.Background(), 6, 2, func(ctx context.Context, i int) error {
		atomic.AddInt64(&calls, 1)
		if i == 1 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 2, calls)
}
