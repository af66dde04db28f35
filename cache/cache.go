// Package cache stores aggregation reports by query with TTL expiry,
// LRU and memory-bound eviction, and running statistics.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"price-aggregator/models"
	"price-aggregator/utils"
)

const (
	// lruEvictFraction is the share of entries dropped when the entry limit is hit.
	lruEvictFraction = 10 // percent
	// memoryTargetPercent is where memory eviction stops.
	memoryTargetPercent = 80
)

// Config holds the cache limits.
type Config struct {
	TTL            time.Duration
	MaxEntries     int
	MaxMemoryBytes int64
	SweepInterval  time.Duration
}

// DefaultConfig returns the stock limits: 60s TTL, 1000 entries, 10MB.
func DefaultConfig() Config {
	return Config{
		TTL:            60 * time.Second,
		MaxEntries:     1000,
		MaxMemoryBytes: 10 * 1024 * 1024,
		SweepInterval:  60 * time.Second,
	}
}

// Sizer estimates the memory footprint of a report in bytes.
type Sizer func(*models.AggregationReport) (int, error)

// JSONSizer uses the encoded JSON length as the size estimate.
func JSONSizer(r *models.AggregationReport) (int, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

type entry struct {
	key            string
	value          *models.AggregationReport
	size           int64
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	accessSeq      uint64
	accessCount    int64
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// EntryInfo is the metadata of a single entry.
type EntryInfo struct {
	Key            string    `json:"key"`
	SizeBytes      int64     `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AgeMs          int64     `json:"age_ms"`
	ExpiresInMs    int64     `json:"expires_in_ms"`
	Expired        bool      `json:"expired"`
	AccessCount    int64     `json:"access_count"`
}

// Cache is a process-wide key to report store. One mutex guards the entry
// map and every read-modify-write on it, including the periodic sweep.
// Construct it once at startup; it is safe for concurrent use.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
	memory  int64
	seq     uint64

	stats    counters
	now      func() time.Time
	sizer    Sizer
	observer Observer
	logger   *utils.Logger

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// WithLogger sets the logger used for internal errors.
func WithLogger(l *utils.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithSizer replaces the JSON size estimator.
func WithSizer(s Sizer) Option {
	return func(c *Cache) { c.sizer = s }
}

// New creates a Cache. Zero or negative limits fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Cache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxMemoryBytes <= 0 {
		cfg.MaxMemoryBytes = def.MaxMemoryBytes
	}

	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
		sizer:   JSONSizer,
		logger:  utils.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stats.reset(c.now())
	return c
}

// Config returns the limits the cache was built with.
func (c *Cache) Config() Config {
	return c.cfg
}

// Get returns the value for key if it has not expired. An expired entry is
// removed and counted as a TTL eviction.
func (c *Cache) Get(key string) (*models.AggregationReport, bool) {
	key = normalizeKey(key)
	now := c.now()

	var value *models.AggregationReport
	ev := Event{Type: EventMiss, Key: key}

	err := c.guard(func() {
		e, found := c.entries[key]
		switch {
		case !found:
		case e.expired(now):
			c.removeLocked(e)
			ev.Type = EventExpired
		default:
			c.touchLocked(e, now)
			value = e.value
			ev.Type = EventHit
		}
	})
	if err != nil {
		c.fail(key, fmt.Errorf("get: %w", err))
		c.stats.misses.Add(1)
		return nil, false
	}

	c.countLookup(ev)
	c.emit(ev)
	return value, ev.Type == EventHit
}

// GetMany looks up several keys in one locked pass. Only unexpired hits
// appear in the result; every key counts as a hit or a miss like Get.
func (c *Cache) GetMany(keys []string) map[string]*models.AggregationReport {
	now := c.now()
	out := make(map[string]*models.AggregationReport, len(keys))
	events := make([]Event, 0, len(keys))

	err := c.guard(func() {
		for _, k := range keys {
			key := normalizeKey(k)
			ev := Event{Type: EventMiss, Key: key}
			if e, found := c.entries[key]; found {
				if e.expired(now) {
					c.removeLocked(e)
					ev.Type = EventExpired
				} else {
					c.touchLocked(e, now)
					out[key] = e.value
					ev.Type = EventHit
				}
			}
			events = append(events, ev)
		}
	})
	if err != nil {
		c.fail("", fmt.Errorf("get many: %w", err))
		c.stats.misses.Add(int64(len(keys)))
		return map[string]*models.AggregationReport{}
	}

	for _, ev := range events {
		c.countLookup(ev)
	}
	c.emit(events...)
	return out
}

// Has reports whether key holds an unexpired value. It does not touch
// statistics or recency.
func (c *Cache) Has(key string) bool {
	key = normalizeKey(key)
	now := c.now()

	var ok bool
	if err := c.guard(func() {
		e, found := c.entries[key]
		ok = found && !e.expired(now)
	}); err != nil {
		c.fail(key, fmt.Errorf("has: %w", err))
		return false
	}
	return ok
}

func (c *Cache) countLookup(ev Event) {
	switch ev.Type {
	case EventHit:
		c.stats.hits.Add(1)
	case EventExpired:
		c.stats.evictTTL.Add(1)
		c.stats.misses.Add(1)
	default:
		c.stats.misses.Add(1)
	}
}

// Peek returns the stored value even if it has expired, without touching
// statistics or recency. Used for serving stale data after a failure.
func (c *Cache) Peek(key string) (*models.AggregationReport, bool) {
	key = normalizeKey(key)

	var value *models.AggregationReport
	err := c.guard(func() {
		if e, ok := c.entries[key]; ok {
			value = e.value
		}
	})
	if err != nil {
		c.fail(key, fmt.Errorf("peek: %w", err))
		return nil, false
	}
	return value, value != nil
}

// Set stores value under key for ttl (the default TTL when ttl <= 0).
// Eviction runs before insertion. Failures are counted and logged; Set
// never panics.
func (c *Cache) Set(key string, value *models.AggregationReport, ttl time.Duration) {
	key = normalizeKey(key)
	if key == "" || value == nil {
		c.fail(key, errors.New("set: empty key or nil value"))
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	size, err := c.estimate(value)
	if err != nil {
		c.fail(key, fmt.Errorf("set: size estimate: %w", err))
		return
	}
	size += int64(len(key))

	now := c.now()
	var events []Event
	err = c.guard(func() {
		if old, ok := c.entries[key]; ok {
			c.removeLocked(old)
		}
		events = c.evictLocked()

		c.seq++
		c.entries[key] = &entry{
			key:            key,
			value:          value,
			size:           size,
			createdAt:      now,
			expiresAt:      now.Add(ttl),
			lastAccessedAt: now,
			accessSeq:      c.seq,
		}
		c.memory += size
	})
	if err != nil {
		c.fail(key, fmt.Errorf("set: %w", err))
		return
	}

	c.stats.sets.Add(1)
	c.emit(append(events, Event{Type: EventSet, Key: key})...)
}

// SetMany stores every value with the same ttl, in key order so eviction is
// deterministic.
func (c *Cache) SetMany(values map[string]*models.AggregationReport, ttl time.Duration) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Set(k, values[k], ttl)
	}
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	key = normalizeKey(key)

	var deleted bool
	err := c.guard(func() {
		if e, ok := c.entries[key]; ok {
			c.removeLocked(e)
			deleted = true
		}
	})
	if err != nil {
		c.fail(key, fmt.Errorf("delete: %w", err))
		return false
	}
	if deleted {
		c.stats.deletes.Add(1)
		c.emit(Event{Type: EventDelete, Key: key})
	}
	return deleted
}

// Clear removes every entry and returns how many there were.
func (c *Cache) Clear() int {
	var n int
	err := c.guard(func() {
		n = len(c.entries)
		c.entries = make(map[string]*entry)
		c.memory = 0
	})
	if err != nil {
		c.fail("", fmt.Errorf("clear: %w", err))
		return 0
	}
	c.emit(Event{Type: EventClear, Count: n})
	return n
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	var n int
	err := c.guard(func() {
		for _, e := range c.entries {
			if e.expired(now) {
				c.removeLocked(e)
				n++
			}
		}
	})
	if err != nil {
		c.fail("", fmt.Errorf("sweep: %w", err))
		return 0
	}
	c.stats.evictTTL.Add(int64(n))
	c.emit(Event{Type: EventSweep, Count: n})
	return n
}

// Keys returns the stored keys, expired or not, in sorted order.
func (c *Cache) Keys() []string {
	var keys []string
	_ = c.guard(func() {
		keys = make([]string, 0, len(c.entries))
		for k := range c.entries {
			keys = append(keys, k)
		}
	})
	sort.Strings(keys)
	return keys
}

// EntryInfo returns metadata for key without counting an access.
func (c *Cache) EntryInfo(key string) (EntryInfo, bool) {
	key = normalizeKey(key)
	now := c.now()

	var info EntryInfo
	var ok bool
	_ = c.guard(func() {
		e, found := c.entries[key]
		if !found {
			return
		}
		ok = true
		info = EntryInfo{
			Key:            e.key,
			SizeBytes:      e.size,
			CreatedAt:      e.createdAt,
			ExpiresAt:      e.expiresAt,
			LastAccessedAt: e.lastAccessedAt,
			AgeMs:          now.Sub(e.createdAt).Milliseconds(),
			ExpiresInMs:    e.expiresAt.Sub(now).Milliseconds(),
			Expired:        e.expired(now),
			AccessCount:    e.accessCount,
		}
	})
	return info, ok
}

// Start launches the periodic sweeper. It is a no-op if already running or
// if the sweep interval is not positive.
func (c *Cache) Start(ctx context.Context) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.cancel != nil || c.cfg.SweepInterval <= 0 {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.sweepLoop(ctx)
	c.logger.Info("[cache] sweeper started (every %v)", c.cfg.SweepInterval)
}

// Stop halts the sweeper and waits for it to exit or ctx to expire.
func (c *Cache) Stop(ctx context.Context) error {
	c.lifecycleMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.lifecycleMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("[cache] sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// evictLocked applies the entry-count and memory limits. Caller holds c.mu.
func (c *Cache) evictLocked() []Event {
	var events []Event

	if len(c.entries) >= c.cfg.MaxEntries {
		if n := c.evictLRULocked(); n > 0 {
			c.stats.evictLRU.Add(int64(n))
			events = append(events, Event{Type: EventEvictLRU, Count: n})
		}
	}

	if c.memory >= c.cfg.MaxMemoryBytes {
		if n := c.evictBySizeLocked(); n > 0 {
			c.stats.evictMemory.Add(int64(n))
			events = append(events, Event{Type: EventEvictMemory, Count: n})
		}
	}
	return events
}

// evictLRULocked drops the least recently accessed 10% (at least one).
func (c *Cache) evictLRULocked() int {
	if len(c.entries) == 0 {
		return 0
	}

	byAccess := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		byAccess = append(byAccess, e)
	}
	sort.Slice(byAccess, func(i, j int) bool {
		a, b := byAccess[i], byAccess[j]
		if !a.lastAccessedAt.Equal(b.lastAccessedAt) {
			return a.lastAccessedAt.Before(b.lastAccessedAt)
		}
		return a.accessSeq < b.accessSeq
	})

	count := len(byAccess) * lruEvictFraction / 100
	if count < 1 {
		count = 1
	}
	for _, e := range byAccess[:count] {
		c.removeLocked(e)
	}
	return count
}

// evictBySizeLocked drops the largest entries until memory is at or below
// 80% of the limit.
func (c *Cache) evictBySizeLocked() int {
	bySize := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		bySize = append(bySize, e)
	}
	sort.Slice(bySize, func(i, j int) bool {
		return bySize[i].size > bySize[j].size
	})

	target := c.cfg.MaxMemoryBytes * memoryTargetPercent / 100
	evicted := 0
	for _, e := range bySize {
		if c.memory <= target {
			break
		}
		c.removeLocked(e)
		evicted++
	}
	return evicted
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.memory -= e.size
}

func (c *Cache) touchLocked(e *entry, now time.Time) {
	c.seq++
	e.lastAccessedAt = now
	e.accessSeq = c.seq
	e.accessCount++
}

// guard runs fn under the map lock and turns a panic into an error.
func (c *Cache) guard(fn func()) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered: %v", r)
		}
	}()
	fn()
	return nil
}

func (c *Cache) estimate(value *models.AggregationReport) (size int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered: %v", r)
		}
	}()
	n, err := c.sizer(value)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func (c *Cache) fail(key string, err error) {
	c.stats.errors.Add(1)
	c.logger.Warn("[cache] %q: %v", key, err)
	c.emit(Event{Type: EventError, Key: key, Err: err})
}

func (c *Cache) emit(events ...Event) {
	if c.observer == nil {
		return
	}
	for _, e := range events {
		c.notify(e)
	}
}

// notify delivers one event. A panicking observer is counted as a cache
// error but never re-notified.
func (c *Cache) notify(e Event) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.errors.Add(1)
			c.logger.Error("[cache] observer panicked on %s %q: %v", e.Type, e.Key, r)
		}
	}()
	c.observer.OnCacheEvent(e)
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}
