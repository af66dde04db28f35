package cache

import (
	"fmt"
	"sync/atomic"
	"time"
)

// counters are bumped outside the map lock.
type counters struct {
	hits          atomic.Int64
	misses        atomic.Int64
	sets          atomic.Int64
	deletes       atomic.Int64
	errors        atomic.Int64
	evictTTL      atomic.Int64
	evictLRU      atomic.Int64
	evictMemory   atomic.Int64
	startUnixNano atomic.Int64
}

func (c *counters) reset(now time.Time) {
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	c.deletes.Store(0)
	c.errors.Store(0)
	c.evictTTL.Store(0)
	c.evictLRU.Store(0)
	c.evictMemory.Store(0)
	c.startUnixNano.Store(now.UnixNano())
}

// Evictions breaks evictions down by cause.
type Evictions struct {
	Total  int64 `json:"total"`
	TTL    int64 `json:"ttl"`
	LRU    int64 `json:"lru"`
	Memory int64 `json:"memory"`
}

// EntryAge describes the oldest or newest entry.
type EntryAge struct {
	Key         string `json:"key"`
	AgeMs       int64  `json:"age_ms"`
	ExpiresInMs int64  `json:"expires_in_ms"`
}

// Statistics is a point-in-time snapshot of the cache.
type Statistics struct {
	Size               int       `json:"size"`
	TTLMs              int64     `json:"ttl_ms"`
	MaxEntries         int       `json:"max_entries"`
	MaxMemoryBytes     int64     `json:"max_memory_bytes"`
	MemoryBytes        int64     `json:"memory_bytes"`
	MemoryMB           float64   `json:"memory_mb"`
	MemoryUsagePercent float64   `json:"memory_usage_percent"`
	Hits               int64     `json:"hits"`
	Misses             int64     `json:"misses"`
	Sets               int64     `json:"sets"`
	Deletes            int64     `json:"deletes"`
	Errors             int64     `json:"errors"`
	Evictions          Evictions `json:"evictions"`
	HitRate            float64   `json:"hit_rate"`
	MissRate           float64   `json:"miss_rate"`
	ExpiredEntries     int       `json:"expired_entries"`
	ValidEntries       int       `json:"valid_entries"`
	OldestEntry        *EntryAge `json:"oldest_entry"`
	NewestEntry        *EntryAge `json:"newest_entry"`
	UptimeMs           int64     `json:"uptime_ms"`
	Uptime             string    `json:"uptime"`
	StartedAt          time.Time `json:"started_at"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Stats returns a snapshot of counters and entry metadata.
func (c *Cache) Stats() Statistics {
	now := c.now()

	c.mu.Lock()
	s := Statistics{
		Size:           len(c.entries),
		TTLMs:          c.cfg.TTL.Milliseconds(),
		MaxEntries:     c.cfg.MaxEntries,
		MaxMemoryBytes: c.cfg.MaxMemoryBytes,
		MemoryBytes:    c.memory,
	}
	var oldest, newest *entry
	for _, e := range c.entries {
		if e.expired(now) {
			s.ExpiredEntries++
		}
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldest = e
		}
		if newest == nil || e.createdAt.After(newest.createdAt) {
			newest = e
		}
	}
	if oldest != nil {
		s.OldestEntry = ageOf(oldest, now)
		s.NewestEntry = ageOf(newest, now)
	}
	c.mu.Unlock()

	s.ValidEntries = s.Size - s.ExpiredEntries
	s.MemoryMB = float64(s.MemoryBytes) / (1024 * 1024)
	if s.MaxMemoryBytes > 0 {
		s.MemoryUsagePercent = float64(s.MemoryBytes) / float64(s.MaxMemoryBytes) * 100
	}

	s.Hits = c.stats.hits.Load()
	s.Misses = c.stats.misses.Load()
	s.Sets = c.stats.sets.Load()
	s.Deletes = c.stats.deletes.Load()
	s.Errors = c.stats.errors.Load()
	s.Evictions = Evictions{
		TTL:    c.stats.evictTTL.Load(),
		LRU:    c.stats.evictLRU.Load(),
		Memory: c.stats.evictMemory.Load(),
	}
	s.Evictions.Total = s.Evictions.TTL + s.Evictions.LRU + s.Evictions.Memory

	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
		s.MissRate = 1 - s.HitRate
	}

	s.StartedAt = time.Unix(0, c.stats.startUnixNano.Load())
	uptime := now.Sub(s.StartedAt)
	s.UptimeMs = uptime.Milliseconds()
	s.Uptime = formatUptime(uptime)
	s.GeneratedAt = now
	return s
}

// ResetStats zeroes every counter and restarts the uptime clock.
func (c *Cache) ResetStats() {
	c.stats.reset(c.now())
}

func ageOf(e *entry, now time.Time) *EntryAge {
	return &EntryAge{
		Key:         e.key,
		AgeMs:       now.Sub(e.createdAt).Milliseconds(),
		ExpiresInMs: e.expiresAt.Sub(now).Milliseconds(),
	}
}

func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
