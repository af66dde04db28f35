package cache

import "price-aggregator/utils"

// EventType names a cache event.
type EventType string

const (
	EventHit         EventType = "hit"
	EventMiss        EventType = "miss"
	EventExpired     EventType = "expired"
	EventSet         EventType = "set"
	EventDelete      EventType = "delete"
	EventClear       EventType = "clear"
	EventSweep       EventType = "sweep"
	EventEvictLRU    EventType = "evict_lru"
	EventEvictMemory EventType = "evict_memory"
	EventError       EventType = "error"
)

// Event is delivered to an Observer after the cache lock is released.
type Event struct {
	Type  EventType
	Key   string
	Count int
	Err   error
}

// Observer receives cache events. Implementations must not block for long;
// they run on the caller's goroutine.
type Observer interface {
	OnCacheEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnCacheEvent(e Event) { f(e) }

// LogObserver writes cache events to a logger.
type LogObserver struct {
	Logger *utils.Logger
}

func (o LogObserver) OnCacheEvent(e Event) {
	switch e.Type {
	case EventSweep:
		if e.Count > 0 {
			o.Logger.Info("[cache] auto-cleaned %d expired entries", e.Count)
		}
	case EventEvictLRU, EventEvictMemory:
		o.Logger.Info("[cache] %s evicted %d entries", e.Type, e.Count)
	default:
		o.Logger.Debug("[cache] %s %q", e.Type, e.Key)
	}
}
