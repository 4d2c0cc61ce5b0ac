package cache

// EventKind classifies a cache change.
type EventKind string

const (
	// EventFetched fires when a fetch commits a new value.
	EventFetched EventKind = "fetched"
	// EventPatched fires when a value is overwritten directly.
	EventPatched EventKind = "patched"
	// EventInvalidated fires when an entry is marked stale.
	EventInvalidated EventKind = "invalidated"
	// EventPurged fires when an entry is removed.
	EventPurged EventKind = "purged"
)

// Event describes one cache change. Value is set for fetched/patched events.
type Event struct {
	Kind  EventKind
	Key   Key
	Value any
}

// Subscriber receives cache change events. Handlers run synchronously on the
// mutating goroutine and must be fast; anything slow should hand off.
type Subscriber func(Event)

// Subscribe registers a change listener. There is no unsubscribe; listeners
// live as long as the cache.
func (c *Cache) Subscribe(fn Subscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs = append(c.subs, fn)
}

func (c *Cache) publish(ev Event) {
	c.subMu.RLock()
	subs := c.subs
	c.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
