// Package cache implements the keyed query cache at the heart of the sync
// engine: stale-while-revalidate reads, per-key fetch de-duplication, and the
// invalidate/patch/purge surface the mutation coordinator drives.
//
// The cache is an injectable service, not a package singleton; tests
// instantiate isolated instances. All mutation of entries goes through this
// package - callers never hold references into the entry map.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State describes an entry's lifecycle.
type State string

const (
	// StateIdle means the value is trusted until the freshness window ends.
	StateIdle State = "idle"
	// StateFetching means a fetch for this key is in flight.
	StateFetching State = "fetching"
	// StateStale means the next Read must revalidate.
	StateStale State = "stale"
	// StateError means the last refresh failed; any previous value is kept
	// so the UI can show it alongside a retry affordance.
	StateError State = "error"
)

// Entry is a point-in-time snapshot of one cache slot.
type Entry struct {
	Key       Key
	Value     any
	FetchedAt time.Time
	State     State
}

// FetchFunc loads the value for a key from the backend.
type FetchFunc func(ctx context.Context) (any, error)

// Options configures a Cache.
type Options struct {
	// Freshness is how long a fetched value is served without revalidation.
	Freshness time.Duration
	// Logger for background refresh outcomes. Discards if nil.
	Logger *slog.Logger
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// entry is the internal mutable slot.
type entry struct {
	key       Key
	value     any
	fetchedAt time.Time
	state     State
	populated bool
}

// Cache is a keyed, time-stamped in-memory cache of server data.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	freshness time.Duration
	now       func() time.Time
	logger    *slog.Logger

	subMu sync.RWMutex
	subs  []Subscriber
}

// New creates a cache with the given options.
func New(opts Options) *Cache {
	if opts.Freshness <= 0 {
		opts.Freshness = 60 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		entries:   make(map[string]*entry),
		freshness: opts.Freshness,
		now:       opts.Clock,
		logger:    opts.Logger,
	}
}

// Read returns the value for key. A fresh cached value returns immediately.
// A stale value is returned immediately while a background refresh runs
// (stale-while-revalidate). With no value at all, Read blocks until the
// first fetch completes. Concurrent Reads for the same key share one fetch.
func (c *Cache) Read(ctx context.Context, key Key, fetch FetchFunc) (any, error) {
	ks := key.String()

	c.mu.Lock()
	e, ok := c.entries[ks]
	if ok && e.populated {
		age := c.now().Sub(e.fetchedAt)
		if e.state != StateStale && e.state != StateError && age < c.freshness {
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		// Serve the last known value and revalidate in the background.
		v := e.value
		if e.state != StateFetching {
			e.state = StateFetching
		}
		c.mu.Unlock()
		go func() {
			if _, err := c.doFetch(context.WithoutCancel(ctx), key, ks, fetch); err != nil {
				c.logger.Warn("background refresh failed", "key", ks, "error", err)
			}
		}()
		return v, nil
	}
	if !ok {
		e = &entry{key: key, state: StateFetching}
		c.entries[ks] = e
	} else {
		e.state = StateFetching
	}
	c.mu.Unlock()

	return c.awaitFetch(ctx, key, ks, fetch)
}

// awaitFetch joins the in-flight fetch for key, respecting the caller's
// context without canceling the shared flight.
func (c *Cache) awaitFetch(ctx context.Context, key Key, ks string, fetch FetchFunc) (any, error) {
	ch := c.group.DoChan(ks, func() (any, error) {
		return c.runFetch(context.WithoutCancel(ctx), key, ks, fetch)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		// The flight keeps running; its result still lands in the entry.
		return nil, ctx.Err()
	}
}

// doFetch is awaitFetch without the caller-context race, for background
// refreshes.
func (c *Cache) doFetch(ctx context.Context, key Key, ks string, fetch FetchFunc) (any, error) {
	v, err, _ := c.group.Do(ks, func() (any, error) {
		return c.runFetch(ctx, key, ks, fetch)
	})
	return v, err
}

// runFetch performs the network load and commits the outcome to the entry.
// Completion order wins: whatever lands last is what readers see.
func (c *Cache) runFetch(ctx context.Context, key Key, ks string, fetch FetchFunc) (any, error) {
	val, err := fetch(ctx)

	c.mu.Lock()
	e, ok := c.entries[ks]
	if !ok {
		// Purged while in flight (e.g. logout). Discard the result.
		c.mu.Unlock()
		return val, err
	}
	if err != nil {
		e.state = StateError
		var v any
		if e.populated {
			v = e.value
		}
		c.mu.Unlock()
		if e.populated {
			// Degrade: keep serving the previous value.
			return v, err
		}
		return nil, err
	}
	e.value = val
	e.fetchedAt = c.now()
	e.state = StateIdle
	e.populated = true
	c.mu.Unlock()

	c.publish(Event{Kind: EventFetched, Key: key, Value: val})
	return val, nil
}

// Invalidate marks the entry stale, forcing the next Read to refetch.
// Unknown keys are a no-op.
func (c *Cache) Invalidate(key Key) {
	ks := key.String()
	c.mu.Lock()
	e, ok := c.entries[ks]
	if ok {
		e.state = StateStale
	}
	c.mu.Unlock()
	if ok {
		c.publish(Event{Kind: EventInvalidated, Key: key})
	}
}

// InvalidateMatching marks every entry whose key satisfies pred as stale.
func (c *Cache) InvalidateMatching(pred func(Key) bool) {
	var hit []Key
	c.mu.Lock()
	for _, e := range c.entries {
		if pred(e.key) {
			e.state = StateStale
			hit = append(hit, e.key)
		}
	}
	c.mu.Unlock()
	for _, k := range hit {
		c.publish(Event{Kind: EventInvalidated, Key: k})
	}
}

// Patch overwrites the entry's value and timestamp without a refetch. Used
// for confirmed updates and session data.
func (c *Cache) Patch(key Key, value any) {
	ks := key.String()
	c.mu.Lock()
	e, ok := c.entries[ks]
	if !ok {
		e = &entry{key: key}
		c.entries[ks] = e
	}
	e.value = value
	e.fetchedAt = c.now()
	e.state = StateIdle
	e.populated = true
	c.mu.Unlock()

	c.publish(Event{Kind: EventPatched, Key: key, Value: value})
}

// Seed inserts a value as already-stale, so reads serve it immediately and
// revalidate. Used when warming from the offline snapshot.
func (c *Cache) Seed(key Key, value any, fetchedAt time.Time) {
	ks := key.String()
	c.mu.Lock()
	c.entries[ks] = &entry{
		key:       key,
		value:     value,
		fetchedAt: fetchedAt,
		state:     StateStale,
		populated: true,
	}
	c.mu.Unlock()
}

// Purge removes the entry entirely. A later in-flight fetch result for the
// key is discarded.
func (c *Cache) Purge(key Key) {
	ks := key.String()
	c.mu.Lock()
	_, ok := c.entries[ks]
	delete(c.entries, ks)
	c.mu.Unlock()
	if ok {
		c.publish(Event{Kind: EventPurged, Key: key})
	}
}

// PurgeMatching removes every entry whose key satisfies pred. Logout uses
// this for user-scoped keys: purged, not merely marked stale.
func (c *Cache) PurgeMatching(pred func(Key) bool) {
	var hit []Key
	c.mu.Lock()
	for ks, e := range c.entries {
		if pred(e.key) {
			delete(c.entries, ks)
			hit = append(hit, e.key)
		}
	}
	c.mu.Unlock()
	for _, k := range hit {
		c.publish(Event{Kind: EventPurged, Key: k})
	}
}

// Peek returns a snapshot of the entry without triggering any fetch.
func (c *Cache) Peek(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return Entry{}, false
	}
	return Entry{Key: e.key, Value: e.value, FetchedAt: e.fetchedAt, State: e.state}, true
}

// Len returns the number of entries, populated or in flight.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ReadAs is a typed wrapper over Cache.Read.
func ReadAs[T any](ctx context.Context, c *Cache, key Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.Read(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: entry %s holds %T, want %T", key, v, zero)
	}
	return typed, nil
}
