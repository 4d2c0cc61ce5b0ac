package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(clock *fakeClock) *Cache {
	return New(Options{Freshness: time.Minute, Clock: clock.Now})
}

func TestRead_BlocksUntilFirstFetch(t *testing.T) {
	c := newTestCache(newFakeClock())

	v, err := c.Read(context.Background(), NewKey("novel", "n1"), func(context.Context) (any, error) {
		return "the-novel", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "the-novel", v)

	e, ok := c.Peek(NewKey("novel", "n1"))
	require.True(t, ok)
	assert.Equal(t, StateIdle, e.State)
}

func TestRead_FreshValueSkipsFetch(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	key := NewKey("novel", "n1")

	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		return "v1", nil
	}

	_, err := c.Read(context.Background(), key, fetch)
	require.NoError(t, err)

	clock.Advance(30 * time.Second) // still inside the window
	v, err := c.Read(context.Background(), key, fetch)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRead_StaleWhileRevalidate(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	key := NewKey("novel", "n1")

	fetched := make(chan struct{}, 16)
	var value atomic.Value
	value.Store("v1")
	fetch := func(context.Context) (any, error) {
		defer func() { fetched <- struct{}{} }()
		return value.Load(), nil
	}

	_, err := c.Read(context.Background(), key, fetch)
	require.NoError(t, err)
	<-fetched

	// Past the freshness window: the stale value is served immediately and
	// refreshed in the background.
	clock.Advance(2 * time.Minute)
	value.Store("v2")

	v, err := c.Read(context.Background(), key, fetch)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh never ran")
	}

	// The refreshed value is now served.
	require.Eventually(t, func() bool {
		v, err := c.Read(context.Background(), key, fetch)
		return err == nil && v == "v2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRead_ConcurrentReadsShareOneFetch(t *testing.T) {
	c := newTestCache(newFakeClock())
	key := NewKey("chapters", "n1")

	var calls atomic.Int32
	gate := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return "chapters", nil
	}

	const readers = 8
	var wg sync.WaitGroup
	results := make([]any, readers)
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Read(context.Background(), key, fetch)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	// Let all readers pile onto the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "exactly one fetch per key at a time")
	for _, v := range results {
		assert.Equal(t, "chapters", v)
	}
}

func TestRead_CallerCancelDoesNotCancelFlight(t *testing.T) {
	c := newTestCache(newFakeClock())
	key := NewKey("novel", "n1")

	done := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		defer close(done)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return "late", nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Read(ctx, key, fetch)
	assert.ErrorIs(t, err, context.Canceled)

	// The flight finishes anyway and its result lands in the entry.
	<-done
	require.Eventually(t, func() bool {
		e, ok := c.Peek(key)
		return ok && e.Value == "late"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRead_FirstFetchErrorPropagates(t *testing.T) {
	c := newTestCache(newFakeClock())
	key := NewKey("novel", "missing")

	wantErr := assert.AnError
	_, err := c.Read(context.Background(), key, func(context.Context) (any, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	e, ok := c.Peek(key)
	require.True(t, ok)
	assert.Equal(t, StateError, e.State)
}

func TestRead_RefreshFailureKeepsOldValue(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	key := NewKey("novel", "n1")

	ok := func(context.Context) (any, error) { return "v1", nil }
	failed := make(chan struct{})
	fail := func(context.Context) (any, error) {
		defer close(failed)
		return nil, assert.AnError
	}

	_, err := c.Read(context.Background(), key, ok)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	v, err := c.Read(context.Background(), key, fail)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	<-failed
	require.Eventually(t, func() bool {
		e, ok := c.Peek(key)
		return ok && e.State == StateError && e.Value == "v1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	c := newTestCache(newFakeClock())
	key := NewKey("chapters", "n1")

	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		return calls.Load(), nil
	}

	_, err := c.Read(context.Background(), key, fetch)
	require.NoError(t, err)

	c.Invalidate(key)
	e, ok := c.Peek(key)
	require.True(t, ok)
	assert.Equal(t, StateStale, e.State)

	// The stale read serves the old value and revalidates in the background.
	v, err := c.Read(context.Background(), key, fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond, "invalidate must force a refetch")
}

func TestInvalidateMatching(t *testing.T) {
	c := newTestCache(newFakeClock())
	c.Patch(NewKey("chapters", "n1"), "a")
	c.Patch(NewKey("chapters", "n2"), "b")
	c.Patch(NewKey("novel", "n1"), "c")

	c.InvalidateMatching(func(k Key) bool { return k.Kind() == "chapters" })

	for _, tt := range []struct {
		key  Key
		want State
	}{
		{NewKey("chapters", "n1"), StateStale},
		{NewKey("chapters", "n2"), StateStale},
		{NewKey("novel", "n1"), StateIdle},
	} {
		e, ok := c.Peek(tt.key)
		require.True(t, ok)
		assert.Equal(t, tt.want, e.State, tt.key.String())
	}
}

func TestPatch_OverwritesWithoutFetch(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	key := NewKey("user")

	c.Patch(key, "profile-v1")

	v, err := c.Read(context.Background(), key, func(context.Context) (any, error) {
		t.Fatal("patched fresh entry must not refetch")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "profile-v1", v)
}

func TestPurgeMatching_RemovesUserScopedKeys(t *testing.T) {
	c := newTestCache(newFakeClock())
	c.Patch(NewKey("bookmarks"), "b")
	c.Patch(NewKey("userRating", "n1"), 4)
	c.Patch(NewKey("novels", "user"), "mine")
	c.Patch(NewKey("novel", "n1"), "public")

	userScoped := map[string]bool{"bookmarks": true, "userRating": true, "novels": true, "user": true}
	c.PurgeMatching(func(k Key) bool { return userScoped[k.Kind()] })

	_, ok := c.Peek(NewKey("bookmarks"))
	assert.False(t, ok, "purged entries are gone, not stale")
	_, ok = c.Peek(NewKey("userRating", "n1"))
	assert.False(t, ok)
	_, ok = c.Peek(NewKey("novels", "user"))
	assert.False(t, ok)

	// Public data survives logout.
	_, ok = c.Peek(NewKey("novel", "n1"))
	assert.True(t, ok)
}

func TestPurge_DiscardsInFlightResult(t *testing.T) {
	c := newTestCache(newFakeClock())
	key := NewKey("bookmarks")

	gate := make(chan struct{})
	go func() {
		_, _ = c.Read(context.Background(), key, func(context.Context) (any, error) {
			<-gate
			return "stale-user-data", nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	c.Purge(key)
	close(gate)

	// The late result must not repopulate the purged slot.
	assert.Never(t, func() bool {
		e, ok := c.Peek(key)
		return ok && e.Value == "stale-user-data"
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestSeed_ServesThenRevalidates(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	key := NewKey("novel", "n1")

	c.Seed(key, "from-disk", clock.Now().Add(-time.Hour))

	refreshed := make(chan struct{})
	v, err := c.Read(context.Background(), key, func(context.Context) (any, error) {
		defer close(refreshed)
		return "from-network", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-disk", v, "seeded value serves instantly")

	<-refreshed
	require.Eventually(t, func() bool {
		e, ok := c.Peek(key)
		return ok && e.Value == "from-network"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	c := newTestCache(newFakeClock())

	var mu sync.Mutex
	var kinds []EventKind
	c.Subscribe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	key := NewKey("novel", "n1")
	c.Patch(key, "v")
	c.Invalidate(key)
	c.Purge(key)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventPatched, EventInvalidated, EventPurged}, kinds)
}

func TestReadAs_Typed(t *testing.T) {
	c := newTestCache(newFakeClock())

	v, err := ReadAs(context.Background(), c, NewKey("count"), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestKey(t *testing.T) {
	k := NewKey("chapters", "n1")
	assert.Equal(t, "chapters/n1", k.String())
	assert.Equal(t, "chapters", k.Kind())
	assert.True(t, k.HasPrefix("chapters"))
	assert.True(t, k.HasPrefix("chapters", "n1"))
	assert.False(t, k.HasPrefix("chapters", "n2"))
	assert.False(t, k.HasPrefix("chapters", "n1", "extra"))
	assert.True(t, k.Equal(NewKey("chapters", "n1")))
	assert.False(t, k.Equal(NewKey("chapters")))
}
