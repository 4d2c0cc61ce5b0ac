package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWarm_RoundTripsRegisteredKinds(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	Register[domain.Novel](s, "novel")

	c := cache.New(cache.Options{Freshness: time.Minute})
	c.Subscribe(s.Listener())

	novel := domain.Novel{ID: "n1", Title: "The Long Serial", Status: domain.NovelOngoing}
	c.Patch(cache.NewKey("novel", "n1"), novel)
	// Unregistered kinds are not persisted.
	c.Patch(cache.NewKey("bookmarks"), []string{"n1"})
	require.NoError(t, s.Close())

	// Fresh process: warm a new cache from disk.
	s2, err := Open(dir, nil)
	require.NoError(t, err)
	defer s2.Close()
	Register[domain.Novel](s2, "novel")

	c2 := cache.New(cache.Options{Freshness: time.Minute})
	require.NoError(t, s2.Warm(c2))

	e, ok := c2.Peek(cache.NewKey("novel", "n1"))
	require.True(t, ok)
	assert.Equal(t, cache.StateStale, e.State, "warmed entries must revalidate")
	got, ok := e.Value.(domain.Novel)
	require.True(t, ok)
	assert.Equal(t, "The Long Serial", got.Title)

	_, ok = c2.Peek(cache.NewKey("bookmarks"))
	assert.False(t, ok, "user-scoped kinds never hit disk")
}

func TestWarm_SeededEntryServesBeforeNetwork(t *testing.T) {
	s := openTestStore(t)
	Register[domain.Novel](s, "novel")

	c := cache.New(cache.Options{Freshness: time.Minute})
	c.Subscribe(s.Listener())
	c.Patch(cache.NewKey("novel", "n1"), domain.Novel{ID: "n1", Title: "Cached"})

	c2 := cache.New(cache.Options{Freshness: time.Minute})
	require.NoError(t, s.Warm(c2))

	v, err := c2.Read(context.Background(), cache.NewKey("novel", "n1"), func(context.Context) (any, error) {
		return domain.Novel{ID: "n1", Title: "Fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Cached", v.(domain.Novel).Title)
}

func TestListener_PurgeDeletesRecord(t *testing.T) {
	s := openTestStore(t)
	Register[domain.Novel](s, "novel")

	c := cache.New(cache.Options{Freshness: time.Minute})
	c.Subscribe(s.Listener())

	key := cache.NewKey("novel", "n1")
	c.Patch(key, domain.Novel{ID: "n1"})
	c.Purge(key)

	c2 := cache.New(cache.Options{Freshness: time.Minute})
	require.NoError(t, s.Warm(c2))
	_, ok := c2.Peek(key)
	assert.False(t, ok)
}
