// Package providers holds the dependency providers wired by the container.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/config"
	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/keys"
	"github.com/tallyapp/tally-go/internal/logger"
	"github.com/tallyapp/tally-go/internal/remote"
	"github.com/tallyapp/tally-go/internal/search"
	"github.com/tallyapp/tally-go/internal/snapshot"
)

// ProvideLogger provides the engine logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	return logger.New(logger.Config{
		Environment: cfg.App.Environment,
		Level:       logger.ParseLevel(cfg.Logger.Level),
	}), nil
}

// ProvideRemoteClient provides the backend client.
func ProvideRemoteClient(i do.Injector) (*remote.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return remote.New(remote.Config{
		BaseURL:   cfg.BaaS.URL,
		AnonKey:   cfg.BaaS.AnonKey,
		Timeout:   cfg.BaaS.HTTPTimeout,
		RateRPS:   cfg.BaaS.RateRPS,
		RateBurst: cfg.BaaS.RateBurst,
		Logger:    log.Logger,
	}), nil
}

// ProvideCache provides the query cache.
func ProvideCache(i do.Injector) (*cache.Cache, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return cache.New(cache.Options{
		Freshness: cfg.Cache.FreshnessWindow,
		Logger:    log.Logger,
	}), nil
}

// SnapshotHandle owns the offline snapshot store's lifecycle. Store is nil
// when snapshotting is disabled by configuration.
type SnapshotHandle struct {
	Store *snapshot.Store
}

// Shutdown closes the store.
func (h *SnapshotHandle) Shutdown() error {
	if h.Store == nil {
		return nil
	}
	return h.Store.Close()
}

// ProvideSnapshot opens the snapshot store, registers the snapshot-worthy
// kinds, wires it to cache events, and warms the cache from disk.
func ProvideSnapshot(i do.Injector) (*SnapshotHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.Cache.SnapshotPath == "" {
		return &SnapshotHandle{}, nil
	}

	log := do.MustInvoke[*logger.Logger](i)
	c := do.MustInvoke[*cache.Cache](i)

	store, err := snapshot.Open(cfg.Cache.SnapshotPath, log.Logger)
	if err != nil {
		return nil, err
	}

	snapshot.Register[[]domain.Novel](store, keys.KindNovels)
	snapshot.Register[*domain.Novel](store, keys.KindNovel)
	snapshot.Register[[]domain.Chapter](store, keys.KindChapters)
	snapshot.Register[*domain.Chapter](store, keys.KindChapter)
	snapshot.Register[[]domain.Bookmark](store, keys.KindBookmarks)

	if err := store.Warm(c); err != nil {
		log.Warn("snapshot warm failed", "error", err)
	}
	c.Subscribe(store.Listener())

	return &SnapshotHandle{Store: store}, nil
}

// SearchHandle owns the offline search index's lifecycle.
type SearchHandle struct {
	Index *search.Index
}

// Shutdown closes the index.
func (h *SearchHandle) Shutdown() error {
	return h.Index.Close()
}

// ProvideSearch provides the offline novel index, fed by cache events.
func ProvideSearch(i do.Injector) (*SearchHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	c := do.MustInvoke[*cache.Cache](i)

	idx, err := search.New(log.Logger)
	if err != nil {
		return nil, err
	}
	c.Subscribe(idx.Listener())

	return &SearchHandle{Index: idx}, nil
}
