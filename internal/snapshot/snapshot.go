// Package snapshot persists cacheable query results to a local Badger store
// so previously fetched novels and chapters render before the network
// answers. Entries are warmed back into the cache as stale, which makes the
// next read serve them instantly and revalidate in the background.
//
// Only registered key kinds are snapshotted. User-scoped kinds (session,
// bookmarks, ratings) are never registered: logout must leave nothing behind.
package snapshot

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tallyapp/tally-go/internal/cache"
)

// Decoder turns a stored payload back into the typed value the cache held.
type Decoder func(data []byte) (any, error)

// Store is a Badger-backed persistence layer for cache entries.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	mu       sync.RWMutex
	decoders map[string]Decoder // key kind -> decoder
}

// envelope is the on-disk record.
type envelope struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Value     json.RawMessage `json:"value"`
}

// Open creates or opens a snapshot store at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's internal logging
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:       db,
		logger:   logger,
		decoders: make(map[string]Decoder),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register makes the given key kind snapshottable with a typed decoder.
func Register[T any](s *Store, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoders[kind] = func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Listener returns a cache subscriber that persists registered kinds.
// Persistence is best-effort: failures are logged, never surfaced.
func (s *Store) Listener() cache.Subscriber {
	return func(ev cache.Event) {
		if !s.registered(ev.Key.Kind()) {
			return
		}
		switch ev.Kind {
		case cache.EventFetched, cache.EventPatched:
			if err := s.put(ev.Key, ev.Value); err != nil {
				s.logger.Warn("snapshot write failed", "key", ev.Key.String(), "error", err)
			}
		case cache.EventPurged:
			if err := s.delete(ev.Key); err != nil {
				s.logger.Warn("snapshot delete failed", "key", ev.Key.String(), "error", err)
			}
		case cache.EventInvalidated:
			// Stale data is still worth serving on next start.
		}
	}
}

// Warm seeds c with every stored entry that has a registered decoder.
// Undecodable records are dropped rather than propagated.
func (s *Store) Warm(c *cache.Cache) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			keyStr := string(item.Key())
			kind, _, _ := strings.Cut(keyStr, "/")

			s.mu.RLock()
			decode, ok := s.decoders[kind]
			s.mu.RUnlock()
			if !ok {
				continue
			}

			err := item.Value(func(val []byte) error {
				var env envelope
				if err := json.Unmarshal(val, &env); err != nil {
					s.logger.Warn("dropping corrupt snapshot record", "key", keyStr, "error", err)
					return nil
				}
				v, err := decode(env.Value)
				if err != nil {
					s.logger.Warn("dropping undecodable snapshot record", "key", keyStr, "error", err)
					return nil
				}
				c.Seed(cache.NewKey(strings.Split(keyStr, "/")...), v, env.FetchedAt)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) registered(kind string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.decoders[kind]
	return ok
}

func (s *Store) put(key cache.Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{FetchedAt: time.Now().UTC(), Value: raw})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), data)
	})
}

func (s *Store) delete(key cache.Key) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key.String()))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}
