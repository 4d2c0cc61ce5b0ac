// Package mutation implements the write protocol of the sync engine. Every
// operation follows the same sequence: validate locally, perform exactly one
// backend write, then reconcile the cache by patching what the response
// proves and invalidating what it does not. On failure the cache is left
// untouched and the user is notified; optimistic state never survives a
// failed write.
package mutation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/errors"
	"github.com/tallyapp/tally-go/internal/notify"
	"github.com/tallyapp/tally-go/internal/remote"
	"github.com/tallyapp/tally-go/internal/validation"
)

// Sessions is the slice of the session holder the coordinator needs.
type Sessions interface {
	// UserID returns the signed-in user's id, or "" when anonymous.
	UserID() string
}

// Entitled reports whether the current user may publish. Wired to the
// subscription service; nil means no user is ever entitled to publish.
type Entitled func(ctx context.Context) (bool, error)

// Options configures a Coordinator.
type Options struct {
	Client   *remote.Client
	Cache    *cache.Cache
	Sessions Sessions
	Notifier notify.Notifier
	Logger   *slog.Logger
	// Bucket is the storage bucket for uploads. Defaults to "tally".
	Bucket string
	// Entitled gates publish transitions beyond the role check.
	Entitled Entitled
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Coordinator owns all writes. One instance serves the whole engine; the
// in-flight guard below is what makes concurrent duplicate writes impossible.
type Coordinator struct {
	client   *remote.Client
	cache    *cache.Cache
	sessions Sessions
	validate *validation.Validator
	notifier notify.Notifier
	logger   *slog.Logger
	bucket   string
	entitled Entitled
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Bucket == "" {
		opts.Bucket = "tally"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{
		client:   opts.Client,
		cache:    opts.Cache,
		sessions: opts.Sessions,
		validate: validation.New(),
		notifier: opts.Notifier,
		logger:   opts.Logger,
		bucket:   opts.Bucket,
		entitled: opts.Entitled,
		now:      opts.Clock,
		inflight: make(map[string]struct{}),
	}
}

// requireUser returns the signed-in user's id or ErrUnauthorized.
func (m *Coordinator) requireUser() (string, error) {
	id := m.sessions.UserID()
	if id == "" {
		return "", errors.Unauthorized("sign in to continue")
	}
	return id, nil
}

// acquire claims the in-flight slot for one (user, resource) pair. A second
// mutation for the same pair fails with ErrConflict instead of queueing; the
// caller retries once the first settles.
func (m *Coordinator) acquire(kind, userID, resourceID string) (func(), error) {
	key := kind + "/" + userID + "/" + resourceID

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[key]; busy {
		return nil, errors.Conflictf("another %s change is still in flight", kind)
	}
	m.inflight[key] = struct{}{}
	return func() {
		m.mu.Lock()
		delete(m.inflight, key)
		m.mu.Unlock()
	}, nil
}

// fail reports a mutation failure to the user and the log, and returns the
// error unchanged for the caller.
func (m *Coordinator) fail(op string, err error) error {
	m.logger.Warn("mutation failed", "op", op, "error", err)
	m.notifier.Error(userMessage(err))
	return err
}

// userMessage turns a taxonomy error into the string shown to the user.
// Backend messages pass through; transport noise gets a generic line.
func userMessage(err error) string {
	var derr *errors.Error
	if !errors.As(err, &derr) {
		return "Something went wrong. Please try again."
	}
	switch derr.Code {
	case errors.CodeNetwork:
		return "Connection problem. Please check your network and try again."
	case errors.CodeInternal:
		return "Something went wrong. Please try again."
	default:
		return derr.Message
	}
}
