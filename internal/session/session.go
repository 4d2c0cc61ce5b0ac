// Package session owns the authentication lifecycle: resolving the startup
// session, login, signup, the OAuth callback, logout, and the profile row
// that must exist before a user is ever reported as authenticated.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/errors"
	"github.com/tallyapp/tally-go/internal/keys"
	"github.com/tallyapp/tally-go/internal/remote"
)

// State is the session resolution state.
type State int

const (
	// StateUnresolved means startup resolution has not completed yet.
	// Consumers treat this as "loading", never as signed out.
	StateUnresolved State = iota
	// StateAnonymous means no valid session exists.
	StateAnonymous
	// StateAuthenticated means a session and its profile are both in place.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unresolved"
	}
}

// Change is delivered to listeners whenever the session state moves.
type Change struct {
	State   State
	Profile *domain.Profile
}

// Listener receives session state changes.
type Listener func(Change)

// Holder is the session state machine. Safe for concurrent use.
type Holder struct {
	client *remote.Client
	cache  *cache.Cache
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	state    State
	session  *domain.Session
	profile  *domain.Profile
	listener []Listener
}

// Options configures a Holder.
type Options struct {
	Client *remote.Client
	Cache  *cache.Cache
	Logger *slog.Logger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// New creates a Holder in the unresolved state.
func New(opts Options) *Holder {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Holder{
		client: opts.Client,
		cache:  opts.Cache,
		logger: opts.Logger,
		now:    opts.Clock,
		state:  StateUnresolved,
	}
}

// Current returns the state and profile. The profile is nil unless
// authenticated.
func (h *Holder) Current() (State, *domain.Profile) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state, h.profile
}

// UserID returns the signed-in user's id, or "" when not authenticated.
func (h *Holder) UserID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.profile == nil {
		return ""
	}
	return h.profile.ID
}

// Session returns the current provider session, or nil.
func (h *Holder) Session() *domain.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// Subscribe registers a listener for state changes. Listeners run
// synchronously on the goroutine that changed the state.
func (h *Holder) Subscribe(fn Listener) {
	h.mu.Lock()
	h.listener = append(h.listener, fn)
	h.mu.Unlock()
}

// Start resolves the startup session from a stored refresh token. An empty
// token, or a token the provider rejects, resolves to anonymous; resolution
// always completes.
func (h *Holder) Start(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		h.toAnonymous()
		return nil
	}

	session, err := h.client.RefreshSession(ctx, refreshToken)
	if err != nil {
		h.logger.Warn("startup session rejected, resolving anonymous", "error", err)
		h.toAnonymous()
		return nil
	}
	return h.adopt(ctx, session)
}

// Login signs in with email and password.
func (h *Holder) Login(ctx context.Context, email, password string) (*domain.Profile, error) {
	session, err := h.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := h.adopt(ctx, session); err != nil {
		return nil, err
	}
	_, profile := h.Current()
	return profile, nil
}

// Signup registers a new account. A profile row that already carries the
// email short-circuits before the auth call: the provider reports duplicate
// signups as success-with-no-session, which reads as a silent failure.
func (h *Holder) Signup(ctx context.Context, email, password, nickname string) (*domain.Profile, error) {
	_, err := remote.SelectSingle[domain.Profile](ctx, h.client, remote.Query{
		Table:   "profiles",
		Filters: []remote.Filter{remote.Eq("email", email)},
	})
	if err == nil {
		return nil, errors.Remote("Email already registered")
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	session, err := h.client.SignUp(ctx, email, password, map[string]string{"nickname": nickname})
	if err != nil {
		return nil, err
	}
	if err := h.adopt(ctx, session); err != nil {
		return nil, err
	}
	_, profile := h.Current()
	return profile, nil
}

// OAuthURL returns the redirect URL for a provider flow. The handshake
// happens outside this process; CompleteOAuth finishes it.
func (h *Holder) OAuthURL(provider, redirectTo string) string {
	return h.client.OAuthURL(provider, redirectTo)
}

// CompleteOAuth adopts the tokens handed back by the provider redirect.
func (h *Holder) CompleteOAuth(ctx context.Context, accessToken, refreshToken string) (*domain.Profile, error) {
	h.client.Tokens().Set(accessToken)

	identity, err := h.client.GetUser(ctx)
	if err != nil {
		h.client.Tokens().Set("")
		return nil, err
	}

	session := &domain.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tokenExpiry(accessToken),
		Identity:     identity,
	}
	if err := h.adopt(ctx, session); err != nil {
		return nil, err
	}
	_, profile := h.Current()
	return profile, nil
}

// Logout signs out and purges every user-scoped cache entry. Purge, not
// invalidate: stale private data must never be served to the next user.
func (h *Holder) Logout(ctx context.Context) {
	if err := h.client.SignOut(ctx); err != nil {
		h.logger.Warn("server-side logout failed", "error", err)
	}
	h.toAnonymous()
	h.cache.PurgeMatching(keys.UserScoped)
}

// AuthEvent is an auth-state change reported from outside the engine, such
// as another tab or process sharing the same account.
type AuthEvent string

const (
	// EventTokenRefreshed carries a refresh token minted elsewhere.
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	// EventSignedOut reports a sign-out performed elsewhere.
	EventSignedOut AuthEvent = "SIGNED_OUT"
)

// HandleAuthEvent applies an external auth-state change. A sign-out is
// local-only: the originator already revoked the session server-side.
func (h *Holder) HandleAuthEvent(ctx context.Context, event AuthEvent, refreshToken string) error {
	switch event {
	case EventSignedOut:
		h.toAnonymous()
		h.cache.PurgeMatching(keys.UserScoped)
		return nil
	case EventTokenRefreshed:
		session, err := h.client.RefreshSession(ctx, refreshToken)
		if err != nil {
			return err
		}
		return h.adopt(ctx, session)
	default:
		return errors.Validationf("unknown auth event %q", event)
	}
}

// EnsureFresh refreshes the session when the access token is within margin
// of expiry. Returns the refresh token callers should persist.
func (h *Holder) EnsureFresh(ctx context.Context, margin time.Duration) (string, error) {
	h.mu.RLock()
	session := h.session
	h.mu.RUnlock()

	if session == nil {
		return "", errors.Unauthorized("no session")
	}
	if session.ExpiresAt.IsZero() || h.now().Add(margin).Before(session.ExpiresAt) {
		return session.RefreshToken, nil
	}

	fresh, err := h.client.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeTokenExpired, "session refresh failed")
	}
	if err := h.adopt(ctx, fresh); err != nil {
		return "", err
	}
	return fresh.RefreshToken, nil
}

// UpdateNickname changes the signed-in user's nickname and patches the
// cached profile in place.
func (h *Holder) UpdateNickname(ctx context.Context, nickname string) (*domain.Profile, error) {
	return h.UpdateUser(ctx, nickname, "")
}

// UpdateUser changes the signed-in user's nickname, password, or both.
// Empty fields are left unchanged; the cached profile is patched after a
// nickname change.
func (h *Holder) UpdateUser(ctx context.Context, nickname, password string) (*domain.Profile, error) {
	h.mu.RLock()
	profile := h.profile
	h.mu.RUnlock()
	if profile == nil {
		return nil, errors.Unauthorized("not signed in")
	}
	if nickname == "" && password == "" {
		return nil, errors.Validation("nothing to update")
	}

	if password != "" {
		if len(password) < 6 {
			return nil, errors.Validation("password must be at least 6 characters")
		}
		if _, err := h.client.UpdateUser(ctx, password); err != nil {
			return nil, err
		}
	}
	if nickname == "" {
		return profile, nil
	}

	updated, err := remote.Update[domain.Profile](ctx, h.client, "profiles",
		map[string]any{"nickname": nickname, "updated_at": h.now().UTC()},
		remote.Eq("id", profile.ID),
	)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.profile = updated
	h.mu.Unlock()
	h.cache.Patch(keys.User(), updated)
	return updated, nil
}

// adopt installs a provider session: token first, then the profile row, and
// only then the authenticated state. A user is never reported authenticated
// without a profile.
func (h *Holder) adopt(ctx context.Context, session *domain.Session) error {
	if session.Identity == nil {
		h.toAnonymous()
		return errors.Remote("session carries no identity")
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = tokenExpiry(session.AccessToken)
	}

	h.client.Tokens().Set(session.AccessToken)

	profile, err := h.ensureProfile(ctx, session.Identity)
	if err != nil {
		h.client.Tokens().Set("")
		h.toAnonymous()
		return err
	}

	h.mu.Lock()
	h.state = StateAuthenticated
	h.session = session
	h.profile = profile
	listeners := append([]Listener(nil), h.listener...)
	h.mu.Unlock()

	h.cache.Patch(keys.User(), profile)
	// Another user may have been signed in before; their reads must not
	// survive as fresh.
	h.cache.InvalidateMatching(func(k cache.Key) bool {
		return keys.UserScoped(k) && !k.Equal(keys.User())
	})

	h.logger.Info("session authenticated", "user_id", profile.ID, "role", profile.Role)
	for _, fn := range listeners {
		fn(Change{State: StateAuthenticated, Profile: profile})
	}
	return nil
}

// ensureProfile loads the profile row, creating it on first sign-in.
func (h *Holder) ensureProfile(ctx context.Context, identity *domain.Identity) (*domain.Profile, error) {
	profile, err := remote.SelectSingle[domain.Profile](ctx, h.client, remote.Query{
		Table:   "profiles",
		Filters: []remote.Filter{remote.Eq("id", identity.ID)},
	})
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	fresh := domain.NewProfile(identity.ID, identity.Email, identity.Metadata["nickname"])
	created, err := remote.Insert[domain.Profile](ctx, h.client, "profiles", fresh)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeRemote, "provision profile")
	}
	h.logger.Info("profile provisioned", "user_id", created.ID)
	return created, nil
}

func (h *Holder) toAnonymous() {
	h.client.Tokens().Set("")

	h.mu.Lock()
	h.state = StateAnonymous
	h.session = nil
	h.profile = nil
	listeners := append([]Listener(nil), h.listener...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(Change{State: StateAnonymous})
	}
}

// tokenExpiry reads the exp claim without verifying the signature. The
// token is only inspected for scheduling; the backend remains the verifier.
func tokenExpiry(accessToken string) time.Time {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
