// Package tally is the client-side sync engine for the Tally serialized
// fiction platform: a keyed stale-while-revalidate cache over the backend's
// tables, a mutation coordinator that keeps that cache honest, the session
// lifecycle, offline snapshotting, and full-text search over the catalogue.
//
// The engine is embedded in host applications (TUI readers, bots, tooling);
// it renders nothing itself. Hosts read through the engine, never around it.
package tally

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/tallyapp/tally-go/internal/config"
	"github.com/tallyapp/tally-go/internal/di"
	"github.com/tallyapp/tally-go/internal/di/providers"
	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/logger"
	"github.com/tallyapp/tally-go/internal/mutation"
	"github.com/tallyapp/tally-go/internal/notify"
	"github.com/tallyapp/tally-go/internal/search"
	"github.com/tallyapp/tally-go/internal/session"
	"github.com/tallyapp/tally-go/internal/subscription"
)

// Domain types re-exported for hosts.
type (
	Novel        = domain.Novel
	NovelDraft   = domain.NovelDraft
	NovelStatus  = domain.NovelStatus
	Chapter      = domain.Chapter
	ChapterDraft = domain.ChapterDraft
	Bookmark     = domain.Bookmark
	Rating       = domain.Rating
	RatingDraft  = domain.RatingDraft
	Profile      = domain.Profile
	Role         = domain.Role
	Subscription = domain.Subscription
	Session      = domain.Session

	// SessionState is the resolution state of the auth session.
	SessionState = session.State
	// SessionChange is delivered to session listeners.
	SessionChange = session.Change
	// AuthEvent is an auth-state change reported from outside the engine.
	AuthEvent = session.AuthEvent
	// CoverImage is the result of a cover upload.
	CoverImage = mutation.CoverImage
	// SearchHit is one offline search result.
	SearchHit = search.Hit
	// Notifier receives user-visible success and error notifications.
	Notifier = notify.Notifier
)

// Session states.
const (
	SessionUnresolved    = session.StateUnresolved
	SessionAnonymous     = session.StateAnonymous
	SessionAuthenticated = session.StateAuthenticated
)

// External auth events.
const (
	EventTokenRefreshed = session.EventTokenRefreshed
	EventSignedOut      = session.EventSignedOut
)

// Roles.
const (
	RoleNormal    = domain.RoleNormal
	RoleAdmin     = domain.RoleAdmin
	RolePublisher = domain.RolePublisher
)

// Novel statuses.
const (
	NovelOngoing   = domain.NovelOngoing
	NovelCompleted = domain.NovelCompleted
	NovelHiatus    = domain.NovelHiatus
)

// Config configures an Engine.
type Config struct {
	// BaaSURL is the backend project URL. Required.
	BaaSURL string
	// AnonKey is the backend's public API key. Required.
	AnonKey string
	// Environment is development, staging, or production.
	Environment string
	// LogLevel is debug, info, warn, or error.
	LogLevel string
	// SnapshotPath enables the offline snapshot store when non-empty.
	SnapshotPath string
	// Bucket is the storage bucket for uploads. Defaults to "tally".
	Bucket string
	// FreshnessWindow overrides how long reads are served without
	// revalidation.
	FreshnessWindow time.Duration
	// Notifier receives user-visible notifications. Logs when nil.
	Notifier Notifier
}

func (c Config) internal() *config.Config {
	cfg := &config.Config{}
	cfg.App.Environment = orDefault(c.Environment, "development")
	cfg.Logger.Level = orDefault(c.LogLevel, "info")
	cfg.BaaS.URL = c.BaaSURL
	cfg.BaaS.AnonKey = c.AnonKey
	cfg.BaaS.HTTPTimeout = 15 * time.Second
	cfg.BaaS.RateRPS = 10
	cfg.BaaS.RateBurst = 20
	cfg.Cache.FreshnessWindow = c.FreshnessWindow
	if cfg.Cache.FreshnessWindow <= 0 {
		cfg.Cache.FreshnessWindow = 60 * time.Second
	}
	cfg.Cache.SnapshotPath = c.SnapshotPath
	cfg.Storage.Bucket = orDefault(c.Bucket, "tally")
	return cfg
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Engine is one instance of the sync engine. Instances are independent;
// tests run many side by side.
type Engine struct {
	injector *do.RootScope
	logger   *logger.Logger

	sessions *session.Holder
	coord    *mutation.Coordinator
	subs     *subscription.Service
	index    *search.Index
}

// New builds an Engine from explicit configuration.
func New(c Config) (*Engine, error) {
	cfg := c.internal()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	injector := di.NewContainer(cfg)
	if c.Notifier != nil {
		do.OverrideValue(injector, c.Notifier)
	}
	if err := di.Bootstrap(injector); err != nil {
		return nil, err
	}

	return &Engine{
		injector: injector,
		logger:   do.MustInvoke[*logger.Logger](injector),
		sessions: do.MustInvoke[*session.Holder](injector),
		coord:    do.MustInvoke[*mutation.Coordinator](injector),
		subs:     do.MustInvoke[*subscription.Service](injector),
		index:    do.MustInvoke[*providers.SearchHandle](injector).Index,
	}, nil
}

// NewFromEnv builds an Engine from TALLY_* environment variables and an
// optional .env file.
func NewFromEnv(envFile string) (*Engine, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	injector := di.NewContainer(cfg)
	if err := di.Bootstrap(injector); err != nil {
		return nil, err
	}

	return &Engine{
		injector: injector,
		logger:   do.MustInvoke[*logger.Logger](injector),
		sessions: do.MustInvoke[*session.Holder](injector),
		coord:    do.MustInvoke[*mutation.Coordinator](injector),
		subs:     do.MustInvoke[*subscription.Service](injector),
		index:    do.MustInvoke[*providers.SearchHandle](injector).Index,
	}, nil
}

// Close shuts the engine down: the snapshot store flushes, the search index
// releases, background refreshes are abandoned.
func (e *Engine) Close() error {
	if err := e.injector.Shutdown(); err != nil {
		e.logger.Error("engine shutdown", "error", err)
		return err
	}
	return nil
}

// Session lifecycle.

// Start resolves the startup session from a stored refresh token. Empty or
// rejected tokens resolve to anonymous.
func (e *Engine) Start(ctx context.Context, refreshToken string) error {
	return e.sessions.Start(ctx, refreshToken)
}

// SessionState returns the current state and profile.
func (e *Engine) SessionState() (SessionState, *Profile) {
	return e.sessions.Current()
}

// OnSessionChange registers a listener for session state changes.
func (e *Engine) OnSessionChange(fn func(SessionChange)) {
	e.sessions.Subscribe(fn)
}

// Login signs in with email and password.
func (e *Engine) Login(ctx context.Context, email, password string) (*Profile, error) {
	return e.sessions.Login(ctx, email, password)
}

// Signup registers a new account.
func (e *Engine) Signup(ctx context.Context, email, password, nickname string) (*Profile, error) {
	return e.sessions.Signup(ctx, email, password, nickname)
}

// OAuthURL returns the browser redirect URL for a provider flow.
func (e *Engine) OAuthURL(provider, redirectTo string) string {
	return e.sessions.OAuthURL(provider, redirectTo)
}

// CompleteOAuth adopts the tokens handed back by the provider redirect.
func (e *Engine) CompleteOAuth(ctx context.Context, accessToken, refreshToken string) (*Profile, error) {
	return e.sessions.CompleteOAuth(ctx, accessToken, refreshToken)
}

// Logout signs out and purges all user-scoped cached data.
func (e *Engine) Logout(ctx context.Context) {
	e.sessions.Logout(ctx)
}

// RefreshToken returns the refresh token the host should persist for the
// next Start, refreshing the session first when it is near expiry.
func (e *Engine) RefreshToken(ctx context.Context) (string, error) {
	return e.sessions.EnsureFresh(ctx, 30*time.Second)
}

// UpdateNickname changes the signed-in user's nickname.
func (e *Engine) UpdateNickname(ctx context.Context, nickname string) (*Profile, error) {
	return e.sessions.UpdateNickname(ctx, nickname)
}

// UpdateUser changes the signed-in user's nickname, password, or both.
// Empty fields are left unchanged.
func (e *Engine) UpdateUser(ctx context.Context, nickname, password string) (*Profile, error) {
	return e.sessions.UpdateUser(ctx, nickname, password)
}

// HandleAuthEvent applies an auth-state change that happened outside the
// engine, such as a sign-out in another tab sharing the account.
func (e *Engine) HandleAuthEvent(ctx context.Context, event AuthEvent, refreshToken string) error {
	return e.sessions.HandleAuthEvent(ctx, event, refreshToken)
}

// Catalogue reads.

// Novels returns the published catalogue.
func (e *Engine) Novels(ctx context.Context) ([]Novel, error) {
	return e.coord.Novels(ctx)
}

// MyNovels returns the signed-in author's novels, drafts included.
func (e *Engine) MyNovels(ctx context.Context) ([]Novel, error) {
	return e.coord.MyNovels(ctx)
}

// Novel returns one novel by id.
func (e *Engine) Novel(ctx context.Context, novelID string) (*Novel, error) {
	return e.coord.Novel(ctx, novelID)
}

// Chapters returns a novel's chapters ordered by chapter number.
func (e *Engine) Chapters(ctx context.Context, novelID string) ([]Chapter, error) {
	return e.coord.Chapters(ctx, novelID)
}

// Chapter returns one chapter by id.
func (e *Engine) Chapter(ctx context.Context, chapterID string) (*Chapter, error) {
	return e.coord.Chapter(ctx, chapterID)
}

// SearchNovels runs a free-text query over every novel the engine has seen,
// including while offline.
func (e *Engine) SearchNovels(query string, limit int) ([]SearchHit, error) {
	return e.index.Search(query, limit)
}

// Reader actions.

// Bookmarks lists the signed-in user's bookmarks.
func (e *Engine) Bookmarks(ctx context.Context) ([]Bookmark, error) {
	return e.coord.Bookmarks(ctx)
}

// IsBookmarked reports whether the signed-in user bookmarked a novel.
func (e *Engine) IsBookmarked(ctx context.Context, novelID string) (bool, error) {
	return e.coord.IsBookmarked(ctx, novelID)
}

// AddBookmark bookmarks a novel. Idempotent.
func (e *Engine) AddBookmark(ctx context.Context, novelID string) error {
	return e.coord.AddBookmark(ctx, novelID)
}

// RemoveBookmark removes a bookmark. Removing an absent bookmark succeeds.
func (e *Engine) RemoveBookmark(ctx context.Context, novelID string) error {
	return e.coord.RemoveBookmark(ctx, novelID)
}

// ToggleBookmark flips the bookmark state.
func (e *Engine) ToggleBookmark(ctx context.Context, novelID string) error {
	return e.coord.ToggleBookmark(ctx, novelID)
}

// Rate submits a 1-5 score for a novel, overwriting any previous score.
func (e *Engine) Rate(ctx context.Context, draft RatingDraft) error {
	return e.coord.Rate(ctx, draft)
}

// UserRating returns the signed-in user's rating for a novel, or nil.
func (e *Engine) UserRating(ctx context.Context, novelID string) (*Rating, error) {
	return e.coord.UserRating(ctx, novelID)
}

// Author actions.

// CreateNovel persists a draft as a new unpublished novel.
func (e *Engine) CreateNovel(ctx context.Context, draft NovelDraft) (*Novel, error) {
	return e.coord.CreateNovel(ctx, draft)
}

// UpdateNovel overwrites a novel's metadata.
func (e *Engine) UpdateNovel(ctx context.Context, novelID string, draft NovelDraft) (*Novel, error) {
	return e.coord.UpdateNovel(ctx, novelID, draft)
}

// DeleteNovel removes a novel and all of its chapters.
func (e *Engine) DeleteNovel(ctx context.Context, novelID string) error {
	return e.coord.DeleteNovel(ctx, novelID)
}

// TogglePublish flips a novel's published flag. Publishing requires the
// publish entitlement.
func (e *Engine) TogglePublish(ctx context.Context, novelID string) (*Novel, error) {
	return e.coord.TogglePublish(ctx, novelID)
}

// CreateChapter persists a chapter draft.
func (e *Engine) CreateChapter(ctx context.Context, draft ChapterDraft) (*Chapter, error) {
	return e.coord.CreateChapter(ctx, draft)
}

// UpdateChapter overwrites a chapter from a draft.
func (e *Engine) UpdateChapter(ctx context.Context, chapterID string, draft ChapterDraft) (*Chapter, error) {
	return e.coord.UpdateChapter(ctx, chapterID, draft)
}

// DeleteChapter removes a chapter.
func (e *Engine) DeleteChapter(ctx context.Context, chapterID, novelID string) error {
	return e.coord.DeleteChapter(ctx, chapterID, novelID)
}

// UploadCover validates and stores a cover image, returning its public URL
// and placeholder hash.
func (e *Engine) UploadCover(ctx context.Context, data []byte) (*CoverImage, error) {
	return e.coord.UploadCover(ctx, data)
}

// ImportChapterHTML converts an HTML document into a chapter draft.
func (e *Engine) ImportChapterHTML(novelID string, chapterNumber int, title, html string) (ChapterDraft, error) {
	return e.coord.ImportChapterHTML(novelID, chapterNumber, title, html)
}

// Billing.

// ActiveSubscription returns the signed-in user's subscription, or nil.
func (e *Engine) ActiveSubscription(ctx context.Context) (*Subscription, error) {
	return e.subs.Active(ctx)
}

// Entitled reports whether the signed-in user may publish.
func (e *Engine) Entitled(ctx context.Context) (bool, error) {
	return e.subs.Entitled(ctx)
}

// CreateCheckoutSession asks the billing function for a hosted checkout URL.
func (e *Engine) CreateCheckoutSession(ctx context.Context, priceID, successURL, cancelURL string) (string, error) {
	return e.subs.CreateCheckoutSession(ctx, priceID, successURL, cancelURL)
}
