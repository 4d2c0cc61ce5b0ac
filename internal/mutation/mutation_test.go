package mutation_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally-go/internal/baastest"
	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/errors"
	"github.com/tallyapp/tally-go/internal/keys"
	"github.com/tallyapp/tally-go/internal/mutation"
	"github.com/tallyapp/tally-go/internal/notify"
	"github.com/tallyapp/tally-go/internal/remote"
)

// staticSession is a Sessions stub pinned to one user id.
type staticSession string

func (s staticSession) UserID() string { return string(s) }

type fixture struct {
	backend  *baastest.Server
	cache    *cache.Cache
	recorder *notify.Recorder
	coord    *mutation.Coordinator
}

func setup(t *testing.T, userID string) *fixture {
	t.Helper()

	backend := baastest.New()
	t.Cleanup(backend.Close)

	client := remote.New(remote.Config{
		BaseURL:   backend.URL(),
		AnonKey:   "anon-key",
		RateRPS:   1000,
		RateBurst: 1000,
	})
	c := cache.New(cache.Options{Freshness: time.Minute})
	recorder := &notify.Recorder{}

	coord := mutation.New(mutation.Options{
		Client:   client,
		Cache:    c,
		Sessions: staticSession(userID),
		Notifier: recorder,
		Entitled: func(context.Context) (bool, error) { return true, nil },
	})
	return &fixture{backend: backend, cache: c, recorder: recorder, coord: coord}
}

func TestAddBookmark(t *testing.T) {
	f := setup(t, "u1")

	require.NoError(t, f.coord.AddBookmark(context.Background(), "n1"))

	rows := f.backend.Rows("bookmarks")
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0]["user_id"])
	assert.Equal(t, "n1", rows[0]["novel_id"])

	flag, ok := f.cache.Peek(keys.IsBookmarked("n1"))
	require.True(t, ok)
	assert.Equal(t, true, flag.Value)
	assert.Equal(t, []string{"Bookmark added"}, f.recorder.Successes())
}

func TestAddBookmark_Idempotent(t *testing.T) {
	f := setup(t, "u1")
	f.backend.SeedRows("bookmarks", baastest.Row{"user_id": "u1", "novel_id": "n1"})

	require.NoError(t, f.coord.AddBookmark(context.Background(), "n1"))

	assert.Len(t, f.backend.Rows("bookmarks"), 1)
	assert.Zero(t, f.backend.RequestCount(http.MethodPost, "/rest/v1/bookmarks"))
	assert.Equal(t, []string{"Bookmark added"}, f.recorder.Successes())
}

func TestRemoveBookmark_AbsentIsNoOp(t *testing.T) {
	f := setup(t, "u1")

	require.NoError(t, f.coord.RemoveBookmark(context.Background(), "n1"))
	assert.Equal(t, []string{"Bookmark removed"}, f.recorder.Successes())
	assert.Empty(t, f.recorder.Errors())
}

func TestToggleBookmark(t *testing.T) {
	f := setup(t, "u1")

	require.NoError(t, f.coord.ToggleBookmark(context.Background(), "n1"))
	assert.Len(t, f.backend.Rows("bookmarks"), 1)

	require.NoError(t, f.coord.ToggleBookmark(context.Background(), "n1"))
	assert.Empty(t, f.backend.Rows("bookmarks"))
}

func TestAddBookmark_RequiresSession(t *testing.T) {
	f := setup(t, "")

	err := f.coord.AddBookmark(context.Background(), "n1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	assert.Equal(t, []string{"sign in to continue"}, f.recorder.Errors())
	assert.Empty(t, f.backend.Rows("bookmarks"))
}

func TestIsBookmarked_AnonymousSkipsNetwork(t *testing.T) {
	f := setup(t, "")

	flag, err := f.coord.IsBookmarked(context.Background(), "n1")
	require.NoError(t, err)
	assert.False(t, flag)
	assert.Zero(t, f.backend.RequestCount(http.MethodGet, "/rest/v1/bookmarks"))
}

func TestConcurrentMutationConflicts(t *testing.T) {
	f := setup(t, "u1")

	arrived := make(chan struct{})
	gate := make(chan struct{})
	releaseGate := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(releaseGate)

	var once sync.Once
	f.backend.SetTableHook(func(w http.ResponseWriter, r *http.Request) bool {
		once.Do(func() { close(arrived) })
		<-gate
		return false
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, f.coord.AddBookmark(context.Background(), "n1"))
	}()

	// The slot is acquired before the network call, so once the first
	// request reaches the backend the second mutation must conflict.
	<-arrived
	err := f.coord.AddBookmark(context.Background(), "n1")
	assert.True(t, errors.Is(err, errors.ErrConflict))

	releaseGate()
	wg.Wait()

	// The slot is free again after settlement.
	f.backend.SetTableHook(nil)
	assert.NoError(t, f.coord.AddBookmark(context.Background(), "n1"))
}

func TestCreateChapter_ConcurrentDistinctChapters(t *testing.T) {
	f := setup(t, "u1")

	arrived := make(chan struct{})
	gate := make(chan struct{})
	releaseGate := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(releaseGate)

	// Only the first request is held; later ones pass straight through.
	var once sync.Once
	f.backend.SetTableHook(func(w http.ResponseWriter, r *http.Request) bool {
		first := false
		once.Do(func() { first = true })
		if first {
			close(arrived)
			<-gate
		}
		return false
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.coord.CreateChapter(context.Background(), domain.ChapterDraft{
			NovelID: "n1", ChapterNumber: 1, Title: "One", Content: "first",
		})
		assert.NoError(t, err)
	}()

	// With chapter 1 held in flight, chapter 2 of the same novel still
	// goes through.
	<-arrived
	_, err := f.coord.CreateChapter(context.Background(), domain.ChapterDraft{
		NovelID: "n1", ChapterNumber: 2, Title: "Two", Content: "second",
	})
	require.NoError(t, err)

	releaseGate()
	wg.Wait()

	f.backend.SetTableHook(nil)
	chapters, err := f.coord.Chapters(context.Background(), "n1")
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, 1, chapters[0].ChapterNumber)
	assert.Equal(t, 2, chapters[1].ChapterNumber)
}

func TestRate_InsertThenOverwrite(t *testing.T) {
	f := setup(t, "u1")

	require.NoError(t, f.coord.Rate(context.Background(), domain.RatingDraft{NovelID: "n1", Rating: 4}))
	rows := f.backend.Rows("ratings")
	require.Len(t, rows, 1)

	require.NoError(t, f.coord.Rate(context.Background(), domain.RatingDraft{NovelID: "n1", Rating: 5}))
	rows = f.backend.Rows("ratings")
	require.Len(t, rows, 1)
	assert.EqualValues(t, 5, rows[0]["rating"])

	cached, ok := f.cache.Peek(keys.UserRating("n1"))
	require.True(t, ok)
	assert.Equal(t, 5, cached.Value.(*domain.Rating).Rating)
}

func TestRate_ValidatesBeforeNetwork(t *testing.T) {
	f := setup(t, "u1")

	err := f.coord.Rate(context.Background(), domain.RatingDraft{NovelID: "n1", Rating: 6})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Zero(t, f.backend.RequestCount(http.MethodGet, "/rest/v1/ratings"))
	assert.Zero(t, f.backend.RequestCount(http.MethodPost, "/rest/v1/ratings"))
	assert.NotEmpty(t, f.recorder.Errors())
}

func TestRate_InvalidatesNovelAggregate(t *testing.T) {
	f := setup(t, "u1")
	f.cache.Patch(keys.Novel("n1"), &domain.Novel{ID: "n1"})

	require.NoError(t, f.coord.Rate(context.Background(), domain.RatingDraft{NovelID: "n1", Rating: 3}))

	novel, ok := f.cache.Peek(keys.Novel("n1"))
	require.True(t, ok)
	assert.Equal(t, cache.StateStale, novel.State)
}

func TestFailedWriteLeavesCacheUntouched(t *testing.T) {
	f := setup(t, "u1")
	f.cache.Patch(keys.UserRating("n1"), &domain.Rating{NovelID: "n1", Rating: 2})
	f.cache.Patch(keys.Novel("n1"), &domain.Novel{ID: "n1"})

	f.backend.SetTableHook(func(w http.ResponseWriter, r *http.Request) bool {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
		return true
	})

	err := f.coord.Rate(context.Background(), domain.RatingDraft{NovelID: "n1", Rating: 5})
	require.Error(t, err)

	rating, ok := f.cache.Peek(keys.UserRating("n1"))
	require.True(t, ok)
	assert.Equal(t, cache.StateIdle, rating.State)
	assert.Equal(t, 2, rating.Value.(*domain.Rating).Rating)

	novel, ok := f.cache.Peek(keys.Novel("n1"))
	require.True(t, ok)
	assert.Equal(t, cache.StateIdle, novel.State)
	assert.NotEmpty(t, f.recorder.Errors())
}

func TestChapters_Ordered(t *testing.T) {
	f := setup(t, "u1")
	f.backend.SeedRows("chapters",
		baastest.Row{"id": "c3", "novel_id": "n1", "chapter_number": 3},
		baastest.Row{"id": "c1", "novel_id": "n1", "chapter_number": 1},
		baastest.Row{"id": "c2", "novel_id": "n1", "chapter_number": 2},
	)

	chapters, err := f.coord.Chapters(context.Background(), "n1")
	require.NoError(t, err)
	require.Len(t, chapters, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{
		chapters[0].ChapterNumber, chapters[1].ChapterNumber, chapters[2].ChapterNumber,
	})
}

func TestCreateChapter(t *testing.T) {
	f := setup(t, "u1")

	created, err := f.coord.CreateChapter(context.Background(), domain.ChapterDraft{
		NovelID:       "n1",
		ChapterNumber: 1,
		Title:         "The Beginning",
		Content:       "It was a dark and stormy night.",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	cached, ok := f.cache.Peek(keys.Chapter(created.ID))
	require.True(t, ok)
	assert.Equal(t, cache.StateIdle, cached.State)
}

func TestCreateChapter_Invalid(t *testing.T) {
	f := setup(t, "u1")

	_, err := f.coord.CreateChapter(context.Background(), domain.ChapterDraft{NovelID: "n1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Zero(t, f.backend.RequestCount(http.MethodPost, "/rest/v1/chapters"))
}

func TestDeleteNovel_RemovesChaptersFirst(t *testing.T) {
	f := setup(t, "u1")
	f.backend.SeedRows("novels", baastest.Row{"id": "n1", "author_id": "u1", "title": "Gone"})
	f.backend.SeedRows("chapters",
		baastest.Row{"id": "c1", "novel_id": "n1", "chapter_number": 1},
		baastest.Row{"id": "c2", "novel_id": "n1", "chapter_number": 2},
	)
	f.cache.Patch(keys.Novel("n1"), &domain.Novel{ID: "n1"})
	f.cache.Patch(keys.Chapters("n1"), []domain.Chapter{{ID: "c1"}})

	require.NoError(t, f.coord.DeleteNovel(context.Background(), "n1"))

	assert.Empty(t, f.backend.Rows("novels"))
	assert.Empty(t, f.backend.Rows("chapters"))

	_, ok := f.cache.Peek(keys.Novel("n1"))
	assert.False(t, ok)
	_, ok = f.cache.Peek(keys.Chapters("n1"))
	assert.False(t, ok)
}

func TestTogglePublish(t *testing.T) {
	f := setup(t, "u1")
	f.backend.SeedRows("novels", baastest.Row{"id": "n1", "author_id": "u1", "published": false})

	novel, err := f.coord.TogglePublish(context.Background(), "n1")
	require.NoError(t, err)
	assert.True(t, novel.Published)
	assert.Equal(t, []string{"Novel published"}, f.recorder.Successes())

	novel, err = f.coord.TogglePublish(context.Background(), "n1")
	require.NoError(t, err)
	assert.False(t, novel.Published)
}

func TestTogglePublish_RequiresEntitlement(t *testing.T) {
	f := setup(t, "u1")
	f.backend.SeedRows("novels", baastest.Row{"id": "n1", "author_id": "u1", "published": false})

	client := remote.New(remote.Config{
		BaseURL: f.backend.URL(), AnonKey: "anon-key", RateRPS: 1000, RateBurst: 1000,
	})
	coord := mutation.New(mutation.Options{
		Client:   client,
		Cache:    cache.New(cache.Options{Freshness: time.Minute}),
		Sessions: staticSession("u1"),
		Notifier: &notify.Recorder{},
		Entitled: func(context.Context) (bool, error) { return false, nil },
	})

	_, err := coord.TogglePublish(context.Background(), "n1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))

	rows := f.backend.Rows("novels")
	assert.Equal(t, false, rows[0]["published"])

	// Unpublishing never needs the entitlement.
	f.backend.SeedRows("novels", baastest.Row{"id": "n1", "author_id": "u1", "published": true})
	novel, err := coord.TogglePublish(context.Background(), "n1")
	require.NoError(t, err)
	assert.False(t, novel.Published)
}

func TestCreateNovel(t *testing.T) {
	f := setup(t, "u1")

	created, err := f.coord.CreateNovel(context.Background(), domain.NovelDraft{
		Title:  "First Light",
		Genre:  "fantasy",
		Status: domain.NovelOngoing,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", created.AuthorID)
	assert.False(t, created.Published)
}

func TestCreateNovel_InvalidStatus(t *testing.T) {
	f := setup(t, "u1")

	_, err := f.coord.CreateNovel(context.Background(), domain.NovelDraft{
		Title:  "First Light",
		Genre:  "fantasy",
		Status: "paused",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestUploadCover(t *testing.T) {
	f := setup(t, "u1")

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	cover, err := f.coord.UploadCover(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, cover.URL, "/storage/v1/object/public/tally/covers/u1/")
	assert.True(t, strings.HasSuffix(cover.URL, ".png"))
	assert.NotEmpty(t, cover.BlurHash)
}

func TestUploadCover_RejectsNonImage(t *testing.T) {
	f := setup(t, "u1")

	_, err := f.coord.UploadCover(context.Background(), []byte("not an image"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Zero(t, f.backend.RequestCount(http.MethodPost, "/storage/v1/object/tally/covers"))
}

func TestImportChapterHTML(t *testing.T) {
	f := setup(t, "u1")

	draft, err := f.coord.ImportChapterHTML("n1", 1, "Imported",
		`<h2>Scene One</h2><p>The <strong>door</strong> creaked open.</p>`)
	require.NoError(t, err)
	assert.Equal(t, "n1", draft.NovelID)
	assert.Contains(t, draft.Content, "Scene One")
	assert.Contains(t, draft.Content, "**door**")
}

func TestImportChapterHTML_Empty(t *testing.T) {
	f := setup(t, "u1")

	_, err := f.coord.ImportChapterHTML("n1", 1, "Imported", "<div>   </div>")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}
