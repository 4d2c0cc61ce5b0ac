package mutation

import (
	"context"
	"time"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/keys"
	"github.com/tallyapp/tally-go/internal/remote"
)

// Bookmarks lists the signed-in user's bookmarks, newest first.
func (m *Coordinator) Bookmarks(ctx context.Context) ([]domain.Bookmark, error) {
	userID, err := m.requireUser()
	if err != nil {
		return nil, err
	}
	return cache.ReadAs(ctx, m.cache, keys.Bookmarks(), func(ctx context.Context) ([]domain.Bookmark, error) {
		return remote.SelectAll[domain.Bookmark](ctx, m.client, remote.Query{
			Table:      "bookmarks",
			Filters:    []remote.Filter{remote.Eq("user_id", userID)},
			OrderBy:    "created_at",
			Descending: true,
		})
	})
}

// IsBookmarked reports whether the signed-in user bookmarked a novel.
// Anonymous users get false without a network call.
func (m *Coordinator) IsBookmarked(ctx context.Context, novelID string) (bool, error) {
	userID := m.sessions.UserID()
	if userID == "" {
		return false, nil
	}
	return cache.ReadAs(ctx, m.cache, keys.IsBookmarked(novelID), func(ctx context.Context) (bool, error) {
		rows, err := remote.SelectAll[domain.Bookmark](ctx, m.client, remote.Query{
			Table: "bookmarks",
			Filters: []remote.Filter{
				remote.Eq("user_id", userID),
				remote.Eq("novel_id", novelID),
			},
			Limit: 1,
		})
		if err != nil {
			return false, err
		}
		return len(rows) > 0, nil
	})
}

// AddBookmark bookmarks a novel. Adding an existing bookmark succeeds
// without a second row; the relation is existence-only.
func (m *Coordinator) AddBookmark(ctx context.Context, novelID string) error {
	userID, err := m.requireUser()
	if err != nil {
		return m.fail("bookmark.add", err)
	}
	release, err := m.acquire("bookmark", userID, novelID)
	if err != nil {
		return m.fail("bookmark.add", err)
	}
	defer release()

	existing, err := remote.SelectAll[domain.Bookmark](ctx, m.client, remote.Query{
		Table: "bookmarks",
		Filters: []remote.Filter{
			remote.Eq("user_id", userID),
			remote.Eq("novel_id", novelID),
		},
		Limit: 1,
	})
	if err != nil {
		return m.fail("bookmark.add", err)
	}
	if len(existing) == 0 {
		_, err = remote.Insert[domain.Bookmark](ctx, m.client, "bookmarks", map[string]any{
			"user_id":    userID,
			"novel_id":   novelID,
			"created_at": m.now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return m.fail("bookmark.add", err)
		}
	}

	m.cache.Invalidate(keys.Bookmarks())
	m.cache.Patch(keys.IsBookmarked(novelID), true)
	m.notifier.Success("Bookmark added")
	return nil
}

// RemoveBookmark removes a bookmark. Removing an absent bookmark succeeds.
func (m *Coordinator) RemoveBookmark(ctx context.Context, novelID string) error {
	userID, err := m.requireUser()
	if err != nil {
		return m.fail("bookmark.remove", err)
	}
	release, err := m.acquire("bookmark", userID, novelID)
	if err != nil {
		return m.fail("bookmark.remove", err)
	}
	defer release()

	err = remote.Delete(ctx, m.client, "bookmarks",
		remote.Eq("user_id", userID),
		remote.Eq("novel_id", novelID),
	)
	if err != nil {
		return m.fail("bookmark.remove", err)
	}

	m.cache.Invalidate(keys.Bookmarks())
	m.cache.Patch(keys.IsBookmarked(novelID), false)
	m.notifier.Success("Bookmark removed")
	return nil
}

// ToggleBookmark flips the bookmark state based on the cached flag.
func (m *Coordinator) ToggleBookmark(ctx context.Context, novelID string) error {
	bookmarked, err := m.IsBookmarked(ctx, novelID)
	if err != nil {
		return m.fail("bookmark.toggle", err)
	}
	if bookmarked {
		return m.RemoveBookmark(ctx, novelID)
	}
	return m.AddBookmark(ctx, novelID)
}
