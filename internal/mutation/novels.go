package mutation

import (
	"context"
	"time"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/errors"
	"github.com/tallyapp/tally-go/internal/keys"
	"github.com/tallyapp/tally-go/internal/remote"
)

// Novels returns the public catalogue: published novels, newest first.
func (m *Coordinator) Novels(ctx context.Context) ([]domain.Novel, error) {
	return cache.ReadAs(ctx, m.cache, keys.Novels(), func(ctx context.Context) ([]domain.Novel, error) {
		return remote.SelectAll[domain.Novel](ctx, m.client, remote.Query{
			Table:      "novels",
			Filters:    []remote.Filter{remote.Eq("published", "true")},
			OrderBy:    "updated_at",
			Descending: true,
		})
	})
}

// MyNovels returns the signed-in author's novels, drafts included.
func (m *Coordinator) MyNovels(ctx context.Context) ([]domain.Novel, error) {
	userID, err := m.requireUser()
	if err != nil {
		return nil, err
	}
	return cache.ReadAs(ctx, m.cache, keys.UserNovels(), func(ctx context.Context) ([]domain.Novel, error) {
		return remote.SelectAll[domain.Novel](ctx, m.client, remote.Query{
			Table:      "novels",
			Filters:    []remote.Filter{remote.Eq("author_id", userID)},
			OrderBy:    "updated_at",
			Descending: true,
		})
	})
}

// Novel returns one novel by id.
func (m *Coordinator) Novel(ctx context.Context, novelID string) (*domain.Novel, error) {
	return cache.ReadAs(ctx, m.cache, keys.Novel(novelID), func(ctx context.Context) (*domain.Novel, error) {
		return remote.SelectSingle[domain.Novel](ctx, m.client, remote.Query{
			Table:   "novels",
			Filters: []remote.Filter{remote.Eq("id", novelID)},
		})
	})
}

// CreateNovel persists a draft as a new, unpublished novel owned by the
// signed-in user.
func (m *Coordinator) CreateNovel(ctx context.Context, draft domain.NovelDraft) (*domain.Novel, error) {
	if err := m.validate.Validate(draft); err != nil {
		return nil, m.fail("novel.create", err)
	}
	userID, err := m.requireUser()
	if err != nil {
		return nil, m.fail("novel.create", err)
	}
	release, err := m.acquire("novel", userID, "create")
	if err != nil {
		return nil, m.fail("novel.create", err)
	}
	defer release()

	created, err := remote.Insert[domain.Novel](ctx, m.client, "novels", map[string]any{
		"author_id":       userID,
		"title":           draft.Title,
		"description":     draft.Description,
		"genre":           draft.Genre,
		"status":          draft.Status,
		"cover_image_url": draft.CoverImageURL,
		"published":       false,
		"updated_at":      m.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, m.fail("novel.create", err)
	}

	m.cache.Patch(keys.Novel(created.ID), created)
	m.cache.Invalidate(keys.UserNovels())
	m.notifier.Success("Novel created")
	return created, nil
}

// UpdateNovel overwrites a novel's metadata from a draft. Ownership is
// enforced server-side by row-level security.
func (m *Coordinator) UpdateNovel(ctx context.Context, novelID string, draft domain.NovelDraft) (*domain.Novel, error) {
	if err := m.validate.Validate(draft); err != nil {
		return nil, m.fail("novel.update", err)
	}
	userID, err := m.requireUser()
	if err != nil {
		return nil, m.fail("novel.update", err)
	}
	release, err := m.acquire("novel", userID, novelID)
	if err != nil {
		return nil, m.fail("novel.update", err)
	}
	defer release()

	updated, err := remote.Update[domain.Novel](ctx, m.client, "novels",
		map[string]any{
			"title":           draft.Title,
			"description":     draft.Description,
			"genre":           draft.Genre,
			"status":          draft.Status,
			"cover_image_url": draft.CoverImageURL,
			"updated_at":      m.now().UTC().Format(time.RFC3339),
		},
		remote.Eq("id", novelID),
	)
	if err != nil {
		return nil, m.fail("novel.update", err)
	}

	m.cache.Patch(keys.Novel(novelID), updated)
	m.cache.Invalidate(keys.Novels())
	m.cache.Invalidate(keys.UserNovels())
	m.notifier.Success("Novel updated")
	return updated, nil
}

// DeleteNovel removes a novel and its chapters. Chapters go first so a
// failure midway never leaves orphaned chapters behind a deleted novel.
func (m *Coordinator) DeleteNovel(ctx context.Context, novelID string) error {
	userID, err := m.requireUser()
	if err != nil {
		return m.fail("novel.delete", err)
	}
	release, err := m.acquire("novel", userID, novelID)
	if err != nil {
		return m.fail("novel.delete", err)
	}
	defer release()

	if err := remote.Delete(ctx, m.client, "chapters", remote.Eq("novel_id", novelID)); err != nil {
		return m.fail("novel.delete", err)
	}
	if err := remote.Delete(ctx, m.client, "novels", remote.Eq("id", novelID)); err != nil {
		return m.fail("novel.delete", err)
	}

	m.cache.Purge(keys.Novel(novelID))
	m.cache.Purge(keys.Chapters(novelID))
	m.cache.Invalidate(keys.Novels())
	m.cache.Invalidate(keys.UserNovels())
	m.notifier.Success("Novel deleted")
	return nil
}

// TogglePublish flips a novel's published flag. Publishing requires the
// publish entitlement; unpublishing never does. The flag is read then
// written; the last writer wins on a concurrent flip from another device.
func (m *Coordinator) TogglePublish(ctx context.Context, novelID string) (*domain.Novel, error) {
	userID, err := m.requireUser()
	if err != nil {
		return nil, m.fail("novel.publish", err)
	}
	release, err := m.acquire("novel", userID, novelID)
	if err != nil {
		return nil, m.fail("novel.publish", err)
	}
	defer release()

	current, err := remote.SelectSingle[domain.Novel](ctx, m.client, remote.Query{
		Table:   "novels",
		Filters: []remote.Filter{remote.Eq("id", novelID)},
	})
	if err != nil {
		return nil, m.fail("novel.publish", err)
	}

	if !current.Published {
		entitled := false
		if m.entitled != nil {
			entitled, err = m.entitled(ctx)
			if err != nil {
				return nil, m.fail("novel.publish", err)
			}
		}
		if !entitled {
			return nil, m.fail("novel.publish",
				errors.Unauthorized("publishing requires an active subscription"))
		}
	}

	updated, err := remote.Update[domain.Novel](ctx, m.client, "novels",
		map[string]any{
			"published":  !current.Published,
			"updated_at": m.now().UTC().Format(time.RFC3339),
		},
		remote.Eq("id", novelID),
	)
	if err != nil {
		return nil, m.fail("novel.publish", err)
	}

	m.cache.Patch(keys.Novel(novelID), updated)
	m.cache.Invalidate(keys.Novels())
	m.cache.Invalidate(keys.UserNovels())
	if updated.Published {
		m.notifier.Success("Novel published")
	} else {
		m.notifier.Success("Novel unpublished")
	}
	return updated, nil
}
