package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/keys"
	"github.com/tallyapp/tally-go/internal/remote"
)

// Chapters returns a novel's chapters ordered by chapter number.
func (m *Coordinator) Chapters(ctx context.Context, novelID string) ([]domain.Chapter, error) {
	return cache.ReadAs(ctx, m.cache, keys.Chapters(novelID), func(ctx context.Context) ([]domain.Chapter, error) {
		chapters, err := remote.SelectAll[domain.Chapter](ctx, m.client, remote.Query{
			Table:   "chapters",
			Filters: []remote.Filter{remote.Eq("novel_id", novelID)},
			OrderBy: "chapter_number",
		})
		if err != nil {
			return nil, err
		}
		domain.SortChapters(chapters)
		return chapters, nil
	})
}

// Chapter returns one chapter by id.
func (m *Coordinator) Chapter(ctx context.Context, chapterID string) (*domain.Chapter, error) {
	return cache.ReadAs(ctx, m.cache, keys.Chapter(chapterID), func(ctx context.Context) (*domain.Chapter, error) {
		return remote.SelectSingle[domain.Chapter](ctx, m.client, remote.Query{
			Table:   "chapters",
			Filters: []remote.Filter{remote.Eq("id", chapterID)},
		})
	})
}

// CreateChapter persists a draft as a new chapter.
func (m *Coordinator) CreateChapter(ctx context.Context, draft domain.ChapterDraft) (*domain.Chapter, error) {
	if err := m.validate.Validate(draft); err != nil {
		return nil, m.fail("chapter.create", err)
	}
	userID, err := m.requireUser()
	if err != nil {
		return nil, m.fail("chapter.create", err)
	}
	// Guard per draft identity, not per novel: creating different chapters
	// of the same novel concurrently is fine.
	release, err := m.acquire("chapter", userID, fmt.Sprintf("%s/%d", draft.NovelID, draft.ChapterNumber))
	if err != nil {
		return nil, m.fail("chapter.create", err)
	}
	defer release()

	created, err := remote.Insert[domain.Chapter](ctx, m.client, "chapters", map[string]any{
		"novel_id":       draft.NovelID,
		"chapter_number": draft.ChapterNumber,
		"title":          draft.Title,
		"content":        draft.Content,
		"updated_at":     m.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, m.fail("chapter.create", err)
	}

	m.cache.Patch(keys.Chapter(created.ID), created)
	m.cache.Invalidate(keys.Chapters(draft.NovelID))
	m.notifier.Success("Chapter published")
	return created, nil
}

// UpdateChapter overwrites a chapter's content from a draft.
func (m *Coordinator) UpdateChapter(ctx context.Context, chapterID string, draft domain.ChapterDraft) (*domain.Chapter, error) {
	if err := m.validate.Validate(draft); err != nil {
		return nil, m.fail("chapter.update", err)
	}
	userID, err := m.requireUser()
	if err != nil {
		return nil, m.fail("chapter.update", err)
	}
	release, err := m.acquire("chapter", userID, chapterID)
	if err != nil {
		return nil, m.fail("chapter.update", err)
	}
	defer release()

	updated, err := remote.Update[domain.Chapter](ctx, m.client, "chapters",
		map[string]any{
			"chapter_number": draft.ChapterNumber,
			"title":          draft.Title,
			"content":        draft.Content,
			"updated_at":     m.now().UTC().Format(time.RFC3339),
		},
		remote.Eq("id", chapterID),
	)
	if err != nil {
		return nil, m.fail("chapter.update", err)
	}

	m.cache.Patch(keys.Chapter(chapterID), updated)
	m.cache.Invalidate(keys.Chapters(updated.NovelID))
	m.notifier.Success("Chapter updated")
	return updated, nil
}

// DeleteChapter removes a chapter.
func (m *Coordinator) DeleteChapter(ctx context.Context, chapterID, novelID string) error {
	userID, err := m.requireUser()
	if err != nil {
		return m.fail("chapter.delete", err)
	}
	release, err := m.acquire("chapter", userID, chapterID)
	if err != nil {
		return m.fail("chapter.delete", err)
	}
	defer release()

	if err := remote.Delete(ctx, m.client, "chapters", remote.Eq("id", chapterID)); err != nil {
		return m.fail("chapter.delete", err)
	}

	m.cache.Purge(keys.Chapter(chapterID))
	m.cache.Invalidate(keys.Chapters(novelID))
	m.notifier.Success("Chapter deleted")
	return nil
}
