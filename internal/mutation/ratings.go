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

// UserRating returns the signed-in user's rating for a novel, or nil when
// they have not rated it.
func (m *Coordinator) UserRating(ctx context.Context, novelID string) (*domain.Rating, error) {
	userID := m.sessions.UserID()
	if userID == "" {
		return nil, nil
	}
	return cache.ReadAs(ctx, m.cache, keys.UserRating(novelID), func(ctx context.Context) (*domain.Rating, error) {
		rating, err := remote.SelectSingle[domain.Rating](ctx, m.client, remote.Query{
			Table: "ratings",
			Filters: []remote.Filter{
				remote.Eq("user_id", userID),
				remote.Eq("novel_id", novelID),
			},
		})
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return rating, err
	})
}

// Rate submits a 1-5 score for a novel. A second submission for the same
// pair overwrites the first; one pair never holds two rows.
func (m *Coordinator) Rate(ctx context.Context, draft domain.RatingDraft) error {
	if err := m.validate.Validate(draft); err != nil {
		return m.fail("rating.rate", err)
	}
	userID, err := m.requireUser()
	if err != nil {
		return m.fail("rating.rate", err)
	}
	release, err := m.acquire("rating", userID, draft.NovelID)
	if err != nil {
		return m.fail("rating.rate", err)
	}
	defer release()

	now := m.now().UTC().Format(time.RFC3339)
	existing, err := remote.SelectAll[domain.Rating](ctx, m.client, remote.Query{
		Table: "ratings",
		Filters: []remote.Filter{
			remote.Eq("user_id", userID),
			remote.Eq("novel_id", draft.NovelID),
		},
		Limit: 1,
	})
	if err != nil {
		return m.fail("rating.rate", err)
	}

	var saved *domain.Rating
	if len(existing) > 0 {
		saved, err = remote.Update[domain.Rating](ctx, m.client, "ratings",
			map[string]any{"rating": draft.Rating, "updated_at": now},
			remote.Eq("user_id", userID),
			remote.Eq("novel_id", draft.NovelID),
		)
	} else {
		saved, err = remote.Insert[domain.Rating](ctx, m.client, "ratings", map[string]any{
			"user_id":    userID,
			"novel_id":   draft.NovelID,
			"rating":     draft.Rating,
			"updated_at": now,
		})
	}
	if err != nil {
		return m.fail("rating.rate", err)
	}

	m.cache.Patch(keys.UserRating(draft.NovelID), saved)
	// Aggregate score on the novel changed server-side.
	m.cache.Invalidate(keys.Novel(draft.NovelID))
	m.notifier.Success("Rating saved")
	return nil
}
