package domain

import "time"

// Bookmark is an existence-only relation between a reader and a novel.
// At most one relation exists per (user, novel) pair.
type Bookmark struct {
	UserID    string    `json:"user_id"`
	NovelID   string    `json:"novel_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Rating is a reader's 1-5 score for a novel. A second submission for the
// same pair overwrites rather than duplicates.
type Rating struct {
	UserID    string    `json:"user_id"`
	NovelID   string    `json:"novel_id"`
	Rating    int       `json:"rating"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RatingDraft is the payload validated before a rating write.
type RatingDraft struct {
	NovelID string `json:"novel_id" validate:"required"`
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
}
