package domain

import "time"

// NovelStatus tracks where a serialized novel is in its lifecycle.
type NovelStatus string

const (
	// NovelOngoing is still being written.
	NovelOngoing NovelStatus = "ongoing"
	// NovelCompleted has reached its final chapter.
	NovelCompleted NovelStatus = "completed"
	// NovelHiatus is paused by the author.
	NovelHiatus NovelStatus = "hiatus"
)

// Valid reports whether the status is one of the known values.
func (s NovelStatus) Valid() bool {
	switch s {
	case NovelOngoing, NovelCompleted, NovelHiatus:
		return true
	}
	return false
}

// NovelDraft is the payload validated before a novel create or update.
type NovelDraft struct {
	Title         string      `json:"title" validate:"required"`
	Description   string      `json:"description"`
	Genre         string      `json:"genre" validate:"required"`
	Status        NovelStatus `json:"status" validate:"required,oneof=ongoing completed hiatus"`
	CoverImageURL string      `json:"cover_image_url"`
}

// Novel is a serialized work with chapters published over time.
type Novel struct {
	ID            string      `json:"id"`
	AuthorID      string      `json:"author_id"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	CoverImageURL string      `json:"cover_image_url"`
	Genre         string      `json:"genre"`
	Status        NovelStatus `json:"status"`
	Published     bool        `json:"published"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
