package domain

import (
	"sort"
	"time"
)

// Chapter is one installment of a novel. Content is Markdown.
type Chapter struct {
	ID            string    `json:"id"`
	NovelID       string    `json:"novel_id"`
	ChapterNumber int       `json:"chapter_number"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChapterDraft is chapter content owned by the editing surface until submit.
// It is not persisted until a create or update is confirmed.
type ChapterDraft struct {
	NovelID       string `json:"novel_id" validate:"required"`
	ChapterNumber int    `json:"chapter_number" validate:"required,gt=0"`
	Title         string `json:"title" validate:"required"`
	Content       string `json:"content" validate:"required"`
}

// SortChapters orders chapters by ascending chapter number in place.
// List ordering is always re-derived this way, never by insertion order.
func SortChapters(chapters []Chapter) {
	sort.SliceStable(chapters, func(i, j int) bool {
		return chapters[i].ChapterNumber < chapters[j].ChapterNumber
	})
}
