package mutation

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/errors"
)

// ImportChapterHTML converts pasted or exported HTML into a chapter draft.
// Chapter content is stored as Markdown; this is the only ingestion path for
// rich text. The draft is returned for review, not persisted.
func (m *Coordinator) ImportChapterHTML(novelID string, chapterNumber int, title, html string) (domain.ChapterDraft, error) {
	var draft domain.ChapterDraft

	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return draft, m.fail("chapter.import", errors.Wrap(err, errors.CodeValidation, "convert document"))
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return draft, m.fail("chapter.import", errors.Validation("document has no readable content"))
	}

	draft = domain.ChapterDraft{
		NovelID:       novelID,
		ChapterNumber: chapterNumber,
		Title:         title,
		Content:       markdown,
	}
	if err := m.validate.Validate(draft); err != nil {
		return domain.ChapterDraft{}, m.fail("chapter.import", err)
	}
	return draft, nil
}
