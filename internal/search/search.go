// Package search maintains an in-memory full-text index over the novels the
// cache has seen, so the catalogue stays searchable while offline. The index
// is fed by cache events and is always a best-effort mirror: indexing
// failures are logged, never surfaced to readers.
package search

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/text/unicode/norm"

	"github.com/tallyapp/tally-go/internal/cache"
	"github.com/tallyapp/tally-go/internal/domain"
	"github.com/tallyapp/tally-go/internal/keys"
)

// Hit is one search result.
type Hit struct {
	NovelID string
	Title   string
	Score   float64
}

// novelDoc is the indexed shape of a novel.
type novelDoc struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
}

// Index is the offline novel index. Safe for concurrent use.
type Index struct {
	mu     sync.Mutex
	idx    bleve.Index
	logger *slog.Logger
}

// New creates an empty in-memory index.
func New(logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	docMapping := bleve.NewDocumentMapping()
	for _, field := range []string{"title", "description", "genre"} {
		fm := bleve.NewTextFieldMapping()
		fm.Store = true
		docMapping.AddFieldMappingsAt(field, fm)
	}
	mapping := bleve.NewIndexMapping()
	mapping.DefaultMapping = docMapping

	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx, logger: logger}, nil
}

// Close releases the index.
func (i *Index) Close() error {
	return i.idx.Close()
}

// Listener returns the cache subscriber that keeps the index in sync. Novel
// values flowing through the cache are indexed; purged novels are removed.
func (i *Index) Listener() cache.Subscriber {
	return func(ev cache.Event) {
		switch ev.Kind {
		case cache.EventFetched, cache.EventPatched:
			i.indexValue(ev)
		case cache.EventPurged:
			if ev.Key.Kind() == keys.KindNovel && len(ev.Key) == 2 {
				i.delete(ev.Key[1])
			}
		}
	}
}

func (i *Index) indexValue(ev cache.Event) {
	switch v := ev.Value.(type) {
	case []domain.Novel:
		if ev.Key.Kind() != keys.KindNovels {
			return
		}
		for idx := range v {
			i.upsert(&v[idx])
		}
	case *domain.Novel:
		if v != nil {
			i.upsert(v)
		}
	case domain.Novel:
		i.upsert(&v)
	}
}

func (i *Index) upsert(n *domain.Novel) {
	i.mu.Lock()
	defer i.mu.Unlock()
	err := i.idx.Index(n.ID, novelDoc{
		Title:       normalize(n.Title),
		Description: normalize(n.Description),
		Genre:       normalize(n.Genre),
	})
	if err != nil {
		i.logger.Warn("index novel failed", "novel_id", n.ID, "error", err)
	}
}

func (i *Index) delete(novelID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.idx.Delete(novelID); err != nil {
		i.logger.Warn("unindex novel failed", "novel_id", novelID, "error", err)
	}
}

// Search runs a free-text query over the indexed novels.
func (i *Index) Search(q string, limit int) ([]Hit, error) {
	q = normalize(q)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var terms []query.Query
	for _, word := range strings.Fields(q) {
		match := bleve.NewMatchQuery(word)
		match.SetFuzziness(1)
		prefix := bleve.NewPrefixQuery(word)
		terms = append(terms, bleve.NewDisjunctionQuery(match, prefix))
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(terms...), limit, 0, false)
	req.Fields = []string{"title"}

	i.mu.Lock()
	res, err := i.idx.Search(req)
	i.mu.Unlock()
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{NovelID: h.ID, Score: h.Score}
		if title, ok := h.Fields["title"].(string); ok {
			hit.Title = title
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed novels.
func (i *Index) Count() (uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.DocCount()
}

// normalize folds text to NFC lowercase so queries match regardless of how
// the author's editor composed accented characters.
func normalize(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}
