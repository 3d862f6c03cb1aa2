package backend

import (
	"context"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/fathomsearch/fathom/internal/errors"
	"github.com/fathomsearch/fathom/internal/search"
)

// filterOverfetch widens the Bleve request when post-filtering may discard
// hits.
const filterOverfetch = 4

// bleveDocument is the document shape handed to Bleve. Title terms are
// indexed alongside body text.
type bleveDocument struct {
	Content string `json:"content"`
}

// LexicalIndex is the BM25 keyword branch backed by an in-memory Bleve
// index. It implements search.LexicalBackend.
type LexicalIndex struct {
	mu      sync.RWMutex
	index   bleve.Index
	catalog *Catalog
	closed  bool
}

// NewLexicalIndex creates an in-memory lexical index over the catalog.
func NewLexicalIndex(catalog *Catalog) (*LexicalIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, errors.IndexError("create lexical index", err)
	}
	return &LexicalIndex{index: idx, catalog: catalog}, nil
}

// Index adds documents to the index and the catalog.
func (l *LexicalIndex) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New(errors.ErrCodeIndexClosed, "lexical index is closed", nil)
	}

	batch := l.index.NewBatch()
	for _, doc := range docs {
		content := doc.Title + "\n" + doc.Text
		if err := batch.Index(doc.ID, bleveDocument{Content: content}); err != nil {
			return errors.IndexError("index document", err).WithDetail("id", doc.ID)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return errors.IndexError("execute index batch", err)
	}

	l.catalog.Put(docs...)
	return nil
}

// Search returns catalog documents matching the query, scored by BM25,
// as lexical candidates.
func (l *LexicalIndex) Search(ctx context.Context, query string, topK int, filters map[string]string) ([]*search.Candidate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, errors.New(errors.ErrCodeIndexClosed, "lexical index is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return []*search.Candidate{}, nil
	}

	size := topK
	if len(filters) > 0 {
		size = topK * filterOverfetch
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")
	request := bleve.NewSearchRequest(matchQuery)
	request.Size = size

	result, err := l.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "lexical search failed", err)
	}

	candidates := make([]*search.Candidate, 0, topK)
	for _, hit := range result.Hits {
		doc, err := l.catalog.Get(hit.ID)
		if err != nil {
			// Index and catalog drifted apart; skip the orphan hit.
			continue
		}
		if !matchesFilters(doc, filters) {
			continue
		}
		candidates = append(candidates, &search.Candidate{
			ID:           doc.ID,
			Title:        doc.Title,
			Text:         doc.Text,
			SourceURL:    doc.SourceURL,
			TaxonomyPath: doc.TaxonomyPath,
			LexicalScore: hit.Score,
			Provenance:   search.ProvenanceLexical,
		})
		if len(candidates) == topK {
			break
		}
	}
	return candidates, nil
}

// Count returns the number of indexed documents.
func (l *LexicalIndex) Count() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, errors.New(errors.ErrCodeIndexClosed, "lexical index is closed", nil)
	}
	return l.index.DocCount()
}

// Close releases the index.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.index.Close()
}
