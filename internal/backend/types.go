// Package backend provides the retrieval collaborators: the Bleve lexical
// index, the HNSW vector index, and the embedder stack.
package backend

import (
	"sync"

	"github.com/fathomsearch/fathom/internal/errors"
)

// Filter keys understood by both indexes.
const (
	// FilterTaxonomyPath restricts results to a taxonomy subtree (prefix
	// match).
	FilterTaxonomyPath = "taxonomy_path"

	// FilterSourceURL restricts results to one source (exact match).
	FilterSourceURL = "source_url"
)

// Document is one indexed content chunk.
type Document struct {
	ID           string            `json:"id" yaml:"id"`
	Title        string            `json:"title" yaml:"title"`
	Text         string            `json:"text" yaml:"text"`
	SourceURL    string            `json:"source_url" yaml:"source_url"`
	TaxonomyPath string            `json:"taxonomy_path" yaml:"taxonomy_path"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Catalog is the in-memory document store shared by both indexes. Search
// hits carry only IDs and scores; the catalog resolves them back to full
// documents.
type Catalog struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{docs: make(map[string]Document)}
}

// Put stores or replaces documents.
func (c *Catalog) Put(docs ...Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range docs {
		c.docs[d.ID] = d
	}
}

// Get resolves one document by ID.
func (c *Catalog) Get(id string) (Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	if !ok {
		return Document{}, errors.New(errors.ErrCodeDocumentMissing, "document not in catalog", nil).
			WithDetail("id", id)
	}
	return d, nil
}

// Len returns the number of stored documents.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// matchesFilters applies the filter map to a document. Unknown keys must
// match a metadata entry exactly.
func matchesFilters(d Document, filters map[string]string) bool {
	for k, v := range filters {
		switch k {
		case FilterTaxonomyPath:
			if len(d.TaxonomyPath) < len(v) || d.TaxonomyPath[:len(v)] != v {
				return false
			}
		case FilterSourceURL:
			if d.SourceURL != v {
				return false
			}
		default:
			if d.Metadata[k] != v {
				return false
			}
		}
	}
	return true
}
