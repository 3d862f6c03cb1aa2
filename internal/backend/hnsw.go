package backend

import (
	"context"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/fathomsearch/fathom/internal/errors"
	"github.com/fathomsearch/fathom/internal/search"
)

// VectorIndexConfig holds HNSW graph parameters.
type VectorIndexConfig struct {
	// Dimensions is the required embedding width.
	Dimensions int `yaml:"dimensions"`

	// M is the maximum neighbor count per graph node.
	M int `yaml:"m"`

	// EfSearch is the candidate list size during search.
	EfSearch int `yaml:"ef_search"`
}

// DefaultVectorIndexConfig returns the recommended HNSW parameters.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   20,
	}
}

// VectorIndex is the similarity branch backed by an in-memory HNSW graph
// with cosine distance. It implements search.VectorBackend.
//
// String IDs map to internal uint64 keys; replaced IDs are lazily deleted
// by orphaning the old key rather than removing the node.
type VectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	catalog *Catalog
	config  VectorIndexConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// NewVectorIndex creates an empty vector index over the catalog.
func NewVectorIndex(catalog *Catalog, config VectorIndexConfig) (*VectorIndex, error) {
	if config.Dimensions <= 0 {
		return nil, errors.ValidationError("vector index needs positive dimensions", nil)
	}
	if config.M == 0 {
		config.M = 16
	}
	if config.EfSearch == 0 {
		config.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = config.M
	graph.EfSearch = config.EfSearch
	graph.Ml = 0.25

	return &VectorIndex{
		graph:   graph,
		catalog: catalog,
		config:  config,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
	}, nil
}

// Add inserts document embeddings. Existing IDs are replaced.
func (v *VectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return errors.ValidationError("ids and vectors length mismatch", nil)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.New(errors.ErrCodeIndexClosed, "vector index is closed", nil)
	}

	for _, vec := range vectors {
		if len(vec) != v.config.Dimensions {
			return errors.New(errors.ErrCodeDimensionMismatch, "embedding dimension mismatch", nil)
		}
	}

	for i, id := range ids {
		if oldKey, exists := v.idMap[id]; exists {
			// Lazy deletion: orphan the old key instead of removing the
			// node from the graph.
			delete(v.keyMap, oldKey)
			delete(v.idMap, id)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[id] = key
		v.keyMap[key] = id
	}
	return nil
}

// Search returns the nearest catalog documents as vector candidates with a
// 0-1 similarity score.
func (v *VectorIndex) Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]*search.Candidate, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, errors.New(errors.ErrCodeIndexClosed, "vector index is closed", nil)
	}
	if len(embedding) != v.config.Dimensions {
		return nil, errors.New(errors.ErrCodeDimensionMismatch, "query embedding dimension mismatch", nil)
	}
	if v.graph.Len() == 0 {
		return []*search.Candidate{}, nil
	}

	query := make([]float32, len(embedding))
	copy(query, embedding)
	normalizeInPlace(query)

	k := topK
	if len(filters) > 0 {
		k = topK * filterOverfetch
	}
	nodes := v.graph.Search(query, k)

	candidates := make([]*search.Candidate, 0, topK)
	for _, node := range nodes {
		id, live := v.keyMap[node.Key]
		if !live {
			// Orphaned by a replace; skip.
			continue
		}
		doc, err := v.catalog.Get(id)
		if err != nil {
			continue
		}
		if !matchesFilters(doc, filters) {
			continue
		}

		// Cosine distance is 0..2; fold it into a 0..1 similarity.
		distance := v.graph.Distance(query, node.Value)
		score := float64(1.0 - distance/2.0)

		candidates = append(candidates, &search.Candidate{
			ID:           doc.ID,
			Title:        doc.Title,
			Text:         doc.Text,
			SourceURL:    doc.SourceURL,
			TaxonomyPath: doc.TaxonomyPath,
			VectorScore:  score,
			Provenance:   search.ProvenanceVector,
		})
		if len(candidates) == topK {
			break
		}
	}
	return candidates, nil
}

// Count returns the number of live vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Close marks the index closed.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// normalizeInPlace scales v to unit length. Zero vectors are left alone.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
