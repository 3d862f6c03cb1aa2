// Package search implements the hybrid retrieval core: parallel lexical and
// vector search, score fusion, reranking, and the orchestrating service with
// its sequential and synthetic fallbacks.
package search

import (
	"context"
	"time"

	"github.com/fathomsearch/fathom/internal/memopt"
)

// Provenance identifies which retrieval branch produced a candidate.
type Provenance string

const (
	ProvenanceLexical  Provenance = "lexical"
	ProvenanceVector   Provenance = "vector"
	ProvenanceHybrid   Provenance = "hybrid"
	ProvenanceFallback Provenance = "fallback"
)

// Candidate is a single retrieval result.
//
// CombinedScore is recomputed whenever either sub-score changes; use
// SetScores rather than writing the score fields directly.
type Candidate struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	Title        string `json:"title"`
	SourceURL    string `json:"source_url"`
	TaxonomyPath string `json:"taxonomy_path"`

	LexicalScore  float64    `json:"lexical_score"`
	VectorScore   float64    `json:"vector_score"`
	CombinedScore float64    `json:"combined_score"`
	Provenance    Provenance `json:"provenance"`

	// Metadata carries per-result annotations (timing, optimization info).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SetScores updates both sub-scores and recomputes CombinedScore with the
// given weights.
func (c *Candidate) SetScores(lexical, vector float64, weights Weights) {
	c.LexicalScore = lexical
	c.VectorScore = vector
	c.CombinedScore = combinedScore(c, weights)
}

// combinedScore applies the fusion scoring rule. Candidates seen by both
// branches get the weighted combination; single-branch candidates keep their
// raw branch score. The asymmetry mirrors the observed reference behavior.
func combinedScore(c *Candidate, weights Weights) float64 {
	switch c.Provenance {
	case ProvenanceHybrid:
		return weights.Lexical*c.LexicalScore + weights.Vector*c.VectorScore
	case ProvenanceVector:
		return c.VectorScore
	default:
		return c.LexicalScore
	}
}

// Clone returns a deep copy of the candidate.
func (c *Candidate) Clone() *Candidate {
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Weights configures the relative importance of the two branches.
type Weights struct {
	Lexical float64 `yaml:"lexical"`
	Vector  float64 `yaml:"vector"`
}

// DefaultWeights returns the even 0.5/0.5 split.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.5, Vector: 0.5}
}

// ExecutionMetrics is an immutable snapshot of one parallel execution,
// appended to a bounded rolling history.
type ExecutionMetrics struct {
	TotalTime        time.Duration         `json:"total_time"`
	ParallelTime     time.Duration         `json:"parallel_time"`
	CPUTime          time.Duration         `json:"cpu_time"`
	Memory           memopt.MemorySnapshot `json:"memory"`
	ConcurrencyLevel int                   `json:"concurrency_level"`
	TasksCompleted   int                   `json:"tasks_completed"`
}

// LexicalBackend is the keyword (BM25-style) retrieval collaborator.
// Implementations return candidates ordered by lexical score, with
// LexicalScore set and Provenance "lexical".
type LexicalBackend interface {
	Search(ctx context.Context, query string, topK int, filters map[string]string) ([]*Candidate, error)
}

// VectorBackend is the embedding-similarity retrieval collaborator.
// Implementations return candidates ordered by similarity, with VectorScore
// set and Provenance "vector".
type VectorBackend interface {
	Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]*Candidate, error)
}

// Embedder produces fixed-dimension float vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
