package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// midText returns text of length n in the neutral penalty band.
func midText(n int) string {
	return strings.Repeat("x", n)
}

func TestRerank_ShortTextPenalty(t *testing.T) {
	// Given: a candidate whose text is under the short-text boundary and
	// shares no terms with the query
	rerank := NewRerankEngine(DefaultWeights())
	c := &Candidate{
		ID:           "short",
		Text:         "tiny snippet",
		LexicalScore: 1.0,
		Provenance:   ProvenanceLexical,
	}

	// When: reranking
	out := rerank.Rerank("unrelated query", []*Candidate{c}, 10)

	// Then: the raw score is discounted by the short-text factor
	require.Len(t, out, 1)
	assert.InDelta(t, 0.8, out[0].CombinedScore, 1e-9)
}

func TestRerank_LongTextPenalty(t *testing.T) {
	rerank := NewRerankEngine(DefaultWeights())
	c := &Candidate{
		ID:           "long",
		Text:         midText(1500),
		LexicalScore: 1.0,
		Provenance:   ProvenanceLexical,
	}

	out := rerank.Rerank("unrelated query", []*Candidate{c}, 10)

	require.Len(t, out, 1)
	assert.InDelta(t, 0.9, out[0].CombinedScore, 1e-9)
}

func TestRerank_NeutralLengthBand(t *testing.T) {
	rerank := NewRerankEngine(DefaultWeights())
	c := &Candidate{
		ID:           "mid",
		Text:         midText(200),
		LexicalScore: 1.0,
		Provenance:   ProvenanceLexical,
	}

	out := rerank.Rerank("unrelated query", []*Candidate{c}, 10)

	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].CombinedScore, 1e-9)
}

func TestRerank_LengthPenaltyCountsCharacters(t *testing.T) {
	// Given: multibyte text of 400 characters spanning 1200 bytes, inside
	// the neutral band by character count only
	rerank := NewRerankEngine(DefaultWeights())
	c := &Candidate{
		ID:           "cjk",
		Text:         strings.Repeat("日", 400),
		LexicalScore: 1.0,
		Provenance:   ProvenanceLexical,
	}

	// When: reranking
	out := rerank.Rerank("unrelated query", []*Candidate{c}, 10)

	// Then: no length penalty applies
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].CombinedScore, 1e-9)
}

func TestRerank_OverlapBonus(t *testing.T) {
	// Given: mid-length text matching one of the two query terms
	rerank := NewRerankEngine(DefaultWeights())
	c := &Candidate{
		ID:           "overlap",
		Text:         "concurrency " + midText(100),
		LexicalScore: 1.0,
		Provenance:   ProvenanceLexical,
	}

	// When: reranking with a two-term query
	out := rerank.Rerank("go concurrency", []*Candidate{c}, 10)

	// Then: score carries a 1 + 0.1*(1/2) bonus
	require.Len(t, out, 1)
	assert.InDelta(t, 1.05, out[0].CombinedScore, 1e-9)
}

func TestRerank_HybridBaseScore(t *testing.T) {
	// Hybrid candidates rerank from the weighted combination, not from a
	// single branch score.
	rerank := NewRerankEngine(DefaultWeights())
	c := &Candidate{
		ID:           "hybrid",
		Text:         midText(200),
		LexicalScore: 0.8,
		VectorScore:  0.6,
		Provenance:   ProvenanceHybrid,
	}

	out := rerank.Rerank("unrelated query", []*Candidate{c}, 10)

	require.Len(t, out, 1)
	assert.InDelta(t, 0.7, out[0].CombinedScore, 1e-9)
}

func TestRerank_TopKAndOrder(t *testing.T) {
	rerank := NewRerankEngine(DefaultWeights())
	candidates := []*Candidate{
		{ID: "b", Text: midText(200), LexicalScore: 0.5, Provenance: ProvenanceLexical},
		{ID: "a", Text: midText(200), LexicalScore: 0.9, Provenance: ProvenanceLexical},
		{ID: "c", Text: midText(200), LexicalScore: 0.3, Provenance: ProvenanceLexical},
	}

	out := rerank.Rerank("query", candidates, 2)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
}

func TestRerank_Deterministic(t *testing.T) {
	// Identical inputs produce identical orderings across runs.
	rerank := NewRerankEngine(DefaultWeights())
	build := func() []*Candidate {
		return []*Candidate{
			{ID: "a", Text: "retrieval systems " + midText(80), LexicalScore: 0.7, Provenance: ProvenanceLexical},
			{ID: "b", Text: "short", LexicalScore: 0.9, Provenance: ProvenanceLexical},
			{ID: "c", Text: midText(2000), VectorScore: 0.85, Provenance: ProvenanceVector},
		}
	}

	first := rerank.Rerank("retrieval", build(), 10)
	second := rerank.Rerank("retrieval", build(), 10)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].CombinedScore, second[i].CombinedScore)
	}
}

func TestRerank_EmptyInput(t *testing.T) {
	rerank := NewRerankEngine(DefaultWeights())
	out := rerank.Rerank("query", nil, 10)
	assert.Empty(t, out)
}
