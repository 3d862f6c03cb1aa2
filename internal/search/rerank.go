package search

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Length penalty boundaries and factors.
const (
	shortTextLen     = 50
	longTextLen      = 1000
	shortTextPenalty = 0.8
	longTextPenalty  = 0.9
	overlapBonusStep = 0.1
)

// RerankEngine applies the final scoring pass over a fused candidate set:
// recomputed combined score, a text-length penalty, and a query-term-overlap
// bonus. Deterministic for identical inputs.
type RerankEngine struct {
	weights Weights
}

// NewRerankEngine creates a rerank engine using the given fusion weights.
func NewRerankEngine(weights Weights) *RerankEngine {
	if weights.Lexical == 0 && weights.Vector == 0 {
		weights = DefaultWeights()
	}
	return &RerankEngine{weights: weights}
}

// Rerank scores every candidate and returns the top k sorted descending by
// final score. Candidates are mutated in place (CombinedScore becomes the
// final score).
func (r *RerankEngine) Rerank(query string, candidates []*Candidate, topK int) []*Candidate {
	queryTerms := termSet(query)

	for _, c := range candidates {
		base := combinedScore(c, r.weights)
		c.CombinedScore = base * lengthPenalty(c.Text) * overlapBonus(queryTerms, c.Text)
	}

	out := make([]*Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// lengthPenalty discounts very short and very long texts. Boundaries are
// in characters, not bytes.
func lengthPenalty(text string) float64 {
	switch n := utf8.RuneCountInString(text); {
	case n < shortTextLen:
		return shortTextPenalty
	case n > longTextLen:
		return longTextPenalty
	default:
		return 1.0
	}
}

// overlapBonus rewards candidates whose text shares terms with the query:
// 1 + 0.1 * |query ∩ text| / |query|. Queries with no terms get no bonus.
func overlapBonus(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 1.0
	}
	matched := 0
	for term := range termSet(text) {
		if _, ok := queryTerms[term]; ok {
			matched++
		}
	}
	return 1.0 + overlapBonusStep*float64(matched)/float64(len(queryTerms))
}

// termSet returns the unique lowercase whitespace-separated terms.
func termSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
