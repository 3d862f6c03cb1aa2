package search

import "sort"

// DefaultMaxCandidates bounds the fused candidate list.
const DefaultMaxCandidates = 50

// FusionConfig holds fusion parameters.
type FusionConfig struct {
	Weights       Weights `yaml:"weights"`
	MaxCandidates int     `yaml:"max_candidates"`
}

// DefaultFusionConfig returns even weights and a 50-candidate cap.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Weights:       DefaultWeights(),
		MaxCandidates: DefaultMaxCandidates,
	}
}

// FusionEngine merges the two branch result lists into one ranked list
// keyed by candidate identity.
type FusionEngine struct {
	config FusionConfig
}

// NewFusionEngine creates a fusion engine. Zero-valued config fields fall
// back to defaults.
func NewFusionEngine(config FusionConfig) *FusionEngine {
	d := DefaultFusionConfig()
	if config.Weights.Lexical == 0 && config.Weights.Vector == 0 {
		config.Weights = d.Weights
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = d.MaxCandidates
	}
	return &FusionEngine{config: config}
}

// Weights returns the configured branch weights.
func (f *FusionEngine) Weights() Weights {
	return f.config.Weights
}

// Fuse merges the branch lists. Lexical results seed the map; a vector
// result either merges into an existing entry - recomputing the combined
// score and tagging it "hybrid" - or inserts as a vector-only entry keeping
// its raw score. Output is sorted descending by combined score with a
// stable tie-break on insertion order, truncated to the candidate cap.
//
// Inputs are not mutated; fused entries are copies.
func (f *FusionEngine) Fuse(lexical, vector []*Candidate) []*Candidate {
	merged := make([]*Candidate, 0, len(lexical)+len(vector))
	byID := make(map[string]*Candidate, len(lexical)+len(vector))

	for _, c := range lexical {
		if _, seen := byID[c.ID]; seen {
			continue
		}
		entry := c.Clone()
		entry.Provenance = ProvenanceLexical
		entry.SetScores(c.LexicalScore, 0, f.config.Weights)
		byID[entry.ID] = entry
		merged = append(merged, entry)
	}

	for _, c := range vector {
		if existing, seen := byID[c.ID]; seen {
			existing.Provenance = ProvenanceHybrid
			existing.SetScores(existing.LexicalScore, c.VectorScore, f.config.Weights)
			continue
		}
		entry := c.Clone()
		entry.Provenance = ProvenanceVector
		entry.SetScores(0, c.VectorScore, f.config.Weights)
		byID[entry.ID] = entry
		merged = append(merged, entry)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CombinedScore > merged[j].CombinedScore
	})

	if len(merged) > f.config.MaxCandidates {
		merged = merged[:f.config.MaxCandidates]
	}
	return merged
}
