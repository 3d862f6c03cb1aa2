package memopt

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fathomsearch/fathom/internal/telemetry"
)

// gcHistoryCap bounds the compaction event history.
const gcHistoryCap = 50

// GCEvent records one forced compaction.
type GCEvent struct {
	BeforeBytes uint64        `json:"before_bytes"`
	AfterBytes  uint64        `json:"after_bytes"`
	Elapsed     time.Duration `json:"elapsed"`
	At          time.Time     `json:"at"`
}

// GCOptimizer forces a full compaction every Threshold scoped operations,
// recording before/after memory and elapsed time.
type GCOptimizer struct {
	threshold int
	sampler   Sampler

	mu  sync.Mutex
	ops int64

	events *telemetry.Ring[GCEvent]
}

// NewGCOptimizer creates an optimizer. Non-positive thresholds fall back to
// 100; a nil sampler falls back to RuntimeSampler.
func NewGCOptimizer(threshold int, sampler Sampler) *GCOptimizer {
	if threshold <= 0 {
		threshold = 100
	}
	if sampler == nil {
		sampler = RuntimeSampler{}
	}
	return &GCOptimizer{
		threshold: threshold,
		sampler:   sampler,
		events:    telemetry.NewRing[GCEvent](gcHistoryCap),
	}
}

// Scoped runs fn as one counted operation, compacting when the operation
// count reaches the threshold. The count advances whether fn succeeds or
// fails.
func (g *GCOptimizer) Scoped(fn func() error) error {
	defer g.complete()
	return fn()
}

func (g *GCOptimizer) complete() {
	g.mu.Lock()
	g.ops++
	due := g.ops%int64(g.threshold) == 0
	g.mu.Unlock()

	if !due {
		return
	}

	before := g.sampler.Sample()
	start := time.Now()
	forceCompaction()
	after := g.sampler.Sample()

	event := GCEvent{
		BeforeBytes: before.ResidentBytes,
		AfterBytes:  after.ResidentBytes,
		Elapsed:     time.Since(start),
		At:          start,
	}
	g.events.Push(event)
	slog.Debug("scheduled compaction complete",
		slog.Uint64("before_bytes", event.BeforeBytes),
		slog.Uint64("after_bytes", event.AfterBytes),
		slog.Duration("elapsed", event.Elapsed))
}

// Operations returns the number of scoped operations observed.
func (g *GCOptimizer) Operations() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ops
}

// Events returns the recorded compactions, oldest first.
func (g *GCOptimizer) Events() []GCEvent {
	return g.events.Snapshot()
}
