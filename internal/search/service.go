package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fathomsearch/fathom/internal/concurrency"
	"github.com/fathomsearch/fathom/internal/memopt"
)

// Operation names used with the concurrency controller. They match the
// operations named by concurrency.DefaultControllerConfig.
const (
	OpSearch    = "search"
	OpEmbedding = "embedding"
)

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("nil dependency")

// Options configures one hybrid search call.
type Options struct {
	// Filters restricts both branches (backend-interpreted).
	Filters map[string]string

	// TopK is the number of results returned (default 10).
	TopK int

	// LexicalTopK is the lexical branch depth (default 12).
	LexicalTopK int

	// VectorTopK is the vector branch depth (default 12).
	VectorTopK int

	// RerankCandidates caps the fused set entering rerank (default 50).
	RerankCandidates int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.LexicalTopK <= 0 {
		o.LexicalTopK = 12
	}
	if o.VectorTopK <= 0 {
		o.VectorTopK = 12
	}
	if o.RerankCandidates <= 0 {
		o.RerankCandidates = DefaultMaxCandidates
	}
	return o
}

// ServiceConfig holds the service-owned tuning parameters.
type ServiceConfig struct {
	Executor ExecutorConfig       `yaml:"executor"`
	Fusion   FusionConfig         `yaml:"fusion"`
	Memory   memopt.MonitorConfig `yaml:"memory"`

	// QuantizationBits is the element width for query-embedding compression.
	QuantizationBits int `yaml:"quantization_bits"`

	// ChunkSize is the streamed-result chunk size.
	ChunkSize int `yaml:"chunk_size"`

	// GCThreshold is the scoped-operation count between forced compactions.
	GCThreshold int `yaml:"gc_threshold"`

	// CloseTimeout bounds worker pool draining on shutdown.
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

// DefaultServiceConfig returns the reference deployment parameters.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Executor:         DefaultExecutorConfig(),
		Fusion:           DefaultFusionConfig(),
		Memory:           memopt.DefaultMonitorConfig(),
		QuantizationBits: memopt.Bits8,
		ChunkSize:        DefaultChunkSize,
		GCThreshold:      100,
		CloseTimeout:     5 * time.Second,
	}
}

// Service orchestrates the full hybrid retrieval pipeline: admission
// control, parallel branch execution, fusion, rerank, and the two-tier
// failure recovery (optimized path, then sequential legacy path, then a
// synthetic low-confidence result). It never propagates a hard failure for
// search unavailability; only admission signals cross its boundary.
//
// Services are built once by the composition root and shared by reference.
type Service struct {
	lexical  LexicalBackend
	vector   VectorBackend
	embedder Embedder

	controller *concurrency.Controller
	executor   *ParallelExecutor
	fusion     *FusionEngine
	rerank     *RerankEngine
	quantizer  *memopt.Quantizer
	monitor    *memopt.Monitor
	gc         *memopt.GCOptimizer

	config ServiceConfig
}

// NewService creates the hybrid search service. All collaborators are
// required.
func NewService(
	lexical LexicalBackend,
	vector VectorBackend,
	embedder Embedder,
	controller *concurrency.Controller,
	config ServiceConfig,
) (*Service, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical backend is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector backend is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if controller == nil {
		return nil, fmt.Errorf("%w: concurrency controller is required", ErrNilDependency)
	}

	if config.QuantizationBits == 0 {
		config.QuantizationBits = memopt.Bits8
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = 5 * time.Second
	}

	executor, err := NewParallelExecutor(lexical, vector, config.Executor)
	if err != nil {
		return nil, err
	}

	fusion := NewFusionEngine(config.Fusion)

	return &Service{
		lexical:    lexical,
		vector:     vector,
		embedder:   embedder,
		controller: controller,
		executor:   executor,
		fusion:     fusion,
		rerank:     NewRerankEngine(fusion.Weights()),
		quantizer:  memopt.NewQuantizer(),
		monitor:    memopt.NewMonitor(config.Memory, nil),
		gc:         memopt.NewGCOptimizer(config.GCThreshold, nil),
		config:     config,
	}, nil
}

// HybridSearch runs the full pipeline for one query. The optimized parallel
// path is tried first inside an admission-controlled, GC-paced scope; any
// failure there routes to the sequential legacy path, and a legacy failure
// yields one synthetic low-confidence candidate. Admission rejections
// (concurrency.ErrRateLimited, concurrency.ErrCircuitOpen) are the only
// errors returned.
func (s *Service) HybridSearch(ctx context.Context, query string, opts Options) ([]*Candidate, error) {
	opts = opts.withDefaults()
	start := time.Now()

	var results []*Candidate
	err := s.controller.ControlledExecution(ctx, OpSearch, func(ctx context.Context) error {
		return s.gc.Scoped(func() error {
			var pathErr error
			results, pathErr = s.optimizedSearch(ctx, query, opts, start)
			return pathErr
		})
	})
	if err == nil {
		return results, nil
	}
	if errors.Is(err, concurrency.ErrRateLimited) || errors.Is(err, concurrency.ErrCircuitOpen) {
		return nil, err
	}

	slog.Warn("optimized search path failed, falling back to sequential",
		slog.String("query", query),
		slog.String("error", err.Error()))

	results, legacyErr := s.legacySearch(ctx, query, opts)
	if legacyErr != nil {
		slog.Error("legacy search path failed, returning synthetic result",
			slog.String("query", query),
			slog.String("error", legacyErr.Error()))
		return []*Candidate{s.syntheticResult(query)}, nil
	}
	return results, nil
}

// optimizedSearch is the parallel path: memory check, query embedding,
// concurrent branches, pooled fusion, pooled rerank.
func (s *Service) optimizedSearch(ctx context.Context, query string, opts Options, start time.Time) ([]*Candidate, error) {
	s.monitor.Check()

	embedding := s.embedQuery(ctx, query)
	if len(embedding) > 0 {
		// Rolling compression stats over the query embeddings we handle.
		s.quantizer.Quantize(embedding, s.config.QuantizationBits)
	}

	lexical, vector, metrics, err := s.executor.Search(ctx, query, embedding, opts.LexicalTopK, opts.VectorTopK, opts.Filters)
	if err != nil {
		return nil, err
	}

	var fused []*Candidate
	if err := s.executor.RunFusion(ctx, func() error {
		fused = s.fusion.Fuse(lexical, vector)
		return nil
	}); err != nil {
		return nil, err
	}
	if len(fused) > opts.RerankCandidates {
		fused = fused[:opts.RerankCandidates]
	}

	cpuStart := time.Now()
	var reranked []*Candidate
	if err := s.executor.RunCPU(ctx, func() error {
		reranked = s.rerank.Rerank(query, fused, opts.TopK)
		return nil
	}); err != nil {
		return nil, err
	}
	metrics.CPUTime = time.Since(cpuStart)
	s.executor.RecordExecution(metrics)

	s.annotate(reranked, "optimized", time.Since(start), metrics.ParallelTime)
	return reranked, nil
}

// legacySearch is the fully sequential fallback with identical fusion and
// rerank semantics. It fails only when neither branch produced anything
// usable.
func (s *Service) legacySearch(ctx context.Context, query string, opts Options) ([]*Candidate, error) {
	start := time.Now()

	lexical, lexErr := s.lexical.Search(ctx, query, opts.LexicalTopK, opts.Filters)
	if lexErr != nil {
		slog.Warn("legacy lexical branch failed",
			slog.String("error", lexErr.Error()))
		lexical = nil
	}

	var vector []*Candidate
	var vecErr error
	embedding := s.embedQuery(ctx, query)
	if len(embedding) > 0 {
		vector, vecErr = s.vector.Search(ctx, embedding, opts.VectorTopK, opts.Filters)
		if vecErr != nil {
			slog.Warn("legacy vector branch failed",
				slog.String("error", vecErr.Error()))
			vector = nil
		}
	} else {
		vecErr = errors.New("no query embedding available")
	}

	if lexErr != nil && vecErr != nil {
		return nil, errors.Join(lexErr, vecErr)
	}

	fused := s.fusion.Fuse(lexical, vector)
	if len(fused) > opts.RerankCandidates {
		fused = fused[:opts.RerankCandidates]
	}
	reranked := s.rerank.Rerank(query, fused, opts.TopK)

	s.annotate(reranked, "legacy", time.Since(start), 0)
	return reranked, nil
}

// embedQuery generates the query embedding through the embedding breaker.
// Failures are absorbed: a nil return degrades the vector branch rather
// than failing the search.
func (s *Service) embedQuery(ctx context.Context, query string) []float32 {
	var embedding []float32
	err := s.controller.ExecuteWithBreaker(OpEmbedding, func() error {
		var embErr error
		embedding, embErr = s.embedder.Embed(ctx, query)
		return embErr
	})
	if err != nil {
		slog.Warn("query embedding unavailable, vector branch disabled",
			slog.String("error", err.Error()))
		return nil
	}
	return embedding
}

// annotate attaches search-path and timing metadata to each result.
func (s *Service) annotate(results []*Candidate, path string, total, parallel time.Duration) {
	for i, c := range results {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string, 4)
		}
		c.Metadata["search_path"] = path
		c.Metadata["total_time_ms"] = strconv.FormatInt(total.Milliseconds(), 10)
		if parallel > 0 {
			c.Metadata["parallel_time_ms"] = strconv.FormatInt(parallel.Milliseconds(), 10)
		}
		c.Metadata["rank"] = strconv.Itoa(i + 1)
	}
}

// syntheticResult is the last-resort candidate when both paths failed.
func (s *Service) syntheticResult(query string) *Candidate {
	return &Candidate{
		ID:            "synthetic-fallback",
		Title:         "Search temporarily degraded",
		Text:          "Retrieval backends are currently unavailable. Results for \"" + query + "\" could not be computed; please retry shortly.",
		CombinedScore: 0.5,
		Provenance:    ProvenanceFallback,
		Metadata: map[string]string{
			"search_path": "fallback",
		},
	}
}

// StreamResults returns a chunked stream over results using the configured
// chunk size.
func (s *Service) StreamResults(results []*Candidate) *ResultChunker {
	return NewResultChunker(results, s.config.ChunkSize)
}

// ComprehensiveStats is the full service state for diagnostics.
type ComprehensiveStats struct {
	Concurrency  concurrency.Stats     `json:"concurrency"`
	Performance  PerformanceStats      `json:"performance"`
	Quantization memopt.QuantizerStats `json:"quantization"`
	MemoryTrend  memopt.Trend          `json:"memory_trend"`
	GCEvents     []memopt.GCEvent      `json:"gc_events"`
	GCOperations int64                 `json:"gc_operations"`
}

// Stats returns controller, executor, quantizer, and memory statistics.
func (s *Service) Stats() ComprehensiveStats {
	return ComprehensiveStats{
		Concurrency:  s.controller.ComprehensiveStats(),
		Performance:  s.executor.Stats(),
		Quantization: s.quantizer.Stats(),
		MemoryTrend:  s.monitor.Trend(),
		GCEvents:     s.gc.Events(),
		GCOperations: s.gc.Operations(),
	}
}

// PerformanceStats returns the rolling parallel-execution metrics.
func (s *Service) PerformanceStats() PerformanceStats {
	return s.executor.Stats()
}

// Close drains the CPU worker pool and releases resources.
func (s *Service) Close() error {
	return s.executor.Close(s.config.CloseTimeout)
}
