package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fathomsearch/fathom/internal/memopt"
	"github.com/fathomsearch/fathom/internal/telemetry"
)

// ExecutorConfig holds parallel execution parameters.
type ExecutorConfig struct {
	// MaxConcurrentSearches bounds concurrent parallel-search admissions.
	MaxConcurrentSearches int `yaml:"max_concurrent_searches"`

	// CPUWorkers sizes the worker pool for CPU-bound fusion/rerank work.
	CPUWorkers int `yaml:"cpu_workers"`
}

// DefaultExecutorConfig returns 10 concurrent searches and 4 CPU workers.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrentSearches: 10,
		CPUWorkers:            4,
	}
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	d := DefaultExecutorConfig()
	if c.MaxConcurrentSearches <= 0 {
		c.MaxConcurrentSearches = d.MaxConcurrentSearches
	}
	if c.CPUWorkers <= 0 {
		c.CPUWorkers = d.CPUWorkers
	}
	return c
}

// ParallelExecutor runs the lexical and vector branches concurrently under a
// bounded semaphore and offloads CPU-bound work onto a fixed worker pool so
// it never blocks I/O-bound searches.
type ParallelExecutor struct {
	lexical LexicalBackend
	vector  VectorBackend

	searchSem *semaphore.Weighted
	fusionSem *semaphore.Weighted
	cpuPool   *ants.Pool
	sampler   memopt.Sampler
	history   *telemetry.Ring[ExecutionMetrics]
	config    ExecutorConfig
}

// NewParallelExecutor creates an executor over the two branch backends.
func NewParallelExecutor(lexical LexicalBackend, vector VectorBackend, config ExecutorConfig) (*ParallelExecutor, error) {
	cfg := config.withDefaults()

	pool, err := ants.NewPool(cfg.CPUWorkers)
	if err != nil {
		return nil, fmt.Errorf("create cpu worker pool: %w", err)
	}

	fusionSlots := int64(cfg.MaxConcurrentSearches / 2)
	if fusionSlots < 1 {
		fusionSlots = 1
	}

	return &ParallelExecutor{
		lexical:   lexical,
		vector:    vector,
		searchSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentSearches)),
		fusionSem: semaphore.NewWeighted(fusionSlots),
		cpuPool:   pool,
		sampler:   memopt.RuntimeSampler{},
		history:   telemetry.NewRing[ExecutionMetrics](telemetry.DefaultHistoryCap),
		config:    cfg,
	}, nil
}

// Search launches both branches concurrently and joins them. A failed
// branch degrades to an empty list while the other branch's result still
// flows forward; no error is returned for a single-branch failure. The only
// error path is context cancellation. The returned metrics are not yet in
// the rolling history; callers complete them and call RecordExecution.
func (e *ParallelExecutor) Search(
	ctx context.Context,
	query string,
	embedding []float32,
	lexicalTopK, vectorTopK int,
	filters map[string]string,
) (lexical, vector []*Candidate, metrics ExecutionMetrics, err error) {
	start := time.Now()

	if err = e.searchSem.Acquire(ctx, 1); err != nil {
		return nil, nil, ExecutionMetrics{}, err
	}
	defer e.searchSem.Release(1)

	parallelStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		results, lexErr := e.lexical.Search(gctx, query, lexicalTopK, filters)
		if lexErr != nil {
			slog.Warn("lexical branch failed, degrading to empty result",
				slog.String("error", lexErr.Error()))
			return nil
		}
		lexical = results
		return nil
	})

	g.Go(func() error {
		if len(embedding) == 0 {
			// No query embedding available; the vector branch contributes
			// nothing rather than failing the call.
			return nil
		}
		results, vecErr := e.vector.Search(gctx, embedding, vectorTopK, filters)
		if vecErr != nil {
			slog.Warn("vector branch failed, degrading to empty result",
				slog.String("error", vecErr.Error()))
			return nil
		}
		vector = results
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, ExecutionMetrics{}, waitErr
	}

	if lexical == nil {
		lexical = []*Candidate{}
	}
	if vector == nil {
		vector = []*Candidate{}
	}

	metrics = ExecutionMetrics{
		TotalTime:        time.Since(start),
		ParallelTime:     time.Since(parallelStart),
		Memory:           e.sampler.Sample(),
		ConcurrencyLevel: e.config.MaxConcurrentSearches,
		TasksCompleted:   2,
	}

	return lexical, vector, metrics, nil
}

// RecordExecution appends a completed execution record to the rolling
// history. Callers record after the CPU-bound stages so CPUTime is filled
// in rather than zero.
func (e *ParallelExecutor) RecordExecution(metrics ExecutionMetrics) {
	e.history.Push(metrics)
}

// RunCPU dispatches fn onto the bounded CPU worker pool and awaits its
// completion. Panics inside fn surface as errors; fn's own error propagates
// unchanged.
func (e *ParallelExecutor) RunCPU(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	submitErr := e.cpuPool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("cpu task panicked: %v", r)
			}
		}()
		done <- fn()
	})
	if submitErr != nil {
		return fmt.Errorf("submit cpu task: %w", submitErr)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunFusion gates fusion dispatch behind the secondary semaphore (sized at
// half the search concurrency) before handing it to the CPU pool.
func (e *ParallelExecutor) RunFusion(ctx context.Context, fn func() error) error {
	if err := e.fusionSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.fusionSem.Release(1)
	return e.RunCPU(ctx, fn)
}

// PerformanceStats aggregates the rolling execution history.
type PerformanceStats struct {
	Executions      int           `json:"executions"`
	AvgTotalTime    time.Duration `json:"avg_total_time"`
	AvgParallelTime time.Duration `json:"avg_parallel_time"`
	AvgCPUTime      time.Duration `json:"avg_cpu_time"`
	TasksCompleted  int           `json:"tasks_completed"`
	CPUWorkers      int           `json:"cpu_workers"`
	CPUWorkersBusy  int           `json:"cpu_workers_busy"`
}

// Stats summarizes recent executions and current worker pool load.
func (e *ParallelExecutor) Stats() PerformanceStats {
	hist := e.history.Snapshot()
	stats := PerformanceStats{
		Executions:     len(hist),
		CPUWorkers:     e.cpuPool.Cap(),
		CPUWorkersBusy: e.cpuPool.Running(),
	}
	if len(hist) == 0 {
		return stats
	}
	var total, parallel, cpu time.Duration
	for _, m := range hist {
		total += m.TotalTime
		parallel += m.ParallelTime
		cpu += m.CPUTime
		stats.TasksCompleted += m.TasksCompleted
	}
	stats.AvgTotalTime = total / time.Duration(len(hist))
	stats.AvgParallelTime = parallel / time.Duration(len(hist))
	stats.AvgCPUTime = cpu / time.Duration(len(hist))
	return stats
}

// Close drains the CPU worker pool, waiting up to the given timeout for
// in-flight tasks, and clears the execution history.
func (e *ParallelExecutor) Close(timeout time.Duration) error {
	e.history.Clear()
	if err := e.cpuPool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("drain cpu worker pool: %w", err)
	}
	return nil
}
