package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ControllerConfig names the operations the controller governs and their
// per-operation parameters.
type ControllerConfig struct {
	Breakers map[string]BreakerConfig `yaml:"breakers"`
	Limiters map[string]LimiterConfig `yaml:"limiters"`
	Pools    map[string]PoolConfig    `yaml:"pools"`
}

// DefaultControllerConfig returns the standard operation set:
// "search" (breaker 5/60s, limiter 50 rps burst 100),
// "embedding" (breaker 3/30s, limiter 20 rps burst 40),
// pools "database" (20) and "api_calls" (10).
func DefaultControllerConfig() ControllerConfig {
	searchBreaker := DefaultBreakerConfig()

	embeddingBreaker := DefaultBreakerConfig()
	embeddingBreaker.FailureThreshold = 3
	embeddingBreaker.Timeout = 30 * time.Second

	searchLimiter := DefaultLimiterConfig()

	embeddingLimiter := DefaultLimiterConfig()
	embeddingLimiter.Rate = 20
	embeddingLimiter.Burst = 40

	return ControllerConfig{
		Breakers: map[string]BreakerConfig{
			"search":    searchBreaker,
			"embedding": embeddingBreaker,
		},
		Limiters: map[string]LimiterConfig{
			"search":    searchLimiter,
			"embedding": embeddingLimiter,
		},
		Pools: map[string]PoolConfig{
			"database":  {Capacity: 20},
			"api_calls": {Capacity: 10},
		},
	}
}

// Controller aggregates named circuit breakers, adaptive rate limiters, and
// resource pools, and tracks process-wide request metrics. It is built once
// by the composition root and shared by reference.
type Controller struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	limiters map[string]*AdaptiveRateLimiter
	pools    map[string]*ResourcePool

	metrics metricsState
}

// metricsState backs the ConcurrencyMetrics snapshot. Advisory only.
type metricsState struct {
	mu             sync.Mutex
	active         int64
	total          int64
	successful     int64
	failed         int64
	rateLimited    int64
	peakConcurrent int64
	avgLatency     time.Duration
	latencySamples int64
}

// ConcurrencyMetrics is a resettable snapshot of process-wide counters.
type ConcurrencyMetrics struct {
	ActiveRequests      int64         `json:"active_requests"`
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	RateLimitedRequests int64         `json:"rate_limited_requests"`
	PeakConcurrency     int64         `json:"peak_concurrency"`
	AvgLatency          time.Duration `json:"avg_latency"`
}

// NewController creates a controller with the operations named in config.
// Zero-valued config falls back to DefaultControllerConfig.
func NewController(config ControllerConfig) *Controller {
	if len(config.Breakers) == 0 && len(config.Limiters) == 0 && len(config.Pools) == 0 {
		config = DefaultControllerConfig()
	}

	c := &Controller{
		breakers: make(map[string]*CircuitBreaker),
		limiters: make(map[string]*AdaptiveRateLimiter),
		pools:    make(map[string]*ResourcePool),
	}
	for name, bc := range config.Breakers {
		c.breakers[name] = NewCircuitBreaker(name, bc)
	}
	for name, lc := range config.Limiters {
		c.limiters[name] = NewAdaptiveRateLimiter(name, lc)
	}
	for name, pc := range config.Pools {
		c.pools[name] = NewResourcePool(name, pc.Capacity)
	}
	return c
}

// Breaker returns the named breaker, lazily creating one with default
// parameters at first use. Breakers live for the process.
func (c *Controller) Breaker(name string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, DefaultBreakerConfig())
		c.breakers[name] = cb
	}
	return cb
}

// limiter returns the named limiter, or nil when the operation has none.
func (c *Controller) limiter(name string) *AdaptiveRateLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limiters[name]
}

// pool returns the named pool, or nil when the operation has none.
func (c *Controller) pool(name string) *ResourcePool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pools[name]
}

// ControlledExecution runs fn as an admission-controlled scoped region for
// the named operation:
//
//   - the active/total/peak counters are updated around fn;
//   - if the operation has a limiter and it is exhausted, fn is never
//     invoked and ErrRateLimited is returned;
//   - if the operation has a pool, a lease is held for the whole scope;
//   - success/failure counts and the moving-average latency are updated on
//     exit, and the active count is always decremented.
//
// Only admission signals (ErrRateLimited here, ErrCircuitOpen from
// ExecuteWithBreaker) are meant to cross this boundary; data-path failures
// are fn's own to absorb or return.
func (c *Controller) ControlledExecution(ctx context.Context, name string, fn func(context.Context) error) error {
	if lim := c.limiter(name); lim != nil && !lim.Acquire() {
		c.metrics.recordRateLimited()
		slog.Debug("request rejected by rate limiter", slog.String("operation", name))
		return fmt.Errorf("%w: %s", ErrRateLimited, name)
	}

	c.metrics.enter()
	start := time.Now()

	var lease *Lease
	if p := c.pool(name); p != nil {
		var err error
		lease, err = p.Acquire(ctx)
		if err != nil {
			c.metrics.exit(false, time.Since(start))
			return err
		}
	}

	err := fn(ctx)
	if lease != nil {
		lease.Release()
	}
	c.metrics.exit(err == nil, time.Since(start))
	return err
}

// ExecuteWithBreaker runs fn through the named breaker, creating a default
// breaker at first use.
func (c *Controller) ExecuteWithBreaker(name string, fn func() error) error {
	return c.Breaker(name).Execute(fn)
}

func (m *metricsState) enter() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active++
	m.total++
	if m.active > m.peakConcurrent {
		m.peakConcurrent = m.active
	}
}

func (m *metricsState) exit(success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
	if success {
		m.successful++
	} else {
		m.failed++
	}
	// Cumulative moving average keeps the snapshot cheap to read.
	m.latencySamples++
	m.avgLatency += (latency - m.avgLatency) / time.Duration(m.latencySamples)
}

func (m *metricsState) recordRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.rateLimited++
}

func (m *metricsState) snapshot() ConcurrencyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConcurrencyMetrics{
		ActiveRequests:      m.active,
		TotalRequests:       m.total,
		SuccessfulRequests:  m.successful,
		FailedRequests:      m.failed,
		RateLimitedRequests: m.rateLimited,
		PeakConcurrency:     m.peakConcurrent,
		AvgLatency:          m.avgLatency,
	}
}

func (m *metricsState) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = 0
	m.successful = 0
	m.failed = 0
	m.rateLimited = 0
	m.peakConcurrent = m.active
	m.avgLatency = 0
	m.latencySamples = 0
}

// Metrics returns the current process-wide counters.
func (c *Controller) Metrics() ConcurrencyMetrics {
	return c.metrics.snapshot()
}

// ResetMetrics clears the advisory counters. In-flight requests keep their
// active count.
func (c *Controller) ResetMetrics() {
	c.metrics.reset()
}

// Stats is the comprehensive view of the controller: process-wide metrics
// plus every breaker, limiter, and pool snapshot.
type Stats struct {
	Metrics  ConcurrencyMetrics         `json:"metrics"`
	Breakers map[string]BreakerSnapshot `json:"breakers"`
	Limiters map[string]LimiterSnapshot `json:"limiters"`
	Pools    map[string]PoolSnapshot    `json:"pools"`
}

// ComprehensiveStats returns the full controller state.
func (c *Controller) ComprehensiveStats() Stats {
	c.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(c.breakers))
	for n, b := range c.breakers {
		breakers[n] = b
	}
	limiters := make(map[string]*AdaptiveRateLimiter, len(c.limiters))
	for n, l := range c.limiters {
		limiters[n] = l
	}
	pools := make(map[string]*ResourcePool, len(c.pools))
	for n, p := range c.pools {
		pools[n] = p
	}
	c.mu.Unlock()

	stats := Stats{
		Metrics:  c.Metrics(),
		Breakers: make(map[string]BreakerSnapshot, len(breakers)),
		Limiters: make(map[string]LimiterSnapshot, len(limiters)),
		Pools:    make(map[string]PoolSnapshot, len(pools)),
	}
	for n, b := range breakers {
		stats.Breakers[n] = b.Snapshot()
	}
	for n, l := range limiters {
		stats.Limiters[n] = l.Snapshot()
	}
	for n, p := range pools {
		stats.Pools[n] = p.Snapshot()
	}
	return stats
}
