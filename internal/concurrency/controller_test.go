package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_DefaultOperations(t *testing.T) {
	c := NewController(ControllerConfig{})

	stats := c.ComprehensiveStats()

	assert.Contains(t, stats.Breakers, "search")
	assert.Contains(t, stats.Breakers, "embedding")
	assert.Contains(t, stats.Limiters, "search")
	assert.Contains(t, stats.Limiters, "embedding")
	assert.Equal(t, 20, stats.Pools["database"].Capacity)
	assert.Equal(t, 10, stats.Pools["api_calls"].Capacity)
}

func TestController_ControlledExecutionSuccess(t *testing.T) {
	c := NewController(ControllerConfig{})

	ran := false
	err := c.ControlledExecution(context.Background(), "search", func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(1), m.SuccessfulRequests)
	assert.Equal(t, int64(0), m.ActiveRequests)
	assert.Equal(t, int64(1), m.PeakConcurrency)
}

func TestController_ControlledExecutionFailure(t *testing.T) {
	c := NewController(ControllerConfig{})
	boom := errors.New("boom")

	err := c.ControlledExecution(context.Background(), "search", func(ctx context.Context) error {
		return boom
	})

	require.ErrorIs(t, err, boom)
	m := c.Metrics()
	assert.Equal(t, int64(1), m.FailedRequests)
	assert.Equal(t, int64(0), m.ActiveRequests)
}

func TestController_RejectsWhenRateLimited(t *testing.T) {
	c := NewController(ControllerConfig{
		Limiters: map[string]LimiterConfig{
			"search": {Rate: 0, Burst: 1},
		},
	})
	ctx := context.Background()

	require.NoError(t, c.ControlledExecution(ctx, "search", func(ctx context.Context) error { return nil }))

	ran := false
	err := c.ControlledExecution(ctx, "search", func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, ran, "rejected request must not enter the region")
	assert.Equal(t, int64(1), c.Metrics().RateLimitedRequests)
}

func TestController_AcquiresPoolForScope(t *testing.T) {
	c := NewController(ControllerConfig{
		Pools: map[string]PoolConfig{"database": {Capacity: 1}},
	})
	ctx := context.Background()

	inRegion := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.ControlledExecution(ctx, "database", func(ctx context.Context) error {
			close(inRegion)
			<-release
			return nil
		})
	}()
	<-inRegion

	assert.Equal(t, 1, c.ComprehensiveStats().Pools["database"].InUse)

	close(release)
	// The slot frees once the scope exits.
	assert.Eventually(t, func() bool {
		return c.ComprehensiveStats().Pools["database"].InUse == 0
	}, time.Second, 5*time.Millisecond)
}

func TestController_PeakConcurrency(t *testing.T) {
	c := NewController(ControllerConfig{
		Limiters: map[string]LimiterConfig{"search": {Rate: 1000, Burst: 1000}},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	gate := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.ControlledExecution(ctx, "search", func(ctx context.Context) error {
				<-gate
				return nil
			})
		}()
	}

	assert.Eventually(t, func() bool {
		return c.Metrics().ActiveRequests == 4
	}, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int64(4), c.Metrics().PeakConcurrency)
}

func TestController_LazyBreakerCreation(t *testing.T) {
	c := NewController(ControllerConfig{})

	err := c.ExecuteWithBreaker("reranker", func() error { return nil })
	require.NoError(t, err)

	stats := c.ComprehensiveStats()
	assert.Contains(t, stats.Breakers, "reranker")
	assert.Same(t, c.Breaker("reranker"), c.Breaker("reranker"))
}

func TestController_ResetMetrics(t *testing.T) {
	c := NewController(ControllerConfig{})
	_ = c.ControlledExecution(context.Background(), "search", func(ctx context.Context) error { return nil })

	c.ResetMetrics()

	m := c.Metrics()
	assert.Equal(t, int64(0), m.TotalRequests)
	assert.Equal(t, int64(0), m.SuccessfulRequests)
	assert.Equal(t, time.Duration(0), m.AvgLatency)
}
