package backend

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fathomerrors "github.com/fathomsearch/fathom/internal/errors"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(256)

	first, err := e.Embed(context.Background(), "concurrent retrieval systems")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "concurrent retrieval systems")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 256)
}

func TestHashEmbedder_UnitLength(t *testing.T) {
	e := NewHashEmbedder(DefaultDimensions)

	vec, err := e.Embed(context.Background(), "normalize me please")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-5)
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	e := NewHashEmbedder(256)

	vec, err := e.Embed(context.Background(), "   ")

	require.NoError(t, err)
	assert.Nil(t, vec)
}

func TestHashEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewHashEmbedder(256)

	a, err := e.Embed(context.Background(), "goroutine scheduling")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "http request routing")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

// countingEmbedder tracks how often the inner embedder runs and fails the
// first failUntil calls.
type countingEmbedder struct {
	inner     *HashEmbedder
	calls     atomic.Int64
	failUntil int64
	err       error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := c.calls.Add(1)
	if c.err != nil && n <= c.failUntil {
		return nil, c.err
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestCachedEmbedder_HitsSkipInner(t *testing.T) {
	counting := &countingEmbedder{inner: NewHashEmbedder(128)}
	cached := NewCachedEmbedder(counting, 10)

	first, err := cached.Embed(context.Background(), "repeated query")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), counting.calls.Load())
	assert.Equal(t, 1, cached.CacheLen())
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	counting := &countingEmbedder{inner: NewHashEmbedder(128), err: errors.New("down"), failUntil: 1}
	cached := NewCachedEmbedder(counting, 10)

	_, err := cached.Embed(context.Background(), "query")
	require.Error(t, err)
	assert.Equal(t, 0, cached.CacheLen())

	// Recovered embedder is consulted again.
	_, err = cached.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counting.calls.Load())
}

func TestRetryEmbedder_RecoversFromTransientFailure(t *testing.T) {
	counting := &countingEmbedder{inner: NewHashEmbedder(128), err: errors.New("transient"), failUntil: 1}
	retry := NewRetryEmbedder(counting, fathomerrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	})

	vec, err := retry.Embed(context.Background(), "eventually works")

	require.NoError(t, err)
	assert.NotNil(t, vec)
	assert.Equal(t, int64(2), counting.calls.Load())
}

func TestRetryEmbedder_ExhaustedRetries(t *testing.T) {
	counting := &countingEmbedder{inner: NewHashEmbedder(128), err: errors.New("persistent"), failUntil: 1 << 30}
	retry := NewRetryEmbedder(counting, fathomerrors.RetryConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2,
	})

	_, err := retry.Embed(context.Background(), "never works")

	require.Error(t, err)
	assert.True(t, fathomerrors.IsRetryable(err))
	assert.Equal(t, int64(2), counting.calls.Load())
}
