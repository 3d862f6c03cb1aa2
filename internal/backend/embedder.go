package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fathomsearch/fathom/internal/errors"
	"github.com/fathomsearch/fathom/internal/search"
)

// DefaultDimensions is the embedding width of the hash embedder.
const DefaultDimensions = 1536

// Feature weights for hash embedding generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// DefaultEmbeddingCacheSize is the default number of cached query
// embeddings.
const DefaultEmbeddingCacheSize = 1000

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// HashEmbedder generates deterministic embeddings by hashing tokens and
// character n-grams into a fixed-width vector. It needs no model, no
// network, and no download, at the cost of semantic quality.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder. Non-positive dims fall back to
// DefaultDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Embed generates the embedding for one text. Empty or whitespace-only
// text yields a nil embedding, signalling that the vector branch has
// nothing to search with.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	vector := make([]float32, e.dims)

	for _, token := range tokenRegex.FindAllString(strings.ToLower(trimmed), -1) {
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}

	compact := strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
	for i := 0; i+ngramSize <= len(compact); i++ {
		vector[hashToIndex(compact[i:i+ngramSize], e.dims)] += ngramWeight
	}

	normalizeInPlace(vector)
	return vector, nil
}

// Dimensions returns the embedding width.
func (e *HashEmbedder) Dimensions() int {
	return e.dims
}

// hashToIndex maps a feature string onto a vector index.
func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

// CachedEmbedder wraps an embedder with LRU caching so repeated queries
// skip recomputation.
type CachedEmbedder struct {
	inner search.Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder creates a cached embedder. Non-positive sizes fall
// back to DefaultEmbeddingCacheSize.
func NewCachedEmbedder(inner search.Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// cacheKey hashes the text so keys have a fixed length regardless of query
// size.
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached embedding if available, otherwise computes and
// caches it. Errors are never cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// Dimensions returns the inner embedder's width.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// CacheLen returns the number of cached embeddings.
func (c *CachedEmbedder) CacheLen() int {
	return c.cache.Len()
}

// RetryEmbedder wraps an embedder with exponential-backoff retries for
// transient failures.
type RetryEmbedder struct {
	inner search.Embedder
	cfg   errors.RetryConfig
}

// NewRetryEmbedder creates a retrying embedder.
func NewRetryEmbedder(inner search.Embedder, cfg errors.RetryConfig) *RetryEmbedder {
	return &RetryEmbedder{inner: inner, cfg: cfg}
}

// Embed retries the inner embedder on failure.
func (r *RetryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := errors.Retry(ctx, r.cfg, func() error {
		var embErr error
		vec, embErr = r.inner.Embed(ctx, text)
		return embErr
	})
	if err != nil {
		return nil, errors.EmbeddingError("embedding failed after retries", err)
	}
	return vec, nil
}

// Dimensions returns the inner embedder's width.
func (r *RetryEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}
