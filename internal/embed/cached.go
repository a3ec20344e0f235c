package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize bounds the embedding cache. Vectors are a few KB each,
// so 8k entries stay well under typical memory budgets.
const defaultCacheSize = 8192

// CachedEmbedder wraps another embedder with a content-keyed LRU cache.
// Watch-triggered re-indexing embeds mostly unchanged chunks; the cache
// turns those into lookups.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCached wraps inner with a cache of the given size (0 = default).
func NewCached(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// cacheKey hashes the text with the model name so switching models never
// serves stale vectors.
func (e *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(e.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:16])
}

// Embed serves from cache when possible.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}
	v, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, v)
	return v, nil
}

// EmbedBatch embeds only the cache misses, preserving order.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if v, ok := e.cache.Get(e.cacheKey(t)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) > 0 {
		vecs, err := e.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			i := missIdx[j]
			out[i] = v
			e.cache.Add(e.cacheKey(texts[i]), v)
		}
	}

	return out, nil
}

// ScorePairs passes through when the inner embedder supports it.
func (e *CachedEmbedder) ScorePairs(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if ps, ok := e.inner.(PairScorer); ok {
		return ps.ScorePairs(ctx, query, candidates)
	}
	return nil, nil
}

// Dimensions returns the inner embedder's dimension.
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// ModelName returns the inner embedder's model name.
func (e *CachedEmbedder) ModelName() string { return e.inner.ModelName() }

// Available reports the inner embedder's availability.
func (e *CachedEmbedder) Available(ctx context.Context) bool { return e.inner.Available(ctx) }

// Close closes the inner embedder.
func (e *CachedEmbedder) Close() error { return e.inner.Close() }

// Len reports cached entries, for tests and status reporting.
func (e *CachedEmbedder) Len() int { return e.cache.Len() }
