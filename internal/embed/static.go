package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// StaticModelName identifies vectors produced by the static embedder.
// It shares nothing with any real model, so mixing backends surfaces as a
// model-name mismatch instead of silently comparable garbage.
const StaticModelName = "static-fnv-256"

// StaticDimensions is the static embedder's vector width.
const StaticDimensions = 256

// StaticEmbedder produces deterministic hash-based embeddings with no
// model, no network, and no downloads. Quality is far below a learned
// model, but identical text always embeds identically, which is exactly
// what tests and air-gapped hosts need.
type StaticEmbedder struct {
	dimensions int
}

var (
	_ Embedder   = (*StaticEmbedder)(nil)
	_ PairScorer = (*StaticEmbedder)(nil)
)

// NewStatic creates the static embedder.
func NewStatic() *StaticEmbedder {
	return &StaticEmbedder{dimensions: StaticDimensions}
}

// Embed hashes word fragments into dimension buckets and normalizes.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dimensions)
	for _, tok := range staticTokens(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		bucket := int(sum) % e.dimensions
		if bucket < 0 {
			bucket += e.dimensions
		}
		// Sign from a high bit decorrelates buckets.
		if sum&0x80000000 != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	return normalize(vec), nil
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ScorePairs scores candidates by embedding cosine. This is what lets the
// static backend satisfy the rerank capability in tests.
func (e *StaticEmbedder) ScorePairs(ctx context.Context, query string, candidates []string) ([]float64, error) {
	qv, err := e.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		cv, err := e.Embed(ctx, c)
		if err != nil {
			return nil, err
		}
		scores[i] = cosine(qv, cv)
	}
	return scores, nil
}

// Dimensions returns the vector width.
func (e *StaticEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the static model identifier.
func (e *StaticEmbedder) ModelName() string { return StaticModelName }

// Available always succeeds: there is nothing to be unavailable.
func (e *StaticEmbedder) Available(context.Context) bool { return true }

// Close is a no-op.
func (e *StaticEmbedder) Close() error { return nil }

// staticTokens lowercases and splits on non-alphanumerics.
func staticTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
