// Package embed defines the Embedder capability and its default
// implementations: an Ollama HTTP client for real semantic search and a
// deterministic static embedder for air-gapped operation and tests.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize bounds one request to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout is the per-request embedding timeout.
	DefaultTimeout = 60 * time.Second
)

// Embedder generates vector embeddings for text. Implementations must be
// safe for concurrent use.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier persisted with embeddings.
	ModelName() string

	// Available reports whether the backend is ready to serve.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// PairScorer is an optional capability: backends that can score
// query/candidate pairs directly enable the hybrid rerank pass.
type PairScorer interface {
	// ScorePairs returns one relevance score per candidate, higher better.
	ScorePairs(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// normalize scales a vector to unit length.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	if mag == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// cosine computes similarity of two same-length vectors.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
