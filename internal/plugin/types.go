// Package plugin routes files to language-aware extractors and defines the
// shard shape every extractor produces.
//
// Plugins are polymorphic over parser backends: tree-sitter driven for
// grammar languages, regex driven for grammarless ones, document structural
// for markdown and plaintext, and a raw fallback that guarantees every file
// stays lexically searchable. All plugin metadata is declared in a static
// registry table; there is no reflection and no dynamic loading.
package plugin

import (
	"context"

	"github.com/Aman-CERP/codescout/internal/chunk"
)

// Quality annotates how much structure a shard recovered.
type Quality string

const (
	// QualityFull means the file parsed cleanly.
	QualityFull Quality = "full"
	// QualityPartial means the parser recovered from syntax errors.
	QualityPartial Quality = "partial"
	// QualityFallback means structure extraction failed and the shard
	// degraded to raw or line-based chunks.
	QualityFallback Quality = "fallback"
)

// rank orders qualities for shard merging.
func (q Quality) rank() int {
	switch q {
	case QualityFull:
		return 2
	case QualityPartial:
		return 1
	default:
		return 0
	}
}

// Better reports whether q outranks other.
func (q Quality) Better(other Quality) bool {
	return q.rank() > other.rank()
}

// FileMeta describes the file version a shard was built from.
type FileMeta struct {
	Path        string // repository-relative, slash-separated
	Language    string
	Size        int64
	LineCount   int
	ContentHash string // digest of raw bytes, for move detection
	Fingerprint string // digest of canonicalized bytes
}

// Shard is the batch of records produced by one plugin invocation on one
// file.
type Shard struct {
	PluginID string
	File     FileMeta
	Symbols  []*chunk.Symbol
	Chunks   []*chunk.Chunk
	Imports  []string
	Quality  Quality
}

// Plugin is a language-aware extractor. Index must be total: any bytes in,
// a shard out. Parse failures degrade the shard's quality, they do not
// surface as errors; the only error Index may return is context
// cancellation.
type Plugin interface {
	// ID returns the stable plugin identifier.
	ID() string

	// Supports reports whether the plugin claims the path.
	Supports(path string) bool

	// Index produces a shard for the file.
	Index(ctx context.Context, path string, data []byte) (*Shard, error)
}
