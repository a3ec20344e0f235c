// Package store is the persistence layer: repository, file, symbol, and
// chunk metadata in SQLite, a lexical full-text index (SQLite FTS5 or
// bleve behind one interface), and an HNSW vector index.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/codescout/internal/chunk"
)

// DeletionMarker prefixes the docstring of tombstoned symbols so stale
// rows are recognizable until compaction removes them.
const DeletionMarker = "[deleted] "

// Repository is an indexed repository root.
type Repository struct {
	ID        string // digest of the canonical absolute root path
	RootPath  string
	CreatedAt time.Time
	IndexedAt time.Time
}

// FileRecord is one tracked file inside a repository.
type FileRecord struct {
	ID           string // stable across content changes and moves
	RepositoryID string
	Path         string // repository-relative, slash-separated
	ContentHash  string
	Fingerprint  string
	Language     string
	Size         int64
	LineCount    int
	LastSeenAt   time.Time
	Deleted      bool
}

// ShardRecord is the storage-shaped input for one file's index results.
type ShardRecord struct {
	File    FileRecord
	Symbols []*chunk.Symbol
	Chunks  []*chunk.Chunk
	Quality string
}

// ShardDiff reports how a shard swap changed the chunk set, so the caller
// can keep the lexical and vector indexes coherent.
type ShardDiff struct {
	AddedChunkIDs   []string
	RemovedChunkIDs []string
	KeptChunkIDs    []string
}

// SymbolLocation is a symbol-lookup result row. It crosses the protocol
// boundary, hence the wire tags.
type SymbolLocation struct {
	Name          string `json:"name"`
	QualifiedName string `json:"qualified_name"`
	Kind          string `json:"kind"`
	FilePath      string `json:"file_path"`
	Line          int    `json:"line"`
	Column        int    `json:"column"`
	Signature     string `json:"signature,omitempty"`
	SymbolHash    string `json:"symbol_hash"`
	DefinitionID  string `json:"definition_id"`
	Exact         bool   `json:"exact"`
}

// HydratedChunk is a chunk joined with its file identity.
type HydratedChunk struct {
	chunk.Chunk
	FileID   string
	FilePath string
}

// EmbeddingRecord is one stored vector.
type EmbeddingRecord struct {
	ChunkID        string
	FileID         string
	ModelName      string
	ModelDimension int
	Vector         []float32
}

// MoveRecord is one detected file move.
type MoveRecord struct {
	RepositoryID string
	OldPath      string
	NewPath      string
	ContentHash  string
	MovedAt      time.Time
	MoveType     string // rename | relocate | restructure
}

// Counts summarizes a repository's indexed state.
type Counts struct {
	Files   int
	Symbols int
	Chunks  int
}

// Document is one lexical-index entry.
type Document struct {
	ID      string // chunk ID
	Content string
}

// LexicalResult is a scored lexical hit.
type LexicalResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// LexicalIndex is the unified full-text index over chunk content. Two
// backends exist: SQLite FTS5 (default, concurrent) and bleve. BM25
// scoring either way.
type LexicalIndex interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() ([]string, error)
	Count() int
	Close() error
}

// VectorResult is a scored nearest-neighbour hit.
type VectorResult struct {
	ChunkID  string
	Distance float32
	Score    float32 // normalized similarity in [0,1]
}

// VectorIndex is the approximate-nearest-neighbour index.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch between the
// configured embedder and the stored index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex with the current embedder)", e.Expected, e.Got)
}
