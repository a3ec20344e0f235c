// Package indexdir owns the on-disk layout of one repository index:
//
//	<dir>/current.db     storage database
//	<dir>/lexical.db     FTS5 lexical index (or lexical.bleve/)
//	<dir>/embeddings/    vector index files
//	<dir>/metadata.json  identity, versions, counts, timestamps
//	<dir>/.moves.log     append-only move audit log
//	<dir>/.lock          cross-process writer lock
//
// Discovery order when asked to operate on a repository: the repo's own
// ./.mcp-index/ directory, the per-user cache keyed by the repo path
// hash, then an explicit INDEX_PATH. First hit with a readable
// metadata.json wins; with no hit, the first candidate is created.
package indexdir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/codescout/internal/errors"
	"github.com/Aman-CERP/codescout/internal/ids"
)

// LocalDirName is the in-repo index directory.
const LocalDirName = ".mcp-index"

// MetadataFile is the index identity file.
const MetadataFile = "metadata.json"

// Metadata records the index identity and summary statistics.
type Metadata struct {
	RepositoryID  string    `json:"repository_id"`
	RootPath      string    `json:"root_path"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
	FileCount     int       `json:"file_count"`
	SymbolCount   int       `json:"symbol_count"`
	ChunkCount    int       `json:"chunk_count"`
	TokenizerName string    `json:"tokenizer_name,omitempty"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
}

// Layout is one repository's resolved index directory.
type Layout struct {
	Dir  string
	lock *flock.Flock
}

// Discover resolves the index directory for a repository root.
// explicitPath comes from INDEX_PATH configuration and ranks last.
func Discover(repoRoot, explicitPath string) (*Layout, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidPath, "cannot resolve repository root", err)
	}

	candidates := []string{
		filepath.Join(abs, LocalDirName),
		userCacheDir(abs),
	}
	if explicitPath != "" {
		candidates = append(candidates, explicitPath)
	}

	for _, dir := range candidates {
		if hasMetadata(dir) {
			return &Layout{Dir: dir}, nil
		}
	}

	// No existing index: create under the first candidate.
	dir := candidates[0]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.StorageError("cannot create index directory", err)
	}
	return &Layout{Dir: dir}, nil
}

// userCacheDir is the per-user index location keyed by repo path hash.
func userCacheDir(absRoot string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "codescout", ids.RepositoryID(absRoot))
}

func hasMetadata(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return false
	}
	var m Metadata
	return json.Unmarshal(data, &m) == nil && m.RepositoryID != ""
}

// DatabasePath returns the storage database path.
func (l *Layout) DatabasePath() string { return filepath.Join(l.Dir, "current.db") }

// EmbeddingsDir returns the vector index directory.
func (l *Layout) EmbeddingsDir() string { return filepath.Join(l.Dir, "embeddings") }

// VectorIndexPath returns the HNSW graph file path.
func (l *Layout) VectorIndexPath() string { return filepath.Join(l.EmbeddingsDir(), "vectors.hnsw") }

// MovesLogPath returns the append-only moves log path.
func (l *Layout) MovesLogPath() string { return filepath.Join(l.Dir, ".moves.log") }

// ReadMetadata loads metadata.json, or NotFound.
func (l *Layout) ReadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(l.Dir, MetadataFile))
	if os.IsNotExist(err) {
		return nil, errors.NotFound("file", MetadataFile)
	}
	if err != nil {
		return nil, errors.StorageError("cannot read metadata", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.CodeCorruptIndex, "metadata.json is corrupt", err)
	}
	return &m, nil
}

// WriteMetadata atomically replaces metadata.json.
func (l *Layout) WriteMetadata(m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.StorageError("cannot encode metadata", err)
	}
	tmp := filepath.Join(l.Dir, MetadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.StorageError("cannot write metadata", err)
	}
	if err := os.Rename(tmp, filepath.Join(l.Dir, MetadataFile)); err != nil {
		_ = os.Remove(tmp)
		return errors.StorageError("cannot replace metadata", err)
	}
	return nil
}

// AppendMove appends one line to the audit log. Failures log-and-continue
// at the caller: the authoritative record is the file_moves table.
func (l *Layout) AppendMove(oldPath, newPath, contentHash, moveType string, at time.Time) error {
	f, err := os.OpenFile(l.MovesLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.StorageError("cannot open moves log", err)
	}
	defer func() { _ = f.Close() }()

	line := struct {
		At          time.Time `json:"at"`
		OldPath     string    `json:"old_path"`
		NewPath     string    `json:"new_path"`
		ContentHash string    `json:"content_hash"`
		MoveType    string    `json:"move_type"`
	}{at.UTC(), oldPath, newPath, contentHash, moveType}

	data, err := json.Marshal(line)
	if err != nil {
		return errors.StorageError("cannot encode move record", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errors.StorageError("cannot append move record", err)
	}
	return nil
}

// Acquire takes the cross-process writer lock. A second writer on the
// same index fails fast instead of corrupting WAL state.
func (l *Layout) Acquire() error {
	l.lock = flock.New(filepath.Join(l.Dir, ".lock"))
	locked, err := l.lock.TryLock()
	if err != nil {
		return errors.StorageError("cannot acquire index lock", err)
	}
	if !locked {
		return errors.New(errors.CodeStorageFailed,
			fmt.Sprintf("index at %s is locked by another process", l.Dir), nil)
	}
	return nil
}

// Release drops the writer lock.
func (l *Layout) Release() error {
	if l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
