package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/Aman-CERP/codescout/internal/errors"
)

// hydrateCacheSize bounds the chunk hydration cache.
const hydrateCacheSize = 4096

// DB is the metadata store: repositories, files, symbols, chunks,
// embeddings, and move records in one SQLite database.
//
// Writes serialize through SQLite's single-writer model; reads run
// concurrently under WAL. Every write that changes visible state bumps the
// repository snapshot id, which is what paginating clients use to detect
// index drift.
type DB struct {
	db      *sql.DB
	path    string
	hydrate *lru.Cache[string, *HydratedChunk]
}

// Open opens (or creates) the database at path and runs migrations.
// An empty path opens an in-memory database for tests.
func Open(path string) (*DB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.StorageError("failed to create index directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StorageError("failed to open database", err)
	}

	// Single writer prevents lock contention; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.StorageError("failed to set pragma", err)
		}
	}

	cache, _ := lru.New[string, *HydratedChunk](hydrateCacheSize)
	d := &DB{db: db, path: path, hydrate: cache}

	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Close checkpoints and closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := d.db.Close()
	d.db = nil
	return err
}

// UpsertRepository registers or refreshes a repository row.
func (d *DB) UpsertRepository(ctx context.Context, repo *Repository) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO repositories (id, root_path, created_at, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET root_path = excluded.root_path, indexed_at = excluded.indexed_at`,
		repo.ID, repo.RootPath, repo.CreatedAt.UTC(), repo.IndexedAt.UTC())
	if err != nil {
		return errors.StorageError("failed to upsert repository", err)
	}
	return nil
}

// GetRepository loads a repository row.
func (d *DB) GetRepository(ctx context.Context, id string) (*Repository, error) {
	var r Repository
	var indexedAt sql.NullTime
	err := d.db.QueryRowContext(ctx,
		`SELECT id, root_path, created_at, indexed_at FROM repositories WHERE id = ?`, id).
		Scan(&r.ID, &r.RootPath, &r.CreatedAt, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("repository", id)
	}
	if err != nil {
		return nil, errors.StorageError("failed to load repository", err)
	}
	if indexedAt.Valid {
		r.IndexedAt = indexedAt.Time
	}
	return &r, nil
}

// SnapshotID returns the monotonic version of the indexed state.
func (d *DB) SnapshotID(ctx context.Context) (int64, error) {
	var v int64
	err := d.db.QueryRowContext(ctx, `SELECT CAST(value AS INTEGER) FROM state WHERE key = 'snapshot_id'`).Scan(&v)
	if err != nil {
		return 0, errors.StorageError("failed to read snapshot id", err)
	}
	return v, nil
}

// bumpSnapshot increments the snapshot id inside the caller's transaction.
func bumpSnapshot(tx *sql.Tx) error {
	_, err := tx.Exec(`UPDATE state SET value = CAST(value AS INTEGER) + 1 WHERE key = 'snapshot_id'`)
	return err
}

// ApplyShard swaps a file's indexed records in one transaction: readers
// see the complete old state or the complete new state, never a mix.
// The returned diff drives lexical and vector index maintenance.
func (d *DB) ApplyShard(ctx context.Context, rec *ShardRecord) (*ShardDiff, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.StorageError("failed to begin shard transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	f := rec.File

	// A rename rewrites relative_path but keeps the row's id, so the id
	// the caller derived from the path may be stale. The row at this path
	// owns the identity; the derived id only seeds brand-new files.
	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM files WHERE repository_id = ? AND relative_path = ?`,
		f.RepositoryID, f.Path).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.StorageError("failed to resolve file identity", err)
	}
	if existingID != "" {
		f.ID = existingID
	}

	oldIDs, err := chunkIDsForFile(tx, f.ID)
	if err != nil {
		return nil, errors.StorageError("failed to read old chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (id, repository_id, relative_path, content_hash, fingerprint, language, size, line_count, last_seen_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			relative_path = excluded.relative_path,
			content_hash  = excluded.content_hash,
			fingerprint   = excluded.fingerprint,
			language      = excluded.language,
			size          = excluded.size,
			line_count    = excluded.line_count,
			last_seen_at  = excluded.last_seen_at,
			is_deleted    = 0`,
		f.ID, f.RepositoryID, f.Path, f.ContentHash, f.Fingerprint, f.Language,
		f.Size, f.LineCount, f.LastSeenAt.UTC()); err != nil {
		return nil, errors.StorageError("failed to upsert file", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_id = ?`, f.ID); err != nil {
		return nil, errors.StorageError("failed to clear symbols", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, f.ID); err != nil {
		return nil, errors.StorageError("failed to clear chunks", err)
	}

	symStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (file_id, name, qualified_name, kind, line_start, line_end, column_start,
			signature, parent_symbol, visibility, modifiers, docstring, token_count, symbol_hash, definition_id, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`)
	if err != nil {
		return nil, errors.StorageError("failed to prepare symbol insert", err)
	}
	defer symStmt.Close()

	for _, s := range rec.Symbols {
		if _, err := symStmt.ExecContext(ctx,
			f.ID, s.Name, s.QualifiedName, s.Kind, s.StartLine, s.EndLine, s.StartColumn,
			s.Signature, s.Parent, s.Visibility, strings.Join(s.Modifiers, ","), s.Docstring,
			s.TokenCount, s.SymbolHash, s.DefinitionID); err != nil {
			return nil, errors.StorageError(fmt.Sprintf("failed to insert symbol %s", s.QualifiedName), err)
		}
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (file_id, chunk_id, node_id, file_fingerprint_id, symbol_hash, definition_id,
			content, line_start, line_end, byte_start, byte_end, chunk_type, language, node_type,
			parent_chunk_id, depth, chunk_index, token_count, tokenizer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, chunk_id) DO NOTHING`)
	if err != nil {
		return nil, errors.StorageError("failed to prepare chunk insert", err)
	}
	defer chunkStmt.Close()

	newIDs := make(map[string]bool, len(rec.Chunks))
	for _, ch := range rec.Chunks {
		newIDs[ch.ChunkID] = true
		if _, err := chunkStmt.ExecContext(ctx,
			f.ID, ch.ChunkID, ch.NodeID, ch.FileFingerprintID, ch.SymbolHash, ch.DefinitionID,
			ch.Content, ch.StartLine, ch.EndLine, ch.StartByte, ch.EndByte, string(ch.Type),
			ch.Language, ch.NodeType, ch.ParentChunkID, ch.Depth, ch.Index, ch.TokenCount,
			ch.Tokenizer); err != nil {
			return nil, errors.StorageError(fmt.Sprintf("failed to insert chunk %s", ch.ChunkID), err)
		}
	}

	diff := diffChunkIDs(oldIDs, newIDs)

	// Chunk ids are content-addressed, so another live file may carry the
	// same id. Only ids with no remaining live reference count as removed;
	// for those, replacing content drops the embedding (same chunk_id
	// would have kept it).
	diff.RemovedChunkIDs, err = filterLiveChunkIDs(ctx, tx, diff.RemovedChunkIDs)
	if err != nil {
		return nil, errors.StorageError("failed to check chunk liveness", err)
	}
	if len(diff.RemovedChunkIDs) > 0 {
		if err := deleteEmbeddings(ctx, tx, diff.RemovedChunkIDs); err != nil {
			return nil, errors.StorageError("failed to drop stale embeddings", err)
		}
	}

	if err := bumpSnapshot(tx); err != nil {
		return nil, errors.StorageError("failed to bump snapshot", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.StorageError("failed to commit shard", err)
	}

	d.invalidateHydrated(diff.RemovedChunkIDs)
	return diff, nil
}

// chunkIDsForFile returns the chunk ids currently stored for a file.
func chunkIDsForFile(tx *sql.Tx, fileID string) (map[string]bool, error) {
	rows, err := tx.Query(`SELECT chunk_id FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// filterLiveChunkIDs drops candidates that a live file still references.
// Must run after the shard's own rows are rewritten so the check sees the
// post-swap state.
func filterLiveChunkIDs(ctx context.Context, tx *sql.Tx, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(candidates)), ",")
	args := make([]any, len(candidates))
	for i, id := range candidates {
		args[i] = id
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT c.chunk_id
		FROM chunks c JOIN files f ON c.file_id = f.id
		WHERE f.is_deleted = 0 AND c.chunk_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	live := make(map[string]bool, len(candidates))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		live[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var dead []string
	for _, id := range candidates {
		if !live[id] {
			dead = append(dead, id)
		}
	}
	return dead, nil
}

func diffChunkIDs(old, new map[string]bool) *ShardDiff {
	diff := &ShardDiff{}
	for id := range new {
		if old[id] {
			diff.KeptChunkIDs = append(diff.KeptChunkIDs, id)
		} else {
			diff.AddedChunkIDs = append(diff.AddedChunkIDs, id)
		}
	}
	for id := range old {
		if !new[id] {
			diff.RemovedChunkIDs = append(diff.RemovedChunkIDs, id)
		}
	}
	return diff
}

// GetFileByPath loads a live (non-deleted) file row by repository path.
func (d *DB) GetFileByPath(ctx context.Context, repoID, relPath string) (*FileRecord, error) {
	return d.getFile(ctx, `repository_id = ? AND relative_path = ? AND is_deleted = 0`, repoID, relPath)
}

// GetFileByPathAny loads a file row regardless of deletion state.
func (d *DB) GetFileByPathAny(ctx context.Context, repoID, relPath string) (*FileRecord, error) {
	return d.getFile(ctx, `repository_id = ? AND relative_path = ?`, repoID, relPath)
}

func (d *DB) getFile(ctx context.Context, where string, args ...any) (*FileRecord, error) {
	var f FileRecord
	var deleted int
	err := d.db.QueryRowContext(ctx, `
		SELECT id, repository_id, relative_path, content_hash, fingerprint, language, size, line_count, last_seen_at, is_deleted
		FROM files WHERE `+where, args...).
		Scan(&f.ID, &f.RepositoryID, &f.Path, &f.ContentHash, &f.Fingerprint, &f.Language,
			&f.Size, &f.LineCount, &f.LastSeenAt, &deleted)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("file", fmt.Sprint(args[len(args)-1]))
	}
	if err != nil {
		return nil, errors.StorageError("failed to load file", err)
	}
	f.Deleted = deleted != 0
	return &f, nil
}

// ListFiles returns all live files of a repository.
func (d *DB) ListFiles(ctx context.Context, repoID string) ([]*FileRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, repository_id, relative_path, content_hash, fingerprint, language, size, line_count, last_seen_at, is_deleted
		FROM files WHERE repository_id = ? AND is_deleted = 0 ORDER BY relative_path`, repoID)
	if err != nil {
		return nil, errors.StorageError("failed to list files", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		var f FileRecord
		var deleted int
		if err := rows.Scan(&f.ID, &f.RepositoryID, &f.Path, &f.ContentHash, &f.Fingerprint,
			&f.Language, &f.Size, &f.LineCount, &f.LastSeenAt, &deleted); err != nil {
			return nil, errors.StorageError("failed to scan file", err)
		}
		f.Deleted = deleted != 0
		out = append(out, &f)
	}
	return out, rows.Err()
}

// SoftDeleteFile tombstones a file: the row and its symbols and chunks
// stay until compaction, but drop out of every query. Symbol docstrings
// get the deletion marker. Returns the chunk ids to purge from the
// lexical and vector indexes.
func (d *DB) SoftDeleteFile(ctx context.Context, repoID, relPath string) ([]string, error) {
	f, err := d.GetFileByPath(ctx, repoID, relPath)
	if err != nil {
		return nil, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.StorageError("failed to begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := chunkIDsForFile(tx, f.ID)
	if err != nil {
		return nil, errors.StorageError("failed to read chunks for delete", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE files SET is_deleted = 1 WHERE id = ?`, f.ID); err != nil {
		return nil, errors.StorageError("failed to tombstone file", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE symbols SET is_deleted = 1, docstring = ? || COALESCE(docstring, '')
		WHERE file_id = ? AND is_deleted = 0`, DeletionMarker, f.ID); err != nil {
		return nil, errors.StorageError("failed to tombstone symbols", err)
	}

	// Content-addressed ids can be shared: purge only ids no live file
	// still references, now that this file is tombstoned.
	candidates := make([]string, 0, len(ids))
	for id := range ids {
		candidates = append(candidates, id)
	}
	dead, err := filterLiveChunkIDs(ctx, tx, candidates)
	if err != nil {
		return nil, errors.StorageError("failed to check chunk liveness", err)
	}

	if err := bumpSnapshot(tx); err != nil {
		return nil, errors.StorageError("failed to bump snapshot", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.StorageError("failed to commit delete", err)
	}

	d.invalidateHydrated(candidates)
	return dead, nil
}

// RenameFile rewrites a file's relative path preserving its identity, and
// appends a move record. Chunks are untouched; symbols of a tombstoned file
// are revived and lose the deletion marker.
func (d *DB) RenameFile(ctx context.Context, repoID, oldPath, newPath, moveType string) error {
	f, err := d.GetFileByPathAny(ctx, repoID, oldPath)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("failed to begin rename transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE files SET relative_path = ?, is_deleted = 0, last_seen_at = ? WHERE id = ?`,
		newPath, time.Now().UTC(), f.ID); err != nil {
		return errors.StorageError("failed to rewrite path", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE symbols SET is_deleted = 0,
			docstring = CASE WHEN docstring LIKE ? THEN SUBSTR(docstring, ?) ELSE docstring END
		WHERE file_id = ?`,
		DeletionMarker+"%", len(DeletionMarker)+1, f.ID); err != nil {
		return errors.StorageError("failed to revive symbols", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_moves (repository_id, old_relative_path, new_relative_path, content_hash, moved_at, move_type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		repoID, oldPath, newPath, f.ContentHash, time.Now().UTC(), moveType); err != nil {
		return errors.StorageError("failed to record move", err)
	}
	if err := bumpSnapshot(tx); err != nil {
		return errors.StorageError("failed to bump snapshot", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError("failed to commit rename", err)
	}

	// Hydrated chunks carry the file path; drop any cached rows for it.
	d.hydrate.Purge()
	return nil
}

// ListMoves returns a repository's move records, oldest first.
func (d *DB) ListMoves(ctx context.Context, repoID string) ([]*MoveRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT repository_id, old_relative_path, new_relative_path, content_hash, moved_at, move_type
		FROM file_moves WHERE repository_id = ? ORDER BY id`, repoID)
	if err != nil {
		return nil, errors.StorageError("failed to list moves", err)
	}
	defer rows.Close()

	var out []*MoveRecord
	for rows.Next() {
		var m MoveRecord
		if err := rows.Scan(&m.RepositoryID, &m.OldPath, &m.NewPath, &m.ContentHash, &m.MovedAt, &m.MoveType); err != nil {
			return nil, errors.StorageError("failed to scan move", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Counts returns live row counts for a repository.
func (d *DB) Counts(ctx context.Context, repoID string) (Counts, error) {
	var c Counts
	err := d.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files WHERE repository_id = ? AND is_deleted = 0),
			(SELECT COUNT(*) FROM symbols s JOIN files f ON s.file_id = f.id
				WHERE f.repository_id = ? AND f.is_deleted = 0 AND s.is_deleted = 0),
			(SELECT COUNT(*) FROM chunks c JOIN files f ON c.file_id = f.id
				WHERE f.repository_id = ? AND f.is_deleted = 0)`,
		repoID, repoID, repoID).Scan(&c.Files, &c.Symbols, &c.Chunks)
	if err != nil {
		return Counts{}, errors.StorageError("failed to count rows", err)
	}
	return c, nil
}

// Compact purges tombstoned rows.
func (d *DB) Compact(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("failed to begin compaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE is_deleted = 1`); err != nil {
		return errors.StorageError("failed to purge symbols", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks WHERE file_id IN (SELECT id FROM files WHERE is_deleted = 1)`); err != nil {
		return errors.StorageError("failed to purge chunks", err)
	}
	// Embeddings go by chunk liveness, not file ownership: a shared
	// content-addressed chunk keeps its vector while any live file
	// references it.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embeddings WHERE chunk_id NOT IN (
			SELECT c.chunk_id FROM chunks c JOIN files f ON c.file_id = f.id
			WHERE f.is_deleted = 0
		)`); err != nil {
		return errors.StorageError("failed to purge embeddings", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE is_deleted = 1`); err != nil {
		return errors.StorageError("failed to purge files", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError("failed to commit compaction", err)
	}
	return nil
}

// invalidateHydrated drops cache entries for the given chunk ids.
func (d *DB) invalidateHydrated(ids []string) {
	for _, id := range ids {
		d.hydrate.Remove(id)
	}
}

// encodeVector serializes a float32 vector little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 vector.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
