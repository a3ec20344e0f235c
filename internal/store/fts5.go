package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/codescout/internal/errors"
)

// FTS5Index implements LexicalIndex on SQLite FTS5. It is the default
// backend: WAL mode gives concurrent multi-process access, and FTS5's
// built-in bm25() does the scoring. Content is pre-tokenized with the
// code-aware tokenizer so camelCase and snake_case identifiers match
// their fragments.
type FTS5Index struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ LexicalIndex = (*FTS5Index)(nil)

// NewFTS5Index opens an FTS5 lexical index at path. An empty path opens an
// in-memory index for tests. A corrupted database is cleared and rebuilt
// rather than blocking the engine.
func NewFTS5Index(path string) (*FTS5Index, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.StorageError("failed to create lexical index directory", err)
		}
		if err := validateFTS5(path); err != nil {
			// Corruption: drop and reindex beats refusing to start.
			_ = os.Remove(path)
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StorageError("failed to open lexical index", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.StorageError("failed to set pragma", err)
		}
	}

	if _, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
			doc_id UNINDEXED,
			content,
			tokenize='unicode61'
		);
		CREATE TABLE IF NOT EXISTS doc_ids (
			doc_id TEXT PRIMARY KEY
		);`); err != nil {
		_ = db.Close()
		return nil, errors.StorageError("failed to create FTS5 schema", err)
	}

	return &FTS5Index{db: db, path: path}, nil
}

// validateFTS5 checks integrity before opening an existing index file.
func validateFTS5(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Index adds or replaces documents. FTS5 virtual tables have no REPLACE,
// so existing rows delete first.
func (s *FTS5Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StorageError("lexical index is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("failed to begin index transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, `DELETE FROM fts_chunks WHERE doc_id = ?`)
	if err != nil {
		return errors.StorageError("failed to prepare delete", err)
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, `INSERT INTO fts_chunks(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return errors.StorageError("failed to prepare insert", err)
	}
	defer ins.Close()

	track, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO doc_ids(doc_id) VALUES (?)`)
	if err != nil {
		return errors.StorageError("failed to prepare tracking insert", err)
	}
	defer track.Close()

	stop := stopWordSet()
	for _, doc := range docs {
		tokens := filterStopWords(Tokenize(doc.Content), stop)
		processed := strings.Join(tokens, " ")

		if _, err := del.ExecContext(ctx, doc.ID); err != nil {
			return errors.StorageError("failed to delete document "+doc.ID, err)
		}
		if _, err := ins.ExecContext(ctx, doc.ID, processed); err != nil {
			return errors.StorageError("failed to index document "+doc.ID, err)
		}
		if _, err := track.ExecContext(ctx, doc.ID); err != nil {
			return errors.StorageError("failed to track document "+doc.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns BM25-scored matches. FTS5's bm25() is negative-better;
// scores are negated so higher means better like the bleve backend.
func (s *FTS5Index) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StorageError("lexical index is closed", nil)
	}

	tokens := TokenizeQuery(query)
	if len(tokens) == 0 {
		return []*LexicalResult{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	// Quote terms to keep FTS5 operators (NEAR, AND, *) out of user input.
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	match := strings.Join(quoted, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, errors.StorageError("lexical search failed", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var r LexicalResult
		if err := rows.Scan(&r.ChunkID, &r.Score); err != nil {
			return nil, errors.StorageError("failed to scan result", err)
		}
		r.Score = -r.Score
		r.MatchedTerms = tokens
		results = append(results, &r)
	}
	return results, rows.Err()
}

// Delete removes documents from the index.
func (s *FTS5Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StorageError("lexical index is closed", nil)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("failed to begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_chunks WHERE doc_id IN (`+placeholders+`)`, args...); err != nil {
		return errors.StorageError("failed to delete from index", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM doc_ids WHERE doc_id IN (`+placeholders+`)`, args...); err != nil {
		return errors.StorageError("failed to delete tracking rows", err)
	}
	return tx.Commit()
}

// AllIDs returns every indexed document id, sorted.
func (s *FTS5Index) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StorageError("lexical index is closed", nil)
	}

	rows, err := s.db.Query(`SELECT doc_id FROM doc_ids ORDER BY doc_id`)
	if err != nil {
		return nil, errors.StorageError("failed to query ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.StorageError("failed to scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of indexed documents.
func (s *FTS5Index) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close checkpoints and closes the index. Idempotent.
func (s *FTS5Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
