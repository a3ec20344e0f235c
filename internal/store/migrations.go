package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Aman-CERP/codescout/internal/errors"
)

// CurrentSchemaVersion is the schema version this binary requires.
const CurrentSchemaVersion = 3

// migration is one forward-only schema step.
type migration struct {
	from, to int
	name     string
	apply    func(tx *sql.Tx) error
}

// schemaMigrations is the ordered migration chain. Migrations only add
// columns, add indexes, and clean duplicates; they never rewrite rows a
// previous version wrote.
var schemaMigrations = []migration{
	{from: 0, to: 1, name: "initial schema", apply: migrateInitial},
	{from: 1, to: 2, name: "embeddings with uniqueness", apply: migrateEmbeddings},
	{from: 2, to: 3, name: "token accounting columns", apply: migrateTokenColumns},
}

func migrateInitial(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE repositories (
		id          TEXT PRIMARY KEY,
		root_path   TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		indexed_at  TIMESTAMP
	);

	CREATE TABLE files (
		id            TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL REFERENCES repositories(id),
		relative_path TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		fingerprint   TEXT NOT NULL,
		language      TEXT,
		size          INTEGER NOT NULL DEFAULT 0,
		line_count    INTEGER NOT NULL DEFAULT 0,
		last_seen_at  TIMESTAMP NOT NULL,
		is_deleted    INTEGER NOT NULL DEFAULT 0,
		UNIQUE (repository_id, relative_path)
	);

	CREATE TABLE symbols (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id       TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		name          TEXT NOT NULL,
		qualified_name TEXT NOT NULL,
		kind          TEXT NOT NULL,
		line_start    INTEGER NOT NULL,
		line_end      INTEGER NOT NULL,
		column_start  INTEGER NOT NULL DEFAULT 1,
		signature     TEXT,
		parent_symbol TEXT,
		visibility    TEXT,
		modifiers     TEXT,
		docstring     TEXT,
		symbol_hash   TEXT NOT NULL,
		definition_id TEXT NOT NULL,
		is_deleted    INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE chunks (
		file_id         TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		chunk_id        TEXT NOT NULL,
		node_id         TEXT NOT NULL,
		file_fingerprint_id TEXT NOT NULL,
		symbol_hash     TEXT,
		definition_id   TEXT,
		content         TEXT NOT NULL,
		line_start      INTEGER NOT NULL,
		line_end        INTEGER NOT NULL,
		byte_start      INTEGER NOT NULL,
		byte_end        INTEGER NOT NULL,
		chunk_type      TEXT NOT NULL,
		language        TEXT,
		node_type       TEXT,
		parent_chunk_id TEXT,
		depth           INTEGER NOT NULL DEFAULT 0,
		chunk_index     INTEGER NOT NULL DEFAULT 0,
		token_count     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (file_id, chunk_id)
	);

	CREATE TABLE file_moves (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id TEXT NOT NULL,
		old_relative_path TEXT NOT NULL,
		new_relative_path TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		moved_at      TIMESTAMP NOT NULL,
		move_type     TEXT NOT NULL
	);

	CREATE TABLE state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT INTO state (key, value) VALUES ('snapshot_id', '0');

	CREATE INDEX idx_files_repo_path ON files(repository_id, relative_path);
	CREATE INDEX idx_chunks_chunk_id ON chunks(chunk_id);
	`)
	return err
}

func migrateEmbeddings(tx *sql.Tx) error {
	if _, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id        TEXT NOT NULL,
		file_id         TEXT NOT NULL,
		model_name      TEXT NOT NULL,
		model_dimension INTEGER NOT NULL,
		vector          BLOB NOT NULL
	);
	`); err != nil {
		return err
	}

	// Clean duplicates before the unique index lands: keep the newest row
	// per (chunk_id, model_name).
	if _, err := tx.Exec(`
	DELETE FROM embeddings WHERE rowid NOT IN (
		SELECT MAX(rowid) FROM embeddings GROUP BY chunk_id, model_name
	);
	`); err != nil {
		return err
	}

	_, err := tx.Exec(`
	CREATE UNIQUE INDEX IF NOT EXISTS idx_embeddings_chunk_model
		ON embeddings(chunk_id, model_name);
	`)
	return err
}

func migrateTokenColumns(tx *sql.Tx) error {
	_, err := tx.Exec(`
	ALTER TABLE symbols ADD COLUMN token_count INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE chunks ADD COLUMN tokenizer TEXT NOT NULL DEFAULT '';
	CREATE INDEX idx_symbols_name ON symbols(name);
	CREATE INDEX idx_symbols_hash ON symbols(symbol_hash);
	CREATE INDEX idx_chunks_symbol_hash ON chunks(symbol_hash);
	`)
	return err
}

// migrate brings the database to CurrentSchemaVersion. Each step runs in
// its own transaction and is recorded in the migrations table; a failed
// step rolls back and blocks startup. A database newer than this binary,
// or a version with no outgoing migration, also blocks startup.
func (d *DB) migrate() error {
	if _, err := d.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
	CREATE TABLE IF NOT EXISTS migrations (
		version_from INTEGER NOT NULL,
		version_to   INTEGER NOT NULL,
		status       TEXT NOT NULL,
		applied_at   TIMESTAMP NOT NULL
	);
	`); err != nil {
		return errors.New(errors.CodeMigrationFailed, "failed to create migration tables", err)
	}

	version, err := d.schemaVersion()
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return errors.New(errors.CodeMigrationFailed,
			fmt.Sprintf("database schema version %d is newer than supported %d", version, CurrentSchemaVersion), nil)
	}

	for version < CurrentSchemaVersion {
		m, ok := migrationFrom(version)
		if !ok {
			return errors.New(errors.CodeMigrationFailed,
				fmt.Sprintf("no migration path from schema version %d", version), nil)
		}

		if err := d.runMigration(m); err != nil {
			d.recordMigration(m, "failed")
			return errors.New(errors.CodeMigrationFailed,
				fmt.Sprintf("migration %d->%d (%s) failed", m.from, m.to, m.name), err)
		}
		d.recordMigration(m, "applied")
		version = m.to
	}

	return nil
}

func migrationFrom(version int) (migration, bool) {
	for _, m := range schemaMigrations {
		if m.from == version {
			return m, true
		}
	}
	return migration{}, false
}

func (d *DB) runMigration(m migration) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.to); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) recordMigration(m migration, status string) {
	_, _ = d.db.Exec(
		`INSERT INTO migrations (version_from, version_to, status, applied_at) VALUES (?, ?, ?, ?)`,
		m.from, m.to, status, time.Now().UTC(),
	)
}

func (d *DB) schemaVersion() (int, error) {
	var version int
	err := d.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.New(errors.CodeMigrationFailed, "failed to read schema version", err)
	}
	return version, nil
}

// MigrationHistory returns the recorded migration attempts, oldest first.
func (d *DB) MigrationHistory() ([]MigrationEntry, error) {
	rows, err := d.db.Query(`SELECT version_from, version_to, status, applied_at FROM migrations ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MigrationEntry
	for rows.Next() {
		var e MigrationEntry
		if err := rows.Scan(&e.From, &e.To, &e.Status, &e.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MigrationEntry is one row of the migrations audit table.
type MigrationEntry struct {
	From      int
	To        int
	Status    string
	AppliedAt time.Time
}
