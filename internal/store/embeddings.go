package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/Aman-CERP/codescout/internal/errors"
)

// SaveEmbeddings upserts vectors. The (chunk_id, model_name) pair is
// unique; newer writes replace older rows.
func (d *DB) SaveEmbeddings(ctx context.Context, recs []*EmbeddingRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("failed to begin embedding transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (chunk_id, file_id, model_name, model_dimension, vector)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id, model_name) DO UPDATE SET
			file_id = excluded.file_id,
			model_dimension = excluded.model_dimension,
			vector = excluded.vector`)
	if err != nil {
		return errors.StorageError("failed to prepare embedding insert", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.ChunkID, r.FileID, r.ModelName,
			r.ModelDimension, encodeVector(r.Vector)); err != nil {
			return errors.StorageError("failed to save embedding for "+r.ChunkID, err)
		}
	}
	return tx.Commit()
}

// GetEmbedding loads one vector, or NotFound.
func (d *DB) GetEmbedding(ctx context.Context, chunkID, modelName string) (*EmbeddingRecord, error) {
	var rec EmbeddingRecord
	var blob []byte
	err := d.db.QueryRowContext(ctx, `
		SELECT chunk_id, file_id, model_name, model_dimension, vector
		FROM embeddings WHERE chunk_id = ? AND model_name = ?`, chunkID, modelName).
		Scan(&rec.ChunkID, &rec.FileID, &rec.ModelName, &rec.ModelDimension, &blob)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("file", chunkID)
	}
	if err != nil {
		return nil, errors.StorageError("failed to load embedding", err)
	}
	rec.Vector = decodeVector(blob)
	return &rec, nil
}

// AllEmbeddings streams every stored vector for a model, keyed by chunk
// id. The vector index is rebuilt from this on open when its on-disk file
// is missing or stale.
func (d *DB) AllEmbeddings(ctx context.Context, modelName string) (map[string][]float32, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT chunk_id, vector FROM embeddings WHERE model_name = ?`, modelName)
	if err != nil {
		return nil, errors.StorageError("failed to stream embeddings", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, errors.StorageError("failed to scan embedding", err)
		}
		out[id] = decodeVector(blob)
	}
	return out, rows.Err()
}

// MissingEmbeddings returns ids of live chunks lacking a vector for the
// model, bounded by limit.
func (d *DB) MissingEmbeddings(ctx context.Context, repoID, modelName string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.chunk_id
		FROM chunks c
		JOIN files f ON c.file_id = f.id
		LEFT JOIN embeddings e ON e.chunk_id = c.chunk_id AND e.model_name = ?
		WHERE f.repository_id = ? AND f.is_deleted = 0 AND e.chunk_id IS NULL
		LIMIT ?`, modelName, repoID, limit)
	if err != nil {
		return nil, errors.StorageError("failed to find missing embeddings", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.StorageError("failed to scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteEmbeddings removes vectors for the given chunk ids inside an open
// transaction.
func deleteEmbeddings(ctx context.Context, tx *sql.Tx, chunkIDs []string) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunkIDs)), ",")
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE chunk_id IN (`+placeholders+`)`, args...)
	return err
}
