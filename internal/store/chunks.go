package store

import (
	"context"
	"strings"

	"github.com/Aman-CERP/codescout/internal/chunk"
	"github.com/Aman-CERP/codescout/internal/errors"
)

// HydrateChunks loads full chunk rows for the given chunk ids, skipping
// chunks whose files are soft-deleted. Results come back in input order;
// unknown ids are silently dropped (the lexical index may briefly lead
// the metadata store). A content-addressed id shared by several files
// hydrates to one representative row: the normalized content is the same
// by construction. Hot rows come from an LRU cache.
func (d *DB) HydrateChunks(ctx context.Context, ids []string) ([]*HydratedChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	found := make(map[string]*HydratedChunk, len(ids))
	var missing []string
	for _, id := range ids {
		if hc, ok := d.hydrate.Get(id); ok {
			found[id] = hc
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(missing)), ",")
		args := make([]any, len(missing))
		for i, id := range missing {
			args[i] = id
		}

		rows, err := d.db.QueryContext(ctx, `
			SELECT c.chunk_id, c.node_id, c.file_fingerprint_id, COALESCE(c.symbol_hash, ''),
				COALESCE(c.definition_id, ''), c.content, c.line_start, c.line_end,
				c.byte_start, c.byte_end, c.chunk_type, COALESCE(c.language, ''),
				COALESCE(c.node_type, ''), COALESCE(c.parent_chunk_id, ''), c.depth,
				c.chunk_index, c.token_count, c.tokenizer, c.file_id, f.relative_path
			FROM chunks c
			JOIN files f ON c.file_id = f.id
			WHERE f.is_deleted = 0 AND c.chunk_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, errors.StorageError("failed to hydrate chunks", err)
		}
		defer rows.Close()

		for rows.Next() {
			hc := &HydratedChunk{}
			var typ string
			if err := rows.Scan(&hc.ChunkID, &hc.NodeID, &hc.FileFingerprintID, &hc.SymbolHash,
				&hc.DefinitionID, &hc.Content, &hc.StartLine, &hc.EndLine,
				&hc.StartByte, &hc.EndByte, &typ, &hc.Language,
				&hc.NodeType, &hc.ParentChunkID, &hc.Depth,
				&hc.Index, &hc.TokenCount, &hc.Tokenizer, &hc.FileID, &hc.FilePath); err != nil {
				return nil, errors.StorageError("failed to scan chunk", err)
			}
			hc.Type = chunk.Type(typ)
			found[hc.ChunkID] = hc
			d.hydrate.Add(hc.ChunkID, hc)
		}
		if err := rows.Err(); err != nil {
			return nil, errors.StorageError("failed to read chunks", err)
		}
	}

	out := make([]*HydratedChunk, 0, len(ids))
	for _, id := range ids {
		if hc, ok := found[id]; ok {
			out = append(out, hc)
		}
	}
	return out, nil
}

// ChunksByFile returns a file's chunks in document order.
func (d *DB) ChunksByFile(ctx context.Context, fileID string) ([]*HydratedChunk, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.chunk_id FROM chunks c WHERE c.file_id = ? ORDER BY c.byte_start`, fileID)
	if err != nil {
		return nil, errors.StorageError("failed to list file chunks", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return d.HydrateChunks(ctx, ids)
}

// AllChunkDocuments streams every live chunk as a lexical-index document.
// Used to rebuild the lexical index from the metadata store.
func (d *DB) AllChunkDocuments(ctx context.Context, repoID string) ([]*Document, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.content
		FROM chunks c JOIN files f ON c.file_id = f.id
		WHERE f.repository_id = ? AND f.is_deleted = 0`, repoID)
	if err != nil {
		return nil, errors.StorageError("failed to stream chunks", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Content); err != nil {
			return nil, errors.StorageError("failed to scan document", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}
