package store

import (
	"context"

	"github.com/Aman-CERP/codescout/internal/errors"
)

// symbolKindPriority orders lookup results: definitions users navigate to
// most come first among equally exact matches.
var symbolKindPriority = map[string]int{
	"class": 0, "interface": 1, "struct": 2, "enum": 3,
	"function": 4, "method": 5, "constructor": 6,
	"type-alias": 7, "constant": 8, "variable": 9,
	"field": 10, "property": 11, "module": 12, "namespace": 13,
	"import": 14,
}

// KindPriority exposes the lookup ordering rank of a symbol kind.
func KindPriority(kind string) int {
	if p, ok := symbolKindPriority[kind]; ok {
		return p
	}
	return len(symbolKindPriority)
}

const symbolSelect = `
	SELECT s.name, s.qualified_name, s.kind, f.relative_path, s.line_start, s.column_start,
		COALESCE(s.signature, ''), s.symbol_hash, s.definition_id
	FROM symbols s
	JOIN files f ON s.file_id = f.id
	WHERE f.is_deleted = 0 AND s.is_deleted = 0 AND f.repository_id = ?`

// LookupSymbol resolves a name to declaration locations. Exact
// case-sensitive matches come first, prefix matches second; within each
// tier results order by kind priority, then shorter path, then lower line.
// Soft-deleted files never contribute rows.
func (d *DB) LookupSymbol(ctx context.Context, repoID, name, kind string, limit int) ([]*SymbolLocation, error) {
	if limit <= 0 {
		limit = 20
	}

	exact, err := d.querySymbols(ctx,
		symbolSelect+` AND (s.name = ? OR s.qualified_name = ?)`,
		kind, limit, repoID, name, name)
	if err != nil {
		return nil, err
	}
	for _, s := range exact {
		s.Exact = true
	}
	if len(exact) >= limit {
		return exact[:limit], nil
	}

	prefix, err := d.querySymbols(ctx,
		symbolSelect+` AND s.name LIKE ? || '%' AND s.name != ? AND s.qualified_name != ?`,
		kind, limit-len(exact), repoID, name, name, name)
	if err != nil {
		return nil, err
	}

	return append(exact, prefix...), nil
}

// querySymbols runs one lookup tier with the shared ordering.
func (d *DB) querySymbols(ctx context.Context, query, kind string, limit int, args ...any) ([]*SymbolLocation, error) {
	if kind != "" {
		query += ` AND s.kind = ?`
		args = append(args, kind)
	}
	query += `
	ORDER BY CASE s.kind ` + kindPriorityCase() + ` END,
		LENGTH(f.relative_path), f.relative_path, s.line_start
	LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError("symbol lookup failed", err)
	}
	defer rows.Close()

	var out []*SymbolLocation
	for rows.Next() {
		var s SymbolLocation
		if err := rows.Scan(&s.Name, &s.QualifiedName, &s.Kind, &s.FilePath, &s.Line,
			&s.Column, &s.Signature, &s.SymbolHash, &s.DefinitionID); err != nil {
			return nil, errors.StorageError("failed to scan symbol", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// kindPriorityCase renders the kind ordering as a SQL CASE body.
func kindPriorityCase() string {
	out := ""
	for kind, prio := range symbolKindPriority {
		out += "WHEN '" + kind + "' THEN " + itoa(prio) + " "
	}
	return out + "ELSE 99"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [4]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

// GetDefinition resolves a qualified name (falling back to plain name) to
// its canonical declaration: the first row of the lookup ordering.
func (d *DB) GetDefinition(ctx context.Context, repoID, qualifiedName string) (*SymbolLocation, error) {
	locs, err := d.LookupSymbol(ctx, repoID, qualifiedName, "", 1)
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 || !locs[0].Exact {
		return nil, errors.NotFound("symbol", qualifiedName)
	}
	return locs[0], nil
}

// GetSymbolByHash resolves a symbol hash to its declaration.
func (d *DB) GetSymbolByHash(ctx context.Context, repoID, symbolHash string) (*SymbolLocation, error) {
	rows, err := d.querySymbols(ctx,
		symbolSelect+` AND s.symbol_hash = ?`, "", 1, repoID, symbolHash)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NotFound("symbol", symbolHash)
	}
	rows[0].Exact = true
	return rows[0], nil
}

// SymbolsOverlappingLines returns the kinds of live symbols whose ranges
// overlap [lineStart, lineEnd] of a file. The query engine uses this for
// symbol-kind search filters.
func (d *DB) SymbolsOverlappingLines(ctx context.Context, fileID string, lineStart, lineEnd int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT DISTINCT kind FROM symbols
		WHERE file_id = ? AND is_deleted = 0 AND line_start <= ? AND line_end >= ?`,
		fileID, lineEnd, lineStart)
	if err != nil {
		return nil, errors.StorageError("failed to query overlapping symbols", err)
	}
	defer rows.Close()

	var kinds []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.StorageError("failed to scan kind", err)
		}
		kinds = append(kinds, k)
	}
	return kinds, rows.Err()
}
