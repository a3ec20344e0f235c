package query

import (
	"context"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Aman-CERP/codescout/internal/errors"
)

// applyFilters narrows results by path glob, language, and symbol kind.
// Filters run after retrieval so both search legs share one code path.
func (e *Engine) applyFilters(ctx context.Context, results []*Result, f Filters) ([]*Result, error) {
	if f.PathGlob == "" && f.Language == "" && f.SymbolKind == "" {
		return results, nil
	}

	if f.PathGlob != "" {
		if !doublestar.ValidatePattern(f.PathGlob) {
			return nil, errors.New(errors.CodeInvalidQuery, "invalid path glob: "+f.PathGlob, nil)
		}
	}

	out := make([]*Result, 0, len(results))
	for _, r := range results {
		if f.PathGlob != "" {
			ok, err := doublestar.Match(f.PathGlob, r.FilePath)
			if err != nil || !ok {
				continue
			}
		}
		if f.Language != "" && r.Language != f.Language {
			continue
		}
		if f.SymbolKind != "" {
			ok, err := e.overlapsSymbolKind(ctx, r, f.SymbolKind)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// overlapsSymbolKind checks whether a chunk's line range overlaps any
// symbol of the wanted kind, via the symbols table join.
func (e *Engine) overlapsSymbolKind(ctx context.Context, r *Result, kind string) (bool, error) {
	if r.fileID == "" {
		return false, nil
	}
	kinds, err := e.db.SymbolsOverlappingLines(ctx, r.fileID, r.StartLine, r.EndLine)
	if err != nil {
		return false, err
	}
	for _, k := range kinds {
		if k == kind {
			return true, nil
		}
	}
	return false, nil
}
