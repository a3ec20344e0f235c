// Package query answers the three retrieval families: exact symbol
// lookup, lexical BM25 search, and semantic vector search, plus the
// hybrid blend of the latter two.
package query

// Filters narrow search results after retrieval.
type Filters struct {
	// PathGlob filters by file path, doublestar syntax ("src/**/*.go").
	PathGlob string `json:"path_glob,omitempty"`
	// Language filters by detected language name.
	Language string `json:"language,omitempty"`
	// SymbolKind keeps chunks overlapping a symbol of this kind.
	SymbolKind string `json:"symbol_kind,omitempty"`
}

// Options tunes one search request.
type Options struct {
	// Semantic enables the vector leg alongside lexical.
	Semantic bool
	// Limit is the page size. Default 10.
	Limit int
	// Offset is the stateless pagination offset.
	Offset int
	// Filters narrow results.
	Filters Filters
	// SnapshotID, when non-zero, is compared against the repo's current
	// snapshot to detect index drift between pages.
	SnapshotID int64
	// Alpha overrides the configured lexical weight when in (0,1].
	Alpha float64
}

// Result is one search hit with its score breakdown.
type Result struct {
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Language  string  `json:"language,omitempty"`
	ChunkType string  `json:"chunk_type"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`

	// Sub-scores explain the blend: normalized to [0,1] per leg.
	LexScore float64 `json:"lex_score"`
	SemScore float64 `json:"sem_score"`
	InBoth   bool    `json:"in_both"`

	// fileID supports the symbol-kind filter join.
	fileID string
}

// Warning annotates a partial response.
type Warning struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// SearchOutput is a search response page.
type SearchOutput struct {
	Results    []*Result `json:"results"`
	Total      int       `json:"total"`
	SnapshotID int64     `json:"snapshot_id"`
	Drifted    bool      `json:"drifted,omitempty"` // snapshot mismatch
	Warnings   []Warning `json:"warnings,omitempty"`
}

// Location is a resolved definition or reference site.
type Location struct {
	FilePath  string `json:"file_path"`
	Line      int    `json:"line"`
	Column    int    `json:"column,omitempty"`
	Name      string `json:"name,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Signature string `json:"signature,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}
