// Package chunk decomposes parsed files into hierarchical, token-bounded
// retrieval units with stable identifiers.
package chunk

// Type classifies a chunk's content.
type Type string

const (
	// TypeCode is executable source code.
	TypeCode Type = "code"
	// TypeComment is a freestanding comment block.
	TypeComment Type = "comment"
	// TypeDoc is documentation prose (markdown sections, plaintext).
	TypeDoc Type = "doc"
	// TypeData is structured data (tables, front matter, manifests).
	TypeData Type = "data"
	// TypeMixed is a budget-flushed run of heterogeneous content.
	TypeMixed Type = "mixed"
	// TypeRaw is an unparsed fallback chunk.
	TypeRaw Type = "raw"
)

// Chunk is a unit of retrievable content covering a contiguous byte range
// of one file version.
type Chunk struct {
	// ChunkID is the content-addressed digest of normalized chunk text.
	ChunkID string
	// NodeID is the structural digest of (parse-tree-path, node-type).
	NodeID string
	// FileFingerprintID identifies the file version that produced the chunk.
	FileFingerprintID string
	// SymbolHash is set when the chunk corresponds to a declared symbol.
	SymbolHash string
	// DefinitionID is the signature-only digest, stable across body edits.
	DefinitionID string

	Content   string
	StartLine int // 1-based inclusive
	EndLine   int // inclusive
	StartByte int
	EndByte   int // exclusive

	Type     Type
	Language string
	NodeType string

	ParentChunkID string
	Depth         int
	Index         int // stable total order among siblings

	TokenCount int
	Tokenizer  string

	// nodeTypePath is the parse-tree path used for NodeID, carried only
	// until the chunker finalizes identifiers.
	nodeTypePath []string
}

// Symbol is a declaration extracted from a file.
type Symbol struct {
	Name          string
	QualifiedName string // dotted path including parents
	Kind          string // one of the kinds in spec: function, method, class, ...
	StartLine     int    // 1-based inclusive
	EndLine       int    // inclusive
	StartColumn   int    // 1-based
	Signature     string
	Parent        string // qualified name of enclosing symbol, if any
	Visibility    string // public | private | "" when the language has no notion
	Modifiers     []string
	Docstring     string
	TokenCount    int

	SymbolHash   string
	DefinitionID string
}

// SymbolInfo is what a plugin's extractor resolves for a container node so
// the chunker can stamp symbol identity onto the matching chunk.
type SymbolInfo struct {
	QualifiedName string
	Kind          string
	Signature     string
	ParamTypes    []string
}
