package chunk

import (
	"sort"
	"strings"

	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/parser"
	"github.com/Aman-CERP/codescout/internal/token"
)

// DefaultMaxTokens is the default chunk body budget.
const DefaultMaxTokens = 512

// Resolver lets a plugin stamp symbol identity onto container chunks.
// Resolve returns nil for container nodes that declare no symbol.
type Resolver interface {
	Resolve(n *parser.Node) *SymbolInfo
}

// Chunker decomposes parse trees into token-bounded chunks.
//
// The walk partitions the file: leaf chunks cover every byte exactly once,
// in document order. A container that fits the budget becomes one chunk.
// An oversized container emits a header chunk (its declaration up to the
// first nested container) and recurses; nested chunks carry the header's
// chunk ID as parent. Runs of non-container content that overflow the
// budget flush as mixed-type siblings.
type Chunker struct {
	counter   *token.Counter
	maxTokens int
}

// New creates a chunker with the given token counter and budget.
func New(counter *token.Counter, maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{counter: counter, maxTokens: maxTokens}
}

// treeState carries per-file context through the recursive walk.
type treeState struct {
	src         []byte
	language    string
	fingerprint string
	cfg         *parser.LanguageConfig
	resolver    Resolver
	lines       *lineIndex
}

// ChunkTree chunks a parsed file. The returned chunks partition
// [0, len(source)) with no gaps and no overlaps.
func (c *Chunker) ChunkTree(tree *parser.Tree, cfg *parser.LanguageConfig, fingerprint string, resolver Resolver) []*Chunk {
	if len(tree.Source) == 0 {
		return nil
	}

	st := &treeState{
		src:         tree.Source,
		language:    tree.Language,
		fingerprint: fingerprint,
		cfg:         cfg,
		resolver:    resolver,
		lines:       newLineIndex(tree.Source),
	}

	containers := outermostContainers(tree.Root, cfg)
	chunks := c.emitRange(st, 0, len(tree.Source), containers, []string{tree.Root.Type}, 0, "")
	c.finalize(chunks)
	return chunks
}

// emitRange partitions [start, end) around the given containers.
func (c *Chunker) emitRange(st *treeState, start, end int, containers []*parser.Node, typePath []string, depth int, parentID string) []*Chunk {
	var out []*Chunk
	cursor := start
	index := 0

	// Only direct siblings get an index here; nested chunks were numbered
	// by their own emitRange call.
	appendChunks := func(cs []*Chunk) {
		for _, ch := range cs {
			if ch.Depth == depth {
				ch.Index = index
				index++
			}
			out = append(out, ch)
		}
	}

	for _, cont := range containers {
		cStart, cEnd := int(cont.StartByte), int(cont.EndByte)
		if cStart < cursor || cEnd > end {
			// Overlapping container reported by a damaged tree; the bytes
			// are already covered, skip it.
			continue
		}

		// Comments immediately preceding the container (no blank line)
		// attach to the container's chunk.
		attachStart := c.attachedCommentStart(st, cursor, cStart)

		if attachStart > cursor {
			appendChunks(c.emitInterstitial(st, cursor, attachStart, typePath, depth, parentID))
		}

		appendChunks(c.emitContainer(st, cont, attachStart, typePath, depth, parentID))
		cursor = cEnd
	}

	if cursor < end {
		appendChunks(c.emitInterstitial(st, cursor, end, typePath, depth, parentID))
	}

	return out
}

// emitContainer emits one chunk for a container that fits the budget, or a
// header chunk plus recursive children when it does not.
func (c *Chunker) emitContainer(st *treeState, cont *parser.Node, attachStart int, typePath []string, depth int, parentID string) []*Chunk {
	cEnd := int(cont.EndByte)
	content := string(st.src[attachStart:cEnd])
	info := c.resolveSymbol(st, cont)

	if c.counter.Count(content) <= c.maxTokens {
		ch := c.newChunk(st, attachStart, cEnd, TypeCode, typePath, cont.Type, depth, parentID)
		stampSymbol(ch, info)
		return []*Chunk{ch}
	}

	childPath := append(append([]string{}, typePath...), cont.Type)
	children := outermostContainers(cont, st.cfg)

	if len(children) == 0 {
		// A huge flat container: budget-split it. The first piece keeps
		// the symbol identity so lookups still land on the declaration.
		pieces := c.splitRange(st, attachStart, cEnd, TypeCode, typePath, cont.Type, depth, parentID, nil)
		if len(pieces) > 0 {
			stampSymbol(pieces[0], info)
		}
		return pieces
	}

	headerEnd := int(children[0].StartByte)
	header := c.newChunk(st, attachStart, headerEnd, TypeCode, typePath, cont.Type, depth, parentID)
	stampSymbol(header, info)
	// The header's ID must exist before children reference it.
	c.stampIDs(header)

	out := []*Chunk{header}
	out = append(out, c.emitRange(st, headerEnd, cEnd, children, childPath, depth+1, header.ChunkID)...)
	return out
}

// emitInterstitial handles the bytes between containers: freestanding
// comment blocks become comment chunks; everything else is code, budget
// flushed as mixed when oversized. A whitespace-only span becomes its own
// code chunk; it is not merged into a neighbouring chunk.
func (c *Chunker) emitInterstitial(st *treeState, start, end int, typePath []string, depth int, parentID string) []*Chunk {
	text := string(st.src[start:end])
	if strings.TrimSpace(text) == "" {
		return c.splitRange(st, start, end, TypeCode, typePath, "span", depth, parentID, nil)
	}

	typ := TypeCode
	if isCommentBlock(text, st.language) {
		typ = TypeComment
	}
	return c.splitRange(st, start, end, typ, typePath, "span", depth, parentID, nil)
}

// splitRange cuts [start, end) at line boundaries into budget-sized pieces.
// A single in-budget piece keeps typ; overflow pieces degrade to mixed.
func (c *Chunker) splitRange(st *treeState, start, end int, typ Type, typePath []string, nodeType string, depth int, parentID string, _ *SymbolInfo) []*Chunk {
	if end <= start {
		return nil
	}
	content := string(st.src[start:end])
	if c.counter.Count(content) <= c.maxTokens {
		return []*Chunk{c.newChunk(st, start, end, typ, typePath, nodeType, depth, parentID)}
	}

	var out []*Chunk
	pieceStart := start
	lineStart := start
	budgetBytes := c.maxTokens * 4 // byte backstop for single huge lines

	flush := func(to int) {
		if to <= pieceStart {
			return
		}
		out = append(out, c.newChunk(st, pieceStart, to, TypeMixed, typePath, nodeType, depth, parentID))
		pieceStart = to
	}

	for i := start; i < end; i++ {
		if st.src[i] == '\n' || i-lineStart >= budgetBytes {
			lineEnd := i + 1
			if st.src[i] != '\n' {
				lineEnd = i
			}
			if c.counter.Count(string(st.src[pieceStart:lineEnd])) > c.maxTokens && lineStart > pieceStart {
				flush(lineStart)
			}
			if c.counter.Count(string(st.src[pieceStart:lineEnd])) > c.maxTokens {
				// A single line over budget: cut mid-line.
				flush(lineEnd)
			}
			lineStart = lineEnd
		}
	}
	flush(end)

	return out
}

// newChunk builds a chunk for a byte range. IDs are stamped in finalize so
// range adjustments never race the digests.
func (c *Chunker) newChunk(st *treeState, start, end int, typ Type, typePath []string, nodeType string, depth int, parentID string) *Chunk {
	startLine, endLine := st.lines.lineOf(start), st.lines.lineOf(end-1)
	return &Chunk{
		FileFingerprintID: st.fingerprint,
		Content:           string(st.src[start:end]),
		StartLine:         startLine,
		EndLine:           endLine,
		StartByte:         start,
		EndByte:           end,
		Type:              typ,
		Language:          st.language,
		NodeType:          nodeType,
		ParentChunkID:     parentID,
		Depth:             depth,
		TokenCount:        c.counter.Count(string(st.src[start:end])),
		Tokenizer:         c.counter.Name(),
		// NodeID needs the type path; stash it via nodeTypePath.
		nodeTypePath: append([]string{}, typePath...),
	}
}

// finalize stamps content-derived IDs onto every chunk that does not have
// them yet.
func (c *Chunker) finalize(chunks []*Chunk) {
	for _, ch := range chunks {
		c.stampIDs(ch)
	}
}

func (c *Chunker) stampIDs(ch *Chunk) {
	if ch.ChunkID == "" {
		ch.ChunkID = ids.ChunkID(ch.Content)
	}
	if ch.NodeID == "" {
		ch.NodeID = ids.NodeID(ch.nodeTypePath, ch.NodeType)
	}
}

// resolveSymbol asks the plugin's resolver about a container node.
func (c *Chunker) resolveSymbol(st *treeState, n *parser.Node) *SymbolInfo {
	if st.resolver == nil {
		return nil
	}
	return st.resolver.Resolve(n)
}

// stampSymbol attaches symbol identity to a chunk.
func stampSymbol(ch *Chunk, info *SymbolInfo) {
	if info == nil {
		return
	}
	ch.SymbolHash = ids.SymbolHash(info.QualifiedName, info.Kind)
	ch.DefinitionID = ids.DefinitionID(info.Kind, info.QualifiedName, info.ParamTypes)
}

// outermostContainers returns the container nodes directly below n,
// pruning descent into containers so nesting is handled by recursion.
func outermostContainers(n *parser.Node, cfg *parser.LanguageConfig) []*parser.Node {
	var out []*parser.Node
	for _, child := range n.Children {
		child.Walk(func(node *parser.Node) bool {
			if cfg.IsContainer(node.Type) {
				out = append(out, node)
				return false
			}
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartByte < out[j].StartByte })
	return out
}

// attachedCommentStart walks back from a container start over directly
// adjacent comment lines (no blank line between comment and declaration)
// and returns the byte where the container's chunk should begin.
func (c *Chunker) attachedCommentStart(st *treeState, rangeStart, contStart int) int {
	prefixes := commentPrefixes(st.language)
	if len(prefixes) == 0 {
		return contStart
	}

	attach := contStart
	lineStart := st.lines.startOfLineContaining(contStart)
	if lineStart <= rangeStart {
		return contStart
	}

	pos := lineStart
	for pos > rangeStart {
		prevStart := st.lines.startOfLineContaining(pos - 1)
		if prevStart < rangeStart {
			break
		}
		line := strings.TrimSpace(string(st.src[prevStart:pos]))
		if line == "" || !hasAnyPrefix(line, prefixes) {
			break
		}
		attach = prevStart
		pos = prevStart
	}
	return attach
}

// isCommentBlock reports whether every non-blank line of text is a comment.
func isCommentBlock(text, language string) bool {
	prefixes := commentPrefixes(language)
	if len(prefixes) == 0 {
		return false
	}
	seen := false
	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seen = true
		if inBlock {
			if strings.Contains(line, "*/") {
				inBlock = false
			}
			continue
		}
		if strings.HasPrefix(line, "/*") {
			if !strings.Contains(line, "*/") {
				inBlock = true
			}
			continue
		}
		if !hasAnyPrefix(line, prefixes) {
			return false
		}
	}
	return seen
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// commentPrefixes returns the line-comment markers for a language.
func commentPrefixes(language string) []string {
	switch language {
	case "go", "javascript", "jsx", "typescript", "tsx":
		return []string{"//", "/*", "*"}
	case "python":
		return []string{"#"}
	default:
		return nil
	}
}

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex struct {
	starts []int // byte offset of each line start
}

func newLineIndex(src []byte) *lineIndex {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' && i+1 < len(src) {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{starts: starts}
}

// lineOf returns the 1-based line containing the byte offset.
func (li *lineIndex) lineOf(offset int) int {
	if offset < 0 {
		return 1
	}
	i := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset })
	return i // starts[i-1] <= offset < starts[i]; lines are 1-based
}

// startOfLineContaining returns the byte offset of the line start.
func (li *lineIndex) startOfLineContaining(offset int) int {
	line := li.lineOf(offset)
	return li.starts[line-1]
}
