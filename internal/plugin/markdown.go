package plugin

import (
	"context"
	"regexp"
	"strings"

	"github.com/Aman-CERP/codescout/internal/chunk"
	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/token"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// mdLine is one source line with its byte extent.
type mdLine struct {
	text      string
	start     int // byte offset of line start
	end       int // byte offset past the line (including newline)
	inFence   bool
	fenceOpen bool // the ``` marker line that opens a fence
}

// fence is one fenced code block, marker lines included.
type fence struct {
	language  string
	startLine int // 1-based, the opening marker
	endLine   int // 1-based, the closing marker (or last line when unclosed)
	startByte int
	endByte   int
	body      string // interior without the marker lines
	bodyLine  int    // 1-based first interior line
	bodyByte  int
}

// scanMarkdown splits source into lines and locates fenced blocks.
func scanMarkdown(source []byte) ([]mdLine, []fence) {
	text := string(source)
	rawLines := strings.SplitAfter(text, "\n")
	if len(rawLines) > 0 && rawLines[len(rawLines)-1] == "" {
		rawLines = rawLines[:len(rawLines)-1]
	}

	lines := make([]mdLine, len(rawLines))
	offset := 0
	for i, raw := range rawLines {
		lines[i] = mdLine{text: strings.TrimSuffix(raw, "\n"), start: offset, end: offset + len(raw)}
		offset += len(raw)
	}

	var fences []fence
	var open *fence
	for i := range lines {
		trimmed := strings.TrimSpace(lines[i].text)
		isMarker := strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")

		if open == nil && isMarker {
			open = &fence{
				language:  normalizeFenceLang(strings.TrimLeft(trimmed, "`~")),
				startLine: i + 1,
				startByte: lines[i].start,
				bodyLine:  i + 2,
				bodyByte:  lines[i].end,
			}
			lines[i].inFence = true
			lines[i].fenceOpen = true
			continue
		}
		if open != nil {
			lines[i].inFence = true
			if isMarker {
				open.endLine = i + 1
				open.endByte = lines[i].end
				open.body = string(source[open.bodyByte:lines[i].start])
				fences = append(fences, *open)
				open = nil
			}
		}
	}
	if open != nil {
		// Unclosed fence runs to end of file.
		open.endLine = len(lines)
		open.endByte = len(source)
		open.body = string(source[open.bodyByte:])
		fences = append(fences, *open)
	}

	return lines, fences
}

// normalizeFenceLang maps fence info strings onto registered language names.
func normalizeFenceLang(info string) string {
	info = strings.ToLower(strings.TrimSpace(info))
	if i := strings.IndexAny(info, " \t{"); i >= 0 {
		info = info[:i]
	}
	switch info {
	case "go", "golang":
		return "go"
	case "py", "python", "python3":
		return "python"
	case "js", "javascript":
		return "javascript"
	case "jsx":
		return "jsx"
	case "ts", "typescript":
		return "typescript"
	case "tsx":
		return "tsx"
	default:
		return info
	}
}

// Markdown is the document-structural plugin. It emits doc chunks for
// heading-delimited sections, a data chunk for YAML front matter, and
// leaves fenced code blocks to the markdown-code plugin so ranges from the
// two plugins stay disjoint.
type Markdown struct {
	counter   *token.Counter
	maxTokens int
}

// NewMarkdown creates the markdown document plugin.
func NewMarkdown(counter *token.Counter, maxTokens int) *Markdown {
	if maxTokens <= 0 {
		maxTokens = chunk.DefaultMaxTokens
	}
	return &Markdown{counter: counter, maxTokens: maxTokens}
}

func (p *Markdown) ID() string { return "markdown" }

func (p *Markdown) Describe() Descriptor {
	return Descriptor{ID: p.ID(), Extensions: []string{".md", ".markdown", ".mdx"}}
}

func (p *Markdown) Supports(path string) bool {
	_, ok := matchExt([]string{".md", ".markdown", ".mdx"}, path)
	return ok
}

func (p *Markdown) Index(ctx context.Context, path string, data []byte) (*Shard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := buildFileMeta(path, "markdown", data)
	shard := &Shard{PluginID: p.ID(), File: meta, Quality: QualityFull}
	if len(data) == 0 {
		return shard, nil
	}

	lines, _ := scanMarkdown(data)

	// Front matter: a --- block starting on line one.
	bodyFrom := 0
	if len(lines) > 0 && strings.TrimSpace(lines[0].text) == "---" {
		for i := 1; i < len(lines); i++ {
			if strings.TrimSpace(lines[i].text) == "---" {
				shard.Chunks = append(shard.Chunks, p.rangeChunk(meta, data, lines, 0, i, chunk.TypeData, "front_matter", 0))
				bodyFrom = i + 1
				break
			}
		}
	}

	// Contiguous non-fence runs, broken at headings.
	runStart := -1
	flush := func(endIdx int) {
		if runStart < 0 || endIdx < runStart {
			return
		}
		p.emitRun(shard, meta, data, lines, runStart, endIdx)
		runStart = -1
	}

	for i := bodyFrom; i < len(lines); i++ {
		if lines[i].inFence {
			flush(i - 1)
			continue
		}
		if headingPattern.MatchString(lines[i].text) {
			flush(i - 1)
		}
		if runStart < 0 {
			runStart = i
		}
	}
	flush(len(lines) - 1)

	for i, ch := range shard.Chunks {
		ch.Index = i
	}
	return shard, nil
}

// emitRun emits one section run, budget-split when oversized.
func (p *Markdown) emitRun(shard *Shard, meta FileMeta, source []byte, lines []mdLine, from, to int) {
	text := string(source[lines[from].start:lines[to].end])
	if strings.TrimSpace(text) == "" && len(shard.Chunks) > 0 {
		// Fold trailing blank runs into a standalone doc chunk anyway so
		// merged coverage has no holes.
		shard.Chunks = append(shard.Chunks, p.rangeChunk(meta, source, lines, from, to, chunk.TypeDoc, "section", 0))
		return
	}

	if p.counter.Count(text) <= p.maxTokens {
		shard.Chunks = append(shard.Chunks, p.rangeChunk(meta, source, lines, from, to, chunk.TypeDoc, "section", 0))
		return
	}

	// Split at line boundaries under the budget.
	pieceFrom := from
	var acc strings.Builder
	for i := from; i <= to; i++ {
		acc.WriteString(lines[i].text)
		acc.WriteByte('\n')
		if p.counter.Count(acc.String()) > p.maxTokens && i > pieceFrom {
			shard.Chunks = append(shard.Chunks, p.rangeChunk(meta, source, lines, pieceFrom, i-1, chunk.TypeMixed, "section", 0))
			pieceFrom = i
			acc.Reset()
			acc.WriteString(lines[i].text)
			acc.WriteByte('\n')
		}
	}
	if pieceFrom <= to {
		typ := chunk.TypeMixed
		if pieceFrom == from {
			typ = chunk.TypeDoc
		}
		shard.Chunks = append(shard.Chunks, p.rangeChunk(meta, source, lines, pieceFrom, to, typ, "section", 0))
	}
}

// rangeChunk builds a chunk covering lines [from, to] inclusive.
func (p *Markdown) rangeChunk(meta FileMeta, source []byte, lines []mdLine, from, to int, typ chunk.Type, nodeType string, depth int) *chunk.Chunk {
	startByte := lines[from].start
	endByte := lines[to].end
	content := string(source[startByte:endByte])
	return &chunk.Chunk{
		ChunkID:           ids.ChunkID(content),
		NodeID:            ids.NodeID([]string{"document"}, nodeType),
		FileFingerprintID: meta.Fingerprint,
		Content:           content,
		StartLine:         from + 1,
		EndLine:           to + 1,
		StartByte:         startByte,
		EndByte:           endByte,
		Type:              typ,
		Language:          "markdown",
		NodeType:          nodeType,
		Depth:             depth,
		TokenCount:        p.counter.Count(content),
		Tokenizer:         p.counter.Name(),
	}
}

// MarkdownCode extracts fenced code blocks from markdown files so embedded
// code is indexed under its own language: each known-language fence runs
// through the real tree-sitter plugin, so functions and classes declared
// inside fences resolve through lookup_symbol like any other declaration.
type MarkdownCode struct {
	counter   *token.Counter
	maxTokens int
	languages map[string]*TreeSitter
}

// NewMarkdownCode creates the fenced-block plugin.
func NewMarkdownCode(counter *token.Counter, maxTokens int) *MarkdownCode {
	if maxTokens <= 0 {
		maxTokens = chunk.DefaultMaxTokens
	}
	languages := make(map[string]*TreeSitter, len(knownFenceLanguages()))
	for lang := range knownFenceLanguages() {
		languages[lang] = NewTreeSitter(lang, counter, maxTokens)
	}
	return &MarkdownCode{counter: counter, maxTokens: maxTokens, languages: languages}
}

func (p *MarkdownCode) ID() string { return "markdown-code" }

func (p *MarkdownCode) Describe() Descriptor {
	return Descriptor{ID: p.ID(), Extensions: []string{".md", ".markdown", ".mdx"}}
}

func (p *MarkdownCode) Supports(path string) bool {
	_, ok := matchExt([]string{".md", ".markdown", ".mdx"}, path)
	return ok
}

func (p *MarkdownCode) Index(ctx context.Context, path string, data []byte) (*Shard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := buildFileMeta(path, "markdown", data)
	shard := &Shard{PluginID: p.ID(), File: meta, Quality: QualityFull}
	if len(data) == 0 {
		return shard, nil
	}

	_, fences := scanMarkdown(data)

	for i, f := range fences {
		typ := chunk.TypeData
		lang := ""
		if langPlugin, known := p.languages[f.language]; known {
			typ = chunk.TypeCode
			lang = f.language

			// The fence body goes through the real language plugin; its
			// symbols and imports join this shard with lines shifted to
			// the enclosing document. The sub-shard's chunks are
			// discarded: the fence stays one chunk so ranges remain
			// disjoint with the document plugin's sections.
			sub, err := langPlugin.Index(ctx, path, []byte(f.body))
			if err != nil {
				return nil, err
			}
			offset := f.bodyLine - 1
			for _, s := range sub.Symbols {
				s.StartLine += offset
				s.EndLine += offset
				shard.Symbols = append(shard.Symbols, s)
			}
			shard.Imports = append(shard.Imports, sub.Imports...)
			if sub.Quality != QualityFull {
				shard.Quality = QualityPartial
			}
		}

		content := string(data[f.startByte:f.endByte])
		shard.Chunks = append(shard.Chunks, &chunk.Chunk{
			ChunkID:           ids.ChunkID(content),
			NodeID:            ids.NodeID([]string{"document"}, "fenced_block"),
			FileFingerprintID: meta.Fingerprint,
			Content:           content,
			StartLine:         f.startLine,
			EndLine:           f.endLine,
			StartByte:         f.startByte,
			EndByte:           f.endByte,
			Type:              typ,
			Language:          lang,
			NodeType:          "fenced_block",
			Index:             i,
			TokenCount:        p.counter.Count(content),
			Tokenizer:         p.counter.Name(),
		})
	}

	return shard, nil
}

// knownFenceLanguages lists fence languages indexed as code.
func knownFenceLanguages() map[string]bool {
	return map[string]bool{
		"go": true, "python": true, "javascript": true,
		"jsx": true, "typescript": true, "tsx": true,
	}
}
