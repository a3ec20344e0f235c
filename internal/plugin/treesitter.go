package plugin

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/Aman-CERP/codescout/internal/chunk"
	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/parser"
	"github.com/Aman-CERP/codescout/internal/token"
)

// TreeSitter is the grammar-backed plugin variant. One instance serves one
// language; the registry holds an instance per registered grammar.
type TreeSitter struct {
	language  string
	cfg       *parser.LanguageConfig
	parser    *parser.Parser
	chunker   *chunk.Chunker
	counter   *token.Counter
	maxTokens int
}

// NewTreeSitter creates the plugin for a registered language.
func NewTreeSitter(language string, counter *token.Counter, maxTokens int) *TreeSitter {
	cfg, _ := parser.DefaultRegistry().ByName(language)
	return &TreeSitter{
		language:  language,
		cfg:       cfg,
		parser:    parser.New(),
		chunker:   chunk.New(counter, maxTokens),
		counter:   counter,
		maxTokens: maxTokens,
	}
}

// ID returns the plugin identifier.
func (p *TreeSitter) ID() string { return "lang-" + p.language }

// Describe returns the registry row.
func (p *TreeSitter) Describe() Descriptor {
	d := Descriptor{ID: p.ID()}
	if p.cfg != nil {
		d.Extensions = append(d.Extensions, p.cfg.Extensions...)
	}
	switch p.language {
	case "python":
		d.Sniff = func(head []byte) bool { return shebangIs(head, "python") }
	case "javascript":
		d.Sniff = func(head []byte) bool { return shebangIs(head, "node") }
	}
	return d
}

// Supports reports whether the plugin claims the path.
func (p *TreeSitter) Supports(path string) bool {
	if p.cfg == nil {
		return false
	}
	_, ok := matchExt(p.cfg.Extensions, path)
	return ok
}

// Index parses the file and produces symbols plus chunks. Parse failures
// degrade to line-based chunks with fallback quality; a recovered tree
// with syntax errors reports partial quality.
func (p *TreeSitter) Index(ctx context.Context, path string, data []byte) (*Shard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := buildFileMeta(path, p.language, data)
	shard := &Shard{PluginID: p.ID(), File: meta, Quality: QualityFull}

	if len(data) == 0 {
		return shard, nil
	}

	tree, err := p.parser.Parse(ctx, data, p.language)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("parse_failed",
			slog.String("plugin", p.ID()),
			slog.String("path", path),
			slog.String("error", err.Error()))
		shard.Quality = QualityFallback
		shard.Chunks = chunk.ChunkLines(p.counter, p.maxTokens, p.language, data, meta.Fingerprint, chunk.TypeCode)
		return shard, nil
	}
	if tree.HasError {
		shard.Quality = QualityPartial
	}

	ext := newExtractor(p.cfg, p.counter, path, tree)
	shard.Symbols = ext.symbols()
	shard.Imports = ext.imports()
	shard.Chunks = p.chunker.ChunkTree(tree, p.cfg, meta.Fingerprint, ext)

	return shard, nil
}

// extractor walks one parse tree collecting symbols. It doubles as the
// chunker's Resolver so container chunks get the same identity the symbol
// table records.
type extractor struct {
	cfg     *parser.LanguageConfig
	counter *token.Counter
	path    string
	tree    *parser.Tree

	syms    []*chunk.Symbol
	imps    []string
	resolve map[*parser.Node]*chunk.SymbolInfo
	walked  bool
}

func newExtractor(cfg *parser.LanguageConfig, counter *token.Counter, path string, tree *parser.Tree) *extractor {
	return &extractor{
		cfg:     cfg,
		counter: counter,
		path:    path,
		tree:    tree,
		resolve: make(map[*parser.Node]*chunk.SymbolInfo),
	}
}

// Resolve implements chunk.Resolver.
func (e *extractor) Resolve(n *parser.Node) *chunk.SymbolInfo {
	e.ensureWalked()
	return e.resolve[n]
}

func (e *extractor) symbols() []*chunk.Symbol {
	e.ensureWalked()
	return e.syms
}

func (e *extractor) imports() []string {
	e.ensureWalked()
	return e.imps
}

func (e *extractor) ensureWalked() {
	if e.walked {
		return
	}
	e.walked = true
	e.walkScope(e.tree.Root, "", "")
}

// scopeKinds are symbol kinds that qualify the names of nested symbols.
func isScopeKind(kind string) bool {
	switch kind {
	case "class", "interface", "struct", "enum", "namespace":
		return true
	}
	return false
}

// walkScope traverses nodes, emitting symbols and descending with the
// current qualified scope.
func (e *extractor) walkScope(n *parser.Node, scope, scopeKind string) {
	for _, child := range n.Children {
		if e.isImport(child) {
			e.imps = append(e.imps, collapseSpace(child.Content(e.tree.Source)))
			continue
		}

		kind, declares := e.cfg.SymbolNodes[child.Type]
		if !declares {
			e.walkScope(child, scope, scopeKind)
			continue
		}

		if scope != "" {
			if override, ok := e.cfg.NestedSymbolKind[child.Type]; ok {
				kind = override
			}
		}

		switch child.Type {
		case "method_declaration":
			// Go methods qualify under their receiver type.
			if recv := e.goReceiverType(child); recv != "" && scope == "" {
				if name := e.nodeName(child); name != "" {
					e.emit(child, name, kind, recv)
				}
				continue
			}
		case "type_declaration":
			e.emitGoTypeSpecs(child, scope)
			continue
		case "const_declaration", "var_declaration":
			e.emitGoValueSpecs(child, kind, scope)
			continue
		case "lexical_declaration", "variable_declaration":
			e.emitDeclarators(child, kind, scope)
			continue
		}

		name := e.nodeName(child)
		if name == "" {
			e.walkScope(child, scope, scopeKind)
			continue
		}

		sym := e.emit(child, name, kind, scope)
		if isScopeKind(kind) {
			e.walkScope(child, sym.QualifiedName, kind)
		}
	}
}

func (e *extractor) isImport(n *parser.Node) bool {
	for _, t := range e.cfg.ImportTypes {
		if n.Type == t {
			return true
		}
	}
	return false
}

// emit records one symbol and its resolver entry.
func (e *extractor) emit(n *parser.Node, name, kind, scope string) *chunk.Symbol {
	qualified := name
	if scope != "" {
		qualified = scope + "." + name
	}

	sig := e.signature(n)
	params := e.paramTypes(n)
	content := n.Content(e.tree.Source)

	sym := &chunk.Symbol{
		Name:          name,
		QualifiedName: qualified,
		Kind:          kind,
		StartLine:     n.StartLine(),
		EndLine:       n.EndLine(),
		StartColumn:   int(n.StartPoint.Column) + 1,
		Signature:     sig,
		Parent:        scope,
		Visibility:    e.visibility(name),
		Docstring:     e.docstring(n),
		TokenCount:    e.counter.Count(content),
		SymbolHash:    ids.SymbolHash(qualified, kind),
		DefinitionID:  ids.DefinitionID(kind, qualified, params),
	}
	e.syms = append(e.syms, sym)

	e.resolve[n] = &chunk.SymbolInfo{
		QualifiedName: qualified,
		Kind:          kind,
		Signature:     sig,
		ParamTypes:    params,
	}
	return sym
}

// emitGoTypeSpecs expands a Go type_declaration into struct, interface, and
// type-alias symbols.
func (e *extractor) emitGoTypeSpecs(decl *parser.Node, scope string) {
	specs := decl.FindChildrenByType("type_spec")
	specs = append(specs, decl.FindChildrenByType("type_alias")...)
	for _, spec := range specs {
		nameNode := spec.ChildByField("name")
		if nameNode == nil {
			continue
		}
		kind := "type-alias"
		if typeNode := spec.ChildByField("type"); typeNode != nil {
			switch typeNode.Type {
			case "struct_type":
				kind = "struct"
			case "interface_type":
				kind = "interface"
			}
		}
		e.emit(spec, nameNode.Content(e.tree.Source), kind, scope)
	}
	if len(specs) > 0 {
		// The declaration chunk answers for its first named type.
		first := e.resolve[specs[0]]
		if first != nil {
			e.resolve[decl] = first
		}
	}
}

// emitGoValueSpecs expands const/var declarations into one symbol per name.
func (e *extractor) emitGoValueSpecs(decl *parser.Node, kind, scope string) {
	for _, specType := range []string{"const_spec", "var_spec"} {
		for _, spec := range decl.FindChildrenByType(specType) {
			for _, id := range spec.FindChildrenByType("identifier") {
				if id.FieldName != "name" {
					continue
				}
				e.emit(spec, id.Content(e.tree.Source), kind, scope)
			}
		}
	}
}

// emitDeclarators expands JS/TS lexical and var declarations. Arrow
// functions and function expressions are functions, not constants.
func (e *extractor) emitDeclarators(decl *parser.Node, kind, scope string) {
	for _, d := range decl.FindChildrenByType("variable_declarator") {
		nameNode := d.ChildByField("name")
		if nameNode == nil {
			continue
		}
		symKind := kind
		if value := d.ChildByField("value"); value != nil {
			switch value.Type {
			case "arrow_function", "function_expression", "function":
				symKind = "function"
			}
		}
		e.emit(d, nameNode.Content(e.tree.Source), symKind, scope)
	}
}

// goReceiverType returns the bare receiver type of a Go method.
func (e *extractor) goReceiverType(n *parser.Node) string {
	recv := n.ChildByField("receiver")
	if recv == nil {
		return ""
	}
	var typeName string
	recv.Walk(func(node *parser.Node) bool {
		if node.Type == "type_identifier" && typeName == "" {
			typeName = node.Content(e.tree.Source)
			return false
		}
		return true
	})
	return typeName
}

// nodeName extracts the declared name of a node.
func (e *extractor) nodeName(n *parser.Node) string {
	if name := n.ChildByField("name"); name != nil {
		return name.Content(e.tree.Source)
	}
	for _, t := range []string{"identifier", "type_identifier", "field_identifier", "property_identifier"} {
		if id := n.FindChildByType(t); id != nil {
			return id.Content(e.tree.Source)
		}
	}
	return ""
}

// signature is the declaration text up to the body, collapsed to one line.
func (e *extractor) signature(n *parser.Node) string {
	if body := n.ChildByField("body"); body != nil && body.StartByte > n.StartByte {
		return collapseSpace(string(e.tree.Source[n.StartByte:body.StartByte]))
	}
	content := n.Content(e.tree.Source)
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	return collapseSpace(content)
}

// paramTypes returns the normalized parameter list for DefinitionID.
// The whole normalized list is one element: the digest only needs to be
// stable and to change when parameter types change.
func (e *extractor) paramTypes(n *parser.Node) []string {
	params := n.ChildByField("parameters")
	if params == nil {
		return nil
	}
	return []string{collapseSpace(params.Content(e.tree.Source))}
}

// visibility derives visibility from naming conventions where the language
// has them.
func (e *extractor) visibility(name string) string {
	if name == "" {
		return ""
	}
	switch e.tree.Language {
	case "go":
		r := []rune(name)[0]
		if unicode.IsUpper(r) {
			return "public"
		}
		return "private"
	case "python":
		if strings.HasPrefix(name, "_") {
			return "private"
		}
		return "public"
	default:
		return ""
	}
}

// docstring collects the comment block attached to a declaration: for
// Python, the leading string of the body; otherwise the comment lines
// directly above with no blank line between.
func (e *extractor) docstring(n *parser.Node) string {
	if e.tree.Language == "python" {
		if doc := pythonDocstring(n, e.tree.Source); doc != "" {
			return doc
		}
	}
	return precedingComment(n, e.tree.Source, e.tree.Language)
}

// pythonDocstring returns the first string expression of a body block.
func pythonDocstring(n *parser.Node, source []byte) string {
	body := n.ChildByField("body")
	if body == nil || len(body.Children) == 0 {
		return ""
	}
	first := body.Children[0]
	if first.Type != "expression_statement" {
		return ""
	}
	str := first.FindChildByType("string")
	if str == nil {
		return ""
	}
	text := str.Content(source)
	text = strings.Trim(text, "\"'")
	return strings.TrimSpace(text)
}

// precedingComment walks line by line above the declaration collecting
// contiguous comment lines.
func precedingComment(n *parser.Node, source []byte, language string) string {
	prefixes := map[string][]string{
		"go":         {"//"},
		"javascript": {"//", "*", "/*"},
		"jsx":        {"//", "*", "/*"},
		"typescript": {"//", "*", "/*"},
		"tsx":        {"//", "*", "/*"},
		"python":     {"#"},
	}[language]
	if len(prefixes) == 0 {
		return ""
	}

	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	var lines []string
	pos := lineStart
	for pos > 0 {
		prevEnd := pos - 1 // the newline
		prevStart := prevEnd
		for prevStart > 0 && source[prevStart-1] != '\n' {
			prevStart--
		}
		line := strings.TrimSpace(string(source[prevStart:prevEnd]))
		matched := false
		for _, p := range prefixes {
			if strings.HasPrefix(line, p) {
				trimmed := strings.TrimPrefix(line, p)
				lines = append([]string{strings.TrimSpace(trimmed)}, lines...)
				matched = true
				break
			}
		}
		if !matched {
			break
		}
		pos = prevStart
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// collapseSpace normalizes all whitespace runs to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
