package plugin

import (
	"context"
	"regexp"
	"strings"

	"github.com/Aman-CERP/codescout/internal/chunk"
	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/token"
)

// regexRule describes one regex-driven dialect: how to spot declarations in
// a language tree-sitter has no grammar for here.
type regexRule struct {
	language   string
	extensions []string
	filenames  []string
	sniff      func(head []byte) bool
	// symbol matches a declaration line; first capture group is the name.
	symbol *regexp.Regexp
	kind   string
}

var regexRules = map[string]regexRule{
	"asm": {
		language:   "asm",
		extensions: []string{".s", ".asm", ".nasm"},
		// Labels at column zero: "main:", "_start:".
		symbol: regexp.MustCompile(`^([A-Za-z_.$][\w.$]*):`),
		kind:   "function",
	},
	"shell": {
		language:   "shell",
		extensions: []string{".sh", ".bash", ".zsh"},
		sniff:      func(head []byte) bool { return shebangIs(head, "sh", "bash", "zsh") },
		// "name() {" and "function name {" forms.
		symbol: regexp.MustCompile(`^\s*(?:function\s+)?([A-Za-z_][\w]*)\s*\(\)\s*\{|^\s*function\s+([A-Za-z_][\w]*)\s*\{`),
		kind:   "function",
	},
}

// Regex is the regex-driven plugin variant for grammarless languages.
// Symbols come from line patterns; chunks are token-budget line runs.
type Regex struct {
	rule      regexRule
	counter   *token.Counter
	maxTokens int
}

// NewRegex creates the plugin for a named regex dialect.
func NewRegex(dialect string, counter *token.Counter, maxTokens int) *Regex {
	if maxTokens <= 0 {
		maxTokens = chunk.DefaultMaxTokens
	}
	return &Regex{rule: regexRules[dialect], counter: counter, maxTokens: maxTokens}
}

func (p *Regex) ID() string { return "regex-" + p.rule.language }

func (p *Regex) Describe() Descriptor {
	return Descriptor{
		ID:         p.ID(),
		Extensions: p.rule.extensions,
		Filenames:  p.rule.filenames,
		Sniff:      p.rule.sniff,
	}
}

func (p *Regex) Supports(path string) bool {
	_, ok := matchExt(p.rule.extensions, path)
	return ok
}

// Index extracts symbols by line pattern and chunks by budget. Regex
// extraction recovers less structure than a grammar, so the shard reports
// partial quality.
func (p *Regex) Index(ctx context.Context, path string, data []byte) (*Shard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := buildFileMeta(path, p.rule.language, data)
	shard := &Shard{PluginID: p.ID(), File: meta, Quality: QualityPartial}
	if len(data) == 0 {
		return shard, nil
	}

	lines := strings.Split(string(data), "\n")
	var prevName string
	var prevLine int

	closeSymbol := func(endLine int) {
		if prevName == "" {
			return
		}
		qualified := prevName
		shard.Symbols = append(shard.Symbols, &chunk.Symbol{
			Name:          prevName,
			QualifiedName: qualified,
			Kind:          p.rule.kind,
			StartLine:     prevLine,
			EndLine:       endLine,
			StartColumn:   1,
			SymbolHash:    ids.SymbolHash(qualified, p.rule.kind),
			DefinitionID:  ids.DefinitionID(p.rule.kind, qualified, nil),
		})
		prevName = ""
	}

	for i, line := range lines {
		m := p.rule.symbol.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := firstGroup(m)
		if name == "" {
			continue
		}
		closeSymbol(i) // previous symbol ends on the line before this one
		prevName = name
		prevLine = i + 1
	}
	closeSymbol(len(lines))

	shard.Chunks = chunk.ChunkLines(p.counter, p.maxTokens, p.rule.language, data, meta.Fingerprint, chunk.TypeCode)
	return shard, nil
}

// firstGroup returns the first non-empty capture group.
func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
