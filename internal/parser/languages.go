package parser

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig declares how one grammar maps onto the engine's model:
// which node types declare symbols (and of what kind), which node types are
// chunking containers, and how imports and comments are recognized.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// SymbolNodes maps declaration node types to symbol kinds
	// (function, method, class, interface, struct, enum, constant,
	// variable, type-alias, ...).
	SymbolNodes map[string]string

	// ContainerTypes are node types the chunker treats as containers:
	// one chunk when within budget, header + recursion when over.
	ContainerTypes []string

	// ImportTypes are node types recording imports.
	ImportTypes []string

	// CommentTypes are node types carrying comments.
	CommentTypes []string

	// NestedSymbolKind overrides the kind of a symbol node found inside a
	// class-like container (Python defs become methods).
	NestedSymbolKind map[string]string
}

// IsContainer reports whether a node type is a chunking container.
func (c *LanguageConfig) IsContainer(nodeType string) bool {
	for _, t := range c.ContainerTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

// IsComment reports whether a node type is a comment.
func (c *LanguageConfig) IsComment(nodeType string) bool {
	for _, t := range c.CommentTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

// Registry manages supported languages.
type Registry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewRegistry creates a registry with the default language set.
func NewRegistry() *Registry {
	r := &Registry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.registerGo()
	r.registerPython()
	r.registerJavaScript()
	r.registerTypeScript()

	return r
}

// ByExtension returns the language config for a file extension.
func (r *Registry) ByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	lang, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	cfg, ok := r.configs[lang]
	return cfg, ok
}

// ByName returns the language config by language name.
func (r *Registry) ByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// TreeSitterLanguage returns the grammar for a language name.
func (r *Registry) TreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// Extensions returns all registered file extensions.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

func (r *Registry) register(cfg *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[cfg.Name] = cfg
	r.tsLanguages[cfg.Name] = tsLang
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

func (r *Registry) registerGo() {
	cfg := &LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		SymbolNodes: map[string]string{
			"function_declaration": "function",
			"method_declaration":   "method",
			"type_declaration":     "type-alias",
			"const_declaration":    "constant",
			"var_declaration":      "variable",
		},
		ContainerTypes: []string{
			"function_declaration",
			"method_declaration",
			"type_declaration",
		},
		ImportTypes:  []string{"import_declaration"},
		CommentTypes: []string{"comment"},
	}
	r.register(cfg, golang.GetLanguage())
}

func (r *Registry) registerPython() {
	cfg := &LanguageConfig{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		SymbolNodes: map[string]string{
			"function_definition": "function",
			"class_definition":    "class",
		},
		ContainerTypes: []string{
			"function_definition",
			"class_definition",
		},
		ImportTypes:  []string{"import_statement", "import_from_statement"},
		CommentTypes: []string{"comment"},
		NestedSymbolKind: map[string]string{
			"function_definition": "method",
		},
	}
	r.register(cfg, python.GetLanguage())
}

func (r *Registry) registerJavaScript() {
	jsCfg := &LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs", ".cjs"},
		SymbolNodes: map[string]string{
			"function_declaration": "function",
			"method_definition":    "method",
			"class_declaration":    "class",
			"lexical_declaration":  "constant",
			"variable_declaration": "variable",
		},
		ContainerTypes: []string{
			"function_declaration",
			"class_declaration",
			"method_definition",
		},
		ImportTypes:  []string{"import_statement"},
		CommentTypes: []string{"comment"},
	}
	r.register(jsCfg, javascript.GetLanguage())

	// JSX shares the JavaScript grammar.
	jsxCfg := *jsCfg
	jsxCfg.Name = "jsx"
	jsxCfg.Extensions = []string{".jsx"}
	r.register(&jsxCfg, javascript.GetLanguage())
}

func (r *Registry) registerTypeScript() {
	tsCfg := &LanguageConfig{
		Name:       "typescript",
		Extensions: []string{".ts", ".mts", ".cts"},
		SymbolNodes: map[string]string{
			"function_declaration":   "function",
			"method_definition":      "method",
			"class_declaration":      "class",
			"interface_declaration":  "interface",
			"enum_declaration":       "enum",
			"type_alias_declaration": "type-alias",
			"lexical_declaration":    "constant",
			"variable_declaration":   "variable",
			"module":                 "namespace",
		},
		ContainerTypes: []string{
			"function_declaration",
			"class_declaration",
			"interface_declaration",
			"method_definition",
			"enum_declaration",
		},
		ImportTypes:  []string{"import_statement"},
		CommentTypes: []string{"comment"},
	}
	r.register(tsCfg, typescript.GetLanguage())

	tsxCfg := *tsCfg
	tsxCfg.Name = "tsx"
	tsxCfg.Extensions = []string{".tsx"}
	r.register(&tsxCfg, tsx.GetLanguage())
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide language registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
