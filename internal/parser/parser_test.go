package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSample = `package demo

// Greet says hello.
func Greet(name string) string {
	return "hello " + name
}
`

func TestParseGo(t *testing.T) {
	p := New()
	defer p.Close()

	tree, err := p.Parse(context.Background(), []byte(goSample), "go")
	require.NoError(t, err)
	require.NotNil(t, tree.Root)
	assert.False(t, tree.HasError)

	fn := tree.Root.FindChildByType("function_declaration")
	require.NotNil(t, fn)
	assert.Equal(t, 4, fn.StartLine())

	name := fn.ChildByField("name")
	require.NotNil(t, name)
	assert.Equal(t, "Greet", name.Content(tree.Source))
}

func TestParseUnsupportedLanguage(t *testing.T) {
	p := New()
	defer p.Close()

	_, err := p.Parse(context.Background(), []byte("x"), "cobol")
	assert.Error(t, err)
}

func TestWalkOrder(t *testing.T) {
	p := New()
	defer p.Close()

	tree, err := p.Parse(context.Background(), []byte(goSample), "go")
	require.NoError(t, err)

	var types []string
	tree.Root.Walk(func(n *Node) bool {
		types = append(types, n.Type)
		return len(types) < 50
	})
	assert.Contains(t, types, "package_clause")
	assert.Contains(t, types, "function_declaration")
}

func TestRegistryLookups(t *testing.T) {
	r := DefaultRegistry()

	cfg, ok := r.ByExtension(".py")
	require.True(t, ok)
	assert.Equal(t, "python", cfg.Name)
	assert.True(t, cfg.IsContainer("class_definition"))
	assert.True(t, cfg.IsComment("comment"))
	assert.Equal(t, "method", cfg.NestedSymbolKind["function_definition"])

	// Extension normalization.
	cfg2, ok := r.ByExtension("GO")
	require.True(t, ok)
	assert.Equal(t, "go", cfg2.Name)

	_, ok = r.ByExtension(".zig")
	assert.False(t, ok)
}

func TestTypeScriptKinds(t *testing.T) {
	cfg, ok := DefaultRegistry().ByName("typescript")
	require.True(t, ok)
	assert.Equal(t, "interface", cfg.SymbolNodes["interface_declaration"])
	assert.Equal(t, "enum", cfg.SymbolNodes["enum_declaration"])
	assert.Equal(t, "type-alias", cfg.SymbolNodes["type_alias_declaration"])
}
