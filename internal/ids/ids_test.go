package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("def find_by_email(self, email):\n    return None")
	b := ChunkID("def find_by_email(self, email):\n    return None")
	assert.Equal(t, a, b)
	assert.Len(t, a, digestLen)
}

func TestChunkIDIgnoresInsignificantWhitespace(t *testing.T) {
	a := ChunkID("x :=  1  \n")
	b := ChunkID("x := 1\n")
	assert.Equal(t, a, b)

	// Leading indentation is significant.
	c := ChunkID("    x := 1\n")
	assert.NotEqual(t, a, c)
}

func TestChunkIDIsPathIndependent(t *testing.T) {
	// Content-addressed: the same bytes produce the same ID wherever the
	// file lives, which is what keeps chunk ids stable across renames.
	content := "func helper() {}"
	assert.Equal(t, ChunkID(content), ChunkID(content))
	assert.NotEqual(t, ChunkID(content), ChunkID("func helper() { return }"))
}

func TestNodeIDUsesTreePath(t *testing.T) {
	a := NodeID([]string{"module", "class_definition"}, "function_definition")
	b := NodeID([]string{"module"}, "function_definition")
	assert.NotEqual(t, a, b)

	// Joining must not be ambiguous between path elements and node type.
	c := NodeID([]string{"module", "class_definition", "function_definition"}, "")
	assert.NotEqual(t, a, c)
}

func TestFileFingerprintNormalizesLineEndings(t *testing.T) {
	unix := FileFingerprint([]byte("a\nb\n"))
	dos := FileFingerprint([]byte("a\r\nb\r\n"))
	mac := FileFingerprint([]byte("a\rb\r"))
	assert.Equal(t, unix, dos)
	assert.Equal(t, unix, mac)
}

func TestContentHashIsByteExact(t *testing.T) {
	assert.NotEqual(t, ContentHash([]byte("a\nb")), ContentHash([]byte("a\r\nb")))
	assert.Len(t, ContentHash([]byte("x")), 64)
}

func TestSymbolHashStableAcrossBodyEdits(t *testing.T) {
	// The symbol hash depends only on qualified name and kind.
	a := SymbolHash("UserService", "class")
	b := SymbolHash("UserService", "class")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, SymbolHash("UserService", "interface"))
	assert.NotEqual(t, a, SymbolHash("UserService.authenticate", "method"))
}

func TestDefinitionIDSignatureOnly(t *testing.T) {
	a := DefinitionID("method", "authenticate", []string{"str", "str"})
	b := DefinitionID("method", "authenticate", []string{"str", "str"})
	assert.Equal(t, a, b)

	// Parameter type changes produce a new definition.
	c := DefinitionID("method", "authenticate", []string{"str"})
	assert.NotEqual(t, a, c)
}

func TestRepositoryIDCanonicalizesPath(t *testing.T) {
	assert.Equal(t, RepositoryID("/home/u/proj"), RepositoryID("/home/u/proj/"))
	assert.Equal(t, RepositoryID("/home/u/proj"), RepositoryID("/home/u/./proj"))
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing space", "x := 1   ", "x := 1"},
		{"inner runs", "a\t\tb  c", "a b c"},
		{"indent preserved", "\tif x:\n\t\treturn", "\tif x:\n\t\treturn"},
		{"crlf trimmed", "line\r", "line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeContent(tt.in))
		})
	}
}
