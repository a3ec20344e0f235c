package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicPatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		isDir   bool
		want    bool
	}{
		{"exact name", "secret.txt", "secret.txt", false, true},
		{"name anywhere", "secret.txt", "deep/nested/secret.txt", false, true},
		{"extension glob", "*.log", "build/output.log", false, true},
		{"glob no match", "*.log", "output.log.bak", false, false},
		{"question mark", "file?.go", "file1.go", false, true},
		{"char class", "file[0-9].go", "file7.go", false, true},
		{"no match", "*.tmp", "main.go", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewWithPatterns([]string{tt.pattern})
			assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestDirectoryOnlyPatterns(t *testing.T) {
	m := NewWithPatterns([]string{"node_modules/"})

	assert.True(t, m.Match("node_modules", true))
	assert.True(t, m.Match("node_modules/react/index.js", false))
	assert.True(t, m.Match("web/node_modules/lodash.js", false))
	assert.False(t, m.Match("node_modules", false)) // plain file, not dir
}

func TestAnchoredPatterns(t *testing.T) {
	m := NewWithPatterns([]string{"/build"})
	assert.True(t, m.Match("build", false))
	assert.False(t, m.Match("src/build", false))

	// Interior slash anchors to the root too.
	m2 := NewWithPatterns([]string{"doc/frotz"})
	assert.True(t, m2.Match("doc/frotz", false))
	assert.False(t, m2.Match("a/doc/frotz", false))
}

func TestDoubleStarPatterns(t *testing.T) {
	m := NewWithPatterns([]string{"**/dist/**"})
	assert.True(t, m.Match("dist/app.js", false))
	assert.True(t, m.Match("web/dist/app.js", false))
	assert.False(t, m.Match("distribution/app.js", false))
}

func TestNegation(t *testing.T) {
	m := NewWithPatterns([]string{"*.log", "!keep.log"})
	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("keep.log", false))

	// Order matters: later rules win.
	m2 := NewWithPatterns([]string{"!keep.log", "*.log"})
	assert.True(t, m2.Match("keep.log", false))
}

func TestCommentsAndBlanksSkipped(t *testing.T) {
	m := NewWithPatterns([]string{"", "# a comment", "*.log"})
	assert.True(t, m.Match("x.log", false))
	assert.False(t, m.Match("# a comment", false))
}

func TestEscapedHash(t *testing.T) {
	m := NewWithPatterns([]string{`\#literal`})
	assert.True(t, m.Match("#literal", false))
}

func TestNestedBase(t *testing.T) {
	m := New()
	m.AddPatternWithBase("*.gen.go", "internal/api")

	assert.True(t, m.Match("internal/api/types.gen.go", false))
	assert.False(t, m.Match("internal/core/types.gen.go", false))
}

func TestAddFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("vendor/\n*.exe\n"), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(path, ""))

	assert.True(t, m.Match("vendor/pkg/a.go", false))
	assert.True(t, m.Match("bin/tool.exe", false))
	assert.False(t, m.Match("main.go", false))
}
