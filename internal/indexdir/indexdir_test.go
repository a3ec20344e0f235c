package indexdir

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverCreatesLocalDir(t *testing.T) {
	repo := t.TempDir()

	l, err := Discover(repo, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, LocalDirName), l.Dir)

	info, err := os.Stat(l.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDiscoverPrefersExistingMetadata(t *testing.T) {
	repo := t.TempDir()
	explicit := t.TempDir()

	// Seed the explicit path with valid metadata; the local dir has none.
	el := &Layout{Dir: explicit}
	require.NoError(t, el.WriteMetadata(&Metadata{
		RepositoryID: "abc123", RootPath: repo, SchemaVersion: 3, CreatedAt: time.Now(),
	}))

	l, err := Discover(repo, explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, l.Dir)
}

func TestDiscoverLocalWinsOverExplicit(t *testing.T) {
	repo := t.TempDir()
	explicit := t.TempDir()

	local := &Layout{Dir: filepath.Join(repo, LocalDirName)}
	require.NoError(t, os.MkdirAll(local.Dir, 0o755))
	require.NoError(t, local.WriteMetadata(&Metadata{RepositoryID: "local", SchemaVersion: 3}))

	el := &Layout{Dir: explicit}
	require.NoError(t, el.WriteMetadata(&Metadata{RepositoryID: "explicit", SchemaVersion: 3}))

	l, err := Discover(repo, explicit)
	require.NoError(t, err)
	assert.Equal(t, local.Dir, l.Dir)
}

func TestMetadataRoundTrip(t *testing.T) {
	l := &Layout{Dir: t.TempDir()}

	want := &Metadata{
		RepositoryID:  "r1",
		RootPath:      "/src/demo",
		SchemaVersion: 3,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		FileCount:     10,
		SymbolCount:   120,
		ChunkCount:    300,
		TokenizerName: "cl100k_base",
	}
	require.NoError(t, l.WriteMetadata(want))

	got, err := l.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, want.RepositoryID, got.RepositoryID)
	assert.Equal(t, want.ChunkCount, got.ChunkCount)
	assert.Equal(t, want.TokenizerName, got.TokenizerName)
}

func TestReadMetadataCorrupt(t *testing.T) {
	l := &Layout{Dir: t.TempDir()}
	require.NoError(t, os.WriteFile(filepath.Join(l.Dir, MetadataFile), []byte("{not json"), 0o644))

	_, err := l.ReadMetadata()
	assert.Error(t, err)
}

func TestAppendMoveIsAppendOnly(t *testing.T) {
	l := &Layout{Dir: t.TempDir()}
	now := time.Now()

	require.NoError(t, l.AppendMove("a.py", "b.py", "h1", "rename", now))
	require.NoError(t, l.AppendMove("b.py", "c/b.py", "h1", "relocate", now))

	data, err := os.ReadFile(l.MovesLogPath())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a.py", first["old_path"])
	assert.Equal(t, "rename", first["move_type"])
}

func TestLockExcludesSecondWriter(t *testing.T) {
	dir := t.TempDir()

	a := &Layout{Dir: dir}
	require.NoError(t, a.Acquire())
	t.Cleanup(func() { _ = a.Release() })

	b := &Layout{Dir: dir}
	err := b.Acquire()
	assert.Error(t, err, "second writer must fail fast")

	require.NoError(t, a.Release())
	assert.NoError(t, b.Acquire())
	_ = b.Release()
}

func TestLayoutPaths(t *testing.T) {
	l := &Layout{Dir: "/idx"}
	assert.Equal(t, filepath.Join("/idx", "current.db"), l.DatabasePath())
	assert.Equal(t, filepath.Join("/idx", "embeddings", "vectors.hnsw"), l.VectorIndexPath())
	assert.Equal(t, filepath.Join("/idx", ".moves.log"), l.MovesLogPath())
}
