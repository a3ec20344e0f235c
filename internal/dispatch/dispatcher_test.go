package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codescout/internal/chunk"
	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/plugin"
	"github.com/Aman-CERP/codescout/internal/store"
	"github.com/Aman-CERP/codescout/internal/token"
)

// testEnv wires an in-memory storage stack around a dispatcher.
type testEnv struct {
	d       *Dispatcher
	db      *store.DB
	lexical store.LexicalIndex
	repoID  string
	root    string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	db, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	lexical, err := store.NewFTS5Index("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	counter := token.NewCounter("")
	registry := plugin.NewRegistry(counter, 512)

	root := t.TempDir()
	repoID := ids.RepositoryID(root)
	require.NoError(t, db.UpsertRepository(context.Background(), &store.Repository{
		ID: repoID, RootPath: root, CreatedAt: time.Now(),
	}))

	return &testEnv{
		d:       New(registry, db, lexical, nil, nil, counter, opts),
		db:      db,
		lexical: lexical,
		repoID:  repoID,
		root:    root,
	}
}

func (e *testEnv) write(t *testing.T, relPath, content string) {
	t.Helper()
	abs := filepath.Join(e.root, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

const pyFile = `class UserService:
    def find_by_email(self, email):
        return self.db.get(email)
`

func TestIndexRepoEndToEnd(t *testing.T) {
	e := newTestEnv(t, Options{})
	ctx := context.Background()

	e.write(t, "lib/user.py", pyFile)
	e.write(t, "README.md", "# Demo\n\nA demo repo.\n")
	e.write(t, "data.bin", "\x00\x01\x02 opaque")

	stats, err := e.d.IndexRepo(ctx, e.repoID, e.root, NewScanner(nil))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 0, stats.Failed)

	// Symbols landed.
	locs, err := e.db.LookupSymbol(ctx, e.repoID, "UserService", "class", 5)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "lib/user.py", locs[0].FilePath)

	// Lexical search reaches all three files, including the raw one.
	results, err := e.lexical.Search(ctx, "opaque", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestIndexingIsIdempotent(t *testing.T) {
	e := newTestEnv(t, Options{})
	ctx := context.Background()

	e.write(t, "lib/user.py", pyFile)

	_, err := e.d.IndexRepo(ctx, e.repoID, e.root, NewScanner(nil))
	require.NoError(t, err)
	counts1, err := e.db.Counts(ctx, e.repoID)
	require.NoError(t, err)
	snap1, err := e.db.SnapshotID(ctx)
	require.NoError(t, err)

	_, err = e.d.IndexRepo(ctx, e.repoID, e.root, NewScanner(nil))
	require.NoError(t, err)
	counts2, err := e.db.Counts(ctx, e.repoID)
	require.NoError(t, err)

	assert.Equal(t, counts1, counts2, "re-indexing unchanged files must not change row counts")
	assert.Len(t, mustAllIDs(t, e.lexical), counts2.Chunks)

	snap2, err := e.db.SnapshotID(ctx)
	require.NoError(t, err)
	assert.Greater(t, snap2, snap1) // commits still happened
}

func mustAllIDs(t *testing.T, idx store.LexicalIndex) []string {
	t.Helper()
	ids, err := idx.AllIDs()
	require.NoError(t, err)
	return ids
}

func TestOversizedFileIndexesRaw(t *testing.T) {
	e := newTestEnv(t, Options{MaxFileSize: 64})
	ctx := context.Background()

	e.write(t, "big.py", strings.Repeat("x = 1\n", 100))
	require.NoError(t, e.d.IndexFile(ctx, e.repoID, e.root, "big.py"))

	f, err := e.db.GetFileByPath(ctx, e.repoID, "big.py")
	require.NoError(t, err)
	chunks, err := e.db.ChunksByFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, chunk.TypeRaw, chunks[0].Type)

	// No structured symbols from a raw fallback.
	locs, err := e.db.LookupSymbol(ctx, e.repoID, "x", "", 5)
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestEmptyFileGetsOneRawChunk(t *testing.T) {
	e := newTestEnv(t, Options{})
	ctx := context.Background()

	e.write(t, "empty.py", "")
	require.NoError(t, e.d.IndexFile(ctx, e.repoID, e.root, "empty.py"))

	f, err := e.db.GetFileByPath(ctx, e.repoID, "empty.py")
	require.NoError(t, err)
	assert.Equal(t, "python", f.Language, "language still detects from the extension")

	chunks, err := e.db.ChunksByFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, chunk.TypeRaw, chunks[0].Type)

	locs, err := e.db.LookupSymbol(ctx, e.repoID, "empty", "", 5)
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestPluginTimeoutDegradesToRaw(t *testing.T) {
	e := newTestEnv(t, Options{PluginTimeout: time.Nanosecond})
	ctx := context.Background()

	e.write(t, "lib/user.py", pyFile)
	require.NoError(t, e.d.IndexFile(ctx, e.repoID, e.root, "lib/user.py"))

	f, err := e.db.GetFileByPath(ctx, e.repoID, "lib/user.py")
	require.NoError(t, err)
	chunks, err := e.db.ChunksByFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, chunk.TypeRaw, chunks[0].Type)

	// Still lexically searchable by substring.
	results, err := e.lexical.Search(ctx, "find_by_email", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestReindexAfterRenameKeepsChunkIDs(t *testing.T) {
	// After a detected move, the first re-index at the new path must see
	// an unchanged chunk set: chunk ids are content-addressed, and the
	// file identity resolves through the renamed row.
	e := newTestEnv(t, Options{})
	ctx := context.Background()

	e.write(t, "lib/a.py", pyFile)
	require.NoError(t, e.d.IndexFile(ctx, e.repoID, e.root, "lib/a.py"))

	before, err := e.db.GetFileByPath(ctx, e.repoID, "lib/a.py")
	require.NoError(t, err)
	beforeChunks, err := e.db.ChunksByFile(ctx, before.ID)
	require.NoError(t, err)
	beforeIDs := mustAllIDs(t, e.lexical)

	// Move on disk, record the move, then re-index at the new path the
	// way a watcher-driven modify would.
	e.write(t, "lib/sub/a.py", pyFile)
	require.NoError(t, os.Remove(filepath.Join(e.root, "lib", "a.py")))
	require.NoError(t, e.d.RenameFile(ctx, e.repoID, "lib/a.py", "lib/sub/a.py", "relocate"))
	require.NoError(t, e.d.IndexFile(ctx, e.repoID, e.root, "lib/sub/a.py"))

	after, err := e.db.GetFileByPath(ctx, e.repoID, "lib/sub/a.py")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "file identity survives the move")

	afterChunks, err := e.db.ChunksByFile(ctx, after.ID)
	require.NoError(t, err)
	require.Equal(t, len(beforeChunks), len(afterChunks))
	for i := range beforeChunks {
		assert.Equal(t, beforeChunks[i].ChunkID, afterChunks[i].ChunkID,
			"unchanged bytes keep their chunk ids across a rename")
	}
	assert.ElementsMatch(t, beforeIDs, mustAllIDs(t, e.lexical))
}

func TestDeleteFilePurgesIndexes(t *testing.T) {
	e := newTestEnv(t, Options{})
	ctx := context.Background()

	e.write(t, "lib/user.py", pyFile)
	require.NoError(t, e.d.IndexFile(ctx, e.repoID, e.root, "lib/user.py"))
	require.NotEmpty(t, mustAllIDs(t, e.lexical))

	require.NoError(t, e.d.DeleteFile(ctx, e.repoID, "lib/user.py"))
	assert.Empty(t, mustAllIDs(t, e.lexical))

	locs, err := e.db.LookupSymbol(ctx, e.repoID, "UserService", "", 5)
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestMarkdownProducesDocAndCodeChunks(t *testing.T) {
	e := newTestEnv(t, Options{})
	ctx := context.Background()

	md := "# Guide\n\nIntro text.\n\n```python\ndef fenced():\n    pass\n```\n\nOutro.\n"
	e.write(t, "docs/guide.md", md)
	require.NoError(t, e.d.IndexFile(ctx, e.repoID, e.root, "docs/guide.md"))

	f, err := e.db.GetFileByPath(ctx, e.repoID, "docs/guide.md")
	require.NoError(t, err)
	chunks, err := e.db.ChunksByFile(ctx, f.ID)
	require.NoError(t, err)

	var sawDoc, sawCode bool
	for i, ch := range chunks {
		switch ch.Type {
		case chunk.TypeDoc:
			sawDoc = true
		case chunk.TypeCode:
			sawCode = true
			assert.Equal(t, "python", ch.Language)
			assert.Contains(t, ch.Content, "def fenced")
		}
		// Ranges stay disjoint after the merge.
		if i > 0 {
			assert.GreaterOrEqual(t, ch.StartByte, chunks[i-1].EndByte)
		}
	}
	assert.True(t, sawDoc, "markdown sections must index as doc chunks")
	assert.True(t, sawCode, "fenced python must index as a code chunk")

	// Symbols declared inside the fence resolve through lookup.
	locs, err := e.db.LookupSymbol(ctx, e.repoID, "fenced", "function", 5)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "docs/guide.md", locs[0].FilePath)
	assert.Equal(t, 6, locs[0].Line)
}

func TestMergeShardsPrefersQualityThenSpan(t *testing.T) {
	mk := func(id string, start, end int, q plugin.Quality) *plugin.Shard {
		return &plugin.Shard{
			PluginID: id,
			Quality:  q,
			File:     plugin.FileMeta{Path: "f.md", Language: "markdown"},
			Chunks: []*chunk.Chunk{{
				ChunkID: id, StartByte: start, EndByte: end, StartLine: 1, EndLine: 1,
			}},
		}
	}

	merged := MergeShards([]*plugin.Shard{
		mk("fallback-wide", 0, 100, plugin.QualityFallback),
		mk("full-narrow", 10, 40, plugin.QualityFull),
	})

	// Full quality wins even against a wider fallback span.
	require.Len(t, merged.Chunks, 1)
	assert.Equal(t, "full-narrow", merged.Chunks[0].ChunkID)
	assert.Equal(t, plugin.QualityFull, merged.Quality)
}

func TestScannerHonoursIgnoreRules(t *testing.T) {
	e := newTestEnv(t, Options{})

	e.write(t, ".gitignore", "dist/\n*.log\n")
	e.write(t, "main.py", "x = 1\n")
	e.write(t, "dist/bundle.js", "var x;\n")
	e.write(t, "debug.log", "noise\n")
	e.write(t, "src/.gitignore", "gen_*.py\n")
	e.write(t, "src/gen_models.py", "y = 2\n")
	e.write(t, "src/app.py", "z = 3\n")

	files, err := NewScanner(nil).Scan(context.Background(), e.root)
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.RelPath)
	}
	assert.Contains(t, paths, "main.py")
	assert.Contains(t, paths, "src/app.py")
	assert.NotContains(t, paths, "dist/bundle.js")
	assert.NotContains(t, paths, "debug.log")
	assert.NotContains(t, paths, "src/gen_models.py")
}

func TestScannerExtraPatterns(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.write(t, "a.py", "a = 1\n")
	e.write(t, "b.generated.py", "b = 2\n")

	files, err := NewScanner([]string{"*.generated.py"}).Scan(context.Background(), e.root)
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.RelPath)
	}
	assert.Contains(t, paths, "a.py")
	assert.NotContains(t, paths, "b.generated.py")
}

func TestStatusTracksProgress(t *testing.T) {
	s := NewStatus()
	s.BeginRepo("r1", 3)
	s.FileDone("r1")
	s.FileDone("r1")

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "indexing", snap[0].Stage)
	assert.Equal(t, 2, snap[0].FilesDone)

	s.EndRepo("r1")
	assert.Equal(t, "idle", s.Snapshot()[0].Stage)
}
