package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lexicalBackends builds each backend in memory so the whole suite runs
// against both.
func lexicalBackends(t *testing.T) map[string]LexicalIndex {
	t.Helper()

	fts, err := NewFTS5Index("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = fts.Close() })

	bl, err := NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bl.Close() })

	return map[string]LexicalIndex{"fts5": fts, "bleve": bl}
}

func seedDocs(t *testing.T, idx LexicalIndex) {
	t.Helper()
	require.NoError(t, idx.Index(context.Background(), []*Document{
		{ID: "c1", Content: "func findUserByEmail(email string) (*User, error) { return lookup(email) }"},
		{ID: "c2", Content: "def authenticate_user(email, password):\n    check_password(password)"},
		{ID: "c3", Content: "// RenderTemplate writes HTML output to the response writer"},
	}))
}

func TestLexicalSearchFindsCamelCaseFragments(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocs(t, idx)

			results, err := idx.Search(context.Background(), "email", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)

			found := map[string]bool{}
			for _, r := range results {
				found[r.ChunkID] = true
				assert.Greater(t, r.Score, 0.0)
			}
			assert.True(t, found["c1"], "camelCase identifier must match by fragment")
			assert.True(t, found["c2"], "snake_case identifier must match by fragment")
		})
	}
}

func TestLexicalSearchEmptyQuery(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocs(t, idx)

			results, err := idx.Search(context.Background(), "   ", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestLexicalDelete(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocs(t, idx)
			require.Equal(t, 3, idx.Count())

			require.NoError(t, idx.Delete(context.Background(), []string{"c1"}))

			if name == "fts5" {
				// doc_ids tracking reflects the delete immediately.
				assert.Equal(t, 2, idx.Count())
			}
			results, err := idx.Search(context.Background(), "findUserByEmail", 10)
			require.NoError(t, err)
			for _, r := range results {
				assert.NotEqual(t, "c1", r.ChunkID)
			}
		})
	}
}

func TestLexicalReindexReplaces(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedDocs(t, idx)

			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "c1", Content: "completely different content about websockets"},
			}))

			results, err := idx.Search(ctx, "websockets", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results, "%s: replacement content must be searchable", name)
			assert.Equal(t, "c1", results[0].ChunkID)
		})
	}
}

func TestLexicalAllIDs(t *testing.T) {
	for name, idx := range lexicalBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedDocs(t, idx)

			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, ids)
		})
	}
}

func TestBM25TermFrequencyMonotonic(t *testing.T) {
	// Standard BM25 property: more occurrences of the query term in a
	// chunk score at least as high, all else equal.
	idx, err := NewFTS5Index("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "once", Content: "rebalance the shards now please kindly"},
		{ID: "twice", Content: "rebalance rebalance the shards now please"},
	}))

	results, err := idx.Search(ctx, "rebalance", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "twice", results[0].ChunkID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestNewLexicalIndexFactory(t *testing.T) {
	dir := t.TempDir()

	fts, err := NewLexicalIndex("fts5", dir)
	require.NoError(t, err)
	assert.IsType(t, &FTS5Index{}, fts)
	require.NoError(t, fts.Close())

	bl, err := NewLexicalIndex("bleve", dir)
	require.NoError(t, err)
	assert.IsType(t, &BleveIndex{}, bl)
	require.NoError(t, bl.Close())

	_, err = NewLexicalIndex("elastic", dir)
	assert.Error(t, err)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"camel", "findUserByEmail", []string{"find", "user", "by", "email"}},
		{"snake", "find_by_email", []string{"find", "by", "email"}},
		{"acronym", "parseHTTPRequest", []string{"parse", "http", "request"}},
		{"mixed", "HTTPServer_v2", []string{"http", "server", "v2"}},
		{"short dropped", "a b xy", []string{"xy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestTokenizeQueryFiltersStopWords(t *testing.T) {
	got := TokenizeQuery("func return handleRequest")
	assert.Equal(t, []string{"handle", "request"}, got)
}
