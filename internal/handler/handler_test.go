package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codescout/internal/config"
	"github.com/Aman-CERP/codescout/internal/query"
	"github.com/Aman-CERP/codescout/internal/store"
)

const userPy = `class UserService:
    """User lookups and authentication."""

    def find_by_email(self, email):
        return self.db.get(email)

    def authenticate(self, email, password):
        user = self.find_by_email(email)
        return user is not None
`

func newTestHandler(t *testing.T, mutate func(*config.Config)) (*Handler, string) {
	t.Helper()

	cfg := config.Default()
	cfg.IndexPath = t.TempDir() // keep indexes out of the repo tree
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	h := New(cfg)
	t.Cleanup(func() { _ = h.Close() })

	repo := t.TempDir()
	return h, repo
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func call(t *testing.T, h *Handler, method string, params any) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return h.Handle(context.Background(), Request{ID: "req-1", Method: method, Params: raw})
}

func indexRepo(t *testing.T, h *Handler, repo string) IndexRepoResult {
	t.Helper()
	resp := call(t, h, MethodIndexRepo, IndexRepoParams{Path: repo})
	require.Equal(t, StatusOK, resp.Status, "index_repo failed: %+v", resp.Error)

	var result IndexRepoResult
	remarshal(t, resp.Result, &result)
	return result
}

// remarshal converts the any-typed result back into a concrete shape.
func remarshal(t *testing.T, in any, out any) {
	t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestUnknownMethodIsUnsupported(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	resp := h.Handle(context.Background(), Request{ID: "x", Method: "explode"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "Unsupported", resp.Error.Kind)
	assert.Equal(t, "x", resp.ID)
}

func TestSymbolLookupStability(t *testing.T) {
	// Scenario: class lookup returns the declaration; editing a method
	// body preserves symbol_hash and definition_id while chunk ids move.
	h, repo := newTestHandler(t, nil)
	writeFile(t, repo, "lib/user.py", userPy)
	indexRepo(t, h, repo)

	resp := call(t, h, MethodLookupSymbol, LookupSymbolParams{Name: "UserService", Kind: "class"})
	require.Equal(t, StatusOK, resp.Status)

	var out struct {
		Symbols []*store.SymbolLocation `json:"symbols"`
	}
	remarshal(t, resp.Result, &out)
	require.NotEmpty(t, out.Symbols)

	first := out.Symbols[0]
	assert.Equal(t, "lib/user.py", first.FilePath)
	assert.Equal(t, 1, first.Line)
	assert.Equal(t, "class", first.Kind)
	classHash := first.SymbolHash

	// Grab authenticate's identity before the edit.
	resp = call(t, h, MethodLookupSymbol, LookupSymbolParams{Name: "authenticate"})
	require.Equal(t, StatusOK, resp.Status)
	remarshal(t, resp.Result, &out)
	require.NotEmpty(t, out.Symbols)
	authDef := out.Symbols[0].DefinitionID

	// Edit the body only and reindex the file.
	edited := strings.Replace(userPy, "return user is not None", "return bool(user)", 1)
	writeFile(t, repo, "lib/user.py", edited)
	resp = call(t, h, MethodReindexFile, ReindexFileParams{Path: "lib/user.py"})
	require.Equal(t, StatusOK, resp.Status)

	resp = call(t, h, MethodLookupSymbol, LookupSymbolParams{Name: "UserService", Kind: "class"})
	remarshal(t, resp.Result, &out)
	require.NotEmpty(t, out.Symbols)
	assert.Equal(t, classHash, out.Symbols[0].SymbolHash, "class identity survives body edits")

	resp = call(t, h, MethodLookupSymbol, LookupSymbolParams{Name: "authenticate"})
	remarshal(t, resp.Result, &out)
	require.NotEmpty(t, out.Symbols)
	assert.Equal(t, authDef, out.Symbols[0].DefinitionID, "definition_id survives body edits")
}

func TestSearchCodeLexical(t *testing.T) {
	h, repo := newTestHandler(t, nil)
	writeFile(t, repo, "lib/user.py", userPy)
	writeFile(t, repo, "lib/render.py", "def render_chart(series):\n    return svg(series)\n")
	indexRepo(t, h, repo)

	resp := call(t, h, MethodSearchCode, SearchCodeParams{Query: "authenticate user email", Limit: 10})
	require.Equal(t, StatusOK, resp.Status)

	var out query.SearchOutput
	remarshal(t, resp.Result, &out)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "lib/user.py", out.Results[0].FilePath)
	assert.Greater(t, out.SnapshotID, int64(0))
}

func TestHybridSearchWithEmbedderOutage(t *testing.T) {
	// Scenario: semantic enabled but the backend is unreachable. The
	// response is partial, lexical-only, with an EmbedderError warning.
	h, repo := newTestHandler(t, func(c *config.Config) {
		c.Semantic.Enabled = true
		c.Semantic.Provider = "ollama"
		c.Semantic.Endpoint = "http://127.0.0.1:1" // nothing listens here
		c.Semantic.Dimension = 768
	})
	writeFile(t, repo, "auth.py", "def handle_authentication(user):\n    return check(user)\n")
	indexRepo(t, h, repo)

	resp := call(t, h, MethodSearchCode, SearchCodeParams{
		Query: "authentication handling", Semantic: true, Limit: 10,
	})
	require.Equal(t, StatusPartial, resp.Status)
	require.NotEmpty(t, resp.Warnings)
	assert.Equal(t, "EmbedderError", resp.Warnings[0].Kind)

	var out query.SearchOutput
	remarshal(t, resp.Result, &out)
	assert.NotEmpty(t, out.Results, "lexical results still arrive")
}

func TestSemanticSearchWithStaticEmbedder(t *testing.T) {
	h, repo := newTestHandler(t, func(c *config.Config) {
		c.Semantic.Enabled = true
		c.Semantic.Provider = "static"
		c.Semantic.Dimension = 256
	})
	writeFile(t, repo, "db.py", "def open_connection_pool(dsn):\n    return dial(dsn)\n")
	writeFile(t, repo, "ui.py", "def draw_histogram(series):\n    return plot(series)\n")
	indexRepo(t, h, repo)

	resp := call(t, h, MethodSearchCode, SearchCodeParams{
		Query: "open database connection pool", Semantic: true, Limit: 5,
	})
	require.Equal(t, StatusOK, resp.Status, "warnings: %+v", resp.Warnings)

	var out query.SearchOutput
	remarshal(t, resp.Result, &out)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "db.py", out.Results[0].FilePath)
	assert.Greater(t, out.Results[0].SemScore, 0.0)
}

func TestGetDefinitionAndFindReferences(t *testing.T) {
	h, repo := newTestHandler(t, nil)
	writeFile(t, repo, "lib/user.py", userPy)
	writeFile(t, repo, "app.py", "def main(svc):\n    return svc.authenticate(e, p)\n")
	indexRepo(t, h, repo)

	resp := call(t, h, MethodGetDefinition, SymbolRefParams{QualifiedName: "UserService.authenticate"})
	require.Equal(t, StatusOK, resp.Status)

	var def query.Location
	remarshal(t, resp.Result, &def)
	assert.Equal(t, "lib/user.py", def.FilePath)
	assert.Equal(t, 7, def.Line)

	resp = call(t, h, MethodFindReferences, SymbolRefParams{QualifiedName: "UserService.authenticate"})
	require.Equal(t, StatusOK, resp.Status)

	var refs struct {
		References []*query.Location `json:"references"`
	}
	remarshal(t, resp.Result, &refs)
	require.NotEmpty(t, refs.References)

	var foundCaller bool
	for _, r := range refs.References {
		assert.NotEqual(t, def.Line, r.Line, "the declaration is not a reference")
		if r.FilePath == "app.py" {
			foundCaller = true
		}
	}
	assert.True(t, foundCaller)
}

func TestGetStatus(t *testing.T) {
	h, repo := newTestHandler(t, nil)
	writeFile(t, repo, "a.py", "x = 1\n")
	indexRepo(t, h, repo)

	resp := call(t, h, MethodGetStatus, struct{}{})
	require.Equal(t, StatusOK, resp.Status)

	var out StatusResult
	remarshal(t, resp.Result, &out)
	require.Len(t, out.Repositories, 1)
	assert.Equal(t, 1, out.Repositories[0].Files)
	assert.False(t, out.Repositories[0].Semantic)
	assert.Greater(t, out.Repositories[0].SnapshotID, int64(0))
}

func TestLookupBeforeIndexingIsNotFound(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	resp := call(t, h, MethodLookupSymbol, LookupSymbolParams{Name: "Anything"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "NotFound", resp.Error.Kind)
}

func TestIndexingIsIdempotentAcrossRuns(t *testing.T) {
	h, repo := newTestHandler(t, nil)
	writeFile(t, repo, "lib/user.py", userPy)

	r1 := indexRepo(t, h, repo)
	r2 := indexRepo(t, h, repo)

	assert.Equal(t, r1.Symbols, r2.Symbols)
	assert.Equal(t, r1.Chunks, r2.Chunks)
}

func TestPaginationThroughProtocol(t *testing.T) {
	h, repo := newTestHandler(t, nil)
	for i := 0; i < 25; i++ {
		writeFile(t, repo, fmt.Sprintf("pkg/f%02d.py", i),
			fmt.Sprintf("def widget_factory_%02d():\n    return build_widget(%d)\n", i, i))
	}
	indexRepo(t, h, repo)

	page := func(offset int, limit int) *query.SearchOutput {
		resp := call(t, h, MethodSearchCode, SearchCodeParams{
			Query: "widget factory build", Limit: limit, Offset: offset,
		})
		require.Equal(t, StatusOK, resp.Status)
		var out query.SearchOutput
		remarshal(t, resp.Result, &out)
		return &out
	}

	p1 := page(0, 10)
	p2 := page(10, 10)
	both := page(0, 20)

	require.Len(t, p1.Results, 10)
	require.Len(t, p2.Results, 10)
	require.Len(t, both.Results, 20)
	for i := 0; i < 10; i++ {
		assert.Equal(t, both.Results[i].ChunkID, p1.Results[i].ChunkID)
		assert.Equal(t, both.Results[10+i].ChunkID, p2.Results[i].ChunkID)
	}

	// Offset past the end: empty ok with total set.
	past := page(1000, 10)
	assert.Empty(t, past.Results)
	assert.Greater(t, past.Total, 0)
}

func TestServeRoundTrip(t *testing.T) {
	h, repo := newTestHandler(t, nil)
	writeFile(t, repo, "a.py", "def greet():\n    return 'hello greeting'\n")

	var in bytes.Buffer
	frame := func(id, method string, params any) {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		req, err := json.Marshal(Request{ID: id, Method: method, Params: raw})
		require.NoError(t, err)
		in.Write(req)
		in.WriteByte('\n')
	}
	frame("1", MethodIndexRepo, IndexRepoParams{Path: repo})
	frame("2", MethodSearchCode, SearchCodeParams{Query: "hello greeting", Limit: 5})
	in.WriteString("this is not json\n")
	frame("3", "bogus_method", struct{}{})

	var out bytes.Buffer
	require.NoError(t, h.Serve(context.Background(), &in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)

	var r1, r2, r3, r4 Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &r1))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &r2))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &r3))
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &r4))

	assert.Equal(t, "1", r1.ID)
	assert.Equal(t, StatusOK, r1.Status)
	assert.Equal(t, "2", r2.ID)
	assert.Equal(t, StatusOK, r2.Status)
	assert.Equal(t, StatusError, r3.Status) // malformed frame
	assert.Equal(t, "3", r4.ID)
	assert.Equal(t, StatusError, r4.Status)
}
