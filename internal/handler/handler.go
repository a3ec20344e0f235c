package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Aman-CERP/codescout/internal/config"
	"github.com/Aman-CERP/codescout/internal/dispatch"
	"github.com/Aman-CERP/codescout/internal/errors"
	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/plugin"
	"github.com/Aman-CERP/codescout/internal/query"
	"github.com/Aman-CERP/codescout/internal/token"
)

// Handler answers protocol requests against registered repositories.
// It is safe for concurrent use.
type Handler struct {
	cfg      *config.Config
	registry *plugin.Registry
	counter  *token.Counter

	mu          sync.RWMutex
	sessions    map[string]*session // keyed by repoID
	defaultRepo string              // most recently indexed
}

// New creates a handler with no open repositories.
func New(cfg *config.Config) *Handler {
	counter := token.NewCounter("")
	return &Handler{
		cfg:      cfg,
		registry: plugin.NewRegistry(counter, cfg.ChunkMaxTokens),
		counter:  counter,
		sessions: make(map[string]*session),
	}
}

// Close shuts down every session.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for _, s := range h.sessions {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.sessions = make(map[string]*session)
	return firstErr
}

// Handle answers one request. It never panics and always returns a frame
// with the request's id and a status discriminator.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.RequestDeadline())
	defer cancel()

	switch req.Method {
	case MethodIndexRepo:
		return h.indexRepo(ctx, req)
	case MethodGetStatus:
		return h.getStatus(ctx, req)
	case MethodLookupSymbol:
		return h.lookupSymbol(ctx, req)
	case MethodSearchCode:
		return h.searchCode(ctx, req)
	case MethodGetDefinition:
		return h.getDefinition(ctx, req)
	case MethodFindReferences:
		return h.findReferences(ctx, req)
	case MethodReindexFile:
		return h.reindexFile(ctx, req)
	default:
		return errorResponse(req.ID, errors.Unsupported(req.Method))
	}
}

// decode unmarshals request params into out.
func decode(req Request, out any) error {
	if len(req.Params) == 0 {
		return errors.InvalidArgument("params are required")
	}
	if err := json.Unmarshal(req.Params, out); err != nil {
		return errors.New(errors.CodeInvalidInput, "malformed params: "+err.Error(), err)
	}
	return nil
}

// sessionFor resolves the target repository: an explicit repo_path, or
// the default when only one repository is registered.
func (h *Handler) sessionFor(repoPath string) (*session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if repoPath != "" {
		if s, ok := h.sessions[ids.RepositoryID(repoPath)]; ok {
			return s, nil
		}
		return nil, errors.NotFound("repository", repoPath)
	}
	if h.defaultRepo != "" {
		if s, ok := h.sessions[h.defaultRepo]; ok {
			return s, nil
		}
	}
	return nil, errors.NotFound("repository", "(no repository indexed)")
}

// IndexRepoResult reports one index_repo run.
type IndexRepoResult struct {
	RepositoryID string `json:"repository_id"`
	Files        int    `json:"files"`
	Failed       int    `json:"failed"`
	Symbols      int    `json:"symbols"`
	Chunks       int    `json:"chunks"`
	DurationMs   int64  `json:"duration_ms"`
}

func (h *Handler) indexRepo(ctx context.Context, req Request) Response {
	var p IndexRepoParams
	if err := decode(req, &p); err != nil {
		return errorResponse(req.ID, err)
	}
	if p.Path == "" {
		return errorResponse(req.ID, errors.InvalidArgument("path is required"))
	}

	s, err := h.openOrGet(ctx, p.Path)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	start := time.Now()
	stats, err := s.dispatcher.IndexRepo(ctx, s.repoID, s.root, dispatch.NewScanner(h.cfg.IgnorePatterns))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if err := s.refreshMetadata(ctx); err != nil {
		return errorResponse(req.ID, err)
	}

	counts, err := s.db.Counts(ctx, s.repoID)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	result := IndexRepoResult{
		RepositoryID: s.repoID,
		Files:        stats.Files,
		Failed:       stats.Failed,
		Symbols:      counts.Symbols,
		Chunks:       counts.Chunks,
		DurationMs:   time.Since(start).Milliseconds(),
	}
	if stats.Failed > 0 {
		return partialResponse(req.ID, result, []query.Warning{{
			Kind:   string(errors.KindParser),
			Detail: "some files indexed with degraded quality",
		}})
	}
	return okResponse(req.ID, result)
}

// openOrGet returns an existing session for the path or opens a new one.
func (h *Handler) openOrGet(ctx context.Context, path string) (*session, error) {
	repoID := ids.RepositoryID(path)

	h.mu.RLock()
	s, ok := h.sessions[repoID]
	h.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := openSession(ctx, path, h.cfg, h.registry, h.counter)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.sessions[s.repoID] = s
	h.defaultRepo = s.repoID
	h.mu.Unlock()
	return s, nil
}

// StatusResult reports handler-wide state.
type StatusResult struct {
	Repositories []RepoStatus `json:"repositories"`
}

// RepoStatus is one repository's status row.
type RepoStatus struct {
	RepositoryID string                  `json:"repository_id"`
	RootPath     string                  `json:"root_path"`
	Files        int                     `json:"files"`
	Symbols      int                     `json:"symbols"`
	Chunks       int                     `json:"chunks"`
	SnapshotID   int64                   `json:"snapshot_id"`
	Semantic     bool                    `json:"semantic"`
	Progress     []dispatch.RepoProgress `json:"progress,omitempty"`
}

func (h *Handler) getStatus(ctx context.Context, req Request) Response {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	result := StatusResult{Repositories: []RepoStatus{}}
	for _, s := range sessions {
		counts, err := s.db.Counts(ctx, s.repoID)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		snapshot, err := s.db.SnapshotID(ctx)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		result.Repositories = append(result.Repositories, RepoStatus{
			RepositoryID: s.repoID,
			RootPath:     s.root,
			Files:        counts.Files,
			Symbols:      counts.Symbols,
			Chunks:       counts.Chunks,
			SnapshotID:   snapshot,
			Semantic:     s.embedder != nil,
			Progress:     s.dispatcher.Status().Snapshot(),
		})
	}
	return okResponse(req.ID, result)
}

func (h *Handler) lookupSymbol(ctx context.Context, req Request) Response {
	var p LookupSymbolParams
	if err := decode(req, &p); err != nil {
		return errorResponse(req.ID, err)
	}
	s, err := h.sessionFor(p.RepoPath)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	locs, err := s.engine.LookupSymbol(ctx, s.repoID, p.Name, p.Kind, p.Limit)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"symbols": locs})
}

func (h *Handler) searchCode(ctx context.Context, req Request) Response {
	var p SearchCodeParams
	if err := decode(req, &p); err != nil {
		return errorResponse(req.ID, err)
	}
	s, err := h.sessionFor(p.RepoPath)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	out, err := s.engine.Search(ctx, s.repoID, p.Query, query.Options{
		Semantic:   p.Semantic,
		Limit:      p.Limit,
		Offset:     p.Offset,
		Filters:    p.Filters,
		SnapshotID: p.SnapshotID,
	})
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if len(out.Warnings) > 0 {
		return partialResponse(req.ID, out, out.Warnings)
	}
	return okResponse(req.ID, out)
}

func (h *Handler) getDefinition(ctx context.Context, req Request) Response {
	var p SymbolRefParams
	if err := decode(req, &p); err != nil {
		return errorResponse(req.ID, err)
	}
	s, err := h.sessionFor(p.RepoPath)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	loc, err := s.engine.GetDefinition(ctx, s.repoID, p.QualifiedName)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, loc)
}

func (h *Handler) findReferences(ctx context.Context, req Request) Response {
	var p SymbolRefParams
	if err := decode(req, &p); err != nil {
		return errorResponse(req.ID, err)
	}
	s, err := h.sessionFor(p.RepoPath)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	refs, err := s.engine.FindReferences(ctx, s.repoID, p.QualifiedName, p.Limit)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"references": refs})
}

func (h *Handler) reindexFile(ctx context.Context, req Request) Response {
	var p ReindexFileParams
	if err := decode(req, &p); err != nil {
		return errorResponse(req.ID, err)
	}
	if p.Path == "" {
		return errorResponse(req.ID, errors.InvalidArgument("path is required"))
	}
	s, err := h.sessionFor(p.RepoPath)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	if err := s.dispatcher.IndexFile(ctx, s.repoID, s.root, p.Path); err != nil {
		return errorResponse(req.ID, err)
	}
	if err := s.refreshMetadata(ctx); err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"path": p.Path})
}
