package handler

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/codescout/internal/dispatch"
	"github.com/Aman-CERP/codescout/internal/ids"
	"github.com/Aman-CERP/codescout/internal/watcher"
)

// watchSink bridges the watcher's settled events to the dispatcher. One
// sink serves every open session; it finds the session by repository id.
type watchSink struct {
	h *Handler
}

var _ watcher.Sink = (*watchSink)(nil)

// Sink returns the handler's watcher bridge.
func (h *Handler) Sink() watcher.Sink {
	return &watchSink{h: h}
}

func (ws *watchSink) session(repoID string) (*session, bool) {
	ws.h.mu.RLock()
	defer ws.h.mu.RUnlock()
	s, ok := ws.h.sessions[repoID]
	return s, ok
}

func (ws *watchSink) HandleCreated(ctx context.Context, repoID, relPath string) error {
	s, ok := ws.session(repoID)
	if !ok {
		return nil
	}
	return s.dispatcher.IndexFile(ctx, repoID, s.root, relPath)
}

func (ws *watchSink) HandleModified(ctx context.Context, repoID, relPath string) error {
	return ws.HandleCreated(ctx, repoID, relPath)
}

func (ws *watchSink) HandleDeleted(ctx context.Context, repoID, relPath string) error {
	s, ok := ws.session(repoID)
	if !ok {
		return nil
	}
	return s.dispatcher.DeleteFile(ctx, repoID, relPath)
}

func (ws *watchSink) HandleMoved(ctx context.Context, repoID, oldPath, newPath, moveType string) error {
	s, ok := ws.session(repoID)
	if !ok {
		return nil
	}
	if err := s.dispatcher.RenameFile(ctx, repoID, oldPath, newPath, moveType); err != nil {
		return err
	}

	// Audit trail beside the authoritative file_moves table.
	f, err := s.db.GetFileByPath(ctx, repoID, newPath)
	hash := ""
	if err == nil {
		hash = f.ContentHash
	}
	_ = s.layout.AppendMove(oldPath, newPath, hash, moveType, time.Now())
	return nil
}

func (ws *watchSink) Rescan(ctx context.Context, repoID string) error {
	s, ok := ws.session(repoID)
	if !ok {
		return nil
	}
	_, err := s.dispatcher.IndexRepo(ctx, repoID, s.root, dispatch.NewScanner(ws.h.cfg.IgnorePatterns))
	return err
}

func (ws *watchSink) IndexedHash(ctx context.Context, repoID, relPath string) (string, bool) {
	s, ok := ws.session(repoID)
	if !ok {
		return "", false
	}
	f, err := s.db.GetFileByPath(ctx, repoID, relPath)
	if err != nil {
		return "", false
	}
	return f.ContentHash, true
}

func (ws *watchSink) DiskHash(repoID, relPath string) (string, bool) {
	s, ok := ws.session(repoID)
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(relPath)))
	if err != nil {
		return "", false
	}
	return ids.ContentHash(data), true
}

// Watch starts watchers for every open session and blocks until the
// context ends. Call after index_repo has opened the repositories.
func (h *Handler) Watch(ctx context.Context) error {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	opts := watcher.Options{
		DebounceWindow: h.cfg.WatchDebounce(),
		MoveWindow:     h.cfg.MoveWindow(),
		IgnorePatterns: h.cfg.IgnorePatterns,
	}

	sched := watcher.NewScheduler(h.Sink(), opts)
	for _, s := range sessions {
		w := watcher.NewFSWatcher(s.root, nil, opts)
		sched.Register(s.repoID, w.Events())
		go func() { _ = w.Start(ctx) }()
	}

	return sched.Run(ctx)
}
