package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink receives the scheduler's settled events. The server wires these to
// the dispatcher.
type Sink interface {
	// HandleCreated indexes a new or changed file.
	HandleCreated(ctx context.Context, repoID, relPath string) error
	// HandleModified re-indexes a changed file.
	HandleModified(ctx context.Context, repoID, relPath string) error
	// HandleDeleted tombstones a file.
	HandleDeleted(ctx context.Context, repoID, relPath string) error
	// HandleMoved rewrites a path preserving file identity.
	HandleMoved(ctx context.Context, repoID, oldPath, newPath, moveType string) error
	// Rescan fully re-indexes a repository after queue overflow.
	Rescan(ctx context.Context, repoID string) error

	// IndexedHash returns the last indexed content hash of a path, used
	// to pair deletes with creates.
	IndexedHash(ctx context.Context, repoID, relPath string) (string, bool)
	// DiskHash hashes the file's current bytes.
	DiskHash(repoID, relPath string) (string, bool)
}

// repoState is one repository's pending work.
type repoState struct {
	id       string
	queue    []Event
	dirty    bool // queue overflowed, full rescan owed
	detector *MoveDetector
}

// Scheduler drains per-repository event queues round-robin so no single
// repository starves the others, applying move detection as events
// settle. Events for a single path arrive ordered from the debouncer and
// are processed in order here; across paths no order is guaranteed.
type Scheduler struct {
	opts Options
	sink Sink

	mu    sync.Mutex
	repos map[string]*repoState
	order []string
	next  int
}

// NewScheduler creates a scheduler over the given sink.
func NewScheduler(sink Sink, opts Options) *Scheduler {
	return &Scheduler{
		opts:  opts.WithDefaults(),
		sink:  sink,
		repos: make(map[string]*repoState),
	}
}

// Register adds a repository and begins consuming its event batches.
func (s *Scheduler) Register(repoID string, events <-chan []Event) {
	s.mu.Lock()
	s.repos[repoID] = &repoState{
		id:       repoID,
		detector: NewMoveDetector(s.opts.MoveWindow),
	}
	s.order = append(s.order, repoID)
	s.mu.Unlock()

	go func() {
		for batch := range events {
			s.enqueue(repoID, batch)
		}
	}()
}

// enqueue appends a batch, collapsing to a dirty marker on overflow.
func (s *Scheduler) enqueue(repoID string, batch []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.repos[repoID]
	if !ok {
		return
	}
	if st.dirty {
		return // a rescan is already owed; individual events are moot
	}
	if len(st.queue)+len(batch) > s.opts.QueueCap {
		slog.Warn("watch_queue_overflow",
			slog.String("repo", repoID),
			slog.Int("queued", len(st.queue)),
			slog.Int("incoming", len(batch)))
		st.queue = nil
		st.dirty = true
		return
	}
	st.queue = append(st.queue, batch...)
}

// Run drains queues until the context ends. Each turn serves one unit of
// work from the next repository in round-robin order.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// Keep serving while work exists, one unit per repo per turn.
		for s.serveOne(ctx) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		s.flushExpiredDeletes(ctx)
	}
}

// serveOne picks the next repository with pending work and processes one
// event or owed rescan. Returns false when every queue is empty.
func (s *Scheduler) serveOne(ctx context.Context) bool {
	st, ev, rescan := s.pick()
	if st == nil {
		return false
	}

	if rescan {
		if err := s.sink.Rescan(ctx, st.id); err != nil {
			slog.Warn("rescan_failed", slog.String("repo", st.id), slog.String("error", err.Error()))
		}
		return true
	}

	s.process(ctx, st, ev)
	return true
}

// pick pops one unit of work round-robin. Returns rescan=true when the
// chosen repository owes a full rescan.
func (s *Scheduler) pick() (*repoState, Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(s.order); i++ {
		st := s.repos[s.order[(s.next+i)%len(s.order)]]
		if st == nil {
			continue
		}
		if st.dirty {
			st.dirty = false
			s.next = (s.next + i + 1) % len(s.order)
			return st, Event{}, true
		}
		if len(st.queue) > 0 {
			ev := st.queue[0]
			st.queue = st.queue[1:]
			s.next = (s.next + i + 1) % len(s.order)
			return st, ev, false
		}
	}
	return nil, Event{}, false
}

// process applies one settled event through move detection.
func (s *Scheduler) process(ctx context.Context, st *repoState, ev Event) {
	var err error
	switch ev.Kind {
	case Deleted:
		// Hold the delete inside the move window: a matching create
		// upgrades the pair to a move.
		if hash, ok := s.sink.IndexedHash(ctx, st.id, ev.Path); ok {
			st.detector.OnDelete(ev.Path, hash)
			return
		}
		err = s.sink.HandleDeleted(ctx, st.id, ev.Path)

	case Created:
		if hash, ok := s.sink.DiskHash(st.id, ev.Path); ok {
			if oldPath, moved := st.detector.OnCreate(ev.Path, hash); moved {
				err = s.sink.HandleMoved(ctx, st.id, oldPath, ev.Path, MoveType(oldPath, ev.Path))
				break
			}
		}
		err = s.sink.HandleCreated(ctx, st.id, ev.Path)

	case Modified:
		err = s.sink.HandleModified(ctx, st.id, ev.Path)

	case Moved:
		err = s.sink.HandleMoved(ctx, st.id, ev.OldPath, ev.Path, MoveType(ev.OldPath, ev.Path))
	}

	if err != nil && ctx.Err() == nil {
		slog.Warn("event_failed",
			slog.String("repo", st.id),
			slog.String("path", ev.Path),
			slog.String("kind", ev.Kind.String()),
			slog.String("error", err.Error()))
	}
}

// flushExpiredDeletes applies deletes whose move window lapsed unmatched.
func (s *Scheduler) flushExpiredDeletes(ctx context.Context) {
	s.mu.Lock()
	states := make([]*repoState, 0, len(s.repos))
	for _, st := range s.repos {
		states = append(states, st)
	}
	s.mu.Unlock()

	for _, st := range states {
		for _, path := range st.detector.ExpiredDeletes() {
			if err := s.sink.HandleDeleted(ctx, st.id, path); err != nil && ctx.Err() == nil {
				slog.Warn("expired_delete_failed",
					slog.String("repo", st.id),
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
	}
}
