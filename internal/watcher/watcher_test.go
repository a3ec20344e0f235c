package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveType(t *testing.T) {
	assert.Equal(t, "rename", MoveType("src/a.py", "src/b.py"))
	assert.Equal(t, "relocate", MoveType("src/a.py", "src/subdir/a.py"))
	assert.Equal(t, "restructure", MoveType("src/a.py", "lib/deep/b.py"))
	assert.Equal(t, "rename", MoveType("a.py", "b.py"))
}

func TestDebouncerCoalescing(t *testing.T) {
	tests := []struct {
		name string
		in   []Kind
		want []Kind // expected kinds after the window, nil = nothing
	}{
		{"create then modify", []Kind{Created, Modified}, []Kind{Created}},
		{"create then delete", []Kind{Created, Deleted}, nil},
		{"modify then delete", []Kind{Modified, Deleted}, []Kind{Deleted}},
		{"delete then create", []Kind{Deleted, Created}, []Kind{Modified}},
		{"modify storm", []Kind{Modified, Modified, Modified}, []Kind{Modified}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20 * time.Millisecond)
			defer d.Stop()

			for _, k := range tt.in {
				d.Add(Event{Path: "x.go", Kind: k, Time: time.Now()})
			}

			select {
			case batch := <-d.Output():
				var kinds []Kind
				for _, ev := range batch {
					kinds = append(kinds, ev.Kind)
				}
				assert.Equal(t, tt.want, kinds)
			case <-time.After(200 * time.Millisecond):
				assert.Nil(t, tt.want, "expected a batch but got none")
			}
		})
	}
}

func TestDebouncerSeparatePaths(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(Event{Path: "a.go", Kind: Modified})
	d.Add(Event{Path: "b.go", Kind: Created})

	select {
	case batch := <-d.Output():
		assert.Len(t, batch, 2)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a batch")
	}
}

func TestMoveDetectorPairsWithinWindow(t *testing.T) {
	m := NewMoveDetector(2 * time.Second)

	m.OnDelete("src/a.py", "hashA")
	oldPath, moved := m.OnCreate("src/subdir/a.py", "hashA")
	require.True(t, moved)
	assert.Equal(t, "src/a.py", oldPath)

	// The pairing consumed the pending delete.
	_, moved = m.OnCreate("elsewhere/a.py", "hashA")
	assert.False(t, moved)
}

func TestMoveDetectorOutsideWindowIsDeleteCreate(t *testing.T) {
	m := NewMoveDetector(50 * time.Millisecond)
	base := time.Now()
	m.now = func() time.Time { return base }

	m.OnDelete("src/a.py", "hashA")

	// Jump past the window.
	m.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	_, moved := m.OnCreate("src/b.py", "hashA")
	assert.False(t, moved)

	expired := m.ExpiredDeletes()
	assert.Equal(t, []string{"src/a.py"}, expired)
	assert.Zero(t, m.PendingCount())
}

func TestMoveDetectorDifferentHashNoMatch(t *testing.T) {
	m := NewMoveDetector(time.Second)
	m.OnDelete("a.py", "hashA")
	_, moved := m.OnCreate("b.py", "hashB")
	assert.False(t, moved)
	assert.Equal(t, 1, m.PendingCount())
}

// recordingSink captures scheduler output.
type recordingSink struct {
	mu      sync.Mutex
	calls   []string
	indexed map[string]string // relPath -> hash previously indexed
	disk    map[string]string // relPath -> hash on disk now
}

func newRecordingSink() *recordingSink {
	return &recordingSink{indexed: map[string]string{}, disk: map[string]string{}}
}

func (r *recordingSink) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recordingSink) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

func (r *recordingSink) HandleCreated(_ context.Context, repo, p string) error {
	r.record("created:" + repo + ":" + p)
	return nil
}
func (r *recordingSink) HandleModified(_ context.Context, repo, p string) error {
	r.record("modified:" + repo + ":" + p)
	return nil
}
func (r *recordingSink) HandleDeleted(_ context.Context, repo, p string) error {
	r.record("deleted:" + repo + ":" + p)
	return nil
}
func (r *recordingSink) HandleMoved(_ context.Context, repo, oldP, newP, moveType string) error {
	r.record("moved:" + repo + ":" + oldP + "->" + newP + ":" + moveType)
	return nil
}
func (r *recordingSink) Rescan(_ context.Context, repo string) error {
	r.record("rescan:" + repo)
	return nil
}
func (r *recordingSink) IndexedHash(_ context.Context, _, p string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.indexed[p]
	return h, ok
}
func (r *recordingSink) DiskHash(_, p string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.disk[p]
	return h, ok
}

func runScheduler(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestSchedulerUpgradesDeleteCreateToMove(t *testing.T) {
	sink := newRecordingSink()
	sink.indexed["src/a.py"] = "H"
	sink.disk["src/subdir/a.py"] = "H"

	s := NewScheduler(sink, Options{MoveWindow: time.Second})
	events := make(chan []Event, 4)
	s.Register("r1", events)

	cancel := runScheduler(t, s)
	defer cancel()

	events <- []Event{{Path: "src/a.py", Kind: Deleted}}
	events <- []Event{{Path: "src/subdir/a.py", Kind: Created}}

	waitFor(t, func() bool { return len(sink.Calls()) == 1 })
	assert.Equal(t, "moved:r1:src/a.py->src/subdir/a.py:relocate", sink.Calls()[0])
}

func TestSchedulerExpiresUnmatchedDelete(t *testing.T) {
	sink := newRecordingSink()
	sink.indexed["gone.py"] = "H"

	s := NewScheduler(sink, Options{MoveWindow: 50 * time.Millisecond})
	events := make(chan []Event, 4)
	s.Register("r1", events)

	cancel := runScheduler(t, s)
	defer cancel()

	events <- []Event{{Path: "gone.py", Kind: Deleted}}

	waitFor(t, func() bool {
		calls := sink.Calls()
		return len(calls) == 1 && calls[0] == "deleted:r1:gone.py"
	})
}

func TestSchedulerOverflowTriggersRescan(t *testing.T) {
	sink := newRecordingSink()
	s := NewScheduler(sink, Options{QueueCap: 2})
	events := make(chan []Event, 8)
	s.Register("r1", events)

	// Overflow before the scheduler runs so the queue collapses.
	events <- []Event{
		{Path: "a.go", Kind: Modified},
		{Path: "b.go", Kind: Modified},
		{Path: "c.go", Kind: Modified},
	}

	cancel := runScheduler(t, s)
	defer cancel()

	waitFor(t, func() bool {
		for _, c := range sink.Calls() {
			if c == "rescan:r1" {
				return true
			}
		}
		return false
	})

	// The overflowed events themselves were dropped.
	for _, c := range sink.Calls() {
		assert.NotContains(t, c, "modified:")
	}
}

func TestSchedulerRoundRobinFairness(t *testing.T) {
	sink := newRecordingSink()
	s := NewScheduler(sink, Options{})

	ev1 := make(chan []Event, 4)
	ev2 := make(chan []Event, 4)
	s.Register("r1", ev1)
	s.Register("r2", ev2)

	ev1 <- []Event{
		{Path: "a1.go", Kind: Modified},
		{Path: "a2.go", Kind: Modified},
	}
	ev2 <- []Event{{Path: "b1.go", Kind: Modified}}

	// Let both batches enqueue before draining starts.
	time.Sleep(50 * time.Millisecond)

	cancel := runScheduler(t, s)
	defer cancel()

	waitFor(t, func() bool { return len(sink.Calls()) == 3 })

	calls := sink.Calls()
	// r2's single event must not wait behind both of r1's.
	assert.Equal(t, "modified:r2:b1.go", calls[1])
}
