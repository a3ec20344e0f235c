package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect reads event batches until one carries wantPath with wantKind,
// failing after three seconds.
func collect(t *testing.T, w *FSWatcher, wantPath string, wantKind Kind) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-w.Events():
			for _, ev := range batch {
				if ev.Path == wantPath && ev.Kind == wantKind {
					return
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", wantKind, wantPath)
		}
	}
}

func startWatcher(t *testing.T, root string, opts Options) *FSWatcher {
	t.Helper()
	w := NewFSWatcher(root, nil, opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Start(ctx) }()
	// Give the recursive watch registration a moment.
	time.Sleep(100 * time.Millisecond)
	return w
}

func TestFSWatcherSeesCreate(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, Options{DebounceWindow: 30 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"), []byte("package x\n"), 0o644))
	collect(t, w, "new.go", Created)
}

func TestFSWatcherSeesModifyAndDelete(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.go")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	w := startWatcher(t, root, Options{DebounceWindow: 30 * time.Millisecond})

	require.NoError(t, os.WriteFile(path, []byte("v2 changed"), 0o644))
	collect(t, w, "f.go", Modified)

	require.NoError(t, os.Remove(path))
	collect(t, w, "f.go", Deleted)
}

func TestFSWatcherHonoursIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, Options{
		DebounceWindow: 30 * time.Millisecond,
		IgnorePatterns: []string{"*.log"},
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "noise.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "signal.go"), []byte("y"), 0o644))

	// The ignored file must never surface; the other must.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-w.Events():
			for _, ev := range batch {
				assert.NotEqual(t, "noise.log", ev.Path)
				if ev.Path == "signal.go" {
					return
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for signal.go")
		}
	}
}

func TestFSWatcherWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, Options{DebounceWindow: 30 * time.Millisecond})

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	time.Sleep(100 * time.Millisecond) // let the new watch register
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.go"), []byte("z"), 0o644))

	collect(t, w, "sub/nested.go", Created)
}
