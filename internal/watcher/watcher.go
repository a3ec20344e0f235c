// Package watcher observes repository trees and turns raw filesystem
// notifications into a deterministic event stream: debounced per path,
// delete+create pairs upgraded to moves, ignore rules applied, and
// multiple repositories drained fairly.
package watcher

import (
	"time"
)

// Kind is a file event kind.
type Kind int

const (
	// Created indicates a new file appeared.
	Created Kind = iota
	// Modified indicates an existing file changed.
	Modified
	// Deleted indicates a file disappeared.
	Deleted
	// Moved indicates a delete+create pair with matching content hash
	// inside the move window.
	Moved
)

// String returns a readable kind name.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is one coalesced file event. Paths are repository-relative and
// slash-separated.
type Event struct {
	Path    string
	OldPath string // set for Moved
	Kind    Kind
	Time    time.Time
}

// MoveType classifies a detected move by path relationship:
// rename (same directory), relocate (same base name, new directory),
// restructure (both changed).
func MoveType(oldPath, newPath string) string {
	oldDir, oldBase := splitPath(oldPath)
	newDir, newBase := splitPath(newPath)
	switch {
	case oldDir == newDir:
		return "rename"
	case oldBase == newBase:
		return "relocate"
	default:
		return "restructure"
	}
}

func splitPath(p string) (dir, base string) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i], p[i+1:]
		}
	}
	return "", p
}

// Options tunes the watcher pipeline.
type Options struct {
	// DebounceWindow coalesces rapid events on the same path.
	// Default: 250ms.
	DebounceWindow time.Duration
	// MoveWindow pairs deletes with creates for move detection.
	// Default: 2s.
	MoveWindow time.Duration
	// QueueCap bounds per-repository pending events; overflow collapses
	// into a dirty marker that triggers a full rescan. Default: 1024.
	QueueCap int
	// IgnorePatterns are gitignore-syntax patterns applied on top of the
	// repository's own ignore files.
	IgnorePatterns []string
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 250 * time.Millisecond
	}
	if o.MoveWindow <= 0 {
		o.MoveWindow = 2 * time.Second
	}
	if o.QueueCap <= 0 {
		o.QueueCap = 1024
	}
	return o
}
