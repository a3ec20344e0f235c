package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid events for the same path. Events within the
// window merge by these rules:
//
//	CREATE + MODIFY = CREATE  (the file is still new)
//	CREATE + DELETE = nothing (the file never really existed)
//	MODIFY + DELETE = DELETE
//	DELETE + CREATE = MODIFY  (the file was replaced in place)
//
// Events for a single path flush strictly ordered; ordering across paths
// is not guaranteed.
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingEvent
	output  chan []Event
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   Event
	firstOp Kind
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []Event, 16),
	}
}

// Add enqueues an event, coalescing with any pending event for the path.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(existing.firstOp, event)
		if !keep {
			delete(d.pending, event.Path)
		} else {
			existing.event = merged
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Kind}
	}

	d.scheduleFlush()
}

// coalesce merges a new event into a pending one. keep=false means the
// pair annihilates.
func coalesce(firstOp Kind, next Event) (Event, bool) {
	switch firstOp {
	case Created:
		switch next.Kind {
		case Modified:
			next.Kind = Created
			return next, true
		case Deleted:
			return Event{}, false
		}
	case Deleted:
		if next.Kind == Created {
			next.Kind = Modified
			return next, true
		}
	}
	return next, true
}

// scheduleFlush (re)arms the flush timer. Lock must be held.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits all pending events as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]Event, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer_output_full",
			slog.Int("batch_size", len(events)))
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Idempotent.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
