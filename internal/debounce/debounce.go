// Package debounce coalesces bursts of raw filesystem notifications into
// single logical change events.
//
// Editors and copy tools emit several write notifications per logical save.
// The debouncer restarts a per-path quiet-period timer on every notification
// and emits exactly one Event once the path has been quiet for the configured
// window. It also guarantees that no two events for the same path are in
// flight at once: notifications arriving while a previous event for that path
// is still being processed are queued and re-emitted after the consumer acks
// with Done.
package debounce

import (
	"sync"
	"time"
)

// Kind classifies a logical filesystem change.
type Kind int

const (
	// DirCreated indicates a new sub-directory appeared.
	DirCreated Kind = iota
	// FileCreated indicates a new file appeared.
	FileCreated
	// FileModified indicates an existing file was written to.
	FileModified
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case DirCreated:
		return "dir_created"
	case FileCreated:
		return "file_created"
	case FileModified:
		return "file_modified"
	default:
		return "unknown"
	}
}

// Event is a debounced filesystem change. It is consumed exactly once.
type Event struct {
	Path string
	Kind Kind
	Time time.Time
}

// DefaultQuietWindow is the debounce window used when none is configured.
const DefaultQuietWindow = 2 * time.Second

// Debouncer coalesces notifications per path.
type Debouncer struct {
	quiet time.Duration
	out   chan Event
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	timers   map[string]*time.Timer
	pending  map[string]Kind
	inflight map[string]bool
	queued   map[string]Kind
}

// New creates a Debouncer with the given quiet window. A zero or negative
// window falls back to DefaultQuietWindow. The buffer bounds how many emitted
// events can be waiting for a consumer.
func New(quiet time.Duration, buffer int) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Debouncer{
		quiet:    quiet,
		out:      make(chan Event, buffer),
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
		pending:  map[string]Kind{},
		inflight: map[string]bool{},
		queued:   map[string]Kind{},
	}
}

// Events returns the channel of debounced events. The channel is closed by
// Close.
func (d *Debouncer) Events() <-chan Event {
	return d.out
}

// Notify records a raw notification for path and restarts its quiet timer.
// Safe to call from any goroutine.
func (d *Debouncer) Notify(path string, kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	if prev, ok := d.pending[path]; ok {
		kind = merge(prev, kind)
	}
	d.pending[path] = kind

	if timer, ok := d.timers[path]; ok {
		timer.Reset(d.quiet)
		return
	}
	d.timers[path] = time.AfterFunc(d.quiet, func() { d.fire(path) })
}

// Done tells the debouncer the consumer finished processing the last event
// emitted for path. If notifications arrived in the meantime, the queued
// change is re-emitted immediately.
func (d *Debouncer) Done(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inflight, path)

	kind, ok := d.queued[path]
	if !ok || d.closed {
		return
	}
	delete(d.queued, path)
	d.emitLocked(path, kind)
}

// Close stops all timers and closes the event channel once in-flight emits
// have drained. Pending, not-yet-fired changes are dropped.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for path, timer := range d.timers {
		timer.Stop()
		delete(d.timers, path)
	}
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
	close(d.out)
}

// fire runs when a path's quiet timer elapses.
func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	kind, ok := d.pending[path]
	if !ok {
		return
	}
	delete(d.pending, path)
	delete(d.timers, path)

	if d.inflight[path] {
		// An event for this path is still being processed. Queue
		// instead of overlapping; Done will re-emit.
		if prev, queued := d.queued[path]; queued {
			kind = merge(prev, kind)
		}
		d.queued[path] = kind
		return
	}
	d.emitLocked(path, kind)
}

// emitLocked marks path in flight and delivers the event asynchronously.
// Caller holds d.mu.
func (d *Debouncer) emitLocked(path string, kind Kind) {
	d.inflight[path] = true
	ev := Event{Path: path, Kind: kind, Time: time.Now()}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case d.out <- ev:
		case <-d.done:
		}
	}()
}

// merge combines two kinds observed for the same path within one window.
// Creation dominates modification so a brand-new file is reported as created
// even when followup writes land in the same burst.
func merge(a, b Kind) Kind {
	if a == DirCreated || b == DirCreated {
		return DirCreated
	}
	if a == FileCreated || b == FileCreated {
		return FileCreated
	}
	return FileModified
}
