// Package watch turns fsnotify events into typed change notifications for
// the watched directory tree.
//
// fsnotify does not watch recursively, so the watcher registers every
// sub-directory at start and adds newly created directories on the fly. Raw
// notifications are delivered at-least-once with duplicates permitted; the
// debouncer downstream absorbs them.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Op classifies a raw notification.
type Op int

const (
	// OpDirCreated indicates a new sub-directory appeared.
	OpDirCreated Op = iota
	// OpFileCreated indicates a new file appeared.
	OpFileCreated
	// OpFileModified indicates an existing file was written to.
	OpFileModified
)

// String returns a human-readable representation of the op.
func (op Op) String() string {
	switch op {
	case OpDirCreated:
		return "dir_created"
	case OpFileCreated:
		return "file_created"
	case OpFileModified:
		return "file_modified"
	default:
		return "unknown"
	}
}

// Notification is a raw filesystem change, pre-debounce.
type Notification struct {
	Path string
	Op   Op
}

// Watcher monitors a directory tree.
type Watcher struct {
	root    string
	fw      *fsnotify.Watcher
	out     chan Notification
	done    chan struct{}
	wg      sync.WaitGroup
	logger  zerolog.Logger
	mu      sync.Mutex
	running bool
}

// New creates a Watcher for the directory tree rooted at root. The watcher
// must be started with Start before it emits notifications.
func New(root string, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:   root,
		fw:     fw,
		out:    make(chan Notification, 256),
		done:   make(chan struct{}),
		logger: logger,
	}, nil
}

// Start registers the root and all existing sub-directories and begins
// emitting notifications.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		if cerr := w.fw.Close(); cerr != nil {
			w.logger.Warn().Err(cerr).Msg("failed to close watcher after setup error")
		}
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop closes the watcher and waits for the event loop to drain. The
// notification channel is closed afterwards.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.fw.Close(); err != nil {
		return fmt.Errorf("close fsnotify watcher: %w", err)
	}
	w.wg.Wait()
	close(w.out)
	return nil
}

// Notifications returns the channel of raw notifications. Closed by Stop.
func (w *Watcher) Notifications() <-chan Notification {
	return w.out
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			n, ok := w.convert(event)
			if !ok {
				continue
			}
			select {
			case w.out <- n:
			case <-w.done:
				return
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// convert maps an fsnotify event onto a Notification. Newly created
// directories are added to the watch set as a side effect so their contents
// are seen too.
func (w *Watcher) convert(event fsnotify.Event) (Notification, bool) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			// Gone already; a short-lived temp file.
			return Notification{}, false
		}
		if info.IsDir() {
			if err := w.fw.Add(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
			}
			return Notification{Path: event.Name, Op: OpDirCreated}, true
		}
		return Notification{Path: event.Name, Op: OpFileCreated}, true

	case event.Has(fsnotify.Write):
		return Notification{Path: event.Name, Op: OpFileModified}, true

	default:
		// Chmod, remove and rename carry no sync obligation: deleting a
		// local file never deletes remote data.
		return Notification{}, false
	}
}
