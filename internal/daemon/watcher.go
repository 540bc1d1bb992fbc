package daemon

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// IngestOp classifies a drop-directory change.
type IngestOp int

const (
	// IngestArrive indicates a record file appeared or grew.
	IngestArrive IngestOp = iota
	// IngestRemove indicates a record file disappeared.
	IngestRemove
)

// String returns a human-readable representation of the operation.
func (op IngestOp) String() string {
	switch op {
	case IngestArrive:
		return "arrive"
	case IngestRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// IngestEvent is one observed change to a record drop file.
type IngestEvent struct {
	// Path is the path of the file that changed.
	Path string
	// Op is what happened to it.
	Op IngestOp
}

// IngestWatcher watches the drop directory where other devices leave
// exported record files. It uses fsnotify for cross-platform file system
// event monitoring and only reports .jsonl files.
type IngestWatcher struct {
	watcher *fsnotify.Watcher
	events  chan IngestEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewIngestWatcher creates a watcher. It emits nothing until Start.
func NewIngestWatcher() (*IngestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &IngestWatcher{
		watcher: watcher,
		events:  make(chan IngestEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir, creating it first if needed.
func (w *IngestWatcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ingest directory: %w", err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch ingest directory %s: %w", dir, err)
	}
	w.dir = dir

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and closes the event channels. It blocks until the
// event processing goroutine has exited.
func (w *IngestWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return nil
}

// Events returns the channel that emits drop-file changes.
// It is closed when the watcher is stopped.
func (w *IngestWatcher) Events() <-chan IngestEvent {
	return w.events
}

// Errors returns the channel that emits watcher errors.
// It is closed when the watcher is stopped.
func (w *IngestWatcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether the watcher is active.
func (w *IngestWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *IngestWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ingestEvent, ok := convertEvent(event); ok {
				select {
				case w.events <- ingestEvent:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to an IngestEvent. Chmod and
// non-.jsonl files are ignored, including the .done files the daemon
// leaves behind after importing.
func convertEvent(event fsnotify.Event) (IngestEvent, bool) {
	if !strings.HasSuffix(event.Name, ".jsonl") {
		return IngestEvent{}, false
	}

	var op IngestOp
	switch {
	case event.Has(fsnotify.Create):
		op = IngestArrive
	case event.Has(fsnotify.Write):
		op = IngestArrive
	case event.Has(fsnotify.Remove):
		op = IngestRemove
	case event.Has(fsnotify.Rename):
		// A rename away reads as removal; a rename in triggers a create.
		op = IngestRemove
	default:
		return IngestEvent{}, false
	}

	return IngestEvent{Path: event.Name, Op: op}, true
}
