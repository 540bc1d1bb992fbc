package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func setupTestWatcher(t *testing.T) (*IngestWatcher, string) {
	t.Helper()

	dir := t.TempDir()
	w, err := NewIngestWatcher()
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w, dir
}

func TestIngestWatcherStartStop(t *testing.T) {
	dir := t.TempDir()

	w, err := NewIngestWatcher()
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher reports running before start")
	}

	if err := w.Start(dir); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	if !w.IsRunning() {
		t.Error("watcher not running after start")
	}
	if err := w.Start(dir); err == nil {
		t.Error("expected second start to fail")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("stop failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher still running after stop")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second stop should be a no-op, got: %v", err)
	}
}

func TestIngestWatcherCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ingest")

	w, err := NewIngestWatcher()
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("failed to start watcher on a missing directory: %v", err)
	}
	defer w.Stop()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("ingest directory not created: %v", err)
	}
}

func TestIngestWatcherEmitsArrivals(t *testing.T) {
	w, dir := setupTestWatcher(t)

	path := filepath.Join(dir, "transfer.jsonl")
	if err := os.WriteFile(path, []byte(`{"table":"inventory"}`+"\n"), 0o600); err != nil {
		t.Fatalf("failed to write drop file: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Errorf("expected event for %s, got %s", path, ev.Path)
		}
		if ev.Op != IngestArrive {
			t.Errorf("expected arrive, got %s", ev.Op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event for new drop file")
	}
}

func TestIngestWatcherIgnoresOtherFiles(t *testing.T) {
	w, dir := setupTestWatcher(t)

	for _, name := range []string{"notes.txt", "transfer.jsonl.done", "data.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event for %s", ev.Path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConvertEvent(t *testing.T) {
	tests := []struct {
		name   string
		event  fsnotify.Event
		wantOk bool
		wantOp IngestOp
	}{
		{"create jsonl", fsnotify.Event{Name: "a.jsonl", Op: fsnotify.Create}, true, IngestArrive},
		{"write jsonl", fsnotify.Event{Name: "a.jsonl", Op: fsnotify.Write}, true, IngestArrive},
		{"remove jsonl", fsnotify.Event{Name: "a.jsonl", Op: fsnotify.Remove}, true, IngestRemove},
		{"rename jsonl", fsnotify.Event{Name: "a.jsonl", Op: fsnotify.Rename}, true, IngestRemove},
		{"chmod ignored", fsnotify.Event{Name: "a.jsonl", Op: fsnotify.Chmod}, false, 0},
		{"done file ignored", fsnotify.Event{Name: "a.jsonl.done", Op: fsnotify.Create}, false, 0},
		{"other extension", fsnotify.Event{Name: "a.json", Op: fsnotify.Create}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := convertEvent(tt.event)
			if ok != tt.wantOk {
				t.Fatalf("convertEvent() ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && ev.Op != tt.wantOp {
				t.Errorf("convertEvent() op = %s, want %s", ev.Op, tt.wantOp)
			}
		})
	}
}
