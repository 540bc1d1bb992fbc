// Package daemon runs the background sync process.
//
// The daemon:
//  1. Drains the sync queue on a fixed interval while the backend is up
//  2. Drains immediately when connectivity comes back
//  3. Watches a drop directory and imports record files other devices leave there
//  4. Holds a file lock so only one instance runs per data directory
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/dispatch"
	"github.com/hermonbest/my-money-sub001/internal/ledger"
	"github.com/hermonbest/my-money-sub001/internal/migrate"
	"github.com/hermonbest/my-money-sub001/internal/netmon"
)

// drainTimeout bounds one drain pass and one drop-file import.
const drainTimeout = 2 * time.Minute

// Notifier receives daemon events, typically to broadcast them to a
// dashboard. Calls happen on the sync loop, so implementations must
// return quickly.
type Notifier interface {
	// DrainFinished reports the outcome of one drain pass.
	DrainFinished(res *dispatch.Result)

	// ConnectivityChanged reports a backend online/offline edge.
	ConnectivityChanged(online bool)

	// StatsUpdated reports fresh queue statistics after a drain.
	StatsUpdated(stats *dispatch.SyncStats)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to drain the queue while online.
	SyncInterval time.Duration

	// DebounceInterval is how long a drop file must sit quiet before it
	// is imported. This keeps half-copied files out of the importer.
	DebounceInterval time.Duration

	// WatchIngest enables the drop-directory watcher.
	WatchIngest bool

	// IngestDir is the drop directory to watch. Required with WatchIngest.
	IngestDir string

	// LockPath is the single-instance lock file. Empty disables locking.
	LockPath string

	// Notifier receives drain results and connectivity edges. Optional.
	Notifier Notifier

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the drain loop and the ingest watcher over one
// opened ledger. The caller keeps ownership of the ledger and closes it
// after the daemon stops.
type Daemon struct {
	led    *ledger.Ledger
	config *Config

	watcher   *IngestWatcher
	pending   map[string]time.Time // drop file -> last event
	pendingMu sync.Mutex

	unlock func() error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a daemon with default configuration.
//
// Use Start() to begin syncing.
func New(led *ledger.Ledger) (*Daemon, error) {
	return NewWithConfig(led, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(led *ledger.Ledger, config *Config) (*Daemon, error) {
	if led == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive")
	}
	if config.DebounceInterval <= 0 {
		return nil, fmt.Errorf("debounce interval must be positive")
	}
	if config.WatchIngest && config.IngestDir == "" {
		return nil, fmt.Errorf("ingest directory is required when watching is enabled")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	var watcher *IngestWatcher
	if config.WatchIngest {
		w, err := NewIngestWatcher()
		if err != nil {
			return nil, err
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		led:     led,
		config:  config,
		watcher: watcher,
		pending: make(map[string]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Take the single-instance lock
//  2. Probe the backend and start the connectivity monitor
//  3. Drain the queue on every interval tick and on reconnect
//  4. Import record files dropped into the ingest directory
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.mu.Unlock()

	if d.config.LockPath != "" {
		unlock, err := acquireLock(d.config.LockPath)
		if err != nil {
			d.setStopped()
			return err
		}
		d.unlock = unlock
	}

	mon := d.led.Monitor()
	events := mon.Subscribe()
	mon.Start()

	// Establish connectivity before the first tick. A success here fires
	// the offline-to-online edge, which triggers the startup drain.
	mon.CheckNow(ctx)

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.IngestDir); err != nil {
			d.setStopped()
			mon.Stop()
			if d.unlock != nil {
				_ = d.unlock()
				d.unlock = nil
			}
			return err
		}
		d.config.Logger.Printf("watching %s for record drops", d.config.IngestDir)

		d.wg.Add(2)
		go d.watchIngestEvents()
		go d.processIngestQueue()
	}

	d.wg.Add(1)
	go d.syncLoop(events)

	d.config.Logger.Printf("daemon started, syncing every %s", d.config.SyncInterval)

	select {
	case <-ctx.Done():
		d.config.Logger.Println("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.config.Logger.Println("stopping daemon")
	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("error closing ingest watcher: %v", err)
		}
	}

	d.wg.Wait()
	d.led.Monitor().Stop()

	if d.unlock != nil {
		if err := d.unlock(); err != nil {
			d.config.Logger.Printf("error releasing daemon lock: %v", err)
		}
		d.unlock = nil
	}

	d.config.Logger.Println("daemon stopped")
	return nil
}

// IsRunning reports whether the daemon is active.
func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// syncLoop drains on a timer while online and immediately on reconnect.
// When a drain leaves retryable failures behind, the next tick moves up
// to the advisory backoff delay instead of waiting the full interval.
func (d *Daemon) syncLoop(events <-chan netmon.Event) {
	defer d.wg.Done()

	timer := time.NewTimer(d.config.SyncInterval)
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.notifyConnectivity(ev.Online)
			if !ev.Online {
				d.config.Logger.Println("backend offline, sync paused")
				continue
			}
			d.config.Logger.Println("backend reachable, draining queue")
			d.drain()
			stopTimer(timer)
			timer.Reset(d.config.SyncInterval)

		case <-timer.C:
			next := d.config.SyncInterval
			if d.led.Monitor().Online() {
				if wait := d.drain(); wait > 0 && wait < next {
					next = wait
				}
			}
			timer.Reset(next)
		}
	}
}

// drain runs one pass and returns the advisory delay before the next.
func (d *Daemon) drain() time.Duration {
	ctx, cancel := context.WithTimeout(d.ctx, drainTimeout)
	defer cancel()

	res, err := d.led.Sync(ctx)
	if err != nil {
		// Someone else is already draining; their pass covers ours.
		if !errors.Is(err, dispatch.ErrDrainInProgress) {
			d.config.Logger.Printf("sync failed: %v", err)
		}
		return 0
	}

	if res.Processed > 0 {
		d.config.Logger.Printf("drained %d operations: %d succeeded, %d failed",
			res.Processed, res.Succeeded, res.Failed)
	}
	d.notifyDrain(res)
	return res.Backoff()
}

func (d *Daemon) notifyDrain(res *dispatch.Result) {
	if d.config.Notifier == nil {
		return
	}
	d.config.Notifier.DrainFinished(res)

	ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
	defer cancel()
	if stats, err := d.led.SyncStats(ctx); err == nil {
		d.config.Notifier.StatsUpdated(stats)
	}
}

func (d *Daemon) notifyConnectivity(online bool) {
	if d.config.Notifier != nil {
		d.config.Notifier.ConnectivityChanged(online)
	}
}

// watchIngestEvents queues drop-file changes for debounced processing.
func (d *Daemon) watchIngestEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			switch ev.Op {
			case IngestArrive:
				d.queueIngest(ev.Path)
			case IngestRemove:
				d.dropIngest(ev.Path)
			}

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("ingest watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueIngest(path string) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending[path] = time.Now()
}

func (d *Daemon) dropIngest(path string) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	delete(d.pending, path)
}

// processIngestQueue imports drop files once they settle.
func (d *Daemon) processIngestQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.ingestSettled()
		}
	}
}

// ingestSettled imports files whose last event is at least one debounce
// interval old. A file still being copied keeps refreshing its timestamp
// and stays pending.
func (d *Daemon) ingestSettled() {
	now := time.Now()

	d.pendingMu.Lock()
	var ready []string
	for path, seen := range d.pending {
		if now.Sub(seen) >= d.config.DebounceInterval {
			ready = append(ready, path)
			delete(d.pending, path)
		}
	}
	d.pendingMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		d.ingestFile(path)
	}
}

// ingestFile imports one drop file and renames it out of the way.
func (d *Daemon) ingestFile(path string) {
	ctx, cancel := context.WithTimeout(d.ctx, drainTimeout)
	defer cancel()

	name := filepath.Base(path)
	res, err := migrate.Import(ctx, d.led.Store(), d.led.Queue(), migrate.ImportOptions{Path: path})
	if err != nil {
		d.config.Logger.Printf("failed to import %s: %v", name, err)
		return
	}

	d.config.Logger.Printf("imported %s: %d records, %d skipped, %d queued for sync",
		name, res.Imported, res.Skipped, res.Requeued)
	for _, msg := range res.Errors {
		d.config.Logger.Printf("import %s: %s", name, msg)
	}

	if err := os.Rename(path, path+".done"); err != nil {
		d.config.Logger.Printf("failed to archive %s: %v", name, err)
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
