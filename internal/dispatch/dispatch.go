// Package dispatch drains the sync queue against a remote backend.
//
// A drain dequeues the oldest pending operations and replays them one at a
// time, oldest first. Each entry either completes, records a failure and
// waits for a later drain, or is parked once its error is one no retry can
// fix. A started batch always runs to the end: draining is how queued work
// gets off the device, so it is never abandoned halfway through.
//
// Only one drain runs at a time. Callers that poll (the daemon loop, the
// dashboard) treat ErrDrainInProgress as "already being handled".
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/payload"
	"github.com/hermonbest/my-money-sub001/internal/queue"
	"github.com/hermonbest/my-money-sub001/internal/record"
	"github.com/hermonbest/my-money-sub001/internal/remote"
)

// ErrDrainInProgress is returned by Drain when another drain holds the
// processing slot.
var ErrDrainInProgress = errors.New("a sync drain is already running")

// ErrUnresolvableReference is returned when a sale line still points at a
// temporary inventory id that has no adopted counterpart yet. Transient:
// the inventory operation sits earlier in the queue and will usually have
// synced by the next drain.
var ErrUnresolvableReference = errors.New("unresolvable inventory reference")

// errUnroutable flags an operation no handler claims. Permanent: replaying
// the same entry cannot route it anywhere else.
var errUnroutable = errors.New("no handler for operation")

// OperationError describes one failed replay inside a drain.
type OperationError struct {
	OperationKey string `json:"operation_key"`
	TableName    string `json:"table_name"`
	RecordID     string `json:"record_id"`
	Attempts     int    `json:"attempts"`
	Exhausted    bool   `json:"exhausted"`
	Message      string `json:"message"`
}

// Result summarizes one drain.
type Result struct {
	Processed int              `json:"processed"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Errors    []OperationError `json:"errors,omitempty"`
}

// Backoff returns the advisory delay before the next drain, taken from the
// soonest-eligible entry that is still retryable. Zero means nothing in
// this batch is waiting on a retry.
func (r *Result) Backoff() time.Duration {
	var soonest time.Duration
	for _, e := range r.Errors {
		if e.Exhausted {
			continue
		}
		// Attempts counts recorded failures, so the attempt that just
		// failed is number Attempts-1.
		d := NextDelay(e.Attempts - 1)
		if soonest == 0 || d < soonest {
			soonest = d
		}
	}
	return soonest
}

// SyncStats is the queue state plus the dispatcher's own status, the shape
// surfaced to the CLI and the dashboard.
type SyncStats struct {
	Pending       int            `json:"pending_operations"`
	Retryable     int            `json:"retryable_operations"`
	Failed        int            `json:"failed_operations"`
	Synced        int            `json:"synced_operations"`
	ByTable       map[string]int `json:"by_table,omitempty"`
	IsProcessing  bool           `json:"is_processing"`
	LastProcessed time.Time      `json:"last_processed"`
}

// Dispatcher replays queued operations against the backend.
type Dispatcher struct {
	queue     *queue.Queue
	repo      *record.Repo
	backend   remote.Backend
	batchSize int
	logger    *log.Logger

	mu            sync.Mutex
	processing    bool
	lastProcessed time.Time
}

// Config holds dispatcher construction options.
type Config struct {
	Queue   *queue.Queue
	Repo    *record.Repo
	Backend remote.Backend

	// BatchSize caps how many entries one drain dequeues. Defaults to
	// queue.DefaultBatchSize.
	BatchSize int

	// Logger defaults to stderr with a "[sync] " prefix.
	Logger *log.Logger
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Repo == nil {
		return nil, fmt.Errorf("repo is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = queue.DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	return &Dispatcher{
		queue:     cfg.Queue,
		repo:      cfg.Repo,
		backend:   cfg.Backend,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}, nil
}

// Drain replays one batch of pending operations, oldest first. Every
// dequeued entry runs to completion or failure; the context is consulted
// by the individual backend calls, not between entries.
func (d *Dispatcher) Drain(ctx context.Context) (*Result, error) {
	d.mu.Lock()
	if d.processing {
		d.mu.Unlock()
		return nil, ErrDrainInProgress
	}
	d.processing = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.processing = false
		d.lastProcessed = time.Now().UTC()
		d.mu.Unlock()
	}()

	entries, err := d.queue.DequeueBatch(ctx, d.batchSize)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if len(entries) == 0 {
		return res, nil
	}
	d.logger.Printf("draining %d queued operation(s)", len(entries))

	for _, e := range entries {
		res.Processed++

		if err := d.replay(ctx, e); err != nil {
			d.recordFailure(ctx, res, e, err)
			continue
		}

		done, err := d.queue.MarkCompleted(ctx, e.OperationKey, e.UpdatedAt)
		if err != nil {
			d.recordFailure(ctx, res, e, err)
			continue
		}
		if !done {
			d.logger.Printf("%s changed mid-replay, leaving it pending", e.OperationKey)
		}
		res.Succeeded++
	}

	d.logger.Printf("drain finished: %d ok, %d failed", res.Succeeded, res.Failed)
	return res, nil
}

// recordFailure books a failed replay into the queue and the result.
// Permanent errors park the entry immediately; transient ones burn one
// attempt and wait for a later drain.
func (d *Dispatcher) recordFailure(ctx context.Context, res *Result, e *queue.Entry, cause error) {
	res.Failed++

	opErr := OperationError{
		OperationKey: e.OperationKey,
		TableName:    e.TableName,
		RecordID:     e.RecordID,
		Message:      cause.Error(),
	}

	if isPermanent(cause) {
		if err := d.queue.MarkExhausted(ctx, e.OperationKey, cause.Error()); err != nil {
			d.logger.Printf("failed to park %s: %v", e.OperationKey, err)
		}
		opErr.Attempts = e.MaxAttempts
		opErr.Exhausted = true
		d.logger.Printf("%s failed permanently: %v", e.OperationKey, cause)
	} else {
		attempts, err := d.queue.RecordFailure(ctx, e.OperationKey, cause.Error())
		if err != nil {
			d.logger.Printf("failed to record failure for %s: %v", e.OperationKey, err)
			attempts = e.Attempts + 1
		}
		opErr.Attempts = attempts
		opErr.Exhausted = attempts >= e.MaxAttempts
		d.logger.Printf("%s failed (attempt %d/%d): %v", e.OperationKey, attempts, e.MaxAttempts, cause)
	}

	res.Errors = append(res.Errors, opErr)
}

// isPermanent reports whether no retry can fix the error: payloads that do
// not decode, operations nothing routes, and requests the backend rejects
// outright.
func isPermanent(err error) bool {
	return payload.IsPermanent(err) ||
		remote.IsPermanent(err) ||
		errors.Is(err, errUnroutable)
}

// Stats merges queue counts with the dispatcher's own state.
func (d *Dispatcher) Stats(ctx context.Context) (*SyncStats, error) {
	qs, err := d.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	processing := d.processing
	last := d.lastProcessed
	d.mu.Unlock()

	return &SyncStats{
		Pending:       qs.Pending,
		Retryable:     qs.Retryable,
		Failed:        qs.Failed,
		Synced:        qs.Synced,
		ByTable:       qs.ByTable,
		IsProcessing:  processing,
		LastProcessed: last,
	}, nil
}

// ClearFailed drops every parked entry. The local records they carried
// stay; only the replay gives up.
func (d *Dispatcher) ClearFailed(ctx context.Context) (int64, error) {
	n, err := d.queue.ClearFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Printf("cleared %d failed operation(s)", n)
	}
	return n, nil
}
