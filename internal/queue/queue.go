// Package queue implements the durable write queue that records every
// offline mutation until the sync engine replays it against the backend.
//
// Entries are keyed by operation key ("table:record_id"), one pending entry
// per record. Re-queuing a record coalesces into the existing entry instead
// of appending, so a record edited five times offline syncs once with its
// final state. FIFO order falls out of the fixed-width created_at encoding:
// lexicographic order on the column is chronological order.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/store"
)

// Operation is the kind of mutation a queue entry replays.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid reports whether op is one of the three replayable kinds. The
// schema enforces the same set with a CHECK constraint.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// DefaultMaxAttempts is how many times an entry is tried before it is
// parked as failed and left for the operator.
const DefaultMaxAttempts = 3

// DefaultBatchSize bounds one drain pass.
const DefaultBatchSize = 50

// Key builds the operation key for a record.
func Key(table, recordID string) string {
	return table + ":" + recordID
}

// Entry is one queued mutation.
type Entry struct {
	OperationKey string
	TableName    string
	RecordID     string
	Operation    Operation
	Data         []byte
	Attempts     int
	MaxAttempts  int
	Synced       bool
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Exhausted reports whether the entry has used up its attempts.
func (e *Entry) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// Stats summarizes queue state for status displays.
type Stats struct {
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`   // synced = 0, failed included
	Retryable int            `json:"retryable"` // tried at least once, not exhausted
	Failed    int            `json:"failed"`    // out of attempts, needs operator action
	Synced    int            `json:"synced"`
	ByTable   map[string]int `json:"by_table"` // pending per table
}

// Queue persists entries in the sync_queue table.
type Queue struct {
	store *store.Store
}

// New creates a queue over an initialized store.
func New(st *store.Store) (*Queue, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Queue{store: st}, nil
}

// Enqueue records a mutation in its own transaction.
func (q *Queue) Enqueue(ctx context.Context, e Entry) error {
	return q.store.WithTx(ctx, func(tx *sql.Tx) error {
		return q.EnqueueTx(ctx, tx, e)
	})
}

// EnqueueTx records a mutation inside a caller-owned transaction, so a
// record write and its queue entry commit or roll back together.
//
// Three cases:
//   - no entry for the key: insert a fresh one
//   - a synced entry: start over with a fresh one
//   - a pending entry: coalesce operations and refresh the data snapshot,
//     keeping created_at (queue position) and attempts (retry history)
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, e Entry) error {
	if e.TableName == "" || e.RecordID == "" {
		return fmt.Errorf("table name and record id are required")
	}
	if !e.Operation.Valid() {
		return fmt.Errorf("invalid operation %q", e.Operation)
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	key := Key(e.TableName, e.RecordID)
	now := store.FormatTime(time.Now().UTC())

	var (
		existingOp string
		synced     int
	)
	err := tx.QueryRowContext(ctx, `
		SELECT operation_type, synced FROM sync_queue WHERE operation_key = ?
	`, key).Scan(&existingOp, &synced)

	switch {
	case err == sql.ErrNoRows:
		return insertFresh(ctx, tx, key, e, now)

	case err != nil:
		return fmt.Errorf("failed to look up queue entry: %w", err)

	case synced == 1:
		// The previous cycle for this record completed; this is a new one.
		_, err := tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET operation_type = ?, data = ?, attempts = 0, max_attempts = ?,
			    synced = 0, error_message = NULL, created_at = ?, updated_at = ?
			WHERE operation_key = ?
		`, string(e.Operation), e.Data, e.MaxAttempts, now, now, key)
		if err != nil {
			return fmt.Errorf("failed to restart queue entry: %w", err)
		}
		return nil

	default:
		merged, drop := coalesce(Operation(existingOp), e.Operation)
		if drop {
			// Created and deleted before ever syncing: the backend never
			// needs to hear about this record.
			if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE operation_key = ?`, key); err != nil {
				return fmt.Errorf("failed to drop cancelled queue entry: %w", err)
			}
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET operation_type = ?, data = ?, updated_at = ?
			WHERE operation_key = ?
		`, string(merged), e.Data, now, key)
		if err != nil {
			return fmt.Errorf("failed to coalesce queue entry: %w", err)
		}
		return nil
	}
}

func insertFresh(ctx context.Context, tx *sql.Tx, key string, e Entry, now string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (
			operation_key, table_name, record_id, operation_type, data,
			attempts, max_attempts, synced, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, 0, NULL, ?, ?)
	`, key, e.TableName, e.RecordID, string(e.Operation), e.Data, e.MaxAttempts, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return nil
}

// coalesce merges a new operation into a pending one. drop means the entry
// cancels out entirely (insert then delete, never synced).
func coalesce(old, next Operation) (merged Operation, drop bool) {
	switch {
	case old == OpInsert && next == OpDelete:
		return "", true
	case old == OpInsert:
		// Still unknown to the backend; whatever happened since, it is
		// one insert with the latest data.
		return OpInsert, false
	case next == OpDelete:
		return OpDelete, false
	case old == OpDelete:
		// Deleted then re-created before syncing. The backend still has
		// the old row, so the net effect is an update.
		return OpUpdate, false
	default:
		return OpUpdate, false
	}
}

const entryColumns = `operation_key, table_name, record_id, operation_type, data,
	attempts, max_attempts, synced, error_message, created_at, updated_at`

// DequeueBatch returns the oldest pending entries that still have attempts
// left, in enqueue order. It does not mark them; the dispatcher reports
// each outcome explicitly.
func (q *Queue) DequeueBatch(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	rows, err := q.store.DB().QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM sync_queue
		WHERE synced = 0 AND attempts < max_attempts
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the entry for an operation key, or nil when absent.
func (q *Queue) Get(ctx context.Context, operationKey string) (*Entry, error) {
	row := q.store.DB().QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM sync_queue WHERE operation_key = ?
	`, operationKey)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// MarkCompleted flags an entry as synced, but only if it has not been
// touched since seenUpdatedAt. An entry coalesced mid-replay keeps its
// newer snapshot pending instead of being swallowed by the completion of
// the old one. The row is kept for the audit trail; Prune removes old
// ones. Reports whether the entry was actually completed.
func (q *Queue) MarkCompleted(ctx context.Context, operationKey string, seenUpdatedAt time.Time) (bool, error) {
	res, err := q.store.DB().ExecContext(ctx, `
		UPDATE sync_queue
		SET synced = 1, error_message = NULL, updated_at = ?
		WHERE operation_key = ? AND updated_at = ?
	`, store.FormatTime(time.Now().UTC()), operationKey, store.FormatTime(seenUpdatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to complete queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter and stores the error. It
// returns the new attempt count so the caller can tell when an entry just
// ran out.
func (q *Queue) RecordFailure(ctx context.Context, operationKey, message string) (attempts int, err error) {
	err = q.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET attempts = attempts + 1, error_message = ?, updated_at = ?
			WHERE operation_key = ?
		`, message, store.FormatTime(time.Now().UTC()), operationKey)
		if err != nil {
			return fmt.Errorf("failed to record failure: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sync queue entry not found: %s", operationKey)
		}
		return tx.QueryRowContext(ctx, `
			SELECT attempts FROM sync_queue WHERE operation_key = ?
		`, operationKey).Scan(&attempts)
	})
	return attempts, err
}

// MarkExhausted parks an entry immediately, for errors retrying cannot fix.
func (q *Queue) MarkExhausted(ctx context.Context, operationKey, message string) error {
	res, err := q.store.DB().ExecContext(ctx, `
		UPDATE sync_queue
		SET attempts = max_attempts, error_message = ?, updated_at = ?
		WHERE operation_key = ?
	`, message, store.FormatTime(time.Now().UTC()), operationKey)
	if err != nil {
		return fmt.Errorf("failed to park queue entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync queue entry not found: %s", operationKey)
	}
	return nil
}

// Stats counts entries by state.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByTable: make(map[string]int)}

	err := q.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 0 AND attempts >= max_attempts THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 0 AND attempts > 0 AND attempts < max_attempts THEN 1 ELSE 0 END), 0)
		FROM sync_queue
	`).Scan(&stats.Total, &stats.Synced, &stats.Pending, &stats.Failed, &stats.Retryable)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}

	rows, err := q.store.DB().QueryContext(ctx, `
		SELECT table_name, COUNT(*) FROM sync_queue
		WHERE synced = 0
		GROUP BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries by table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table string
		var count int
		if err := rows.Scan(&table, &count); err != nil {
			return nil, fmt.Errorf("failed to scan table count: %w", err)
		}
		stats.ByTable[table] = count
	}
	return stats, rows.Err()
}

// ClearFailed removes entries that are out of attempts. The local record
// stays; only the replay gives up. Returns how many were cleared.
func (q *Queue) ClearFailed(ctx context.Context) (int64, error) {
	res, err := q.store.DB().ExecContext(ctx, `
		DELETE FROM sync_queue WHERE synced = 0 AND attempts >= max_attempts
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear failed entries: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes synced entries older than the cutoff. Returns how many
// rows were removed.
func (q *Queue) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := store.FormatTime(time.Now().UTC().Add(-olderThan))
	res, err := q.store.DB().ExecContext(ctx, `
		DELETE FROM sync_queue WHERE synced = 1 AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune synced entries: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e         Entry
		op        string
		synced    int
		errMsg    sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&e.OperationKey, &e.TableName, &e.RecordID, &op, &e.Data,
		&e.Attempts, &e.MaxAttempts, &synced, &errMsg, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Operation = Operation(op)
	e.Synced = synced == 1
	e.ErrorMessage = errMsg.String
	if e.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if e.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &e, nil
}
