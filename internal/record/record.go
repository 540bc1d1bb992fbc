// Package record implements entity-aware storage for the ledger: inventory
// items, sales with their line items, expenses, and store profiles.
//
// Every mutation follows the same shape: write the record locally inside a
// transaction, and enqueue a sync operation in that same transaction, so a
// record and its pending sync commit or roll back together. Records created
// offline carry temporary identifiers until the sync engine adopts the
// server-assigned ones; the temporary value stays behind in the temp_id
// column as a lookup key for records that still reference it.
package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/payload"
	"github.com/hermonbest/my-money-sub001/internal/queue"
	"github.com/hermonbest/my-money-sub001/internal/store"
)

// Table names shared with the sync queue and the remote backend.
const (
	TableInventory = "inventory"
	TableSales     = "sales"
	TableSaleItems = "sale_items"
	TableExpenses  = "expenses"
	TableProfiles  = "profiles"
)

// DefaultSaleLockWait is how long a second sale waits for the in-flight one
// before giving up with ErrBusy.
const DefaultSaleLockWait = 250 * time.Millisecond

// Repo provides entity-level CRUD over the local store.
type Repo struct {
	store        *store.Store
	queue        *queue.Queue
	saleLockWait time.Duration

	// saleMu holds a single token; taking it is acquiring the sale lock.
	// Only one sale may be mid-flight at a time so two concurrent sales
	// cannot double-decrement the same inventory row.
	saleMu chan struct{}
}

// Config holds repository construction options.
type Config struct {
	Store *store.Store
	Queue *queue.Queue

	// SaleLockWait overrides DefaultSaleLockWait (tests use a short one).
	SaleLockWait time.Duration
}

// New creates a repository over an initialized store and queue.
func New(cfg Config) (*Repo, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.SaleLockWait <= 0 {
		cfg.SaleLockWait = DefaultSaleLockWait
	}

	r := &Repo{
		store:        cfg.Store,
		queue:        cfg.Queue,
		saleLockWait: cfg.SaleLockWait,
		saleMu:       make(chan struct{}, 1),
	}
	r.saleMu <- struct{}{}
	return r, nil
}

// acquireSaleLock takes the sale token. If another sale holds it, wait
// briefly once; if it is still held after the wait, report busy rather
// than queueing up behind it.
func (r *Repo) acquireSaleLock(ctx context.Context) error {
	select {
	case <-r.saleMu:
		return nil
	default:
	}

	timer := time.NewTimer(r.saleLockWait)
	defer timer.Stop()

	select {
	case <-r.saleMu:
		return nil
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Repo) releaseSaleLock() {
	r.saleMu <- struct{}{}
}

// enqueueTx appends a sync operation inside the caller's transaction.
func (r *Repo) enqueueTx(ctx context.Context, tx *sql.Tx, table, recordID string, op queue.Operation, env payload.Envelope) error {
	data, err := payload.Encode(env)
	if err != nil {
		return fmt.Errorf("failed to encode sync payload: %w", err)
	}
	return r.queue.EnqueueTx(ctx, tx, queue.Entry{
		TableName: table,
		RecordID:  recordID,
		Operation: op,
		Data:      data,
	})
}

// MarkRecordSynced flags a local record as confirmed by the backend. Used
// by the dispatcher after an update replays cleanly.
func (r *Repo) MarkRecordSynced(ctx context.Context, table, id string) error {
	now := store.FormatTime(time.Now().UTC())

	var res sql.Result
	var err error
	switch table {
	case TableInventory:
		res, err = r.store.DB().ExecContext(ctx,
			`UPDATE inventory SET synced = 1, is_offline = 0, updated_at = ? WHERE id = ? OR temp_id = ?`, now, id, id)
	case TableSales:
		res, err = r.store.DB().ExecContext(ctx,
			`UPDATE sales SET synced = 1, is_offline = 0, updated_at = ? WHERE id = ? OR temp_id = ?`, now, id, id)
	case TableExpenses:
		res, err = r.store.DB().ExecContext(ctx,
			`UPDATE expenses SET synced = 1, is_offline = 0, updated_at = ? WHERE id = ? OR temp_id = ?`, now, id, id)
	case TableProfiles:
		res, err = r.store.DB().ExecContext(ctx,
			`UPDATE profiles SET synced = 1, updated_at = ? WHERE id = ?`, now, id)
	default:
		return fmt.Errorf("cannot mark synced: unknown table %q", table)
	}
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s synced: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
	}
	return nil
}

// querier lets stock validation run against the pool or inside a
// transaction with the same code.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
