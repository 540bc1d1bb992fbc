// Package memory provides an in-memory backend for tests and the dev
// server.
//
// Rows live in per-table maps guarded by one mutex. Server-assigned
// identifiers are sequential ("srv-000001"), and replays are recognized by
// the client-supplied client_key column, mirroring how the HTTP backend
// deduplicates offline inserts. Failure injection hooks simulate outages
// and per-table rejections.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hermonbest/my-money-sub001/internal/remote"
)

func init() {
	remote.Register("memory", func(cfg remote.Config) (remote.Backend, error) {
		return New(), nil
	})
}

// Backend stores rows in memory.
type Backend struct {
	mu         sync.Mutex
	tables     map[string]map[string]remote.Row // table -> id -> row
	clientKeys map[string]map[string]string     // table -> client_key -> id
	seq        int

	down      bool
	failNext  int
	failErr   error
	tableErrs map[string]error
}

var _ remote.Backend = (*Backend)(nil)

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		tables:     make(map[string]map[string]remote.Row),
		clientKeys: make(map[string]map[string]string),
		tableErrs:  make(map[string]error),
	}
}

// Name identifies the driver.
func (b *Backend) Name() string { return "memory" }

// Ping reports the injected availability state.
func (b *Backend) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return remote.ErrUnavailable
	}
	return nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// SetDown forces every call to fail with ErrUnavailable until cleared.
func (b *Backend) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// FailNext makes the next n data calls return err.
func (b *Backend) FailNext(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
	b.failErr = err
}

// FailTable makes every call touching table return err. Pass nil to clear.
func (b *Backend) FailTable(table string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.tableErrs, table)
		return
	}
	b.tableErrs[table] = err
}

// checkFail consumes injected failures. Callers hold b.mu.
func (b *Backend) checkFail(table string) error {
	if b.down {
		return remote.ErrUnavailable
	}
	if err, ok := b.tableErrs[table]; ok {
		return err
	}
	if b.failNext > 0 {
		b.failNext--
		return b.failErr
	}
	return nil
}

func (b *Backend) table(name string) map[string]remote.Row {
	t, ok := b.tables[name]
	if !ok {
		t = make(map[string]remote.Row)
		b.tables[name] = t
	}
	return t
}

func (b *Backend) keys(name string) map[string]string {
	k, ok := b.clientKeys[name]
	if !ok {
		k = make(map[string]string)
		b.clientKeys[name] = k
	}
	return k
}

func (b *Backend) nextID() string {
	b.seq++
	return fmt.Sprintf("srv-%06d", b.seq)
}

// insertLocked stores a new row, assigning a server id. Callers hold b.mu.
func (b *Backend) insertLocked(table string, row remote.Row) remote.Row {
	stored := row.Clone()
	stored["id"] = b.nextID()
	b.table(table)[stored.ID()] = stored

	if key, ok := stored.String("client_key"); ok && key != "" {
		b.keys(table)[key] = stored.ID()
	}
	return stored.Clone()
}

// findByClientKeyLocked resolves a replayed row. Callers hold b.mu.
func (b *Backend) findByClientKeyLocked(table string, row remote.Row) (remote.Row, bool) {
	key, ok := row.String("client_key")
	if !ok || key == "" {
		return nil, false
	}
	id, ok := b.keys(table)[key]
	if !ok {
		return nil, false
	}
	existing, ok := b.table(table)[id]
	return existing, ok
}

// Insert creates one row. A replay carrying a known client_key returns the
// row created the first time instead of a duplicate.
func (b *Backend) Insert(ctx context.Context, table string, row remote.Row) (remote.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkFail(table); err != nil {
		return nil, err
	}
	if existing, ok := b.findByClientKeyLocked(table, row); ok {
		return existing.Clone(), nil
	}
	if id := row.ID(); id != "" {
		if _, exists := b.table(table)[id]; exists {
			return nil, fmt.Errorf("%w: %s id %s", remote.ErrConflict, table, id)
		}
	}
	return b.insertLocked(table, row), nil
}

// InsertMany creates rows one at a time.
func (b *Backend) InsertMany(ctx context.Context, table string, rows []remote.Row) ([]remote.Row, error) {
	out := make([]remote.Row, 0, len(rows))
	for _, row := range rows {
		created, err := b.Insert(ctx, table, row)
		if err != nil {
			return out, err
		}
		out = append(out, created)
	}
	return out, nil
}

// Update merges columns into the row with the given id.
func (b *Backend) Update(ctx context.Context, table, id string, row remote.Row) (remote.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkFail(table); err != nil {
		return nil, err
	}
	existing, ok := b.table(table)[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s id %s", remote.ErrNotFound, table, id)
	}
	for k, v := range row {
		if k == "id" {
			continue
		}
		existing[k] = v
	}
	return existing.Clone(), nil
}

// Upsert merges by id, then by client_key, then inserts.
func (b *Backend) Upsert(ctx context.Context, table string, row remote.Row) (remote.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkFail(table); err != nil {
		return nil, err
	}

	merge := func(existing remote.Row) remote.Row {
		for k, v := range row {
			if k == "id" {
				continue
			}
			existing[k] = v
		}
		return existing.Clone()
	}

	if id := row.ID(); id != "" {
		if existing, ok := b.table(table)[id]; ok {
			return merge(existing), nil
		}
	}
	if existing, ok := b.findByClientKeyLocked(table, row); ok {
		return merge(existing), nil
	}
	return b.insertLocked(table, row), nil
}

// UpsertMany upserts rows one at a time.
func (b *Backend) UpsertMany(ctx context.Context, table string, rows []remote.Row) ([]remote.Row, error) {
	out := make([]remote.Row, 0, len(rows))
	for _, row := range rows {
		stored, err := b.Upsert(ctx, table, row)
		if err != nil {
			return out, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// Delete removes the row. Deleting an absent row succeeds.
func (b *Backend) Delete(ctx context.Context, table, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkFail(table); err != nil {
		return err
	}
	if row, ok := b.table(table)[id]; ok {
		if key, ok := row.String("client_key"); ok {
			delete(b.keys(table), key)
		}
		delete(b.table(table), id)
	}
	return nil
}

// Get fetches one row by id.
func (b *Backend) Get(ctx context.Context, table, id string) (remote.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkFail(table); err != nil {
		return nil, err
	}
	row, ok := b.table(table)[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s id %s", remote.ErrNotFound, table, id)
	}
	return row.Clone(), nil
}

// Count returns the number of rows in a table.
func (b *Backend) Count(table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.table(table))
}

// Rows returns a snapshot of a table, for assertions.
func (b *Backend) Rows(table string) []remote.Row {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]remote.Row, 0, len(b.table(table)))
	for _, row := range b.table(table) {
		out = append(out, row.Clone())
	}
	return out
}

// Seed loads rows directly, assigning server ids to any without one.
func (b *Backend) Seed(table string, rows ...remote.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, row := range rows {
		stored := row.Clone()
		if stored.ID() == "" {
			stored["id"] = b.nextID()
		}
		b.table(table)[stored.ID()] = stored
		if key, ok := stored.String("client_key"); ok && key != "" {
			b.keys(table)[key] = stored.ID()
		}
	}
}
