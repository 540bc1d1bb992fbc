// Package remote defines the backend contract used to replay queued
// mutations against the authoritative store.
//
// The contract is table-level and row-level: insert, update, upsert, and
// delete one row (or a batch of rows) per call, each returning the
// canonical persisted record with its server-assigned identifier. No
// multi-row transaction is assumed available remotely; callers that need
// multi-entity consistency sequence their own compensating writes.
//
// Implementations register themselves with Register from an init function
// and are selected by driver name through Open:
//
//	backend, err := remote.Open(remote.Config{
//	    Driver:  "rest",
//	    BaseURL: "https://api.example.com",
//	})
//
// Implementations:
//   - internal/remote/rest: HTTP adapter speaking PostgREST conventions
//   - internal/remote/memory: in-memory tables for tests and the dev server
package remote

import (
	"context"
	"time"
)

// Row is one record as the backend sees it. Keys are column names; values
// are whatever the JSON codec produced (strings, float64, bool, nil).
type Row map[string]any

// ID returns the row's "id" column, or "" when absent.
func (r Row) ID() string {
	s, _ := r.String("id")
	return s
}

// String reads a text column.
func (r Row) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int reads a numeric column. JSON decoding produces float64, so both
// forms are accepted.
func (r Row) Int(key string) (int, bool) {
	switch v := r[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Float reads a numeric column.
func (r Row) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Clone returns a shallow copy so callers can mutate without aliasing.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Backend is the remote store contract.
//
// Every call is atomic at the single-row level (batches row by row).
// Implementations map their transport failures onto the sentinel errors in
// this package so callers can classify without knowing the transport.
type Backend interface {
	// Name identifies the backend driver.
	Name() string

	// Ping verifies the backend is reachable and compatible.
	Ping(ctx context.Context) error

	// Insert creates one row and returns the canonical persisted record.
	Insert(ctx context.Context, table string, row Row) (Row, error)

	// InsertMany creates rows one logical batch at a time.
	InsertMany(ctx context.Context, table string, rows []Row) ([]Row, error)

	// Update modifies the row with the given id.
	Update(ctx context.Context, table, id string, row Row) (Row, error)

	// Upsert inserts or merges by the backend's uniqueness rules
	// (id, or the client-supplied client_key).
	Upsert(ctx context.Context, table string, row Row) (Row, error)

	// UpsertMany upserts a batch.
	UpsertMany(ctx context.Context, table string, rows []Row) ([]Row, error)

	// Delete removes the row with the given id. Deleting an absent row
	// is not an error; the desired state already holds.
	Delete(ctx context.Context, table, id string) error

	// Get fetches one row by id.
	Get(ctx context.Context, table, id string) (Row, error)

	// Close releases any transport resources.
	Close() error
}

// Config selects and parameterizes a backend driver.
type Config struct {
	// Driver names the registered implementation ("rest", "memory").
	Driver string

	// BaseURL is the backend root for HTTP drivers.
	BaseURL string

	// Token is the bearer credential, usually loaded from the credential
	// store at startup.
	Token string

	// MinServerVersion gates the Ping handshake for HTTP drivers
	// (semver, e.g. "v1.2.0"). Empty disables the check.
	MinServerVersion string

	// Timeout bounds a single backend call. Zero means the driver default.
	Timeout time.Duration
}
