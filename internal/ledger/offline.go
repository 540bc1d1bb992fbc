package ledger

import (
	"context"
	"fmt"

	"github.com/hermonbest/my-money-sub001/internal/remote"
)

// offlineBackend stands in when no backend URL is configured. Every call
// fails as unavailable, which keeps queued operations retryable instead of
// parking them, and the monitor never reports online so the daemon never
// burns attempts against it.
type offlineBackend struct{}

var errNotConfigured = fmt.Errorf("%w: no backend URL configured", remote.ErrUnavailable)

func (offlineBackend) Name() string { return "offline" }

func (offlineBackend) Ping(context.Context) error { return errNotConfigured }

func (offlineBackend) Insert(context.Context, string, remote.Row) (remote.Row, error) {
	return nil, errNotConfigured
}

func (offlineBackend) InsertMany(context.Context, string, []remote.Row) ([]remote.Row, error) {
	return nil, errNotConfigured
}

func (offlineBackend) Update(context.Context, string, string, remote.Row) (remote.Row, error) {
	return nil, errNotConfigured
}

func (offlineBackend) Upsert(context.Context, string, remote.Row) (remote.Row, error) {
	return nil, errNotConfigured
}

func (offlineBackend) UpsertMany(context.Context, string, []remote.Row) ([]remote.Row, error) {
	return nil, errNotConfigured
}

func (offlineBackend) Delete(context.Context, string, string) error { return errNotConfigured }

func (offlineBackend) Get(context.Context, string, string) (remote.Row, error) {
	return nil, errNotConfigured
}

func (offlineBackend) Close() error { return nil }
