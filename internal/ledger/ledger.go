// Package ledger assembles the full offline ledger: the local store, the
// sync queue, the record repository, the credential store, the remote
// backend, the connectivity monitor, and the dispatcher, opened and closed
// as one unit.
//
// Everything works with no backend configured: records commit locally, the
// queue accumulates, and sync attempts report the backend as unavailable
// until a URL and token show up. That is the normal first-run state, not
// an error.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/config"
	"github.com/hermonbest/my-money-sub001/internal/creds"
	"github.com/hermonbest/my-money-sub001/internal/dispatch"
	"github.com/hermonbest/my-money-sub001/internal/netmon"
	"github.com/hermonbest/my-money-sub001/internal/queue"
	"github.com/hermonbest/my-money-sub001/internal/record"
	"github.com/hermonbest/my-money-sub001/internal/remote"
	"github.com/hermonbest/my-money-sub001/internal/store"

	// Registered backend drivers.
	_ "github.com/hermonbest/my-money-sub001/internal/remote/memory"
	_ "github.com/hermonbest/my-money-sub001/internal/remote/rest"
)

// Ledger is the assembled application core.
type Ledger struct {
	cfg     *config.Config
	store   *store.Store
	queue   *queue.Queue
	repo    *record.Repo
	creds   *creds.Store
	backend remote.Backend
	disp    *dispatch.Dispatcher
	monitor *netmon.Monitor
	logger  *log.Logger
}

// Options configures Open.
type Options struct {
	Config *config.Config

	// Backend overrides the configured driver. Tests wire the in-memory
	// backend here.
	Backend remote.Backend

	// Logger is the base logger; components derive prefixed loggers from
	// its writer. Defaults to stderr.
	Logger *log.Logger
}

// Open initializes every component. The data directory and schema are
// created on first use.
func Open(opts Options) (*Ledger, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := opts.Logger
	if base == nil {
		base = log.New(os.Stderr, "", log.LstdFlags)
	}

	st, err := store.Open(cfg.Data.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, err
	}

	q, err := queue.New(st)
	if err != nil {
		st.Close()
		return nil, err
	}
	repo, err := record.New(record.Config{Store: st, Queue: q})
	if err != nil {
		st.Close()
		return nil, err
	}
	credStore, err := creds.NewStore(cfg.Data.CredentialsPath())
	if err != nil {
		st.Close()
		return nil, err
	}

	backend := opts.Backend
	if backend == nil {
		backend, err = openBackend(cfg, credStore)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	disp, err := dispatch.New(dispatch.Config{
		Queue:     q,
		Repo:      repo,
		Backend:   backend,
		BatchSize: cfg.Sync.BatchSize,
		Logger:    componentLogger(base, "[sync] "),
	})
	if err != nil {
		backend.Close()
		st.Close()
		return nil, err
	}

	monitor, err := netmon.New(netmon.Config{
		Pinger:   backend,
		Interval: cfg.Sync.ProbeInterval,
		Logger:   componentLogger(base, "[netmon] "),
	})
	if err != nil {
		backend.Close()
		st.Close()
		return nil, err
	}

	return &Ledger{
		cfg:     cfg,
		store:   st,
		queue:   q,
		repo:    repo,
		creds:   credStore,
		backend: backend,
		disp:    disp,
		monitor: monitor,
		logger:  componentLogger(base, "[ledger] "),
	}, nil
}

// openBackend builds the configured driver, loading the stored token. A
// rest driver with no URL yet degrades to the offline placeholder.
func openBackend(cfg *config.Config, credStore *creds.Store) (remote.Backend, error) {
	if cfg.Backend.Driver == "rest" && cfg.Backend.URL == "" {
		return offlineBackend{}, nil
	}

	token := ""
	saved, err := credStore.Load()
	switch {
	case err == nil:
		token = saved.Token
	case errors.Is(err, creds.ErrNoCredentials):
	default:
		return nil, err
	}

	return remote.Open(remote.Config{
		Driver:           cfg.Backend.Driver,
		BaseURL:          cfg.Backend.URL,
		Token:            token,
		MinServerVersion: cfg.Backend.MinServerVersion,
		Timeout:          cfg.Backend.Timeout,
	})
}

func componentLogger(base *log.Logger, prefix string) *log.Logger {
	return log.New(base.Writer(), prefix, base.Flags())
}

// Close releases the monitor, the backend, and the store.
func (l *Ledger) Close() error {
	l.monitor.Stop()

	var firstErr error
	if err := l.backend.Close(); err != nil {
		firstErr = err
	}
	if err := l.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Config returns the configuration the ledger was opened with.
func (l *Ledger) Config() *config.Config { return l.cfg }

// Store exposes the local database.
func (l *Ledger) Store() *store.Store { return l.store }

// Queue exposes the sync queue.
func (l *Ledger) Queue() *queue.Queue { return l.queue }

// Repo exposes entity CRUD.
func (l *Ledger) Repo() *record.Repo { return l.repo }

// Backend exposes the remote driver.
func (l *Ledger) Backend() remote.Backend { return l.backend }

// Dispatcher exposes the sync engine.
func (l *Ledger) Dispatcher() *dispatch.Dispatcher { return l.disp }

// Monitor exposes the connectivity monitor. Open does not start it;
// long-running callers do.
func (l *Ledger) Monitor() *netmon.Monitor { return l.monitor }

// Credentials exposes the token store.
func (l *Ledger) Credentials() *creds.Store { return l.creds }

// Sync drains one batch of pending operations.
func (l *Ledger) Sync(ctx context.Context) (*dispatch.Result, error) {
	return l.disp.Drain(ctx)
}

// SyncStats reports queue and dispatcher state.
func (l *Ledger) SyncStats(ctx context.Context) (*dispatch.SyncStats, error) {
	return l.disp.Stats(ctx)
}

// ClearFailedOperations drops entries that are out of attempts.
func (l *Ledger) ClearFailedOperations(ctx context.Context) (int64, error) {
	return l.disp.ClearFailed(ctx)
}

// PruneSyncHistory removes completed queue entries older than the cutoff.
func (l *Ledger) PruneSyncHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	return l.queue.Prune(ctx, olderThan)
}

// Login stores the backend credential. The running backend keeps its
// current token; the new one is picked up the next time the ledger opens.
func (l *Ledger) Login(c creds.Credentials) error {
	if err := l.creds.Save(c); err != nil {
		return err
	}
	l.logger.Printf("credentials saved for %s", c.UserID)
	return nil
}

// Logout removes the stored credential. Queued work stays put.
func (l *Ledger) Logout() error {
	return l.creds.Clear()
}
