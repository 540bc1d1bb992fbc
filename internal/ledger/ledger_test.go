package ledger

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/config"
	"github.com/hermonbest/my-money-sub001/internal/creds"
	"github.com/hermonbest/my-money-sub001/internal/record"
	"github.com/hermonbest/my-money-sub001/internal/remote"
	"github.com/hermonbest/my-money-sub001/internal/remote/memory"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		Data:    config.DataConfig{Dir: dir},
		Backend: config.BackendConfig{Driver: "rest"},
		Sync: config.SyncConfig{
			Interval:      time.Second,
			BatchSize:     50,
			ProbeInterval: time.Second,
		},
	}
}

func openLedger(t *testing.T, cfg *config.Config, backend remote.Backend) *Ledger {
	t.Helper()
	l, err := Open(Options{
		Config:  cfg,
		Backend: backend,
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func newTestLedger(t *testing.T) (*Ledger, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	return openLedger(t, testConfig(t.TempDir()), backend), backend
}

func createItem(t *testing.T, l *Ledger, name string, qty int) *record.InventoryItem {
	t.Helper()
	item := &record.InventoryItem{
		UserID:    "u1",
		Name:      name,
		Quantity:  qty,
		UnitCost:  2.0,
		UnitPrice: 5.0,
	}
	if err := l.Repo().CreateInventoryItem(context.Background(), item); err != nil {
		t.Fatalf("CreateInventoryItem(%s): %v", name, err)
	}
	return item
}

func TestOpenRequiresConfig(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatal("Open accepted empty options")
	}
}

// TestOfflineDayThenSync walks the expected daily flow: record a morning of
// work with no connectivity, then reconcile everything in one drain.
func TestOfflineDayThenSync(t *testing.T) {
	l, backend := newTestLedger(t)
	ctx := context.Background()

	// Local writes must never touch the backend.
	backend.SetDown(true)

	coffee := createItem(t, l, "Coffee Beans 1kg", 10)
	createItem(t, l, "Sugar 500g", 24)

	sale, err := l.Repo().ProcessSale(ctx, record.SaleInput{
		UserID: "u1",
		Lines:  []record.SaleLineInput{{InventoryID: coffee.ID.String(), Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("ProcessSale: %v", err)
	}

	expense := &record.Expense{UserID: "u1", Category: "transport", Amount: 12.5}
	if err := l.Repo().CreateExpense(ctx, expense); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	profile := &record.Profile{UserID: "u1", StoreName: "Corner Shop", Currency: "ETB"}
	if err := l.Repo().UpsertProfile(ctx, profile); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	stats, err := l.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats: %v", err)
	}
	if stats.Pending != 5 {
		t.Fatalf("pending = %d, want 5", stats.Pending)
	}
	if n := backend.Count(record.TableInventory); n != 0 {
		t.Fatalf("backend saw %d rows before sync", n)
	}

	backend.SetDown(false)
	res, err := l.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Failed != 0 {
		t.Fatalf("sync failures: %+v", res.Errors)
	}
	if res.Succeeded != 5 {
		t.Fatalf("succeeded = %d, want 5", res.Succeeded)
	}

	got, err := l.Repo().GetInventoryItem(ctx, coffee.TempID)
	if err != nil {
		t.Fatalf("GetInventoryItem: %v", err)
	}
	if got.ID.IsTemporary() {
		t.Fatalf("item kept temporary id %s", got.ID)
	}
	if !got.Synced || got.IsOffline {
		t.Fatalf("item flags after sync: synced=%v offline=%v", got.Synced, got.IsOffline)
	}
	if got.Quantity != 7 {
		t.Fatalf("local quantity = %d, want 7", got.Quantity)
	}

	var remoteCoffee remote.Row
	for _, row := range backend.Rows(record.TableInventory) {
		if ck, _ := row.String("client_key"); ck == coffee.TempID {
			remoteCoffee = row
		}
	}
	if remoteCoffee == nil {
		t.Fatal("coffee row missing on the backend")
	}
	if qty, _ := remoteCoffee.Int("quantity"); qty != 7 {
		t.Fatalf("remote quantity = %d, want 7", qty)
	}

	syncedSale, err := l.Repo().GetSale(ctx, sale.TempID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if syncedSale.ID.IsTemporary() || !syncedSale.Synced {
		t.Fatalf("sale after sync: id=%s synced=%v", syncedSale.ID, syncedSale.Synced)
	}
	if len(syncedSale.Items) != 1 {
		t.Fatalf("sale items = %d, want 1", len(syncedSale.Items))
	}
	if syncedSale.Items[0].InventoryID.IsTemporary() {
		t.Fatalf("sale line still references temp id %s", syncedSale.Items[0].InventoryID)
	}

	for table, want := range map[string]int{
		record.TableInventory: 2,
		record.TableSales:     1,
		record.TableSaleItems: 1,
		record.TableExpenses:  1,
		record.TableProfiles:  1,
	} {
		if n := backend.Count(table); n != want {
			t.Errorf("backend %s rows = %d, want %d", table, n, want)
		}
	}

	stats, err = l.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats: %v", err)
	}
	if stats.Pending != 0 || stats.Synced != 5 {
		t.Fatalf("after sync: pending=%d synced=%d", stats.Pending, stats.Synced)
	}
}

// TestReopenPersistsQueue proves queued work survives a process restart.
func TestReopenPersistsQueue(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	ctx := context.Background()

	first := openLedger(t, cfg, memory.New())
	item := createItem(t, first, "Notebook", 12)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	backend := memory.New()
	second := openLedger(t, cfg, backend)

	stats, err := second.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("pending after reopen = %d, want 1", stats.Pending)
	}

	res, err := second.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 0 {
		t.Fatalf("sync after reopen: %+v", res)
	}

	got, err := second.Repo().GetInventoryItem(ctx, item.TempID)
	if err != nil {
		t.Fatalf("GetInventoryItem: %v", err)
	}
	if got.ID.IsTemporary() || !got.Synced {
		t.Fatalf("item after reopen sync: id=%s synced=%v", got.ID, got.Synced)
	}
}

// TestSyncWithoutBackendConfigured covers the first-run state: no URL, no
// token. Records commit locally and sync reports the backend unavailable.
func TestSyncWithoutBackendConfigured(t *testing.T) {
	cfg := testConfig(t.TempDir())
	l, err := Open(Options{Config: cfg, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("Open without backend: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	ctx := context.Background()

	if name := l.Backend().Name(); name != "offline" {
		t.Fatalf("backend = %q, want offline placeholder", name)
	}

	createItem(t, l, "Candles", 30)

	res, err := l.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Failed != 1 || res.Succeeded != 0 {
		t.Fatalf("offline sync result: %+v", res)
	}
	if msg := res.Errors[0].Message; !strings.Contains(msg, "no backend URL configured") {
		t.Fatalf("error message = %q", msg)
	}
	if res.Errors[0].Exhausted {
		t.Fatal("missing configuration parked the entry instead of leaving it retryable")
	}

	if l.Monitor().CheckNow(ctx) {
		t.Fatal("monitor reported the placeholder backend online")
	}
}

func TestExhaustionAndClear(t *testing.T) {
	l, backend := newTestLedger(t)
	ctx := context.Background()

	backend.SetDown(true)
	createItem(t, l, "Matches", 100)

	for i := 0; i < 3; i++ {
		if _, err := l.Sync(ctx); err != nil {
			t.Fatalf("Sync %d: %v", i, err)
		}
	}

	stats, err := l.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}

	// Exhausted entries stay out of subsequent drains.
	res, err := l.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Processed != 0 {
		t.Fatalf("drain picked up %d exhausted entries", res.Processed)
	}

	cleared, err := l.ClearFailedOperations(ctx)
	if err != nil {
		t.Fatalf("ClearFailedOperations: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}

	stats, err = l.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats: %v", err)
	}
	if stats.Failed != 0 || stats.Pending != 0 {
		t.Fatalf("after clear: failed=%d pending=%d", stats.Failed, stats.Pending)
	}
}

func TestLoginLogout(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.Login(creds.Credentials{Token: "tok-123", UserID: "u1", StoreID: "s1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	saved, err := l.Credentials().Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if saved.Token != "tok-123" || saved.UserID != "u1" {
		t.Fatalf("saved credentials: %+v", saved)
	}

	if err := l.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := l.Credentials().Load(); !errors.Is(err, creds.ErrNoCredentials) {
		t.Fatalf("Load after logout: %v", err)
	}
}

func TestPruneSyncHistory(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	createItem(t, l, "Tea", 5)
	if _, err := l.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// Negative cutoff puts the threshold in the future, sweeping everything
	// already synced.
	removed, err := l.PruneSyncHistory(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("PruneSyncHistory: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	stats, err := l.SyncStats(ctx)
	if err != nil {
		t.Fatalf("SyncStats: %v", err)
	}
	if stats.Synced != 0 {
		t.Fatalf("synced entries after prune = %d, want 0", stats.Synced)
	}
}
