package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hermonbest/my-money-sub001/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	q, err := New(st)
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	return q
}

func mustEnqueue(t *testing.T, q *Queue, table, id string, op Operation, data string) {
	t.Helper()
	err := q.Enqueue(context.Background(), Entry{
		TableName: table,
		RecordID:  id,
		Operation: op,
		Data:      []byte(data),
	})
	if err != nil {
		t.Fatalf("enqueue %s %s/%s failed: %v", op, table, id, err)
	}
}

func mustGet(t *testing.T, q *Queue, table, id string) *Entry {
	t.Helper()
	e, err := q.Get(context.Background(), Key(table, id))
	if err != nil {
		t.Fatalf("get %s/%s failed: %v", table, id, err)
	}
	if e == nil {
		t.Fatalf("expected entry for %s/%s", table, id)
	}
	return e
}

func mustComplete(t *testing.T, q *Queue, table, id string) {
	t.Helper()
	e := mustGet(t, q, table, id)
	done, err := q.MarkCompleted(context.Background(), e.OperationKey, e.UpdatedAt)
	if err != nil {
		t.Fatalf("mark completed %s/%s failed: %v", table, id, err)
	}
	if !done {
		t.Fatalf("expected %s/%s to complete", table, id)
	}
}

func TestEnqueueCreatesFreshEntry(t *testing.T) {
	q := newTestQueue(t)
	mustEnqueue(t, q, "inventory", "temp_1", OpInsert, `{"name":"rice"}`)

	e := mustGet(t, q, "inventory", "temp_1")
	if e.OperationKey != "inventory:temp_1" {
		t.Errorf("unexpected key %q", e.OperationKey)
	}
	if e.Operation != OpInsert {
		t.Errorf("expected INSERT, got %s", e.Operation)
	}
	if e.Attempts != 0 || e.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("unexpected attempt counters: %d/%d", e.Attempts, e.MaxAttempts)
	}
	if e.Synced {
		t.Error("fresh entry should not be synced")
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, Entry{RecordID: "x", Operation: OpInsert}); err == nil {
		t.Error("expected error for missing table name")
	}
	if err := q.Enqueue(ctx, Entry{TableName: "sales", RecordID: "x", Operation: "MERGE"}); err == nil {
		t.Error("expected error for invalid operation")
	}
}

func TestCoalesceInsertThenUpdate(t *testing.T) {
	q := newTestQueue(t)
	mustEnqueue(t, q, "inventory", "temp_1", OpInsert, `{"quantity":10}`)
	mustEnqueue(t, q, "inventory", "temp_1", OpUpdate, `{"quantity":7}`)

	e := mustGet(t, q, "inventory", "temp_1")
	if e.Operation != OpInsert {
		t.Errorf("expected INSERT to survive coalescing, got %s", e.Operation)
	}
	if string(e.Data) != `{"quantity":7}` {
		t.Errorf("expected refreshed data, got %s", e.Data)
	}

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("expected one pending entry, got %d", stats.Pending)
	}
}

func TestCoalesceInsertThenDeleteCancels(t *testing.T) {
	q := newTestQueue(t)
	mustEnqueue(t, q, "expenses", "temp_9", OpInsert, `{}`)
	mustEnqueue(t, q, "expenses", "temp_9", OpDelete, `{}`)

	e, err := q.Get(context.Background(), Key("expenses", "temp_9"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if e != nil {
		t.Errorf("insert+delete should cancel out, found %s entry", e.Operation)
	}
}

func TestCoalesceUpdateThenDelete(t *testing.T) {
	q := newTestQueue(t)
	mustEnqueue(t, q, "inventory", "srv-000001", OpUpdate, `{}`)
	mustEnqueue(t, q, "inventory", "srv-000001", OpDelete, `{}`)

	if e := mustGet(t, q, "inventory", "srv-000001"); e.Operation != OpDelete {
		t.Errorf("expected DELETE, got %s", e.Operation)
	}
}

func TestCoalesceDeleteThenInsert(t *testing.T) {
	q := newTestQueue(t)
	mustEnqueue(t, q, "inventory", "srv-000001", OpDelete, `{}`)
	mustEnqueue(t, q, "inventory", "srv-000001", OpInsert, `{"quantity":3}`)

	// The backend still has the old row, so the net effect is an update.
	if e := mustGet(t, q, "inventory", "srv-000001"); e.Operation != OpUpdate {
		t.Errorf("expected UPDATE, got %s", e.Operation)
	}
}

func TestCoalescePreservesQueuePosition(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, "inventory", "temp_a", OpInsert, `{}`)
	mustEnqueue(t, q, "sales", "temp_b", OpInsert, `{}`)
	// Re-touching the first record must not move it behind the second.
	mustEnqueue(t, q, "inventory", "temp_a", OpUpdate, `{"quantity":1}`)

	entries, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RecordID != "temp_a" || entries[1].RecordID != "temp_b" {
		t.Errorf("unexpected order: %s, %s", entries[0].RecordID, entries[1].RecordID)
	}
}

func TestCoalescePreservesRetryHistory(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, "sales", "temp_s", OpInsert, `{}`)
	if _, err := q.RecordFailure(ctx, Key("sales", "temp_s"), "network unreachable"); err != nil {
		t.Fatalf("record failure failed: %v", err)
	}

	mustEnqueue(t, q, "sales", "temp_s", OpUpdate, `{"total":5}`)

	e := mustGet(t, q, "sales", "temp_s")
	if e.Attempts != 1 {
		t.Errorf("coalescing should keep attempts, got %d", e.Attempts)
	}
	if e.ErrorMessage != "network unreachable" {
		t.Errorf("coalescing should keep the last error, got %q", e.ErrorMessage)
	}
}

func TestReEnqueueAfterSyncedStartsOver(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	key := Key("inventory", "srv-000005")

	mustEnqueue(t, q, "inventory", "srv-000005", OpUpdate, `{"quantity":4}`)
	if _, err := q.RecordFailure(ctx, key, "timeout"); err != nil {
		t.Fatalf("record failure failed: %v", err)
	}
	mustComplete(t, q, "inventory", "srv-000005")

	mustEnqueue(t, q, "inventory", "srv-000005", OpUpdate, `{"quantity":2}`)

	e := mustGet(t, q, "inventory", "srv-000005")
	if e.Synced {
		t.Error("re-enqueued entry should be pending again")
	}
	if e.Attempts != 0 {
		t.Errorf("re-enqueued entry should reset attempts, got %d", e.Attempts)
	}
	if e.ErrorMessage != "" {
		t.Errorf("re-enqueued entry should clear the error, got %q", e.ErrorMessage)
	}
}

func TestMarkCompletedSkipsRefreshedEntry(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, "inventory", "temp_9", OpInsert, `{"quantity":5}`)
	snapshot := mustGet(t, q, "inventory", "temp_9")

	// A local edit lands while the snapshot is being replayed.
	mustEnqueue(t, q, "inventory", "temp_9", OpUpdate, `{"quantity":2}`)

	done, err := q.MarkCompleted(ctx, snapshot.OperationKey, snapshot.UpdatedAt)
	if err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}
	if done {
		t.Error("completion of a stale snapshot should be a no-op")
	}

	e := mustGet(t, q, "inventory", "temp_9")
	if e.Synced {
		t.Error("refreshed entry must stay pending so the newer data replays")
	}
}

func TestDequeueSkipsExhaustedAndSynced(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, "inventory", "a", OpUpdate, `{}`)
	mustEnqueue(t, q, "inventory", "b", OpUpdate, `{}`)
	mustEnqueue(t, q, "inventory", "c", OpUpdate, `{}`)

	if err := q.MarkExhausted(ctx, Key("inventory", "a"), "malformed payload"); err != nil {
		t.Fatalf("mark exhausted failed: %v", err)
	}
	mustComplete(t, q, "inventory", "b")

	entries, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if len(entries) != 1 || entries[0].RecordID != "c" {
		t.Fatalf("expected only entry c, got %d entries", len(entries))
	}
}

func TestDequeueBatchLimit(t *testing.T) {
	q := newTestQueue(t)

	for _, id := range []string{"a", "b", "c", "d"} {
		mustEnqueue(t, q, "expenses", id, OpInsert, `{}`)
	}

	entries, err := q.DequeueBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RecordID != "a" || entries[1].RecordID != "b" {
		t.Errorf("expected oldest first, got %s, %s", entries[0].RecordID, entries[1].RecordID)
	}
}

func TestRecordFailureUntilExhausted(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	key := Key("sales", "temp_1")

	mustEnqueue(t, q, "sales", "temp_1", OpInsert, `{}`)

	for want := 1; want <= DefaultMaxAttempts; want++ {
		attempts, err := q.RecordFailure(ctx, key, "connection refused")
		if err != nil {
			t.Fatalf("record failure %d failed: %v", want, err)
		}
		if attempts != want {
			t.Errorf("expected %d attempts, got %d", want, attempts)
		}
	}

	e := mustGet(t, q, "sales", "temp_1")
	if !e.Exhausted() {
		t.Error("entry should be exhausted after max attempts")
	}

	entries, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("exhausted entry should not be dequeued, got %d", len(entries))
	}
}

func TestRecordFailureUnknownKey(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.RecordFailure(context.Background(), "inventory:ghost", "x"); err == nil {
		t.Error("expected error for unknown operation key")
	}
}

func TestStats(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, "inventory", "a", OpInsert, `{}`)
	mustEnqueue(t, q, "inventory", "b", OpUpdate, `{}`)
	mustEnqueue(t, q, "sales", "c", OpInsert, `{}`)
	mustEnqueue(t, q, "expenses", "d", OpInsert, `{}`)

	if _, err := q.RecordFailure(ctx, Key("inventory", "b"), "timeout"); err != nil {
		t.Fatalf("record failure failed: %v", err)
	}
	if err := q.MarkExhausted(ctx, Key("sales", "c"), "unknown table"); err != nil {
		t.Fatalf("mark exhausted failed: %v", err)
	}
	mustComplete(t, q, "expenses", "d")

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("total: expected 4, got %d", stats.Total)
	}
	if stats.Pending != 3 {
		t.Errorf("pending: expected 3, got %d", stats.Pending)
	}
	if stats.Retryable != 1 {
		t.Errorf("retryable: expected 1, got %d", stats.Retryable)
	}
	if stats.Failed != 1 {
		t.Errorf("failed: expected 1, got %d", stats.Failed)
	}
	if stats.Synced != 1 {
		t.Errorf("synced: expected 1, got %d", stats.Synced)
	}
	if stats.ByTable["inventory"] != 2 || stats.ByTable["sales"] != 1 {
		t.Errorf("unexpected per-table counts: %v", stats.ByTable)
	}
}

func TestClearFailedRemovesOnlyExhausted(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, "inventory", "keep", OpUpdate, `{}`)
	mustEnqueue(t, q, "inventory", "drop", OpUpdate, `{}`)
	if err := q.MarkExhausted(ctx, Key("inventory", "drop"), "bad payload"); err != nil {
		t.Fatalf("mark exhausted failed: %v", err)
	}

	cleared, err := q.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if cleared != 1 {
		t.Errorf("expected 1 cleared entry, got %d", cleared)
	}

	if e, _ := q.Get(ctx, Key("inventory", "drop")); e != nil {
		t.Error("exhausted entry should be gone")
	}
	mustGet(t, q, "inventory", "keep")
}

func TestPruneRemovesOldSynced(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, "inventory", "done", OpInsert, `{}`)
	mustEnqueue(t, q, "inventory", "open", OpInsert, `{}`)
	mustComplete(t, q, "inventory", "done")

	pruned, err := q.Prune(ctx, -1) // cutoff in the future: everything synced qualifies
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned entry, got %d", pruned)
	}
	mustGet(t, q, "inventory", "open")
}
