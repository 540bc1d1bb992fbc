package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/hermonbest/my-money-sub001/internal/remote"
)

func TestInsertAssignsServerID(t *testing.T) {
	b := New()
	ctx := context.Background()

	created, err := b.Insert(ctx, "inventory", remote.Row{"name": "rice", "client_key": "temp_1"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if created.ID() != "srv-000001" {
		t.Errorf("expected server id srv-000001, got %q", created.ID())
	}
	if b.Count("inventory") != 1 {
		t.Errorf("expected 1 row, got %d", b.Count("inventory"))
	}
}

func TestInsertReplayReturnsExistingRow(t *testing.T) {
	b := New()
	ctx := context.Background()

	first, err := b.Insert(ctx, "sales", remote.Row{"client_key": "temp_42", "total": 10.0})
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	second, err := b.Insert(ctx, "sales", remote.Row{"client_key": "temp_42", "total": 10.0})
	if err != nil {
		t.Fatalf("replayed insert failed: %v", err)
	}
	if second.ID() != first.ID() {
		t.Errorf("replay created a new row: %q != %q", second.ID(), first.ID())
	}
	if b.Count("sales") != 1 {
		t.Errorf("expected 1 row after replay, got %d", b.Count("sales"))
	}
}

func TestInsertDuplicateIDConflicts(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.Seed("profiles", remote.Row{"id": "srv-000009", "user_id": "u1"})

	_, err := b.Insert(ctx, "profiles", remote.Row{"id": "srv-000009"})
	if !errors.Is(err, remote.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateMissingRow(t *testing.T) {
	b := New()
	_, err := b.Update(context.Background(), "inventory", "srv-000404", remote.Row{"quantity": 5})
	if !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMergesColumns(t *testing.T) {
	b := New()
	ctx := context.Background()
	created, err := b.Insert(ctx, "inventory", remote.Row{"name": "rice", "quantity": 10})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	updated, err := b.Update(ctx, "inventory", created.ID(), remote.Row{"quantity": 7, "id": "ignored"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got, _ := updated.Int("quantity"); got != 7 {
		t.Errorf("expected quantity 7, got %d", got)
	}
	if name, _ := updated.String("name"); name != "rice" {
		t.Errorf("untouched column lost: name=%q", name)
	}
	if updated.ID() != created.ID() {
		t.Errorf("id changed on update: %q", updated.ID())
	}
}

func TestUpsert(t *testing.T) {
	b := New()
	ctx := context.Background()

	// No match: inserts.
	first, err := b.Upsert(ctx, "expenses", remote.Row{"client_key": "temp_e1", "amount": 3.5})
	if err != nil {
		t.Fatalf("Upsert insert failed: %v", err)
	}

	// Replay by client_key: merges into the same row.
	second, err := b.Upsert(ctx, "expenses", remote.Row{"client_key": "temp_e1", "amount": 4.0})
	if err != nil {
		t.Fatalf("Upsert replay failed: %v", err)
	}
	if second.ID() != first.ID() {
		t.Errorf("replayed upsert created a new row: %q != %q", second.ID(), first.ID())
	}
	if amt, _ := second.Float("amount"); amt != 4.0 {
		t.Errorf("expected merged amount 4.0, got %v", amt)
	}

	// By id: merges.
	third, err := b.Upsert(ctx, "expenses", remote.Row{"id": first.ID(), "note": "lunch"})
	if err != nil {
		t.Fatalf("Upsert by id failed: %v", err)
	}
	if note, _ := third.String("note"); note != "lunch" {
		t.Errorf("expected merged note, got %q", note)
	}
	if b.Count("expenses") != 1 {
		t.Errorf("expected 1 row, got %d", b.Count("expenses"))
	}
}

func TestDeleteAbsentRowSucceeds(t *testing.T) {
	b := New()
	if err := b.Delete(context.Background(), "sales", "srv-000404"); err != nil {
		t.Errorf("expected nil for absent row, got %v", err)
	}
}

func TestDeleteClearsClientKey(t *testing.T) {
	b := New()
	ctx := context.Background()

	created, err := b.Insert(ctx, "sales", remote.Row{"client_key": "temp_7"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := b.Delete(ctx, "sales", created.ID()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// The key no longer resolves, so a new insert gets a new id.
	again, err := b.Insert(ctx, "sales", remote.Row{"client_key": "temp_7"})
	if err != nil {
		t.Fatalf("reinsert failed: %v", err)
	}
	if again.ID() == created.ID() {
		t.Errorf("deleted client_key still resolved to old row")
	}
}

func TestSetDown(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.SetDown(true)

	if err := b.Ping(ctx); !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("Ping: expected ErrUnavailable, got %v", err)
	}
	if _, err := b.Insert(ctx, "sales", remote.Row{}); !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("Insert: expected ErrUnavailable, got %v", err)
	}

	b.SetDown(false)
	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping after recovery: %v", err)
	}
}

func TestFailNext(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.FailNext(2, remote.ErrTimeout)

	for i := 0; i < 2; i++ {
		if _, err := b.Insert(ctx, "sales", remote.Row{}); !errors.Is(err, remote.ErrTimeout) {
			t.Fatalf("call %d: expected ErrTimeout, got %v", i, err)
		}
	}
	if _, err := b.Insert(ctx, "sales", remote.Row{}); err != nil {
		t.Errorf("third call should succeed, got %v", err)
	}
}

func TestFailTable(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.FailTable("sale_items", remote.ErrBadRequest)

	if _, err := b.Insert(ctx, "sale_items", remote.Row{}); !errors.Is(err, remote.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest on sale_items, got %v", err)
	}
	if _, err := b.Insert(ctx, "sales", remote.Row{}); err != nil {
		t.Errorf("other table should be unaffected, got %v", err)
	}

	b.FailTable("sale_items", nil)
	if _, err := b.Insert(ctx, "sale_items", remote.Row{}); err != nil {
		t.Errorf("cleared table should succeed, got %v", err)
	}
}

func TestInsertManyStopsOnFailure(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.FailNext(0, nil)

	rows := []remote.Row{{"n": 1}, {"n": 2}, {"n": 3}}
	created, err := b.InsertMany(ctx, "inventory", rows)
	if err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(created))
	}

	b.FailNext(1, remote.ErrUnavailable)
	partial, err := b.InsertMany(ctx, "inventory", rows)
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(partial) != 0 {
		t.Errorf("expected no rows before the failure, got %d", len(partial))
	}
}

func TestRegisteredDriver(t *testing.T) {
	backend, err := remote.Open(remote.Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	defer backend.Close()
	if backend.Name() != "memory" {
		t.Errorf("expected driver name memory, got %q", backend.Name())
	}
}
