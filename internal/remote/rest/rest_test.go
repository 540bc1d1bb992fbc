package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hermonbest/my-money-sub001/internal/remote"
)

func newTestBackend(t *testing.T, handler http.Handler) *Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := New(remote.Config{BaseURL: srv.URL, Token: "test-key"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestInsertRequestShape(t *testing.T) {
	var gotMethod, gotPath, gotPrefer, gotKey string
	var gotBody []remote.Row

	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotPrefer = r.Header.Get("Prefer")
		gotKey = r.Header.Get("apikey")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"srv-000001","name":"rice"}]`))
	}))

	row, err := b.Insert(context.Background(), "inventory", remote.Row{"name": "rice", "client_key": "temp_1"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if row.ID() != "srv-000001" {
		t.Errorf("expected server id, got %q", row.ID())
	}
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotPath != "/rest/v1/inventory" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotPrefer != "return=representation" {
		t.Errorf("unexpected Prefer header %q", gotPrefer)
	}
	if gotKey != "test-key" {
		t.Errorf("missing apikey header, got %q", gotKey)
	}
	if len(gotBody) != 1 {
		t.Fatalf("expected single-row array body, got %d rows", len(gotBody))
	}
	if key, _ := gotBody[0].String("client_key"); key != "temp_1" {
		t.Errorf("client_key not sent, got %q", key)
	}
}

func TestUpsertResolvesOnClientKey(t *testing.T) {
	var gotConflict, gotPrefer string

	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConflict = r.URL.Query().Get("on_conflict")
		gotPrefer = r.Header.Get("Prefer")
		w.Write([]byte(`[{"id":"srv-000002"}]`))
	}))

	_, err := b.Upsert(context.Background(), "sales", remote.Row{"client_key": "temp_9", "total": 12.5})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if gotConflict != "client_key" {
		t.Errorf("expected on_conflict=client_key, got %q", gotConflict)
	}
	if gotPrefer != "resolution=merge-duplicates,return=representation" {
		t.Errorf("unexpected Prefer header %q", gotPrefer)
	}
}

func TestUpsertWithServerIDSkipsOnConflict(t *testing.T) {
	var gotConflict string

	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConflict = r.URL.Query().Get("on_conflict")
		w.Write([]byte(`[{"id":"srv-000003"}]`))
	}))

	_, err := b.Upsert(context.Background(), "sales", remote.Row{"id": "srv-000003", "total": 9.0})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if gotConflict != "" {
		t.Errorf("expected primary-key resolution, got on_conflict=%q", gotConflict)
	}
}

func TestUpdateFiltersByID(t *testing.T) {
	var gotMethod, gotFilter string
	var gotBody map[string]any

	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotFilter = r.URL.Query().Get("id")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`[{"id":"srv-000004","quantity":7}]`))
	}))

	row, err := b.Update(context.Background(), "inventory", "srv-000004", remote.Row{"id": "srv-000004", "quantity": 7})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("expected PATCH, got %s", gotMethod)
	}
	if gotFilter != "eq.srv-000004" {
		t.Errorf("expected id=eq.srv-000004, got %q", gotFilter)
	}
	if _, ok := gotBody["id"]; ok {
		t.Errorf("id should be stripped from the PATCH body")
	}
	if n, _ := row.Int("quantity"); n != 7 {
		t.Errorf("expected quantity 7, got %d", n)
	}
}

func TestUpdateNoMatchIsNotFound(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))

	_, err := b.Update(context.Background(), "inventory", "srv-gone", remote.Row{"quantity": 1})
	if !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAbsentRowSucceeds(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := b.Delete(context.Background(), "sales", "srv-gone"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestGetEmptyResultIsNotFound(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))

	_, err := b.Get(context.Background(), "profiles", "srv-gone")
	if !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, remote.ErrBadRequest},
		{http.StatusUnprocessableEntity, remote.ErrBadRequest},
		{http.StatusUnauthorized, remote.ErrUnauthorized},
		{http.StatusForbidden, remote.ErrUnauthorized},
		{http.StatusConflict, remote.ErrConflict},
		{http.StatusRequestTimeout, remote.ErrTimeout},
		{http.StatusTooManyRequests, remote.ErrUnavailable},
		{http.StatusInternalServerError, remote.ErrUnavailable},
		{http.StatusBadGateway, remote.ErrUnavailable},
	}

	for _, tt := range tests {
		status := tt.status
		b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"message":"nope"}`))
		}))

		_, err := b.Insert(context.Background(), "sales", remote.Row{})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b, err := New(remote.Config{BaseURL: url})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = b.Insert(context.Background(), "sales", remote.Row{})
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientTimeout(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	b.client.Timeout = 50 * time.Millisecond

	_, err := b.Insert(context.Background(), "sales", remote.Row{})
	if !errors.Is(err, remote.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestPingVersionHandshake(t *testing.T) {
	tests := []struct {
		name      string
		serverVer string
		minVer    string
		wantErr   error
	}{
		{"newer server", "1.4.0", "1.0.0", nil},
		{"exact match", "1.0.0", "1.0.0", nil},
		{"older server", "0.9.0", "1.0.0", remote.ErrIncompatible},
		{"no minimum", "0.1.0", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("unexpected path %q", r.URL.Path)
				}
				json.NewEncoder(w).Encode(healthResponse{Status: "ok", Version: tt.serverVer})
			}))
			defer srv.Close()

			b, err := New(remote.Config{BaseURL: srv.URL, MinServerVersion: tt.minVer})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			err = b.Ping(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Errorf("expected success, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(remote.Config{}); err == nil {
		t.Error("expected error for empty base URL")
	}
}
