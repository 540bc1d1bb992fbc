package remote

import (
	"errors"
	"fmt"
	"testing"
)

func TestRowAccessors(t *testing.T) {
	row := Row{
		"id":       "srv-7",
		"name":     "flour",
		"quantity": float64(12), // as the JSON codec delivers numbers
		"price":    9.5,
	}

	if row.ID() != "srv-7" {
		t.Errorf("ID() = %q, want srv-7", row.ID())
	}
	if q, ok := row.Int("quantity"); !ok || q != 12 {
		t.Errorf("Int(quantity) = %d, %v", q, ok)
	}
	if p, ok := row.Float("price"); !ok || p != 9.5 {
		t.Errorf("Float(price) = %v, %v", p, ok)
	}
	if _, ok := row.String("missing"); ok {
		t.Error("String(missing) reported ok")
	}
	if _, ok := row.Int("name"); ok {
		t.Error("Int over a string column reported ok")
	}
}

func TestRowClone(t *testing.T) {
	row := Row{"id": "a", "quantity": 3}
	clone := row.Clone()
	clone["quantity"] = 5

	if q, _ := row.Int("quantity"); q != 3 {
		t.Errorf("mutating a clone changed the original: quantity=%d", q)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		permanent bool
	}{
		{nil, false, false},
		{ErrUnavailable, true, false},
		{ErrTimeout, true, false},
		{ErrUnauthorized, true, false},
		{ErrNotFound, true, false},
		{ErrBadRequest, false, true},
		{ErrIncompatible, false, true},
		{ErrConflict, false, false},
		{errors.New("something else"), false, false},
		{fmt.Errorf("insert inventory: %w", ErrUnavailable), true, false},
		{fmt.Errorf("update: %w", ErrBadRequest), false, true},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.retryable {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
		if got := IsPermanent(tt.err); got != tt.permanent {
			t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.permanent)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "carrier-pigeon"})
	if err == nil {
		t.Fatal("Open accepted an unregistered driver")
	}
}

func TestRegisterAndOpen(t *testing.T) {
	if IsRegistered("test-driver") {
		t.Skip("test-driver already registered by another test run")
	}

	var gotCfg Config
	Register("test-driver", func(cfg Config) (Backend, error) {
		gotCfg = cfg
		return nil, errors.New("not actually constructible")
	})

	if !IsRegistered("test-driver") {
		t.Fatal("driver not registered")
	}

	_, err := Open(Config{Driver: "test-driver", BaseURL: "http://x"})
	if err == nil {
		t.Fatal("constructor error not propagated")
	}
	if gotCfg.BaseURL != "http://x" {
		t.Errorf("constructor received BaseURL %q", gotCfg.BaseURL)
	}
}
