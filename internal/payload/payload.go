// Package payload defines the serialized form of queued mutations.
//
// Each queue entry carries one Envelope: a versioned, explicitly tagged
// union with exactly one branch populated. Decoding validates the version,
// the kind tag, and the branch so a malformed body is rejected up front
// instead of surfacing later as a half-populated struct.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the envelope version written by this build. Decode rejects
// anything else; bump it together with a migration when the shape changes.
const Version = 1

// Kind tags the populated branch of an Envelope.
type Kind string

const (
	KindInventory Kind = "inventory"
	KindSale      Kind = "sale"
	KindExpense   Kind = "expense"
	KindProfile   Kind = "profile"
)

var (
	// ErrMalformed reports a body that does not parse as an envelope.
	ErrMalformed = errors.New("malformed payload")

	// ErrUnknownKind reports an envelope whose kind tag is not recognized.
	ErrUnknownKind = errors.New("unknown payload kind")

	// ErrVersion reports an envelope written by an incompatible version.
	ErrVersion = errors.New("unsupported payload version")
)

// Inventory is the wire form of an inventory item mutation.
type Inventory struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	StoreID   string  `json:"store_id,omitempty"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitCost  float64 `json:"unit_cost"`
	UnitPrice float64 `json:"unit_price"`
}

// SaleLine is one line of a queued sale.
type SaleLine struct {
	ID          string  `json:"id"`
	InventoryID string  `json:"inventory_id"`
	Name        string  `json:"name,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

// Sale is the wire form of a complete sale: the sale row plus every line,
// queued as a single operation so the replay can sequence its own
// remote writes.
type Sale struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	StoreID       string     `json:"store_id,omitempty"`
	Total         float64    `json:"total"`
	PaymentMethod string     `json:"payment_method"`
	SoldAt        time.Time  `json:"sold_at"`
	Lines         []SaleLine `json:"lines"`
}

// Expense is the wire form of an expense mutation.
type Expense struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	StoreID  string    `json:"store_id,omitempty"`
	Category string    `json:"category"`
	Amount   float64   `json:"amount"`
	Note     string    `json:"note,omitempty"`
	SpentAt  time.Time `json:"spent_at"`
}

// Profile is the wire form of a store profile mutation.
type Profile struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	StoreName string `json:"store_name"`
	Currency  string `json:"currency"`
}

// Envelope is one queued mutation body. Exactly one branch matching Kind
// is populated.
type Envelope struct {
	Version   int        `json:"version"`
	Kind      Kind       `json:"kind"`
	Inventory *Inventory `json:"inventory,omitempty"`
	Sale      *Sale      `json:"sale,omitempty"`
	Expense   *Expense   `json:"expense,omitempty"`
	Profile   *Profile   `json:"profile,omitempty"`
}

// NewInventory wraps an inventory payload in a current-version envelope.
func NewInventory(p *Inventory) Envelope {
	return Envelope{Version: Version, Kind: KindInventory, Inventory: p}
}

// NewSale wraps a sale payload in a current-version envelope.
func NewSale(p *Sale) Envelope {
	return Envelope{Version: Version, Kind: KindSale, Sale: p}
}

// NewExpense wraps an expense payload in a current-version envelope.
func NewExpense(p *Expense) Envelope {
	return Envelope{Version: Version, Kind: KindExpense, Expense: p}
}

// NewProfile wraps a profile payload in a current-version envelope.
func NewProfile(p *Profile) Envelope {
	return Envelope{Version: Version, Kind: KindProfile, Profile: p}
}

// Validate checks the version, the kind tag, and that exactly the matching
// branch is populated.
func (e Envelope) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("%w: got %d, support %d", ErrVersion, e.Version, Version)
	}

	var want, got int
	branches := []struct {
		kind Kind
		set  bool
	}{
		{KindInventory, e.Inventory != nil},
		{KindSale, e.Sale != nil},
		{KindExpense, e.Expense != nil},
		{KindProfile, e.Profile != nil},
	}

	known := false
	for _, b := range branches {
		if b.kind == e.Kind {
			known = true
			if b.set {
				want = 1
			}
		}
		if b.set {
			got++
		}
	}

	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if want != 1 {
		return fmt.Errorf("%w: kind %q branch not populated", ErrMalformed, e.Kind)
	}
	if got != 1 {
		return fmt.Errorf("%w: %d branches populated for kind %q", ErrMalformed, got, e.Kind)
	}
	return nil
}

// Encode validates and serializes an envelope.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return data, nil
}

// Decode parses and validates an envelope. Any error from Decode is
// permanent: the same bytes will never parse differently.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// IsPermanent reports whether the error came from decoding or validation,
// meaning a retry cannot change the outcome.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrVersion)
}
