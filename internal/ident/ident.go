// Package ident defines the identifier type shared by every syncable record.
//
// Records created offline are keyed by a locally minted temporary identifier
// until the remote backend assigns a persistent one. The two kinds are
// carried as an explicit tag so resolution code can branch exhaustively
// instead of sniffing string prefixes. The "temp_" prefix remains the
// persisted wire form, so identifiers survive round-trips through the
// database and queue payloads unchanged.
package ident

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempPrefix marks the wire form of temporary identifiers.
const TempPrefix = "temp_"

// Kind discriminates temporary from persistent identifiers.
type Kind int

const (
	// KindPersistent marks a server-assigned identifier.
	KindPersistent Kind = iota

	// KindTemporary marks a locally minted identifier awaiting adoption.
	KindTemporary
)

// String returns the kind name for logs and errors.
func (k Kind) String() string {
	switch k {
	case KindPersistent:
		return "persistent"
	case KindTemporary:
		return "temporary"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ID is a tagged record identifier. The zero value is empty; use IsZero
// to detect it.
type ID struct {
	value string
	kind  Kind
}

// NewTemporary mints a process-unique temporary identifier. Uniqueness
// comes from the millisecond timestamp plus a random suffix, so two ids
// minted in the same instant still differ.
func NewTemporary() ID {
	suffix := uuid.NewString()[:8]
	return ID{
		value: fmt.Sprintf("%s%d_%s", TempPrefix, time.Now().UnixMilli(), suffix),
		kind:  KindTemporary,
	}
}

// Persistent wraps a server-assigned identifier.
func Persistent(value string) ID {
	return ID{value: value, kind: KindPersistent}
}

// Temporary wraps an existing temporary identifier, such as one read back
// from storage.
func Temporary(value string) ID {
	return ID{value: value, kind: KindTemporary}
}

// Parse classifies a stored identifier by its wire form.
func Parse(value string) ID {
	if strings.HasPrefix(value, TempPrefix) {
		return Temporary(value)
	}
	return Persistent(value)
}

// String returns the wire form.
func (id ID) String() string { return id.value }

// Kind returns the identifier's tag.
func (id ID) Kind() Kind { return id.kind }

// IsTemporary reports whether the identifier is locally minted and still
// awaiting adoption.
func (id ID) IsTemporary() bool { return id.kind == KindTemporary }

// IsPersistent reports whether the identifier is server-assigned and
// non-empty.
func (id ID) IsPersistent() bool { return id.kind == KindPersistent && id.value != "" }

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool { return id.value == "" }

// MarshalJSON emits the bare wire form.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON reclassifies the identifier from its wire form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = Parse(s)
	return nil
}
