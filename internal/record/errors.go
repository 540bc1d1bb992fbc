package record

import "errors"

var (
	// ErrNotFound reports a lookup that matched no record.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientStock reports a sale line asking for more than the
	// inventory row holds. The sale is rejected before anything is
	// written.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrBusy reports that another sale held the serialization lock past
	// the brief wait. Transient: the caller should retry the action.
	ErrBusy = errors.New("another sale is being processed")

	// ErrItemReferenced reports an inventory delete blocked by an
	// unsynced sale that still references the item.
	ErrItemReferenced = errors.New("inventory item is referenced by an unsynced sale")

	// ErrValidation reports malformed input to a mutation.
	ErrValidation = errors.New("validation failed")
)

// IsValidation reports whether err is a fail-fast input problem rather
// than a storage failure. Validation errors are never enqueued for sync.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrItemReferenced)
}
