package remote

import "errors"

// Common errors returned by backend operations.
//
// Check them with errors.Is, or use the classification helpers below when
// only the retry decision matters:
//
//	if remote.IsRetryable(err) {
//	    // leave the queue entry pending for the next drain
//	}
var (
	// ErrUnavailable is returned when the backend cannot be reached or
	// answers with a server-side failure. Transient by definition.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrTimeout is returned when a single call exceeds its deadline.
	ErrTimeout = errors.New("backend request timed out")

	// ErrNotFound is returned when the target row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an insert collides with an existing
	// row and the backend refuses to merge.
	ErrConflict = errors.New("record already exists")

	// ErrBadRequest is returned when the backend rejects the payload
	// itself. Retrying the same payload cannot change the outcome.
	ErrBadRequest = errors.New("backend rejected the request")

	// ErrUnauthorized is returned when the credential is missing,
	// expired, or insufficient.
	ErrUnauthorized = errors.New("backend rejected the credentials")

	// ErrIncompatible is returned by the Ping handshake when the server
	// version is below the configured minimum.
	ErrIncompatible = errors.New("backend version incompatible")
)

// IsRetryable reports whether the operation is likely to succeed on a
// later attempt. Unreachable backends and timeouts qualify; so do
// credential failures, since the token may be refreshed between drains.
// Missing rows qualify too: queue ordering can create them before the
// next cycle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotFound)
}

// IsPermanent reports whether retrying cannot change the outcome.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrIncompatible)
}
