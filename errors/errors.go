package errors

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized means the policy engine denied the operation.
	// Never retried.
	ErrUnauthorized = errors.New("operation not permitted")

	// ErrNotFound covers both a genuinely absent row and a row the
	// principal is not allowed to see. Callers must not be able to tell
	// the two apart.
	ErrNotFound = errors.New("not found")

	// ErrConflict signals an invariant violation (wrong membership count,
	// duplicate membership, cross-conversation reply). Never retried.
	ErrConflict = errors.New("conflict")

	// ErrDecryptionFailed is returned when an authenticated ciphertext
	// cannot be opened. It is integrity evidence, not a fallback path.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrUnavailable means the store could not complete the transaction.
	// Idempotent reads may be retried with backoff, writes never are.
	ErrUnavailable = errors.New("store unavailable")

	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrInvalidPassword rejects a provisioning password that fails the
	// complexity rules.
	ErrInvalidPassword = errors.New("password does not meet complexity requirements")

	// ErrWorkerPanic is surfaced by the supervisor when a worker's Run
	// panics, so the restart loop can treat it as a crash.
	ErrWorkerPanic = errors.New("worker panicked")
)

// MapToHTTPStatus translates the domain error taxonomy into transport
// status codes for the HTTP layer.
func MapToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidPassword):
		return http.StatusBadRequest
	case errors.Is(err, ErrDecryptionFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
