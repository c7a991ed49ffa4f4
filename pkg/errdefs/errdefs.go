package errdefs

import (
	"errors"
	"net/http"
)

// Error kinds shared by every component. Wrap them with fmt.Errorf("...: %w", kind)
// and test with errors.Is.
var (
	// ErrAuth covers missing, malformed and expired tokens.
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound covers unknown documents, shared tokens and history versions.
	ErrNotFound = errors.New("not found")
	// ErrPermission is returned when a role is not allowed to perform an action.
	ErrPermission = errors.New("permission denied")
	// ErrConcurrency is returned when a log append could not be committed.
	ErrConcurrency = errors.New("concurrent modification")
	// ErrMalformedInput is returned for messages that cannot be decoded.
	ErrMalformedInput = errors.New("malformed input")
)

// Kind returns a stable label for err, suitable for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrConcurrency):
		return "concurrency"
	case errors.Is(err, ErrMalformedInput):
		return "malformed_input"
	default:
		return "internal"
	}
}

// HTTPStatus maps err to the status code used by the REST surface and refused upgrades.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrConcurrency):
		return http.StatusConflict
	case errors.Is(err, ErrMalformedInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
