// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// ErrUnauthorized marks a request without an authenticated principal.
var ErrUnauthorized = errors.New("unauthorized")

// RespondError writes an RFC7807 response for errors a handler does not map
// itself. Anything other than ErrUnauthorized is reported as an internal error.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
