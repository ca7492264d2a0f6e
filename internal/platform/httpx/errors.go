package httpx

import (
	"errors"
	"net/http"

	"github.com/selinggonet/selinggonet/internal/shared"
)

// StatusMapper picks the HTTP status for a domain error; false means unknown.
type StatusMapper func(err error) (int, bool)

// RespondError writes err as RFC7807 problem details. The detail is always the
// user-safe message, never the raw error text.
func RespondError(w http.ResponseWriter, err error, mappers ...StatusMapper) {
	status := http.StatusInternalServerError
	for _, m := range mappers {
		if s, ok := m(err); ok {
			status = s
			break
		}
	}
	if status == http.StatusInternalServerError {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, shared.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, shared.ErrIdempotencyConflict):
			status = http.StatusConflict
		}
	}
	Problem(w, status, http.StatusText(status), shared.UserSafeMessage(err))
}
