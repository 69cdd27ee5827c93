package presigned

import (
	"context"
	"errors"
	"net/http"
)

type contextKey string

const (
	// ObjectKeyContextKey is the context key for storing the validated object key
	ObjectKeyContextKey contextKey = "presigned:object_key"
)

// ObjectKeyFromContext returns the key stored by ValidateMiddleware
func ObjectKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(ObjectKeyContextKey).(string)
	return key, ok
}

// ValidateMiddleware rejects requests whose signature is missing, invalid or
// expired, and stores the granted object key in the request context.
func ValidateMiddleware(signer *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := signer.ValidateRequest(r)
			if err != nil {
				handleValidationError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), ObjectKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func handleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMissingSignature), errors.Is(err, ErrMissingExpiration):
		writeError(w, r, http.StatusUnauthorized, "missing_signature", "signed URL parameters are required")
	case errors.Is(err, ErrInvalidExpiration):
		writeError(w, r, http.StatusBadRequest, "invalid_expires", "expires parameter must be a unix timestamp")
	case errors.Is(err, ErrExpired):
		writeError(w, r, http.StatusForbidden, "url_expired", "signed URL has expired")
	case errors.Is(err, ErrInvalidSignature):
		writeError(w, r, http.StatusForbidden, "invalid_signature", "signature does not match")
	case errors.Is(err, ErrKeyOutsidePattern):
		writeError(w, r, http.StatusNotFound, "not_found", "object not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
