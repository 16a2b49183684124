package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"payment-relay/internal/domain"
	"payment-relay/internal/errors"
)

// APIKeyHeader carries the client credential on client-initiated endpoints.
const APIKeyHeader = "X-API-Key"

type Authenticator interface {
	Authenticate(ctx context.Context, plaintext string) (*domain.APIKey, error)
}

type principalKey struct{}

// Principal returns the API key that authenticated the request, if any.
func Principal(ctx context.Context) (*domain.APIKey, bool) {
	key, ok := ctx.Value(principalKey{}).(*domain.APIKey)
	return key, ok
}

// RequireAPIKey rejects requests without an active API key before they reach
// the wrapped handler.
func RequireAPIKey(auth Authenticator, logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
			if err != nil {
				if appErr, ok := errors.As(err); !ok || appErr.Code != errors.Unauthorized {
					logger.Error("API key lookup failed", "error", err)
				}
				writeError(w, errors.ErrUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
