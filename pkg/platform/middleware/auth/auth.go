// Package auth extracts the authenticated principal from bearer tokens. Who
// issued the token and how identities were verified is the identity
// provider's concern; this middleware only validates and unpacks it.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"landledger/pkg/requestcontext"
)

// Claims are the token claims the engine cares about.
type Claims struct {
	Subject       string
	WalletAddress string
	Verified      bool
}

// Validator validates a raw bearer token.
type Validator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth rejects requests without a valid bearer token and injects the
// principal into the request context.
func RequireAuth(validator Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx := requestcontext.WithCaller(r.Context(), requestcontext.Principal{
				Subject:       claims.Subject,
				WalletAddress: claims.WalletAddress,
				Verified:      claims.Verified,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
