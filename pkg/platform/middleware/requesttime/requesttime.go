// Package requesttime provides middleware for request-scoped time. All
// operations within a single HTTP request observe the same "now", so the
// timestamps on a parcel and its registration request created in one call
// never disagree.
package requesttime

import (
	"net/http"
	"time"

	"landledger/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request and stores
// it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
