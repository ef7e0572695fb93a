// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them; services read them without
// importing net/http.
package requestcontext

import (
	"context"
	"time"
)

type (
	principalKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Principal is the authenticated caller supplied by the auth layer. The
// engine trusts it for "who may submit/approve/initiate", never for "who owns
// the parcel" - ownership always comes from a ledger read.
type Principal struct {
	Subject       string
	WalletAddress string
	Verified      bool
}

// CallerID returns the identity used for registrations and transfers: the
// wallet address when present, otherwise the subject.
func (p Principal) CallerID() string {
	if p.WalletAddress != "" {
		return p.WalletAddress
	}
	return p.Subject
}

// Caller retrieves the authenticated principal from the context.
func Caller(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithCaller injects a principal into the context.
func WithCaller(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Now retrieves the request-scoped time, falling back to time.Now for
// non-HTTP contexts like workers and tests.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context, useful in tests.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
