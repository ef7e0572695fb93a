// Package pending tracks in-flight ledger submissions keyed by their logical
// request. When a confirmation wait times out, the workflow re-polls the
// stored handle instead of submitting a second ledger call for the same
// logical request. Entries expire so an abandoned handle cannot block a
// genuinely new submission forever.
package pending

import (
	"context"
	"time"

	"landledger/internal/ledger"
)

// Store holds pending transaction handles keyed by logical request.
type Store interface {
	Get(ctx context.Context, key string) (ledger.PendingTx, bool, error)
	Put(ctx context.Context, key string, tx ledger.PendingTx) error
	Delete(ctx context.Context, key string) error
}

// DefaultTTL bounds how long an unconfirmed handle is replayed before a fresh
// submission is allowed.
const DefaultTTL = 10 * time.Minute
