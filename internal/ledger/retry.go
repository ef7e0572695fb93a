package ledger

import (
	"context"
	"time"

	dErrors "landledger/pkg/domain-errors"
)

// RetryPolicy is the single place retry behavior lives. Transient
// unavailability is retried with exponential backoff; rejected submissions are
// terminal; confirmation timeouts are not retried here at all, because the
// correct recovery is re-polling the same pending handle, which the caller
// owns.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy suits an in-process or local ledger node.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Do runs fn, retrying only while the error is CodeLedgerUnavailable.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return dErrors.Wrap(ctx.Err(), dErrors.CodeLedgerUnavailable, "retry aborted")
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !dErrors.Is(err, dErrors.CodeLedgerUnavailable) {
			return err
		}
	}
	return err
}
