// Package domainerrors defines the typed error vocabulary shared by the
// ledger client, the record store, and the workflow services. Every error that
// crosses a package boundary carries a Code so callers can decide whether to
// retry, re-poll, or give up without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for retry and transport mapping decisions.
type Code string

const (
	CodeBadRequest       Code = "bad_request"
	CodeNotFound         Code = "not_found"
	CodeUnauthorized     Code = "unauthorized"
	CodeAlreadyProcessed Code = "already_processed"

	// CodeTransferInProgress is returned when a second transfer is initiated
	// while the parcel's transfer lock is held.
	CodeTransferInProgress Code = "transfer_in_progress"

	// CodeOwnershipUnchanged is returned when the ledger reports the same
	// owner after a finalized transfer.
	CodeOwnershipUnchanged Code = "ownership_unchanged"

	// CodeConflict means a conditional write lost the race. The caller must
	// re-fetch current state; blind retries with stale data are wrong.
	CodeConflict Code = "conflict"

	// CodeLedgerRejected means the ledger reverted the call. Terminal: the
	// same payload must not be retried.
	CodeLedgerRejected Code = "ledger_rejected"

	// CodeConfirmationTimeout means the confirmation wait hit its deadline.
	// Retryable by re-polling the same pending handle, never by resubmitting.
	CodeConfirmationTimeout Code = "confirmation_timeout"

	// CodeLedgerUnavailable is a transient transport failure; retry with
	// backoff.
	CodeLedgerUnavailable Code = "ledger_unavailable"

	// CodeEncoding is raised when metadata cannot be canonically serialized.
	CodeEncoding Code = "encoding_error"

	// CodeConsistencyFault means the off-chain store and the ledger disagree
	// in a way reconciliation could not resolve. Must be surfaced, never
	// silently patched over.
	CodeConsistencyFault Code = "consistency_fault"

	CodeInternal Code = "internal"
)

// Error is the concrete error type carried across layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with a code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a code and a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Retryable reports whether the error kind permits another attempt at all.
// Confirmation timeouts are retryable by re-polling the same handle;
// unavailability is retryable with backoff; everything else is not.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeConfirmationTimeout, CodeLedgerUnavailable:
		return true
	default:
		return false
	}
}
