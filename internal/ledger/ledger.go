// Package ledger defines the contract the reconciliation engine expects from
// the authoritative ledger: submit a fact, wait for confirmation, read the
// latest confirmed state. Implementations wrap a deployed land-registry
// contract; the in-memory implementation in this package simulates its
// semantics for tests and local development.
package ledger

import (
	"context"
	"time"
)

// Kind names a state-changing contract call.
type Kind string

const (
	KindRegistration       Kind = "registration"
	KindApprove            Kind = "approve"
	KindVerify             Kind = "verify"
	KindRejectRegistration Kind = "rejectRegistration"
	KindInitiateTransfer   Kind = "initiateTransfer"
	KindApproveTransfer    Kind = "approveTransfer"
	KindFinalizeTransfer   Kind = "finalizeTransfer"
)

// Submission is the typed payload of a contract call. Only the fields relevant
// to the Kind are read.
type Submission struct {
	Kind           Kind
	Requester      string
	MetadataDigest string
	RequestID      int64
	ParcelID       int64
	ToOwner        string
}

// PendingTx is the handle returned by Submit. It is an explicit value the
// caller holds on to and re-polls; it is never stored in process-wide state.
// Re-awaiting the same handle is idempotent and never causes a second
// submission.
type PendingTx struct {
	Hash        string
	Kind        Kind
	SubmittedAt time.Time
}

// Confirmation reports a mined transaction together with the events the
// contract emitted, decoded into typed records.
type Confirmation struct {
	TxHash string
	Events []Event
}

// Fact is the latest confirmed on-ledger state of a parcel. It is the tie
// breaker whenever the off-chain projection disagrees with the ledger.
type Fact struct {
	ParcelID       int64
	Owner          string
	MetadataDigest string
	Verified       bool
	// OpenTransferTo is the recipient of an initiated-but-not-finalized
	// transfer, empty when none is in flight.
	OpenTransferTo string
}

// Client is the thin contract-call wrapper used by the workflows.
type Client interface {
	// Submit sends a state-changing call and returns a handle, not a result.
	// A reverted call fails with CodeLedgerRejected and must not be retried
	// with the same payload.
	Submit(ctx context.Context, sub Submission) (PendingTx, error)

	// AwaitConfirmation blocks until the transaction is mined or the context
	// deadline expires (CodeConfirmationTimeout). On timeout the caller
	// re-polls with the same handle; it never resubmits.
	AwaitConfirmation(ctx context.Context, tx PendingTx) (Confirmation, error)

	// ReadFact returns the latest confirmed state for a ledger parcel id.
	ReadFact(ctx context.Context, parcelID int64) (Fact, error)

	// OwnershipLog returns the append-only owner history for a parcel,
	// oldest first. Re-reading yields the same sequence.
	OwnershipLog(ctx context.Context, parcelID int64) ([]string, error)
}
