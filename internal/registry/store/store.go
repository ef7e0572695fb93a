// Package store is the off-chain persistence layer for parcels, registration
// requests, and transfer records. Conditional updates keyed on current status
// are the only concurrency primitive the workflows rely on; no cross-record
// transactions are assumed, so both the in-memory and the PostgreSQL
// implementations can honor the same contract.
package store

import (
	"context"

	"landledger/internal/registry/models"
)

// ParcelPatch is a partial update applied under a status guard. Nil fields are
// left untouched.
type ParcelPatch struct {
	Status          *models.ParcelStatus
	LedgerID        *int64
	OwnerID         *string
	MetadataDigest  *string
	DocumentDigests *[]string
	TransferLock    *bool
}

// TransferPatch is a partial update for a transfer record.
type TransferPatch struct {
	Status *models.TransferStatus
	TxHash *string
}

type Store interface {
	CreateParcel(ctx context.Context, p *models.Parcel) error
	GetParcel(ctx context.Context, id string) (*models.Parcel, error)
	GetParcelByLedgerID(ctx context.Context, ledgerID int64) (*models.Parcel, error)

	// UpdateParcelConditional applies the patch only when the parcel's
	// current status equals expected. Returns false, without error, when the
	// guard fails; the caller decides whether that is a conflict.
	UpdateParcelConditional(ctx context.Context, id string, expected models.ParcelStatus, patch ParcelPatch) (bool, error)

	// LockForTransfer atomically flips TransferLock false->true. A false
	// return means another transfer already holds the lock.
	LockForTransfer(ctx context.Context, parcelID string) (bool, error)

	// Unlock clears the transfer lock. Called on every terminal outcome and
	// on workflow abort so a parcel is never left permanently locked.
	Unlock(ctx context.Context, parcelID string) error

	CreateRegistrationRequest(ctx context.Context, r *models.RegistrationRequest) error
	GetRegistrationRequest(ctx context.Context, id string) (*models.RegistrationRequest, error)
	GetRequestByLedgerID(ctx context.Context, ledgerRequestID int64) (*models.RegistrationRequest, error)
	MarkRequestProcessed(ctx context.Context, id string) error

	CreateTransfer(ctx context.Context, t *models.TransferRecord) error
	GetTransfer(ctx context.Context, id string) (*models.TransferRecord, error)

	// LatestTransfer returns the most recently created transfer record for a
	// parcel, or ErrNotFound when none exists.
	LatestTransfer(ctx context.Context, parcelID string) (*models.TransferRecord, error)

	// OpenTransfer returns the single transfer in an open status for the
	// parcel, or ErrNotFound.
	OpenTransfer(ctx context.Context, parcelID string) (*models.TransferRecord, error)

	UpdateTransferConditional(ctx context.Context, id string, expected models.TransferStatus, patch TransferPatch) (bool, error)
}
