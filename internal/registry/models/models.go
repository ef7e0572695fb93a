// Package models holds the off-chain projections of ledger facts: parcels,
// registration requests, and transfer records. The ledger remains the source
// of truth for ownership and verification; these records exist to be queried.
package models

import "time"

// ParcelStatus tracks the registration lifecycle of a parcel.
type ParcelStatus string

const (
	// ParcelStatusPending covers both a freshly submitted parcel (no ledger
	// id yet) and one whose registration request is confirmed but not
	// approved.
	ParcelStatusPending ParcelStatus = "pending"

	// ParcelStatusPendingApproved is the recoverable intermediate state when
	// the ledger approval confirmed but the verification leg did not. Never
	// promoted to verified without a confirmed verification.
	ParcelStatusPendingApproved ParcelStatus = "pending_approved"

	ParcelStatusVerified ParcelStatus = "verified"
	ParcelStatusRejected ParcelStatus = "rejected"
)

// TransferStatus tracks an ownership change in flight.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusApproved  TransferStatus = "approved"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusRejected  TransferStatus = "rejected"
)

// Open reports whether the transfer still holds the parcel's transfer lock.
func (s TransferStatus) Open() bool {
	return s == TransferStatusPending || s == TransferStatusApproved
}

// Parcel is the queryable projection of a land parcel. LedgerID is nil until
// the registration has been confirmed on the ledger.
type Parcel struct {
	ID              string
	LedgerID        *int64
	OwnerID         string
	Location        string
	AreaSqMeters    float64
	DocumentDigests []string
	MetadataDigest  string
	Status          ParcelStatus
	TransferLock    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RegistrationRequest is the audit record of a registration submission. It is
// never deleted; Approved flips once when the parcel becomes verified or the
// request is rejected.
type RegistrationRequest struct {
	ID              string
	LedgerRequestID int64
	ParcelID        string
	RequesterID     string
	MetadataDigest  string
	Approved        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransferRecord projects one ownership change. At most one record per parcel
// may be in an open status at any time; the parcel's transfer lock enforces
// this.
type TransferRecord struct {
	ID        string
	ParcelID  string
	FromOwner string
	ToOwner   string
	TxHash    string
	Status    TransferStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
