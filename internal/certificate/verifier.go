// Package certificate answers authenticity queries about issued parcel
// certificates. Verification compares against the ledger-stored digest only:
// the off-chain projection is deliberately ignored, because the whole point is
// detecting tampering with the mutable copy.
package certificate

import (
	"context"

	"landledger/internal/hashing"
	"landledger/internal/ledger"
	"landledger/internal/registry/models"
	"landledger/internal/registry/store"
	dErrors "landledger/pkg/domain-errors"
)

type Verifier struct {
	ledger ledger.Client
	store  store.Store
}

func NewVerifier(lc ledger.Client, st store.Store) *Verifier {
	return &Verifier{ledger: lc, store: st}
}

// Verify reports whether claimedHash matches the digest anchored on the
// ledger for the parcel. A missing ledger fact means the parcel was never
// confirmed, so nothing can be authentic against it.
func (v *Verifier) Verify(ctx context.Context, parcelID string, claimedHash string) (bool, error) {
	ledgerID, err := v.resolveLedgerID(ctx, parcelID)
	if err != nil {
		return false, err
	}
	fact, err := v.ledger.ReadFact(ctx, ledgerID)
	if err != nil {
		return false, err
	}
	return fact.MetadataDigest == claimedHash, nil
}

// VerifyMetadata recomputes the digest of the presented metadata and checks
// it against the ledger anchor. Any single-byte change in the metadata
// produces a different digest and fails verification.
func (v *Verifier) VerifyMetadata(ctx context.Context, parcelID string, meta hashing.Metadata) (bool, error) {
	digest, err := hashing.Digest(meta)
	if err != nil {
		return false, err
	}
	return v.Verify(ctx, parcelID, digest)
}

// History returns the parcel's owner identities in order, oldest first,
// produced from the ledger's append-only ownership log. Re-reading yields the
// same sequence.
func (v *Verifier) History(ctx context.Context, parcelID string) ([]string, error) {
	ledgerID, err := v.resolveLedgerID(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	return v.ledger.OwnershipLog(ctx, ledgerID)
}

// resolveLedgerID maps the off-chain parcel id to its ledger id. The store is
// trusted for the id mapping only, never for the facts being verified.
func (v *Verifier) resolveLedgerID(ctx context.Context, parcelID string) (int64, error) {
	parcel, err := v.store.GetParcel(ctx, parcelID)
	if err != nil {
		return 0, err
	}
	if parcel.LedgerID == nil {
		if parcel.Status == models.ParcelStatusRejected {
			return 0, dErrors.New(dErrors.CodeBadRequest, "parcel registration was rejected")
		}
		return 0, dErrors.New(dErrors.CodeBadRequest, "parcel is not anchored on the ledger yet")
	}
	return *parcel.LedgerID, nil
}
