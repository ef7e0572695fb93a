package service

import (
	"context"

	"landledger/internal/registry/models"
	"landledger/internal/registry/store"
	dErrors "landledger/pkg/domain-errors"
)

// GetParcel returns the parcel after reconciling it against the ledger: when
// the off-chain projection lags a confirmed ledger fact, the missing write is
// replayed here rather than re-submitted to the ledger.
func (s *Service) GetParcel(ctx context.Context, parcelID string) (*models.Parcel, error) {
	parcel, err := s.store.GetParcel(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	return s.reconcileParcel(ctx, parcel)
}

// GetTransfer returns a transfer record by id.
func (s *Service) GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	return s.store.GetTransfer(ctx, transferID)
}

// GetRegistrationRequest returns a registration request by id.
func (s *Service) GetRegistrationRequest(ctx context.Context, requestID string) (*models.RegistrationRequest, error) {
	return s.store.GetRegistrationRequest(ctx, requestID)
}

// reconcileParcel heals the two known crash windows between ledger
// confirmation and off-chain persistence: a verification the store missed,
// and a finalized transfer the store missed. Disagreements that do not match
// either pattern are surfaced as consistency faults, never patched over.
func (s *Service) reconcileParcel(ctx context.Context, parcel *models.Parcel) (*models.Parcel, error) {
	if parcel.LedgerID == nil {
		return parcel, nil
	}

	fact, err := s.ledger.ReadFact(ctx, *parcel.LedgerID)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeLedgerUnavailable) {
			// Cannot compare right now; serve the projection as-is.
			return parcel, nil
		}
		return nil, err
	}

	changed := false

	if fact.Verified && parcel.Status == models.ParcelStatusPendingApproved {
		verified := models.ParcelStatusVerified
		applied, casErr := s.store.UpdateParcelConditional(ctx, parcel.ID, models.ParcelStatusPendingApproved, store.ParcelPatch{
			Status: &verified,
		})
		if casErr != nil {
			return nil, casErr
		}
		if applied {
			s.metrics.RecordReplay()
			changed = true
		}
	}

	if fact.Owner != parcel.OwnerID && fact.OpenTransferTo == "" {
		record, recErr := s.store.LatestTransfer(ctx, parcel.ID)
		if recErr != nil || record.ToOwner != fact.Owner || !record.Status.Open() {
			return nil, dErrors.Newf(dErrors.CodeConsistencyFault,
				"ledger owner %q disagrees with projection %q and no matching transfer exists",
				fact.Owner, parcel.OwnerID)
		}

		unlock := false
		applied, casErr := s.store.UpdateParcelConditional(ctx, parcel.ID, parcel.Status, store.ParcelPatch{
			OwnerID:      &fact.Owner,
			TransferLock: &unlock,
		})
		if casErr != nil {
			return nil, casErr
		}
		completed := models.TransferStatusCompleted
		if _, casErr = s.store.UpdateTransferConditional(ctx, record.ID, record.Status, store.TransferPatch{
			Status: &completed,
		}); casErr != nil {
			return nil, casErr
		}
		if applied {
			s.metrics.RecordReplay()
			changed = true
		}
	}

	if !changed {
		return parcel, nil
	}
	return s.store.GetParcel(ctx, parcel.ID)
}
