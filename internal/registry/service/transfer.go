package service

import (
	"context"

	"github.com/google/uuid"

	"landledger/internal/events"
	"landledger/internal/ledger"
	"landledger/internal/registry/models"
	"landledger/internal/registry/store"
	dErrors "landledger/pkg/domain-errors"
)

// InitiateTransfer opens an ownership change. The parcel-level transfer lock,
// taken with a compare-and-swap at the store, is the sole defense against two
// concurrent transfers on the same parcel; a held lock fails fast with
// CodeTransferInProgress. The lock is released on every failure path so a
// parcel is never left permanently locked without an open transfer record.
func (s *Service) InitiateTransfer(ctx context.Context, parcelID, toOwner string) (record *models.TransferRecord, err error) {
	ctx, done := s.observe(ctx, "registry.InitiateTransfer")
	defer func() { done(err) }()

	if toOwner == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "transfer recipient is required")
	}

	parcel, err := s.store.GetParcel(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	if parcel.Status != models.ParcelStatusVerified || parcel.LedgerID == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "only verified parcels can be transferred")
	}

	locked, err := s.store.LockForTransfer(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, dErrors.New(dErrors.CodeTransferInProgress, "a transfer is already in flight for this parcel")
	}

	record, err = s.initiateLocked(ctx, parcel, toOwner)
	if err != nil {
		// Unlock on abort keeps the invariant: lock held implies exactly one
		// open transfer record. The pending handle, if any, survives for a
		// retry.
		if unlockErr := s.store.Unlock(ctx, parcelID); unlockErr != nil {
			s.logger.Error("unlocking parcel after failed initiate", "parcel_id", parcelID, "error", unlockErr)
		}
		return nil, err
	}
	return record, nil
}

func (s *Service) initiateLocked(ctx context.Context, parcel *models.Parcel, toOwner string) (*models.TransferRecord, error) {
	// Reconciliation: the ledger may already hold an open transfer from an
	// attempt whose projection was lost. Replay it instead of resubmitting.
	fact, err := s.ledger.ReadFact(ctx, *parcel.LedgerID)
	if err != nil {
		return nil, err
	}

	from := fact.Owner
	to := fact.OpenTransferTo
	txHash := ""

	if to == "" {
		conf, submitErr := s.submitAndAwait(ctx, "transfer:init:"+parcel.ID, ledger.Submission{
			Kind:      ledger.KindInitiateTransfer,
			ParcelID:  *parcel.LedgerID,
			Requester: parcel.OwnerID,
			ToOwner:   toOwner,
		})
		if submitErr != nil {
			return nil, submitErr
		}
		ev, ok := ledger.FindEvent[ledger.TransferInitiated](conf)
		if !ok {
			return nil, dErrors.New(dErrors.CodeConsistencyFault,
				"transfer confirmed without a TransferInitiated event")
		}
		from, to, txHash = ev.From, ev.To, conf.TxHash
	} else if to != toOwner {
		// The open transfer on the ledger names a different recipient than
		// this call. Never silently adopt it; the caller must either finish
		// that transfer or wait for it to close.
		return nil, dErrors.New(dErrors.CodeConflict,
			"ledger already holds an open transfer to a different recipient")
	} else {
		s.metrics.RecordReplay()
	}

	now := s.clock.Now()
	record := &models.TransferRecord{
		ID:        uuid.NewString(),
		ParcelID:  parcel.ID,
		FromOwner: from,
		ToOwner:   to,
		TxHash:    txHash,
		Status:    models.TransferStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTransfer(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal,
			"transfer confirmed on ledger but record not persisted; retry to replay the projection")
	}
	s.clearPending(ctx, "transfer:init:"+parcel.ID)

	s.emit(ctx, events.Event{
		Type:           events.TypeTransferInitiated,
		ParcelID:       parcel.ID,
		LedgerParcelID: *parcel.LedgerID,
		Owner:          from,
		TxHash:         txHash,
	})
	return record, nil
}

// ApproveTransfer moves the open transfer Pending -> Approved. Calling it
// before a confirmed initiation is an ordering violation and creates nothing.
func (s *Service) ApproveTransfer(ctx context.Context, parcelID string) (record *models.TransferRecord, err error) {
	ctx, done := s.observe(ctx, "registry.ApproveTransfer")
	defer func() { done(err) }()

	parcel, err := s.store.GetParcel(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	record, err = s.store.OpenTransfer(ctx, parcelID)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeConflict, "no open transfer to approve for this parcel")
		}
		return nil, err
	}
	if record.Status != models.TransferStatusPending {
		return nil, dErrors.New(dErrors.CodeAlreadyProcessed, "transfer already approved")
	}
	if parcel.LedgerID == nil {
		return nil, dErrors.New(dErrors.CodeConsistencyFault, "transferring parcel has no ledger id")
	}

	if _, err = s.submitAndAwait(ctx, "transfer:approve:"+parcelID, ledger.Submission{
		Kind:     ledger.KindApproveTransfer,
		ParcelID: *parcel.LedgerID,
	}); err != nil {
		return nil, err
	}

	approved := models.TransferStatusApproved
	applied, err := s.store.UpdateTransferConditional(ctx, record.ID, models.TransferStatusPending, store.TransferPatch{
		Status: &approved,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dErrors.New(dErrors.CodeConflict, "transfer state changed concurrently during approval")
	}
	s.clearPending(ctx, "transfer:approve:"+parcelID)

	record, err = s.store.GetTransfer(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.Event{
		Type:           events.TypeTransferApproved,
		ParcelID:       parcelID,
		LedgerParcelID: *parcel.LedgerID,
		TxHash:         record.TxHash,
	})
	return record, nil
}

// FinalizeTransfer completes the ownership change. The new owner always comes
// from a ledger read after confirmation, never from the caller. Repeat calls
// after completion are idempotent and perform no second ownership change.
func (s *Service) FinalizeTransfer(ctx context.Context, parcelID, claimedFrom string) (record *models.TransferRecord, err error) {
	ctx, done := s.observe(ctx, "registry.FinalizeTransfer")
	defer func() { done(err) }()

	parcel, err := s.store.GetParcel(ctx, parcelID)
	if err != nil {
		return nil, err
	}
	record, err = s.store.LatestTransfer(ctx, parcelID)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeConflict, "no transfer to finalize for this parcel")
		}
		return nil, err
	}

	switch record.Status {
	case models.TransferStatusCompleted:
		// Idempotent repeat call.
		return record, nil
	case models.TransferStatusRejected:
		return nil, dErrors.New(dErrors.CodeConflict, "latest transfer was rejected; initiate a new one")
	case models.TransferStatusPending:
		return nil, dErrors.New(dErrors.CodeConflict, "transfer not yet approved")
	}

	if claimedFrom != "" && claimedFrom != record.FromOwner {
		return nil, dErrors.New(dErrors.CodeBadRequest, "claimed identity does not match the transfer record")
	}
	if parcel.LedgerID == nil {
		return nil, dErrors.New(dErrors.CodeConsistencyFault, "transferring parcel has no ledger id")
	}

	// When the ledger already shows the transfer closed, a previous finalize
	// confirmed but the projection was lost: replay off-chain only.
	fact, err := s.ledger.ReadFact(ctx, *parcel.LedgerID)
	if err != nil {
		return nil, err
	}
	txHash := record.TxHash
	if fact.OpenTransferTo != "" {
		conf, submitErr := s.submitAndAwait(ctx, "transfer:finalize:"+parcelID, ledger.Submission{
			Kind:     ledger.KindFinalizeTransfer,
			ParcelID: *parcel.LedgerID,
		})
		if submitErr != nil {
			return nil, submitErr
		}
		txHash = conf.TxHash

		// Re-read: the ledger, not the confirmation or the caller, is the
		// source of truth for the new owner.
		fact, err = s.ledger.ReadFact(ctx, *parcel.LedgerID)
		if err != nil {
			return nil, err
		}
	} else {
		s.metrics.RecordReplay()
	}

	newOwner := fact.Owner
	if newOwner == record.FromOwner {
		// No ownership change happened on the ledger. Close out the transfer
		// without completing it and release the lock.
		rejectedStatus := models.TransferStatusRejected
		if _, casErr := s.store.UpdateTransferConditional(ctx, record.ID, record.Status, store.TransferPatch{
			Status: &rejectedStatus,
		}); casErr != nil {
			return nil, casErr
		}
		if unlockErr := s.store.Unlock(ctx, parcelID); unlockErr != nil {
			return nil, unlockErr
		}
		s.clearPending(ctx, "transfer:finalize:"+parcelID)
		return nil, dErrors.New(dErrors.CodeOwnershipUnchanged,
			"ledger reports the same owner after finalization")
	}

	// Two off-chain writes as one logical step. Either may have already been
	// applied by a previous attempt; both paths tolerate that.
	unlock := false
	applied, err := s.store.UpdateParcelConditional(ctx, parcel.ID, models.ParcelStatusVerified, store.ParcelPatch{
		OwnerID:      &newOwner,
		TransferLock: &unlock,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dErrors.New(dErrors.CodeConflict, "parcel state changed concurrently during finalization")
	}

	completed := models.TransferStatusCompleted
	applied, err = s.store.UpdateTransferConditional(ctx, record.ID, models.TransferStatusApproved, store.TransferPatch{
		Status: &completed,
		TxHash: &txHash,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal,
			"ownership updated but transfer record not completed; retry to replay the projection")
	}
	if !applied {
		current, getErr := s.store.GetTransfer(ctx, record.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status != models.TransferStatusCompleted {
			return nil, dErrors.New(dErrors.CodeConflict, "transfer state changed concurrently during finalization")
		}
		record = current
	} else {
		record, err = s.store.GetTransfer(ctx, record.ID)
		if err != nil {
			return nil, err
		}
	}
	s.clearPending(ctx, "transfer:finalize:"+parcelID)

	s.emit(ctx, events.Event{
		Type:           events.TypeTransferCompleted,
		ParcelID:       parcelID,
		LedgerParcelID: *parcel.LedgerID,
		Owner:          newOwner,
		TxHash:         txHash,
	})
	return record, nil
}
