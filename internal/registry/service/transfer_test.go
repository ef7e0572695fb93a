package service

import (
	"errors"
	"sync"

	"landledger/internal/events"
	"landledger/internal/ledger"
	"landledger/internal/registry/models"
	dErrors "landledger/pkg/domain-errors"
)

// =============================================================================
// Initiation
// =============================================================================

func (s *WorkflowSuite) TestInitiateTransfer() {
	parcel := s.verifiedParcel("0xalice")

	record, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().NoError(err)
	s.Equal(models.TransferStatusPending, record.Status)
	s.Equal("0xalice", record.FromOwner)
	s.Equal("0xbob", record.ToOwner)
	s.NotEmpty(record.TxHash)

	locked, err := s.store.GetParcel(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.True(locked.TransferLock)
	s.Equal("0xalice", locked.OwnerID, "ownership must not change before finalization")

	s.Contains(s.eventTypes(), events.TypeTransferInitiated)
}

func (s *WorkflowSuite) TestInitiateTransferValidation() {
	parcel := s.verifiedParcel("0xalice")

	s.Run("missing recipient", func() {
		_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "")
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown parcel", func() {
		_, err := s.svc.InitiateTransfer(s.ctx, "missing", "0xbob")
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("unverified parcel", func() {
		req := s.submitRegistration("0xcarol")
		_, err := s.svc.InitiateTransfer(s.ctx, req.ParcelID, "0xbob")
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})
}

func (s *WorkflowSuite) TestSecondInitiateWhileInFlight() {
	parcel := s.verifiedParcel("0xalice")

	_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().NoError(err)

	_, err = s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xcarol")
	s.True(dErrors.Is(err, dErrors.CodeTransferInProgress))
	s.Equal(1, s.ledger.SubmitCount(ledger.KindInitiateTransfer), "the loser must not reach the ledger")
}

func (s *WorkflowSuite) TestConcurrentInitiatesSingleWinner() {
	parcel := s.verifiedParcel("0xalice")

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners, losers := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case dErrors.Is(err, dErrors.CodeTransferInProgress):
			losers++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, winners, "exactly one concurrent initiation may win")
	s.Equal(attempts-1, losers)
	s.Equal(1, s.ledger.SubmitCount(ledger.KindInitiateTransfer))
}

func (s *WorkflowSuite) TestInitiateUnlocksOnLedgerFailure() {
	parcel := s.verifiedParcel("0xalice")
	s.ledger.FailNextOfKind(ledger.KindInitiateTransfer, dErrors.New(dErrors.CodeLedgerUnavailable, "node down"))

	_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeLedgerUnavailable))

	unlocked, err := s.store.GetParcel(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.False(unlocked.TransferLock, "a failed initiation must not leave the parcel locked")

	// The parcel is usable again.
	_, err = s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.NoError(err)
}

func (s *WorkflowSuite) TestInitiateReplayRecipientMismatch() {
	parcel := s.verifiedParcel("0xalice")

	// An earlier initiation confirmed on the ledger but its projection was
	// lost: the ledger holds an open transfer the store knows nothing about.
	_, err := s.ledger.Memory.Submit(s.ctx, ledger.Submission{
		Kind:      ledger.KindInitiateTransfer,
		ParcelID:  *parcel.LedgerID,
		Requester: "0xalice",
		ToOwner:   "0xcarol",
	})
	s.Require().NoError(err)

	// Asking for a different recipient must not silently adopt the ledger's
	// open transfer.
	_, err = s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConflict))

	unlocked, err := s.store.GetParcel(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.False(unlocked.TransferLock, "the refused replay must not leave the parcel locked")

	// Replaying with the recipient the ledger actually holds succeeds without
	// a second ledger call.
	record, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xcarol")
	s.Require().NoError(err)
	s.Equal("0xcarol", record.ToOwner)
	s.Equal("0xalice", record.FromOwner)
	s.Zero(s.ledger.SubmitCount(ledger.KindInitiateTransfer))
}

// =============================================================================
// Approval
// =============================================================================

func (s *WorkflowSuite) TestApproveTransferBeforeInitiation() {
	parcel := s.verifiedParcel("0xalice")

	_, err := s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.True(dErrors.Is(err, dErrors.CodeConflict), "out-of-order approval must create nothing")
	s.Zero(s.ledger.SubmitCount(ledger.KindApproveTransfer))
}

func (s *WorkflowSuite) TestApproveTransfer() {
	parcel := s.verifiedParcel("0xalice")
	_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().NoError(err)

	record, err := s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.Equal(models.TransferStatusApproved, record.Status)

	_, err = s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.True(dErrors.Is(err, dErrors.CodeAlreadyProcessed))
	s.Equal(1, s.ledger.SubmitCount(ledger.KindApproveTransfer))
}

func (s *WorkflowSuite) TestApproveTransferPersistenceFailureThenRetry() {
	// The ledger approves the transfer but the record write fails. The retry
	// must re-poll the mined approval; a fresh submission would be reverted as
	// already approved and leave the record pending with the lock held.
	parcel := s.verifiedParcel("0xalice")
	_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().NoError(err)

	s.faulty.FailNextOp("UpdateTransferConditional", errors.New("connection reset"))
	_, err = s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.Require().Error(err)

	record, err := s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.Equal(models.TransferStatusApproved, record.Status)
	s.Equal(1, s.ledger.SubmitCount(ledger.KindApproveTransfer), "retry must re-poll, never resubmit the approval")

	// The recovered transfer still finalizes normally.
	record, err = s.svc.FinalizeTransfer(s.ctx, parcel.ID, "0xalice")
	s.Require().NoError(err)
	s.Equal(models.TransferStatusCompleted, record.Status)

	owned, err := s.store.GetParcel(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.Equal("0xbob", owned.OwnerID)
	s.False(owned.TransferLock)
}

// =============================================================================
// Finalization
// =============================================================================

func (s *WorkflowSuite) TestFinalizeTransfer() {
	parcel := s.verifiedParcel("0xalice")
	_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().NoError(err)
	_, err = s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.Require().NoError(err)

	record, err := s.svc.FinalizeTransfer(s.ctx, parcel.ID, "0xalice")
	s.Require().NoError(err)
	s.Equal(models.TransferStatusCompleted, record.Status)
	s.NotEmpty(record.TxHash)

	updated, err := s.store.GetParcel(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.Equal("0xbob", updated.OwnerID)
	s.False(updated.TransferLock)
	s.Equal(models.ParcelStatusVerified, updated.Status)

	log, err := s.ledger.OwnershipLog(s.ctx, *parcel.LedgerID)
	s.Require().NoError(err)
	s.Equal([]string{"0xalice", "0xbob"}, log)

	s.Contains(s.eventTypes(), events.TypeTransferCompleted)
}

func (s *WorkflowSuite) TestFinalizeTransferIdempotent() {
	parcel := s.verifiedParcel("0xalice")
	_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().NoError(err)
	_, err = s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.Require().NoError(err)

	first, err := s.svc.FinalizeTransfer(s.ctx, parcel.ID, "0xalice")
	s.Require().NoError(err)

	// A repeat call returns the completed record without a second ownership
	// change or ledger call.
	second, err := s.svc.FinalizeTransfer(s.ctx, parcel.ID, "")
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal(models.TransferStatusCompleted, second.Status)
	s.Equal(1, s.ledger.SubmitCount(ledger.KindFinalizeTransfer))

	log, err := s.ledger.OwnershipLog(s.ctx, *parcel.LedgerID)
	s.Require().NoError(err)
	s.Equal([]string{"0xalice", "0xbob"}, log)
}

func (s *WorkflowSuite) TestFinalizeTransferOrderingAndIdentity() {
	parcel := s.verifiedParcel("0xalice")

	s.Run("no transfer to finalize", func() {
		_, err := s.svc.FinalizeTransfer(s.ctx, parcel.ID, "0xalice")
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().NoError(err)

	s.Run("finalize before approval", func() {
		_, err := s.svc.FinalizeTransfer(s.ctx, parcel.ID, "0xalice")
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	_, err = s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.Require().NoError(err)

	s.Run("claimed identity mismatch", func() {
		_, err := s.svc.FinalizeTransfer(s.ctx, parcel.ID, "0xmallory")
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})
}

func (s *WorkflowSuite) TestFinalizeSelfTransferOwnershipUnchanged() {
	parcel := s.verifiedParcel("0xalice")
	_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xalice")
	s.Require().NoError(err)
	_, err = s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.Require().NoError(err)

	_, err = s.svc.FinalizeTransfer(s.ctx, parcel.ID, "0xalice")
	s.True(dErrors.Is(err, dErrors.CodeOwnershipUnchanged))

	// The transfer is closed out without completing and the lock is released.
	record, err := s.store.LatestTransfer(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.Equal(models.TransferStatusRejected, record.Status)

	updated, err := s.store.GetParcel(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.False(updated.TransferLock)
	s.Equal("0xalice", updated.OwnerID)

	// A fresh transfer can start afterwards.
	_, err = s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.NoError(err)
}
