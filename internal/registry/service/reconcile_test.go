package service

import (
	"landledger/internal/ledger"
	"landledger/internal/registry/models"
	dErrors "landledger/pkg/domain-errors"
)

// =============================================================================
// Read-Path Reconciliation
// =============================================================================
// These tests put the ledger ahead of the projection by driving the contract
// directly, simulating a crash after confirmation but before persistence, then
// assert that a read heals the projection without new ledger submissions.

// confirmDirect submits to the underlying ledger outside the workflows.
func (s *WorkflowSuite) confirmDirect(sub ledger.Submission) {
	s.T().Helper()
	tx, err := s.ledger.Memory.Submit(s.ctx, sub)
	s.Require().NoError(err)
	_, err = s.ledger.Memory.AwaitConfirmation(s.ctx, tx)
	s.Require().NoError(err)
}

func (s *WorkflowSuite) TestGetParcelNoLedgerIDServedAsIs() {
	req := s.submitRegistration("0xalice")

	parcel, err := s.svc.GetParcel(s.ctx, req.ParcelID)
	s.Require().NoError(err)
	s.Equal(models.ParcelStatusPending, parcel.Status)
}

func (s *WorkflowSuite) TestReconcileMissedVerification() {
	// Fail the verify leg so the projection stops at pending_approved, then
	// confirm the verification directly on the ledger.
	req := s.submitRegistration("0xalice")
	s.ledger.FailNextOfKind(ledger.KindVerify, dErrors.New(dErrors.CodeLedgerUnavailable, "node down"))
	_, err := s.svc.ApproveRegistration(s.ctx, req.ID)
	s.Require().Error(err)

	stale, err := s.store.GetParcel(s.ctx, req.ParcelID)
	s.Require().NoError(err)
	s.Require().Equal(models.ParcelStatusPendingApproved, stale.Status)
	s.confirmDirect(ledger.Submission{Kind: ledger.KindVerify, ParcelID: *stale.LedgerID})

	healed, err := s.svc.GetParcel(s.ctx, req.ParcelID)
	s.Require().NoError(err)
	s.Equal(models.ParcelStatusVerified, healed.Status)
	s.Equal(1, s.ledger.SubmitCount(ledger.KindVerify), "healing must replay off-chain, not resubmit")
}

func (s *WorkflowSuite) TestReconcileMissedFinalization() {
	parcel := s.verifiedParcel("0xalice")
	_, err := s.svc.InitiateTransfer(s.ctx, parcel.ID, "0xbob")
	s.Require().NoError(err)
	_, err = s.svc.ApproveTransfer(s.ctx, parcel.ID)
	s.Require().NoError(err)

	// Finalization confirmed on the ledger but the projection was lost.
	s.confirmDirect(ledger.Submission{Kind: ledger.KindFinalizeTransfer, ParcelID: *parcel.LedgerID})

	healed, err := s.svc.GetParcel(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.Equal("0xbob", healed.OwnerID)
	s.False(healed.TransferLock)

	record, err := s.store.LatestTransfer(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.Equal(models.TransferStatusCompleted, record.Status)
	s.Zero(s.ledger.SubmitCount(ledger.KindFinalizeTransfer), "healing must not submit")
}

func (s *WorkflowSuite) TestReconcileUnexplainedOwnerMismatch() {
	parcel := s.verifiedParcel("0xalice")

	// An ownership change with no matching transfer record cannot be healed
	// and must surface, never be patched over.
	s.confirmDirect(ledger.Submission{Kind: ledger.KindInitiateTransfer, ParcelID: *parcel.LedgerID, ToOwner: "0xmallory"})
	s.confirmDirect(ledger.Submission{Kind: ledger.KindApproveTransfer, ParcelID: *parcel.LedgerID})
	s.confirmDirect(ledger.Submission{Kind: ledger.KindFinalizeTransfer, ParcelID: *parcel.LedgerID})

	_, err := s.svc.GetParcel(s.ctx, parcel.ID)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConsistencyFault))

	// The projection is left untouched for investigation.
	untouched, err := s.store.GetParcel(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.Equal("0xalice", untouched.OwnerID)
}

func (s *WorkflowSuite) TestReconcileLedgerUnavailableServesProjection() {
	parcel := s.verifiedParcel("0xalice")
	s.ledger.SetUnavailable(true)

	got, err := s.svc.GetParcel(s.ctx, parcel.ID)
	s.Require().NoError(err)
	s.Equal(parcel.ID, got.ID)
	s.Equal(models.ParcelStatusVerified, got.Status)
}
