package service

import (
	"errors"
	"time"

	"landledger/internal/events"
	"landledger/internal/hashing"
	"landledger/internal/ledger"
	"landledger/internal/registry/models"
	dErrors "landledger/pkg/domain-errors"
)

// =============================================================================
// Submission
// =============================================================================

func (s *WorkflowSuite) TestSubmitRegistration() {
	req := s.submitRegistration("0xalice")

	s.Positive(req.LedgerRequestID)
	s.Equal("0xalice", req.RequesterID)
	s.False(req.Approved)
	s.NotEmpty(req.MetadataDigest)

	parcel, err := s.store.GetParcel(s.ctx, req.ParcelID)
	s.Require().NoError(err)
	s.Equal(models.ParcelStatusPending, parcel.Status)
	s.Nil(parcel.LedgerID, "no ledger parcel exists before approval")
	s.Equal("0xalice", parcel.OwnerID)
	s.Equal(req.MetadataDigest, parcel.MetadataDigest)

	s.Equal([]events.Type{events.TypeRegistrationSubmitted}, s.eventTypes())
}

func (s *WorkflowSuite) TestSubmitRegistrationRequiresRequester() {
	_, err := s.svc.SubmitRegistration(s.ctx, "", hashing.Metadata{Location: "lot 1"}, nil)
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))
}

func (s *WorkflowSuite) TestSubmitRegistrationTimeoutThenRetry() {
	// Confirmations take longer than the await timeout, so the first call
	// returns a retryable timeout while the submission stays pending.
	s.ledger.SetLatency(120 * time.Millisecond)
	s.svc.awaitTimeout = 30 * time.Millisecond

	meta := hashing.Metadata{Location: "lot 9", AreaSqMeters: 50}
	docs := []string{"sha256:deed"}

	_, err := s.svc.SubmitRegistration(s.ctx, "0xalice", meta, docs)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConfirmationTimeout))
	s.True(dErrors.Retryable(err))
	s.Equal(1, s.ledger.SubmitCount(ledger.KindRegistration))

	// The retry re-polls the stored handle rather than submitting again.
	s.svc.awaitTimeout = 2 * time.Second
	req, err := s.svc.SubmitRegistration(s.ctx, "0xalice", meta, docs)
	s.Require().NoError(err)
	s.Equal(1, s.ledger.SubmitCount(ledger.KindRegistration), "retry after timeout must not resubmit")

	// Exactly one registration request exists.
	byLedger, err := s.store.GetRequestByLedgerID(s.ctx, req.LedgerRequestID)
	s.Require().NoError(err)
	s.Equal(req.ID, byLedger.ID)
}

func (s *WorkflowSuite) TestSubmitRegistrationLedgerUnavailable() {
	s.ledger.SetUnavailable(true)
	_, err := s.svc.SubmitRegistration(s.ctx, "0xalice", hashing.Metadata{Location: "lot 1"}, nil)
	s.True(dErrors.Is(err, dErrors.CodeLedgerUnavailable))
	s.True(dErrors.Retryable(err))
}

func (s *WorkflowSuite) TestSubmitRegistrationRetryAfterPersistenceFailure() {
	// The ledger confirms but the store write fails. The handle must survive
	// so the retry replays the mined confirmation instead of submitting a
	// second registration the ledger knows nothing about deduplicating.
	meta := hashing.Metadata{Location: "12 Harbour Rd", AreaSqMeters: 412.5}
	docs := []string{"sha256:deed", "sha256:survey"}

	s.faulty.FailNextOp("CreateRegistrationRequest", errors.New("connection reset"))
	_, err := s.svc.SubmitRegistration(s.ctx, "0xalice", meta, docs)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInternal))
	s.Equal(1, s.ledger.SubmitCount(ledger.KindRegistration))

	req, err := s.svc.SubmitRegistration(s.ctx, "0xalice", meta, docs)
	s.Require().NoError(err)
	s.Equal(1, s.ledger.SubmitCount(ledger.KindRegistration), "retry after a store failure must not resubmit")

	// Exactly one registration request exists on the ledger and off chain.
	s.Equal(int64(1), req.LedgerRequestID)
	byLedger, err := s.store.GetRequestByLedgerID(s.ctx, req.LedgerRequestID)
	s.Require().NoError(err)
	s.Equal(req.ID, byLedger.ID)
}

// =============================================================================
// Approval
// =============================================================================

func (s *WorkflowSuite) TestApproveRegistration() {
	req := s.submitRegistration("0xalice")

	parcel, err := s.svc.ApproveRegistration(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.ParcelStatusVerified, parcel.Status)
	s.Require().NotNil(parcel.LedgerID)

	// Both ledger legs ran.
	s.Equal(1, s.ledger.SubmitCount(ledger.KindApprove))
	s.Equal(1, s.ledger.SubmitCount(ledger.KindVerify))

	updated, err := s.store.GetRegistrationRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.True(updated.Approved)

	fact, err := s.ledger.ReadFact(s.ctx, *parcel.LedgerID)
	s.Require().NoError(err)
	s.True(fact.Verified)
	s.Equal("0xalice", fact.Owner)

	s.Contains(s.eventTypes(), events.TypeParcelVerified)
}

func (s *WorkflowSuite) TestApproveRegistrationVerifyLegFailure() {
	req := s.submitRegistration("0xalice")
	s.ledger.FailNextOfKind(ledger.KindVerify, dErrors.New(dErrors.CodeLedgerUnavailable, "node down"))

	_, err := s.svc.ApproveRegistration(s.ctx, req.ID)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeLedgerUnavailable))

	// Approve confirmed but verify did not: the parcel must sit in the
	// recoverable intermediate state, never verified.
	parcel, err := s.store.GetParcel(s.ctx, req.ParcelID)
	s.Require().NoError(err)
	s.Equal(models.ParcelStatusPendingApproved, parcel.Status)
	s.NotNil(parcel.LedgerID)

	// A second call resumes at the verify leg without re-approving.
	parcel, err = s.svc.ApproveRegistration(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.ParcelStatusVerified, parcel.Status)
	s.Equal(1, s.ledger.SubmitCount(ledger.KindApprove))
	s.Equal(2, s.ledger.SubmitCount(ledger.KindVerify))
}

func (s *WorkflowSuite) TestApproveRegistrationAlreadyProcessed() {
	req := s.submitRegistration("0xalice")
	_, err := s.svc.ApproveRegistration(s.ctx, req.ID)
	s.Require().NoError(err)

	_, err = s.svc.ApproveRegistration(s.ctx, req.ID)
	s.True(dErrors.Is(err, dErrors.CodeAlreadyProcessed))
	s.Equal(1, s.ledger.SubmitCount(ledger.KindApprove), "repeat approval must not touch the ledger")
}

func (s *WorkflowSuite) TestApproveUnknownRequest() {
	_, err := s.svc.ApproveRegistration(s.ctx, "missing")
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

func (s *WorkflowSuite) TestApproveRegistrationPersistenceFailureThenRetry() {
	// The approval confirms on the ledger but the status write fails. The
	// handle must survive so the retry re-polls the mined approval; a fresh
	// submission would be reverted as already processed and strand the parcel
	// at pending forever.
	req := s.submitRegistration("0xalice")

	s.faulty.FailNextOp("UpdateParcelConditional", errors.New("connection reset"))
	_, err := s.svc.ApproveRegistration(s.ctx, req.ID)
	s.Require().Error(err)

	parcel, err := s.svc.ApproveRegistration(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.ParcelStatusVerified, parcel.Status)
	s.Equal(1, s.ledger.SubmitCount(ledger.KindApprove), "retry must re-poll, never resubmit the approval")
	s.Equal(1, s.ledger.SubmitCount(ledger.KindVerify))

	updated, err := s.store.GetRegistrationRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.True(updated.Approved)
}

func (s *WorkflowSuite) TestRepeatApproveHealsRequestFlag() {
	// Marking the request approved fails after the parcel is already
	// Verified. The repeat call still reports AlreadyProcessed, but it must
	// catch the lagging flag up first.
	req := s.submitRegistration("0xalice")

	s.faulty.FailNextOp("MarkRequestProcessed", errors.New("connection reset"))
	_, err := s.svc.ApproveRegistration(s.ctx, req.ID)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInternal))

	parcel, err := s.store.GetParcel(s.ctx, req.ParcelID)
	s.Require().NoError(err)
	s.Equal(models.ParcelStatusVerified, parcel.Status)

	_, err = s.svc.ApproveRegistration(s.ctx, req.ID)
	s.True(dErrors.Is(err, dErrors.CodeAlreadyProcessed))

	updated, err := s.store.GetRegistrationRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.True(updated.Approved, "repeat approval heals the lagging request flag")
}

// =============================================================================
// Rejection
// =============================================================================

func (s *WorkflowSuite) TestRejectRegistration() {
	req := s.submitRegistration("0xalice")

	parcel, err := s.svc.RejectRegistration(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.ParcelStatusRejected, parcel.Status)
	s.Empty(parcel.DocumentDigests, "temporary document references are cleared on rejection")

	s.Contains(s.eventTypes(), events.TypeRegistrationRejected)

	s.Run("repeat rejection is already processed", func() {
		_, err := s.svc.RejectRegistration(s.ctx, req.ID)
		s.True(dErrors.Is(err, dErrors.CodeAlreadyProcessed))
	})

	s.Run("approving a rejected request is already processed", func() {
		_, err := s.svc.ApproveRegistration(s.ctx, req.ID)
		s.True(dErrors.Is(err, dErrors.CodeAlreadyProcessed))
	})
}

func (s *WorkflowSuite) TestRejectAfterApproval() {
	req := s.submitRegistration("0xalice")
	_, err := s.svc.ApproveRegistration(s.ctx, req.ID)
	s.Require().NoError(err)

	_, err = s.svc.RejectRegistration(s.ctx, req.ID)
	s.True(dErrors.Is(err, dErrors.CodeAlreadyProcessed))
}
