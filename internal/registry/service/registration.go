package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"landledger/internal/events"
	"landledger/internal/hashing"
	"landledger/internal/ledger"
	"landledger/internal/registry/models"
	"landledger/internal/registry/store"
	dErrors "landledger/pkg/domain-errors"
)

// SubmitRegistration anchors a new parcel's metadata digest on the ledger and
// persists the Pending parcel plus its registration request once the ledger
// confirms. Resubmitting the same (requester, metadata) while a previous
// attempt is unconfirmed re-polls the pending handle, so a timeout followed by
// a successful retry yields exactly one registration request.
func (s *Service) SubmitRegistration(ctx context.Context, requesterID string, meta hashing.Metadata, documentDigests []string) (req *models.RegistrationRequest, err error) {
	ctx, done := s.observe(ctx, "registry.SubmitRegistration")
	defer func() { done(err) }()

	if requesterID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "requester id is required")
	}
	meta.OwnerID = requesterID
	meta.DocumentDigests = documentDigests

	digest, err := hashing.Digest(meta)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("registration:%s:%s", requesterID, digest)
	conf, err := s.submitAndAwait(ctx, key, ledger.Submission{
		Kind:           ledger.KindRegistration,
		Requester:      requesterID,
		MetadataDigest: digest,
	})
	if err != nil {
		return nil, err
	}

	ev, ok := ledger.FindEvent[ledger.RegistrationRequested](conf)
	if !ok {
		return nil, dErrors.New(dErrors.CodeConsistencyFault,
			"registration confirmed without a RegistrationRequested event")
	}

	// A crash between confirmation and persistence leaves the ledger ahead;
	// a retry lands here and finds the request already projected.
	if existing, findErr := s.store.GetRequestByLedgerID(ctx, ev.RequestID); findErr == nil {
		s.clearPending(ctx, key)
		return existing, nil
	}

	now := s.clock.Now()
	parcel := &models.Parcel{
		ID:              uuid.NewString(),
		OwnerID:         requesterID,
		Location:        meta.Location,
		AreaSqMeters:    meta.AreaSqMeters,
		DocumentDigests: documentDigests,
		MetadataDigest:  digest,
		Status:          models.ParcelStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = s.store.CreateParcel(ctx, parcel); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal,
			"registration confirmed on ledger but parcel not persisted; retry to replay the projection")
	}

	req = &models.RegistrationRequest{
		ID:              uuid.NewString(),
		LedgerRequestID: ev.RequestID,
		ParcelID:        parcel.ID,
		RequesterID:     requesterID,
		MetadataDigest:  digest,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = s.store.CreateRegistrationRequest(ctx, req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal,
			"registration confirmed on ledger but request not persisted; retry to replay the projection")
	}
	s.clearPending(ctx, key)

	s.emit(ctx, events.Event{
		Type:     events.TypeRegistrationSubmitted,
		ParcelID: parcel.ID,
		Owner:    requesterID,
		TxHash:   conf.TxHash,
	})
	return req, nil
}

// ApproveRegistration runs the approve and verify ledger legs and marks the
// parcel Verified only after both confirm. If verify fails after approve
// confirmed, the parcel is left in the recoverable pending_approved state and
// the error is surfaced; calling again resumes at the verify leg.
func (s *Service) ApproveRegistration(ctx context.Context, requestID string) (parcel *models.Parcel, err error) {
	ctx, done := s.observe(ctx, "registry.ApproveRegistration")
	defer func() { done(err) }()

	req, err := s.store.GetRegistrationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Approved {
		return nil, dErrors.New(dErrors.CodeAlreadyProcessed, "registration request already approved")
	}

	parcel, err = s.store.GetParcel(ctx, req.ParcelID)
	if err != nil {
		return nil, err
	}
	switch parcel.Status {
	case models.ParcelStatusVerified:
		// A crash after the final status write can leave the request flag
		// behind the parcel; heal it before reporting the repeat call.
		if markErr := s.store.MarkRequestProcessed(ctx, req.ID); markErr != nil {
			return nil, dErrors.Wrap(markErr, dErrors.CodeInternal,
				"parcel verified but request not marked approved")
		}
		return nil, dErrors.New(dErrors.CodeAlreadyProcessed, "parcel already in a terminal registration state")
	case models.ParcelStatusRejected:
		return nil, dErrors.New(dErrors.CodeAlreadyProcessed, "parcel already in a terminal registration state")
	}

	// Approve leg. Skipped when a previous call already confirmed it and
	// recorded the ledger parcel id.
	if parcel.Status == models.ParcelStatusPending {
		conf, approveErr := s.submitAndAwait(ctx, "approve:"+requestID, ledger.Submission{
			Kind:      ledger.KindApprove,
			RequestID: req.LedgerRequestID,
		})
		if approveErr != nil {
			err = approveErr
			return nil, err
		}
		registered, ok := ledger.FindEvent[ledger.LandRegistered](conf)
		if !ok {
			return nil, dErrors.New(dErrors.CodeConsistencyFault,
				"approval confirmed without a LandRegistered event")
		}

		pendingApproved := models.ParcelStatusPendingApproved
		applied, casErr := s.store.UpdateParcelConditional(ctx, parcel.ID, models.ParcelStatusPending, store.ParcelPatch{
			Status:         &pendingApproved,
			LedgerID:       &registered.ParcelID,
			MetadataDigest: &registered.MetadataDigest,
		})
		if casErr != nil {
			return nil, casErr
		}
		if !applied {
			return nil, dErrors.New(dErrors.CodeConflict,
				"parcel status changed concurrently during approval")
		}
		s.clearPending(ctx, "approve:"+requestID)
		parcel.Status = models.ParcelStatusPendingApproved
		parcel.LedgerID = &registered.ParcelID
	}

	if parcel.LedgerID == nil {
		return nil, dErrors.New(dErrors.CodeConsistencyFault, "approved parcel has no ledger id")
	}

	// Verify leg. If the ledger already shows the parcel verified (a prior
	// verify confirmed but the projection was lost), replay off-chain only.
	fact, err := s.ledger.ReadFact(ctx, *parcel.LedgerID)
	if err != nil {
		return nil, err
	}
	if !fact.Verified {
		if _, err = s.submitAndAwait(ctx, "verify:"+requestID, ledger.Submission{
			Kind:     ledger.KindVerify,
			ParcelID: *parcel.LedgerID,
		}); err != nil {
			// Parcel stays pending_approved; never promoted from a partial
			// confirmation.
			return nil, err
		}
	} else {
		s.metrics.RecordReplay()
	}

	verified := models.ParcelStatusVerified
	applied, err := s.store.UpdateParcelConditional(ctx, parcel.ID, models.ParcelStatusPendingApproved, store.ParcelPatch{
		Status: &verified,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dErrors.New(dErrors.CodeConflict,
			"parcel status changed concurrently during verification")
	}
	s.clearPending(ctx, "verify:"+requestID)

	if err = s.store.MarkRequestProcessed(ctx, req.ID); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal,
			"parcel verified but request not marked approved")
	}

	parcel, err = s.store.GetParcel(ctx, req.ParcelID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.Event{
		Type:           events.TypeParcelVerified,
		ParcelID:       parcel.ID,
		LedgerParcelID: *parcel.LedgerID,
		Owner:          parcel.OwnerID,
	})
	return parcel, nil
}

// RejectRegistration anchors the rejection on the ledger and persists the
// terminal Rejected status, clearing temporary document references.
func (s *Service) RejectRegistration(ctx context.Context, requestID string) (parcel *models.Parcel, err error) {
	ctx, done := s.observe(ctx, "registry.RejectRegistration")
	defer func() { done(err) }()

	req, err := s.store.GetRegistrationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Approved {
		return nil, dErrors.New(dErrors.CodeAlreadyProcessed, "registration request already approved")
	}

	parcel, err = s.store.GetParcel(ctx, req.ParcelID)
	if err != nil {
		return nil, err
	}
	if parcel.Status == models.ParcelStatusRejected {
		return nil, dErrors.New(dErrors.CodeAlreadyProcessed, "registration request already rejected")
	}
	if parcel.Status == models.ParcelStatusVerified {
		return nil, dErrors.New(dErrors.CodeAlreadyProcessed, "parcel already verified")
	}

	if _, err = s.submitAndAwait(ctx, "reject:"+requestID, ledger.Submission{
		Kind:      ledger.KindRejectRegistration,
		RequestID: req.LedgerRequestID,
	}); err != nil {
		return nil, err
	}

	rejectedStatus := models.ParcelStatusRejected
	noDigests := []string{}
	applied, err := s.store.UpdateParcelConditional(ctx, parcel.ID, parcel.Status, store.ParcelPatch{
		Status:          &rejectedStatus,
		DocumentDigests: &noDigests,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dErrors.New(dErrors.CodeConflict,
			"parcel status changed concurrently during rejection")
	}
	s.clearPending(ctx, "reject:"+requestID)

	parcel, err = s.store.GetParcel(ctx, req.ParcelID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.Event{
		Type:     events.TypeRegistrationRejected,
		ParcelID: parcel.ID,
		Owner:    parcel.OwnerID,
	})
	return parcel, nil
}
