package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	dErrors "landledger/pkg/domain-errors"
)

// Memory simulates the land-registry contract in process. It mirrors the
// deployed contract's reverts and emitted events closely enough that the
// workflows cannot tell the difference, and adds the failure-injection knobs
// the tests need (confirmation latency, forced unavailability, forced
// rejections).
type Memory struct {
	mu sync.Mutex

	latency     time.Duration
	unavailable bool
	failNext    error

	nonce         uint64
	nextRequestID int64
	nextParcelID  int64

	requests map[int64]*memRequest
	parcels  map[int64]*memParcel
	txs      map[string]*memTx
}

type memRequest struct {
	requester string
	digest    string
	approved  bool
	rejected  bool
	parcelID  int64
}

type memParcel struct {
	owner    string
	digest   string
	verified bool
	transfer *memTransfer
	log      []string
}

type memTransfer struct {
	to       string
	approved bool
}

type memTx struct {
	confirmAt    time.Time
	confirmation Confirmation
}

func NewMemory() *Memory {
	return &Memory{
		nextRequestID: 1,
		nextParcelID:  1,
		requests:      make(map[int64]*memRequest),
		parcels:       make(map[int64]*memParcel),
		txs:           make(map[string]*memTx),
	}
}

// SetLatency delays confirmations by d after submission.
func (m *Memory) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetUnavailable makes every call fail with CodeLedgerUnavailable until reset.
func (m *Memory) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// FailNextSubmit makes the next Submit return err without touching state.
func (m *Memory) FailNextSubmit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) Submit(_ context.Context, sub Submission) (PendingTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return PendingTx{}, dErrors.New(dErrors.CodeLedgerUnavailable, "ledger node unreachable")
	}
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return PendingTx{}, err
	}

	events, err := m.apply(sub)
	if err != nil {
		return PendingTx{}, err
	}

	now := time.Now()
	hash := m.txHash()
	m.txs[hash] = &memTx{
		confirmAt:    now.Add(m.latency),
		confirmation: Confirmation{TxHash: hash, Events: events},
	}
	return PendingTx{Hash: hash, Kind: sub.Kind, SubmittedAt: now}, nil
}

// apply executes the contract call against current state. A validation
// failure models a revert: state is untouched and the error is terminal.
func (m *Memory) apply(sub Submission) ([]Event, error) {
	switch sub.Kind {
	case KindRegistration:
		if sub.Requester == "" || sub.MetadataDigest == "" {
			return nil, rejected("registration requires requester and metadata digest")
		}
		id := m.nextRequestID
		m.nextRequestID++
		m.requests[id] = &memRequest{requester: sub.Requester, digest: sub.MetadataDigest}
		return []Event{RegistrationRequested{
			RequestID:      id,
			Requester:      sub.Requester,
			MetadataDigest: sub.MetadataDigest,
		}}, nil

	case KindApprove:
		req, ok := m.requests[sub.RequestID]
		if !ok {
			return nil, rejected("unknown registration request")
		}
		if req.approved || req.rejected {
			return nil, rejected("registration request already processed")
		}
		parcelID := m.nextParcelID
		m.nextParcelID++
		req.approved = true
		req.parcelID = parcelID
		m.parcels[parcelID] = &memParcel{
			owner:  req.requester,
			digest: req.digest,
			log:    []string{req.requester},
		}
		return []Event{LandRegistered{
			ParcelID:       parcelID,
			RequestID:      sub.RequestID,
			Owner:          req.requester,
			MetadataDigest: req.digest,
		}}, nil

	case KindVerify:
		p, ok := m.parcels[sub.ParcelID]
		if !ok {
			return nil, rejected("unknown parcel")
		}
		if p.verified {
			return nil, rejected("parcel already verified")
		}
		p.verified = true
		return []Event{ParcelVerified{ParcelID: sub.ParcelID}}, nil

	case KindRejectRegistration:
		req, ok := m.requests[sub.RequestID]
		if !ok {
			return nil, rejected("unknown registration request")
		}
		if req.approved || req.rejected {
			return nil, rejected("registration request already processed")
		}
		req.rejected = true
		return []Event{RegistrationRejected{RequestID: sub.RequestID}}, nil

	case KindInitiateTransfer:
		p, ok := m.parcels[sub.ParcelID]
		if !ok {
			return nil, rejected("unknown parcel")
		}
		if !p.verified {
			return nil, rejected("parcel not verified")
		}
		if p.transfer != nil {
			return nil, rejected("transfer already open")
		}
		if sub.Requester != "" && sub.Requester != p.owner {
			return nil, rejected("only the owner may initiate a transfer")
		}
		if sub.ToOwner == "" {
			return nil, rejected("transfer recipient required")
		}
		p.transfer = &memTransfer{to: sub.ToOwner}
		return []Event{TransferInitiated{ParcelID: sub.ParcelID, From: p.owner, To: sub.ToOwner}}, nil

	case KindApproveTransfer:
		p, ok := m.parcels[sub.ParcelID]
		if !ok {
			return nil, rejected("unknown parcel")
		}
		if p.transfer == nil {
			return nil, rejected("no open transfer")
		}
		if p.transfer.approved {
			return nil, rejected("transfer already approved")
		}
		p.transfer.approved = true
		return []Event{TransferApproved{ParcelID: sub.ParcelID}}, nil

	case KindFinalizeTransfer:
		p, ok := m.parcels[sub.ParcelID]
		if !ok {
			return nil, rejected("unknown parcel")
		}
		if p.transfer == nil {
			return nil, rejected("no open transfer")
		}
		if !p.transfer.approved {
			return nil, rejected("transfer not approved")
		}
		from := p.owner
		to := p.transfer.to
		p.transfer = nil
		if to != from {
			p.owner = to
			p.log = append(p.log, to)
		}
		return []Event{OwnershipTransferred{ParcelID: sub.ParcelID, From: from, To: to}}, nil

	default:
		return nil, rejected("unknown call kind")
	}
}

func (m *Memory) AwaitConfirmation(ctx context.Context, tx PendingTx) (Confirmation, error) {
	m.mu.Lock()
	if m.unavailable {
		m.mu.Unlock()
		return Confirmation{}, dErrors.New(dErrors.CodeLedgerUnavailable, "ledger node unreachable")
	}
	entry, ok := m.txs[tx.Hash]
	m.mu.Unlock()
	if !ok {
		return Confirmation{}, dErrors.New(dErrors.CodeBadRequest, "unknown transaction handle")
	}

	remaining := time.Until(entry.confirmAt)
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Confirmation{}, dErrors.Wrap(ctx.Err(), dErrors.CodeConfirmationTimeout,
				"confirmation wait exceeded deadline")
		}
	}
	return entry.confirmation, nil
}

func (m *Memory) ReadFact(_ context.Context, parcelID int64) (Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return Fact{}, dErrors.New(dErrors.CodeLedgerUnavailable, "ledger node unreachable")
	}
	p, ok := m.parcels[parcelID]
	if !ok {
		return Fact{}, dErrors.New(dErrors.CodeNotFound, "parcel not on ledger")
	}
	fact := Fact{
		ParcelID:       parcelID,
		Owner:          p.owner,
		MetadataDigest: p.digest,
		Verified:       p.verified,
	}
	if p.transfer != nil {
		fact.OpenTransferTo = p.transfer.to
	}
	return fact, nil
}

func (m *Memory) OwnershipLog(_ context.Context, parcelID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, dErrors.New(dErrors.CodeLedgerUnavailable, "ledger node unreachable")
	}
	p, ok := m.parcels[parcelID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "parcel not on ledger")
	}
	log := make([]string, len(p.log))
	copy(log, p.log)
	return log, nil
}

// txHash derives a deterministic pseudo transaction hash from a nonce.
func (m *Memory) txHash() string {
	m.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], m.nonce)
	sum := sha256.Sum256(buf[:])
	return "0x" + hex.EncodeToString(sum[:])
}

func rejected(msg string) error {
	return dErrors.New(dErrors.CodeLedgerRejected, msg)
}
