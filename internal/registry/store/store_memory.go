package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"landledger/internal/registry/models"
)

// InMemoryStore keeps the projections in maps guarded by a single RWMutex. It
// backs unit tests and local development; the conditional-update semantics
// match the PostgreSQL implementation exactly.
type InMemoryStore struct {
	mu        sync.RWMutex
	parcels   map[string]models.Parcel
	requests  map[string]models.RegistrationRequest
	transfers map[string]models.TransferRecord
	// transferOrder preserves creation order per parcel for LatestTransfer.
	transferOrder map[string][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		parcels:       make(map[string]models.Parcel),
		requests:      make(map[string]models.RegistrationRequest),
		transfers:     make(map[string]models.TransferRecord),
		transferOrder: make(map[string][]string),
	}
}

func (s *InMemoryStore) CreateParcel(_ context.Context, p *models.Parcel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parcels[p.ID] = copyParcel(*p)
	return nil
}

func (s *InMemoryStore) GetParcel(_ context.Context, id string) (*models.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parcels[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyParcel(p)
	return &out, nil
}

func (s *InMemoryStore) GetParcelByLedgerID(_ context.Context, ledgerID int64) (*models.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.parcels {
		if p.LedgerID != nil && *p.LedgerID == ledgerID {
			out := copyParcel(p)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) UpdateParcelConditional(_ context.Context, id string, expected models.ParcelStatus, patch ParcelPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parcels[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != expected {
		return false, nil
	}
	applyParcelPatch(&p, patch)
	p.UpdatedAt = time.Now().UTC()
	s.parcels[id] = p
	return true, nil
}

func (s *InMemoryStore) LockForTransfer(_ context.Context, parcelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parcels[parcelID]
	if !ok {
		return false, ErrNotFound
	}
	if p.TransferLock {
		return false, nil
	}
	p.TransferLock = true
	p.UpdatedAt = time.Now().UTC()
	s.parcels[parcelID] = p
	return true, nil
}

func (s *InMemoryStore) Unlock(_ context.Context, parcelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parcels[parcelID]
	if !ok {
		return ErrNotFound
	}
	p.TransferLock = false
	p.UpdatedAt = time.Now().UTC()
	s.parcels[parcelID] = p
	return nil
}

func (s *InMemoryStore) CreateRegistrationRequest(_ context.Context, r *models.RegistrationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = *r
	return nil
}

func (s *InMemoryStore) GetRegistrationRequest(_ context.Context, id string) (*models.RegistrationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := r
	return &out, nil
}

func (s *InMemoryStore) GetRequestByLedgerID(_ context.Context, ledgerRequestID int64) (*models.RegistrationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.LedgerRequestID == ledgerRequestID {
			out := r
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) MarkRequestProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.Approved = true
	r.UpdatedAt = time.Now().UTC()
	s.requests[id] = r
	return nil
}

func (s *InMemoryStore) CreateTransfer(_ context.Context, t *models.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[t.ID] = *t
	s.transferOrder[t.ParcelID] = append(s.transferOrder[t.ParcelID], t.ID)
	return nil
}

func (s *InMemoryStore) GetTransfer(_ context.Context, id string) (*models.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := t
	return &out, nil
}

func (s *InMemoryStore) LatestTransfer(_ context.Context, parcelID string) (*models.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := s.transferOrder[parcelID]
	if len(order) == 0 {
		return nil, ErrNotFound
	}
	t := s.transfers[order[len(order)-1]]
	out := t
	return &out, nil
}

func (s *InMemoryStore) OpenTransfer(_ context.Context, parcelID string) (*models.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.transferOrder[parcelID] {
		t := s.transfers[id]
		if t.Status.Open() {
			out := t
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) UpdateTransferConditional(_ context.Context, id string, expected models.TransferStatus, patch TransferPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status != expected {
		return false, nil
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.TxHash != nil {
		t.TxHash = *patch.TxHash
	}
	t.UpdatedAt = time.Now().UTC()
	s.transfers[id] = t
	return true, nil
}

func applyParcelPatch(p *models.Parcel, patch ParcelPatch) {
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.LedgerID != nil {
		v := *patch.LedgerID
		p.LedgerID = &v
	}
	if patch.OwnerID != nil {
		p.OwnerID = *patch.OwnerID
	}
	if patch.MetadataDigest != nil {
		p.MetadataDigest = *patch.MetadataDigest
	}
	if patch.DocumentDigests != nil {
		p.DocumentDigests = slices.Clone(*patch.DocumentDigests)
	}
	if patch.TransferLock != nil {
		p.TransferLock = *patch.TransferLock
	}
}

func copyParcel(p models.Parcel) models.Parcel {
	out := p
	out.DocumentDigests = slices.Clone(p.DocumentDigests)
	if p.LedgerID != nil {
		v := *p.LedgerID
		out.LedgerID = &v
	}
	return out
}
