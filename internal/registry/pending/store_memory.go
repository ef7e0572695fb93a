package pending

import (
	"context"
	"sync"
	"time"

	"landledger/internal/ledger"
)

// InMemoryStore is the single-process implementation. Expiry is checked
// lazily on access.
type InMemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
}

type memEntry struct {
	tx        ledger.PendingTx
	expiresAt time.Time
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryStore{ttl: ttl, entries: make(map[string]memEntry)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (ledger.PendingTx, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return ledger.PendingTx{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return ledger.PendingTx{}, false, nil
	}
	return entry.tx, true, nil
}

func (s *InMemoryStore) Put(_ context.Context, key string, tx ledger.PendingTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{tx: tx, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
