package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory idempotency store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Reserve(ctx context.Context, ref string) (bool, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[ref]; ok {
		cp := *existing
		return false, &cp, nil
	}

	m.records[ref] = &Record{
		ExternalRef: ref,
		FirstSeenAt: time.Now().UTC(),
	}
	return true, nil, nil
}

func (m *MemoryStore) Bind(ctx context.Context, ref, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[ref]
	if !ok {
		return ErrNotReserved
	}
	rec.EntryID = entryID
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[ref]
	if ok && rec.EntryID == "" {
		delete(m.records, ref)
	}
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
