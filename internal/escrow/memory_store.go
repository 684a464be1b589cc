package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory escrow store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	holds map[string]*Hold
	order []string // creation order for listing
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holds: make(map[string]*Hold)}
}

func (m *MemoryStore) Create(ctx context.Context, h *Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *h
	m.holds[h.ID] = &cp
	m.order = append(m.order, h.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, id string, to State, at time.Time) (*Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[id]
	if !ok {
		return nil, ErrNotFound
	}
	if h.State != StateHeld {
		return nil, ErrInvalidTransition
	}

	h.State = to
	resolved := at
	h.ResolvedAt = &resolved

	cp := *h
	return &cp, nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Hold
	// Newest first.
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		h := m.holds[m.order[i]]
		if h.PayerAccountID == accountID || h.PayeeAccountID == accountID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
