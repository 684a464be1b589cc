package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory ledger store for development and tests.
// All mutation happens under one lock, which makes the balance check in
// AppendDebit atomic with the append.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
	byRef   map[string]*Entry
	lastSeq int64
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Entry),
		byRef: make(map[string]*Entry),
	}
}

func (m *MemoryStore) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.append(e)
}

func (m *MemoryStore) AppendDebit(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var balance int64
	for _, cur := range m.entries {
		if cur.AccountID == e.AccountID {
			balance += cur.Amount
		}
	}
	if balance+e.Amount < 0 {
		return ErrInsufficientFunds
	}
	return m.append(e)
}

// append assumes m.mu is held for writing.
func (m *MemoryStore) append(e *Entry) error {
	if e.Amount == 0 {
		return ErrInvalidAmount
	}
	if e.ExternalRef != "" {
		if _, exists := m.byRef[e.ExternalRef]; exists {
			return ErrDuplicateRef
		}
	}

	m.lastSeq++
	cp := *e
	cp.Seq = m.lastSeq

	m.entries = append(m.entries, &cp)
	m.byID[cp.ID] = &cp
	if cp.ExternalRef != "" {
		m.byRef[cp.ExternalRef] = &cp
	}

	e.Seq = cp.Seq
	return nil
}

func (m *MemoryStore) Entry(ctx context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byID[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) ForEachEntry(ctx context.Context, accountID string, fn func(*Entry) error) error {
	// Copy under lock, walk outside it so fn may call back into the store.
	m.mu.RLock()
	matched := make([]*Entry, 0)
	for _, e := range m.entries {
		if e.AccountID == accountID {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	for _, e := range matched {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) SumAccount(ctx context.Context, accountID string, afterSeq int64) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	lastSeq := afterSeq
	for _, e := range m.entries {
		if e.AccountID == accountID && e.Seq > afterSeq {
			sum += e.Amount
			if e.Seq > lastSeq {
				lastSeq = e.Seq
			}
		}
	}
	return sum, lastSeq, nil
}

func (m *MemoryStore) History(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].AccountID == accountID {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) Accounts(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var accounts []string
	for _, e := range m.entries {
		if !seen[e.AccountID] {
			seen[e.AccountID] = true
			accounts = append(accounts, e.AccountID)
		}
	}
	return accounts, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemorySnapshotStore is an in-memory snapshot store.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

// NewMemorySnapshotStore creates a new in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]*Snapshot)}
}

func (m *MemorySnapshotStore) Get(ctx context.Context, accountID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snaps[accountID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemorySnapshotStore) Save(ctx context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.snaps[s.AccountID] = &cp
	return nil
}

func (m *MemorySnapshotStore) All(ctx context.Context) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		cp := *s
		result = append(result, &cp)
	}
	return result, nil
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)
