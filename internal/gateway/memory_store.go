package gateway

import (
	"context"
	"sync"
)

// MemoryIntentStore is an in-memory intent store for development and tests.
type MemoryIntentStore struct {
	mu      sync.Mutex
	intents map[string]*Intent
}

// NewMemoryIntentStore creates a new in-memory intent store.
func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{intents: make(map[string]*Intent)}
}

func (m *MemoryIntentStore) Create(ctx context.Context, i *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *i
	m.intents[i.ID] = &cp
	return nil
}

func (m *MemoryIntentStore) Get(ctx context.Context, id string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *MemoryIntentStore) Consume(ctx context.Context, id, externalRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	if i.ConsumedRef != "" && i.ConsumedRef != externalRef {
		return ErrIntentConsumed
	}
	i.ConsumedRef = externalRef
	return nil
}

// Compile-time assertion that MemoryIntentStore implements IntentStore.
var _ IntentStore = (*MemoryIntentStore)(nil)
