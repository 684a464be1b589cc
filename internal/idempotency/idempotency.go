// Package idempotency deduplicates inbound payment events.
//
// Payment gateways deliver webhooks at-least-once; the guard guarantees
// at-most-one ledger entry per distinct external reference, even when two
// deliveries of the same event race. The reservation is an atomic
// insert-if-absent at the storage layer, never a check followed by an insert.
package idempotency

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInFlight means another delivery holds the reservation but has not
	// yet bound its result entry. The caller should retry later.
	ErrInFlight = errors.New("external ref reservation in flight")

	// ErrNotReserved means Bind was called for a ref that was never reserved.
	ErrNotReserved = errors.New("external ref not reserved")
)

// Record tracks the outcome of processing one external reference.
type Record struct {
	ExternalRef string    `json:"externalRef"`
	EntryID     string    `json:"entryId,omitempty"` // empty until bound
	FirstSeenAt time.Time `json:"firstSeenAt"`
}

// Store persists idempotency records.
type Store interface {
	// Reserve atomically inserts a reservation for ref. If the ref is
	// already reserved, fresh is false and existing holds the prior record.
	Reserve(ctx context.Context, ref string) (fresh bool, existing *Record, err error)

	// Bind records the resulting ledger entry for a reserved ref.
	Bind(ctx context.Context, ref, entryID string) error

	// Release removes an unbound reservation so the event can be retried
	// after a failed append.
	Release(ctx context.Context, ref string) error
}

// Guard is the idempotency check used by the settlement deposit path.
type Guard struct {
	store Store
}

// NewGuard creates a guard over the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// CheckAndReserve reserves the ref for processing. On a duplicate it returns
// fresh=false with the entry ID of the original processing; if the original
// is still in flight (reserved, not yet bound) it returns ErrInFlight so the
// deliverer retries once the first processing settles.
func (g *Guard) CheckAndReserve(ctx context.Context, ref string) (fresh bool, existingEntryID string, err error) {
	fresh, existing, err := g.store.Reserve(ctx, ref)
	if err != nil {
		return false, "", err
	}
	if fresh {
		return true, "", nil
	}
	if existing.EntryID == "" {
		return false, "", ErrInFlight
	}
	return false, existing.EntryID, nil
}

// Bind records the ledger entry produced for the ref.
func (g *Guard) Bind(ctx context.Context, ref, entryID string) error {
	return g.store.Bind(ctx, ref, entryID)
}

// Release drops an unbound reservation after a failed append.
func (g *Guard) Release(ctx context.Context, ref string) error {
	return g.store.Release(ctx, ref)
}
