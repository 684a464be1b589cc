// Package ledger is the append-only journal of all monetary movements.
//
// Every balance on the platform is derived by folding this journal; no
// balance counter is ever stored as independent mutable state. Entries are
// immutable facts: once appended they are never updated or deleted.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gigvault/gigvault/internal/idgen"
	"github.com/gigvault/gigvault/internal/syncutil"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrDuplicateRef      = errors.New("external ref already recorded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrEntryNotFound     = errors.New("ledger entry not found")
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindDeposit       Kind = "deposit"
	KindWithdrawal    Kind = "withdrawal"
	KindEscrowHold    Kind = "escrow_hold"
	KindEscrowRelease Kind = "escrow_release"
	KindEscrowRefund  Kind = "escrow_refund"
	KindFee           Kind = "fee"
)

// Entry is an immutable ledger fact. Amounts are signed integers in minor
// currency units (paise): credits to the account are positive, debits negative.
type Entry struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq"` // store-assigned, strictly increasing
	AccountID   string    `json:"accountId"`
	Amount      int64     `json:"amount"`
	Kind        Kind      `json:"kind"`
	ExternalRef string    `json:"externalRef,omitempty"` // unique when present
	EscrowID    string    `json:"escrowId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewEntry carries the caller-supplied fields of an entry to be appended.
// Amount is a positive magnitude; the journal applies the sign for debits.
type NewEntry struct {
	AccountID   string
	Amount      int64
	Kind        Kind
	ExternalRef string
	EscrowID    string
}

// Store persists ledger entries. There is deliberately no update or delete
// in this contract: the journal is the audit trail.
type Store interface {
	// Append persists the entry and assigns its sequence number.
	// Returns ErrDuplicateRef if the entry's external ref is already recorded.
	Append(ctx context.Context, e *Entry) error

	// AppendDebit persists a debit entry (negative amount) only if the
	// account's folded balance stays non-negative; the balance check and the
	// append happen in one atomic step. Returns ErrInsufficientFunds otherwise.
	AppendDebit(ctx context.Context, e *Entry) error

	// Entry returns a single entry by ID, or ErrEntryNotFound.
	Entry(ctx context.Context, id string) (*Entry, error)

	// ForEachEntry streams an account's entries in ascending seq order.
	// The iteration is lazy, finite, and restartable; fn returning an error
	// stops the walk and propagates that error.
	ForEachEntry(ctx context.Context, accountID string, fn func(*Entry) error) error

	// SumAccount folds entry amounts for the account, considering only
	// entries with seq > afterSeq. Returns the sum and the highest seq seen
	// (afterSeq when the range is empty).
	SumAccount(ctx context.Context, accountID string, afterSeq int64) (sum int64, lastSeq int64, err error)

	// History returns the account's most recent entries, newest first.
	History(ctx context.Context, accountID string, limit int) ([]*Entry, error)

	// Accounts lists every account that has at least one entry.
	Accounts(ctx context.Context) ([]string, error)
}

// Journal wraps a Store with ID assignment, validation, and per-account
// serialization of the debit path. Two concurrent debits against one account
// can never both pass the balance check against a stale fold.
type Journal struct {
	store    Store
	accounts syncutil.ShardedMutex
}

// NewJournal creates a journal over the given store.
func NewJournal(store Store) *Journal {
	return &Journal{store: store}
}

// Store exposes the underlying store for read-side consumers.
func (j *Journal) Store() Store {
	return j.store
}

// Append records a credit entry. The amount must be positive.
func (j *Journal) Append(ctx context.Context, ne NewEntry) (*Entry, error) {
	done := observeOp(string(ne.Kind))
	defer done()

	if ne.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	e := &Entry{
		ID:          idgen.WithPrefix("ent_"),
		AccountID:   ne.AccountID,
		Amount:      ne.Amount,
		Kind:        ne.Kind,
		ExternalRef: ne.ExternalRef,
		EscrowID:    ne.EscrowID,
		CreatedAt:   time.Now().UTC(),
	}

	if err := j.store.Append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// AppendDebit records a debit entry, rejecting overdrafts. The amount is a
// positive magnitude; the stored entry carries it negated. Debits for the
// same account are serialized through a sharded per-account mutex on top of
// the store's own atomic check-then-append.
func (j *Journal) AppendDebit(ctx context.Context, ne NewEntry) (*Entry, error) {
	done := observeOp(string(ne.Kind))
	defer done()

	if ne.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := j.accounts.Lock(ne.AccountID)
	defer unlock()

	e := &Entry{
		ID:          idgen.WithPrefix("ent_"),
		AccountID:   ne.AccountID,
		Amount:      -ne.Amount,
		Kind:        ne.Kind,
		ExternalRef: ne.ExternalRef,
		EscrowID:    ne.EscrowID,
		CreatedAt:   time.Now().UTC(),
	}

	if err := j.store.AppendDebit(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Entry returns a single entry by ID.
func (j *Journal) Entry(ctx context.Context, id string) (*Entry, error) {
	return j.store.Entry(ctx, id)
}

// History returns the account's most recent entries, newest first.
func (j *Journal) History(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.store.History(ctx, accountID, limit)
}
