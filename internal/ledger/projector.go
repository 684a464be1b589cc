package ledger

import (
	"context"
	"time"
)

// Snapshot caches the folded balance of an account up to a ledger sequence
// number. Snapshots are an optimization only: any snapshot must reconcile
// exactly against a full replay of the journal.
type Snapshot struct {
	AccountID string    `json:"accountId"`
	Balance   int64     `json:"balance"`
	LastSeq   int64     `json:"lastSeq"`
	TakenAt   time.Time `json:"takenAt"`
}

// SnapshotStore persists balance snapshots.
type SnapshotStore interface {
	// Get returns the snapshot for an account, or nil if none exists.
	Get(ctx context.Context, accountID string) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
	All(ctx context.Context) ([]*Snapshot, error)
}

// Projector derives account balances by folding ledger entries. With a
// snapshot store attached it folds only the suffix past the snapshot;
// without one it replays the full journal on every call.
type Projector struct {
	store     Store
	snapshots SnapshotStore // nil = always full replay
}

// NewProjector creates a projector over the given store.
func NewProjector(store Store) *Projector {
	return &Projector{store: store}
}

// WithSnapshots attaches a snapshot store for suffix-sum folding.
func (p *Projector) WithSnapshots(s SnapshotStore) *Projector {
	p.snapshots = s
	return p
}

// BalanceOf returns the account's projected balance in minor units.
// An account with no entries has balance 0; this is never an error.
func (p *Projector) BalanceOf(ctx context.Context, accountID string) (int64, error) {
	var base int64
	var afterSeq int64

	if p.snapshots != nil {
		snap, err := p.snapshots.Get(ctx, accountID)
		if err != nil {
			return 0, err
		}
		if snap != nil {
			base = snap.Balance
			afterSeq = snap.LastSeq
		}
	}

	suffix, _, err := p.store.SumAccount(ctx, accountID, afterSeq)
	if err != nil {
		return 0, err
	}
	return base + suffix, nil
}

// Refresh recomputes and saves the account's snapshot from a full replay.
// The saved snapshot is therefore correct by construction.
func (p *Projector) Refresh(ctx context.Context, accountID string) (*Snapshot, error) {
	sum, lastSeq, err := p.store.SumAccount(ctx, accountID, 0)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		AccountID: accountID,
		Balance:   sum,
		LastSeq:   lastSeq,
		TakenAt:   time.Now().UTC(),
	}
	if p.snapshots != nil {
		if err := p.snapshots.Save(ctx, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// VerifyResult reports whether a snapshot-based balance reconciles against
// a full replay of the account's journal.
type VerifyResult struct {
	AccountID string `json:"accountId"`
	Projected int64  `json:"projected"` // snapshot + suffix
	Replayed  int64  `json:"replayed"`  // full fold
	Match     bool   `json:"match"`
}

// Verify compares the snapshot-assisted balance against the full fold.
func (p *Projector) Verify(ctx context.Context, accountID string) (*VerifyResult, error) {
	projected, err := p.BalanceOf(ctx, accountID)
	if err != nil {
		return nil, err
	}

	replayed, _, err := p.store.SumAccount(ctx, accountID, 0)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		AccountID: accountID,
		Projected: projected,
		Replayed:  replayed,
		Match:     projected == replayed,
	}, nil
}

// VerifyAll reconciles every account in the journal.
func (p *Projector) VerifyAll(ctx context.Context) ([]*VerifyResult, error) {
	accounts, err := p.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*VerifyResult, 0, len(accounts))
	for _, acct := range accounts {
		r, err := p.Verify(ctx, acct)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
