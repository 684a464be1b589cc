// Package escrow models funds earmarked for a gig between two accounts.
//
// Flow:
//  1. Client books a gig → hold debits the payer, funds are earmarked
//  2. Gig completed → release credits the worker (minus platform fee)
//  3. Gig cancelled or disputed → refund credits the payer back
//
// A hold transitions exactly once out of "held"; the record itself is never
// deleted, it is the audit trail for the related ledger entries.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gigvault/gigvault/internal/idgen"
	"github.com/gigvault/gigvault/internal/ledger"
	"github.com/gigvault/gigvault/internal/metrics"
)

var (
	ErrNotFound          = errors.New("escrow not found")
	ErrInvalidTransition = errors.New("escrow already resolved")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSameAccount       = errors.New("payer and payee cannot be the same account")
)

// State represents the lifecycle state of a hold.
type State string

const (
	StateHeld     State = "held"
	StateReleased State = "released" // terminal
	StateRefunded State = "refunded" // terminal
)

// Hold represents funds earmarked for a gig.
type Hold struct {
	ID             string     `json:"id"`
	PayerAccountID string     `json:"payerAccountId"`
	PayeeAccountID string     `json:"payeeAccountId"`
	Amount         int64      `json:"amount"` // minor units, fixed at creation
	State          State      `json:"state"`
	CreatedAt      time.Time  `json:"createdAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// Terminal returns true if the hold is in a final state.
func (h *Hold) Terminal() bool {
	return h.State == StateReleased || h.State == StateRefunded
}

// Store persists escrow holds.
type Store interface {
	Create(ctx context.Context, h *Hold) error

	// Get returns a hold by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Hold, error)

	// Resolve transitions the hold from held to the given terminal state in
	// one compare-and-set step. Returns ErrInvalidTransition when the hold
	// is already resolved, ErrNotFound when it does not exist.
	Resolve(ctx context.Context, id string, to State, at time.Time) (*Hold, error)

	// ListByAccount returns holds where the account is payer or payee.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Hold, error)
}

// Journal is the subset of the ledger used to move escrow funds.
type Journal interface {
	Append(ctx context.Context, ne ledger.NewEntry) (*ledger.Entry, error)
	AppendDebit(ctx context.Context, ne ledger.NewEntry) (*ledger.Entry, error)
}

// Service implements the escrow state machine, delegating every monetary
// effect to the ledger.
type Service struct {
	store      Store
	journal    Journal
	logger     *slog.Logger
	feeAccount string
	feeBps     int64
	locks      sync.Map // per-hold ID locks against concurrent transitions
}

// NewService creates a new escrow service.
func NewService(store Store, journal Journal, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		journal: journal,
		logger:  logger,
	}
}

// WithFee configures a platform fee, in basis points, taken out of every
// release and credited to the platform account.
func (s *Service) WithFee(platformAccount string, bps int) *Service {
	s.feeAccount = platformAccount
	s.feeBps = int64(bps)
	return s
}

// holdLock returns a mutex for the given hold ID.
func (s *Service) holdLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Hold earmarks funds from the payer for a gig. The balance check and the
// debit happen atomically in the ledger; a payer without sufficient funds
// gets ledger.ErrInsufficientFunds.
func (s *Service) Hold(ctx context.Context, payer, payee string, amount int64) (*Hold, *ledger.Entry, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if payer == payee {
		return nil, nil, ErrSameAccount
	}

	h := &Hold{
		ID:             idgen.WithPrefix("esc_"),
		PayerAccountID: payer,
		PayeeAccountID: payee,
		Amount:         amount,
		State:          StateHeld,
		CreatedAt:      time.Now().UTC(),
	}

	entry, err := s.journal.AppendDebit(ctx, ledger.NewEntry{
		AccountID: payer,
		Amount:    amount,
		Kind:      ledger.KindEscrowHold,
		EscrowID:  h.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.Create(ctx, h); err != nil {
		// Funds already debited; give them back before failing.
		if _, refundErr := s.journal.Append(ctx, ledger.NewEntry{
			AccountID: payer,
			Amount:    amount,
			Kind:      ledger.KindEscrowRefund,
			EscrowID:  h.ID,
		}); refundErr != nil {
			s.logger.Error("CRITICAL: hold record failed and refund append failed, payer funds stuck",
				"escrowId", h.ID, "payer", payer, "amount", amount, "error", refundErr)
		}
		return nil, nil, fmt.Errorf("create escrow record: %w", err)
	}

	metrics.EscrowsTotal.WithLabelValues(string(StateHeld)).Inc()
	return h, entry, nil
}

// Release resolves a held escrow to the worker. The state transition is a
// compare-and-set, so a second release (or refund) of the same hold fails
// with ErrInvalidTransition; callers retrying a resolved escrow should treat
// that as "already resolved", not as a hard failure.
func (s *Service) Release(ctx context.Context, id string) (*Hold, *ledger.Entry, error) {
	mu := s.holdLock(id)
	mu.Lock()
	defer mu.Unlock()

	h, err := s.store.Resolve(ctx, id, StateReleased, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	fee := h.Amount * s.feeBps / 10000
	if s.feeAccount == "" {
		fee = 0
	}

	entry, err := s.journal.Append(ctx, ledger.NewEntry{
		AccountID: h.PayeeAccountID,
		Amount:    h.Amount - fee,
		Kind:      ledger.KindEscrowRelease,
		EscrowID:  h.ID,
	})
	if err != nil {
		// State already transitioned but the payee was not credited.
		// There is no safe automatic compensation: reverting the state
		// would reopen the hold to a second resolution.
		s.logger.Error("CRITICAL: escrow released but payee credit append failed, requires manual resolution",
			"escrowId", h.ID, "payee", h.PayeeAccountID, "amount", h.Amount, "error", err)
		return nil, nil, fmt.Errorf("credit payee after release: %w", err)
	}

	if fee > 0 {
		if _, err := s.journal.Append(ctx, ledger.NewEntry{
			AccountID: s.feeAccount,
			Amount:    fee,
			Kind:      ledger.KindFee,
			EscrowID:  h.ID,
		}); err != nil {
			s.logger.Error("CRITICAL: platform fee append failed after release, requires manual resolution",
				"escrowId", h.ID, "fee", fee, "error", err)
		}
	}

	metrics.EscrowsTotal.WithLabelValues(string(StateReleased)).Inc()
	return h, entry, nil
}

// Refund resolves a held escrow back to the payer.
func (s *Service) Refund(ctx context.Context, id string) (*Hold, *ledger.Entry, error) {
	mu := s.holdLock(id)
	mu.Lock()
	defer mu.Unlock()

	h, err := s.store.Resolve(ctx, id, StateRefunded, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	entry, err := s.journal.Append(ctx, ledger.NewEntry{
		AccountID: h.PayerAccountID,
		Amount:    h.Amount,
		Kind:      ledger.KindEscrowRefund,
		EscrowID:  h.ID,
	})
	if err != nil {
		s.logger.Error("CRITICAL: escrow refunded but payer credit append failed, requires manual resolution",
			"escrowId", h.ID, "payer", h.PayerAccountID, "amount", h.Amount, "error", err)
		return nil, nil, fmt.Errorf("credit payer after refund: %w", err)
	}

	metrics.EscrowsTotal.WithLabelValues(string(StateRefunded)).Inc()
	return h, entry, nil
}

// Get returns a hold by ID.
func (s *Service) Get(ctx context.Context, id string) (*Hold, error) {
	return s.store.Get(ctx, id)
}

// ListByAccount returns holds involving an account (as payer or payee).
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Hold, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}
