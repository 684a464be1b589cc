// Package settlement is the application-facing surface of the wallet: it
// composes the ledger journal, the balance projector, the idempotency guard,
// and the escrow state machine into the operations the marketplace calls.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gigvault/gigvault/internal/escrow"
	"github.com/gigvault/gigvault/internal/idempotency"
	"github.com/gigvault/gigvault/internal/ledger"
	"github.com/gigvault/gigvault/internal/metrics"
	"github.com/gigvault/gigvault/internal/traces"
)

// DuplicateRefError reports that an external reference was already settled,
// carrying the ledger entry the first settlement produced.
type DuplicateRefError struct {
	ExternalRef string
	EntryID     string
}

func (e *DuplicateRefError) Error() string {
	return fmt.Sprintf("external ref %s already settled as entry %s", e.ExternalRef, e.EntryID)
}

// Is makes the error match ledger.ErrDuplicateRef in errors.Is checks.
func (e *DuplicateRefError) Is(target error) bool {
	return target == ledger.ErrDuplicateRef
}

// Publisher broadcasts settlement events to connected clients.
type Publisher interface {
	Publish(event string, data map[string]any)
}

// Result is the outcome of a wallet operation: the appended entry and the
// account's projected balance after it.
type Result struct {
	Entry   *ledger.Entry `json:"entry"`
	Balance int64         `json:"balance"`
}

// EscrowResult is the outcome of an escrow operation: the hold, the ledger
// entry it appended, and the projected balance of the account the funds moved
// for. Hold and refund report the payer's balance, release the payee's.
type EscrowResult struct {
	Hold    *escrow.Hold  `json:"hold"`
	Entry   *ledger.Entry `json:"entry"`
	Balance int64         `json:"balance"`
}

// Service implements the settlement operations.
type Service struct {
	journal   *ledger.Journal
	projector *ledger.Projector
	escrows   *escrow.Service
	guard     *idempotency.Guard
	publisher Publisher // nil = no event broadcasting
	logger    *slog.Logger
}

// NewService creates a settlement service.
func NewService(journal *ledger.Journal, projector *ledger.Projector, escrows *escrow.Service, guard *idempotency.Guard, logger *slog.Logger) *Service {
	return &Service{
		journal:   journal,
		projector: projector,
		escrows:   escrows,
		guard:     guard,
		logger:    logger,
	}
}

// WithPublisher attaches an event publisher.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) publish(event string, data map[string]any) {
	if s.publisher != nil {
		s.publisher.Publish(event, data)
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Deposit credits an account. When externalRef is set the deposit is
// idempotent: a second call with the same ref returns DuplicateRefError
// carrying the original entry ID, and never appends a second entry.
func (s *Service) Deposit(ctx context.Context, accountID string, amount int64, externalRef string) (_ *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "settlement.Deposit",
		traces.AccountID(accountID), traces.Amount(amount), traces.ExternalRef(externalRef))
	defer span.End()
	defer func() { metrics.SettlementsTotal.WithLabelValues("deposit", outcome(err)).Inc() }()

	if externalRef != "" {
		fresh, existingEntryID, err := s.guard.CheckAndReserve(ctx, externalRef)
		if err != nil {
			return nil, err
		}
		if !fresh {
			return nil, &DuplicateRefError{ExternalRef: externalRef, EntryID: existingEntryID}
		}
	}

	entry, err := s.journal.Append(ctx, ledger.NewEntry{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        ledger.KindDeposit,
		ExternalRef: externalRef,
	})
	if err != nil {
		if externalRef != "" {
			// Drop the reservation so a retry of the same event can succeed.
			if relErr := s.guard.Release(ctx, externalRef); relErr != nil {
				s.logger.Warn("failed to release idempotency reservation", "externalRef", externalRef, "error", relErr)
			}
		}
		return nil, err
	}

	if externalRef != "" {
		if err := s.guard.Bind(ctx, externalRef, entry.ID); err != nil {
			// Entry is appended; the ledger's own unique ref constraint still
			// blocks a double settle, so log and continue.
			s.logger.Warn("failed to bind idempotency record", "externalRef", externalRef, "entryId", entry.ID, "error", err)
		}
	}

	balance, err := s.projector.BalanceOf(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.publish("ledger.entry", map[string]any{"entry": entry, "balance": balance})
	return &Result{Entry: entry, Balance: balance}, nil
}

// Withdraw debits an account, rejecting overdrafts with
// ledger.ErrInsufficientFunds.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount int64) (_ *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "settlement.Withdraw",
		traces.AccountID(accountID), traces.Amount(amount))
	defer span.End()
	defer func() { metrics.SettlementsTotal.WithLabelValues("withdraw", outcome(err)).Inc() }()

	entry, err := s.journal.AppendDebit(ctx, ledger.NewEntry{
		AccountID: accountID,
		Amount:    amount,
		Kind:      ledger.KindWithdrawal,
	})
	if err != nil {
		return nil, err
	}

	balance, err := s.projector.BalanceOf(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.publish("ledger.entry", map[string]any{"entry": entry, "balance": balance})
	return &Result{Entry: entry, Balance: balance}, nil
}

// HoldForGig earmarks the payer's funds for a gig.
func (s *Service) HoldForGig(ctx context.Context, payer, payee string, amount int64) (_ *EscrowResult, err error) {
	ctx, span := traces.StartSpan(ctx, "settlement.HoldForGig",
		traces.AccountID(payer), traces.Amount(amount))
	defer span.End()
	defer func() { metrics.SettlementsTotal.WithLabelValues("hold", outcome(err)).Inc() }()

	h, entry, err := s.escrows.Hold(ctx, payer, payee, amount)
	if err != nil {
		return nil, err
	}

	balance, err := s.projector.BalanceOf(ctx, payer)
	if err != nil {
		return nil, err
	}

	s.publish("escrow.held", map[string]any{"hold": h, "balance": balance})
	return &EscrowResult{Hold: h, Entry: entry, Balance: balance}, nil
}

// ReleaseGig settles a held escrow to the worker.
func (s *Service) ReleaseGig(ctx context.Context, escrowID string) (_ *EscrowResult, err error) {
	ctx, span := traces.StartSpan(ctx, "settlement.ReleaseGig", traces.EscrowID(escrowID))
	defer span.End()
	defer func() { metrics.SettlementsTotal.WithLabelValues("release", outcome(err)).Inc() }()

	h, entry, err := s.escrows.Release(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	balance, err := s.projector.BalanceOf(ctx, h.PayeeAccountID)
	if err != nil {
		return nil, err
	}

	s.publish("escrow.released", map[string]any{"hold": h, "entry": entry, "balance": balance})
	return &EscrowResult{Hold: h, Entry: entry, Balance: balance}, nil
}

// RefundGig returns a held escrow to the payer.
func (s *Service) RefundGig(ctx context.Context, escrowID string) (_ *EscrowResult, err error) {
	ctx, span := traces.StartSpan(ctx, "settlement.RefundGig", traces.EscrowID(escrowID))
	defer span.End()
	defer func() { metrics.SettlementsTotal.WithLabelValues("refund", outcome(err)).Inc() }()

	h, entry, err := s.escrows.Refund(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	balance, err := s.projector.BalanceOf(ctx, h.PayerAccountID)
	if err != nil {
		return nil, err
	}

	s.publish("escrow.refunded", map[string]any{"hold": h, "entry": entry, "balance": balance})
	return &EscrowResult{Hold: h, Entry: entry, Balance: balance}, nil
}

// Balance returns the account's projected balance. Unknown accounts have
// balance 0.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.projector.BalanceOf(ctx, accountID)
}

// History returns the account's most recent entries, newest first.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]*ledger.Entry, error) {
	return s.journal.History(ctx, accountID, limit)
}

// Holds returns escrows involving the account.
func (s *Service) Holds(ctx context.Context, accountID string, limit int) ([]*escrow.Hold, error) {
	return s.escrows.ListByAccount(ctx, accountID, limit)
}

// Hold returns a single escrow by ID.
func (s *Service) Hold(ctx context.Context, escrowID string) (*escrow.Hold, error) {
	return s.escrows.Get(ctx, escrowID)
}

// Reconcile verifies every account's projected balance against a full
// journal replay.
func (s *Service) Reconcile(ctx context.Context) ([]*ledger.VerifyResult, error) {
	return s.projector.VerifyAll(ctx)
}

// IsRetryable reports whether a settlement error is transient and the caller
// should retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, idempotency.ErrInFlight)
}
