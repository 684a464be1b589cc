package escrow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/gigvault/gigvault/internal/ledger"
)

func newTestService(t *testing.T) (*Service, *ledger.Journal) {
	t.Helper()
	journal := ledger.NewJournal(ledger.NewMemoryStore())
	svc := NewService(NewMemoryStore(), journal, slog.Default())
	return svc, journal
}

func fund(t *testing.T, journal *ledger.Journal, account string, amount int64) {
	t.Helper()
	_, err := journal.Append(context.Background(), ledger.NewEntry{
		AccountID: account,
		Amount:    amount,
		Kind:      ledger.KindDeposit,
	})
	if err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func balance(t *testing.T, journal *ledger.Journal, account string) int64 {
	t.Helper()
	sum, _, err := journal.Store().SumAccount(context.Background(), account, 0)
	if err != nil {
		t.Fatalf("sum %s: %v", account, err)
	}
	return sum
}

func TestHoldDebitsPayer(t *testing.T) {
	svc, journal := newTestService(t)
	fund(t, journal, "client1", 10000)

	h, entry, err := svc.Hold(context.Background(), "client1", "worker1", 3000)
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	if h.State != StateHeld {
		t.Errorf("expected state held, got %s", h.State)
	}
	if entry.Amount != -3000 {
		t.Errorf("expected debit entry -3000, got %d", entry.Amount)
	}
	if entry.EscrowID != h.ID {
		t.Errorf("entry not linked to escrow: %s != %s", entry.EscrowID, h.ID)
	}
	if got := balance(t, journal, "client1"); got != 7000 {
		t.Errorf("expected payer balance 7000, got %d", got)
	}
}

func TestHoldInsufficientFunds(t *testing.T) {
	svc, journal := newTestService(t)
	fund(t, journal, "client1", 1000)

	_, _, err := svc.Hold(context.Background(), "client1", "worker1", 3000)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := balance(t, journal, "client1"); got != 1000 {
		t.Errorf("failed hold must not move funds, balance %d", got)
	}
}

func TestHoldValidation(t *testing.T) {
	svc, _ := newTestService(t)

	if _, _, err := svc.Hold(context.Background(), "a", "a", 100); !errors.Is(err, ErrSameAccount) {
		t.Errorf("expected ErrSameAccount, got %v", err)
	}
	if _, _, err := svc.Hold(context.Background(), "a", "b", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, _, err := svc.Hold(context.Background(), "a", "b", -5); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestReleaseCreditsPayee(t *testing.T) {
	svc, journal := newTestService(t)
	fund(t, journal, "client1", 10000)

	h, _, err := svc.Hold(context.Background(), "client1", "worker1", 3000)
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	resolved, entry, err := svc.Release(context.Background(), h.ID)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if resolved.State != StateReleased {
		t.Errorf("expected state released, got %s", resolved.State)
	}
	if resolved.ResolvedAt == nil {
		t.Error("expected ResolvedAt to be set")
	}
	if entry.Amount != 3000 || entry.Kind != ledger.KindEscrowRelease {
		t.Errorf("unexpected release entry: amount=%d kind=%s", entry.Amount, entry.Kind)
	}
	if got := balance(t, journal, "worker1"); got != 3000 {
		t.Errorf("expected payee balance 3000, got %d", got)
	}
	if got := balance(t, journal, "client1"); got != 7000 {
		t.Errorf("expected payer balance 7000, got %d", got)
	}
}

func TestReleaseTakesPlatformFee(t *testing.T) {
	journal := ledger.NewJournal(ledger.NewMemoryStore())
	svc := NewService(NewMemoryStore(), journal, slog.Default()).WithFee("platform", 250)
	fund(t, journal, "client1", 10000)

	h, _, err := svc.Hold(context.Background(), "client1", "worker1", 10000)
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	if _, _, err := svc.Release(context.Background(), h.ID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// 250 bps of 10000 = 250 fee.
	if got := balance(t, journal, "worker1"); got != 9750 {
		t.Errorf("expected payee balance 9750, got %d", got)
	}
	if got := balance(t, journal, "platform"); got != 250 {
		t.Errorf("expected platform balance 250, got %d", got)
	}
}

func TestRefundCreditsPayer(t *testing.T) {
	svc, journal := newTestService(t)
	fund(t, journal, "client1", 5000)

	h, _, err := svc.Hold(context.Background(), "client1", "worker1", 5000)
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	resolved, entry, err := svc.Refund(context.Background(), h.ID)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if resolved.State != StateRefunded {
		t.Errorf("expected state refunded, got %s", resolved.State)
	}
	if entry.Kind != ledger.KindEscrowRefund {
		t.Errorf("expected refund kind, got %s", entry.Kind)
	}
	if got := balance(t, journal, "client1"); got != 5000 {
		t.Errorf("expected payer made whole at 5000, got %d", got)
	}
	if got := balance(t, journal, "worker1"); got != 0 {
		t.Errorf("refund must not credit payee, got %d", got)
	}
}

func TestResolveExactlyOnce(t *testing.T) {
	svc, journal := newTestService(t)
	fund(t, journal, "client1", 5000)

	h, _, err := svc.Hold(context.Background(), "client1", "worker1", 5000)
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	if _, _, err := svc.Release(context.Background(), h.ID); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if _, _, err := svc.Release(context.Background(), h.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second release: expected ErrInvalidTransition, got %v", err)
	}
	if _, _, err := svc.Refund(context.Background(), h.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("refund after release: expected ErrInvalidTransition, got %v", err)
	}

	// Exactly one credit to the worker.
	if got := balance(t, journal, "worker1"); got != 5000 {
		t.Errorf("expected single credit of 5000, got %d", got)
	}
}

func TestConcurrentResolveSingleWinner(t *testing.T) {
	svc, journal := newTestService(t)
	fund(t, journal, "client1", 5000)

	h, _, err := svc.Hold(context.Background(), "client1", "worker1", 5000)
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	const racers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		release := i%2 == 0
		go func() {
			defer wg.Done()
			var err error
			if release {
				_, _, err = svc.Release(context.Background(), h.ID)
			} else {
				_, _, err = svc.Refund(context.Background(), h.ID)
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected resolve error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winning resolution, got %d", wins)
	}

	// Conservation: client1 + worker1 together hold the original 5000.
	total := balance(t, journal, "client1") + balance(t, journal, "worker1")
	if total != 5000 {
		t.Errorf("funds not conserved, total %d", total)
	}
}

func TestGetAndList(t *testing.T) {
	svc, journal := newTestService(t)
	fund(t, journal, "client1", 10000)

	h1, _, err := svc.Hold(context.Background(), "client1", "worker1", 1000)
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	h2, _, err := svc.Hold(context.Background(), "client1", "worker2", 2000)
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	got, err := svc.Get(context.Background(), h1.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Amount != 1000 {
		t.Errorf("expected amount 1000, got %d", got.Amount)
	}

	if _, err := svc.Get(context.Background(), "esc_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	holds, err := svc.ListByAccount(context.Background(), "client1", 0)
	if err != nil {
		t.Fatalf("ListByAccount failed: %v", err)
	}
	if len(holds) != 2 {
		t.Fatalf("expected 2 holds, got %d", len(holds))
	}
	// Newest first.
	if holds[0].ID != h2.ID {
		t.Errorf("expected newest hold first, got %s", holds[0].ID)
	}

	worker, err := svc.ListByAccount(context.Background(), "worker2", 0)
	if err != nil {
		t.Fatalf("ListByAccount failed: %v", err)
	}
	if len(worker) != 1 || worker[0].ID != h2.ID {
		t.Errorf("expected worker2 to see its hold, got %v", worker)
	}
}
