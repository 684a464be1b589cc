package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newTestJournal(t *testing.T) (*Journal, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewJournal(store), store
}

func TestAppendAssignsIDAndSeq(t *testing.T) {
	j, _ := newTestJournal(t)

	first, err := j.Append(context.Background(), NewEntry{
		AccountID: "client1", Amount: 1000, Kind: KindDeposit,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	second, err := j.Append(context.Background(), NewEntry{
		AccountID: "client1", Amount: 2000, Kind: KindDeposit,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if first.ID == "" || second.ID == "" || first.ID == second.ID {
		t.Errorf("entries must have distinct IDs: %q %q", first.ID, second.ID)
	}
	if second.Seq <= first.Seq {
		t.Errorf("seq must be strictly increasing: %d then %d", first.Seq, second.Seq)
	}
	if first.CreatedAt.IsZero() {
		t.Error("CreatedAt must be set")
	}
}

func TestAppendRejectsNonPositiveAmount(t *testing.T) {
	j, _ := newTestJournal(t)

	if _, err := j.Append(context.Background(), NewEntry{AccountID: "a", Amount: 0, Kind: KindDeposit}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := j.Append(context.Background(), NewEntry{AccountID: "a", Amount: -100, Kind: KindDeposit}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := j.AppendDebit(context.Background(), NewEntry{AccountID: "a", Amount: -100, Kind: KindWithdrawal}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative debit: expected ErrInvalidAmount, got %v", err)
	}
}

func TestAppendRejectsDuplicateExternalRef(t *testing.T) {
	j, _ := newTestJournal(t)

	if _, err := j.Append(context.Background(), NewEntry{
		AccountID: "a", Amount: 100, Kind: KindDeposit, ExternalRef: "pay_1",
	}); err != nil {
		t.Fatalf("first append failed: %v", err)
	}

	_, err := j.Append(context.Background(), NewEntry{
		AccountID: "a", Amount: 100, Kind: KindDeposit, ExternalRef: "pay_1",
	})
	if !errors.Is(err, ErrDuplicateRef) {
		t.Fatalf("expected ErrDuplicateRef, got %v", err)
	}

	// A different account cannot reuse the ref either.
	_, err = j.Append(context.Background(), NewEntry{
		AccountID: "b", Amount: 100, Kind: KindDeposit, ExternalRef: "pay_1",
	})
	if !errors.Is(err, ErrDuplicateRef) {
		t.Fatalf("expected ErrDuplicateRef across accounts, got %v", err)
	}
}

func TestEmptyExternalRefNotDeduplicated(t *testing.T) {
	j, _ := newTestJournal(t)

	for i := 0; i < 3; i++ {
		if _, err := j.Append(context.Background(), NewEntry{
			AccountID: "a", Amount: 100, Kind: KindDeposit,
		}); err != nil {
			t.Fatalf("append %d without ref failed: %v", i, err)
		}
	}
}

func TestAppendDebitStoresNegativeAmount(t *testing.T) {
	j, store := newTestJournal(t)

	if _, err := j.Append(context.Background(), NewEntry{AccountID: "a", Amount: 1000, Kind: KindDeposit}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entry, err := j.AppendDebit(context.Background(), NewEntry{AccountID: "a", Amount: 400, Kind: KindWithdrawal})
	if err != nil {
		t.Fatalf("AppendDebit failed: %v", err)
	}
	if entry.Amount != -400 {
		t.Errorf("expected stored amount -400, got %d", entry.Amount)
	}

	sum, _, err := store.SumAccount(context.Background(), "a", 0)
	if err != nil {
		t.Fatalf("SumAccount failed: %v", err)
	}
	if sum != 600 {
		t.Errorf("expected folded balance 600, got %d", sum)
	}
}

func TestAppendDebitRejectsOverdraft(t *testing.T) {
	j, _ := newTestJournal(t)

	if _, err := j.AppendDebit(context.Background(), NewEntry{AccountID: "a", Amount: 1, Kind: KindWithdrawal}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("empty account debit: expected ErrInsufficientFunds, got %v", err)
	}

	if _, err := j.Append(context.Background(), NewEntry{AccountID: "a", Amount: 100, Kind: KindDeposit}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := j.AppendDebit(context.Background(), NewEntry{AccountID: "a", Amount: 101, Kind: KindWithdrawal}); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	// Exactly the balance is allowed.
	if _, err := j.AppendDebit(context.Background(), NewEntry{AccountID: "a", Amount: 100, Kind: KindWithdrawal}); err != nil {
		t.Errorf("debit to zero must succeed, got %v", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	j, store := newTestJournal(t)

	if _, err := j.Append(context.Background(), NewEntry{AccountID: "a", Amount: 500, Kind: KindDeposit}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := j.AppendDebit(context.Background(), NewEntry{AccountID: "a", Amount: 100, Kind: KindWithdrawal})
			if err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	sum, _, err := store.SumAccount(context.Background(), "a", 0)
	if err != nil {
		t.Fatalf("SumAccount failed: %v", err)
	}
	if sum != 0 {
		t.Errorf("expected exactly 5 debits to win (balance 0), got %d", sum)
	}
}

func TestEntryLookup(t *testing.T) {
	j, _ := newTestJournal(t)

	appended, err := j.Append(context.Background(), NewEntry{AccountID: "a", Amount: 250, Kind: KindDeposit})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := j.Entry(context.Background(), appended.ID)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if got.Amount != 250 || got.Seq != appended.Seq {
		t.Errorf("unexpected entry: %+v", got)
	}

	if _, err := j.Entry(context.Background(), "ent_missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestForEachEntryAscendingSeq(t *testing.T) {
	j, store := newTestJournal(t)

	for i := 0; i < 5; i++ {
		if _, err := j.Append(context.Background(), NewEntry{AccountID: "a", Amount: int64(i + 1), Kind: KindDeposit}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	// Interleave another account; the walk must skip it.
	if _, err := j.Append(context.Background(), NewEntry{AccountID: "b", Amount: 999, Kind: KindDeposit}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var seqs []int64
	err := store.ForEachEntry(context.Background(), "a", func(e *Entry) error {
		if e.AccountID != "a" {
			t.Errorf("walk leaked entry for account %s", e.AccountID)
		}
		seqs = append(seqs, e.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachEntry failed: %v", err)
	}

	if len(seqs) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(seqs))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("seq order violated: %v", seqs)
		}
	}
}

func TestForEachEntryStopsOnError(t *testing.T) {
	j, store := newTestJournal(t)

	for i := 0; i < 5; i++ {
		if _, err := j.Append(context.Background(), NewEntry{AccountID: "a", Amount: 10, Kind: KindDeposit}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	sentinel := errors.New("stop here")
	count := 0
	err := store.ForEachEntry(context.Background(), "a", func(e *Entry) error {
		count++
		if count == 3 {
			return sentinel
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if count != 3 {
		t.Errorf("walk must stop at the error, visited %d", count)
	}

	// The walk is restartable: a fresh call sees all entries again.
	count = 0
	if err := store.ForEachEntry(context.Background(), "a", func(e *Entry) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("restarted walk failed: %v", err)
	}
	if count != 5 {
		t.Errorf("restarted walk must see all 5 entries, saw %d", count)
	}
}

func TestSumAccountAfterSeq(t *testing.T) {
	j, store := newTestJournal(t)

	var mid int64
	for i := 0; i < 4; i++ {
		e, err := j.Append(context.Background(), NewEntry{AccountID: "a", Amount: 100, Kind: KindDeposit})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if i == 1 {
			mid = e.Seq
		}
	}

	sum, lastSeq, err := store.SumAccount(context.Background(), "a", mid)
	if err != nil {
		t.Fatalf("SumAccount failed: %v", err)
	}
	if sum != 200 {
		t.Errorf("expected suffix sum 200 after seq %d, got %d", mid, sum)
	}
	if lastSeq <= mid {
		t.Errorf("expected lastSeq past %d, got %d", mid, lastSeq)
	}

	// Empty range returns afterSeq unchanged.
	sum, lastSeq, err = store.SumAccount(context.Background(), "a", lastSeq)
	if err != nil {
		t.Fatalf("SumAccount failed: %v", err)
	}
	if sum != 0 {
		t.Errorf("expected empty suffix sum 0, got %d", sum)
	}
}

func TestHistoryLimitAndOrder(t *testing.T) {
	j, _ := newTestJournal(t)

	for i := 0; i < 10; i++ {
		if _, err := j.Append(context.Background(), NewEntry{
			AccountID: "a", Amount: int64(i + 1), Kind: KindDeposit,
			ExternalRef: fmt.Sprintf("pay_%d", i),
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := j.History(context.Background(), "a", 4)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].Amount != 10 {
		t.Errorf("expected newest entry first, got amount %d", entries[0].Amount)
	}
}

func TestAccounts(t *testing.T) {
	j, store := newTestJournal(t)

	for _, acct := range []string{"a", "b", "a", "c"} {
		if _, err := j.Append(context.Background(), NewEntry{AccountID: acct, Amount: 1, Kind: KindDeposit}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	accounts, err := store.Accounts(context.Background())
	if err != nil {
		t.Fatalf("Accounts failed: %v", err)
	}
	if len(accounts) != 3 {
		t.Errorf("expected 3 distinct accounts, got %v", accounts)
	}
}
