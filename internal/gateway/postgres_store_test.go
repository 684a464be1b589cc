//go:build integration

package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gigvault/gigvault/internal/testutil"
)

func TestPostgres_IntentLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresIntentStore(db)
	ctx := context.Background()

	intent := &Intent{
		ID:        "dep_pg_1",
		AccountID: "client1",
		Amount:    10000,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Create(ctx, intent); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "dep_pg_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccountID != "client1" || got.Amount != 10000 || got.ConsumedRef != "" {
		t.Errorf("unexpected intent: %+v", got)
	}

	if _, err := store.Get(ctx, "dep_missing"); !errors.Is(err, ErrIntentNotFound) {
		t.Errorf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestPostgres_ConsumeIdempotentPerRef(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresIntentStore(db)
	ctx := context.Background()

	if err := store.Create(ctx, &Intent{
		ID: "dep_pg_2", AccountID: "client1", Amount: 5000, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Consume(ctx, "dep_pg_2", "pay_1"); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	// Redelivery of the same capture consumes again without error.
	if err := store.Consume(ctx, "dep_pg_2", "pay_1"); err != nil {
		t.Fatalf("re-consume with same ref must succeed: %v", err)
	}
	// A different capture cannot reuse the intent.
	if err := store.Consume(ctx, "dep_pg_2", "pay_2"); !errors.Is(err, ErrIntentConsumed) {
		t.Errorf("expected ErrIntentConsumed, got %v", err)
	}
	if err := store.Consume(ctx, "dep_missing", "pay_1"); !errors.Is(err, ErrIntentNotFound) {
		t.Errorf("expected ErrIntentNotFound, got %v", err)
	}
}
