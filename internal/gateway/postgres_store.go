package gateway

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresIntentStore implements IntentStore with PostgreSQL.
type PostgresIntentStore struct {
	db *sql.DB
}

// NewPostgresIntentStore creates a new PostgreSQL-backed intent store.
func NewPostgresIntentStore(db *sql.DB) *PostgresIntentStore {
	return &PostgresIntentStore{db: db}
}

func (p *PostgresIntentStore) Create(ctx context.Context, i *Intent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO deposit_intents (id, account_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
	`, i.ID, i.AccountID, i.Amount, i.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert deposit intent: %w", err)
	}
	return nil
}

func (p *PostgresIntentStore) Get(ctx context.Context, id string) (*Intent, error) {
	i := &Intent{}
	var consumedRef sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount, consumed_ref, created_at
		FROM deposit_intents WHERE id = $1
	`, id).Scan(&i.ID, &i.AccountID, &i.Amount, &consumedRef, &i.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query deposit intent: %w", err)
	}
	i.ConsumedRef = consumedRef.String
	return i, nil
}

func (p *PostgresIntentStore) Consume(ctx context.Context, id, externalRef string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE deposit_intents SET consumed_ref = $2
		WHERE id = $1 AND (consumed_ref IS NULL OR consumed_ref = $2)
	`, id, externalRef)
	if err != nil {
		return fmt.Errorf("consume deposit intent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, getErr := p.Get(ctx, id); getErr == ErrIntentNotFound {
			return ErrIntentNotFound
		}
		return ErrIntentConsumed
	}
	return nil
}

// Compile-time assertion that PostgresIntentStore implements IntentStore.
var _ IntentStore = (*PostgresIntentStore)(nil)
