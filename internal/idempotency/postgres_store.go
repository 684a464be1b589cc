package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL. The reservation relies on
// the primary key of idempotency_keys: INSERT ... ON CONFLICT DO NOTHING is
// the atomic insert-if-absent.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Reserve(ctx context.Context, ref string) (bool, *Record, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (external_ref, first_seen_at)
		VALUES ($1, $2)
		ON CONFLICT (external_ref) DO NOTHING
	`, ref, time.Now().UTC())
	if err != nil {
		return false, nil, fmt.Errorf("reserve external ref: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if rows == 1 {
		return true, nil, nil
	}

	// Lost the insert: read the winning record.
	rec := &Record{}
	var entryID sql.NullString
	err = p.db.QueryRowContext(ctx, `
		SELECT external_ref, entry_id, first_seen_at
		FROM idempotency_keys WHERE external_ref = $1
	`, ref).Scan(&rec.ExternalRef, &entryID, &rec.FirstSeenAt)
	if err != nil {
		return false, nil, fmt.Errorf("load existing reservation: %w", err)
	}
	rec.EntryID = entryID.String
	return false, rec, nil
}

func (p *PostgresStore) Bind(ctx context.Context, ref, entryID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE idempotency_keys SET entry_id = $2 WHERE external_ref = $1
	`, ref, entryID)
	if err != nil {
		return fmt.Errorf("bind external ref: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotReserved
	}
	return nil
}

func (p *PostgresStore) Release(ctx context.Context, ref string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys WHERE external_ref = $1 AND entry_id IS NULL
	`, ref)
	return err
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
