package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL. The state transition is a
// single guarded UPDATE, so two concurrent resolutions of the same hold can
// never both succeed.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const holdColumns = `id, payer_account_id, payee_account_id, amount, state, created_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, h *Hold) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (id, payer_account_id, payee_account_id, amount, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, h.ID, h.PayerAccountID, h.PayeeAccountID, h.Amount, h.State, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Hold, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+holdColumns+` FROM escrows WHERE id = $1
	`, id)

	h, err := scanHold(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query escrow: %w", err)
	}
	return h, nil
}

func (p *PostgresStore) Resolve(ctx context.Context, id string, to State, at time.Time) (*Hold, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE escrows SET state = $2, resolved_at = $3
		WHERE id = $1 AND state = 'held'
		RETURNING `+holdColumns+`
	`, id, to, at)

	h, err := scanHold(row)
	if err == sql.ErrNoRows {
		// Either missing or already resolved; distinguish for the caller.
		if _, getErr := p.Get(ctx, id); getErr == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("resolve escrow: %w", err)
	}
	return h, nil
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Hold, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+holdColumns+` FROM escrows
		WHERE payer_account_id = $1 OR payee_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list escrows: %w", err)
	}
	defer rows.Close()

	var holds []*Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escrow: %w", err)
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHold(s scanner) (*Hold, error) {
	h := &Hold{}
	var resolvedAt sql.NullTime
	err := s.Scan(&h.ID, &h.PayerAccountID, &h.PayeeAccountID, &h.Amount, &h.State, &h.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		h.ResolvedAt = &t
	}
	return h, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
