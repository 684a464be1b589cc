package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// isUniqueViolation reports whether err is a unique-constraint violation
// on the given constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == constraint
	}
	return false
}

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, kind, external_ref, escrow_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, e.ID, e.AccountID, e.Amount, string(e.Kind),
		nullString(e.ExternalRef), nullString(e.EscrowID), e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		if isUniqueViolation(err, "ledger_entries_external_ref_key") {
			return ErrDuplicateRef
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// AppendDebit inserts the debit only if the account's folded balance stays
// non-negative. The guard subquery and the insert are a single statement
// inside a serializable transaction, so two concurrent debits cannot both
// pass the check against a stale fold.
func (p *PostgresStore) AppendDebit(ctx context.Context, e *Entry) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, kind, external_ref, escrow_id, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE (SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $2) + $3 >= 0
		RETURNING seq
	`, e.ID, e.AccountID, e.Amount, string(e.Kind),
		nullString(e.ExternalRef), nullString(e.EscrowID), e.CreatedAt,
	).Scan(&e.Seq)
	if err == sql.ErrNoRows {
		return ErrInsufficientFunds
	}
	if err != nil {
		return fmt.Errorf("append debit entry: %w", err)
	}

	return tx.Commit()
}

const entryColumns = `id, seq, account_id, amount, kind, external_ref, escrow_id, created_at`

func (p *PostgresStore) Entry(ctx context.Context, id string) (*Entry, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return e, err
}

func (p *PostgresStore) ForEachEntry(ctx context.Context, accountID string, fn func(*Entry) error) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq ASC
	`, accountID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *PostgresStore) SumAccount(ctx context.Context, accountID string, afterSeq int64) (int64, int64, error) {
	var sum, lastSeq int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0), COALESCE(MAX(seq), $2)
		FROM ledger_entries
		WHERE account_id = $1 AND seq > $2
	`, accountID, afterSeq).Scan(&sum, &lastSeq)
	if err != nil {
		return 0, 0, err
	}
	return sum, lastSeq, nil
}

func (p *PostgresStore) History(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) Accounts(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT account_id FROM ledger_entries`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []string
	for rows.Next() {
		var acct string
		if err := rows.Scan(&acct); err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*Entry, error) {
	e := &Entry{}
	var kind string
	var externalRef, escrowID sql.NullString

	err := s.Scan(&e.ID, &e.Seq, &e.AccountID, &e.Amount, &kind,
		&externalRef, &escrowID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.Kind = Kind(kind)
	e.ExternalRef = externalRef.String
	e.EscrowID = escrowID.String
	return e, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresSnapshotStore persists balance snapshots in PostgreSQL.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore creates a new PostgreSQL-backed snapshot store.
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (p *PostgresSnapshotStore) Get(ctx context.Context, accountID string) (*Snapshot, error) {
	s := &Snapshot{}
	err := p.db.QueryRowContext(ctx, `
		SELECT account_id, balance, last_seq, taken_at
		FROM balance_snapshots WHERE account_id = $1
	`, accountID).Scan(&s.AccountID, &s.Balance, &s.LastSeq, &s.TakenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresSnapshotStore) Save(ctx context.Context, s *Snapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO balance_snapshots (account_id, balance, last_seq, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			balance  = EXCLUDED.balance,
			last_seq = EXCLUDED.last_seq,
			taken_at = EXCLUDED.taken_at
	`, s.AccountID, s.Balance, s.LastSeq, s.TakenAt)
	return err
}

func (p *PostgresSnapshotStore) All(ctx context.Context) ([]*Snapshot, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT account_id, balance, last_seq, taken_at FROM balance_snapshots`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var snaps []*Snapshot
	for rows.Next() {
		s := &Snapshot{}
		if err := rows.Scan(&s.AccountID, &s.Balance, &s.LastSeq, &s.TakenAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

var _ SnapshotStore = (*PostgresSnapshotStore)(nil)
