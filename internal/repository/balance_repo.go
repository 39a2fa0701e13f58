package repository

import (
	"context"
	"errors"
	"fmt"

	"ledger-core-service/internal/domain"
	"ledger-core-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BalanceRepository owns the canonical balances table. Every Apply* method
// runs inside a caller-held pgx.Tx and performs the sufficiency check as a
// conditional UPDATE predicate, evaluated by Postgres at commit time, so two
// concurrent debits can never both succeed against an insufficient balance.
type BalanceRepository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)

	GetByUserAndCurrency(ctx context.Context, userID, currency string) (*domain.Balance, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Balance, error)

	EnsureExists(ctx context.Context, tx pgx.Tx, userID, currency string) error
	GetWithLock(ctx context.Context, tx pgx.Tx, userID, currency string) (*domain.Balance, error)

	ApplyCredit(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error)
	ApplyDebit(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error)
	ApplyLock(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error)
	ApplyUnlock(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error)
	ApplyReleaseFrom(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error)
}

type balanceRepo struct {
	db *pgxpool.Pool
}

func NewBalanceRepo(db *pgxpool.Pool) BalanceRepository {
	return &balanceRepo{db: db}
}

func (r *balanceRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

const balanceColumns = `id, user_id, currency, balance, available, locked, version, created_at, updated_at`

func scanBalance(row pgx.Row) (*domain.Balance, error) {
	var b domain.Balance
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.Currency,
		&b.Balance,
		&b.Available,
		&b.Locked,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetByUserAndCurrency fetches the canonical row (read-only, no lock)
func (r *balanceRepo) GetByUserAndCurrency(ctx context.Context, userID, currency string) (*domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE user_id = $1 AND currency = $2`

	b, err := scanBalance(r.db.QueryRow(ctx, query, userID, currency))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// ListByUser retrieves all balances for a given user
func (r *balanceRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE user_id = $1 ORDER BY currency`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var balances []*domain.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance row: %w", err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return balances, nil
}

// EnsureExists creates the balance row if absent (idempotent). Zero is a
// valid state; rows are never deleted.
func (r *balanceRepo) EnsureExists(ctx context.Context, tx pgx.Tx, userID, currency string) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		INSERT INTO balances (user_id, currency, balance, available, locked, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (user_id, currency) DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, userID, currency); err != nil {
		return fmt.Errorf("failed to ensure balance exists: %w", err)
	}
	return nil
}

// GetWithLock fetches the row with SELECT FOR UPDATE. Used to capture the
// before snapshot for the audit event while serializing writers on the row.
func (r *balanceRepo) GetWithLock(ctx context.Context, tx pgx.Tx, userID, currency string) (*domain.Balance, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil for locked query")
	}

	query := `SELECT ` + balanceColumns + ` FROM balances WHERE user_id = $1 AND currency = $2 FOR UPDATE`

	b, err := scanBalance(tx.QueryRow(ctx, query, userID, currency))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get balance with lock: %w", err)
	}
	return b, nil
}

// ApplyCredit increases available and total. Upserts so the first credit of
// a new (user, currency) creates the row.
func (r *balanceRepo) ApplyCredit(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil")
	}

	query := `
		INSERT INTO balances (user_id, currency, balance, available, locked, version, created_at, updated_at)
		VALUES ($1, $2, $3, $3, 0, 1, NOW(), NOW())
		ON CONFLICT (user_id, currency) DO UPDATE
		SET balance   = balances.balance + EXCLUDED.balance,
			available = balances.available + EXCLUDED.available,
			version   = balances.version + 1,
			updated_at = NOW()
		RETURNING ` + balanceColumns

	b, err := scanBalance(tx.QueryRow(ctx, query, userID, currency, amount))
	if err != nil {
		return nil, fmt.Errorf("failed to apply credit: %w", err)
	}
	return b, nil
}

// ApplyDebit decreases available and total, only when available covers the
// amount. Zero rows affected means the condition failed.
func (r *balanceRepo) ApplyDebit(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil")
	}

	query := `
		UPDATE balances
		SET balance   = balance - $1,
			available = available - $1,
			version   = version + 1,
			updated_at = NOW()
		WHERE user_id = $2 AND currency = $3 AND available >= $1
		RETURNING ` + balanceColumns

	b, err := scanBalance(tx.QueryRow(ctx, query, amount, userID, currency))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to apply debit: %w", err)
	}
	return b, nil
}

// ApplyLock moves amount available → locked; total unchanged.
func (r *balanceRepo) ApplyLock(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil")
	}

	query := `
		UPDATE balances
		SET available = available - $1,
			locked    = locked + $1,
			version   = version + 1,
			updated_at = NOW()
		WHERE user_id = $2 AND currency = $3 AND available >= $1
		RETURNING ` + balanceColumns

	b, err := scanBalance(tx.QueryRow(ctx, query, amount, userID, currency))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to apply lock: %w", err)
	}
	return b, nil
}

// ApplyUnlock reverses a lock, locked → available.
func (r *balanceRepo) ApplyUnlock(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil")
	}

	query := `
		UPDATE balances
		SET available = available + $1,
			locked    = locked - $1,
			version   = version + 1,
			updated_at = NOW()
		WHERE user_id = $2 AND currency = $3 AND locked >= $1
		RETURNING ` + balanceColumns

	b, err := scanBalance(tx.QueryRow(ctx, query, amount, userID, currency))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrInsufficientLockedBalance
		}
		return nil, fmt.Errorf("failed to apply unlock: %w", err)
	}
	return b, nil
}

// ApplyReleaseFrom removes amount from the sender's locked and total. The
// receiving side of a release is an ApplyCredit in the same transaction.
func (r *balanceRepo) ApplyReleaseFrom(ctx context.Context, tx pgx.Tx, userID, currency string, amount float64) (*domain.Balance, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil")
	}

	query := `
		UPDATE balances
		SET balance = balance - $1,
			locked  = locked - $1,
			version = version + 1,
			updated_at = NOW()
		WHERE user_id = $2 AND currency = $3 AND locked >= $1
		RETURNING ` + balanceColumns

	b, err := scanBalance(tx.QueryRow(ctx, query, amount, userID, currency))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrInsufficientLockedBalance
		}
		return nil, fmt.Errorf("failed to apply release: %w", err)
	}
	return b, nil
}
