package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-core-service/internal/domain"
	"ledger-core-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReservationRepository backs the two-phase reservation protocol. Pool
// decrements and status transitions are conditional UPDATEs so a reservation
// cannot be confirmed and released concurrently: the loser sees zero rows.
type ReservationRepository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)

	EnsurePool(ctx context.Context, currency string) error
	GetPool(ctx context.Context, currency string) (*domain.LiquidityPool, error)
	CreditPool(ctx context.Context, currency string, amount float64) (*domain.LiquidityPool, error)

	ReserveFunds(ctx context.Context, tx pgx.Tx, currency string, amount float64) error
	ConfirmFunds(ctx context.Context, tx pgx.Tx, currency string, amount float64) error
	ReturnFunds(ctx context.Context, tx pgx.Tx, currency string, amount float64) error

	Insert(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	TransitionStatus(ctx context.Context, tx pgx.Tx, id, from, to string, reason *string, resolvedAt time.Time, requireUnexpired bool) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
}

type reservationRepo struct {
	db *pgxpool.Pool
}

func NewReservationRepo(db *pgxpool.Pool) ReservationRepository {
	return &reservationRepo{db: db}
}

func (r *reservationRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// EnsurePool creates the pool row for a currency if absent (idempotent)
func (r *reservationRepo) EnsurePool(ctx context.Context, currency string) error {
	query := `
		INSERT INTO liquidity_pools (currency, balance, available, reserved, updated_at)
		VALUES ($1, 0, 0, 0, NOW())
		ON CONFLICT (currency) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, currency); err != nil {
		return fmt.Errorf("failed to ensure pool exists: %w", err)
	}
	return nil
}

func (r *reservationRepo) GetPool(ctx context.Context, currency string) (*domain.LiquidityPool, error) {
	query := `SELECT currency, balance, available, reserved, updated_at FROM liquidity_pools WHERE currency = $1`

	var p domain.LiquidityPool
	err := r.db.QueryRow(ctx, query, currency).Scan(
		&p.Currency, &p.Balance, &p.Available, &p.Reserved, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	return &p, nil
}

// CreditPool tops up admin inventory (deposit into the pool).
func (r *reservationRepo) CreditPool(ctx context.Context, currency string, amount float64) (*domain.LiquidityPool, error) {
	query := `
		INSERT INTO liquidity_pools (currency, balance, available, reserved, updated_at)
		VALUES ($1, $2, $2, 0, NOW())
		ON CONFLICT (currency) DO UPDATE
		SET balance   = liquidity_pools.balance + EXCLUDED.balance,
			available = liquidity_pools.available + EXCLUDED.available,
			updated_at = NOW()
		RETURNING currency, balance, available, reserved, updated_at
	`

	var p domain.LiquidityPool
	err := r.db.QueryRow(ctx, query, currency, amount).Scan(
		&p.Currency, &p.Balance, &p.Available, &p.Reserved, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to credit pool: %w", err)
	}
	return &p, nil
}

// ReserveFunds moves amount available → reserved only when the pool covers
// it. Zero rows affected means another quote got there first.
func (r *reservationRepo) ReserveFunds(ctx context.Context, tx pgx.Tx, currency string, amount float64) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		UPDATE liquidity_pools
		SET available = available - $1,
			reserved  = reserved + $1,
			updated_at = NOW()
		WHERE currency = $2 AND available >= $1
	`

	cmdTag, err := tx.Exec(ctx, query, amount, currency)
	if err != nil {
		return fmt.Errorf("failed to reserve pool funds: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrInsufficientLiquidity
	}
	return nil
}

// ConfirmFunds permanently removes a confirmed amount from reserved and from
// the pool total.
func (r *reservationRepo) ConfirmFunds(ctx context.Context, tx pgx.Tx, currency string, amount float64) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		UPDATE liquidity_pools
		SET balance  = balance - $1,
			reserved = reserved - $1,
			updated_at = NOW()
		WHERE currency = $2 AND reserved >= $1
	`

	cmdTag, err := tx.Exec(ctx, query, amount, currency)
	if err != nil {
		return fmt.Errorf("failed to confirm pool funds: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrTransactionFailure
	}
	return nil
}

// ReturnFunds puts a cancelled or expired hold back into available.
func (r *reservationRepo) ReturnFunds(ctx context.Context, tx pgx.Tx, currency string, amount float64) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		UPDATE liquidity_pools
		SET available = available + $1,
			reserved  = reserved - $1,
			updated_at = NOW()
		WHERE currency = $2 AND reserved >= $1
	`

	cmdTag, err := tx.Exec(ctx, query, amount, currency)
	if err != nil {
		return fmt.Errorf("failed to return pool funds: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrTransactionFailure
	}
	return nil
}

func (r *reservationRepo) Insert(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	query := `
		INSERT INTO reservations (id, currency, amount, owner_id, order_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := tx.Exec(ctx, query,
		res.ID, res.Currency, res.Amount, res.OwnerID, res.OrderID, res.Status, res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

const reservationColumns = `id, currency, amount, owner_id, order_id, status, release_reason, expires_at, created_at, resolved_at`

func (r *reservationRepo) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	var res domain.Reservation
	err := r.db.QueryRow(ctx, query, id).Scan(
		&res.ID, &res.Currency, &res.Amount, &res.OwnerID, &res.OrderID,
		&res.Status, &res.ReleaseReason, &res.ExpiresAt, &res.CreatedAt, &res.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &res, nil
}

// TransitionStatus applies from → to only when the row is still in `from`
// (and unexpired when requireUnexpired). Returns false when the condition
// did not hold; the caller inspects the current row to classify the loss.
// resolvedAt comes from the caller so it can report the post-transition
// state without re-reading the row.
func (r *reservationRepo) TransitionStatus(ctx context.Context, tx pgx.Tx, id, from, to string, reason *string, resolvedAt time.Time, requireUnexpired bool) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction cannot be nil")
	}

	query := `
		UPDATE reservations
		SET status = $1, release_reason = $2, resolved_at = $3
		WHERE id = $4 AND status = $5
	`
	args := []interface{}{to, reason, resolvedAt, id, from}
	if requireUnexpired {
		query += ` AND expires_at > $6`
		args = append(args, time.Now())
	}

	cmdTag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition reservation: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// ListExpired finds reserved-but-expired rows for the sweep.
func (r *reservationRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, domain.ReservationReserved, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired reservations: %w", err)
	}
	defer rows.Close()

	var expired []*domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		err := rows.Scan(
			&res.ID, &res.Currency, &res.Amount, &res.OwnerID, &res.OrderID,
			&res.Status, &res.ReleaseReason, &res.ExpiresAt, &res.CreatedAt, &res.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		expired = append(expired, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return expired, nil
}
