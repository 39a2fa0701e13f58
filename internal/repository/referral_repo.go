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

// ReferralRepository reads the referral forest and persists commission
// records. Edges are written once at signup by the account service; from the
// ledger's side they are read-only.
type ReferralRepository interface {
	GetReferrer(ctx context.Context, userID string) (string, error)
	CreateEdge(ctx context.Context, userID, referrerID string) error

	InsertCommission(ctx context.Context, rec *domain.CommissionRecord) (bool, error)
	DeleteCommission(ctx context.Context, id string) error
	GetCommission(ctx context.Context, referredID string, level int, refID string) (*domain.CommissionRecord, error)
	ListCommissionsByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*domain.CommissionRecord, error)
	SumEarningsByReferrer(ctx context.Context, referrerID string) ([]domain.EarningsBucket, error)
}

type referralRepo struct {
	db *pgxpool.Pool
}

func NewReferralRepo(db *pgxpool.Pool) ReferralRepository {
	return &referralRepo{db: db}
}

// GetReferrer returns the single parent edge; ErrNotFound for a rootless
// account.
func (r *referralRepo) GetReferrer(ctx context.Context, userID string) (string, error) {
	var referrerID string
	err := r.db.QueryRow(ctx,
		`SELECT referrer_id FROM referral_edges WHERE user_id = $1`, userID,
	).Scan(&referrerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", xerrors.ErrNotFound
		}
		return "", fmt.Errorf("failed to get referrer: %w", err)
	}
	return referrerID, nil
}

func (r *referralRepo) CreateEdge(ctx context.Context, userID, referrerID string) error {
	query := `
		INSERT INTO referral_edges (user_id, referrer_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, userID, referrerID); err != nil {
		return fmt.Errorf("failed to create referral edge: %w", err)
	}
	return nil
}

// InsertCommission claims a payout level. The unique key
// (referred_id, level, ref_id) makes replays lose the insert; the bool
// reports whether this call won the claim.
func (r *referralRepo) InsertCommission(ctx context.Context, rec *domain.CommissionRecord) (bool, error) {
	query := `
		INSERT INTO commission_records (id, referrer_id, referred_id, level, percent, amount, currency, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (referred_id, level, ref_id) DO NOTHING
	`

	cmdTag, err := r.db.Exec(ctx, query,
		rec.ID, rec.ReferrerID, rec.ReferredID, rec.Level,
		rec.Percent, rec.Amount, rec.Currency, rec.RefID)
	if err != nil {
		return false, fmt.Errorf("failed to insert commission record: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// DeleteCommission removes a claim record whose credit never landed, so a
// retry of the distribution can pay the level. This is the one sanctioned
// delete on commission_records.
func (r *referralRepo) DeleteCommission(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM commission_records WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete commission record: %w", err)
	}
	return nil
}

func (r *referralRepo) GetCommission(ctx context.Context, referredID string, level int, refID string) (*domain.CommissionRecord, error) {
	query := `
		SELECT id, referrer_id, referred_id, level, percent, amount, currency, ref_id, created_at
		FROM commission_records
		WHERE referred_id = $1 AND level = $2 AND ref_id = $3
	`

	var rec domain.CommissionRecord
	err := r.db.QueryRow(ctx, query, referredID, level, refID).Scan(
		&rec.ID, &rec.ReferrerID, &rec.ReferredID, &rec.Level,
		&rec.Percent, &rec.Amount, &rec.Currency, &rec.RefID, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commission record: %w", err)
	}
	return &rec, nil
}

func (r *referralRepo) ListCommissionsByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*domain.CommissionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, referrer_id, referred_id, level, percent, amount, currency, ref_id, created_at
		FROM commission_records
		WHERE referrer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, referrerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query commission records: %w", err)
	}
	defer rows.Close()

	var records []*domain.CommissionRecord
	for rows.Next() {
		var rec domain.CommissionRecord
		err := rows.Scan(
			&rec.ID, &rec.ReferrerID, &rec.ReferredID, &rec.Level,
			&rec.Percent, &rec.Amount, &rec.Currency, &rec.RefID, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commission records: %w", err)
	}
	return records, nil
}

// SumEarningsByReferrer aggregates lifetime earnings in the store, so the
// totals stay exact however many records the referrer has accumulated.
func (r *referralRepo) SumEarningsByReferrer(ctx context.Context, referrerID string) ([]domain.EarningsBucket, error) {
	query := `
		SELECT currency, level, COALESCE(SUM(amount), 0), COUNT(*)
		FROM commission_records
		WHERE referrer_id = $1
		GROUP BY currency, level
		ORDER BY currency, level
	`

	rows, err := r.db.Query(ctx, query, referrerID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate commission earnings: %w", err)
	}
	defer rows.Close()

	var buckets []domain.EarningsBucket
	for rows.Next() {
		var b domain.EarningsBucket
		if err := rows.Scan(&b.Currency, &b.Level, &b.Amount, &b.Records); err != nil {
			return nil, fmt.Errorf("failed to scan earnings bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating earnings buckets: %w", err)
	}
	return buckets, nil
}
