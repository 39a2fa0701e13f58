package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ledger-core-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository is append-only. There is deliberately no update or delete:
// audit_events is the system of record for reconciliation.
type AuditRepository interface {
	Append(ctx context.Context, tx pgx.Tx, event *domain.AuditEvent) error
	ListByUserAndCurrency(ctx context.Context, userID, currency string, limit int) ([]*domain.AuditEvent, error)
	ListTrail(ctx context.Context, userID, currency string) ([]*domain.AuditEvent, error)
}

type auditRepo struct {
	db *pgxpool.Pool
}

func NewAuditRepo(db *pgxpool.Pool) AuditRepository {
	return &auditRepo{db: db}
}

// Append inserts one audit event inside the caller's transaction so the
// event commits or rolls back together with the balance change it records.
func (r *auditRepo) Append(ctx context.Context, tx pgx.Tx, event *domain.AuditEvent) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}

	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, user_id, counterparty, currency, amount,
			before_available, before_locked, after_available, after_locked,
			tx_type, ref_id, checksum, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`

	// created_at comes from the event, not NOW(): the checksum covers the
	// timestamp, so the stored value must round-trip to what was hashed.
	_, err := tx.Exec(ctx, query,
		event.ID, event.EventType, event.UserID, event.Counterparty,
		event.Currency, event.Amount,
		event.BeforeAvailable, event.BeforeLocked,
		event.AfterAvailable, event.AfterLocked,
		event.TxType, event.RefID, event.Checksum, metadata, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

const auditColumns = `id, event_type, user_id, counterparty, currency, amount,
	before_available, before_locked, after_available, after_locked,
	tx_type, ref_id, checksum, metadata, created_at`

func scanAuditEvent(rows pgx.Rows) (*domain.AuditEvent, error) {
	var e domain.AuditEvent
	var metadata []byte
	err := rows.Scan(
		&e.ID, &e.EventType, &e.UserID, &e.Counterparty, &e.Currency, &e.Amount,
		&e.BeforeAvailable, &e.BeforeLocked, &e.AfterAvailable, &e.AfterLocked,
		&e.TxType, &e.RefID, &e.Checksum, &metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &e.Metadata)
	}
	return &e, nil
}

// ListByUserAndCurrency returns the newest events first, for the audit trail
// read surface.
func (r *auditRepo) ListByUserAndCurrency(ctx context.Context, userID, currency string, limit int) ([]*domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT ` + auditColumns + `
		FROM audit_events
		WHERE (user_id = $1 OR counterparty = $1) AND currency = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, userID, currency, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

// ListTrail returns the complete trail oldest-first, the order replay needs.
func (r *auditRepo) ListTrail(ctx context.Context, userID, currency string) ([]*domain.AuditEvent, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_events
		WHERE (user_id = $1 OR counterparty = $1) AND currency = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit trail: %w", err)
	}
	return events, nil
}
