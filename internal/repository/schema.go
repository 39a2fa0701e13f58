package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the service schema. Statements are idempotent so every
// instance can run them at boot.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			balance DOUBLE PRECISION NOT NULL DEFAULT 0,
			available DOUBLE PRECISION NOT NULL DEFAULT 0,
			locked DOUBLE PRECISION NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, currency)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			user_id TEXT NOT NULL,
			counterparty TEXT,
			currency TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			before_available DOUBLE PRECISION NOT NULL,
			before_locked DOUBLE PRECISION NOT NULL,
			after_available DOUBLE PRECISION NOT NULL,
			after_locked DOUBLE PRECISION NOT NULL,
			tx_type TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			checksum TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_user_currency
			ON audit_events (user_id, currency, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_counterparty
			ON audit_events (counterparty) WHERE counterparty IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS liquidity_pools (
			currency TEXT PRIMARY KEY,
			balance DOUBLE PRECISION NOT NULL DEFAULT 0,
			available DOUBLE PRECISION NOT NULL DEFAULT 0,
			reserved DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			currency TEXT NOT NULL REFERENCES liquidity_pools(currency),
			amount DOUBLE PRECISION NOT NULL,
			owner_id TEXT,
			order_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'reserved',
			release_reason TEXT,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_sweep
			ON reservations (expires_at) WHERE status = 'reserved'`,
		`CREATE TABLE IF NOT EXISTS referral_edges (
			user_id TEXT PRIMARY KEY,
			referrer_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS commission_records (
			id TEXT PRIMARY KEY,
			referrer_id TEXT NOT NULL,
			referred_id TEXT NOT NULL,
			level INT NOT NULL,
			percent TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			currency TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (referred_id, level, ref_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commission_records_referrer
			ON commission_records (referrer_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
