package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func LoadEnv() error {
	return godotenv.Load()
}

func LoadDB() DBConfig {
	return DBConfig{
		Host:     getEnv("DB_HOST", "postgres"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "ledger"),
		Password: getEnv("DB_PASSWORD", "ledger"),
		Name:     getEnv("DB_NAME", "ledger"),
	}
}

// ConnectDB dials Postgres with a short retry loop so the service survives
// the database coming up after it in compose ordering.
func ConnectDB(cfg DBConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name,
	)

	var pool *pgxpool.Pool
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pool, err = pgxpool.New(ctx, dsn)
		if err == nil {
			err = pool.Ping(ctx)
		}
		cancel()
		if err == nil {
			return pool, nil
		}
		if pool != nil {
			pool.Close()
			pool = nil
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return nil, fmt.Errorf("connect db: %w", err)
}

// AssertAtomicCommit verifies the database honors transactional rollback
// before the service accepts traffic. A probe row is written inside a
// transaction that is then rolled back; if the row remains visible the
// backend cannot guarantee balance/audit atomicity and startup must abort.
func AssertAtomicCommit(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS startup_probe (id TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("atomicity probe setup: %w", err)
	}

	probeID := fmt.Sprintf("probe-%d", time.Now().UnixNano())

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("atomicity probe begin: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO startup_probe (id) VALUES ($1)`, probeID); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("atomicity probe insert: %w", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		return fmt.Errorf("atomicity probe rollback: %w", err)
	}

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM startup_probe WHERE id = $1)`, probeID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("atomicity probe check: %w", err)
	}
	if exists {
		return fmt.Errorf("atomicity probe: rolled-back row is visible, refusing to start")
	}
	return nil
}
