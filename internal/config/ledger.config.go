package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr  string
	RedisAddr string
	RedisPass string

	KafkaBrokers []string

	NodeID int64

	ReservationTTL time.Duration
	SweepInterval  time.Duration

	ReferralMode       string
	ReferralLevelRates []string // decimals as strings, nearest level first

	SupportedCurrencies []string
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8031"),
		RedisAddr: getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),

		NodeID: getEnvInt64("NODE_ID", 1),

		ReservationTTL: getEnvDuration("RESERVATION_TTL", 120*time.Second),
		SweepInterval:  getEnvDuration("RESERVATION_SWEEP_INTERVAL", 30*time.Second),

		ReferralMode:       getEnv("REFERRAL_MODE", "multi"),
		ReferralLevelRates: getEnvSlice("REFERRAL_LEVEL_RATES", []string{"0.20", "0.05", "0.02"}),

		SupportedCurrencies: getEnvSlice("SUPPORTED_CURRENCIES", []string{
			"USD", "EUR", "KES", "NGN", "ZAR",
			"BTC", "ETH", "USDT", "USDC", "BNB", "SOL",
		}),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
