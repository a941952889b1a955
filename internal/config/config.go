// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/hwledger/internal/model"
)

// ストレージドライバー
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageDriver string
	DatabaseURL   string

	// Auth
	JWTSecret  string
	JWTIssuer  string
	TokenTTL   time.Duration
	AdminUsers []string

	// Ledger
	HardwareSetInitialStock model.InitialStock
	SeedFile                string

	// Rate Limit（1ユーザーあたりの毎分リクエスト数）
	RateLimitGeneral  int
	RateLimitMutation int

	// Webhook
	WebhookURLs          []string
	WebhookTimeout       time.Duration
	WebhookMaxConcurrent int
	WebhookMaxAttempts   int

	// Worker
	CleanupSchedule string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigins []string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	var invalid []string

	cfg.StorageDriver = strings.ToLower(getEnvString("STORAGE_DRIVER", StorageDriverPostgres))
	switch cfg.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		invalid = append(invalid, "STORAGE_DRIVER")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StorageDriver == StorageDriverPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	stock, ok := model.ParseInitialStock(getEnvString("HWSET_INITIAL_STOCK", string(model.InitialStockEmpty)))
	if !ok {
		invalid = append(invalid, "HWSET_INITIAL_STOCK")
	}
	cfg.HardwareSetInitialStock = stock

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables have invalid values: %v", invalid)
	}

	// Optional fields with defaults
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "hwledger")
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.AdminUsers = getEnvList("ADMIN_USERS")
	cfg.SeedFile = getEnvString("SEED_FILE", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.WebhookURLs = getEnvList("WEBHOOK_URLS")
	cfg.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	cfg.WebhookMaxConcurrent = getEnvInt("WEBHOOK_MAX_CONCURRENT", 4)
	cfg.WebhookMaxAttempts = getEnvInt("WEBHOOK_MAX_ATTEMPTS", 3)
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "0 * * * *")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// UsesPostgres はPostgreSQLドライバーが選択されているかを返す。
func (c *Config) UsesPostgres() bool {
	return c.StorageDriver == StorageDriverPostgres
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。未設定の場合はnilを返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var list []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
