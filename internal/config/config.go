package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const minSessionSecretLength = 16

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	// スキームでバックエンドを選択する: postgres:// / mongodb:// / memory://
	DatabaseURL      string        `env:"DATABASE_URL,notEmpty"`
	DatabaseName     string        `env:"DB_NAME" envDefault:"teamsudo-project-db"`
	DBConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,notEmpty"`
	GoogleCallbackURL  string `env:"GOOGLE_CALLBACK_URL"`

	// Session
	SessionSecret string `env:"SESSION_SECRET,notEmpty"`
	SessionMaxAge int    `env:"SESSION_MAX_AGE" envDefault:"86400"`

	// Worker（期限切れセッションの削除間隔）
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Rate Limit（req/min/IP、/auth配下に適用）
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT"`
	// LegacyPort はSERVER_PORT未設定時に使う従来のPORT。
	LegacyPort string `env:"PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,notEmpty"`
	AppEnv     string `env:"APP_ENV" envDefault:"development"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}
	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", cfg.SessionMaxAge)
	}

	if cfg.SessionCleanupInterval <= 0 {
		return nil, fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive, got %s", cfg.SessionCleanupInterval)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GoogleCallbackURL == "" {
		cfg.GoogleCallbackURL = cfg.BaseURL + "/auth/provider/callback"
	}

	// SERVER_PORT未設定時は従来のPORTも受け付ける
	if cfg.ServerPort == "" {
		cfg.ServerPort = cfg.LegacyPort
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// IsDevelopment は開発環境で動作しているかを返す。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}
