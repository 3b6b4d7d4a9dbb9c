package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/campushub/internal/database"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DatabaseDriver database.Driver

	// OIDC
	OIDCIssuerURL      string
	GoogleClientID     string
	GoogleClientSecret string
	OIDCRedirectURL    string

	// Session
	SessionSecret string
	SessionMaxAge time.Duration

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitWrite   int
	TrustProxy       bool

	// Server
	ServerPort  string
	BaseURL     string
	TLSCertFile string
	TLSKeyFile  string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS（空の場合は無効）
	CORSAllowedOrigin string

	// Logging
	LogLevel slog.Level
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("BASE_URL must be an absolute URL: %q", cfg.BaseURL)
	}

	driver, err := database.ParseDriver(os.Getenv("DATABASE_DRIVER"), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_DRIVER: %w", err)
	}
	cfg.DatabaseDriver = driver

	level, err := parseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	// Optional fields with defaults
	cfg.OIDCIssuerURL = getEnvString("OIDC_ISSUER_URL", "https://accounts.google.com")
	cfg.OIDCRedirectURL = getEnvString("OIDC_REDIRECT_URL", cfg.BaseURL+"/callback")
	cfg.SessionMaxAge = time.Duration(getEnvInt("SESSION_MAX_AGE", 1800)) * time.Second
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 100)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.TLSCertFile = getEnvString("TLS_CERT_FILE", "")
	cfg.TLSKeyFile = getEnvString("TLS_KEY_FILE", "")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive")
	}
	if cfg.RateLimitGeneral <= 0 || cfg.RateLimitWrite <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_GENERAL and RATE_LIMIT_WRITE must be positive")
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	return cfg, nil
}

// TLSEnabled はTLS証明書と鍵が設定されているかを返す。
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func parseLogLevel(v string) (slog.Level, error) {
	if v == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", v, err)
	}
	return level, nil
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
