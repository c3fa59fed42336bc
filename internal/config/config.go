package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultPublicPaths は認証ゲートウェイを通さない公開エンドポイント。
var DefaultPublicPaths = []string{
	"/api/health",
	"/api/users/register",
	"/api/users/login",
	"/api/users/oauth-login",
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Token
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"1h"`

	// OAuth（空の場合はOAuthログインを無効化する）
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`

	// Password
	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	// Rate Limit（req/min）
	RateLimitAuth    int    `env:"RATE_LIMIT_AUTH" envDefault:"5"`
	RateLimitGeneral int    `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RedisURL         string `env:"REDIS_URL"`

	// Pagination
	PaginationMaxLimit int `env:"PAGINATION_MAX_LIMIT" envDefault:"100"`

	// Auth gateway
	PublicPaths []string `env:"AUTH_PUBLIC_PATHS" envSeparator:","`

	// Proxy（X-Forwarded-Forを信頼する接続元。CIDRまたは単一IPのカンマ区切り）
	TrustedProxies       []string       `env:"TRUSTED_PROXIES" envSeparator:","`
	TrustedProxyPrefixes []netip.Prefix // Loadが TrustedProxies から生成する

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Required fields
	var missing []string
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.JWTTTL <= 0 {
		return nil, fmt.Errorf("JWT_TTL must be positive, got %s", cfg.JWTTTL)
	}
	if cfg.RateLimitAuth <= 0 || cfg.RateLimitGeneral <= 0 {
		return nil, fmt.Errorf("rate limits must be positive")
	}
	if cfg.PaginationMaxLimit <= 0 {
		return nil, fmt.Errorf("PAGINATION_MAX_LIMIT must be positive, got %d", cfg.PaginationMaxLimit)
	}

	prefixes, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxyPrefixes = prefixes

	if len(cfg.PublicPaths) == 0 {
		cfg.PublicPaths = append([]string(nil), DefaultPublicPaths...)
	}

	return cfg, nil
}

// OAuthEnabled はOAuthログインが設定されているかどうかを返す。
func (c *Config) OAuthEnabled() bool {
	return c.FirebaseProjectID != ""
}

// parseTrustedProxies はCIDRまたは単一IPの一覧をアドレス範囲に変換する。
func parseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if p, err := netip.ParsePrefix(v); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES contains an invalid address: %q", v)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
