// Package config は環境変数と任意の .env ファイルから設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinJWTSecretLength はJWT署名鍵の最小バイト数。
const MinJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	// 空の場合はカタログ専用モードで起動し、管理APIはマウントしない。
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Google OAuth（3つすべて設定、またはすべて未設定）
	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`

	// JWT
	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTAccessTTL  time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	BcryptCost    int           `mapstructure:"BCRYPT_COST"`

	// AuthDegradedMode はセッション検証時にストアへ到達できない場合の振る舞い。
	// claims_fallback（トークンのクレームで受け入れる）または fail_closed。
	AuthDegradedMode string `mapstructure:"AUTH_DEGRADED_MODE"`

	// Rate Limit（1分あたりのリクエスト数、IP単位）
	RateLimitLeads int `mapstructure:"RATE_LIMIT_LEADS"`
	RateLimitLogin int `mapstructure:"RATE_LIMIT_LOGIN"`

	// Catalog
	CatalogFallbackOnEmpty bool `mapstructure:"CATALOG_FALLBACK_ON_EMPTY"`

	// Logging
	LogLevel         string `mapstructure:"LOG_LEVEL"`
	LogRetentionDays int    `mapstructure:"LOG_RETENTION_DAYS"`

	// Server
	ServerPort string `mapstructure:"SERVER_PORT"`
	BaseURL    string `mapstructure:"BASE_URL"`

	// Cookie
	CookieSecure bool   `mapstructure:"-"`
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `mapstructure:"CORS_ALLOWED_ORIGIN"`

	// TrustedProxies は転送ヘッダーを信頼するプロキシのCIDRまたはIP（カンマ区切り）。
	// 空の場合はX-Forwarded-For等を無視し、接続元アドレスをクライアントIPとする。
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
}

// Load は .env（存在する場合）と環境変数からConfigを読み込む。
// 環境変数は .env より優先される。必須項目が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // .env が無い環境（CI、コンテナ）では無視する

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "vendsite")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("AUTH_DEGRADED_MODE", "claims_fallback")
	v.SetDefault("RATE_LIMIT_LEADS", 5)
	v.SetDefault("RATE_LIMIT_LOGIN", 10)
	v.SetDefault("CATALOG_FALLBACK_ON_EMPTY", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_RETENTION_DAYS", 90)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("BASE_URL", "")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	v.SetDefault("TRUSTED_PROXIES", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var missing []string
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}

	set := 0
	for _, s := range []string{c.GoogleClientID, c.GoogleClientSecret, c.GoogleRedirectURL} {
		if s != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("config: GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL must be set together")
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return errors.New("config: JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}
	if c.JWTAccessTTL > c.JWTRefreshTTL {
		return errors.New("config: JWT_ACCESS_TTL must not exceed JWT_REFRESH_TTL")
	}

	switch strings.ToLower(c.AuthDegradedMode) {
	case "claims_fallback", "fail_closed":
	default:
		return fmt.Errorf("config: AUTH_DEGRADED_MODE must be claims_fallback or fail_closed, got %q", c.AuthDegradedMode)
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.RateLimitLeads <= 0 || c.RateLimitLogin <= 0 {
		return errors.New("config: RATE_LIMIT_LEADS and RATE_LIMIT_LOGIN must be positive")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyPrefixes はTRUSTED_PROXIESを解析する。単一IPは/32（IPv6は/128）として扱う。
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, raw := range strings.Split(c.TrustedProxies, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("config: invalid TRUSTED_PROXIES entry %q: %w", raw, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid TRUSTED_PROXIES entry %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// GoogleEnabled はGoogleログインが設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// DatabaseEnabled はストアが設定されているかを返す。
func (c *Config) DatabaseEnabled() bool {
	return c.DatabaseURL != ""
}
