package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// DefaultConfigFile は同梱設定ファイルの既定パス。
const DefaultConfigFile = "acm.env"

// プロフィールの保存先
const (
	ProfileStoreREST     = "rest"
	ProfileStorePostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Supabase
	SupabaseURL     string `env:"SUPABASE_URL,required,notEmpty"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY,required,notEmpty"`

	// Profile store
	ProfileStore string `env:"PROFILE_STORE" envDefault:"rest"`
	DatabaseURL  string `env:"DATABASE_URL"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"4"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`

	// Email hint
	RedisURL     string `env:"REDIS_URL"`
	EmailHintKey string `env:"EMAIL_HINT_KEY" envDefault:"acm:email_hint"`

	// Auth client
	AuthRateLimit        float64       `env:"AUTH_RATE_LIMIT" envDefault:"5"`
	AuthRateBurst        int           `env:"AUTH_RATE_BURST" envDefault:"10"`
	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL" envDefault:"30s"`
	TokenRefreshMargin   time.Duration `env:"TOKEN_REFRESH_MARGIN" envDefault:"90s"`
	HTTPTimeout          time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`

	// Server
	ServerPort        string `env:"SERVER_PORT" envDefault:"8787"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// bundledFile は読み込めた同梱設定ファイルのパス。見つからなかった場合は空。
	bundledFile string
}

// UsingBundledConfig は同梱設定ファイルから値を読み込んだかどうかを返す。
func (c *Config) UsingBundledConfig() bool {
	return c.bundledFile != ""
}

// BundledConfigFile は読み込んだ同梱設定ファイルのパスを返す。
func (c *Config) BundledConfigFile() string {
	return c.bundledFile
}

// Load は同梱設定ファイルと環境変数からConfigを読み込む。
// 同梱設定ファイル（ACM_CONFIG_FILE、既定はacm.env）の値を優先し、
// ファイルにないキーは環境変数から補う。
// 必須値が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	path := os.Getenv("ACM_CONFIG_FILE")
	if path == "" {
		path = DefaultConfigFile
	}

	vars := environ()
	bundled := ""
	fileVars, err := godotenv.Read(path)
	switch {
	case err == nil:
		bundled = path
		for k, v := range fileVars {
			if v != "" {
				vars[k] = v
			}
		}
	case errors.Is(err, fs.ErrNotExist):
		// 同梱ファイルがなければ環境変数のみを使う
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.bundledFile = bundled

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ProfileStore {
	case ProfileStoreREST:
	case ProfileStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when PROFILE_STORE=%s", ProfileStorePostgres)
		}
	default:
		return fmt.Errorf("unsupported PROFILE_STORE %q: want %s or %s",
			c.ProfileStore, ProfileStoreREST, ProfileStorePostgres)
	}

	if c.AuthRateLimit <= 0 {
		return fmt.Errorf("AUTH_RATE_LIMIT must be positive, got %v", c.AuthRateLimit)
	}
	if c.AuthRateBurst <= 0 {
		return fmt.Errorf("AUTH_RATE_BURST must be positive, got %d", c.AuthRateBurst)
	}
	if c.DBMaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.DBMaxOpenConns)
	}
	if c.TokenRefreshInterval <= 0 {
		return fmt.Errorf("TOKEN_REFRESH_INTERVAL must be positive, got %v", c.TokenRefreshInterval)
	}
	return nil
}

// environ は現在の環境変数をmapで返す。
func environ() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			vars[k] = v
		}
	}
	return vars
}
