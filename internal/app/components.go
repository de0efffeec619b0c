package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/acm/internal/auth"
	"github.com/hitoshi/acm/internal/config"
	"github.com/hitoshi/acm/internal/database"
	"github.com/hitoshi/acm/internal/handler"
	"github.com/hitoshi/acm/internal/metrics"
	"github.com/hitoshi/acm/internal/repository"
	"github.com/hitoshi/acm/internal/security"
	"github.com/hitoshi/acm/internal/supabase"
)

// compile-time interface checks
var (
	_ auth.Provider       = (*supabase.Client)(nil)
	_ repository.RowStore = (*supabase.Client)(nil)
	_ auth.NameSanitizer  = (*security.NameSanitizer)(nil)
	_ handler.AuthManager = (*auth.Manager)(nil)
)

// components はserveで使う依存関係一式。
type components struct {
	client       *supabase.Client
	manager      *auth.Manager
	registry     *prometheus.Registry
	healthChecks map[string]handler.HealthCheck

	db  *sql.DB
	rdb *redis.Client
}

// buildComponents は設定に従って依存関係をワイヤリングする。
// 途中で失敗した場合は生成済みのものを閉じてからエラーを返す。
func buildComponents(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *components, err error) {
	c := &components{healthChecks: make(map[string]handler.HealthCheck)}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	// 1. Supabaseクライアント
	c.client, err = supabase.NewClient(supabase.Config{
		URL:           cfg.SupabaseURL,
		AnonKey:       cfg.SupabaseAnonKey,
		Timeout:       cfg.HTTPTimeout,
		RateLimit:     cfg.AuthRateLimit,
		RateBurst:     cfg.AuthRateBurst,
		RefreshMargin: cfg.TokenRefreshMargin,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	// 2. プロフィールの保存先
	var profileRepo repository.ProfileRepository
	switch cfg.ProfileStore {
	case config.ProfileStorePostgres:
		c.db, err = database.Open(cfg.DatabaseURL, database.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		if err = c.db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("database connection established")
		profileRepo = repository.NewPostgresProfileRepo(c.db)
		c.healthChecks["postgres"] = c.db.PingContext
	default:
		profileRepo = repository.NewRESTProfileRepo(c.client)
	}

	// 3. メールアドレスヒントの保存先（任意）
	var hintRepo repository.EmailHintRepository
	if cfg.RedisURL != "" {
		c.rdb, err = database.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Info("redis connection established")
		hintRepo = repository.NewRedisHintRepo(c.rdb, cfg.EmailHintKey)
		rdb := c.rdb
		c.healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// 4. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(c.registry)

	// 5. 認証マネージャー
	c.manager = auth.NewManager(c.client, profileRepo, hintRepo, auth.ManagerConfig{
		Logger:    log,
		Metrics:   collector,
		Sanitizer: security.NewNameSanitizer(),
	})

	return c, nil
}

// close はリスナーを止めてから接続を閉じる。
func (c *components) close() {
	if c.manager != nil {
		c.manager.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			slog.Warn("failed to close redis", slog.String("error", err.Error()))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			slog.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}
