package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/acm/internal/config"
	"github.com/hitoshi/acm/internal/database"
	"github.com/hitoshi/acm/internal/handler"
	"github.com/hitoshi/acm/internal/logger"
)

// defaultServerPort はSERVER_PORT未設定時のポート。healthcheckでのみ参照する。
const defaultServerPort = "8787"

// errListenerStopped はシャットダウン前に認証状態リスナーが終了したことを表す。
var errListenerStopped = errors.New("auth state listener stopped unexpectedly")

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 設定を読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 同梱設定ファイルと環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再設定する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("error", err.Error()))
	}
	logger.SetupDefault(w, level)

	if cfg.UsingBundledConfig() {
		slog.Info("using bundled config file", slog.String("path", cfg.BundledConfigFile()))
	} else {
		slog.Warn("bundled config file not found, using environment variables only")
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultServerPort
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("supabase_host", hostOf(cfg.SupabaseURL)),
		slog.String("profile_store", cfg.ProfileStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
		if err != nil {
			return fmt.Errorf("failed to listen on port %s: %w", cfg.ServerPort, err)
		}
		return serve(ctx, cfg, ln, slog.Default())
	}
}

// serve は制御API・トークン自動更新・状態ログを1つのerrgroupで実行する。
// ctxがキャンセルされるか、いずれかが失敗するとすべてを停止する。
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, log *slog.Logger) error {
	// 1. 依存関係の構築
	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		ln.Close()
		return err
	}
	defer c.close()

	// 2. セッション変更の受信を開始し、起動時のセッションを確認する
	c.manager.ListenForAuthStateChanges()
	c.manager.CheckAuthSession(ctx)

	// 3. HTTPサーバーの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Manager:           c.manager,
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Gatherer:          c.registry,
		HealthChecks:      c.healthChecks,
	})
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("control API starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down control API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		c.client.StartAutoRefresh(gctx, cfg.TokenRefreshInterval)
		return nil
	})

	g.Go(func() error {
		logStateChanges(gctx, c.manager, log)
		return nil
	})

	g.Go(func() error {
		return watchListener(gctx, c.manager.ListenerDone(), log)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("application stopped gracefully")
	return nil
}

// watchListener はリスナーの終了を監視する。シャットダウン前に終了した場合は
// errListenerStoppedを返してerrgroup全体を停止させる。
func watchListener(ctx context.Context, done <-chan struct{}, log *slog.Logger) error {
	select {
	case <-ctx.Done():
		return nil
	case <-done:
		log.Error("auth state listener ended before shutdown")
		return errListenerStopped
	}
}

// runMigrate はprofilesテーブルのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	result, err := database.RunMigrations(ctx, cfg.DatabaseURL, slog.Default())
	if err != nil {
		if errors.Is(err, database.ErrDirtyMigration) {
			slog.Error("database needs manual repair before migrating",
				slog.Uint64("version", uint64(result.From)),
			)
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(result.To)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}

// hostOf はURLのホスト部分を返す。解析できない場合は空文字を返す。
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
