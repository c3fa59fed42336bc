package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/config"
	"github.com/hitoshi/taskman/internal/database"
	"github.com/hitoshi/taskman/internal/handler"
	"github.com/hitoshi/taskman/internal/logger"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
	"github.com/hitoshi/taskman/internal/task"
	"github.com/hitoshi/taskman/internal/user"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	dbPingTimeout          = 5 * time.Second
	oauthHTTPTimeout       = 10 * time.Second
	shutdownTimeout        = 30 * time.Second
	healthcheckHTTPTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/api/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("oauth_enabled", cfg.OAuthEnabled()),
		slog.Bool("redis_rate_limit", cfg.RedisURL != ""),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. レート制限
	limiter, closeLimiter, err := newRateLimiter(cfg, collector)
	if err != nil {
		return err
	}
	defer closeLimiter()

	// 4. ルーターの構築
	router := buildRouter(cfg, db, limiter, collector, metrics.Handler(registry))

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouter はリポジトリ、サービス、ハンドラーをワイヤリングしてルーターを返す。
func buildRouter(
	cfg *config.Config,
	db *sql.DB,
	limiter middleware.RateLimits,
	collector *metrics.Collector,
	metricsHandler http.Handler,
) http.Handler {
	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)

	// セキュリティ
	sanitizer := security.NewTextSanitizer()
	urlGuard := security.NewURLGuard()

	// ドメインサービス
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	authService := auth.NewService(
		userRepo,
		tokens,
		auth.NewBcryptHasher(cfg.BcryptCost),
		newOAuthVerifier(cfg),
		sanitizer,
	)
	userService := user.NewService(userRepo, sanitizer, urlGuard)
	taskService := task.NewService(taskRepo, sanitizer, cfg.PaginationMaxLimit)

	return handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:     tokens,
		IdentityFinder:    userRepo,
		PublicPaths:       cfg.PublicPaths,
		TrustedProxies:    cfg.TrustedProxyPrefixes,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metricsHandler,
		HealthChecker:     db,
		AuthService:       authService,
		UserService:       userService,
		TaskService:       taskService,
	})
}

// newOAuthVerifier はOAuthが有効な場合にFirebase IDトークン検証器を返す。
// 無効な場合はnilインターフェースを返し、OAuthログインは認証エラーになる。
func newOAuthVerifier(cfg *config.Config) auth.OAuthVerifier {
	if !cfg.OAuthEnabled() {
		return nil
	}
	return auth.NewFirebaseVerifier(auth.FirebaseConfig{
		ProjectID:  cfg.FirebaseProjectID,
		HTTPClient: security.NewURLGuard().NewSafeClient(oauthHTTPTimeout),
	})
}

// newRateLimiter はREDIS_URLの有無に応じてレートリミッターを選択する。
// 返す関数はリミッターが保持する資源を解放する。
func newRateLimiter(cfg *config.Config, collector *metrics.Collector) (middleware.RateLimits, func(), error) {
	if cfg.RedisURL == "" {
		rl := middleware.NewRateLimiter(
			middleware.NewRateLimiterConfig(cfg.RateLimitAuth, cfg.RateLimitGeneral),
			collector,
		)
		return rl, rl.Stop, nil
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open redis: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established")

	rl := middleware.NewRedisRateLimiter(rdb, middleware.RedisRateLimiterConfig{
		AuthLimit:    cfg.RateLimitAuth,
		GeneralLimit: cfg.RateLimitGeneral,
	}, collector)
	return rl, func() { _ = rdb.Close() }, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// ヘルスチェックエンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(target string) error {
	client := &http.Client{Timeout: healthcheckHTTPTimeout}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
