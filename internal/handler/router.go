package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証ゲートウェイ
	TokenVerifier  middleware.TokenVerifier
	IdentityFinder middleware.IdentityFinder
	PublicPaths    []string

	// 転送ヘッダーを信頼するプロキシのアドレス範囲（空の場合は接続元アドレスのみを使う）
	TrustedProxies []netip.Prefix

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       middleware.RateLimits
	Logger            *slog.Logger

	// メトリクス（nilの場合は収集・公開しない）
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// ヘルスチェック
	HealthChecker HealthChecker

	// サービス
	AuthService AuthServiceInterface
	UserService UserServiceInterface
	TaskService TaskServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → TrustedProxy → Logging → Recovery → Metrics → SecurityHeaders → CORS → StripSlashes
//	/api 配下: AuthGateway → RateLimit(Auth: 公開エンドポイント / General: 認証済みエンドポイント)
//
// 公開パス（PublicPaths）は認証ゲートウェイを素通りする。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewTrustedProxyMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(chimw.StripSlashes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, &model.APIError{Kind: model.KindNotFound, Message: "Not found"})
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	var authRecorder AuthEventRecorder
	gatewayCfg := middleware.AuthConfig{PublicPaths: deps.PublicPaths}
	if deps.Metrics != nil {
		authRecorder = deps.Metrics
		gatewayCfg.Recorder = deps.Metrics
	}

	authHandler := NewAuthHandler(deps.AuthService, authRecorder)
	userHandler := NewUserHandler(deps.UserService)
	taskHandler := NewTaskHandler(deps.TaskService)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, deps.IdentityFinder, gatewayCfg))

		// --- 認証不要のルート ---
		r.Get("/health", healthHandler.Check)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())

			r.Post("/users/register", authHandler.Register)
			r.Post("/users/login", authHandler.Login)
			r.Post("/users/oauth-login", authHandler.OAuthLogin)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: AuthGateway → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/users/me", userHandler.Me)
			r.Put("/users/profile", userHandler.UpdateProfile)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", taskHandler.ListTasks)
				r.Post("/create", taskHandler.CreateTask)
				r.Get("/stats", taskHandler.Stats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", taskHandler.GetTask)
					r.Put("/update", taskHandler.UpdateTask)
					r.Delete("/delete", taskHandler.DeleteTask)
				})
			})
		})
	})

	return r
}
