package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/devsync/internal/metrics"
	"github.com/hitoshi/devsync/internal/middleware"
)

// RevocationStore は認証ミドルウェアとログアウトが共有する無効化ストア。
type RevocationStore interface {
	middleware.RevocationChecker
	TokenRevoker
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	Verifier    middleware.TokenVerifier
	Revocations RevocationStore
	AuthConfig  AuthHandlerConfig

	// 運用
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer

	// WebSocket接続ゲートウェイ
	Gateway http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → SecurityHeaders → CORS
//
// /ws はハンドシェイク専用のIP単位レート制限を通過した後、ゲートウェイが認証する。
// /auth/* は認証ミドルウェアとユーザー単位のレート制限の後ろに配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 認証不要のルート ---
	r.Get("/health", HealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	if deps.Gateway != nil {
		r.With(deps.RateLimiter.HandshakeMiddleware()).Method(http.MethodGet, "/ws", deps.Gateway)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	authHandler := NewAuthHandler(deps.Revocations, deps.AuthConfig)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Verifier, deps.Revocations, deps.AuthConfig.CookieSecure))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/auth", func(r chi.Router) {
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	return r
}
