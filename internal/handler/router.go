package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/secureops/internal/middleware"
	"github.com/hitoshi/secureops/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           middleware.StatusRecorder
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	Cookies     SessionCookieStore

	// スナップショットと同期
	Snapshots SnapshotReader
	Refresher Refresher
	SyncRuns  SyncRunLister
	Sanitizer *security.TextSanitizer

	// 死活監視
	DB             HealthChecker
	DataSource     string
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF → Session → RateLimit(General) → RequireAdmin
//
// /health、/metrics、/api/csrf-token、/auth/login、/auth/logoutはセッション不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	p := newPresenter(deps.Sanitizer)
	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies, deps.Snapshots, p)
	dashboardHandler := NewDashboardHandler(deps.Snapshots, p)
	reportHandler := NewReportHandler(deps.Snapshots)
	syncHandler := NewSyncHandler(deps.Refresher, deps.SyncRuns)
	healthHandler := NewHealthHandler(deps.DB, deps.Snapshots, deps.DataSource)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	r.Post("/auth/login", authHandler.Login)
	r.Post("/auth/logout", authHandler.Logout)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Cookies, deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/auth/me", authHandler.Me)
		r.Get("/api/dashboard", dashboardHandler.Dashboard)
		r.Get("/api/users", dashboardHandler.Users)
		r.Get("/api/devices", dashboardHandler.Devices)

		// 管理者のみ
		r.With(middleware.NewRequireAdminMiddleware("export reports")).
			Get("/api/export.csv", reportHandler.ExportCSV)
		r.With(middleware.NewRequireAdminMiddleware("refresh data"), deps.RateLimiter.RefreshMiddleware()).
			Post("/api/refresh", syncHandler.Refresh)
		r.With(middleware.NewRequireAdminMiddleware("view sync history")).
			Get("/api/sync-runs", syncHandler.ListSyncRuns)
	})

	return r
}
