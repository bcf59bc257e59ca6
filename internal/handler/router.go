package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/metrics"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/middleware"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/repository"
)

// RouterConfig はルーター全体の設定。
type RouterConfig struct {
	CookieSecure bool
	Development  bool
	SessionTTL   time.Duration
	StoreKind    string
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ストア
	Sessions      repository.SessionRepository
	Principals    PrincipalCounter
	Projects      repository.ProjectRepository
	HealthChecker HealthChecker

	// 認証
	AuthService AuthServiceInterface
	Serializer  middleware.PrincipalResolver
	Logout      LogoutRunner
	Cookies     SessionCookies

	// 横断的関心事
	RateLimiter *middleware.RateLimiter
	Metrics     metrics.AuthRecorder
	MetricsPath http.Handler
	Renderer    *Renderer
	Logger      *slog.Logger

	Config RouterConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → Metrics → SessionLoader
//
// SessionLoaderは全ルートに適用し、アクセスゲートはルートごとに適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Renderer.Failure))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Config.CookieSecure))
	r.Use(middleware.NewMetricsMiddleware(recorder))
	r.Use(middleware.NewSessionLoader(deps.Sessions, deps.Serializer, deps.Cookies))

	gate := middleware.NewGate(deps.Sessions, deps.Cookies, recorder, middleware.GateConfig{
		LoginPath:   "/auth/provider",
		LandingPath: "/dashboard",
		SessionTTL:  deps.Config.SessionTTL,
	}, deps.Renderer.Failure)

	authHandler := NewAuthHandler(deps.AuthService, deps.Logout, deps.Cookies, deps.Renderer, AuthHandlerConfig{
		CookieSecure: deps.Config.CookieSecure,
	})
	pageHandler := NewPageHandler(deps.Projects, deps.Renderer)
	statsHandler := NewStatsHandler(deps.Principals, deps.Projects, deps.Config.StoreKind)

	r.NotFound(pageHandler.NotFound)

	// --- 認証不要のルート ---
	r.Get("/", pageHandler.Home)
	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Config.StoreKind))
	if deps.MetricsPath != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsPath)
	}

	// 認証ルート（OAuthフロー）
	// セッション確立前に呼ばれるためクライアントIP単位でレート制限する
	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.With(gate.RequireAnonymous).Get("/provider", authHandler.Login)
		r.Get("/provider/callback", authHandler.Callback)
		r.With(gate.RequireAnonymous).Get("/login", authHandler.LoginPage)
		r.Get("/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	r.Route("/dashboard", func(r chi.Router) {
		r.Use(gate.RequireAuthenticated)
		r.Get("/", pageHandler.Dashboard)
		r.Get("/profile", pageHandler.Profile)
		r.Get("/settings", pageHandler.Settings)
		r.Get("/projects", pageHandler.Projects)
	})

	r.With(gate.RequireRole(model.RoleAdmin)).Get("/admin/stats", statsHandler.AdminStats)

	if deps.Config.Development {
		r.Get("/dev/db-stats", statsHandler.DBStats)
	}

	return r
}
