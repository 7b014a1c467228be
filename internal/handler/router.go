package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/vendsite/internal/middleware"
	"github.com/hitoshi/vendsite/internal/model"
)

// 権限チェックで使うリソース名
const (
	resourceMachines = "machines"
	resourceLeads    = "leads"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	HSTS              bool
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	HTTPMetrics       middleware.HTTPMetrics // nil可
	// TrustedProxies は転送ヘッダーを信頼するプロキシ。空の場合は接続元アドレスをそのまま使う。
	TrustedProxies []netip.Prefix

	// 運用エンドポイント
	HealthChecker  HealthChecker // nil可（カタログ専用モード）
	MetricsHandler http.Handler  // nilの場合は/metricsをマウントしない

	// 公開カタログ
	Catalog CatalogServiceInterface

	// ストアが必要な機能。nilの場合は対応するルートをマウントしない。
	Leads         LeadServiceInterface
	AuthService   AuthServiceInterface
	AdminVerifier middleware.AdminVerifier
	AuthConfig    AuthHandlerConfig
	Machines      MachineServiceInterface
}

// AdminEnabled は管理APIをマウントできる依存が揃っているかを返す。
func (d *RouterDeps) AdminEnabled() bool {
	return d.AuthService != nil && d.AdminVerifier != nil && d.Machines != nil && d.Leads != nil
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP（信頼済みプロキシのみ） → Logging → Recovery → Metrics → SecurityHeaders → CORS
//
// 管理API（/api/admin/*）はさらに AdminAuth → CSRF → RequirePermission を通す。
// ログイン系エンドポイントは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "エンドポイントが見つかりません。",
			Category: "system",
			Action:   "URLを確認してください。",
		})
	})

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 公開API ---
	catalogHandler := NewCatalogHandler(deps.Catalog)
	r.Route("/api/machines", func(r chi.Router) {
		r.Get("/", catalogHandler.ListMachines)
		r.Get("/category/{category}", catalogHandler.ListByCategory)
		r.Get("/{slug}", catalogHandler.GetMachine)
	})

	if deps.Leads != nil {
		leadHandler := NewLeadHandler(deps.Leads)
		r.With(rateLimit(deps.RateLimiter, (*middleware.RateLimiter).LeadMiddleware)).Post("/api/leads", leadHandler.Submit)
	}

	if !deps.AdminEnabled() {
		logger.Info("admin API disabled: store is not configured")
		return r
	}

	// --- 管理API ---
	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	machineHandler := NewAdminMachineHandler(deps.Machines)
	leadHandler := NewLeadHandler(deps.Leads)

	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	r.Route("/api/admin", func(r chi.Router) {
		// 認証不要のルート
		r.Route("/auth", func(r chi.Router) {
			r.With(rateLimit(deps.RateLimiter, (*middleware.RateLimiter).LoginMiddleware)).Post("/login", authHandler.Login)
			r.With(rateLimit(deps.RateLimiter, (*middleware.RateLimiter).LoginMiddleware)).Post("/google", authHandler.GoogleLogin)
			r.Get("/google/login", authHandler.GoogleRedirect)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
			r.With(middleware.NewAdminAuthMiddleware(deps.AdminVerifier)).Get("/me", authHandler.Me)
		})

		// 認証が必要なルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAdminAuthMiddleware(deps.AdminVerifier))
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Route("/machines", func(r chi.Router) {
				r.With(middleware.RequirePermission(resourceMachines, model.ActionRead)).Get("/", machineHandler.List)
				r.With(middleware.RequirePermission(resourceMachines, model.ActionWrite)).Post("/", machineHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.With(middleware.RequirePermission(resourceMachines, model.ActionRead)).Get("/", machineHandler.Get)
					r.With(middleware.RequirePermission(resourceMachines, model.ActionWrite)).Put("/", machineHandler.Update)
					r.With(middleware.RequirePermission(resourceMachines, model.ActionDelete)).Delete("/", machineHandler.Delete)
					r.With(middleware.RequirePermission(resourceMachines, model.ActionPublish)).Post("/publish", machineHandler.Publish)
				})
			})

			r.With(middleware.RequirePermission(resourceLeads, model.ActionRead)).Get("/leads", leadHandler.List)
		})
	})

	return r
}

// rateLimit はRateLimiterが設定されていればそのミドルウェアを、なければ素通しを返す。
func rateLimit(rl *middleware.RateLimiter, pick func(*middleware.RateLimiter) func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return pick(rl)
}
