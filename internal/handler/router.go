package handler

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hwledger/internal/metrics"
	"github.com/hitoshi/hwledger/internal/middleware"
	"github.com/hitoshi/hwledger/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	Authenticator      middleware.Authenticator
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Metrics            metrics.MetricsCollector
	MetricsHandler     http.Handler

	// 管理者ユーザー名。空の場合は全認証済みユーザーを管理者として扱う。
	AdminUsers []string

	// サービス
	AuthService         AuthServiceInterface
	ProjectService      ProjectServiceInterface
	MembershipService   MembershipServiceInterface
	ReservationEngine   ReservationEngineInterface
	HardwareSetService  HardwareSetServiceInterface
	DefaultInitialStock model.InitialStock
	Pinger              Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Auth → RateLimit(General) → RateLimit(Mutation)
//
// /login, /register, /health, /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

	authHandler := NewAuthHandler(deps.AuthService)
	projectHandler := NewProjectHandler(deps.ProjectService, deps.MembershipService, deps.ReservationEngine)
	hwsetHandler := NewHardwareSetHandler(deps.HardwareSetService, deps.DefaultInitialStock)
	healthHandler := NewHealthHandler(deps.Pinger)
	admin := requireAdmin(deps.AdminUsers)

	// --- 認証不要のルート ---
	r.Post("/login", authHandler.Login)
	r.Post("/register", authHandler.Register)
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(deps.RateLimiter.MutationMiddleware())
		}

		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", projectHandler.List)
			r.Post("/", projectHandler.Create)

			// {ref} より先に登録し、"hwsets" という名前のプロジェクトより優先する
			r.Get("/hwsets", hwsetHandler.Catalog)

			r.Route("/{ref}", func(r chi.Router) {
				r.Get("/", projectHandler.Get)
				r.Post("/join", projectHandler.Join)
				r.Post("/leave", projectHandler.Leave)
				r.With(admin).Post("/hwsets", projectHandler.AddHardwareSets)
				r.Post("/hwsets/{hwset}/checkin", projectHandler.CheckIn)
				r.Post("/hwsets/{hwset}/checkout", projectHandler.CheckOut)
			})
		})

		r.Route("/hwsets", func(r chi.Router) {
			r.Get("/", hwsetHandler.List)
			r.With(admin).Post("/", hwsetHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", hwsetHandler.Get)
				r.With(admin).Put("/capacity", hwsetHandler.UpdateCapacity)
			})
		})
	})

	return r
}

// requireAdmin は管理操作を adminUsers に含まれるユーザーに限定するミドルウェアを返す。
// adminUsers が空の場合は全認証済みユーザーを通す。
func requireAdmin(adminUsers []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalFrom(w, r)
			if !ok {
				return
			}
			if len(adminUsers) > 0 && !slices.Contains(adminUsers, principal.Username) {
				apiErr := model.NewAdminRequiredError()
				middleware.WriteErrorResponse(w, middleware.StatusForKind(apiErr.Kind), apiErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
