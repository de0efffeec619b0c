package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/acm/internal/metrics"
	"github.com/hitoshi/acm/internal/middleware"
	"github.com/hitoshi/acm/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Manager           AuthManager
	Logger            *slog.Logger
	CORSAllowedOrigin string
	// Gatherer がnilの場合は/metricsを公開しない
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]HealthCheck
}

// NewRouter は制御APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → CORS
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError(r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, model.NewMethodNotAllowedError(r.Method, r.URL.Path))
	})

	r.Get("/health", NewHealthHandler(deps.HealthChecks).Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	h := NewAuthHandler(deps.Manager)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/state", h.State)
		r.Post("/session/check", h.CheckSession)
		r.Post("/signup", h.SignUp)
		r.Post("/signin", h.SignIn)
		r.Post("/signout", h.SignOut)
		r.Post("/password/reset", h.ResetPassword)
		r.Post("/profile/refresh", h.RefreshProfile)
	})

	return r
}
