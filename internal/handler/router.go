package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/socialsync/internal/metrics"
	"github.com/hitoshi/socialsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Sessions          SessionService
	Registry          *Registry
	ActionLimiter     *middleware.ActionLimiter
	Gatherer          prometheus.Gatherer
	CORSAllowedOrigin string
	Logger            *slog.Logger
}

// NewRouter はブリッジの全エンドポイントとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → Session（/api/*のみ）
//
// アクションの送信にはページIDごとのレート制限を掛ける。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Sessions, deps.Registry, logger)
	pageHandler := NewPageHandler(deps.Registry, logger)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.Sessions, deps.Registry))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- ログインが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))

		r.Route("/api/pages", func(r chi.Router) {
			r.Post("/", pageHandler.Mount)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", pageHandler.Get)
				r.Delete("/", pageHandler.Unmount)

				act := r.With()
				if deps.ActionLimiter != nil {
					act = r.With(deps.ActionLimiter.Middleware(pageIDKey))
				}
				act.Post("/actions/{action}", pageHandler.Action)
			})
		})
	})

	return r
}

func pageIDKey(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status   string `json:"status"`
	LoggedIn bool   `json:"logged_in"`
	Pages    int    `json:"pages"`
}

func healthHandler(sessions SessionService, registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, err := sessions.Username()
		writeJSON(w, http.StatusOK, healthResponse{
			Status:   "ok",
			LoggedIn: err == nil,
			Pages:    registry.Count(),
		})
	}
}
