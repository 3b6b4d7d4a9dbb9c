package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/session"
)

// MaxRequestBodyBytes はリクエストボディの上限（64KiB）。
const MaxRequestBodyBytes = 64 << 10

// SessionStore はルーターが必要とするセッション操作。*session.Storeが実装する。
type SessionStore interface {
	middleware.SessionStore
	middleware.CSRFTokenIssuer
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Sessions          SessionStore
	Cookie            *session.Cookie
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string // 空の場合はCORSを無効にする
	HSTS              bool

	// メトリクス（nilの場合は計測・公開しない）
	HTTPRecorder   middleware.HTTPRecorder
	CSRFRecorder   middleware.CSRFRejectionRecorder
	MetricsHandler http.Handler

	// ヘルスチェック
	HealthChecker HealthChecker

	// 認証
	AuthService AuthServiceInterface
	BaseURL     string

	// メモ
	NoteService NoteServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Metrics → RateLimit(General) → RequestSize
//
// /api/notes には Session → CSRF → RateLimit(Write) を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(deps.RateLimiter.GeneralMiddleware())
	r.Use(chimw.RequestSize(MaxRequestBodyBytes))

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookie, deps.BaseURL)
	noteHandler := NewNoteHandler(deps.NoteService)
	sessionMiddleware := middleware.NewSessionMiddleware(deps.Sessions, deps.Cookie)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Get("/login", authHandler.Login)
	r.Get("/callback", authHandler.Callback)
	r.Get("/logout", authHandler.Logout)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware)

		r.Get("/me", authHandler.Me)
		r.Method(http.MethodGet, "/csrf", middleware.NewCSRFTokenHandler(deps.Sessions))

		// メモ管理
		// ミドルウェアスタック: Session → CSRF → RateLimit(Write)
		r.Route("/api/notes", func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFRecorder))
			r.Use(deps.RateLimiter.WriteMiddleware())

			r.Get("/", noteHandler.ListNotes)
			r.Post("/", noteHandler.CreateNote)
			r.Put("/{id}", noteHandler.UpdateNote)
			r.Delete("/{id}", noteHandler.DeleteNote)
		})
	})

	return r
}
