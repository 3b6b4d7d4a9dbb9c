// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/campushub/internal/auth"
	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, sessionID string) (authURL, sid string, err error)
	CompleteLogin(ctx context.Context, sessionID, state, code string) (*model.User, string, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandler はOIDCログインフローとセッション関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookie  *session.Cookie
	baseURL string
}

// NewAuthHandler はAuthHandlerを生成する。
// baseURLはログイン完了後・ログアウト後のリダイレクト先。
func NewAuthHandler(service AuthServiceInterface, cookie *session.Cookie, baseURL string) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookie:  cookie,
		baseURL: baseURL,
	}
}

// meResponse はログインユーザー情報のAPIレスポンス。
type meResponse struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Login はIdPへの認可リクエストを開始する。
// GET /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := h.cookie.Read(r)

	authURL, sid, err := h.service.BeginLogin(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to begin login", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.cookie.Write(w, sid)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback はIdPからのリダイレクトを処理する。
// GET /callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if idpErr := q.Get("error"); idpErr != "" {
		slog.Warn("identity provider returned error", slog.String("error", idpErr))
		middleware.WriteAPIError(w, model.NewLoginStateError())
		return
	}

	sessionID, _ := h.cookie.Read(r)

	user, newSessionID, err := h.service.CompleteLogin(r.Context(), sessionID, q.Get("state"), q.Get("code"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidLoginState) {
			slog.Warn("login callback rejected", slog.String("error", err.Error()))
			middleware.WriteAPIError(w, model.NewLoginStateError())
			return
		}
		slog.Error("login callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	slog.Debug("login completed", slog.String("user_id", user.SubjectID))
	h.cookie.Write(w, newSessionID)
	http.Redirect(w, r, h.baseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄してCookieを削除する。
// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := h.cookie.Read(r); ok {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.cookie.Clear(w)
	http.Redirect(w, r, h.baseURL, http.StatusTemporaryRedirect)
}

// Me は現在のログインユーザー情報を返す。セッションミドルウェアの後に配置する。
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok || user == nil {
		middleware.WriteUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		Sub:     user.SubjectID,
		Email:   user.Email,
		Name:    user.Name,
		Picture: user.Picture,
	})
}
