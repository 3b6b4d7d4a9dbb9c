// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストに認証済みセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionStore はセッションの検証に必要なインターフェース。
// session.Storeの部分集合として定義する。
type SessionStore interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Touch(ctx context.Context, id string) error
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// ユーザーが紐付いた有効なセッションであることを検証するミドルウェアを返す。
// 検証に成功すると有効期限を延長してCookieを再送し、セッションをコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(store SessionStore, cookie *session.Cookie) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			id, ok := cookie.Read(r)
			if !ok {
				WriteUnauthorized(w)
				return
			}

			// 2. セッションの有効性を検証
			sess, err := store.Get(r.Context(), id)
			if err != nil {
				slog.Error("failed to load session", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			if !sess.Authenticated() {
				WriteUnauthorized(w)
				return
			}

			// 3. 無操作タイムアウトを延長
			if err := store.Touch(r.Context(), id); err != nil {
				if errors.Is(err, model.ErrSessionNotFound) {
					WriteUnauthorized(w)
					return
				}
				slog.Error("failed to touch session", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			cookie.Write(w, id)

			// 4. セッションをコンテキストに注入
			setLogUserID(r.Context(), sess.User.SubjectID)
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
		})
	}
}

// SessionFromContext はリクエストコンテキストから認証済みセッションを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok || !sess.Authenticated() {
		return nil, false
	}
	return sess, true
}

// UserFromContext はセッションに紐付いたユーザーのスナップショットを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return nil, false
	}
	return sess.User, true
}

// OwnerIDFromContext はリクエストコンテキストから所有者ID（subject ID）を取得する。
func OwnerIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("owner ID not found in context")
	}
	return user.SubjectID, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
