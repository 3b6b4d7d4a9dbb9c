package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/campushub/internal/model"
)

// CSRFHeaderName はリクエストヘッダーからCSRFトークンを読み取る際のヘッダー名。
const CSRFHeaderName = "X-CSRF-Token"

// CSRFRejectionRecorder はCSRF検証失敗を記録する。
type CSRFRejectionRecorder interface {
	RecordCSRFRejection()
}

// CSRFTokenIssuer はセッションに新しいCSRFトークンを発行する。
type CSRFTokenIssuer interface {
	IssueCSRFToken(ctx context.Context, id string) (string, error)
}

// NewCSRFMiddleware はセッションに保存されたCSRFトークンを検証するミドルウェアを返す。
// セッションミドルウェアの後に配置すること。
// 安全なメソッド（GET, HEAD, OPTIONS）は検証をスキップし、
// 状態変更メソッドはX-CSRF-Tokenヘッダーがセッションの最新トークンと一致する必要がある。
// recorderはnilでもよい。
func NewCSRFMiddleware(recorder CSRFRejectionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			sess, ok := SessionFromContext(r.Context())
			if !ok {
				WriteUnauthorized(w)
				return
			}

			reason := ""
			headerToken := r.Header.Get(CSRFHeaderName)
			switch {
			case headerToken == "":
				reason = "missing header token"
			case sess.CSRFToken == "":
				reason = "no token issued"
			case subtle.ConstantTimeCompare([]byte(headerToken), []byte(sess.CSRFToken)) != 1:
				reason = "token mismatch"
			}

			if reason != "" {
				slog.Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				if recorder != nil {
					recorder.RecordCSRFRejection()
				}
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler はCSRFトークン取得エンドポイントのハンドラーを返す。
// GET /csrf
// 呼び出しのたびに新しいトークンを発行し、以前のトークンは無効になる。
func NewCSRFTokenHandler(issuer CSRFTokenIssuer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		if !ok {
			WriteUnauthorized(w)
			return
		}

		token, err := issuer.IssueCSRFToken(r.Context(), sess.ID)
		if err != nil {
			slog.Error("failed to issue CSRF token", slog.String("error", err.Error()))
			WriteInternalServerError(w)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(map[string]string{
			"token": token,
		})
	})
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
