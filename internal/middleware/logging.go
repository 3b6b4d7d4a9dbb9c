package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rs/xid"
)

// RequestIDHeader はリクエストIDを返すレスポンスヘッダー名。
const RequestIDHeader = "X-Request-Id"

// requestInfoContextKey はリクエスト単位のログ情報を格納するためのキー。
var requestInfoContextKey = contextKey("request_info")

// requestInfo はログ出力時に参照するリクエスト単位の情報。
// 内側のミドルウェアで判明したユーザーIDを外側のロガーへ渡すため、ポインタで共有する。
type requestInfo struct {
	mu        sync.Mutex
	requestID string
	userID    string
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerから元のResponseWriterを参照できるようにする。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、user_id（認証済みの場合）を含む。
// リクエストIDはX-Request-Idヘッダーでクライアントにも返す。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := &requestInfo{requestID: xid.New().String()}
			w.Header().Set(RequestIDHeader, info.requestID)

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			ctx := context.WithValue(r.Context(), requestInfoContextKey, info)
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
				slog.String("request_id", info.requestID),
			}

			info.mu.Lock()
			userID := info.userID
			info.mu.Unlock()
			if userID != "" {
				attrs = append(attrs, slog.String("user_id", userID))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			args := make([]any, len(attrs))
			for i, attr := range attrs {
				args[i] = attr
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}

// RequestIDFromContext はロギングミドルウェアが採番したリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) string {
	info, ok := ctx.Value(requestInfoContextKey).(*requestInfo)
	if !ok {
		return ""
	}
	return info.requestID
}

// setLogUserID はリクエストログに出力するユーザーIDを設定する。
func setLogUserID(ctx context.Context, userID string) {
	info, ok := ctx.Value(requestInfoContextKey).(*requestInfo)
	if !ok {
		return
	}
	info.mu.Lock()
	info.userID = userID
	info.mu.Unlock()
}
