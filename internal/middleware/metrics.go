package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPRecorder はHTTPリクエストの計測結果を記録する。
type HTTPRecorder interface {
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
}

// NewMetricsMiddleware はリクエスト数とレイテンシを記録するミドルウェアを返す。
// ラベルにはURLそのものではなくchiのルートパターンを使い、系列数の増加を防ぐ。
func NewMetricsMiddleware(recorder HTTPRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			recorder.ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
		})
	}
}
