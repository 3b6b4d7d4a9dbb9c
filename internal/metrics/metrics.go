// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// middleware、note、authの各レコーダーインターフェースを満たす。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	noteOperations *prometheus.CounterVec
	logins         *prometheus.CounterVec
	csrfRejections prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_http_requests_total",
			Help: "ルート・メソッド・ステータス別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campushub_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		noteOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_note_operations_total",
			Help: "操作種別・結果別のメモ操作数",
		}, []string{"op", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campushub_logins_total",
			Help: "結果別のログイン完了数",
		}, []string{"result"}),
		csrfRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campushub_csrf_rejections_total",
			Help: "CSRFトークン検証で拒否したリクエスト数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.noteOperations,
		c.logins,
		c.csrfRejections,
	)

	return c
}

// ObserveHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
func (c *Collector) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordNoteOperation はメモ操作の結果を記録する。
func (c *Collector) RecordNoteOperation(op, result string) {
	c.noteOperations.WithLabelValues(op, result).Inc()
}

// RecordLogin はログイン完了処理の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordCSRFRejection はCSRF拒否を記録する。
func (c *Collector) RecordCSRFRejection() {
	c.csrfRejections.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
