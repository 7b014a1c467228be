// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証、カタログ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(method, result string)
	RecordDegradedSession()
	RecordBackgroundWriteFailure(kind string)
	RecordCatalogFallback(operation, reason string)
	RecordLeadReceived(source string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts     *prometheus.CounterVec
	degradedSessions prometheus.Counter
	backgroundFail   *prometheus.CounterVec
	catalogFallback  *prometheus.CounterVec
	leadsReceived    *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vendsite_auth_attempts_total",
			Help: "認証試行の合計数（method, result別）",
		}, []string{"method", "result"}),
		degradedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vendsite_auth_degraded_sessions_total",
			Help: "ストア障害時にトークンの内容だけで受け入れたセッション数",
		}),
		backgroundFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vendsite_background_write_failures_total",
			Help: "非同期書き込み（最終ログイン、操作ログ）の失敗数",
		}, []string{"kind"}),
		catalogFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vendsite_catalog_fallback_total",
			Help: "カタログ解決で同梱スナップショットを返した回数",
		}, []string{"operation", "reason"}),
		leadsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vendsite_leads_received_total",
			Help: "受け付けた問い合わせの合計数",
		}, []string{"source"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vendsite_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vendsite_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.degradedSessions,
		c.backgroundFail,
		c.catalogFallback,
		c.leadsReceived,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordAuthAttempt は認証試行を記録する。
// methodは password / google / refresh / verify、resultは success / failure / error。
func (c *Collector) RecordAuthAttempt(method, result string) {
	c.authAttempts.WithLabelValues(method, result).Inc()
}

// RecordDegradedSession は縮退モードでのセッション受け入れを記録する。
func (c *Collector) RecordDegradedSession() {
	c.degradedSessions.Inc()
}

// RecordBackgroundWriteFailure は非同期書き込みの失敗を記録する。
func (c *Collector) RecordBackgroundWriteFailure(kind string) {
	c.backgroundFail.WithLabelValues(kind).Inc()
}

// RecordCatalogFallback はスナップショットへのフォールバックを記録する。
func (c *Collector) RecordCatalogFallback(operation, reason string) {
	c.catalogFallback.WithLabelValues(operation, reason).Inc()
}

// RecordLeadReceived は問い合わせの受け付けを記録する。
func (c *Collector) RecordLeadReceived(source string) {
	c.leadsReceived.WithLabelValues(source).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
