// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果のラベル値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultMissing = "missing"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証マネージャーから利用する。
type MetricsCollector interface {
	RecordOperation(op, result string)
	RecordAuthEvent(kind string)
	RecordProfileFetch(result string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	operations   *prometheus.CounterVec
	authEvents   *prometheus.CounterVec
	profileFetch *prometheus.CounterVec
	fetchLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acm_auth_operations_total",
			Help: "認証操作の実行数（操作・結果別）",
		}, []string{"op", "result"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acm_auth_events_total",
			Help: "受信したセッション変更イベント数（種類別）",
		}, []string{"kind"}),
		profileFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acm_profile_fetch_total",
			Help: "プロフィール取得の実行数（結果別）",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "acm_profile_fetch_latency_seconds",
			Help:    "プロフィール取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.operations,
		c.authEvents,
		c.profileFetch,
		c.fetchLatency,
	)

	return c
}

// RecordOperation は認証操作の結果を記録する。
func (c *Collector) RecordOperation(op, result string) {
	c.operations.WithLabelValues(op, result).Inc()
}

// RecordAuthEvent はセッション変更イベントの受信を記録する。
func (c *Collector) RecordAuthEvent(kind string) {
	c.authEvents.WithLabelValues(kind).Inc()
}

// RecordProfileFetch はプロフィール取得の結果とレイテンシを記録する。
func (c *Collector) RecordProfileFetch(result string, duration time.Duration) {
	c.profileFetch.WithLabelValues(result).Inc()
	c.fetchLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
