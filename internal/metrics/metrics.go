// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/secureops/internal/reconcile"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期処理やHTTP層から利用する。
type MetricsCollector interface {
	RecordSyncSuccess(summary reconcile.Summary)
	RecordSyncFailure(source string)
	RecordUpstreamLatency(source string, duration time.Duration)
	RecordPhotoFallback()
	RecordSourceFallback(source string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess     prometheus.Counter
	syncFail        *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	reconciled      *prometheus.GaugeVec
	photoFallback   prometheus.Counter
	sourceFallback  *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secureops_sync_success_total",
			Help: "同期成功の合計数",
		}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secureops_sync_fail_total",
			Help: "取得元別の同期失敗の合計数",
		}, []string{"source"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "secureops_upstream_latency_seconds",
			Help:    "取得元別の上流取得レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		reconciled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "secureops_reconciled_devices",
			Help: "直近の照合結果の解決方法別デバイス数",
		}, []string{"provenance"}),
		photoFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secureops_photo_fallback_total",
			Help: "プロフィール写真を既定画像で代替した合計数",
		}),
		sourceFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secureops_source_fallback_total",
			Help: "上流障害により静的データで代替した合計数",
		}, []string{"source"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secureops_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.upstreamLatency,
		c.reconciled,
		c.photoFallback,
		c.sourceFallback,
		c.httpStatus,
	)

	return c
}

// RecordSyncSuccess は同期成功を記録し、解決方法別のデバイス数を更新する。
func (c *Collector) RecordSyncSuccess(summary reconcile.Summary) {
	c.syncSuccess.Inc()
	c.reconciled.WithLabelValues("direct").Set(float64(summary.Direct))
	c.reconciled.WithLabelValues("tag").Set(float64(summary.Tag))
	c.reconciled.WithLabelValues("unresolved").Set(float64(summary.Unresolved))
}

// RecordSyncFailure は同期失敗を記録する。
func (c *Collector) RecordSyncFailure(source string) {
	c.syncFail.WithLabelValues(source).Inc()
}

// RecordUpstreamLatency は上流取得のレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(source string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordPhotoFallback は写真の代替を記録する。
func (c *Collector) RecordPhotoFallback() {
	c.photoFallback.Inc()
}

// RecordSourceFallback は静的データへの代替を記録する。
func (c *Collector) RecordSourceFallback(source string) {
	c.sourceFallback.WithLabelValues(source).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
