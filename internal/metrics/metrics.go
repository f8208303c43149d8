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
// APIクライアント、ポーリングスケジューラ、ページコントローラから利用する。
type MetricsCollector interface {
	RecordAPICall(endpoint string, statusCode int, duration time.Duration)
	RecordAPIError(endpoint string)
	RecordPollTick(purpose string)
	RecordPollFailure(purpose string)
	SetActivePolls(count int)
	RecordOptimisticRollback(collection string)
	RecordImageDecodeFailure()
	RecordSessionInvalidated()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	apiCalls           *prometheus.CounterVec
	apiErrors          *prometheus.CounterVec
	apiLatency         *prometheus.HistogramVec
	pollTicks          *prometheus.CounterVec
	pollFailures       *prometheus.CounterVec
	activePolls        prometheus.Gauge
	optimisticRollback *prometheus.CounterVec
	imageDecodeFail    prometheus.Counter
	sessionInvalidated prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialsync_api_calls_total",
			Help: "リモートAPI呼び出しの合計数（エンドポイント・ステータス別）",
		}, []string{"endpoint", "status_code"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialsync_api_errors_total",
			Help: "ネットワークエラーで応答を得られなかったAPI呼び出しの数",
		}, []string{"endpoint"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "socialsync_api_latency_seconds",
			Help:    "リモートAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialsync_poll_ticks_total",
			Help: "ポーリングタスクの実行回数",
		}, []string{"purpose"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialsync_poll_failures_total",
			Help: "ポーリングタスクの失敗回数",
		}, []string{"purpose"}),
		activePolls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socialsync_active_polls",
			Help: "稼働中のポーリングループ数",
		}),
		optimisticRollback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialsync_optimistic_rollbacks_total",
			Help: "更新失敗により破棄された楽観的変更の数",
		}, []string{"collection"}),
		imageDecodeFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialsync_image_decode_fail_total",
			Help: "画像データのデコード失敗数",
		}),
		sessionInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialsync_session_invalidated_total",
			Help: "401応答によるセッション破棄の回数",
		}),
	}

	reg.MustRegister(
		c.apiCalls,
		c.apiErrors,
		c.apiLatency,
		c.pollTicks,
		c.pollFailures,
		c.activePolls,
		c.optimisticRollback,
		c.imageDecodeFail,
		c.sessionInvalidated,
	)

	return c
}

// RecordAPICall はAPI呼び出しのステータスとレイテンシを記録する。
func (c *Collector) RecordAPICall(endpoint string, statusCode int, duration time.Duration) {
	c.apiCalls.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAPIError は応答を得られなかったAPI呼び出しを記録する。
func (c *Collector) RecordAPIError(endpoint string) {
	c.apiErrors.WithLabelValues(endpoint).Inc()
}

// RecordPollTick はポーリングタスクの実行を記録する。
func (c *Collector) RecordPollTick(purpose string) {
	c.pollTicks.WithLabelValues(purpose).Inc()
}

// RecordPollFailure はポーリングタスクの失敗を記録する。
func (c *Collector) RecordPollFailure(purpose string) {
	c.pollFailures.WithLabelValues(purpose).Inc()
}

// SetActivePolls は稼働中のポーリングループ数を設定する。
func (c *Collector) SetActivePolls(count int) {
	c.activePolls.Set(float64(count))
}

// RecordOptimisticRollback は楽観的変更の破棄を記録する。
func (c *Collector) RecordOptimisticRollback(collection string) {
	c.optimisticRollback.WithLabelValues(collection).Inc()
}

// RecordImageDecodeFailure は画像デコード失敗を記録する。
func (c *Collector) RecordImageDecodeFailure() {
	c.imageDecodeFail.Inc()
}

// RecordSessionInvalidated はセッション破棄を記録する。
func (c *Collector) RecordSessionInvalidated() {
	c.sessionInvalidated.Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordAPICall(string, int, time.Duration) {}
func (Nop) RecordAPIError(string)                    {}
func (Nop) RecordPollTick(string)                    {}
func (Nop) RecordPollFailure(string)                 {}
func (Nop) SetActivePolls(int)                       {}
func (Nop) RecordOptimisticRollback(string)          {}
func (Nop) RecordImageDecodeFailure()                {}
func (Nop) RecordSessionInvalidated()                {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
