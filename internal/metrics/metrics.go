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
// オーケストレーターやワーカーから利用する。
type MetricsCollector interface {
	RecordEventReceived(platform string)
	RecordEventMalformed(platform string)
	RecordItemsPersisted(platform string, count int)
	RecordDetailsSyncSuccess(platform string)
	RecordDetailsSyncFailure(platform string, reason string)
	RecordDetailsFetchLatency(platform string, duration time.Duration)
	RecordTaskCreated(kind string)
	RecordTaskSkipped(kind string, reason string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	eventsReceived  *prometheus.CounterVec
	eventsMalformed *prometheus.CounterVec
	itemsPersisted  *prometheus.CounterVec
	syncSuccess     *prometheus.CounterVec
	syncFail        *prometheus.CounterVec
	fetchLatency    *prometheus.HistogramVec
	tasksCreated    *prometheus.CounterVec
	tasksSkipped    *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favepipe_events_received_total",
			Help: "受信したストリームイベントの合計数",
		}, []string{"platform"}),
		eventsMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favepipe_events_malformed_total",
			Help: "不正な形式で拒否されたイベントの合計数",
		}, []string{"platform"}),
		itemsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favepipe_items_persisted_total",
			Help: "簡易保存されたお気に入り項目の合計数",
		}, []string{"platform"}),
		syncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favepipe_details_sync_success_total",
			Help: "詳細取得成功の合計数",
		}, []string{"platform"}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favepipe_details_sync_fail_total",
			Help: "詳細取得失敗の合計数（reasonは失敗分類）",
		}, []string{"platform", "reason"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "favepipe_details_fetch_latency_seconds",
			Help:    "詳細取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favepipe_tasks_created_total",
			Help: "作成された処理タスクの合計数",
		}, []string{"kind"}),
		tasksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favepipe_tasks_skipped_total",
			Help: "作成条件を満たさずスキップされたタスクの合計数",
		}, []string{"kind", "reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "favepipe_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.eventsReceived,
		c.eventsMalformed,
		c.itemsPersisted,
		c.syncSuccess,
		c.syncFail,
		c.fetchLatency,
		c.tasksCreated,
		c.tasksSkipped,
		c.httpStatus,
	)

	return c
}

// RecordEventReceived はイベント受信を記録する。
func (c *Collector) RecordEventReceived(platform string) {
	c.eventsReceived.WithLabelValues(platform).Inc()
}

// RecordEventMalformed は不正イベントの拒否を記録する。
func (c *Collector) RecordEventMalformed(platform string) {
	c.eventsMalformed.WithLabelValues(platform).Inc()
}

// RecordItemsPersisted は簡易保存された項目数を記録する。
func (c *Collector) RecordItemsPersisted(platform string, count int) {
	c.itemsPersisted.WithLabelValues(platform).Add(float64(count))
}

// RecordDetailsSyncSuccess は詳細取得成功を記録する。
func (c *Collector) RecordDetailsSyncSuccess(platform string) {
	c.syncSuccess.WithLabelValues(platform).Inc()
}

// RecordDetailsSyncFailure は詳細取得失敗を記録する。
// reasonは失敗分類（timeoutなど）であり、生のエラー文字列は渡さないこと。
func (c *Collector) RecordDetailsSyncFailure(platform string, reason string) {
	c.syncFail.WithLabelValues(platform, reason).Inc()
}

// RecordDetailsFetchLatency は詳細取得のレイテンシを記録する。
func (c *Collector) RecordDetailsFetchLatency(platform string, duration time.Duration) {
	c.fetchLatency.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordTaskCreated はタスク作成を記録する。
func (c *Collector) RecordTaskCreated(kind string) {
	c.tasksCreated.WithLabelValues(kind).Inc()
}

// RecordTaskSkipped はタスク作成のスキップを記録する。
func (c *Collector) RecordTaskSkipped(kind string, reason string) {
	c.tasksSkipped.WithLabelValues(kind, reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
