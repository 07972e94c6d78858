// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲートウェイ、ルームレジストリ、ルーター、AIパイプラインから利用する。
type MetricsCollector interface {
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordHandshakeRejected(reason string)
	RecordMessageReceived()
	RecordMessageDropped(reason string)
	RecordDeliveries(count int)
	RecordAIRequest(outcome string)
	RecordAILatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	connectionsActive prometheus.Gauge
	handshakeRejected *prometheus.CounterVec
	messagesReceived  prometheus.Counter
	messagesDropped   *prometheus.CounterVec
	deliveries        prometheus.Counter
	aiRequests        *prometheus.CounterVec
	aiLatency         prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devsync_connections_active",
			Help: "ルームに参加中の接続数",
		}),
		handshakeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devsync_handshake_rejected_total",
			Help: "拒否理由別のハンドシェイク拒否数",
		}, []string{"reason"}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devsync_messages_received_total",
			Help: "受信したメッセージの合計数",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devsync_messages_dropped_total",
			Help: "理由別の破棄されたメッセージ数",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devsync_deliveries_total",
			Help: "メンバーへの配信に成功したメッセージの合計数",
		}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devsync_ai_requests_total",
			Help: "結果別のAIリクエスト数",
		}, []string{"outcome"}),
		aiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "devsync_ai_latency_seconds",
			Help:    "AIバックエンド呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.handshakeRejected,
		c.messagesReceived,
		c.messagesDropped,
		c.deliveries,
		c.aiRequests,
		c.aiLatency,
	)

	return c
}

// RecordConnectionOpened はルームへの参加を記録する。
func (c *Collector) RecordConnectionOpened() {
	c.connectionsActive.Inc()
}

// RecordConnectionClosed はルームからの退出を記録する。
func (c *Collector) RecordConnectionClosed() {
	c.connectionsActive.Dec()
}

// RecordHandshakeRejected はハンドシェイクの拒否を記録する。
func (c *Collector) RecordHandshakeRejected(reason string) {
	c.handshakeRejected.WithLabelValues(reason).Inc()
}

// RecordMessageReceived はメッセージの受信を記録する。
func (c *Collector) RecordMessageReceived() {
	c.messagesReceived.Inc()
}

// RecordMessageDropped はメッセージの破棄を記録する。
func (c *Collector) RecordMessageDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

// RecordDeliveries はメンバーへの配信数を記録する。
func (c *Collector) RecordDeliveries(count int) {
	c.deliveries.Add(float64(count))
}

// RecordAIRequest はAIリクエストの結果を記録する。
func (c *Collector) RecordAIRequest(outcome string) {
	c.aiRequests.WithLabelValues(outcome).Inc()
}

// RecordAILatency はAIバックエンド呼び出しのレイテンシを記録する。
func (c *Collector) RecordAILatency(duration time.Duration) {
	c.aiLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordConnectionOpened() {}
func (Nop) RecordConnectionClosed() {}
func (Nop) RecordHandshakeRejected(string) {}
func (Nop) RecordMessageReceived() {}
func (Nop) RecordMessageDropped(string) {}
func (Nop) RecordDeliveries(int) {}
func (Nop) RecordAIRequest(string) {}
func (Nop) RecordAILatency(time.Duration) {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = Nop{}
