// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 予約操作の結果ラベル
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、通知ディスパッチャから利用する。
type MetricsCollector interface {
	RecordReservation(operation, outcome string)
	RecordCapacityViolation(operation string)
	SetHardwareSetLevels(hwsetID, name string, available, capacity int)
	RecordMembershipChange(operation string, changed bool)
	RecordWebhookDelivery(outcome string)
	RecordWebhookLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	reservations       *prometheus.CounterVec
	capacityViolations *prometheus.CounterVec
	available          *prometheus.GaugeVec
	capacity           *prometheus.GaugeVec
	membershipChanges  *prometheus.CounterVec
	webhookDeliveries  *prometheus.CounterVec
	webhookLatency     prometheus.Histogram
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hwledger_reservations_total",
			Help: "チェックイン・チェックアウト要求の操作別・結果別の合計数",
		}, []string{"operation", "outcome"}),
		capacityViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hwledger_capacity_violations_total",
			Help: "容量範囲外として拒否された操作の合計数",
		}, []string{"operation"}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hwledger_hwset_available",
			Help: "ハードウェアセットごとの利用可能台数",
		}, []string{"hwset_id", "name"}),
		capacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hwledger_hwset_capacity",
			Help: "ハードウェアセットごとの容量",
		}, []string{"hwset_id", "name"}),
		membershipChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hwledger_membership_requests_total",
			Help: "参加・離脱要求の合計数（changed は実際に集合が変化したか）",
		}, []string{"operation", "changed"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hwledger_webhook_deliveries_total",
			Help: "Webhook配信の結果別の合計数",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hwledger_webhook_latency_seconds",
			Help:    "Webhook配信1回あたりのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hwledger_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.reservations,
		c.capacityViolations,
		c.available,
		c.capacity,
		c.membershipChanges,
		c.webhookDeliveries,
		c.webhookLatency,
		c.httpStatus,
	)

	return c
}

// RecordReservation はチェックイン・チェックアウトの結果を記録する。
func (c *Collector) RecordReservation(operation, outcome string) {
	c.reservations.WithLabelValues(operation, outcome).Inc()
}

// RecordCapacityViolation は容量範囲外による拒否を記録する。
func (c *Collector) RecordCapacityViolation(operation string) {
	c.capacityViolations.WithLabelValues(operation).Inc()
}

// SetHardwareSetLevels はハードウェアセットの現在の台数を記録する。
func (c *Collector) SetHardwareSetLevels(hwsetID, name string, available, capacity int) {
	c.available.WithLabelValues(hwsetID, name).Set(float64(available))
	c.capacity.WithLabelValues(hwsetID, name).Set(float64(capacity))
}

// RecordMembershipChange は参加・離脱要求を記録する。
func (c *Collector) RecordMembershipChange(operation string, changed bool) {
	c.membershipChanges.WithLabelValues(operation, strconv.FormatBool(changed)).Inc()
}

// RecordWebhookDelivery はWebhook配信結果を記録する。
func (c *Collector) RecordWebhookDelivery(outcome string) {
	c.webhookDeliveries.WithLabelValues(outcome).Inc()
}

// RecordWebhookLatency はWebhook配信のレイテンシを記録する。
func (c *Collector) RecordWebhookLatency(duration time.Duration) {
	c.webhookLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
