package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 巡检耗时（秒）
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commission_sweep_duration_seconds",
			Help:    "Deadline sweep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"sweep"},
	)

	// 巡检触发的状态流转
	SweepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_sweep_transitions_total",
			Help: "Total number of status transitions applied by deadline sweeps",
		},
		[]string{"sweep", "to"},
	)

	// 巡检发送的通知
	SweepNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_sweep_notifications_total",
			Help: "Total number of notifications emitted by deadline sweeps",
		},
		[]string{"sweep"},
	)

	// 巡检因锁被占用而跳过
	SweepSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_sweep_skipped_total",
			Help: "Total number of sweep runs skipped because another instance held the lock",
		},
		[]string{"sweep"},
	)

	// 支付网关调用延迟（毫秒）
	GatewayCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commission_gateway_call_latency_ms",
			Help:    "Payment gateway call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"operation", "status"},
	)

	// 支付记录状态变更
	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_payment_transitions_total",
			Help: "Total number of payment record status changes",
		},
		[]string{"phase", "to"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commission_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 通知投递
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_notifications_dispatched_total",
			Help: "Total number of notifications handed to a delivery backend",
		},
		[]string{"category", "result"}, // result: sent, dropped, failed
	)
)

// RecordSweep 记录一次巡检的耗时
func RecordSweep(sweep string, duration time.Duration) {
	SweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
}

// IncrementSweepTransition 记录巡检状态流转
func IncrementSweepTransition(sweep, to string) {
	SweepTransitions.WithLabelValues(sweep, to).Inc()
}

// AddSweepTransitions 批量流转时按条数记录
func AddSweepTransitions(sweep, to string, n int) {
	SweepTransitions.WithLabelValues(sweep, to).Add(float64(n))
}

// AddSweepNotifications 记录巡检通知数量
func AddSweepNotifications(sweep string, n int) {
	SweepNotifications.WithLabelValues(sweep).Add(float64(n))
}

// IncrementSweepSkipped 记录跳过的巡检
func IncrementSweepSkipped(sweep string) {
	SweepSkipped.WithLabelValues(sweep).Inc()
}

// RecordGatewayCall 记录网关调用延迟
func RecordGatewayCall(operation, status string, duration time.Duration) {
	GatewayCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// IncrementPaymentTransition 记录支付状态变更
func IncrementPaymentTransition(phase, to string) {
	PaymentTransitions.WithLabelValues(phase, to).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementNotification 记录通知投递结果
func IncrementNotification(category, result string) {
	NotificationsDispatched.WithLabelValues(category, result).Inc()
}
