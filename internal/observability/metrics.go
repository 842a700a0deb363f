// Package observability holds nara's Prometheus metrics. Components record
// through package-level functions; the gateway exposes the default registry
// on /metrics.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	memorySearchDuration prometheus.Histogram
	memoryWriteDuration  prometheus.Histogram
	memoryEntriesTotal   prometheus.Gauge

	activeSessions      prometheus.Gauge
	sessionSaveDuration prometheus.Histogram

	channelMessagesTotal *prometheus.CounterVec

	heartbeatRunTotal    *prometheus.CounterVec
	heartbeatRunDuration *prometheus.HistogramVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration prometheus.Histogram

	gatewayConnections prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			memorySearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_write_duration_seconds",
					Help:    "Memory sync duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryEntriesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_entries_total",
					Help: "Total memory chunks indexed.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			channelMessagesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "channel_messages_total",
					Help: "Total inbound channel messages by channel.",
				},
				[]string{"channel"},
			),
			heartbeatRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "heartbeat_run_total",
					Help: "Total heartbeat job runs by job and status.",
				},
				[]string{"job", "status"},
			),
			heartbeatRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "heartbeat_run_duration_seconds",
					Help:    "Heartbeat job duration in seconds by job.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"job"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent completions by status.",
				},
				[]string{"status"},
			),
			agentRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent completion duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			gatewayConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_connections",
					Help: "Current gateway client connections.",
				},
			),
		}

		prometheus.MustRegister(
			m.memorySearchDuration,
			m.memoryWriteDuration,
			m.memoryEntriesTotal,
			m.activeSessions,
			m.sessionSaveDuration,
			m.channelMessagesTotal,
			m.heartbeatRunTotal,
			m.heartbeatRunDuration,
			m.agentRunTotal,
			m.agentRunDuration,
			m.gatewayConnections,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordMemorySearch(duration time.Duration) {
	getMetrics().memorySearchDuration.Observe(duration.Seconds())
}

func RecordMemoryWrite(duration time.Duration) {
	getMetrics().memoryWriteDuration.Observe(duration.Seconds())
}

func SetMemoryEntries(total int) {
	getMetrics().memoryEntriesTotal.Set(float64(total))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordChannelMessage(channel string) {
	getMetrics().channelMessagesTotal.WithLabelValues(channel).Inc()
}

func RecordHeartbeatRun(job string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.heartbeatRunTotal.WithLabelValues(job, status).Inc()
	m.heartbeatRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func RecordAgentRun(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(status).Inc()
	m.agentRunDuration.Observe(duration.Seconds())
}

func SetGatewayConnections(count int) {
	getMetrics().gatewayConnections.Set(float64(count))
}
