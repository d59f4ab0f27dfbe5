package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"picpic.sync/internal/core/domain"
	"picpic.sync/internal/core/services"
)

var (
	// Push channel metrics
	connectionUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_connection_up",
			Help: "Whether the push channel is currently connected",
		},
	)

	reconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_reconnects_total",
			Help: "Total number of push channel reconnections",
		},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_messages_received_total",
			Help: "Total inbound push messages by type",
		},
		[]string{"type"},
	)

	// Cache metrics
	jobsCached = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_cached",
			Help: "Number of cached jobs by status",
		},
		[]string{"status"},
	)

	// Health monitor metrics
	healthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_score",
			Help: "Aggregate health score of the last check cycle (0-100)",
		},
	)

	healthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "health_checks_total",
			Help: "Total health check executions by name and outcome",
		},
		[]string{"name", "status"},
	)
)

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SetConnectionUp reflects the push channel state in the gauge.
func SetConnectionUp(up bool) {
	if up {
		connectionUp.Set(1)
	} else {
		connectionUp.Set(0)
	}
}

// RecordReconnect counts one reconnection.
func RecordReconnect() {
	reconnectsTotal.Inc()
}

// RecordMessage counts one inbound message of the given type.
func RecordMessage(messageType string) {
	messagesTotal.WithLabelValues(messageType).Inc()
}

// SetJobCounts publishes the cache's count-by-status aggregate.
func SetJobCounts(stats map[domain.JobStatus]int) {
	jobsCached.Reset()
	for status, count := range stats {
		jobsCached.WithLabelValues(string(status)).Set(float64(count))
	}
}

// RecordHealthReport publishes one health cycle's score and outcomes.
func RecordHealthReport(report *services.HealthReport) {
	if report == nil {
		return
	}
	healthScore.Set(float64(report.Score))
	for _, rec := range report.Records {
		healthChecksTotal.WithLabelValues(rec.Name, string(rec.Status)).Inc()
	}
}
