// Package telemetry provides application-level observability for Cloud Guardrail.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<CGR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router, which keeps
// the scrape path off the public ingress and away from rate limiting.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Resource action counters and durations, by resource type, action, and outcome
//   - Audit write failure counter (the signal a compliance alert should hang off)
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as
// /api/v1/actions/:resource_type/:action) rather than the raw URL to prevent
// unbounded label cardinality. Action metrics are labelled by resource type and
// action name, never by resource id.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Resource action metrics — recorded by the action executor.
//
// ResourceActionsTotal counts every per-resource outcome with labels
// {resource_type, action, status} where status is one of success, failed,
// dry_run, blocked.
//
// Example PromQL queries:
//   - Blocked-action rate:   sum(rate(resource_actions_total{status="blocked"}[1h]))
//   - Failure ratio:         sum(rate(resource_actions_total{status="failed"}[5m])) / sum(rate(resource_actions_total[5m]))
//
// ResourceActionDuration observes the wall time of a single per-resource
// execution (policy check through adapter call), by resource type and action.
var (
	ResourceActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resource_actions_total",
			Help: "Total number of per-resource action outcomes, by resource type, action, and status.",
		},
		[]string{"resource_type", "action", "status"},
	)

	ResourceActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resource_action_duration_seconds",
			Help:    "Duration of a single per-resource action execution.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource_type", "action"},
	)
)

// AuditWriteFailuresTotal counts audit store write failures. Any non-zero rate
// is a compliance gap: an action was attempted whose record could not be
// persisted. Alert on increase(audit_write_failures_total[5m]) > 0.
var AuditWriteFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Total number of failed audit log writes.",
	},
)

// AuditShipFailuresTotal counts failed deliveries to external audit shippers.
// Unlike database write failures these do not block the action path, so they
// surface only here and in the logs.
var AuditShipFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_ship_failures_total",
		Help: "Total number of failed audit log shipments, by shipper type.",
	},
	[]string{"shipper"},
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB pool. Sampled every 30 seconds by StartDBStatsCollector rather
// than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable, which happens when the application shuts down and
// defers db.Close().
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
