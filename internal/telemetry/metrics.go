// Package telemetry carries the process-wide observability for ChronoBill:
// the slog logging setup and the Prometheus metric set.
//
// Every metric registers against the default Prometheus registry at package
// load, so main.go only needs to expose promhttp.Handler() on the metrics
// side-channel (default port 9090, CHB_TELEMETRY_METRICS_PROMETHEUS_PORT).
// That listener is deliberately separate from the Gin router: scrapes never
// compete with API traffic and the endpoint stays off the public surface.
//
// Two cardinality rules hold everywhere:
//
//   - HTTP labels carry the Gin route template (/api/v1/clients/:id), never
//     the raw URL, so user-supplied path segments cannot mint label values.
//   - Accounting provider labels carry the resource family (customers,
//     articles, invoices) taken from the leading path segment, never the
//     full request path.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BuildInfo is a constant 1 carrying the service name and version as labels,
// the usual join target for dashboards that want to show which build is
// serving the other series. main.go sets it once at startup; until then the
// vec exposes no series.
var BuildInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata as labels; the value is always 1.",
	},
	[]string{"service", "version"},
)

// Request-level HTTP metrics, recorded by middleware.MetricsMiddleware once
// per finished request.
var (
	// HTTPRequestsTotal counts finished requests by method, route template,
	// and numeric status code. Filter status=~"5.." for the error budget.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes wall time per request by method and route
	// template. Buckets run from 5ms to 30s; the long tail belongs to export
	// requests that talk to the accounting provider inline.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// TokenRefreshesTotal counts accounting token refresh attempts. The trigger
// label says who asked: "scheduled" (background sweep), "on_demand" (a caller
// needed a live credential or an admin pressed refresh-now), or
// "unauthorized_retry" (the provider answered 401 mid-request). The outcome
// label is "success", "transient_failure", "permanent_failure", or
// "conflict" (another replica rotated the token first; the loser re-reads).
//
// permanent_failure means the refresh token was rejected outright and a human
// has to re-run the OAuth consent flow, so alert on any increase.
var TokenRefreshesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "token_refreshes_total",
		Help: "Total number of accounting token refresh attempts, by trigger and outcome.",
	},
	[]string{"trigger", "outcome"},
)

// Export pipeline metrics, recorded once per invoice export run.
var (
	// InvoiceExportsTotal counts export attempts by outcome: "success",
	// "invalid_request", "provider_error", or "reconciliation_error". The
	// last one means a remote invoice exists without its local mirror row
	// and needs manual repair, so it warrants a page, not a dashboard.
	InvoiceExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_exports_total",
			Help: "Total number of invoice export attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// InvoiceExportDuration spans the whole pipeline: customer and article
	// resolution, submission, archival, and reconciliation.
	InvoiceExportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invoice_export_duration_seconds",
			Help:    "Duration of a complete invoice export pipeline run.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// ProviderRequestsTotal counts outbound calls to the accounting provider's
// API by resource family, method, and status class ("2xx", "4xx", "5xx", or
// "error" when the transport itself failed before a status arrived).
var ProviderRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Total number of accounting provider API calls, by resource, method, and status class.",
	},
	[]string{"resource", "method", "status"},
)

// DBOpenConnections reports how many connections the sql.DB pool currently
// holds open. Sampled on a timer rather than per request; compare against
// the configured max_connections to watch for pool exhaustion.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// dbStatsInterval is how often the collector samples the pool.
const dbStatsInterval = 30 * time.Second

// StartDBStatsCollector begins sampling connection pool statistics into
// DBOpenConnections. Call it once in main.go after db.Connect succeeds.
//
// The goroutine takes one sample immediately, then one per interval, and
// stops itself when the database stops answering pings. Shutdown closes the
// pool, the next ping fails, and the collector winds down with it.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			if err := db.Ping(); err != nil {
				slog.Warn("stopping db stats collector, database unreachable", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			<-ticker.C
		}
	}()
}
