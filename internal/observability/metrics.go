package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the table viewer.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Data access client metrics
	ClientRequestsTotal   *prometheus.CounterVec
	ClientRequestDuration *prometheus.HistogramVec
	ClientFailuresTotal   *prometheus.CounterVec

	// Metadata cache metrics
	MetaCacheHitsTotal   *prometheus.CounterVec
	MetaCacheMissesTotal *prometheus.CounterVec

	// Dataset metrics
	DatasetRows      prometheus.Gauge
	DatasetColumns   prometheus.Gauge
	AutoAddRunning   prometheus.Gauge
	AutoAddRowsTotal prometheus.Counter
	MountedInstances prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableview_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableview_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableview_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableview_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Client
		ClientRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableview_client_requests_total",
			Help: "Total number of data access calls by operation and HTTP status.",
		}, []string{"operation", "status"}),
		ClientRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tableview_client_request_duration_seconds",
			Help:    "Data access call duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		ClientFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableview_client_failures_total",
			Help: "Total number of classified data access failures.",
		}, []string{"operation", "kind"}),

		// Cache
		MetaCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableview_metacache_hits_total",
			Help: "Total metadata cache hits.",
		}, []string{"entry"}),
		MetaCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tableview_metacache_misses_total",
			Help: "Total metadata cache misses.",
		}, []string{"entry"}),

		// Dataset
		DatasetRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tableview_dataset_rows",
			Help: "Number of rows held by the dataset.",
		}),
		DatasetColumns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tableview_dataset_columns",
			Help: "Number of columns in the dataset's column config.",
		}),
		AutoAddRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tableview_auto_add_running",
			Help: "Whether the auto-add generator is running (0 or 1).",
		}),
		AutoAddRowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tableview_auto_add_rows_total",
			Help: "Total rows appended by the auto-add generator.",
		}),
		MountedInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tableview_mounted_instances",
			Help: "Number of registered viewer instances.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Client
		m.ClientRequestsTotal,
		m.ClientRequestDuration,
		m.ClientFailuresTotal,
		// Cache
		m.MetaCacheHitsTotal,
		m.MetaCacheMissesTotal,
		// Dataset
		m.DatasetRows,
		m.DatasetColumns,
		m.AutoAddRunning,
		m.AutoAddRowsTotal,
		m.MountedInstances,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordClientRequest records one data access call. Status 0 means no HTTP
// response was received.
func (m *Metrics) RecordClientRequest(operation string, status int, duration time.Duration) {
	m.ClientRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.ClientRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordClientFailure records a classified failure.
func (m *Metrics) RecordClientFailure(operation, kind string) {
	m.ClientFailuresTotal.WithLabelValues(operation, kind).Inc()
}

// RecordMetaCacheHit records a metadata cache hit.
func (m *Metrics) RecordMetaCacheHit(entry string) {
	m.MetaCacheHitsTotal.WithLabelValues(entry).Inc()
}

// RecordMetaCacheMiss records a metadata cache miss.
func (m *Metrics) RecordMetaCacheMiss(entry string) {
	m.MetaCacheMissesTotal.WithLabelValues(entry).Inc()
}

// SetDatasetSize sets the row and column gauges.
func (m *Metrics) SetDatasetSize(rows, columns int) {
	m.DatasetRows.Set(float64(rows))
	m.DatasetColumns.Set(float64(columns))
}

// SetAutoAddRunning sets the generator gauge.
func (m *Metrics) SetAutoAddRunning(running bool) {
	if running {
		m.AutoAddRunning.Set(1)
		return
	}
	m.AutoAddRunning.Set(0)
}

// RecordAutoAddRows records rows appended by the generator.
func (m *Metrics) RecordAutoAddRows(n int) {
	m.AutoAddRowsTotal.Add(float64(n))
}

// SetMountedInstances sets the number of registered viewer instances.
func (m *Metrics) SetMountedInstances(n int) {
	m.MountedInstances.Set(float64(n))
}

// unmatchedRoute labels requests no route matched, so requests to unknown
// paths cannot grow the label set.
const unmatchedRoute = "unmatched"

// MetricsMiddleware records request metrics labeled by the matched chi route
// pattern, so every table shares the series of /api/data/list.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), status, time.Since(start),
			int(max(r.ContentLength, 0)), ww.BytesWritten())
	})
}

// HandlerFor returns the Prometheus HTTP handler for a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func routePattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return unmatchedRoute
	}
	if pattern := strings.TrimSuffix(rc.RoutePattern(), "/*"); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}
