package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/dataset"
	"github.com/pitabwire/tableview/internal/mount"
	"github.com/pitabwire/tableview/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
	Tables   *mount.Registry[*dataset.Instance]
	// Readiness overrides the readiness checks. When DatasetLoaded is nil the
	// latest mounted table must be loaded.
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints skip request
// logging and the handler timeout.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	readiness := deps.Readiness
	if readiness.DatasetLoaded == nil {
		readiness.DatasetLoaded = func() bool {
			_, inst, ok := deps.Tables.Latest()
			return ok && inst.Table.Ready()
		}
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(readiness))
	if mc := deps.Config.Observability.Metrics; mc.Enabled {
		path := mc.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.HandlerFor(gatherer))
	}

	tables := &tablesHandler{
		tables:   deps.Tables,
		defaults: deps.Config.Dataset,
		logger:   logger,
		metrics:  deps.Metrics,
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(BuildRequestContext(logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/tables", tables.list)
		r.Post("/tables", tables.create)
		r.Delete("/tables/{tableId}", tables.remove)

		r.Route("/data", func(r chi.Router) {
			r.Use(ResolveInstance(deps.Tables))

			r.Post("/list", handleList)
			r.Post("/row-position", handleRowPosition)
			r.Post("/row-detail", handleRowDetail)
			r.Get("/columns", handleColumns)
			r.Get("/filters", handleFilterOptions)
			r.Post("/add", handleAdd)
			r.Get("/statistics", handleStatistics)
			r.Post("/auto-add/start", handleAutoAddStart)
			r.Post("/auto-add/stop", handleAutoAddStop)
			r.Get("/auto-add/status", handleAutoAddStatus)
		})
	})

	return r
}

// SecurityHeaders sets standard security response headers on all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
