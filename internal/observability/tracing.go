package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/model"
)

const tracerName = "github.com/pitabwire/tableview"

// defaultSamplingRate applies when the configured rate is not positive.
const defaultSamplingRate = 0.1

// Span attribute keys.
var (
	AttrOperation    = attribute.Key("tableview.operation")
	AttrInstanceID   = attribute.Key("tableview.instance_id")
	AttrRequestToken = attribute.Key("tableview.request_token")
	AttrPage         = attribute.Key("tableview.page")
	AttrPageSize     = attribute.Key("tableview.page_size")
	AttrFilterCount  = attribute.Key("tableview.filter_count")
	AttrErrorKind    = attribute.Key("tableview.error_kind")
	AttrCacheHit     = attribute.Key("tableview.cache_hit")
	AttrCacheEntry   = attribute.Key("tableview.cache_entry")
)

// InitTracing installs the global TracerProvider and W3C propagators. The
// returned function flushes pending spans. When tracing is disabled nothing
// is installed and the shutdown is a no-op.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout)", cfg.Exporter)
}

// samplerFor follows the parent's decision and samples root spans at rate,
// clamped to (0, 1].
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		rate = defaultSamplingRate
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the tracer every span of this module is started from.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts an internal span named name.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartDataCall starts the client span of one data access call. The span
// carries the operation, the mounted table when one is addressed and the
// request token the caller tagged ctx with.
func StartDataCall(ctx context.Context, operation, instanceID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrOperation.String(operation)}
	if instanceID != "" {
		attrs = append(attrs, AttrInstanceID.String(instanceID))
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.Token != 0 {
		attrs = append(attrs, AttrRequestToken.Int64(int64(rctx.Token)))
	}
	return Tracer().Start(ctx, "client."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// QueryAttributes describes the page and filters of a list query.
func QueryAttributes(p model.Pagination, filters model.Filters) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPage.Int(p.Page),
		AttrPageSize.Int(p.PageSize),
		AttrFilterCount.Int(filters.Len()),
	}
}

// StartCacheLookup starts the span of a metadata cache read.
func StartCacheLookup(ctx context.Context, entry string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "metacache."+entry, trace.WithAttributes(AttrCacheEntry.String(entry)))
}

// EndCacheLookup records whether the entry was served from the store and
// ends the span.
func EndCacheLookup(span trace.Span, hit bool, err error) {
	span.SetAttributes(AttrCacheHit.Bool(hit))
	EndSpan(span, err)
}

// EndSpan ends span. A non-nil err marks the span failed and, for a
// *model.Error, tags it with the error kind.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		if kind := model.KindOf(err); kind != "" {
			span.SetAttributes(AttrErrorKind.String(string(kind)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceIDFromContext returns the active trace ID, or "" outside a span.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// InjectTraceHeaders writes the active trace context into headers of a
// request to the data backend.
func InjectTraceHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// TracingMiddleware starts a server span per request, continuing any inbound
// traceparent and echoing the trace context in the response headers. Under a
// chi router the span is named by the matched route pattern, so every table
// shares the span name of /api/tables/{id}/list.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()
		propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(semconv.HTTPRoute(pattern))
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}
