package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/model"
)

// recordSpans installs an always-sampling provider that keeps finished spans
// in memory.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

func onlySpan(t *testing.T, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	return spans[0]
}

func spanAttrs(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, kv := range s.Attributes {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func TestInitTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{"disabled", config.TracingConfig{Enabled: false, Exporter: "zipkin"}, false},
		{"stdout", config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, false},
		{"unsupported exporter", config.TracingConfig{Enabled: true, Exporter: "zipkin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := otel.GetTracerProvider()
			t.Cleanup(func() { otel.SetTracerProvider(prev) })

			shutdown, err := InitTracing(context.Background(), tt.cfg, "tableview-test", "0.0.0")
			if (err != nil) != tt.wantErr {
				t.Fatalf("InitTracing() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if err := shutdown(context.Background()); err != nil {
					t.Errorf("shutdown() error = %v", err)
				}
			}
		})
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "TraceIDRatioBased{0.1}"},
		{-3, "TraceIDRatioBased{0.1}"},
		{0.25, "TraceIDRatioBased{0.25}"},
		{1, "AlwaysOnSampler"},
		{7, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := samplerFor(tt.rate).Description()
		if !strings.HasPrefix(desc, "ParentBased{") || !strings.Contains(desc, "root:"+tt.want) {
			t.Errorf("samplerFor(%v) = %s, want ParentBased root %s", tt.rate, desc, tt.want)
		}
	}
}

func TestStartDataCall_tagsCall(t *testing.T) {
	exporter := recordSpans(t)
	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{Token: 42})

	_, span := StartDataCall(ctx, "list", "sales")
	EndSpan(span, nil)

	s := onlySpan(t, exporter)
	if s.Name != "client.list" {
		t.Errorf("span name = %q, want client.list", s.Name)
	}
	if s.SpanKind != trace.SpanKindClient {
		t.Errorf("span kind = %v, want client", s.SpanKind)
	}
	attrs := spanAttrs(s)
	for key, want := range map[string]string{
		"tableview.operation":     "list",
		"tableview.instance_id":   "sales",
		"tableview.request_token": "42",
	} {
		if attrs[key] != want {
			t.Errorf("%s = %q, want %q", key, attrs[key], want)
		}
	}
	if _, ok := attrs["tableview.error_kind"]; ok {
		t.Error("successful call carries an error kind")
	}
}

func TestStartDataCall_untaggedCall(t *testing.T) {
	exporter := recordSpans(t)

	_, span := StartDataCall(context.Background(), "statistics", "")
	EndSpan(span, nil)

	attrs := spanAttrs(onlySpan(t, exporter))
	for _, key := range []string{"tableview.instance_id", "tableview.request_token"} {
		if v, ok := attrs[key]; ok {
			t.Errorf("%s = %q on a call without one", key, v)
		}
	}
}

func TestEndSpan_errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{"server rejection", model.NewServerError(503, "数据尚未加载完成", nil), string(model.KindServer)},
		{"wrapped validation", errors.Join(errors.New("ctx"), model.NewFieldValidationError("page", model.CodeOutOfRange, "page must be >= 1")), string(model.KindValidation)},
		{"plain error", errors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := recordSpans(t)
			_, span := StartDataCall(context.Background(), "row_detail", "")
			EndSpan(span, tt.err)

			s := onlySpan(t, exporter)
			if s.Status.Code != codes.Error {
				t.Errorf("status = %v, want error", s.Status.Code)
			}
			if len(s.Events) == 0 || s.Events[0].Name != "exception" {
				t.Error("error not recorded as an exception event")
			}
			if got := spanAttrs(s)["tableview.error_kind"]; got != tt.wantKind {
				t.Errorf("error_kind = %q, want %q", got, tt.wantKind)
			}
		})
	}
}

func TestCacheLookup(t *testing.T) {
	exporter := recordSpans(t)

	_, hit := StartCacheLookup(context.Background(), "columns")
	EndCacheLookup(hit, true, nil)
	_, miss := StartCacheLookup(context.Background(), "filter_options")
	EndCacheLookup(miss, false, model.NewTransportError("backend unreachable", errors.New("connection refused")))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if a := spanAttrs(spans[0]); a["tableview.cache_hit"] != "true" || a["tableview.cache_entry"] != "columns" {
		t.Errorf("hit attrs = %v", a)
	}
	if spans[0].Name != "metacache.columns" || spans[0].Status.Code == codes.Error {
		t.Errorf("hit span = %q status %v", spans[0].Name, spans[0].Status.Code)
	}
	a := spanAttrs(spans[1])
	if a["tableview.cache_hit"] != "false" || a["tableview.error_kind"] != string(model.KindTransport) {
		t.Errorf("failed miss attrs = %v", a)
	}
}

func TestQueryAttributes(t *testing.T) {
	filters, err := model.NewFilters(
		model.FieldFilter{Field: "department", Value: model.OneOf("技术部")},
		model.FieldFilter{Field: "age", Value: model.Number(model.OpGte, 30)},
	)
	if err != nil {
		t.Fatal(err)
	}
	exporter := recordSpans(t)

	_, span := StartSpan(context.Background(), "dataset.list",
		QueryAttributes(model.Pagination{Page: 3, PageSize: 50}, filters)...)
	EndSpan(span, nil)

	attrs := spanAttrs(onlySpan(t, exporter))
	for key, want := range map[string]string{
		"tableview.page":         "3",
		"tableview.page_size":    "50",
		"tableview.filter_count": "2",
	} {
		if attrs[key] != want {
			t.Errorf("%s = %q, want %q", key, attrs[key], want)
		}
	}
}

func TestTraceIDFromContext(t *testing.T) {
	recordSpans(t)
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext(no span) = %q", got)
	}
	ctx, span := StartSpan(context.Background(), "dataset.statistics")
	defer span.End()
	if got, want := TraceIDFromContext(ctx), span.SpanContext().TraceID().String(); got != want {
		t.Errorf("TraceIDFromContext() = %q, want %q", got, want)
	}
}

func TestInjectTraceHeaders_continuesInBackend(t *testing.T) {
	exporter := recordSpans(t)

	var backendTrace string
	backend := TracingMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		backendTrace = TraceIDFromContext(r.Context())
	}))

	ctx, span := StartDataCall(context.Background(), "columns", "")
	req := httptest.NewRequest(http.MethodPost, "/api/data/columns", nil)
	InjectTraceHeaders(ctx, req.Header)
	backend.ServeHTTP(httptest.NewRecorder(), req)
	EndSpan(span, nil)

	if want := span.SpanContext().TraceID().String(); backendTrace != want {
		t.Errorf("backend trace = %q, want caller trace %q", backendTrace, want)
	}
	if n := len(exporter.GetSpans()); n != 2 {
		t.Errorf("recorded %d spans, want client and server", n)
	}
}

func TestTracingMiddleware_namesSpanByRoute(t *testing.T) {
	exporter := recordSpans(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Delete("/api/tables/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/tables/"+id, nil))
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Name != "DELETE /api/tables/{id}" {
			t.Errorf("span name = %q", s.Name)
		}
		attrs := spanAttrs(s)
		if attrs["http.route"] != "/api/tables/{id}" || attrs["http.response.status_code"] != "404" {
			t.Errorf("attrs = %v", attrs)
		}
		if s.Status.Code == codes.Error {
			t.Error("404 marked as a server error")
		}
	}
	if got := spanAttrs(spans[1])["url.path"]; got != "/api/tables/b" {
		t.Errorf("url.path = %q", got)
	}
}

func TestTracingMiddleware_status(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCode  string
		wantError bool
	}{
		{"body only", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{}`)) }, "200", false},
		{"nothing written", func(http.ResponseWriter, *http.Request) {}, "200", false},
		{"not ready", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }, "503", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := recordSpans(t)
			TracingMiddleware(tt.handler).ServeHTTP(httptest.NewRecorder(),
				httptest.NewRequest(http.MethodPost, "/api/data/list", nil))

			s := onlySpan(t, exporter)
			if s.Name != "POST /api/data/list" || s.SpanKind != trace.SpanKindServer {
				t.Errorf("span = %q kind %v", s.Name, s.SpanKind)
			}
			if got := spanAttrs(s)["http.response.status_code"]; got != tt.wantCode {
				t.Errorf("status code = %q, want %q", got, tt.wantCode)
			}
			if (s.Status.Code == codes.Error) != tt.wantError {
				t.Errorf("span status = %v", s.Status.Code)
			}
		})
	}
}

func TestTracingMiddleware_continuesInboundTrace(t *testing.T) {
	exporter := recordSpans(t)
	const (
		traceID  = "0af7651916cd43dd8448eb211c80319c"
		parentID = "b7ad6b7169203331"
	)

	req := httptest.NewRequest(http.MethodPost, "/api/data/statistics", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+parentID+"-01")
	rec := httptest.NewRecorder()
	TracingMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)

	s := onlySpan(t, exporter)
	if s.SpanContext.TraceID().String() != traceID || s.Parent.SpanID().String() != parentID {
		t.Errorf("span %s parent %s, want trace %s parent %s",
			s.SpanContext.TraceID(), s.Parent.SpanID(), traceID, parentID)
	}
	if tp := rec.Header().Get("Traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("response Traceparent = %q, want trace %s", tp, traceID)
	}
}
