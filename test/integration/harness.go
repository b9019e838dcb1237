// Package integration provides a reusable test harness for end-to-end
// integration testing of the table data server. It starts a full HTTP server
// over mounted in-memory tables, a Redis-backed metadata cache, and scripted
// mock backends for client resilience scenarios.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/client"
	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/dataset"
	"github.com/pitabwire/tableview/internal/metacache"
	"github.com/pitabwire/tableview/internal/mount"
	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/internal/transport"
)

// DefaultTableID names the table every harness mounts first.
const DefaultTableID = "default"

// TestHarness encapsulates a fully wired server with its mounted tables and
// a Redis instance for the metadata cache.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Tables   *mount.Registry[*dataset.Instance]
	Metrics  *observability.Metrics
	Gatherer *prometheus.Registry
	Redis    *miniredis.Miniredis

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	schema         string
	seedRows       int
	seeded         bool
	handlerTimeout time.Duration
}

// WithSchema sets the schema of the default table.
func WithSchema(schema string) HarnessOption {
	return func(c *harnessConfig) {
		c.schema = schema
	}
}

// WithSeedRows sets the row count of the default table.
func WithSeedRows(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.seedRows = n
	}
}

// WithUnloadedTable mounts the default table without loading it.
func WithUnloadedTable() HarnessOption {
	return func(c *harnessConfig) {
		c.seeded = false
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full server test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		schema:         config.SchemaEmployees,
		seedRows:       50,
		seeded:         true,
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	// Step 1: Build config.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.Dataset.Schema = hc.schema
	cfg.Dataset.SeedRows = hc.seedRows
	cfg.Dataset.AutoAdd.Interval = 10 * time.Millisecond

	h := &TestHarness{t: t, cfg: cfg, Redis: miniredis.RunT(t)}
	cfg.Cache.Driver = config.CacheRedis
	cfg.Cache.RedisAddr = h.Redis.Addr()
	cfg.Cache.TTL = time.Minute

	// Step 2: Build metrics on a private registry.
	h.Gatherer = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Gatherer)

	// Step 3: Mount the default table.
	h.Tables = mount.NewRegistry[*dataset.Instance](h.Metrics.SetMountedInstances)
	inst, err := dataset.NewInstance(cfg.Dataset, zap.NewNop(), h.Metrics)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	if hc.seeded {
		inst.Seed()
	}
	if err := h.Tables.RegisterID(DefaultTableID, inst); err != nil {
		t.Fatalf("mount table: %v", err)
	}
	t.Cleanup(func() {
		for _, id := range h.Tables.IDs() {
			if inst, ok := h.Tables.Deregister(id); ok {
				inst.Close()
			}
		}
	})

	// Step 4: Build router with full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   zap.NewNop(),
		Metrics:  h.Metrics,
		Gatherer: h.Gatherer,
		Tables:   h.Tables,
		Readiness: observability.ReadinessChecks{
			MetaCache: metacache.NewRedisStore(h.RedisClient()),
		},
	})

	// Step 5: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Table returns a mounted table, failing the test if it is absent.
func (h *TestHarness) Table(id string) *dataset.Instance {
	h.t.Helper()
	inst, ok := h.Tables.Get(id)
	if !ok {
		h.t.Fatalf("table %q not mounted", id)
	}
	return inst
}

// MountTable creates and loads another table and returns its id.
func (h *TestHarness) MountTable(schema string, rows int) string {
	h.t.Helper()
	cfg := h.cfg.Dataset
	cfg.Schema = schema
	cfg.SeedRows = rows
	inst, err := dataset.NewInstance(cfg, zap.NewNop(), h.Metrics)
	if err != nil {
		h.t.Fatalf("create table: %v", err)
	}
	inst.Seed()
	return h.Tables.Register(inst)
}

// Client returns a data access client pointed at the server's API.
func (h *TestHarness) Client(opts ...client.Option) *client.Client {
	cfg := h.cfg.Client
	cfg.BaseURL = h.server.URL + "/api"
	cfg.Timeout = 5 * time.Second
	return client.New(cfg, append([]client.Option{client.WithMetrics(h.Metrics)}, opts...)...)
}

// RedisClient returns a go-redis client for the harness Redis.
func (h *TestHarness) RedisClient() *redis.Client {
	rc := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
	h.t.Cleanup(func() { rc.Close() })
	return rc
}

// Cache returns a Redis-backed metadata cache over fetcher, scoped to the
// given table id.
func (h *TestHarness) Cache(fetcher metacache.Fetcher, tableID string) *metacache.Cache {
	return metacache.New(metacache.NewRedisStore(h.RedisClient()), fetcher, h.cfg.Cache,
		metacache.WithInstance(tableID),
		metacache.WithMetrics(h.Metrics),
	)
}

// CacheKey returns the Redis key of one cache entry of a table.
func (h *TestHarness) CacheKey(tableID, entry string) string {
	return metacache.FormatKey(h.cfg.Cache.KeyPrefix, tableID, entry)
}

// --- HTTP client helpers ---

// GET performs a GET request.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, nil)
}

// GETWithHeaders performs a GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, headers)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, nil)
}

// POSTWithHeaders performs a POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, headers)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the status and decodes the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	h.AssertStatus(t, resp, expected)
	h.ParseJSON(resp, target)
}

// Envelope decodes a {success, data} body, returning data.
func (h *TestHarness) Envelope(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	h.AssertJSON(t, resp, http.StatusOK, &env)
	if !env.Success {
		t.Fatalf("success = false")
	}
	if target == nil {
		return
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		t.Fatalf("decode data: %v\ndata: %s", err, string(env.Data))
	}
}

// MetricValue returns the value of an unlabeled gauge or counter, or of the
// first series of a labeled one.
func (h *TestHarness) MetricValue(name string) (float64, error) {
	families, err := h.Gatherer.Gather()
	if err != nil {
		return 0, err
	}
	for _, f := range families {
		if f.GetName() != name || len(f.GetMetric()) == 0 {
			continue
		}
		m := f.GetMetric()[0]
		switch {
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue(), nil
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q not found", name)
}
