package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server that simulates a data API
// backend. It allows configuring per-operation responses and records all
// received requests for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.RWMutex
	operations   map[string]*operationConfig
	receivedByOp map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Method     string
	Path       string
	Headers    http.Header
	Body       map[string]any
	RawBody    []byte
	ReceivedAt time.Time
}

// operationConfig holds the configured responses for a single operation.
type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	raw       []byte
	delay     time.Duration
	connError bool
}

// OperationMock is a builder for configuring mock responses for a specific operation.
type OperationMock struct {
	backend *MockBackend
	opID    string
}

// operationRoute maps an operation name to its HTTP method and path.
type operationRoute struct {
	method string
	path   string
}

// DataRoutes returns the routes of the data API under /api.
func DataRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"list":            {method: "POST", path: "/api/data/list"},
		"row_position":    {method: "POST", path: "/api/data/row-position"},
		"row_detail":      {method: "POST", path: "/api/data/row-detail"},
		"columns":         {method: "GET", path: "/api/data/columns"},
		"filters":         {method: "GET", path: "/api/data/filters"},
		"add":             {method: "POST", path: "/api/data/add"},
		"auto_add_start":  {method: "POST", path: "/api/data/auto-add/start"},
		"auto_add_stop":   {method: "POST", path: "/api/data/auto-add/stop"},
		"auto_add_status": {method: "GET", path: "/api/data/auto-add/status"},
		"statistics":      {method: "GET", path: "/api/data/statistics"},
	}
}

// NewMockBackend creates a mock data API backend and starts its HTTP test
// server.
func NewMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:            t,
		operations:   make(map[string]*operationConfig),
		receivedByOp: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	for opID, route := range DataRoutes() {
		mux.HandleFunc(route.method+" "+route.path, mb.handleOperation(opID))
	}

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)

	return mb
}

// URL returns the API base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL + "/api"
}

// OnOperation returns a builder for configuring responses for the named operation.
func (mb *MockBackend) OnOperation(operationID string) *OperationMock {
	if _, ok := DataRoutes()[operationID]; !ok {
		mb.t.Fatalf("mock: unknown operation %q", operationID)
	}
	return &OperationMock{
		backend: mb,
		opID:    operationID,
	}
}

// RespondWith configures the operation to respond with the given status and body.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		body:   body,
	})
	return om
}

// RespondWithRaw configures the operation to respond with a body written
// verbatim, for malformed payloads.
func (om *OperationMock) RespondWithRaw(status int, raw string) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		raw:    []byte(raw),
	})
	return om
}

// RespondWithError configures the operation to respond with a detail/message
// error body.
func (om *OperationMock) RespondWithError(status int, detail, message string) *OperationMock {
	body := map[string]any{}
	if detail != "" {
		body["detail"] = detail
	}
	if message != "" {
		body["message"] = message
	}
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		body:   body,
	})
	return om
}

// RespondWithDelay configures a delayed response to simulate slow backends.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		body:   body,
		delay:  delay,
	})
	return om
}

// RespondWithConnectionError configures the operation to close the connection
// to simulate a backend failure.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		connError: true,
	})
	return om
}

func (mb *MockBackend) addResponse(opID string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.operations[opID]
	if !ok {
		cfg = &operationConfig{}
		mb.operations[opID] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handleOperation(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Record the request.
		rec := &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Headers:    r.Header.Clone(),
			ReceivedAt: time.Now(),
		}
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			rec.RawBody = body
			if len(body) > 0 {
				var parsed map[string]any
				if err := json.Unmarshal(body, &parsed); err == nil {
					rec.Body = parsed
				}
			}
		}

		mb.mu.Lock()
		mb.receivedByOp[opID] = append(mb.receivedByOp[opID], rec)
		mb.mu.Unlock()

		// Get configured response.
		resp := mb.getNextResponse(opID)
		if resp == nil {
			w.WriteHeader(http.StatusNotImplemented)
			json.NewEncoder(w).Encode(map[string]string{
				"detail": fmt.Sprintf("mock: no response configured for %s", opID),
			})
			return
		}

		if resp.connError {
			// Hijack the connection and close it to simulate a connection error.
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				if conn != nil {
					conn.Close()
				}
			}
			return
		}

		if resp.delay > 0 {
			select {
			case <-time.After(resp.delay):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		switch {
		case resp.raw != nil:
			w.Write(resp.raw)
		case resp.body != nil:
			json.NewEncoder(w).Encode(resp.body)
		}
	}
}

func (mb *MockBackend) getNextResponse(opID string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.operations[opID]
	mb.mu.RUnlock()
	if !ok || cfg == nil {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if len(cfg.responses) == 0 {
		return nil
	}

	idx := cfg.current
	if idx >= len(cfg.responses) {
		// Repeat the last response for subsequent calls.
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the operation was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, operationID string, expectedCount int) {
	t.Helper()
	mb.mu.RLock()
	actual := len(mb.receivedByOp[operationID])
	mb.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock: operation %q called %d times, want %d", operationID, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the operation was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	mb.AssertCalled(t, operationID, 0)
}

// LastRequest returns the last request received for the given operation.
// Returns nil if no requests were recorded.
func (mb *MockBackend) LastRequest(operationID string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns all requests received for the given operation.
func (mb *MockBackend) AllRequests(operationID string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// ResetOperation clears recorded requests and configured responses for one operation.
func (mb *MockBackend) ResetOperation(operationID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.operations, operationID)
	delete(mb.receivedByOp, operationID)
}
