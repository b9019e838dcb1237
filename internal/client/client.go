// Package client executes table data requests against the backend, reconciles
// the response shapes the backend may use into one canonical result, and
// classifies every failure into one of four kinds.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/mount"
	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/model"
)

// endpoint is one operation of the data API.
type endpoint struct {
	name   string
	method string
	path   string
}

var (
	epList         = endpoint{"list", http.MethodPost, "/data/list"}
	epRowPosition  = endpoint{"row_position", http.MethodPost, "/data/row-position"}
	epRowDetail    = endpoint{"row_detail", http.MethodPost, "/data/row-detail"}
	epColumns      = endpoint{"columns", http.MethodGet, "/data/columns"}
	epFilters      = endpoint{"filters", http.MethodGet, "/data/filters"}
	epAdd          = endpoint{"add", http.MethodPost, "/data/add"}
	epAutoAddStart = endpoint{"auto_add_start", http.MethodPost, "/data/auto-add/start"}
	epAutoAddStop  = endpoint{"auto_add_stop", http.MethodPost, "/data/auto-add/stop"}
	epAutoAddState = endpoint{"auto_add_status", http.MethodGet, "/data/auto-add/status"}
	epStatistics   = endpoint{"statistics", http.MethodGet, "/data/statistics"}
)

// Client talks to one backend. It holds no per-call state and is safe for
// concurrent use.
type Client struct {
	baseURL          string
	http             *http.Client
	locale           string
	maxResponseBytes int64
	instanceID       string
	sensitiveFields  []string
	logger           *zap.Logger
	metrics          *observability.Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. The configured timeout is
// not applied to a replacement client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the fallback logger used when the call context carries none.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics enables Prometheus recording of calls and failures.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithInstanceID routes every call to one mounted viewer instance.
func WithInstanceID(id string) Option {
	return func(c *Client) { c.instanceID = id }
}

// WithSensitiveFields adds row fields to redact from debug payload logs.
func WithSensitiveFields(fields ...string) Option {
	return func(c *Client) { c.sensitiveFields = append(c.sensitiveFields, fields...) }
}

// New creates a Client for the backend described by cfg.
func New(cfg config.ClientConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	c := &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		locale:           cfg.Locale,
		maxResponseBytes: maxBytes,
		logger:           zap.NewNop(),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HealthCheck reports whether the backend answers the auto-add status
// endpoint with a recognized payload.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.AutoAddStatus(ctx)
	return err
}

// call performs one request, resolves its payload against l and hands the
// inner payload to decode. The inner payload is nil when an acknowledgment
// carried no data. A plain error from decode is reported as an unrecognized
// payload; a *model.Error is returned as-is.
func (c *Client) call(ctx context.Context, ep endpoint, body any, l layout, decode func(json.RawMessage) error) error {
	ctx, span := observability.StartDataCall(ctx, ep.name, c.instanceID)

	start := time.Now()
	status, payload, err := c.roundTrip(ctx, ep, body)
	if err == nil {
		var inner json.RawMessage
		inner, err = c.unwrap(ctx, ep, status, payload, l)
		if err == nil {
			err = c.decodeInner(ctx, ep, inner, decode)
		}
	}
	c.observe(ctx, ep, status, payload, time.Since(start), err)
	observability.EndSpan(span, err)
	return err
}

func (c *Client) decodeInner(ctx context.Context, ep endpoint, inner json.RawMessage, decode func(json.RawMessage) error) error {
	err := decode(inner)
	if err == nil {
		return nil
	}
	var e *model.Error
	if errors.As(err, &e) {
		return e
	}
	return badFormat(model.LocaleFrom(ctx, c.locale), ep, inner, err)
}

// roundTrip sends the request and reads the response. Every failure it
// returns is a classified *model.Error.
func (c *Client) roundTrip(ctx context.Context, ep endpoint, body any) (int, []byte, error) {
	locale := model.LocaleFrom(ctx, c.locale)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, model.NewFieldValidationError("body", model.CodeInvalid,
				fmt.Sprintf("request body cannot be encoded: %v", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, ep.method, c.baseURL+ep.path, reader)
	if err != nil {
		return 0, nil, model.NewTransportError(localize(locale, msgUnreachable), err)
	}
	req.Header = c.headers(ctx, ep.method, locale)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, classifyTransport(locale, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return resp.StatusCode, nil, classifyTransport(locale, err)
	}
	if int64(len(payload)) > c.maxResponseBytes {
		return resp.StatusCode, payload, model.NewProtocolError(localize(locale, msgResponseTooLarge), payload, nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, payload, model.NewServerError(resp.StatusCode, serverMessage(locale, payload), payload)
	}
	return resp.StatusCode, payload, nil
}

// unwrap resolves the shape of a 2xx payload and returns its inner part.
func (c *Client) unwrap(ctx context.Context, ep endpoint, status int, payload []byte, l layout) (json.RawMessage, error) {
	locale := model.LocaleFrom(ctx, c.locale)
	obj, err := parseObject(payload)
	if err != nil {
		return nil, badFormat(locale, ep, payload, err)
	}
	switch l.resolve(obj) {
	case shapeBare:
		return payload, nil
	case shapeEnveloped:
		if !present(obj, "data") {
			return nil, nil
		}
		return obj["data"], nil
	}
	// Only control layouts treat {success: false} as a rejection. On reads it
	// is a payload the operation does not recognize.
	if l.rejected != msgNone && isFailure(obj) {
		msg, ok := rejection(obj)
		if !ok {
			msg = localize(locale, l.rejected)
		}
		return nil, model.NewServerError(status, msg, payload)
	}
	return nil, badFormat(locale, ep, payload, nil)
}

func (c *Client) headers(ctx context.Context, method, locale string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if method == http.MethodPost {
		h.Set("Content-Type", "application/json")
	}
	if locale != "" {
		h.Set("Accept-Language", sanitizeHeader(locale))
	}

	correlationID := ""
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		correlationID = rctx.CorrelationID
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	h.Set("X-Correlation-Id", sanitizeHeader(correlationID))

	if c.instanceID != "" {
		h.Set(mount.Header, sanitizeHeader(c.instanceID))
	}
	observability.InjectTraceHeaders(ctx, h)
	return h
}

// observe logs and records one completed call.
func (c *Client) observe(
	ctx context.Context,
	ep endpoint,
	status int,
	payload []byte,
	duration time.Duration,
	err error,
) {
	logger := observability.RequestLogger(ctx, c.logger).With(
		zap.String("operation", ep.name),
		zap.Int("status", status),
		zap.Duration("duration", duration),
	)
	if c.metrics != nil {
		c.metrics.RecordClientRequest(ep.name, status, duration)
	}

	if err == nil {
		logger.Debug("data call completed")
		return
	}

	kind := model.KindOf(err)
	if c.metrics != nil {
		c.metrics.RecordClientFailure(ep.name, string(kind))
	}

	fields := []zap.Field{zap.String("kind", string(kind)), zap.Error(err)}
	if cause := errors.Unwrap(err); cause != nil {
		fields = append(fields, zap.NamedError("cause", cause))
	}
	switch kind {
	case model.KindProtocol:
		logger.Error("data call returned an unrecognized payload", fields...)
	case model.KindValidation:
		logger.Debug("data call rejected before sending", fields...)
	default:
		logger.Warn("data call failed", fields...)
	}
	if len(payload) > 0 && logger.Core().Enabled(zap.DebugLevel) {
		logger.Debug("data call payload", observability.RedactPayload(payload, c.sensitiveFields))
	}
}

// classifyTransport turns an error from sending the request or reading the
// response into a TRANSPORT_ERROR. The cause is kept for logs only.
func classifyTransport(locale string, err error) *model.Error {
	if isTimeout(err) {
		return model.NewTransportError(localize(locale, msgTimeout), err)
	}
	return model.NewTransportError(localize(locale, msgUnreachable), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// serverMessage picks the message of a non-2xx response: detail, then
// message, then a generic localized text.
func serverMessage(locale string, payload []byte) string {
	if obj, err := parseObject(payload); err == nil {
		for _, key := range []string{"detail", "message"} {
			if msg := stringMember(obj, key); msg != "" {
				return msg
			}
		}
	}
	return localize(locale, msgServerError)
}

func badFormat(locale string, ep endpoint, payload []byte, cause error) *model.Error {
	msg := fmt.Sprintf("%s (%s)", localize(locale, msgBadFormat), ep.name)
	return model.NewProtocolError(msg, payload, cause)
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
