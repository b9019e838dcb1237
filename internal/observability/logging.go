package observability

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/model"
)

// Context key for the logger.
type loggerKey struct{}

// NewLogger creates a zap.Logger configured for JSON output to stdout.
//
// Log level usage conventions:
//   - error: protocol errors from the backend, unhandled panics, 5xx responses
//   - warn:  transport and server errors, rejected requests (4xx)
//   - info:  request start/end, auto-add generator start/stop, dataset load
//   - debug: per-call client details, cache operations, payload excerpts
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	return newLogger(cfg, "stdout")
}

// NewStderrLogger is NewLogger writing to stderr, for command-line tools
// whose stdout carries results.
func NewStderrLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	return newLogger(cfg, "stderr")
}

func newLogger(cfg config.ObservabilityConfig, output string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Sampling = nil
	zapCfg.EncoderConfig = enc
	zapCfg.OutputPaths = []string{output}
	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger enriched with RequestContext fields.
// If no logger is in the context, the fallback is used.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.Token != 0 {
		fields = append(fields, zap.Uint64("request_token", rctx.Token))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}

	return logger.With(fields...)
}

// defaultRedacted names the fields whose values never reach the logs,
// matched case-insensitively at any depth of a payload.
var defaultRedacted = []string{
	"password", "secret", "token", "api_key", "authorization",
	"email", "phone", "id_card",
}

const redacted = "[REDACTED]"

// RedactPayload decodes a backend payload into a log field, replacing the
// values of the default and the given sensitive fields. Payloads that are not
// JSON objects or arrays are logged by size only.
func RedactPayload(payload []byte, sensitiveFields []string) zap.Field {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return zap.Int("payload_bytes", len(payload))
	}
	switch decoded.(type) {
	case map[string]any, []any:
	default:
		return zap.Int("payload_bytes", len(payload))
	}

	hidden := make(map[string]bool, len(defaultRedacted)+len(sensitiveFields))
	for _, f := range slices.Concat(defaultRedacted, sensitiveFields) {
		hidden[strings.ToLower(f)] = true
	}
	return zap.Any("payload", redact(decoded, hidden))
}

// redact rewrites v in place.
func redact(v any, hidden map[string]bool) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			if hidden[strings.ToLower(k)] {
				x[k] = redacted
				continue
			}
			x[k] = redact(item, hidden)
		}
	case []any:
		for i, item := range x {
			x[i] = redact(item, hidden)
		}
	}
	return v
}
