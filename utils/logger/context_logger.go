// ABOUTME: This file provides context-aware structured logging for newswatch
// ABOUTME: Supports request ID and trace ID propagation with JSON output format
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	TraceIDKey   ContextKey = "trace_id"
	OperationKey ContextKey = "operation"
)

// ContextLogger wraps slog with context value propagation.
type ContextLogger struct {
	logger      *slog.Logger
	serviceName string
}

type LoggerConfig struct {
	Level       string
	Format      string
	ServiceName string
	EnableOTel  bool
}

// NewContextLogger builds a logger writing to stdout in the configured format.
func NewContextLogger(cfg *LoggerConfig) *ContextLogger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	if cfg.EnableOTel {
		handler = newOTelFanoutHandler(handler, cfg.ServiceName)
	}

	logger := slog.New(handler).With("service", cfg.ServiceName)

	return &ContextLogger{
		logger:      logger,
		serviceName: cfg.ServiceName,
	}
}

// Logger returns the underlying slog logger.
func (cl *ContextLogger) Logger() *slog.Logger {
	return cl.logger
}

// WithContext returns a logger enriched with request/trace/operation fields
// found on the context.
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	logger := cl.logger

	var fields []any
	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		fields = append(fields, "request_id", requestID)
	}
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		fields = append(fields, "trace_id", traceID)
	}
	if operation := ctx.Value(OperationKey); operation != nil {
		fields = append(fields, "operation", operation)
	}

	if len(fields) > 0 {
		logger = logger.With(fields...)
	}

	return logger
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithOperation adds an operation name to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
