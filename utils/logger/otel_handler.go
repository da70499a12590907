// ABOUTME: This file fans log records out to the local handler and the OTel bridge
// ABOUTME: Uses the global OTel logger provider configured by the deployment
package logger

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// fanoutHandler duplicates records to the local handler and the OTel log
// bridge. The bridge is a no-op until a global logger provider is installed.
type fanoutHandler struct {
	local slog.Handler
	otel  slog.Handler
}

func newOTelFanoutHandler(local slog.Handler, serviceName string) slog.Handler {
	return &fanoutHandler{
		local: local,
		otel:  otelslog.NewHandler(serviceName),
	}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.local.Enabled(ctx, level) || h.otel.Enabled(ctx, level)
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.local.Enabled(ctx, record.Level) {
		if err := h.local.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	if h.otel.Enabled(ctx, record.Level) {
		return h.otel.Handle(ctx, record.Clone())
	}
	return nil
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanoutHandler{
		local: h.local.WithAttrs(attrs),
		otel:  h.otel.WithAttrs(attrs),
	}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return &fanoutHandler{
		local: h.local.WithGroup(name),
		otel:  h.otel.WithGroup(name),
	}
}
