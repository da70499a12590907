package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newswatch/config"
)

// Server exposes the Prometheus scrape endpoint on its own port.
type Server struct {
	cfg    config.MetricsConfig
	server *http.Server
	logger *slog.Logger
}

// NewServer creates the metrics HTTP server for the given metric set.
func NewServer(cfg config.MetricsConfig, m *Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		logger: logger,
	}
}

// Start serves scrapes in the background. Disabled metrics are a no-op.
func (s *Server) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	go func() {
		s.logger.InfoContext(ctx, "metrics server listening", "addr", s.server.Addr, "path", s.cfg.Path)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorContext(ctx, "metrics server failed", "error", err)
		}
	}()
}

// Stop shuts the scrape endpoint down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.server.Shutdown(ctx)
}
