package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Routes are the handlers the monitoring server mounts.
type Routes struct {
	Health       http.Handler
	Registry     *prometheus.Registry
	AlertWebhook http.HandlerFunc // Alertmanager receiver, left unmounted when nil
}

// Server exposes /healthz, /metrics and the Alertmanager webhook next to the bot.
type Server struct {
	log  *slog.Logger
	http *http.Server
}

// New builds a monitoring server listening on port.
func New(log *slog.Logger, port int, routes Routes) *Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", routes.Health)
	mux.Handle("/metrics", promhttp.HandlerFor(routes.Registry, promhttp.HandlerOpts{}))
	if routes.AlertWebhook != nil {
		mux.HandleFunc("/webhook/alertmanager", routes.AlertWebhook)
	}

	return &Server{
		log: log,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
	}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "Starting monitoring server", "addr", s.http.Addr)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.log.InfoContext(ctx, "Monitoring server shutting down.")
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down monitoring server: %w", err)
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("monitoring server failed: %w", err)
	}
}
