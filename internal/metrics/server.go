package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the Prometheus scrape endpoint and the JSON route snapshot
// on a port separate from the API.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a metrics server. path defaults to /metrics.
func NewServer(port int, path string, c *Collector, logger *zap.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      Handler(path, c),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the mux served by the metrics server
func Handler(path string, c *Collector) http.Handler {
	mux := http.NewServeMux()
	if prom := c.Prometheus(); prom != nil {
		mux.Handle(path, promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{}))
	}
	mux.HandleFunc(path+"/snapshot", func(w http.ResponseWriter, r *http.Request) {
		snapshot := []RouteSnapshot{}
		if reg := c.Registry(); reg != nil {
			snapshot = reg.Snapshot()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"routes": snapshot})
	})
	return mux
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")
	return s.httpServer.Shutdown(ctx)
}
