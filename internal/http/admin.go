// Package http serves the operator-facing endpoints: Prometheus metrics, a
// health check and a stats snapshot. It never touches the wire protocol.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"linekv/internal/metrics"
	"linekv/internal/server"
)

// AdminServer is the observability HTTP server.
type AdminServer struct {
	srv    *server.Server
	m      *metrics.Metrics
	logger *zap.Logger
	server *http.Server
}

// NewAdminServer creates a new admin server over the given KV server.
func NewAdminServer(srv *server.Server, m *metrics.Metrics, logger *zap.Logger) *AdminServer {
	return &AdminServer{
		srv:    srv,
		m:      m,
		logger: logger,
	}
}

// Start serves until the context is canceled, then shuts down gracefully.
func (a *AdminServer) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/stats", a.handleStats)

	a.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("admin server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return a.server.Shutdown(shutdownCtx)
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.srv.Stats())
}
