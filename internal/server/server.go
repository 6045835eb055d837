// Package server drives client sessions over the shared store. The
// connection handler and codec are strategy-agnostic; the three strategies
// only decide how sessions are scheduled.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"linekv/internal/config"
	"linekv/internal/metrics"
	"linekv/internal/store"
)

// Strategy serves accepted connections under one of the execution models.
// Serve blocks until the context is canceled and every in-flight session has
// finished its current request/response cycle.
type Strategy interface {
	Serve(ctx context.Context, ln net.Listener) error
}

// Server holds everything a session needs: the store, the executor, logging,
// metrics and the registry of live connections used for shutdown.
type Server struct {
	store   *store.Store
	exec    *Executor
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     config.Config

	closing atomic.Bool
	started time.Time
	total   atomic.Int64
	active  atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a new server instance.
func NewServer(db *store.Store, m *metrics.Metrics, logger *zap.Logger, cfg config.Config) *Server {
	return &Server{
		store:   db,
		exec:    NewExecutor(db, m),
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		started: time.Now(),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Strategy builds the concurrency strategy selected by the configuration.
func (s *Server) Strategy() (Strategy, error) {
	switch s.cfg.Strategy {
	case config.StrategySingle:
		return &SingleThreaded{srv: s}, nil
	case config.StrategyPool:
		return NewWorkerPool(s, s.cfg.Workers), nil
	case config.StrategyAsync:
		return &TaskPerConn{srv: s}, nil
	default:
		return nil, errors.Errorf("unknown strategy %q", s.cfg.Strategy)
	}
}

// Stats is the snapshot served by the admin /stats endpoint.
type Stats struct {
	Strategy          string  `json:"strategy"`
	Keys              int     `json:"keys"`
	ActiveConnections int64   `json:"active_connections"`
	TotalConnections  int64   `json:"total_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Strategy:          s.cfg.Strategy,
		Keys:              s.store.Len(),
		ActiveConnections: s.active.Load(),
		TotalConnections:  s.total.Load(),
		UptimeSeconds:     time.Since(s.started).Seconds(),
	}
}

// trackConn registers a live connection. It reports false when the server is
// already shutting down, in which case the caller must close the connection
// without serving it.
func (s *Server) trackConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.total.Inc()
	s.active.Inc()
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.active.Dec()
}

// beginShutdown marks the server as closing and unblocks sessions parked in a
// read. A parked reader has no request in flight, so waking it with an
// expired deadline closes the session exactly as a clean EOF would.
func (s *Server) beginShutdown() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.SetReadDeadline(time.Now())
	}
}

// closeOnDone closes the listener once the context is canceled, which stops
// the accept loop of whichever strategy is running.
func (s *Server) closeOnDone(ctx context.Context, ln net.Listener) {
	<-ctx.Done()
	s.beginShutdown()
	ln.Close()
}
