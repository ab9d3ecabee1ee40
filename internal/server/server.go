// Package server exposes the operational surface of the smart alerts
// service: Prometheus metrics, liveness and readiness over HTTP, and the
// standard gRPC health service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/saashqdev/ops-center-sub002/internal/supervisor"
)

// ServiceName is the gRPC health service name reported next to "".
const ServiceName = "smartalerts"

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LoopReporter reports the background loops.
type LoopReporter interface {
	Running() bool
	Status() map[string]supervisor.TaskStatus
}

// QueueReporter reports the ingest backlog.
type QueueReporter interface {
	Pending() int
}

// Config holds the listener settings.
type Config struct {
	Host            string
	HTTPPort        int
	GRPCPort        int
	ShutdownTimeout time.Duration
	// HealthInterval is how often the gRPC health status is refreshed.
	HealthInterval time.Duration
	// PingTimeout bounds the store ping of a readiness check.
	PingTimeout time.Duration
	Version     string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HTTPPort:        9090,
		GRPCPort:        9091,
		ShutdownTimeout: 30 * time.Second,
		HealthInterval:  5 * time.Second,
		PingTimeout:     2 * time.Second,
	}
}

// Server runs the ops HTTP and gRPC listeners.
type Server struct {
	cfg    Config
	store  Pinger
	loops  LoopReporter
	queue  QueueReporter
	logger *zap.Logger

	health     *health.Server
	grpcServer *grpc.Server
	httpServer *http.Server

	mu      sync.RWMutex
	serving bool
}

// New creates a server. queue may be nil.
func New(cfg Config, store Pinger, loops LoopReporter, queue QueueReporter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		loops:  loops,
		queue:  queue,
		logger: logger.Named("server"),
		health: health.NewServer(),
	}
	s.setServing(grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	s.grpcServer = grpc.NewServer(grpc.ConnectionTimeout(30 * time.Second))
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)

	mux := http.NewServeMux()
	s.registerHandlers(mux)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Health returns the gRPC health server.
func (s *Server) Health() *health.Server { return s.health }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves HTTP and gRPC until ctx is done, then shuts both down within
// ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	grpcAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server starting", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.logger.Info("gRPC server starting", zap.String("address", grpcAddr))
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.watchHealth(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown() {
	s.logger.Info("stopping servers")
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("gRPC server forced to stop after timeout")
		s.grpcServer.Stop()
	}
}

// watchHealth mirrors readiness into the gRPC health service.
func (s *Server) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		s.RefreshHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshHealth re-evaluates readiness and updates the gRPC health status.
func (s *Server) RefreshHealth(ctx context.Context) {
	ready, _ := s.readiness(ctx)
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ready {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.setServing(status)
}

func (s *Server) setServing(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.mu.Lock()
	changed := s.serving != (status == grpc_health_v1.HealthCheckResponse_SERVING)
	s.serving = status == grpc_health_v1.HealthCheckResponse_SERVING
	s.mu.Unlock()

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	if changed {
		s.logger.Info("health status changed", zap.String("status", status.String()))
	}
}

// readiness reports whether the loops run and the store answers, with the
// reason for each failing check.
func (s *Server) readiness(ctx context.Context) (bool, map[string]string) {
	checks := map[string]string{}
	if s.loops == nil || !s.loops.Running() {
		checks["loops"] = "not running"
	}
	if s.store != nil {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
		err := s.store.Ping(pctx)
		cancel()
		if err != nil {
			checks["store"] = err.Error()
		}
	}
	return len(checks) == 0, checks
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ready, checks := s.readiness(r.Context())
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": checks,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := map[string]any{
		"version": s.cfg.Version,
	}
	if s.loops != nil {
		body["running"] = s.loops.Running()
		body["loops"] = s.loops.Status()
	}
	if s.queue != nil {
		body["queue_pending"] = s.queue.Pending()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
