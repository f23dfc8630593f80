package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Probe reports master health for the probe endpoints.
type Probe interface {
	// ShuttingDown is true once the master has begun exiting.
	ShuttingDown() bool
	// Ready is true while at least one worker is accepting connections.
	Ready() bool
}

// Server serves /metrics, /healthz and /readyz over TCP.
type Server struct {
	collector *Collector
	probe     Probe
	logger    *slog.Logger
	ln        net.Listener
	srv       *http.Server
}

// NewServer creates a metrics server. probe may be nil, in which case the
// master is always reported healthy and ready.
func NewServer(c *Collector, probe Probe, logger *slog.Logger) *Server {
	s := &Server{collector: c, probe: probe, logger: logger}
	s.srv = &http.Server{
		Handler:           s.buildMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.collector.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	return mux
}

// Start binds addr and begins serving in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot bind metrics listener %s: %w", addr, err)
	}
	s.ln = ln

	host, _, _ := net.SplitHostPort(addr)
	if host == "0.0.0.0" || host == "" || host == "::" {
		s.logger.Warn("metrics server bound to all interfaces", "addr", addr)
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	s.logger.Info("metrics server started", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address, or empty if not started.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return ""
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.probe != nil && s.probe.ShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "shutting_down",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.probe == nil || s.probe.Ready() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status": "not_ready",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
