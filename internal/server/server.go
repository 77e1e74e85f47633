// Package server provides the authenticated HTTP surface of the node agent.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/semaphore"

	"github.com/workspace/node-agent/internal/audit"
	"github.com/workspace/node-agent/internal/auth"
	"github.com/workspace/node-agent/internal/config"
	"github.com/workspace/node-agent/internal/executor"
	"github.com/workspace/node-agent/internal/sysinfo"
)

// ServiceName identifies the agent in health responses.
const ServiceName = "node-agent"

// Telemetry is the host data source behind the metrics endpoints.
type Telemetry interface {
	CPUSockets(ctx context.Context) ([]sysinfo.CPUSocket, error)
	CPUUsage(ctx context.Context) ([]float64, error)
	MemoryUsage(ctx context.Context) (sysinfo.MemoryUsage, error)
	InterfaceCounters() (map[string]sysinfo.InterfaceCounters, error)
	Host(ctx context.Context) sysinfo.HostInfo
	Agent() sysinfo.AgentInfo
}

// Server is the HTTP server for the node agent.
type Server struct {
	config     *config.Config
	httpServer *http.Server
	gate       *auth.Gate
	invoker    executor.Invoker
	telemetry  Telemetry
	audit      *audit.Store
	slots      *semaphore.Weighted
	startedAt  time.Time
}

// New creates a new server instance. When auditing is enabled the action
// store is opened here and closed by Stop.
func New(cfg *config.Config) (*Server, error) {
	gate, err := auth.NewGate(cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("create auth gate: %w", err)
	}

	var store *audit.Store
	if cfg.AuditEnabled {
		store, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
	}

	s := &Server{
		config:  cfg,
		gate:    gate,
		invoker: newInstrumentedInvoker(executor.NewExecInvoker(cfg.CommandTimeout)),
		telemetry: sysinfo.NewCollector(sysinfo.CollectorConfig{
			ProcRoot:          cfg.ProcRoot,
			CPUSampleInterval: cfg.CPUSampleInterval,
		}),
		audit:     store,
		slots:     semaphore.NewWeighted(int64(cfg.Workers)),
		startedAt: time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		ReadTimeout:       cfg.HTTPReadTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	return s, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return s.withMiddleware(mux)
}

// Start listens on the configured address and serves until Stop is called.
// Readiness is reported to systemd once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("Starting node agent",
		"addr", ln.Addr().String(),
		"workers", s.config.Workers,
		"service", s.config.ServiceName,
		"version", sysinfo.Version,
	)
	notifySystemd(daemon.SdNotifyReady)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server and closes the audit store.
func (s *Server) Stop(ctx context.Context) error {
	notifySystemd(daemon.SdNotifyStopping)

	err := s.httpServer.Shutdown(ctx)

	if closeErr := s.audit.Close(); closeErr != nil {
		slog.Warn("Failed to close audit store", "error", closeErr)
	}

	return err
}

// notifySystemd sends an sd_notify state. It is a no-op outside systemd.
func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		slog.Warn("systemd notification failed", "state", state, "error", err)
		return
	}
	if sent {
		slog.Debug("systemd notified", "state", state)
	}
}
