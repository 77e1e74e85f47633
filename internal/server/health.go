package server

import (
	"net/http"
	"time"

	"github.com/workspace/node-agent/internal/sysinfo"
)

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// uptime reports how long this agent process has been serving.
func (s *Server) uptime() string {
	if s.startedAt.IsZero() {
		return "unknown"
	}
	return sysinfo.FormatUptime(time.Since(s.startedAt).Seconds())
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Service is healthy",
		"status":    "healthy",
		"service":   ServiceName,
		"version":   sysinfo.Version,
		"timestamp": nowRFC3339(),
		"uptime":    s.uptime(),
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "pong",
		"timestamp": nowRFC3339(),
	})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Hello, World!",
	})
}

// agentInfo extends the build and runtime details with server settings.
type agentInfo struct {
	sysinfo.AgentInfo
	Workers int    `json:"workers"`
	Service string `json:"service"`
	Uptime  string `json:"uptime"`
}

// handleInfo reports agent build details and host identity in one payload.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	agent := agentInfo{
		AgentInfo: s.telemetry.Agent(),
		Uptime:    s.uptime(),
	}
	if s.config != nil {
		agent.Workers = s.config.Workers
		agent.Service = s.config.ServiceName
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Agent information fetched successfully",
		"agent":   agent,
		"host":    s.telemetry.Host(r.Context()),
	})
}
