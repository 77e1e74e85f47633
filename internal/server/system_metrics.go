package server

import (
	"net/http"

	"github.com/workspace/node-agent/internal/sysinfo"
)

// handleCPUInfo returns one record per physical CPU package.
func (s *Server) handleCPUInfo(w http.ResponseWriter, r *http.Request) {
	sockets, err := s.telemetry.CPUSockets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to execute", err.Error())
		return
	}
	if sockets == nil {
		sockets = []sysinfo.CPUSocket{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":            "CPU information fetched successfully",
		"physical_cpu_count": len(sockets),
		"cpus":               sockets,
	})
}

// handleCPUUsage samples per-CPU utilisation. The request holds its worker
// slot for the whole sampling interval.
func (s *Server) handleCPUUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.telemetry.CPUUsage(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to execute", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "CPU usage information fetched successfully",
		"usage":   usage,
	})
}

// handleMemoryInfo passes through the DMI memory device table.
func (s *Server) handleMemoryInfo(w http.ResponseWriter, r *http.Request) {
	command, args := s.config.DmidecodeBin, []string{"--type", "17"}
	if s.config.DmidecodeSudo {
		command, args = "sudo", append([]string{s.config.DmidecodeBin}, args...)
	}

	result, err := s.runCommand(r, command, args...)
	writeCommandOutput(w, result, err, "Memory information fetched successfully")
}

func (s *Server) handleMemoryUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.telemetry.MemoryUsage(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to execute", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Memory usage information fetched successfully",
		"usage":   usage.GiBString(),
	})
}

// handleSpeedtest runs the speedtest CLI with caller-supplied arguments. It
// serves both the metrics and the network route.
func (s *Server) handleSpeedtest(w http.ResponseWriter, r *http.Request) {
	s.runPassthrough(w, r, s.config.SpeedtestBin, "Speedtest completed successfully")
}
