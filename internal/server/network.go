package server

import (
	"net/http"

	"github.com/workspace/node-agent/internal/sysinfo"
)

// handleInterfaces runs `ip addr show` and returns the parsed interfaces.
func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	result, err := s.runCommand(r, s.config.IPBin, "addr", "show")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to execute", err.Error())
		return
	}
	if !result.ExitSucceeded {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Command failed",
			"stderr":  result.Stderr,
		})
		return
	}

	interfaces := sysinfo.ParseIPAddr(result.Stdout)
	if interfaces == nil {
		interfaces = []sysinfo.NetworkInterface{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Interfaces fetched successfully",
		"interfaces": interfaces,
	})
}

// handleNetworkStats returns cumulative per-interface counters.
func (s *Server) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	counters, err := s.telemetry.InterfaceCounters()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to execute", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Network stats fetched successfully",
		"output":  counters,
	})
}

func (s *Server) handleTraceroute(w http.ResponseWriter, r *http.Request) {
	s.runPassthrough(w, r, s.config.TracerouteBin, "Traceroute completed successfully")
}
