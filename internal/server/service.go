package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/workspace/node-agent/internal/audit"
	"github.com/workspace/node-agent/internal/executor"
	"github.com/workspace/node-agent/internal/journal"
)

const defaultHistoryLimit = 50

var pastTense = map[string]string{
	"start":   "started",
	"stop":    "stopped",
	"reload":  "reloaded",
	"restart": "restarted",
}

// systemctl runs `systemctl <action> <unit>` for the managed unit and returns
// the trimmed stdout. On failure the error text is stderr for a non-zero exit
// or the spawn error otherwise; result is nil only when spawning failed.
func (s *Server) systemctl(r *http.Request, action string) (string, *executor.Result, error) {
	result, err := s.runCommand(r, s.config.SystemctlBin, action, s.config.ServiceName)
	if err != nil {
		return "", nil, err
	}
	if !result.ExitSucceeded {
		return "", result, errors.New(result.Stderr)
	}
	return strings.TrimSpace(result.Stdout), result, nil
}

// handleServiceAction returns a handler for one state-changing systemctl
// action. Each attempt is written to the audit store.
func (s *Server) handleServiceAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		label := s.config.ServiceLabel
		_, result, err := s.systemctl(r, action)

		s.recordAction(r, action, result, err)

		if err != nil {
			slog.Warn("Service action failed", "action", action, "unit", s.config.ServiceName, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to %s %s", action, label), err.Error())
			return
		}

		slog.Info("Service action succeeded", "action", action, "unit", s.config.ServiceName)
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Successfully %s %s", pastTense[action], label),
		})
	}
}

// handleServiceStatus returns `systemctl status` output. The status field is
// omitted when the command printed nothing.
func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	label := s.config.ServiceLabel
	stdout, _, err := s.systemctl(r, "status")
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch %s status", label), err.Error())
		return
	}

	response := map[string]string{
		"message": fmt.Sprintf("%s status fetched successfully", label),
	}
	if stdout != "" {
		response["status"] = stdout
	}
	writeJSON(w, http.StatusOK, response)
}

// handleServiceHistory lists recent audited actions, newest first.
func (s *Server) handleServiceHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > audit.MaxRecent {
			writeError(w, http.StatusBadRequest, "Invalid limit",
				fmt.Sprintf("limit must be an integer between 1 and %d", audit.MaxRecent))
			return
		}
		limit = n
	}

	actions, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to read service history", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch service history", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Service history fetched successfully",
		"actions": actions,
	})
}

// handleServiceLogs returns the newest journal entries of the managed unit.
func (s *Server) handleServiceLogs(w http.ResponseWriter, r *http.Request) {
	lines := journal.DefaultLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > journal.MaxLines {
			writeError(w, http.StatusBadRequest, "Invalid lines",
				fmt.Sprintf("lines must be an integer between 1 and %d", journal.MaxLines))
			return
		}
		lines = n
	}

	result, err := s.runCommand(r, s.config.JournalctlBin, journal.Args(s.config.ServiceName, lines)...)
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

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("%s logs fetched successfully", s.config.ServiceLabel),
		"entries": journal.ParseJSON(result.Stdout),
	})
}

func (s *Server) recordAction(r *http.Request, action string, result *executor.Result, actionErr error) {
	entry := audit.Action{
		Action:    action,
		Unit:      s.config.ServiceName,
		Succeeded: actionErr == nil,
		RequestID: requestIDFromContext(r.Context()),
	}
	if actionErr != nil {
		entry.Error = actionErr.Error()
	}
	if result != nil {
		entry.ExitCode = result.ExitCode
		entry.DurationMs = result.Duration.Milliseconds()
	} else {
		entry.ExitCode = -1
	}

	if err := s.audit.Record(context.WithoutCancel(r.Context()), entry); err != nil {
		slog.Warn("Failed to record service action", "action", action, "error", err)
	}
}
