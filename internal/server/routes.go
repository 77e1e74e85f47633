package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workspace/node-agent/internal/executor"
)

// maxPassthroughBody caps the optional {"args": [...]} request body.
const maxPassthroughBody = 64 << 10

var errBodyTooLarge = errors.New("request body exceeds 64 KiB")

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /test", s.handleTest)
	mux.HandleFunc("GET /info", s.handleInfo)

	// Host metrics
	mux.HandleFunc("GET /system/metrics/cpu", s.handleCPUInfo)
	mux.HandleFunc("GET /system/metrics/cpu/usage", s.handleCPUUsage)
	mux.HandleFunc("GET /system/metrics/memory", s.handleMemoryInfo)
	mux.HandleFunc("GET /system/metrics/memory/usage", s.handleMemoryUsage)
	mux.HandleFunc("POST /system/metrics/speedtest", s.handleSpeedtest)

	// Network
	mux.HandleFunc("GET /system/network/interfaces", s.handleInterfaces)
	mux.HandleFunc("GET /system/network/stats", s.handleNetworkStats)
	mux.HandleFunc("POST /system/network/traceroute", s.handleTraceroute)
	mux.HandleFunc("POST /system/network/speedtest", s.handleSpeedtest)

	// Managed service control
	mux.HandleFunc("POST /service/start", s.handleServiceAction("start"))
	mux.HandleFunc("POST /service/stop", s.handleServiceAction("stop"))
	mux.HandleFunc("POST /service/reload", s.handleServiceAction("reload"))
	mux.HandleFunc("POST /service/restart", s.handleServiceAction("restart"))
	mux.HandleFunc("GET /service/status", s.handleServiceStatus)
	mux.HandleFunc("GET /service/history", s.handleServiceHistory)
	mux.HandleFunc("GET /service/logs", s.handleServiceLogs)

	mux.Handle("GET /metrics", promhttp.Handler())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a {"message", "error"} response.
func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, map[string]string{
		"message": message,
		"error":   detail,
	})
}

// runCommand invokes a command detached from the request's cancellation so a
// client that disconnects cannot interrupt a half-finished action.
func (s *Server) runCommand(r *http.Request, command string, args ...string) (*executor.Result, error) {
	return s.invoker.Invoke(context.WithoutCancel(r.Context()), command, args...)
}

// writeCommandOutput maps an invocation to the passthrough response shape:
// a spawn failure carries "error", a non-zero exit carries "stderr", and a
// success carries stdout as "output".
func writeCommandOutput(w http.ResponseWriter, result *executor.Result, err error, message string) {
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
	writeJSON(w, http.StatusOK, map[string]string{
		"message": message,
		"output":  result.Stdout,
	})
}

// passthroughArgs reads the optional {"args": [...]} body. A missing or
// malformed body, or an "args" value that is not an array, yields no args.
// Non-string elements are skipped. A body over maxPassthroughBody is
// rejected with errBodyTooLarge rather than truncated.
func passthroughArgs(r *http.Request) ([]string, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPassthroughBody+1))
	if err != nil || len(data) == 0 {
		return nil, nil
	}
	if len(data) > maxPassthroughBody {
		return nil, errBodyTooLarge
	}

	var body struct {
		Args []interface{} `json:"args"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, nil
	}

	args := make([]string, 0, len(body.Args))
	for _, v := range body.Args {
		if arg, ok := v.(string); ok {
			args = append(args, arg)
		}
	}
	return args, nil
}

// runPassthrough runs command with the request's passthrough args.
func (s *Server) runPassthrough(w http.ResponseWriter, r *http.Request, command, message string) {
	args, err := passthroughArgs(r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err.Error())
		return
	}
	result, err := s.runCommand(r, command, args...)
	writeCommandOutput(w, result, err, message)
}

// jsonUnmatched answers requests the mux has no route for (404) or no
// method for (405) with the JSON error shape instead of the mux's plain text.
func jsonUnmatched(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := mux.Handler(r); pattern != "" {
			mux.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(&unmatchedWriter{ResponseWriter: w, method: r.Method, path: r.URL.Path}, r)
	})
}

// unmatchedWriter replaces a 404 or 405 written by the mux with a JSON body
// and drops the mux's own text. Other statuses, such as path-cleaning
// redirects, pass through.
type unmatchedWriter struct {
	http.ResponseWriter
	method    string
	path      string
	rewritten bool
}

func (w *unmatchedWriter) WriteHeader(status int) {
	switch status {
	case http.StatusNotFound:
		w.rewritten = true
		writeError(w.ResponseWriter, status, "Not found", "no route for "+w.path)
	case http.StatusMethodNotAllowed:
		w.rewritten = true
		writeError(w.ResponseWriter, status, "Method not allowed", w.method+" is not allowed on "+w.path)
	default:
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *unmatchedWriter) Write(b []byte) (int, error) {
	if w.rewritten {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}
