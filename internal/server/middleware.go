package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const contextKeyRequestID contextKey = "requestID"

// requestIDFromContext returns the request ID set by requestIDMiddleware.
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// withMiddleware wraps the mux with the common middleware chain. Every request,
// including unknown paths and /metrics, passes the auth gate before routing.
func (s *Server) withMiddleware(mux *http.ServeMux) http.Handler {
	var h http.Handler = jsonUnmatched(mux)
	h = s.workerSlotMiddleware(h)
	if s.gate != nil {
		h = s.gate.Middleware(h)
	}
	h = panicRecoveryMiddleware(h)
	h = loggingMiddleware(h)
	h = requestIDMiddleware(h)
	return metricsMiddleware(mux, h)
}

// requestIDMiddleware extracts or generates request IDs.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// panicRecoveryMiddleware converts handler panics into a 500 JSON response.
// When the handler already sent headers the response is left as it is.
func panicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := newResponseWriter(w)
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				panicRecoveries.Inc()
				var errMsg string
				switch v := err.(type) {
				case error:
					errMsg = v.Error()
				default:
					errMsg = fmt.Sprintf("%v", v)
				}
				slog.Error("Panic recovered",
					"error", errMsg,
					"requestID", requestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"headersSent", rw.written,
				)
				if !rw.written {
					writeError(rw, http.StatusInternalServerError, "Internal server error", "internal_error")
				}
			}
		}()
		next.ServeHTTP(rw, r)
	})
}

// loggingMiddleware writes one access log line per request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		slog.Info("HTTP request",
			"requestID", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.Status(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}

// workerSlotMiddleware bounds the number of handlers running at once. A
// request that loses its client while queued is answered with 503.
func (s *Server) workerSlotMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.slots == nil {
			next.ServeHTTP(w, r)
			return
		}

		waitStart := time.Now()
		if err := s.slots.Acquire(r.Context(), 1); err != nil {
			workerSlotRejects.Inc()
			writeError(w, http.StatusServiceUnavailable, "Server busy", err.Error())
			return
		}
		defer s.slots.Release(1)
		workerSlotWait.Observe(time.Since(waitStart).Seconds())

		next.ServeHTTP(w, r)
	})
}
