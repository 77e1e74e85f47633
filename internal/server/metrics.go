package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/workspace/node-agent/internal/executor"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_agent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "node_agent_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "node_agent_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)

	panicRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "node_agent_panic_recoveries_total",
			Help: "Total number of panics recovered in HTTP handlers",
		},
	)

	workerSlotRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "node_agent_worker_slot_rejects_total",
			Help: "Requests abandoned while waiting for a worker slot",
		},
	)

	workerSlotWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "node_agent_worker_slot_wait_seconds",
			Help:    "Time spent waiting for a worker slot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Command invocation metrics
	commandInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_agent_command_invocations_total",
			Help: "External command invocations by outcome (ok, failed, spawn_error)",
		},
		[]string{"command", "outcome"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "node_agent_command_duration_seconds",
			Help:    "External command wall time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"command"},
	)
)

// metricsMiddleware records RED metrics. Requests are labelled with the
// matched route pattern so unknown paths cannot inflate label cardinality.
func metricsMiddleware(mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}

		wrapped := newResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// instrumentedInvoker records invocation counts and durations per command.
type instrumentedInvoker struct {
	next executor.Invoker
}

func newInstrumentedInvoker(next executor.Invoker) *instrumentedInvoker {
	return &instrumentedInvoker{next: next}
}

func (i *instrumentedInvoker) Invoke(ctx context.Context, command string, args ...string) (*executor.Result, error) {
	start := time.Now()
	result, err := i.next.Invoke(ctx, command, args...)
	commandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "spawn_error"
	case !result.ExitSucceeded:
		outcome = "failed"
	}
	commandInvocationsTotal.WithLabelValues(command, outcome).Inc()

	return result, err
}
