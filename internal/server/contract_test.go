package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/workspace/node-agent/internal/auth"
	"github.com/workspace/node-agent/internal/config"
	"github.com/workspace/node-agent/internal/executor"
	"github.com/workspace/node-agent/internal/sysinfo"
)

const testAPIKey = "test-api-key"

// invocation is one call seen by stubInvoker.
type invocation struct {
	Command string
	Args    []string
}

// stubInvoker records invocations and answers with a canned result.
type stubInvoker struct {
	mu     sync.Mutex
	calls  []invocation
	result *executor.Result
	err    error
}

func (s *stubInvoker) Invoke(_ context.Context, command string, args ...string) (*executor.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, invocation{Command: command, Args: append([]string(nil), args...)})
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil {
		return &executor.Result{ExitSucceeded: true}, nil
	}
	copied := *s.result
	return &copied, nil
}

func (s *stubInvoker) Calls() []invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]invocation(nil), s.calls...)
}

// fakeTelemetry serves fixed host data.
type fakeTelemetry struct {
	sockets     []sysinfo.CPUSocket
	socketsErr  error
	usage       []float64
	memory      sysinfo.MemoryUsage
	counters    map[string]sysinfo.InterfaceCounters
	countersErr error
}

func (f *fakeTelemetry) CPUSockets(context.Context) ([]sysinfo.CPUSocket, error) {
	return f.sockets, f.socketsErr
}

func (f *fakeTelemetry) CPUUsage(context.Context) ([]float64, error) {
	return f.usage, nil
}

func (f *fakeTelemetry) MemoryUsage(context.Context) (sysinfo.MemoryUsage, error) {
	return f.memory, nil
}

func (f *fakeTelemetry) InterfaceCounters() (map[string]sysinfo.InterfaceCounters, error) {
	return f.counters, f.countersErr
}

func (f *fakeTelemetry) Host(context.Context) sysinfo.HostInfo {
	return sysinfo.HostInfo{Hostname: "node-1", OS: "linux", LogicalCPUs: 4}
}

func (f *fakeTelemetry) Agent() sysinfo.AgentInfo {
	return sysinfo.AgentInfo{Version: "test"}
}

// newContractTestServer builds a minimal Server suitable for contract tests.
func newContractTestServer(t *testing.T, invoker executor.Invoker) *Server {
	t.Helper()

	gate, err := auth.NewGate(testAPIKey)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	return &Server{
		config: &config.Config{
			Workers:       4,
			ServiceName:   "nginx",
			ServiceLabel:  "NGINX",
			SystemctlBin:  "systemctl",
			IPBin:         "ip",
			TracerouteBin: "traceroute",
			SpeedtestBin:  "speedtest",
			DmidecodeBin:  "dmidecode",
			DmidecodeSudo: true,
			JournalctlBin: "journalctl",
		},
		gate:    gate,
		invoker: invoker,
		telemetry: &fakeTelemetry{
			sockets: []sysinfo.CPUSocket{
				{PhysicalID: "0", Model: "Xeon", VendorID: "GenuineIntel", FrequencyMHz: 2100, LogicalCPUCount: 8},
				{PhysicalID: "1", Model: "Xeon", VendorID: "GenuineIntel", FrequencyMHz: 2100, LogicalCPUCount: 8},
			},
			usage:  []float64{12.5, 3.25},
			memory: sysinfo.MemoryUsage{TotalBytes: 8 << 30, UsedBytes: 2 << 30, AvailableBytes: 6 << 30},
			counters: map[string]sysinfo.InterfaceCounters{
				"eth0": {ReceiveBytes: 100, ReceivePackets: 2, TransmitBytes: 300, TransmitPackets: 4},
			},
		},
		slots:     semaphore.NewWeighted(4),
		startedAt: time.Now().Add(-90 * time.Minute),
	}
}

// serve runs a request through the full middleware chain with a valid token.
func serve(s *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHealthResponseContract(t *testing.T) {
	t.Parallel()

	s := newContractTestServer(t, &stubInvoker{})
	rec := serve(s, http.MethodGet, "/health", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody(t, rec)

	if resp["status"] != "healthy" {
		t.Fatalf("expected status=healthy, got %v", resp["status"])
	}
	if resp["service"] != ServiceName {
		t.Fatalf("expected service=%s, got %v", ServiceName, resp["service"])
	}
	if resp["uptime"] != "1h 30m" {
		t.Fatalf("expected uptime 1h 30m, got %v", resp["uptime"])
	}
	ts, _ := resp["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Fatalf("timestamp %q is not RFC3339: %v", ts, err)
	}
	if _, ok := resp["version"]; !ok {
		t.Fatal("expected version field")
	}
}

func TestPingAndTestContract(t *testing.T) {
	t.Parallel()

	s := newContractTestServer(t, &stubInvoker{})

	resp := decodeBody(t, serve(s, http.MethodGet, "/ping", nil))
	if resp["message"] != "pong" {
		t.Fatalf("expected pong, got %v", resp["message"])
	}
	if _, ok := resp["timestamp"]; !ok {
		t.Fatal("expected timestamp field")
	}

	resp = decodeBody(t, serve(s, http.MethodGet, "/test", nil))
	if resp["message"] != "Hello, World!" {
		t.Fatalf("expected Hello, World!, got %v", resp["message"])
	}
}

func TestInfoContract(t *testing.T) {
	t.Parallel()

	s := newContractTestServer(t, &stubInvoker{})
	rec := serve(s, http.MethodGet, "/info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	resp := decodeBody(t, rec)
	agent, _ := resp["agent"].(map[string]interface{})
	host, _ := resp["host"].(map[string]interface{})
	if agent["version"] != "test" || agent["workers"] != float64(4) || agent["service"] != "nginx" {
		t.Fatalf("unexpected agent section: %v", agent)
	}
	if host["hostname"] != "node-1" {
		t.Fatalf("unexpected host section: %v", host)
	}
}

func TestCPUInfoContract(t *testing.T) {
	t.Parallel()

	s := newContractTestServer(t, &stubInvoker{})
	rec := serve(s, http.MethodGet, "/system/metrics/cpu", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	resp := decodeBody(t, rec)
	if resp["physical_cpu_count"] != float64(2) {
		t.Fatalf("expected 2 physical cpus, got %v", resp["physical_cpu_count"])
	}
	cpus, _ := resp["cpus"].([]interface{})
	if len(cpus) != 2 {
		t.Fatalf("expected 2 cpu records, got %v", resp["cpus"])
	}
	first, _ := cpus[0].(map[string]interface{})
	for _, key := range []string{"physical_id", "model", "vendor_id", "frequency_mhz", "logical_cpu_count"} {
		if _, ok := first[key]; !ok {
			t.Fatalf("cpu record missing %q: %v", key, first)
		}
	}
}

func TestCPUInfoReadFailure(t *testing.T) {
	t.Parallel()

	s := newContractTestServer(t, &stubInvoker{})
	s.telemetry.(*fakeTelemetry).socketsErr = errors.New("read cpuinfo: permission denied")

	rec := serve(s, http.MethodGet, "/system/metrics/cpu", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	if resp["message"] != "Failed to execute" || resp["error"] != "read cpuinfo: permission denied" {
		t.Fatalf("unexpected error body: %v", resp)
	}
}

func TestCPUAndMemoryUsageContract(t *testing.T) {
	t.Parallel()

	s := newContractTestServer(t, &stubInvoker{})

	resp := decodeBody(t, serve(s, http.MethodGet, "/system/metrics/cpu/usage", nil))
	usage, _ := resp["usage"].([]interface{})
	if len(usage) != 2 || usage[0] != 12.5 {
		t.Fatalf("unexpected cpu usage: %v", resp)
	}

	resp = decodeBody(t, serve(s, http.MethodGet, "/system/metrics/memory/usage", nil))
	if resp["usage"] != "2.00GiB/8.00GiB" {
		t.Fatalf("unexpected memory usage: %v", resp["usage"])
	}
}

func TestMemoryInfoRunsDmidecode(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{result: &executor.Result{ExitSucceeded: true, Stdout: "Memory Device\n\tSize: 8 GB\n"}}
	s := newContractTestServer(t, stub)

	rec := serve(s, http.MethodGet, "/system/metrics/memory", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	if resp["output"] != "Memory Device\n\tSize: 8 GB\n" {
		t.Fatalf("unexpected output: %v", resp["output"])
	}

	calls := stub.Calls()
	if len(calls) != 1 || calls[0].Command != "sudo" ||
		strings.Join(calls[0].Args, " ") != "dmidecode --type 17" {
		t.Fatalf("unexpected invocation: %+v", calls)
	}
}

func TestMemoryInfoWithoutSudo(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{}
	s := newContractTestServer(t, stub)
	s.config.DmidecodeSudo = false

	serve(s, http.MethodGet, "/system/metrics/memory", nil)

	calls := stub.Calls()
	if len(calls) != 1 || calls[0].Command != "dmidecode" ||
		strings.Join(calls[0].Args, " ") != "--type 17" {
		t.Fatalf("unexpected invocation: %+v", calls)
	}
}

func TestNetworkStatsContract(t *testing.T) {
	t.Parallel()

	s := newContractTestServer(t, &stubInvoker{})
	resp := decodeBody(t, serve(s, http.MethodGet, "/system/network/stats", nil))

	if resp["message"] != "Network stats fetched successfully" {
		t.Fatalf("unexpected message: %v", resp["message"])
	}
	output, _ := resp["output"].(map[string]interface{})
	eth0, _ := output["eth0"].(map[string]interface{})
	if eth0["transmit_bytes"] != float64(300) || eth0["receive_packets"] != float64(2) {
		t.Fatalf("unexpected counters: %v", output)
	}
}

func TestCommandErrorShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		stub        *stubInvoker
		wantMessage string
		wantKey     string
		wantValue   string
	}{
		{
			name:        "spawn failure",
			stub:        &stubInvoker{err: &executor.SpawnError{Command: "traceroute", Err: errors.New("executable file not found")}},
			wantMessage: "Failed to execute",
			wantKey:     "error",
			wantValue:   "spawn traceroute: executable file not found",
		},
		{
			name:        "non-zero exit",
			stub:        &stubInvoker{result: &executor.Result{ExitCode: 2, Stderr: "unknown host\n"}},
			wantMessage: "Command failed",
			wantKey:     "stderr",
			wantValue:   "unknown host\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newContractTestServer(t, tc.stub)
			rec := serve(s, http.MethodPost, "/system/network/traceroute", nil)

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", rec.Code)
			}
			resp := decodeBody(t, rec)
			if resp["message"] != tc.wantMessage {
				t.Fatalf("message = %v, want %q", resp["message"], tc.wantMessage)
			}
			if resp[tc.wantKey] != tc.wantValue {
				t.Fatalf("%s = %v, want %q", tc.wantKey, resp[tc.wantKey], tc.wantValue)
			}
		})
	}
}
