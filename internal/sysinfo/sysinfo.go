// Package sysinfo collects host telemetry from procfs and gopsutil.
// Parsers in this package are pure functions over pseudo-file text and never
// fail: malformed input degrades to partial records with default values.
// The Collector reads fresh snapshots on every call and keeps no cache.
package sysinfo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Build-time variables injected via ldflags in the Makefile.
var (
	Version        = "dev"
	BuildDate      = "unknown"
	GoVersionBuild = "unknown"
)

const bytesPerGiB = 1024 * 1024 * 1024

// MemoryUsage holds system memory usage. Used is total minus available.
type MemoryUsage struct {
	TotalBytes     uint64 `json:"totalBytes"`
	UsedBytes      uint64 `json:"usedBytes"`
	AvailableBytes uint64 `json:"availableBytes"`
}

// GiBString renders usage as "<used>GiB/<total>GiB" with two decimals.
func (m MemoryUsage) GiBString() string {
	return fmt.Sprintf("%.2fGiB/%.2fGiB",
		float64(m.UsedBytes)/bytesPerGiB,
		float64(m.TotalBytes)/bytesPerGiB,
	)
}

// HostInfo is the host section of the introspection payload.
type HostInfo struct {
	Hostname        string  `json:"hostname"`
	OS              string  `json:"os"`
	Platform        string  `json:"platform"`
	PlatformVersion string  `json:"platformVersion"`
	KernelVersion   string  `json:"kernelVersion"`
	KernelArch      string  `json:"kernelArch"`
	UptimeSeconds   uint64  `json:"uptimeSeconds"`
	Uptime          string  `json:"uptime"`
	LoadAvg1        float64 `json:"loadAvg1"`
	LoadAvg5        float64 `json:"loadAvg5"`
	LoadAvg15       float64 `json:"loadAvg15"`
	LogicalCPUs     int     `json:"logicalCpus"`
}

// AgentInfo holds agent process information.
type AgentInfo struct {
	Version    string `json:"version"`
	BuildDate  string `json:"buildDate"`
	GoRuntime  string `json:"goRuntime"`
	GoVersion  string `json:"goVersion"`
	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heapBytes"`
}

// CollectorConfig holds configuration for the Collector.
type CollectorConfig struct {
	ProcRoot          string        // Root of the proc filesystem (default: "/proc")
	CPUSampleInterval time.Duration // Delay between the two CPU usage samples (default: 200ms)
}

// Collector gathers host telemetry.
type Collector struct {
	config CollectorConfig

	// readFile is a function to read a file's contents, injectable for testing.
	readFile func(path string) (string, error)
	// logicalCPUs returns the host's logical CPU count, injectable for testing.
	logicalCPUs func(ctx context.Context) int
	// cpuPercent samples per-CPU utilisation over an interval, injectable for testing.
	cpuPercent func(ctx context.Context, interval time.Duration, perCPU bool) ([]float64, error)
	// virtualMemory reads memory counters, injectable for testing.
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	hostInfo      func(ctx context.Context) (*host.InfoStat, error)
	loadAvg       func(ctx context.Context) (*load.AvgStat, error)
}

// NewCollector creates a new collector.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = "/proc"
	}
	if cfg.CPUSampleInterval <= 0 {
		cfg.CPUSampleInterval = 200 * time.Millisecond
	}
	return &Collector{
		config:        cfg,
		readFile:      defaultReadFile,
		logicalCPUs:   defaultLogicalCPUs,
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		hostInfo:      host.InfoWithContext,
		loadAvg:       load.AvgWithContext,
	}
}

// CPUSockets reads /proc/cpuinfo and returns one record per physical package.
// Only a read failure is an error.
func (c *Collector) CPUSockets(ctx context.Context) ([]CPUSocket, error) {
	content, err := c.readFile(filepath.Join(c.config.ProcRoot, "cpuinfo"))
	if err != nil {
		return nil, fmt.Errorf("read cpuinfo: %w", err)
	}
	return ParseCPUInfo(content, c.logicalCPUs(ctx)), nil
}

// CPUUsage samples per-logical-CPU utilisation percentages. It blocks the
// calling goroutine for the configured sampling interval.
func (c *Collector) CPUUsage(ctx context.Context) ([]float64, error) {
	usage, err := c.cpuPercent(ctx, c.config.CPUSampleInterval, true)
	if err != nil {
		return nil, fmt.Errorf("sample cpu usage: %w", err)
	}
	for i := range usage {
		usage[i] = roundTo(usage[i], 2)
	}
	return usage, nil
}

// MemoryUsage returns current memory usage.
func (c *Collector) MemoryUsage(ctx context.Context) (MemoryUsage, error) {
	vm, err := c.virtualMemory(ctx)
	if err != nil {
		return MemoryUsage{}, fmt.Errorf("read memory: %w", err)
	}
	used := uint64(0)
	if vm.Total > vm.Available {
		used = vm.Total - vm.Available
	}
	return MemoryUsage{
		TotalBytes:     vm.Total,
		UsedBytes:      used,
		AvailableBytes: vm.Available,
	}, nil
}

// InterfaceCounters reads /proc/net/dev and returns per-interface counters.
func (c *Collector) InterfaceCounters() (map[string]InterfaceCounters, error) {
	content, err := c.readFile(filepath.Join(c.config.ProcRoot, "net", "dev"))
	if err != nil {
		return nil, fmt.Errorf("read net/dev: %w", err)
	}
	return ParseNetDev(content), nil
}

// Host returns host identity and load. Sources that fail leave their fields
// zero-valued.
func (c *Collector) Host(ctx context.Context) HostInfo {
	info := HostInfo{LogicalCPUs: c.logicalCPUs(ctx)}

	if h, err := c.hostInfo(ctx); err == nil {
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		info.KernelVersion = h.KernelVersion
		info.KernelArch = h.KernelArch
		info.UptimeSeconds = h.Uptime
		info.Uptime = FormatUptime(float64(h.Uptime))
	} else {
		slog.Warn("Host info collection failed", "error", err)
	}

	if avg, err := c.loadAvg(ctx); err == nil {
		info.LoadAvg1 = avg.Load1
		info.LoadAvg5 = avg.Load5
		info.LoadAvg15 = avg.Load15
	} else {
		slog.Warn("Load average collection failed", "error", err)
	}

	return info
}

// Agent returns agent process info.
func (c *Collector) Agent() AgentInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return AgentInfo{
		Version:    Version,
		BuildDate:  BuildDate,
		GoRuntime:  GoVersionBuild,
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  memStats.HeapAlloc,
	}
}

// FormatUptime formats seconds into a human-readable string like "2d 5h 32m".
func FormatUptime(totalSeconds float64) string {
	secs := int(totalSeconds)
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	minutes := secs / 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// roundTo rounds a float64 to n decimal places.
func roundTo(val float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(val*pow) / pow
}
