package sysinfo

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// defaultReadFile reads a file and returns its content as a string.
func defaultReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// defaultLogicalCPUs asks gopsutil for the host's logical CPU count. It falls
// back to the runtime's view, which may be narrowed by CPU affinity.
func defaultLogicalCPUs(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
