package sysinfo

import (
	"strconv"
	"strings"
)

// CPUSocket describes one physical processor package.
type CPUSocket struct {
	PhysicalID      string  `json:"physical_id"`
	Model           string  `json:"model"`
	VendorID        string  `json:"vendor_id"`
	FrequencyMHz    float64 `json:"frequency_mhz"`
	LogicalCPUCount int     `json:"logical_cpu_count"`
}

const unknownValue = "Unknown"

// ParseBlocks splits "key: value" text into blocks separated by blank lines.
// Keys and values are trimmed, lines without a colon are ignored, and a
// trailing block without a final blank line is still returned. Empty blocks
// are dropped.
func ParseBlocks(content string) []map[string]string {
	var blocks []map[string]string
	current := make(map[string]string)

	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, current)
			current = make(map[string]string)
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		current[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	flush()

	return blocks
}

// ParseCPUInfo parses /proc/cpuinfo into one record per physical id.
// The first block seen for an id wins; later blocks for the same id are
// discarded. Blocks without a "physical id" (common on VMs and ARM) do not
// produce records. logicalCPUs is attached to every record unchanged.
func ParseCPUInfo(content string, logicalCPUs int) []CPUSocket {
	seen := make(map[string]struct{})
	var sockets []CPUSocket

	for _, block := range ParseBlocks(content) {
		id, ok := block["physical id"]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		sockets = append(sockets, CPUSocket{
			PhysicalID:      id,
			Model:           valueOr(block, "model name", unknownValue),
			VendorID:        valueOr(block, "vendor_id", unknownValue),
			FrequencyMHz:    parseFloatOr(block["cpu MHz"], 0),
			LogicalCPUCount: logicalCPUs,
		})
	}

	return sockets
}

func valueOr(block map[string]string, key, fallback string) string {
	if v, ok := block[key]; ok {
		return v
	}
	return fallback
}

func parseFloatOr(s string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return v
}
