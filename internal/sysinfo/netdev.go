package sysinfo

import (
	"strconv"
	"strings"
)

// InterfaceCounters holds cumulative byte and packet counters for one interface.
type InterfaceCounters struct {
	ReceiveBytes    uint64 `json:"receive_bytes"`
	ReceivePackets  uint64 `json:"receive_packets"`
	TransmitBytes   uint64 `json:"transmit_bytes"`
	TransmitPackets uint64 `json:"transmit_packets"`
}

// netDevMinFields is the number of counters the kernel prints per interface.
const netDevMinFields = 16

// ParseNetDev parses the content of /proc/net/dev.
// The two header lines are skipped unconditionally. Lines with fewer than
// sixteen counters are ignored; unparsable counters read as zero.
func ParseNetDev(content string) map[string]InterfaceCounters {
	result := make(map[string]InterfaceCounters)

	lines := strings.Split(content, "\n")
	if len(lines) <= 2 {
		return result
	}

	for _, line := range lines[2:] {
		iface, data, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(data)
		if len(fields) < netDevMinFields {
			continue
		}
		result[strings.TrimSpace(iface)] = InterfaceCounters{
			ReceiveBytes:    parseUintOr(fields[0]),
			ReceivePackets:  parseUintOr(fields[1]),
			TransmitBytes:   parseUintOr(fields[8]),
			TransmitPackets: parseUintOr(fields[9]),
		}
	}

	return result
}

func parseUintOr(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
