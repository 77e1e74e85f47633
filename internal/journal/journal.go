// Package journal reads systemd journal entries for the managed unit.
package journal

import (
	"bufio"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultLines is the number of entries returned when no count is given.
	DefaultLines = 100
	// MaxLines bounds a single read.
	MaxLines = 1000
)

// Entry is one journal record.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	PID       string `json:"pid,omitempty"`
}

// Args builds the journalctl arguments for the newest lines of unit, newest
// first.
func Args(unit string, lines int) []string {
	return []string{
		"--output=json",
		"--no-pager",
		"--reverse",
		"-u", unit,
		"-n", strconv.Itoa(lines),
	}
}

// ParseJSON parses `journalctl --output=json` output. Lines that are not JSON
// objects and records without a MESSAGE string are skipped.
func ParseJSON(output string) []Entry {
	entries := []Entry{}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}

		msg, ok := raw["MESSAGE"].(string)
		if !ok || msg == "" {
			continue
		}

		entry := Entry{Level: "info", Message: msg}

		// __REALTIME_TIMESTAMP is microseconds since the epoch.
		if ts, ok := raw["__REALTIME_TIMESTAMP"].(string); ok {
			if usec, err := strconv.ParseInt(ts, 10, 64); err == nil {
				entry.Timestamp = time.UnixMicro(usec).UTC().Format(time.RFC3339Nano)
			}
		}
		if pri, ok := raw["PRIORITY"].(string); ok {
			entry.Level = PriorityToLevel(pri)
		}
		if pid, ok := raw["_PID"].(string); ok {
			entry.PID = pid
		}

		entries = append(entries, entry)
	}

	return entries
}

// PriorityToLevel maps a syslog priority digit to a log level name.
func PriorityToLevel(pri string) string {
	switch pri {
	case "0", "1", "2", "3": // emerg, alert, crit, err
		return "error"
	case "4":
		return "warn"
	case "5", "6": // notice, info
		return "info"
	case "7":
		return "debug"
	default:
		return "info"
	}
}
