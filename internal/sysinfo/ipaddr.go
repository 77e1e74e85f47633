package sysinfo

import "strings"

// NetworkInterface is one interface block from `ip addr show`.
type NetworkInterface struct {
	Name string `json:"name,omitempty"`
	IPv4 string `json:"ipv4,omitempty"`
	IPv6 string `json:"ipv6,omitempty"`
	MAC  string `json:"mac,omitempty"`
}

func (n NetworkInterface) populated() bool {
	return n.Name != "" || n.IPv4 != "" || n.IPv6 != "" || n.MAC != ""
}

// ParseIPAddr parses the output of `ip addr show`.
//
// A line whose text before the first colon is a decimal index starts a new
// interface. Attribute lines fill the current interface; when an interface
// carries several addresses of one family the last one is kept. Interfaces
// are returned in input order.
func ParseIPAddr(content string) []NetworkInterface {
	var interfaces []NetworkInterface
	var current NetworkInterface

	for _, line := range strings.Split(content, "\n") {
		if prefix, rest, ok := strings.Cut(line, ":"); ok && isDecimal(strings.TrimSpace(prefix)) {
			if current.populated() {
				interfaces = append(interfaces, current)
			}
			current = NetworkInterface{}
			if fields := strings.Fields(rest); len(fields) > 0 {
				current.Name = strings.TrimSuffix(fields[0], ":")
			}
		}

		if strings.Contains(line, "inet ") {
			if v, ok := secondField(line); ok {
				current.IPv4 = v
			}
		}
		if strings.Contains(line, "inet6 ") {
			if v, ok := secondField(line); ok {
				current.IPv6 = v
			}
		}
		if strings.Contains(line, "link/") {
			if v, ok := secondField(line); ok {
				current.MAC = v
			}
		}
	}

	if current.populated() {
		interfaces = append(interfaces, current)
	}

	return interfaces
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func secondField(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", false
	}
	return fields[1], true
}
