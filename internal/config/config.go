// Package config provides configuration loading for the node agent.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort    = 8080
	maxWorkers     = 100
	DefaultEnvFile = ".env"
)

// Config holds all configuration values for the node agent.
type Config struct {
	// Server settings
	Host    string
	Port    int
	Workers int

	// APIKey is the shared bearer secret every request must present.
	APIKey string

	// Logging
	LogDir    string
	LogLevel  string
	LogFormat string

	// Managed systemd unit
	ServiceName  string
	ServiceLabel string

	// External commands
	SystemctlBin  string
	IPBin         string
	TracerouteBin string
	SpeedtestBin  string
	DmidecodeBin  string
	DmidecodeSudo bool
	JournalctlBin string

	// Telemetry
	ProcRoot          string
	CPUSampleInterval time.Duration
	CommandTimeout    time.Duration

	// HTTP server timeouts
	HTTPReadTimeout time.Duration
	HTTPIdleTimeout time.Duration
	ShutdownTimeout time.Duration

	// Service action audit store
	AuditEnabled bool
	AuditDBPath  string

	// Warnings collects values that were rejected in favour of a default.
	// Logging is not configured yet when Load runs, so the caller reports them.
	Warnings []string
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from environment variables after loading envFile.
// A missing envFile is ignored unless explicit is set, in which case it is an
// error along with any other failure to read it. Variables already present in
// the environment take precedence over the file.
func Load(envFile string, explicit bool) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		Host:      getEnv("HOST", "127.0.0.1"),
		APIKey:    os.Getenv("API_KEY"),
		LogDir:    getEnv("LOG_DIR", "./logs"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		ServiceName: getEnv("SERVICE_NAME", "nginx"),

		SystemctlBin:  getEnv("SYSTEMCTL_BIN", "systemctl"),
		IPBin:         getEnv("IP_BIN", "ip"),
		TracerouteBin: getEnv("TRACEROUTE_BIN", "traceroute"),
		SpeedtestBin:  getEnv("SPEEDTEST_BIN", "speedtest"),
		DmidecodeBin:  getEnv("DMIDECODE_BIN", "dmidecode"),
		DmidecodeSudo: getEnvBool("DMIDECODE_SUDO", true),
		JournalctlBin: getEnv("JOURNALCTL_BIN", "journalctl"),

		ProcRoot:          getEnv("PROC_ROOT", "/proc"),
		CPUSampleInterval: getEnvDuration("CPU_SAMPLE_INTERVAL", 200*time.Millisecond),
		CommandTimeout:    getEnvDuration("COMMAND_TIMEOUT", 0),

		HTTPReadTimeout: getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPIdleTimeout: getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		AuditEnabled: getEnvBool("AUDIT_ENABLED", true),
		AuditDBPath:  getEnv("AUDIT_DB_PATH", "./data/node-agent.db"),
	}

	cfg.Port = cfg.rangedInt("PORT", defaultPort, 1, 65535)
	cfg.Workers = cfg.rangedInt("WORKERS", runtime.NumCPU(), 1, maxWorkers)
	cfg.ServiceLabel = getEnv("SERVICE_LABEL", strings.ToUpper(cfg.ServiceName))

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API_KEY is required")
	}

	return cfg, nil
}

// rangedInt reads an integer within [lo, hi]. Unparsable or out-of-range
// values record a warning and yield the default.
func (c *Config) rangedInt(key string, defaultValue, lo, hi int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || i < lo || i > hi {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("%s=%q is not an integer in [%d, %d], using %d", key, value, lo, hi, defaultValue))
		return defaultValue
	}
	return i
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
