// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gateway-fm/workload/pkg/types"
)

// Config holds process-level settings. They are read once at startup;
// load parameters are read separately on every supervisor iteration.
type Config struct {
	GethURL            string
	MetricsPort        int
	LogLevel           string
	DatabasePath       string // Path to SQLite database file
	HistoryRetention   int    // cycle runs kept in history, 0 keeps all
	CORSAllowedOrigins string // Comma-separated list of allowed origins, or "*" for all
}

// Defaults
const (
	DefaultGethURL            = "http://geth-dev.default.svc.cluster.local:8545"
	DefaultMetricsPort        = 8000
	DefaultLogLevel           = "INFO"
	DefaultDatabasePath       = "./data/workload.db"
	DefaultHistoryRetention   = 10000
	DefaultCORSAllowedOrigins = "*"

	DefaultTargetTPS       = 0
	DefaultConcurrency     = 0
	DefaultDurationSeconds = 60
)

// Environment variables read on every supervisor iteration.
const (
	EnvTargetTPS       = "TARGET_TPS"
	EnvConcurrency     = "CONCURRENCY"
	EnvDurationSeconds = "DURATION_SECONDS"
)

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load() (*Config, error) {
	return load(os.Args[1:], os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		GethURL:            DefaultGethURL,
		MetricsPort:        DefaultMetricsPort,
		LogLevel:           DefaultLogLevel,
		DatabasePath:       DefaultDatabasePath,
		HistoryRetention:   DefaultHistoryRetention,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
	}

	// Load from environment variables first
	if v := getenv("GETH_URL"); v != "" {
		cfg.GethURL = v
	}
	if v := getenv("METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid METRICS_PORT %q: %w", v, err)
		}
		cfg.MetricsPort = port
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := getenv("HISTORY_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.HistoryRetention = n
		}
	}
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}

	fs := flag.NewFlagSet("workload", flag.ContinueOnError)
	var (
		gethURL     = fs.String("geth-url", cfg.GethURL, "Geth JSON-RPC URL")
		metricsPort = fs.Int("metrics-port", cfg.MetricsPort, "HTTP port for metrics and the status API")
		logLevel    = fs.String("log-level", cfg.LogLevel, "Log level (DEBUG, INFO, WARN, ERROR)")
		dbPath      = fs.String("database", cfg.DatabasePath, "SQLite database path")
		retention   = fs.Int("history-retention", cfg.HistoryRetention, "Cycle runs kept in history (0 = all)")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.GethURL = *gethURL
	cfg.MetricsPort = *metricsPort
	cfg.LogLevel = *logLevel
	cfg.DatabasePath = *dbPath
	cfg.HistoryRetention = *retention

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.GethURL == "" {
		return fmt.Errorf("geth URL is required")
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("history retention cannot be negative")
	}
	return nil
}

// ListenAddr is the HTTP listen address derived from MetricsPort.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.MetricsPort)
}

// ParseLogLevel maps a case-insensitive level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// EnvProvider reads the load parameters from the environment each time it is
// asked, so a changed Deployment env takes effect on the next iteration.
type EnvProvider struct {
	Getenv func(string) string
	Logger *slog.Logger
}

// NewEnvProvider creates a provider over os.Getenv.
func NewEnvProvider(logger *slog.Logger) *EnvProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvProvider{Getenv: os.Getenv, Logger: logger}
}

// LoadConfig returns the current load parameters. Unparseable or negative
// values fall back to their defaults with a warning.
func (p *EnvProvider) LoadConfig() types.LoadConfig {
	return types.LoadConfig{
		TargetTPS:     p.intVar(EnvTargetTPS, DefaultTargetTPS),
		Concurrency:   p.intVar(EnvConcurrency, DefaultConcurrency),
		CycleDuration: time.Duration(p.intVar(EnvDurationSeconds, DefaultDurationSeconds)) * time.Second,
	}
}

func (p *EnvProvider) intVar(name string, def int) int {
	v := strings.TrimSpace(p.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.logger().Warn("invalid load parameter, using default",
			slog.String("name", name),
			slog.String("value", v),
			slog.Int("default", def),
		)
		return def
	}
	return n
}

func (p *EnvProvider) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
