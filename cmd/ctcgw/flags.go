package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	Interval        time.Duration
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("CTCGW_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: CTCGW_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("CTCGW_CONFIG", ""),
		"Shorthand for --config")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CTCGW_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: CTCGW_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CTCGW_LOG_FORMAT", "json"),
		"Log format: json, text (env: CTCGW_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("CTCGW_DEBUG", false),
		"Shorthand for --log-level=debug (env: CTCGW_DEBUG)")

	fs.DurationVar(&cfg.Interval, "interval",
		getEnvDuration("CTCGW_INTERVAL", 0),
		"Acquire repeatedly at this interval; 0 acquires once (env: CTCGW_INTERVAL)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("CTCGW_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: CTCGW_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printUsage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("invalid interval: %s", cfg.Interval)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - wireless sensor gateway client

Connects to a gateway, logs in, picks a connected sensor and takes a
vibration reading. Results go to the sinks named in the configuration.

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # One reading, credentials from the environment
  export CTCGW_URL=ws://192.168.1.50:5000
  export CTCGW_EMAIL=operator@example.com CTCGW_PASSWORD=...
  %s

  # A reading every five minutes, readable logs
  %s --config=/etc/ctcgw/ctcgw.yaml --interval=5m --log-format=text

  # Validate configuration only
  %s --config=ctcgw.yaml --validate

Version: %s
`, appName, appName, appName, Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
