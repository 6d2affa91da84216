package main

import (
	"flag"
	"fmt"
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
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	PrintConfig     bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("DAQSTREAM_CONFIG", ""),
		"Path to a YAML or JSON configuration file; built-in defaults when empty (env: DAQSTREAM_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("DAQSTREAM_CONFIG", ""),
		"Path to configuration file (env: DAQSTREAM_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("DAQSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: DAQSTREAM_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("DAQSTREAM_LOG_FORMAT", "json"),
		"Log format: json, text (env: DAQSTREAM_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("DAQSTREAM_DEBUG", false),
		"Enable debug logging (env: DAQSTREAM_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("DAQSTREAM_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: DAQSTREAM_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the effective configuration as YAML and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - multi-channel sample acquisition service

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Run with a config file
  %s --config=/etc/daqstream/daqstream.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Override single settings through the environment
  export DAQSTREAM_BUFFER_READ_SAMPLES=200
  export DAQSTREAM_NATS_ENABLED=true
  %s

  # Validate configuration only
  %s --config=daqstream.yaml --validate

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
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
