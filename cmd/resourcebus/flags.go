package main

import (
	"flag"
	"fmt"
	"io"
	"os"
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

	// List mode prints matching resources and exits.
	ListClass    string
	ListProtocol string
	Exact        bool
	Wait         time.Duration

	flags *flag.FlagSet
}

// ListMode reports whether a listing was requested.
func (c *CLIConfig) ListMode() bool {
	return c.ListClass != "" || c.ListProtocol != ""
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cfg := &CLIConfig{flags: fs}
	fs.SetOutput(stderr)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("RESOURCEBUS_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: RESOURCEBUS_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("RESOURCEBUS_CONFIG", ""),
		"Path to configuration file (env: RESOURCEBUS_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("RESOURCEBUS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: RESOURCEBUS_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("RESOURCEBUS_LOG_FORMAT", "text"),
		"Log format: json, text (env: RESOURCEBUS_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("RESOURCEBUS_DEBUG", false),
		"Enable debug mode (env: RESOURCEBUS_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("RESOURCEBUS_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: RESOURCEBUS_SHUTDOWN_TIMEOUT)")

	fs.StringVar(&cfg.ListClass, "list-class", "", "List resources whose class starts with this prefix and exit")
	fs.StringVar(&cfg.ListProtocol, "list-protocol", "", "List resources whose URI scheme starts with this prefix and exit")
	fs.BoolVar(&cfg.Exact, "exact", false, "Match the class or protocol exactly")
	fs.DurationVar(&cfg.Wait, "wait",
		getEnvDuration("RESOURCEBUS_LIST_WAIT", 3*time.Second),
		"Time given to detectors before listing (env: RESOURCEBUS_LIST_WAIT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override log level if debug is set
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

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ListClass != "" && cfg.ListProtocol != "" {
		return fmt.Errorf("-list-class and -list-protocol are mutually exclusive")
	}
	if cfg.Wait < 0 {
		return fmt.Errorf("invalid wait: %s", cfg.Wait)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - Resource discovery and arbitration

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Run the daemon with a configuration file
  %s --config=/etc/resourcebus/config.json

  # List renderers known within three seconds
  %s --config=config.json --list-class=item.renderer --wait=3s

  # List MPD servers by URI scheme
  %s --list-protocol=mpd --exact

  # Validate configuration only
  %s --config=config.json --validate

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

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
