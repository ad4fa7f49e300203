package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// envPrefix namespaces both the CLI fallbacks and the config overrides,
// so SNAPDEMO_HEARTBEAT_INTERVAL reaches the site as heartbeat.interval.
const envPrefix = "SNAPDEMO"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	RootDir         string
	Environment     string
	Addr            string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	Rate            float64
	Burst           int
	Watch           bool
	WithNATS        bool
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.RootDir, "root",
		getEnv("SNAPDEMO_ROOT", "."),
		"Application root directory (env: SNAPDEMO_ROOT)")

	flag.StringVar(&cfg.Environment, "env",
		getEnv("SNAPDEMO_ENVIRONMENT", "devel"),
		"Configuration environment, selects app.<env>.cfg (env: SNAPDEMO_ENVIRONMENT)")

	flag.StringVar(&cfg.Addr, "addr",
		getEnv("SNAPDEMO_ADDR", ":8000"),
		"Listen address (env: SNAPDEMO_ADDR)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SNAPDEMO_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SNAPDEMO_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SNAPDEMO_LOG_FORMAT", "json"),
		"Log format: json, text (env: SNAPDEMO_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SNAPDEMO_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: SNAPDEMO_SHUTDOWN_TIMEOUT)")

	flag.Float64Var(&cfg.Rate, "rate",
		getEnvFloat("SNAPDEMO_RATE", 0),
		"Site request rate limit per second, 0 to disable (env: SNAPDEMO_RATE)")

	flag.IntVar(&cfg.Burst, "burst",
		getEnvInt("SNAPDEMO_BURST", 10),
		"Rate limiter burst size (env: SNAPDEMO_BURST)")

	flag.BoolVar(&cfg.Watch, "watch",
		getEnvBool("SNAPDEMO_WATCH", false),
		"Reload when app config files change (env: SNAPDEMO_WATCH)")

	flag.BoolVar(&cfg.WithNATS, "nats",
		getEnvBool("SNAPDEMO_NATS", false),
		"Enable the NATS lifecycle bridge (env: SNAPDEMO_NATS)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Run the initialization walk and exit")

	// Custom usage
	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.RootDir); err != nil {
		return fmt.Errorf("root directory not found: %s", cfg.RootDir)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.Rate < 0 {
		return fmt.Errorf("invalid rate limit: %f", cfg.Rate)
	}

	if cfg.Burst < 0 {
		return fmt.Errorf("invalid burst size: %d", cfg.Burst)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Component Runtime Demo Site

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a dedicated data root
  %s --root=/var/lib/snapdemo

  # Run with debug logging and config watching
  %s --log-level=debug --log-format=text --watch

  # Run with environment variables
  export SNAPDEMO_ROOT=/var/lib/snapdemo
  export SNAPDEMO_HEARTBEAT_INTERVAL=250ms
  %s

  # Check the initialization walk without serving
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
