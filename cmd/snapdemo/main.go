// Package main implements the entry point for the snapdemo application.
// Snapdemo assembles every built-in snap component into one reloadable
// site: two heartbeats, a Badger-backed key/value store, the operations
// console and, when enabled, a NATS lifecycle bridge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/uffizio/snap/errors"
	"github.com/uffizio/snap/metric"
	"github.com/uffizio/snap/server"
	"github.com/uffizio/snap/snaplet"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "snapdemo"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := metric.New()

	slog.Info("Initializing component tree",
		"root_dir", cliCfg.RootDir,
		"environment", cliCfg.Environment,
		"nats_bridge", cliCfg.WithNATS)

	site, err := snaplet.Run(ctx, newApp(cliCfg.WithNATS),
		snaplet.WithRootDir(cliCfg.RootDir),
		snaplet.WithEnvironment(cliCfg.Environment),
		snaplet.WithEnvPrefix(envPrefix),
		snaplet.WithLogger(slog.Default()),
		snaplet.WithMetrics(metrics),
	)
	if err != nil {
		reportInitFailure(err)
		return fmt.Errorf("initialize site: %w", err)
	}
	defer func() {
		if err := site.Cleanup(); err != nil {
			slog.Error("Cleanup reported errors", "error", err)
		}
	}()

	if cliCfg.Validate {
		slog.Info("Initialization walk succeeded", "generation", site.Generation())
		fmt.Print(site.InitLog())
		return nil
	}

	return serveSite(ctx, site, cliCfg, metrics)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting snapdemo (component runtime demo site)",
		"version", Version,
		"build_time", BuildTime,
		"addr", cliCfg.Addr)

	return cliCfg, false, nil
}

// reportInitFailure prints the initialization log a failed walk left
// behind, so the operator sees how far the walk got before it died.
func reportInitFailure(err error) {
	var initErr *snaplet.InitError
	if errors.As(err, &initErr) && initErr.Log != "" {
		_, _ = fmt.Fprint(os.Stderr, initErr.Log)
	}
}

func serveSite(ctx context.Context, site server.Site, cliCfg *CLIConfig, metrics *metric.Metrics) error {
	opts := []server.Option{
		server.WithAddr(cliCfg.Addr),
		server.WithLogger(slog.Default()),
		server.WithShutdownTimeout(cliCfg.ShutdownTimeout),
		server.WithMetrics(metrics, "/metrics"),
		server.WithHealthEndpoint("/healthz"),
		server.WithReloadEndpoint("/admin/reload"),
	}

	if cliCfg.Rate > 0 {
		opts = append(opts, server.WithRateLimit(rate.Limit(cliCfg.Rate), cliCfg.Burst))
	}

	if cliCfg.Watch {
		paths := configWatchPaths(cliCfg)
		if len(paths) == 0 {
			slog.Warn("Config watching requested but no config files exist yet",
				"root_dir", cliCfg.RootDir)
		} else {
			slog.Info("Watching config files", "paths", paths)
			opts = append(opts, server.WithConfigWatcher(paths...))
		}
	}

	slog.Info("Serving site", "addr", cliCfg.Addr)
	return server.Serve(ctx, site, opts...)
}

// configWatchPaths returns the app config files that exist right now.
// The watcher needs concrete paths; files created later are picked up
// only after a restart.
func configWatchPaths(cliCfg *CLIConfig) []string {
	candidates := []string{
		filepath.Join(cliCfg.RootDir, "app.cfg"),
		filepath.Join(cliCfg.RootDir, "app."+cliCfg.Environment+".cfg"),
	}

	var paths []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}
