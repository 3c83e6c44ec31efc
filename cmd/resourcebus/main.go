// Package main implements the resourcebus command. It runs the resource
// manager with the configured detectors, either as a daemon logging and
// mirroring resource events, or once to list resources by class or
// protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/resourcebus/config"
	"github.com/c360/resourcebus/detector"
	"github.com/c360/resourcebus/detectorregistry"
	"github.com/c360/resourcebus/metric"
	"github.com/c360/resourcebus/natsclient"
	"github.com/c360/resourcebus/resource"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "resourcebus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, shouldExit, err := initializeCLI(args, stdout, stderr)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return err
	}
	if cli.Validate {
		slog.Info("Configuration is valid", "detectors", cfg.Detectors.Enabled(), "local", len(cfg.Local))
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsRegistry := metric.NewMetricsRegistry()

	natsClient := connectNATS(ctx, cfg.NATS, metricsRegistry)
	if natsClient != nil {
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
			defer closeCancel()
			_ = natsClient.Close(closeCtx)
		}()
	}

	detectors, err := createDetectors(cfg, detector.Dependencies{
		Logger:  slog.Default(),
		Metrics: metricsRegistry,
		NATS:    natsClient,
	})
	if err != nil {
		return err
	}

	mgr := resource.NewManager(managerConfig(cfg.Manager),
		resource.WithLogger(slog.Default()),
		resource.WithMetrics(metricsRegistry),
		resource.WithDetectors(detectors...),
	)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start resource manager: %w", err)
	}

	if cli.ListMode() {
		n, err := listResources(ctx, stdout, mgr, cli)
		stopErr := mgr.Stop(cli.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("list resources: %w", err)
		}
		slog.Debug("Listed resources", "count", n)
		return stopErr
	}

	publishLocal(mgr, cfg.Local)
	return runDaemon(ctx, cli, cfg, mgr, natsClient, metricsRegistry)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string, stdout, stderr io.Writer) (*CLIConfig, bool, error) {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return nil, true, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return nil, true, fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil, true, nil
	}
	if cli.ShowHelp {
		printDetailedHelp(cli.flags)
		return nil, true, nil
	}

	// Logs go to stderr so that list output stays clean.
	logger := setupLogger(stderr, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting resourcebus",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath)
	return cli, false, nil
}

// loadConfig loads configuration from path, or the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.Debug("Configuration loaded", "config", cfg.String())
	return cfg, nil
}

// connectNATS connects when a URL is configured. A failed connection is
// logged and NATS is left out; detectors that need it stay inert.
func connectNATS(ctx context.Context, cfg config.NATSConfig, reg *metric.MetricsRegistry) *natsclient.Client {
	if cfg.URL == "" {
		slog.Info("NATS disabled")
		return nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Name),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithLogger(slog.Default()),
		natsclient.WithMetrics(reg),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait.Std()))
	}
	if cfg.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(cfg.PingInterval.Std()))
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.DrainTimeout.Std()))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		slog.Error("Invalid NATS client options", "error", err)
		return nil
	}

	slog.Info("Connecting to NATS", "url", cfg.URL)
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connCtx); err == nil {
		err = client.WaitForConnection(connCtx)
	}
	if err != nil {
		slog.Warn("NATS unavailable, continuing without it", "error", err)
		_ = client.Close(context.Background())
		return nil
	}
	return client
}

// createDetectors builds the enabled detectors in name order.
func createDetectors(cfg *config.Config, deps detector.Dependencies) ([]detector.Detector, error) {
	registry, err := detectorregistry.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("register detectors: %w", err)
	}

	var out []detector.Detector
	for _, name := range cfg.Detectors.Enabled() {
		dc := cfg.Detectors[name]
		d, err := registry.Create(dc.Type, name, dc.Config, deps)
		if err != nil {
			for _, created := range out {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create detector %s: %w", name, err)
		}
		slog.Debug("Created detector", "name", name, "type", dc.Type)
		out = append(out, d)
	}

	if len(out) == 0 {
		slog.Warn("No detectors enabled")
	}
	return out, nil
}

func managerConfig(mc config.ManagerConfig) resource.Config {
	return resource.Config{
		IdleSleep:          mc.IdleSleep.Std(),
		SupportedProtocols: mc.SupportedProtocols,
		SupportedClasses:   mc.SupportedClasses,
		QueueCapacity:      mc.QueueCapacity,
	}
}

// runDaemon serves until ctx ends, then shuts everything down.
func runDaemon(
	ctx context.Context,
	cli *CLIConfig,
	cfg *config.Config,
	mgr *resource.Manager,
	natsClient *natsclient.Client,
	reg *metric.MetricsRegistry,
) error {
	var pub publisher
	if natsClient != nil {
		pub = natsClient
	}
	mirror := newEventMirror(cfg.NATS.EventSubject, pub, reg, slog.Default())

	// The mirror drains after ctx ends, so it gets its own context.
	mirrorCtx, mirrorCancel := context.WithCancel(context.Background())
	defer mirrorCancel()
	if err := mirror.Start(mirrorCtx, mgr.Controllable()); err != nil {
		_ = mgr.Stop(cli.ShutdownTimeout)
		return fmt.Errorf("start event mirror: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, reg)
		slog.Info("Serving metrics", "address", metricsServer.Address())
		g.Go(metricsServer.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")

		var errs []error
		if err := mirror.Stop(mgr.Controllable(), cli.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stop event mirror: %w", err))
		}
		// Queued ahead of QUIT, so detectors still see the withdrawals.
		unpublishLocal(mgr, cfg.Local)
		if err := mgr.Stop(cli.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stop resource manager: %w", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Stop(cli.ShutdownTimeout); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	slog.Info("resourcebus started", "health", mgr.Health().Status)
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("resourcebus shutdown complete")
	return nil
}
