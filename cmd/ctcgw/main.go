// Package main is the ctcgw command: it connects to a wireless sensor
// gateway, takes vibration readings and hands them to the configured sinks.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/ctcgateway/config"
	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/gateway"
	"github.com/c360/ctcgateway/health"
	"github.com/c360/ctcgateway/metric"
	"github.com/c360/ctcgateway/sink"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "ctcgw"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitPanic   = 3
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(exitPanic)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process globals. Configuration problems return
// exitFailure before anything connects.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if err := validateFlags(cli); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid flags: %v\n", err)
		return exitUsage
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return exitOK
	}

	logger := setupLogger(stdout, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader().Load(cli.ConfigPath)
	if err != nil {
		logger.Error("Invalid configuration", "config_path", cli.ConfigPath, "error", err)
		return exitFailure
	}
	cfg = cfg.Freeze()
	logger.Debug("Configuration loaded", "config_path", cli.ConfigPath, "config", cfg.String())

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		return exitOK
	}

	logger.Info("Starting ctcgw",
		"version", Version,
		"gateway", cfg.Gateway.Connection.URL,
		"interval", cli.Interval.String())

	if err := serve(ctx, cfg, cli, logger); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			logger.Info("Interrupted; shut down cleanly")
			return exitOK
		}
		logger.Error("ctcgw failed", "error", err, "exit_code", exitFailure)
		return exitFailure
	}
	logger.Info("ctcgw finished")
	return exitOK
}

// serve runs the gateway session and, when configured, the metrics server
// until the session ends or ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, cli *CLIConfig, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(registry.CoreMetrics())

	client, err := gateway.New(cfg.Gateway,
		gateway.WithLogger(logger),
		gateway.WithMetrics(registry),
		gateway.WithHealthMonitor(monitor))
	if err != nil {
		return err
	}

	sinks, err := sink.Build(ctx, cfg.Sinks, logger, registry)
	if err != nil {
		closeWithTimeout(cli.ShutdownTimeout, client.Close)
		return err
	}
	defer closeWithTimeout(cli.ShutdownTimeout, func(ctx context.Context) error {
		if err := sinks.Close(ctx); err != nil {
			logger.Warn("Closing sinks failed", "error", err)
		}
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Metrics.Port > 0 {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, monitor.Handler(appName), cfg.Security)
		logger.Info("Metrics server listening", "address", server.Address())
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
			defer stopCancel()
			return server.Stop(stopCtx)
		})
	}

	s := &session{
		client:          client,
		sink:            sinks,
		interval:        cli.Interval,
		shutdownTimeout: cli.ShutdownTimeout,
		logger:          logger,
	}
	g.Go(func() error {
		defer cancel()
		return s.run(gctx)
	})

	return g.Wait()
}

func closeWithTimeout(timeout time.Duration, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = closeFn(ctx)
}
