// Package main implements the entry point for skybridge, the
// mission-to-processing-job orchestration bridge. It consumes domain
// lifecycle events off the bus and drives an external photogrammetry
// engine, keeping a durable mapping between domain identifiers and
// the engine resources created for them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/skybridge/blobstore"
	"github.com/c360/skybridge/bridge"
	"github.com/c360/skybridge/config"
	"github.com/c360/skybridge/mapping"
	"github.com/c360/skybridge/natsclient"
	"github.com/c360/skybridge/odm"
	"github.com/c360/skybridge/pkg/cache"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "skybridge"
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

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	adapter := &slogAdapter{logger: logger}

	natsClient, err := connectBus(ctx, cfg, adapter)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := natsClient.Close(closeCtx); err != nil {
			slog.Error("NATS close failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()

	dispatcher, err := buildBridge(ctx, cfg, natsClient, registry, adapter)
	if err != nil {
		return err
	}

	if cfg.MetricsPort > 0 {
		startMetricsServer(cfg.MetricsPort, registry)
	}

	return runWithSignalHandling(ctx, dispatcher)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting skybridge (mission-to-job orchestration)",
		"version", Version,
		"build_time", BuildTime)

	return cliCfg, logger, false, nil
}

// connectBus creates the NATS client and establishes the connection,
// retrying per the startup policy before giving up.
func connectBus(ctx context.Context, cfg *config.Config, logger natsclient.Logger) (*natsclient.Client, error) {
	natsClient, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(cfg.NATS.ClientName),
		natsclient.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return natsClient, nil
}

// buildBridge constructs every collaborator explicitly and wires the
// dispatcher. Nothing here connects lazily or at package load.
func buildBridge(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	registry *prometheus.Registry,
	adapter *slogAdapter,
) (*bridge.Dispatcher, error) {
	bucket, err := natsClient.KeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.KVBucket,
		Description: "skybridge domain-to-engine resource mappings",
	})
	if err != nil {
		return nil, fmt.Errorf("open mapping bucket %s: %w", cfg.KVBucket, err)
	}
	kvStore := natsClient.NewKVStore(bucket)

	engine, err := odm.NewClient(odm.Config{
		BaseURL:  cfg.Engine.BaseURL,
		Username: cfg.Engine.Username,
		Password: cfg.Engine.Password,
		Timeout:  cfg.Engine.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine client: %w", err)
	}

	presigner, err := blobstore.NewPresigner(blobstore.Config{
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		Bucket:    cfg.Blob.Bucket,
		UseSSL:    cfg.Blob.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create presigner: %w", err)
	}

	projectCache, err := cache.New[mapping.ProjectMapping](
		cache.WithMetrics[mapping.ProjectMapping](registry, "projects"))
	if err != nil {
		return nil, fmt.Errorf("create project cache: %w", err)
	}
	jobCache, err := cache.New[mapping.JobMapping](
		cache.WithMetrics[mapping.JobMapping](registry, "jobs"))
	if err != nil {
		return nil, fmt.Errorf("create job cache: %w", err)
	}

	mapper, err := mapping.NewMapper(kvStore, engine,
		mapping.WithProjectCache(projectCache),
		mapping.WithJobCache(jobCache),
		mapping.WithLogger(adapter),
	)
	if err != nil {
		return nil, fmt.Errorf("create mapper: %w", err)
	}

	metrics, err := bridge.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("register bridge metrics: %w", err)
	}

	submitter, err := bridge.NewJobSubmitter(mapper, engine, adapter, metrics)
	if err != nil {
		return nil, fmt.Errorf("create job submitter: %w", err)
	}

	relay, err := bridge.NewAssetRelay(mapper, presigner, engine, cfg.Blob.PresignExpiry, adapter, metrics)
	if err != nil {
		return nil, fmt.Errorf("create asset relay: %w", err)
	}

	channels := bridge.Channels{
		ProjectCreate:    cfg.Subjects.ProjectCreate,
		MissionCreate:    cfg.Subjects.MissionCreate,
		AssetUploaded:    cfg.Subjects.AssetUploaded,
		DeadLetterPrefix: cfg.Subjects.DeadLetterPrefix,
	}

	dispatcher, err := bridge.NewDispatcher(
		natsClient, engine, submitter, submitter, relay, channels, adapter, metrics)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	return dispatcher, nil
}

// startMetricsServer exposes the Prometheus registry over HTTP.
func startMetricsServer(port int, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Metrics server listening", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
}

// runWithSignalHandling starts the dispatcher and waits for shutdown
func runWithSignalHandling(ctx context.Context, dispatcher *bridge.Dispatcher) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Start authenticates with the engine first; a login failure is
	// fatal and surfaces as exit code 1 through run().
	if err := dispatcher.Start(signalCtx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	slog.Info("skybridge started, consuming events")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := dispatcher.Stop(); err != nil {
		slog.Error("Error detaching from bus", "error", err)
	}

	slog.Info("skybridge shutdown complete")
	return nil
}
