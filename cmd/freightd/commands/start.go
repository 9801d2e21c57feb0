package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/internal/protocol/freight/rpc"
	"github.com/freightcore/freightcore/internal/telemetry"
	"github.com/freightcore/freightcore/pkg/adapter"
	rpcadapter "github.com/freightcore/freightcore/pkg/adapter/rpc"
	"github.com/freightcore/freightcore/pkg/config"
	"github.com/freightcore/freightcore/pkg/gateway"
	"github.com/freightcore/freightcore/pkg/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the FreightCore server",
	Long: `Start the FreightCore server with the specified configuration.

The server runs in the foreground; use a process supervisor for daemon
operation. Without a configuration file it starts with defaults: the
in-memory object store, the RPC front on port 7420, and the subscription
gateway on port 7421.

Examples:
  # Start with the default config location (or built-in defaults)
  freightd start

  # Start with custom config file
  freightd start --config /etc/freight/config.yaml

  # Start with environment variable overrides
  FREIGHT_LOGGING_LEVEL=DEBUG freightd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	serviceVersion := cfg.Telemetry.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = Version
	}
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("FreightCore - Artifact distribution daemon")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Initialize metrics FIRST (before creating components that use metrics).
	// The constructors in pkg/metrics return nil until the registry exists.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "endpoint", fmt.Sprintf("http://:%d/metrics", cfg.Gateway.Port))
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Initialize the object store backend
	store, err := config.CreateStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure store bucket: %w", err)
	}
	if err := store.Health(ctx); err != nil {
		logger.Warn("Object store health check failed", "backend", store.Backend(), "error", err)
	}
	logger.Info("Object store initialized", "backend", store.Backend())

	// Progress registry and transfer service share process lifetime. The
	// service closes before the registry so aborted sessions can still
	// publish their terminal snapshots.
	registry := config.CreateProgressRegistry(cfg.Progress)
	defer registry.Close()

	svc := config.CreateTransferService(cfg.Transfer, store, registry)
	svc.Start()
	defer svc.Close()
	logger.Info("Transfer service started",
		"multipart_threshold", cfg.Transfer.MultipartThreshold,
		"max_chunk_bytes", cfg.Transfer.MaxChunkBytes,
		"max_sessions", cfg.Transfer.MaxSessions,
		"session_idle_timeout", cfg.Transfer.SessionIdleTimeout)

	// The RPC front must accept any chunk the transfer layer allows, so its
	// record ceiling derives from the chunk ceiling unless pinned by config.
	if cfg.RPC.MaxFragmentBytes == 0 {
		cfg.RPC.MaxFragmentBytes = uint32(cfg.Transfer.MaxChunkBytes.Int64()) + rpc.CallHeaderSlack
	}

	var adapters []adapter.Adapter
	if cfg.RPC.Enabled {
		adapters = append(adapters, rpcadapter.New(cfg.RPC, svc, registry, metrics.NewRPCMetrics()))
	}
	if cfg.Gateway.Enabled {
		adapters = append(adapters, gateway.New(cfg.Gateway, registry, metrics.Handler(), metrics.NewGatewayMetrics()))
	}
	if len(adapters) == 0 {
		return fmt.Errorf("no server fronts enabled: enable rpc and/or gateway in the configuration")
	}
	for _, a := range adapters {
		logger.Info("Adapter enabled", "protocol", a.Protocol(), "port", a.Port())
	}

	// Start all fronts. If any of them fails, the group context cancels the
	// rest.
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			if err := a.Serve(gctx); err != nil {
				return fmt.Errorf("%s adapter: %w", a.Protocol(), err)
			}
			return nil
		})
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- g.Wait()
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for the fronts to drain, bounded by the daemon budget.
		select {
		case err := <-serverDone:
			if err != nil {
				logger.Error("Server shutdown error", "error", err)
				return err
			}
			logger.Info("Server stopped gracefully")

		case <-time.After(cfg.ShutdownTimeout):
			logger.Error("Shutdown timed out", "timeout", cfg.ShutdownTimeout)
			return fmt.Errorf("shutdown timed out after %s", cfg.ShutdownTimeout)
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}
