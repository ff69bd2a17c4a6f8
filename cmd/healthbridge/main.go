// Package main implements the HealthBridge daemon: the unified
// wearable/health-data subsystem assembled end to end — platform providers,
// orchestrator, two-tier cache, error recovery, real-time anomaly monitor,
// and the adaptive background sync loop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/healthbridge/config"
	"github.com/c360/healthbridge/datacache"
	"github.com/c360/healthbridge/health"
	"github.com/c360/healthbridge/healthdata"
	"github.com/c360/healthbridge/lifecycle"
	"github.com/c360/healthbridge/manager"
	"github.com/c360/healthbridge/metric"
	"github.com/c360/healthbridge/monitor"
	"github.com/c360/healthbridge/notify"
	"github.com/c360/healthbridge/provider"
	"github.com/c360/healthbridge/provider/healthconnect"
	"github.com/c360/healthbridge/provider/healthkit"
	"github.com/c360/healthbridge/recovery"
	"github.com/c360/healthbridge/storage"
	"github.com/c360/healthbridge/syncer"
	"github.com/c360/healthbridge/telemetry"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "healthbridge"
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
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting HealthBridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	ctx := context.Background()
	app, err := assemble(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if cliCfg.MetricsPort > 0 {
		app.metricsSrv = metric.NewServer(cliCfg.MetricsPort, "/metrics", app.registry)
		if err := app.metricsSrv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("metrics server started", "port", cliCfg.MetricsPort)
	}

	// Initialization failure is tolerated: on targets without native
	// capability every provider stays inactive and reads return empty.
	if initErr := app.facade.Initialize(ctx); initErr != nil {
		logger.Warn("no providers activated, serving empty results", "error", initErr)
	}

	return waitForShutdown(app, cliCfg.ShutdownTimeout, logger)
}

// loadConfiguration reads the config file (or the built-in defaults) and
// applies CLI/env logging overrides.
func loadConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cliCfg.ConfigPath != "" {
		loaded, err := config.Load(cliCfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
	return cfg, cfg.Validate()
}

// app holds the assembled subsystem for shutdown ordering.
type app struct {
	facade     *healthdata.Service
	monitor    *monitor.Service
	syncer     *syncer.Service
	recovery   *recovery.Service
	dataCache  *datacache.Service
	store      storage.Store
	nats       *nats.Conn
	registry   *metric.MetricsRegistry
	metricsSrv *metric.Server
	logger     *slog.Logger
}

// assemble wires config -> metrics -> storage -> providers -> manager ->
// facade -> recovery -> monitor -> syncer.
func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry := metric.NewMetricsRegistry()
	sink := telemetry.NewSlogSink(logger)

	var (
		nc       *nats.Conn
		store    storage.Store
		events   notify.EventPublisher
		uploader syncer.Uploader
		err      error
	)
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(appName),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		storeOpts := storage.DefaultNATSStoreOptions()
		storeOpts.Bucket = cfg.NATS.Bucket
		store, err = storage.NewNATSStore(ctx, nc, logger, storeOpts)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("open durable store: %w", err)
		}
		events = notify.NewNATSPublisher(nc, logger)
		uploader = syncer.NewNATSUploader(nc, logger)
	} else {
		store = storage.NewMemoryStore()
	}

	dataCache := datacache.New(logger, store, cfg.Cache.CleanupInterval,
		datacache.WithMaxEntries(cfg.Cache.MaxEntries))

	healthMon := health.NewMonitor()
	signal := lifecycle.NewBroadcaster()

	mgr := manager.New(ctx, manager.Config{
		Logger:        logger,
		Metrics:       registry.CoreMetrics(),
		Telemetry:     sink,
		DataCache:     dataCache,
		ResponseTTL:   cfg.Manager.ResponseTTL,
		PermissionTTL: cfg.Manager.PermissionTTL,
		StaleMaxAge:   cfg.Manager.StaleMaxAge,
	})
	if err := registerProviders(cfg, mgr, logger); err != nil {
		return nil, err
	}

	facade, err := healthdata.New(healthdata.Config{
		Manager:       mgr,
		Logger:        logger,
		HealthMonitor: healthMon,
	})
	if err != nil {
		return nil, err
	}

	rec := recovery.New(recovery.Config{
		Logger:        logger,
		Telemetry:     sink,
		DataCache:     dataCache,
		HealthMonitor: healthMon,
	})
	for _, p := range mgr.Providers() {
		p := p
		rec.RegisterProbe(p.Name(), func(context.Context) bool { return p.IsAvailable() })
	}
	rec.Start(ctx)

	mon, err := monitor.New(ctx, monitor.Config{
		Source:       mgr,
		Logger:       logger,
		Notifier:     notify.NewSlogScheduler(logger),
		Events:       events,
		Store:        store,
		Telemetry:    sink,
		Metrics:      registry.CoreMetrics(),
		Lifecycle:    signal,
		PollInterval: cfg.Monitor.PollInterval,
		BufferCap:    cfg.Monitor.BufferCap,
		HistoryCap:   cfg.Monitor.HistoryCap,
		Thresholds:   cfg.Monitor.Thresholds,
	})
	if err != nil {
		rec.Stop()
		return nil, err
	}

	sync, err := syncer.New(syncer.Config{
		Source:       facade,
		Uploader:     uploader,
		Logger:       logger,
		Telemetry:    sink,
		Lifecycle:    signal,
		BaseInterval: cfg.Sync.BaseInterval,
		MinInterval:  cfg.Sync.MinInterval,
		MaxInterval:  cfg.Sync.MaxInterval,
	})
	if err != nil {
		mon.Close()
		rec.Stop()
		return nil, err
	}
	if cfg.Sync.Enabled {
		sync.Start(ctx)
	}

	return &app{
		facade:    facade,
		monitor:   mon,
		syncer:    sync,
		recovery:  rec,
		dataCache: dataCache,
		store:     store,
		nats:      nc,
		registry:  registry,
		logger:    logger,
	}, nil
}

// registerProviders wires the platform adapters selected by config. Server
// deployments run on null bridges; the real bridges are linked in per
// platform build.
func registerProviders(cfg *config.Config, mgr *manager.Manager, logger *slog.Logger) error {
	if cfg.Providers.HealthKit {
		adapter, err := healthkit.New(&provider.NullBridge{}, logger)
		if err != nil {
			return fmt.Errorf("create healthkit provider: %w", err)
		}
		if err := mgr.RegisterProvider(adapter.Name(), adapter); err != nil {
			return err
		}
	}
	if cfg.Providers.HealthConnect {
		adapter, err := healthconnect.New(&provider.NullBridge{}, logger)
		if err != nil {
			return fmt.Errorf("create healthconnect provider: %w", err)
		}
		if err := mgr.RegisterProvider(adapter.Name(), adapter); err != nil {
			return err
		}
	}
	return nil
}

// waitForShutdown blocks on SIGINT/SIGTERM, then tears the subsystem down
// in reverse dependency order within the timeout.
func waitForShutdown(a *app, timeout time.Duration, logger *slog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutdown signal received", "signal", sig.String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if a.metricsSrv != nil {
			if err := a.metricsSrv.Stop(5 * time.Second); err != nil {
				logger.Warn("metrics server stop", "error", err)
			}
		}
		a.syncer.Stop()
		a.monitor.Close()
		a.recovery.Stop()
		a.facade.Cleanup(shutdownCtx)
		a.dataCache.Close()
		if err := a.store.Close(); err != nil {
			logger.Warn("store close", "error", err)
		}
		if a.nats != nil {
			a.nats.Close()
		}
	}()

	select {
	case <-done:
		logger.Info("Shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}
