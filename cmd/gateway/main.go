// Command gateway supervises a vendor inference stack and exposes it
// through a translating reverse proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/elbios/vendorgw/internal/config"
	"github.com/elbios/vendorgw/internal/gateway"
	"github.com/elbios/vendorgw/internal/manifest"
	"github.com/elbios/vendorgw/internal/observability"
	"github.com/elbios/vendorgw/internal/probe"
	"github.com/elbios/vendorgw/internal/proxy"
	"github.com/elbios/vendorgw/internal/supervisor"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", envOr("GATEWAY_CONFIG", "gateway.yaml"), "path to the gateway configuration file")
		logLevel    = flag.String("log-level", "", "override the configured log level")
		logFormat   = flag.String("log-format", "", "override the configured log format (json or console)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("vendorgw", version)
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Observability.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Observability.Logging.Format = *logFormat
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting gateway",
		observability.String("version", version),
		observability.String("config", *configPath),
	)

	metrics := observability.NewMetrics(cfg.Observability.Metrics.Namespace)
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Observability.Tracing.ServiceName,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Observability.Tracing.SamplingRate,
		Enabled:      cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", observability.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Launch the vendor stack first; everything else serves it.
	vendor, err := supervisor.Launch(ctx, supervisor.LaunchConfig{
		Label:          cfg.Vendor.Label,
		Entrypoint:     cfg.Vendor.Entrypoint,
		Image:          cfg.Vendor.Image,
		Ports:          cfg.AllPorts(),
		EnvKeys:        cfg.Vendor.Env.Keys,
		EnvPrefixes:    cfg.Vendor.Env.Prefixes,
		GPUOverrideEnv: cfg.Vendor.GPUOverrideEnv,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to launch vendor process", observability.Error(err))
		return 1
	}
	// The handle is released exactly once, whichever exit path runs.
	defer vendor.Stop()

	prober := probe.New(probe.WithLogger(logger))
	serviceEndpoints := probe.Endpoints(cfg.Vendor.Host, cfg.Vendor.ServicePorts)
	if err := prober.WaitFor(ctx, serviceEndpoints, cfg.Vendor.StartupTimeout.Duration()); err != nil {
		if !cfg.Vendor.SoftFail {
			logger.Error("vendor services never became ready", observability.Error(err))
			return 1
		}
		logger.Warn("vendor services not ready yet, serving unhealthy",
			observability.Error(err),
		)
	}

	routes, err := loadRoutes(cfg, logger)
	if err != nil {
		logger.Error("failed to load route manifest", observability.Error(err))
		return 1
	}

	if cfg.Manifest.Watch && cfg.Manifest.Path != "" {
		watcher, werr := manifest.NewWatcher(cfg.Manifest.Path, logger)
		if werr != nil {
			logger.Warn("manifest watcher unavailable", observability.Error(werr))
		} else if werr := watcher.Start(ctx); werr != nil {
			logger.Warn("manifest watcher failed to start", observability.Error(werr))
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	forwarder := proxy.New(cfg.Proxy.RequestTimeout.Duration(),
		proxy.WithLogger(logger),
		proxy.WithMetrics(metrics),
		proxy.WithTracer(tracer),
		proxy.WithSiloFields(cfg.Silo.Fields),
		proxy.WithCircuitBreaker(cfg.Proxy.CircuitBreaker),
	)

	gw, err := gateway.New(cfg, gateway.Deps{
		Logger:    logger,
		Metrics:   metrics,
		Forwarder: forwarder,
		Prober:    prober,
		Routes:    routes,
		Vendor:    vendor,
	})
	if err != nil {
		logger.Error("failed to assemble gateway", observability.Error(err))
		return 1
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- gw.Start()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("gateway stopped unexpectedly", observability.Error(err))
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", observability.Error(err))
		exitCode = 1
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", observability.Error(err))
	}

	vendor.Stop()
	logger.Info("gateway stopped")
	return exitCode
}

// loadRoutes builds the merged manifest route table. A missing manifest is
// fatal only when no static routes can stand in for it.
func loadRoutes(cfg *config.GatewayConfig, logger observability.Logger) ([]config.RouteEntry, error) {
	m, err := manifest.Load(manifest.LoadOptions{
		InlineEnv:    cfg.Manifest.InlineEnv,
		PathEnv:      cfg.Manifest.PathEnv,
		SkipEnv:      cfg.Manifest.SkipEnv,
		Path:         cfg.Manifest.Path,
		StaticRoutes: cfg.Manifest.StaticRoutes,
		Logger:       logger,
	})
	if err != nil {
		if errors.Is(err, manifest.ErrManifestMissing) && len(cfg.Routes) > 0 {
			// Translated routes alone still make a servable gateway.
			logger.Warn("no route manifest found, serving configured routes only")
			return nil, nil
		}
		return nil, err
	}
	return m.Routes, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
