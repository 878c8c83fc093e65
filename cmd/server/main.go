// Package main provides the entry point for the ThreatFlow server.
// ThreatFlow turns attack analyses into actionable incident response
// playbooks, detection rules and compliance reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/api"
	"github.com/threatflow/threatflow/internal/attack"
	"github.com/threatflow/threatflow/internal/compliance"
	"github.com/threatflow/threatflow/internal/config"
	"github.com/threatflow/threatflow/internal/defend"
	"github.com/threatflow/threatflow/internal/observability"
	"github.com/threatflow/threatflow/internal/playbook"
	"github.com/threatflow/threatflow/internal/soar"
	"github.com/threatflow/threatflow/internal/store"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ThreatFlow %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Missing config file falls back to defaults so a bare binary
		// still starts in development.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.DefaultConfig()
	}

	tel, err := observability.New(observability.Config{
		ServiceName:    "threatflow",
		ServiceVersion: Version,
		Environment:    envName(),
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: %v\n", err)
		os.Exit(1)
	}
	logger := tel.Logger()
	logger.Info("starting ThreatFlow",
		zap.String("version", Version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := store.Open(cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("open postgres", zap.Error(err))
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		logger.Fatal("migrate schema", zap.Error(err))
	}

	cache := store.NewCache(pg, cfg.Redis, logger)
	defer cache.Close()

	snapshot, err := store.NewMappingSnapshot(ctx, pg, logger)
	if err != nil {
		logger.Fatal("load compliance mappings", zap.Error(err))
	}

	catalog := attack.NewCatalog()
	mapper := defend.NewMapper(defend.NewStaticLookup(), logger)
	generator := playbook.NewGenerator(catalog, pg, mapper, cache, logger)
	generator.MaxTechniques = cfg.Generation.MaxTechniques
	scorer := compliance.NewScorer(snapshot, logger)
	soarSvc := soar.NewService(pg, cache, nil, logger)

	limiter := api.NewRateLimiter(cache.Client(), cfg.Server.RateLimit, logger)

	server := api.NewServer(generator, cache, scorer, soarSvc, logger, api.Options{
		Mappings: snapshot,
		DB:       pg,
		Limiter:  limiter,
		Metrics:  tel.Metrics(),
		SOAR: soar.Defaults{
			Timeout:   cfg.SOAR.ConnectTimeout,
			VerifyTLS: cfg.SOAR.VerifyTLS,
		},
		Version: Version,
	})

	router := server.Router()
	if cfg.Telemetry.MetricsEnabled {
		router.Handle("/metrics", tel.MetricsHandler())
		tel.StartSystemMetricsCollector(ctx)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func envName() string {
	if env := os.Getenv("THREATFLOW_ENV"); env != "" {
		return env
	}
	return "development"
}
