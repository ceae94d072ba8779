// Package main provides the entry point for the qrcore service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/devrev/qrcore/internal/auth"
	"github.com/devrev/qrcore/internal/config"
	"github.com/devrev/qrcore/internal/envelope"
	"github.com/devrev/qrcore/internal/handler"
	"github.com/devrev/qrcore/internal/health"
	"github.com/devrev/qrcore/internal/metrics"
	"github.com/devrev/qrcore/internal/ratelimit"
	"github.com/devrev/qrcore/internal/server"
	"github.com/devrev/qrcore/internal/service"
	"github.com/devrev/qrcore/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const replayCacheSize = 10000

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render configuration: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("qrcore exited with error", zap.Error(err))
	}
	logger.Info("qrcore shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting qrcore",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	clk := clock.New()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	checks := []health.Check{{Name: "database", Pinger: st}}

	var cache store.IdempotencyCache
	if cfg.Redis.Enabled {
		redisCache, err := store.NewRedisIdempotencyCache(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		cache = redisCache
		checks = append(checks, health.Check{Name: "cache", Pinger: redisCache})
	} else {
		cache = store.NewInMemoryIdempotencyCache(replayCacheSize, clk, logger)
	}
	defer cache.Close()

	// Metrics
	collector := metrics.NewCollector(metrics.NewRegistry(), metrics.NewPrometheus())
	writer := envelope.NewWriter(logger)

	// Services
	idempotency := service.NewIdempotencyService(st, cache, cfg.Idempotency.Retention, clk, logger)
	attribution := service.NewAttributionService(st, cfg.Attribution.Lookback, logger)
	scanLimiter := ratelimit.NewScanLimiter(cfg.RateLimiter.ScanPerMinute)
	scans := service.NewScanService(st, st, scanLimiter, attribution, clk, logger)

	classLimiter := ratelimit.NewFixedWindow(map[ratelimit.Class]int{
		ratelimit.ClassCreate: cfg.RateLimiter.CreatePerSecond,
		ratelimit.ClassList:   cfg.RateLimiter.ListPerSecond,
	}, clk)
	sweeper := ratelimit.NewSweeper(cfg.RateLimiter.ScanSweepInterval, clk, logger, scanLimiter, classLimiter)

	keys := auth.NewKeySet(cfg.Auth, nil, clk, logger)
	verifier := auth.NewVerifier(keys, cfg.Auth, clk)

	httpServer := server.NewServer(cfg, server.Deps{
		Handlers:  handler.NewHandlers(st, idempotency, scans, writer, collector, clk, logger),
		Health:    health.NewHealthCheck(logger, checks...),
		Verifier:  verifier,
		Limiter:   classLimiter,
		Collector: collector,
		Writer:    writer,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	sweeper.Start(gctx)
	defer sweeper.Stop()

	if cfg.Idempotency.PurgeEnabled {
		purger := service.NewIdempotencyPurger(st, cfg.Idempotency.Retention, cfg.Idempotency.PurgeInterval, clk, logger)
		purger.Start(gctx)
		defer purger.Stop()
	}

	g.Go(httpServer.Start)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, collector, logger)
		g.Go(metricsServer.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		// The parent context is already canceled here
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown metrics server", zap.Error(err))
			}
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("database connection established",
		zap.String("host", cfg.Database.Host),
		zap.String("schema", cfg.Database.Schema),
	)
	return pg, nil
}

// initLogger initializes the zap logger. LOG_LEVEL and LOG_FORMAT override the config.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = cfg.Level
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(logLevel))); err != nil {
		level = zapcore.InfoLevel
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = cfg.Format
	}

	var zcfg zap.Config
	if logFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
