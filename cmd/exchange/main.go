package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"

	"github.com/rosspathan/ipg-app-sub010/internal/chain"
	"github.com/rosspathan/ipg-app-sub010/internal/config"
	"github.com/rosspathan/ipg-app-sub010/internal/events"
	"github.com/rosspathan/ipg-app-sub010/internal/handlers"
	"github.com/rosspathan/ipg-app-sub010/internal/rate"
	"github.com/rosspathan/ipg-app-sub010/internal/service"
	"github.com/rosspathan/ipg-app-sub010/internal/storage"
	"github.com/rosspathan/ipg-app-sub010/libs/health"
	"github.com/rosspathan/ipg-app-sub010/libs/httpmiddleware"
	"github.com/rosspathan/ipg-app-sub010/libs/kafka"
	"github.com/rosspathan/ipg-app-sub010/libs/logging"
	"github.com/rosspathan/ipg-app-sub010/libs/metrics"
	"github.com/rosspathan/ipg-app-sub010/libs/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	engineMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.New(pool, logger)
	if err := store.Migrate(context.Background()); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	var publisher kafka.Publisher
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
		if strings.TrimSpace(cfg.Kafka.Topics.DLQ) != "" {
			publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DLQ, logger)
		}
	}
	emitter := events.NewEmitter(publisher, logger)

	settings := service.NewSettingsLoader(store, logger)
	if err := settings.Refresh(context.Background()); err != nil {
		logger.Warn("settings load failed, using defaults", "error", err)
	}

	limiter := buildRateLimiter(cfg, settings, logger)

	chainClient := chain.NewHTTPClient(chain.HTTPConfig{
		BaseURL: cfg.Chain.GatewayURL,
		APIKey:  cfg.Chain.APIKey,
	})

	feeAccountID := uuid.Nil
	if cfg.Chain.FeeAccountID != "" {
		feeAccountID, err = uuid.Parse(cfg.Chain.FeeAccountID)
		if err != nil {
			logger.Error("invalid fee account id", "error", err)
			os.Exit(1)
		}
	}

	orderService := service.NewOrderService(store, limiter, settings, emitter, logger, engineMetrics)
	matchingService := service.NewMatchingService(store, settings, emitter, logger, engineMetrics, feeAccountID)
	depositService := service.NewDepositService(store, chainClient, emitter, logger, engineMetrics, cfg.Chain.DepositLookback)
	withdrawalService := service.NewWithdrawalService(store, chainClient, settings, emitter, logger, engineMetrics, service.WithdrawalConfig{
		HotWalletAddress:      cfg.Chain.HotWalletAddress,
		ConfirmTimeout:        cfg.Chain.ConfirmTimeout,
		RequiredConfirmations: cfg.Chain.WithdrawalConfirm,
		StuckAfter:            cfg.Workers.StuckAfter,
	})
	reconService := service.NewReconciliationService(store, chainClient, settings, emitter, logger, engineMetrics)

	httpServer := buildHTTPServer(cfg, ready, registry, logger,
		handlers.New(orderService, withdrawalService, depositService, matchingService, reconService, store, logger))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go settings.Run(workerCtx, cfg.Workers.SettingsRefresh)
	go runMatchingLoop(workerCtx, matchingService, settings, logger)
	go runTicker(workerCtx, cfg.Workers.DepositScanInterval, func(ctx context.Context) {
		if _, err := depositService.Discover(ctx, service.DiscoverInput{}); err != nil {
			logger.Error("deposit discovery failed", "error", err)
		}
		if _, err := depositService.AdvanceConfirmations(ctx); err != nil {
			logger.Error("deposit confirmation pass failed", "error", err)
		}
	})
	go runTicker(workerCtx, cfg.Workers.WithdrawalInterval, func(ctx context.Context) {
		if _, err := withdrawalService.ProcessPending(ctx); err != nil {
			logger.Error("withdrawal pass failed", "error", err)
		}
	})
	go runTicker(workerCtx, cfg.Workers.StuckSweepInterval, func(ctx context.Context) {
		if _, err := withdrawalService.SweepStuck(ctx); err != nil {
			logger.Error("stuck withdrawal sweep failed", "error", err)
		}
	})
	go runTicker(workerCtx, cfg.Workers.ReconciliationInterval, func(ctx context.Context) {
		if _, err := reconService.Run(ctx); err != nil {
			logger.Error("reconciliation pass failed", "error", err)
		}
	})

	ready.SetReady(true)

	go func() {
		logger.Info("exchange http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, workerCancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// buildRateLimiter sizes the per-user order limiter from the settings row
// loaded at boot. Redis backs it when configured so the limit holds across
// replicas; otherwise an in-process window is used.
func buildRateLimiter(cfg *config.Config, settings *service.SettingsLoader, logger *slog.Logger) rate.Limiter {
	limit := settings.Current().OrdersPerMinute
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		logger.Info("order rate limiter backed by redis", "addr", cfg.Redis.Addr, "limit", limit)
		return rate.NewRedisLimiter(client, limit, time.Minute, "exchange:orders:rl:")
	}
	return rate.NewMemory(limit, time.Minute)
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger, h *handlers.Handler) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Metrics())
	router.Use(trace.Middleware(cfg.App.ServiceName))
	router.NoRoute(httpmiddleware.NoRoute())

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	h.Register(router)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

// runMatchingLoop re-reads the cycle interval from settings each pass so
// admin changes take effect without a restart.
func runMatchingLoop(ctx context.Context, matching *service.MatchingService, settings *service.SettingsLoader, logger *slog.Logger) {
	for {
		interval := settings.Current().MatchingInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		switch _, err := matching.MatchAll(ctx); {
		case err == nil, errors.Is(err, service.ErrCircuitBreakerActive), errors.Is(err, context.Canceled):
		default:
			logger.Error("matching pass failed", "error", err)
		}
	}
}

func runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancelWorkers context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancelWorkers()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
