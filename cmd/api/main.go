package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/sdr-agent-platform/cmd/mainconfig"
	"github.com/wolfman30/sdr-agent-platform/internal/api/router"
	"github.com/wolfman30/sdr-agent-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/sdr-agent-platform/internal/config"
	"github.com/wolfman30/sdr-agent-platform/internal/conversation"
	"github.com/wolfman30/sdr-agent-platform/internal/events"
	"github.com/wolfman30/sdr-agent-platform/internal/fanout"
	"github.com/wolfman30/sdr-agent-platform/internal/http/handlers"
	"github.com/wolfman30/sdr-agent-platform/internal/leads"
	"github.com/wolfman30/sdr-agent-platform/internal/notify"
	"github.com/wolfman30/sdr-agent-platform/internal/observability/metrics"
	"github.com/wolfman30/sdr-agent-platform/internal/tenancy"
	"github.com/wolfman30/sdr-agent-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting sdr-agent-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"fanout_mode", cfg.FanoutMode,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	pool, sqlDB, err := bootstrap.BuildDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer sqlDB.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsHandler, convMetrics := setupMetrics()

	llm, err := bootstrap.BuildLLM(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer llm.Close()

	sender, err := bootstrap.BuildReplySender(cfg, logger)
	if err != nil {
		return err
	}

	resolver := tenancy.NewCachedResolver(
		tenancy.NewPostgresRepository(pool),
		redisClient,
		logger,
		tenancy.WithCacheTTL(cfg.TenantCacheTTL),
		tenancy.WithFallbackTenant(cfg.FallbackTenantID),
	)
	store := leads.NewPostgresStore(pool, cfg.HistoryLimit)
	syncLogs := fanout.NewSyncLogStore(sqlDB)

	dispatcher, closeFanout, err := setupFanout(ctx, cfg, awsCfg, resolver, syncLogs, convMetrics, logger)
	if err != nil {
		return err
	}
	defer closeFanout()

	enqueuer, err := bootstrap.BuildEnqueuer(cfg, awsCfg, dispatcher)
	if err != nil {
		return err
	}

	deps := conversation.EngineDeps{
		Resolver:  resolver,
		Store:     store,
		LLM:       llm.Client,
		Sender:    sender,
		Processed: events.NewProcessedStore(pool),
		Fanout:    enqueuer,
		Evaluator: leads.NewEvaluator(bootstrap.BuildQualificationRules(cfg)),
		Parser:    conversation.NewParser(cfg.FallbackReply),
		Metrics:   convMetrics,
		Logger:    logger,
	}
	if redisClient != nil {
		deps.Locker = conversation.NewRedisLocker(redisClient, cfg.LockTTL, cfg.LockWait)
		deps.Meter = tenancy.NewUsageMeter(redisClient)
	} else {
		logger.Warn("redis unavailable; conversation locking and token budgets disabled")
	}
	engine := conversation.NewEngine(deps, bootstrap.EngineOptions(cfg, llm.Model)...)

	healthChecks := map[string]handlers.HealthCheck{"postgres": pool.Ping}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:          logger,
		Health:          handlers.NewHealthHandler(healthChecks),
		EvolutionHook:   handlers.NewEvolutionWebhookHandler(engine, cfg.EvolutionWebhookToken, logger),
		AdminHandler:    handlers.NewAdminConversationsHandler(store, engine, syncLogs, logger, handlers.WithTenantCache(resolver)),
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  metricsHandler,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("fan-out jobs still running at shutdown", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupMetrics() (http.Handler, *metrics.ConversationMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewConversationMetrics(reg)
}

// setupFanout builds the sink registry and the in-process dispatcher. The
// returned func releases sink clients once the dispatcher has drained.
func setupFanout(
	ctx context.Context,
	cfg *appconfig.Config,
	awsCfg aws.Config,
	tenants fanout.TenantLookup,
	syncLogs *fanout.SyncLogStore,
	convMetrics *metrics.ConversationMetrics,
	logger *logging.Logger,
) (*fanout.Dispatcher, func(), error) {
	publisher, err := bootstrap.BuildPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	sheetsSvc, err := bootstrap.BuildSheetsService(ctx, cfg)
	if err != nil {
		logger.Warn("sheets sink disabled", "error", err)
	}
	calendarSvc, err := bootstrap.BuildCalendarService(ctx, cfg)
	if err != nil {
		logger.Warn("calendar sink disabled", "error", err)
	}

	registry := bootstrap.BuildSinkRegistry(bootstrap.SinkDeps{
		Tenants:   tenants,
		Notifier:  notify.NewLeadNotifier(bootstrap.BuildEmailSender(cfg, awsCfg, logger), logger),
		Publisher: publisher,
		Archive:   bootstrap.BuildArchiveStore(cfg, awsCfg, logger),
		Sheets:    sheetsSvc,
		Calendar:  calendarSvc,
	}, logger)

	dispatcher := fanout.NewDispatcher(registry, syncLogs, logger,
		fanout.WithSinkTimeout(cfg.FanoutSinkTimeout),
		fanout.WithConcurrency(cfg.FanoutConcurrency),
		fanout.WithMetrics(convMetrics),
	)
	closeFn := func() {
		if publisher != nil {
			_ = publisher.Close()
		}
	}
	return dispatcher, closeFn, nil
}
