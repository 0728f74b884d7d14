// Package main is the entry point for the Guild Activity Hub worker.
//
// The worker runs the background side of the tracker:
//   - the daily tracking run (fetch log -> archive -> classify -> report)
//   - role reconciliation against the Active list, chained after each run
//     and swept periodically to catch manual drift
//   - the status API (health, report reads, run history, manual triggers)
//
// The one-shot CLI in cmd/tracker covers the interactive path; this binary
// is the long-running deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coolio-hub/guild-activity-hub/config"
	"github.com/coolio-hub/guild-activity-hub/internal/application/command"
	"github.com/coolio-hub/guild-activity-hub/internal/application/eventhandler"
	"github.com/coolio-hub/guild-activity-hub/internal/application/query"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/promotion"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/external/discord"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/messaging"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/persistence/postgres"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/persistence/redis"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/persistence/textfile"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/scheduler"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/scheduler/jobs"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/service"
	httpapi "github.com/coolio-hub/guild-activity-hub/internal/interface/http"
	"github.com/coolio-hub/guild-activity-hub/internal/interface/http/handlers"
	"github.com/coolio-hub/guild-activity-hub/internal/interface/presenter"
	"github.com/coolio-hub/guild-activity-hub/pkg/circuitbreaker"
	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
	"github.com/coolio-hub/guild-activity-hub/pkg/retry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// slog for infrastructure components, the structured app logger for the
	// HTTP surface and the file repositories.
	// ─────────────────────────────────────────────────────────────────────────
	slogger := setupSlog(cfg)
	appLog := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
	})

	slogger.Info("starting guild activity hub worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.Report.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. POSTGRES (event archive + run history)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		dbConn        *postgres.Connection
		eventLogRepo  session.EventLogRepository
		runRepo       activity.RunRepository
		candidateRepo promotion.CandidateRepository
	)
	if !cfg.Database.Disabled {
		slogger.Info("connecting to database")
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		pgCfg.MinConns = int32(cfg.Database.MaxIdleConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		dbConn, err = postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			slogger.Info("closing database connection")
			dbConn.Close()
		}()

		if err := dbConn.Ping(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		slogger.Info("checking database migrations")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		eventLogRepo = postgres.NewEventLogRepository(dbConn)
		runRepo = postgres.NewRunRepository(dbConn)
		candidateRepo = postgres.NewCandidateRepository(dbConn)
		slogger.Info("database ready")
	} else {
		slogger.Warn("database disabled, runs will not be archived or recorded")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (report cache, run lock, cross-process events)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache  *redis.Cache
		reportCache report.Cache
		runLock     command.RunLock
	)
	if !cfg.Redis.Disabled {
		slogger.Info("connecting to redis")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			slogger.Warn("failed to connect to redis, cache and lock disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			if cfg.Features.IsEnabled(config.FeatureReportCache) {
				reportCache = redis.NewReportCache(redisCache)
			}
			runLock = redis.NewRunLock(redisCache, cfg.Scheduler.JobTimeout)
			slogger.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS + DISPATCHER
	// With Redis available the bus mirrors events across processes, so a
	// second instance (or the CLI) sees run completions too.
	// ─────────────────────────────────────────────────────────────────────────
	var eventBus shared.EventBus
	if redisCache != nil {
		bridge := redis.NewEventBridge(redisCache, slogger)
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client: bridge,
			Logger: slogger,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis event bus: %w", err)
		}
		defer redisBus.Close()
		eventBus = redisBus
	} else {
		busCfg := messaging.DefaultInMemoryEventBusConfig()
		busCfg.Logger = slogger
		memBus := messaging.NewInMemoryEventBus(busCfg)
		defer memBus.Close()
		eventBus = memBus
	}

	dispatcher := messaging.NewDispatcherBuilder(eventBus).
		WithLogger(slogger).
		WithDeadLetterQueue(1000).
		Build()
	dispatcher.Use(messaging.RecoveryMiddleware(slogger))
	dispatcher.Use(messaging.LoggingMiddleware(slogger))
	defer func() {
		if err := dispatcher.Stop(); err != nil {
			slogger.Error("dispatcher stop failed", "error", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. DISCORD CLIENT + ADAPTERS
	// ─────────────────────────────────────────────────────────────────────────
	discordCfg := discord.DefaultClientConfig(cfg.Discord.BaseURL, cfg.Discord.BotToken)
	discordCfg.Timeout = cfg.Discord.RequestTimeout
	discordCfg.Logger = slogger
	discordCfg.Debug = cfg.App.Debug
	discordCfg.RateLimiterConfig.RequestsPerSecond = float64(cfg.Discord.RateLimit)
	discordCfg.RateLimiterConfig.BurstSize = cfg.Discord.RateLimitBurst
	discordCfg.Retrier = retry.New(
		retry.WithMaxAttempts(cfg.Discord.MaxRetries),
		retry.WithInitialDelay(cfg.Discord.RetryBaseDelay),
		retry.WithMaxDelay(cfg.Discord.RetryMaxDelay),
	)
	discordCfg.Breaker = circuitbreaker.New("discord-api",
		circuitbreaker.WithFailureThreshold(cfg.Discord.CircuitBreakerThreshold),
		circuitbreaker.WithTimeout(cfg.Discord.CircuitBreakerTimeout),
		circuitbreaker.WithMaxHalfOpenRequests(cfg.Discord.CircuitBreakerHalfOpenMax),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			slogger.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		}),
	)
	discordClient := discord.NewClient(discordCfg)

	logFetcher := service.NewDiscordLogAdapter(discordClient, cfg.Discord.LogChannelID, cfg.Discord.PageSize, slogger)
	roleDirectory := service.NewDiscordRoleAdapter(discordClient, cfg.Discord.GuildID)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. FILE REPOSITORIES + RENDERING
	// ─────────────────────────────────────────────────────────────────────────
	rosterRepo := textfile.NewRosterRepository(cfg.Files.RosterPath, appLog)
	levelRepo := textfile.NewLevelRepository(cfg.Files.LevelsPath, appLog)
	outputWriter := textfile.NewOutputWriter(cfg.Files.OutputDir, appLog)
	activeListReader := textfile.NewActiveListReader(cfg.Files.OutputDir, appLog)
	reportPresenter := presenter.NewActivityReportPresenter()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. PROMOTION POLICY
	// ─────────────────────────────────────────────────────────────────────────
	policy := promotion.DefaultPolicy()
	if cfg.Tracker.PromotionPolicyPath != "" {
		policy, err = promotion.LoadPolicyFile(cfg.Tracker.PromotionPolicyPath)
		if err != nil {
			return fmt.Errorf("failed to load promotion policy: %w", err)
		}
		slogger.Info("loaded promotion policy", "path", cfg.Tracker.PromotionPolicyPath)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. COMMAND HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	trackingCfg := command.DefaultRunTrackingHandlerConfig()
	trackingCfg.Session = session.Config{
		ReconnectTimeout:       cfg.Tracker.ReconnectTimeout,
		StaleJoinTimeout:       cfg.Tracker.StaleJoinTimeout,
		LongSessionMinDuration: cfg.Tracker.LongSessionMinDuration,
		ActivityGraceWindow:    cfg.Tracker.ActivityGraceWindow,
	}
	trackingCfg.Activity = activity.Config{
		ActiveLongSessionThreshold: cfg.Tracker.ActiveLongSessionThreshold,
	}
	trackingCfg.Policy = policy
	trackingCfg.RecentSessionLimit = cfg.Report.LongJoinsShown
	trackingCfg.StaleWarningAge = cfg.Report.StaleWarningAge
	trackingCfg.MaxMessages = cfg.Discord.MaxMessages
	trackingCfg.MaxDays = cfg.Discord.MaxDays
	trackingCfg.ArchiveEnabled = eventLogRepo != nil && cfg.Features.IsEnabled(config.FeatureEventArchive)
	trackingCfg.ResumeEnabled = cfg.Features.IsEnabled(config.FeatureArchiveResume)
	trackingCfg.CacheReport = reportCache != nil
	trackingCfg.EvaluatePromotions = cfg.Features.IsEnabled(config.FeaturePromotionEvaluation)
	if !cfg.Features.IsEnabled(config.FeatureStalenessWarnings) {
		trackingCfg.StaleWarningAge = 0
	}

	runTracking := command.NewRunTrackingHandler(
		logFetcher,
		eventLogRepo,
		rosterRepo,
		levelRepo,
		runRepo,
		candidateRepo,
		reportCache,
		runLock,
		reportPresenter,
		outputWriter,
		eventBus,
		trackingCfg,
	)

	roleSyncDryRun := cfg.Features.IsEnabled(config.FeatureRoleSyncDryRun)
	syncRoles := command.NewSyncActiveRolesHandler(
		roleDirectory,
		rosterRepo,
		activeListReader,
		eventBus,
		command.SyncActiveRolesHandlerConfig{
			RoleName: cfg.Discord.ActiveRoleName,
			DryRun:   roleSyncDryRun,
		},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. QUERY HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	getReport := query.NewGetActivityReportHandler(reportCache)
	getPromotions := query.NewGetPromotionCandidatesHandler(runRepo, candidateRepo, policy)
	getRunHistory := query.NewGetRunHistoryHandler(runRepo)
	getRunDetail := query.NewGetRunDetailHandler(runRepo)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. EVENT HANDLERS
	// The run-completed handler chains the role sync; the other two turn
	// domain events into officer-facing log lines.
	// ─────────────────────────────────────────────────────────────────────────
	roleSyncer := eventhandler.RoleSyncerFunc(func(ctx context.Context, runID, correlationID string, dryRun bool) error {
		_, err := syncRoles.Handle(ctx, command.SyncActiveRolesCommand{
			DryRun:        dryRun,
			RunID:         shared.RunID(runID),
			CorrelationID: correlationID,
		})
		return err
	})

	onRunCompleted := eventhandler.NewOnRunCompletedHandler(roleSyncer, slogger, eventhandler.RunCompletedConfig{
		SyncRolesAfterRun: true,
		SyncDryRun:        roleSyncDryRun,
		SyncTimeout:       cfg.Scheduler.JobTimeout,
	})
	onCandidates := eventhandler.NewOnPromotionCandidatesHandler(slogger, eventhandler.DefaultPromotionCandidatesConfig())
	onStale := eventhandler.NewOnDirectoryStaleHandler(slogger, eventhandler.DefaultDirectoryStaleConfig())

	register := func(eventType shared.EventType, name string, h shared.EventHandler) error {
		if err := dispatcher.Register(eventType, name, h); err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
		return nil
	}
	if err := register(onRunCompleted.EventType(), "on_run_completed", onRunCompleted.Handle); err != nil {
		return err
	}
	if err := register(onCandidates.EventType(), "on_promotion_candidates", onCandidates.Handle); err != nil {
		return err
	}
	if err := register(onStale.EventType(), "on_directory_stale", onStale.Handle); err != nil {
		return err
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. SCHEDULER + JOBS
	// The tracking job fires daily in the report timezone. The role-sync
	// sweep catches roles changed by hand between runs.
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:   slogger,
			Timezone: cfg.Report.Location,
		})

		trackJob := jobs.NewTrackActivityJob(runTracking, slogger, jobs.TrackActivityConfig{
			Timeout:     cfg.Scheduler.JobTimeout,
			MaxMessages: cfg.Discord.MaxMessages,
			MaxDays:     cfg.Discord.MaxDays,
		})
		trackSchedule, err := scheduler.ParseCronExpression(
			fmt.Sprintf("%d %d * * *", cfg.Scheduler.TrackMinute, cfg.Scheduler.TrackHour))
		if err != nil {
			return fmt.Errorf("invalid tracking schedule: %w", err)
		}
		if err := sched.Register(trackJob, trackSchedule); err != nil {
			return fmt.Errorf("failed to register tracking job: %w", err)
		}

		syncJob := jobs.NewSyncRolesJob(syncRoles, slogger, jobs.SyncRolesConfig{
			Timeout: cfg.Scheduler.JobTimeout,
			DryRun:  roleSyncDryRun,
		})
		if err := sched.Register(syncJob, scheduler.NewIntervalSchedule(cfg.Scheduler.RoleSyncInterval)); err != nil {
			return fmt.Errorf("failed to register role sync job: %w", err)
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				slogger.Error("scheduler stop failed", "error", err)
			}
		}()
		slogger.Info("scheduler started",
			"track_at", fmt.Sprintf("%02d:%02d %s", cfg.Scheduler.TrackHour, cfg.Scheduler.TrackMinute, cfg.Report.Timezone),
			"role_sync_interval", cfg.Scheduler.RoleSyncInterval.String(),
		)
	} else {
		slogger.Warn("scheduler disabled, runs happen only via manual trigger")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 13. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	var httpServer *httpapi.Server
	if cfg.HTTP.Enabled {
		healthChecker := handlers.NewCompositeHealthChecker(cfg.App.Version)
		if dbConn != nil {
			healthChecker.AddCheck("database", handlers.NewDatabaseCheck(dbConn))
		}
		if redisCache != nil {
			healthChecker.AddCheck("cache", handlers.NewCacheCheck(redisCache))
		}
		healthChecker.AddCheck("discord", handlers.NewDiscordCheck(discordClient))

		triggerRunner := handlers.NewAsyncTriggerRunner(func(ctx context.Context, req handlers.TriggerRequest) error {
			_, err := runTracking.Handle(ctx, command.RunTrackingCommand{
				Trigger:       activity.TriggerManual,
				Offline:       req.Offline,
				MaxMessages:   req.MaxMessages,
				MaxDays:       req.MaxDays,
				CorrelationID: req.CorrelationID,
			})
			return err
		}, cfg.Scheduler.JobTimeout, appLog)

		serverCfg := httpapi.DefaultConfig()
		serverCfg.Port = cfg.HTTP.Port
		serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
		serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
		serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
		serverCfg.ManualTriggers = cfg.Features.IsEnabled(config.FeatureManualTriggers)
		serverCfg.AdminPasswordHash = cfg.HTTP.AdminPasswordHash

		httpServer = httpapi.NewServer(serverCfg, httpapi.Dependencies{
			GetActivityReportHandler:      getReport,
			GetPromotionCandidatesHandler: getPromotions,
			GetRunHistoryHandler:          getRunHistory,
			GetRunDetailHandler:           getRunDetail,
			Logger:                        appLog,
			HealthChecker:                 healthChecker,
			TriggerRunner:                 triggerRunner,
		})

		errCh := httpServer.StartAsync()
		go func() {
			if err, ok := <-errCh; ok && err != nil {
				slogger.Error("http server failed", "error", err)
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 14. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	slogger.Info("guild activity hub worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		slogger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slogger.Info("context cancelled")
	}

	slogger.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			slogger.Error("http server shutdown failed", "error", err)
		}
	}

	slogger.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupSlog builds the structured logger used by infrastructure components.
func setupSlog(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Observability.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
