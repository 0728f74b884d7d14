// Package main is the one-shot Guild Activity Hub tracker.
//
// It executes a single tracking cycle and exits: fetch the join/leave log
// (or replay the archive with -offline), reconstruct sessions, classify the
// roster, evaluate promotions, write the report and active list, and
// reconcile the active role on the server. The report text also goes to
// stdout, so the tool composes in a pipe; everything else goes to stderr.
//
// The long-running deployment lives in cmd/worker. This binary is for
// officers running the cycle by hand and for cron setups without the worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coolio-hub/guild-activity-hub/config"
	"github.com/coolio-hub/guild-activity-hub/internal/application/command"
	"github.com/coolio-hub/guild-activity-hub/internal/application/query"
	"github.com/coolio-hub/guild-activity-hub/internal/application/saga"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/activity"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/promotion"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/session"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/external/discord"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/persistence/postgres"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/persistence/redis"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/persistence/textfile"
	"github.com/coolio-hub/guild-activity-hub/internal/infrastructure/service"
	"github.com/coolio-hub/guild-activity-hub/internal/interface/presenter"
	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
)

type options struct {
	offline     bool
	maxMessages int
	maxDays     int
	skipRoles   bool
	dryRunRoles bool
	quiet       bool
	verbose     bool
}

func main() {
	var opts options
	flag.BoolVar(&opts.offline, "offline", false, "replay the archived log instead of fetching from Discord")
	flag.IntVar(&opts.maxMessages, "max-messages", 0, "cap on fetched messages (0 = configured default)")
	flag.IntVar(&opts.maxDays, "max-days", 0, "ignore messages older than this many days (0 = configured default)")
	flag.BoolVar(&opts.skipRoles, "skip-roles", false, "skip the role reconciliation step")
	flag.BoolVar(&opts.dryRunRoles, "dry-run", false, "plan role changes without applying them")
	flag.BoolVar(&opts.quiet, "quiet", false, "suppress the report text on stdout")
	flag.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// Logs go to stderr so the report on stdout stays pipeable.
	// ─────────────────────────────────────────────────────────────────────────
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(slogger)

	logLevel := logger.LevelWarn
	if opts.verbose {
		logLevel = logger.LevelDebug
	}
	appLog := logger.New(logger.Options{
		Output: os.Stderr,
		Level:  logLevel,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 3. POSTGRES (optional; offline replay requires it)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		eventLogRepo  session.EventLogRepository
		runRepo       activity.RunRepository
		candidateRepo promotion.CandidateRepository
	)
	if !cfg.Database.Disabled && cfg.Database.URL != "" {
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL

		dbConn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbConn.Close()

		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		eventLogRepo = postgres.NewEventLogRepository(dbConn)
		runRepo = postgres.NewRunRepository(dbConn)
		candidateRepo = postgres.NewCandidateRepository(dbConn)
	} else if opts.offline {
		return fmt.Errorf("-offline replays the event archive, which needs the database (set DATABASE_URL)")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// The lock keeps a hand-started run from colliding with the worker's
	// scheduled one; the cache makes this run visible to the worker's API.
	// ─────────────────────────────────────────────────────────────────────────
	var (
		reportCache report.Cache
		runLock     command.RunLock
	)
	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB

		redisCache, err := redis.NewCache(redisCfg)
		if err != nil {
			slogger.Warn("redis unavailable, running without cache and lock", "error", err)
		} else {
			defer redisCache.Close()
			if cfg.Features.IsEnabled(config.FeatureReportCache) {
				reportCache = redis.NewReportCache(redisCache)
			}
			runLock = redis.NewRunLock(redisCache, cfg.Scheduler.JobTimeout)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. DISCORD CLIENT + ADAPTERS
	// Constructed even for -offline: the client opens no connection until
	// used, and the role sync step may still need it.
	// ─────────────────────────────────────────────────────────────────────────
	discordCfg := discord.DefaultClientConfig(cfg.Discord.BaseURL, cfg.Discord.BotToken)
	discordCfg.Timeout = cfg.Discord.RequestTimeout
	discordCfg.Logger = slogger
	discordClient := discord.NewClient(discordCfg)

	logFetcher := service.NewDiscordLogAdapter(discordClient, cfg.Discord.LogChannelID, cfg.Discord.PageSize, slogger)
	roleDirectory := service.NewDiscordRoleAdapter(discordClient, cfg.Discord.GuildID)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. FILE REPOSITORIES + RENDERING
	// ─────────────────────────────────────────────────────────────────────────
	rosterRepo := textfile.NewRosterRepository(cfg.Files.RosterPath, appLog)
	levelRepo := textfile.NewLevelRepository(cfg.Files.LevelsPath, appLog)
	outputWriter := textfile.NewOutputWriter(cfg.Files.OutputDir, appLog)
	activeListReader := textfile.NewActiveListReader(cfg.Files.OutputDir, appLog)
	reportPresenter := presenter.NewActivityReportPresenter()

	policy := promotion.DefaultPolicy()
	if cfg.Tracker.PromotionPolicyPath != "" {
		policy, err = promotion.LoadPolicyFile(cfg.Tracker.PromotionPolicyPath)
		if err != nil {
			return fmt.Errorf("failed to load promotion policy: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HANDLERS
	// No event dispatcher here: the cycle saga sequences the steps itself,
	// so events would have no audience.
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
		nil, // no event bus
		trackingCfg,
	)

	syncRoles := command.NewSyncActiveRolesHandler(
		roleDirectory,
		rosterRepo,
		activeListReader,
		nil, // no event bus
		command.SyncActiveRolesHandlerConfig{
			RoleName: cfg.Discord.ActiveRoleName,
		},
	)

	var reportReader saga.ReportReader
	if reportCache != nil {
		reportReader = query.NewGetActivityReportHandler(reportCache)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. EXECUTE THE CYCLE
	// ─────────────────────────────────────────────────────────────────────────
	cycle := saga.NewTrackingCycleSaga(runTracking, syncRoles, reportReader, saga.DefaultTrackingCycleConfig())

	result, err := cycle.Execute(ctx, saga.TrackingCycleInput{
		Trigger:      activity.TriggerCLI,
		Offline:      opts.offline,
		MaxMessages:  opts.maxMessages,
		MaxDays:      opts.maxDays,
		SkipRoleSync: opts.skipRoles,
		DryRunRoles:  opts.dryRunRoles,
	})
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. OUTPUT
	// ─────────────────────────────────────────────────────────────────────────
	for _, d := range result.Run.DroppedRecords {
		fmt.Fprintf(os.Stderr, "warning: dropped %s record for %q: %s\n",
			d.Record.Marker, d.Record.Identity, d.Reason)
	}

	if !opts.quiet && result.Run.ReportText != "" {
		fmt.Print(result.Run.ReportText)
	}

	printSummary(os.Stderr, result)
	return nil
}

// printSummary writes the cycle outcome to w, one line per concern.
func printSummary(w io.Writer, result *saga.TrackingCycleResult) {
	run := result.Run

	fmt.Fprintf(w, "run %s: %s in %s", run.RunID, run.Status, run.Duration.Round(time.Millisecond))
	if run.Report != nil {
		fmt.Fprintf(w, " (%d active, %d grace, %d inactive)",
			len(run.Report.Active), len(run.Report.GracePeriod), len(run.Report.Inactive))
	}
	fmt.Fprintln(w)

	if run.Stats.MessagesScanned > 0 || run.Stats.RecordsParsed > 0 {
		fmt.Fprintf(w, "log: %d messages scanned, %d records parsed, %d archived, %d dropped\n",
			run.Stats.MessagesScanned, run.Stats.RecordsParsed,
			run.Stats.RecordsArchived, run.Stats.RecordsDropped)
	}

	switch {
	case result.RoleSyncSkipped:
		fmt.Fprintln(w, "roles: skipped")
	case result.RoleSyncError != "":
		fmt.Fprintf(w, "roles: FAILED: %s\n", result.RoleSyncError)
	case result.RoleSync != nil:
		sync := result.RoleSync
		mode := "applied"
		if sync.DryRun {
			mode = "planned"
		}
		fmt.Fprintf(w, "roles: %s +%d -%d (%d already correct, %d not found on server)\n",
			mode, sync.Added, sync.Removed, sync.AlreadyCorrect, len(sync.NotFound))
		for _, ign := range sync.NotFound {
			fmt.Fprintf(w, "  not found: %s\n", ign)
		}
	}
}
