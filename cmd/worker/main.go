// Package main - точка входа для фоновых процессов (Worker) Growth Hub.
//
// Worker отвечает за периодические задачи:
// - Пересчёт анализа прироста по параллелям
// - Прогрев кэша анализа рисков для часто просматриваемых целей
//
// Дополнительно worker умеет загрузить начальные данные из JSON-файла
// (-seed) и выполнить одну задачу вне расписания (-run).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alem-hub/growth-hub/config"

	// Application layer
	"github.com/alem-hub/growth-hub/internal/application/command"
	"github.com/alem-hub/growth-hub/internal/application/query"
	"github.com/alem-hub/growth-hub/internal/application/validation"
	"github.com/alem-hub/growth-hub/internal/bootstrap"
	"github.com/alem-hub/growth-hub/internal/domain/risk"

	// Infrastructure layer
	"github.com/alem-hub/growth-hub/internal/infrastructure/messaging"
	"github.com/alem-hub/growth-hub/internal/infrastructure/scheduler"
	"github.com/alem-hub/growth-hub/internal/infrastructure/scheduler/jobs"

	// Packages
	"github.com/alem-hub/growth-hub/pkg/logger"
)

// flags - параметры командной строки.
type flags struct {
	seed string
	run  string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.seed, "seed", "", "JSON file with records, assignments and events to ingest before start")
	flag.StringVar(&f.run, "run", "", "run one job (recompute_growth, refresh_risk) and exit")
	flag.Parse()
	return f
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Создаём корневой контекст с возможностью отмены
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, parseFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Growth Hub Worker",
		"env", cfg.App.Environment,
		"debug", cfg.App.Debug,
		"timezone", cfg.App.Location.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ, КЭШ, EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	storage, err := bootstrap.OpenStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	cache := bootstrap.OpenCache(cfg, log)
	defer cache.Close()

	eventBus, err := bootstrap.OpenEventBus(ctx, cfg.Scheduler, cfg.Redis.Namespace, cache.Client(), log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	grading, err := config.LoadGrading(cfg.Analytics.GradingFile)
	if err != nil {
		return fmt.Errorf("failed to load grading configuration: %w", err)
	}
	analyzer, err := config.NewAnalyzer(cfg.Analytics, grading)
	if err != nil {
		return fmt.Errorf("failed to build growth analyzer: %w", err)
	}

	appLog := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
	})
	validator := validation.New()

	listResults := query.NewListResultsHandler(storage.Results, cache.Result, cfg.Cache.ResultsTTL)
	getRisk := query.NewGetRiskAnalysisHandler(storage.Events, storage.Scores,
		risk.NewAnalyzer(risk.DefaultPatternConfig()), cache.Result, cfg.Cache.RiskTTL, cfg.Analytics.PassMark)
	if err := messaging.WireAnalysisHandlers(eventBus, log, listResults, getRisk); err != nil {
		return fmt.Errorf("failed to wire event handlers: %w", err)
	}

	runGrowth := command.NewRunGrowthAnalysisHandler(
		storage.Scores, storage.Assignments, storage.Results, storage.Runs,
		analyzer, validator, eventBus, appLog,
		command.RunGrowthAnalysisConfig{
			BatchSize: cfg.Analytics.BatchSize,
			Progress: command.ProgressFunc(func(_ context.Context, runID, stage string, percent int) {
				log.Debug("growth run progress", "run_id", runID, "stage", stage, "percent", percent)
			}),
		},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. НАЧАЛЬНЫЕ ДАННЫЕ (-seed)
	// ─────────────────────────────────────────────────────────────────────────
	if f.seed != "" {
		ingest := command.NewIngestInputsHandler(storage.Scores, storage.Assignments, storage.Events,
			validator, eventBus, appLog)
		if err := seed(ctx, ingest, f.seed, log); err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:       log,
		Timezone:     cfg.App.Location,
		TickInterval: cfg.Scheduler.TickInterval,
		JobTimeout:   cfg.Scheduler.JobTimeout,
	})
	if err := registerJobs(sched, cfg, runGrowth, getRisk, cache, log); err != nil {
		return err
	}

	if f.run != "" {
		result, err := sched.RunNow(ctx, f.run)
		if err != nil {
			return fmt.Errorf("job %s failed: %w", f.run, err)
		}
		log.Info("job finished", "job", result.JobName, "duration", result.Duration.String())
		return nil
	}

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, worker has nothing to do")
		return nil
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("Growth Hub Worker is running", "jobs", len(sched.ListJobs()))

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case err := <-stopped:
		if err != nil {
			log.Error("failed to stop scheduler", "error", err)
		}
	case <-shutdownCtx.Done():
		log.Warn("scheduler did not stop in time, running jobs abandoned")
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// JOBS
// ══════════════════════════════════════════════════════════════════════════════

// registerJobs регистрирует задачи и включает их по feature flags.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	runGrowth *command.RunGrowthAnalysisHandler,
	getRisk *query.GetRiskAnalysisHandler,
	cache *bootstrap.Cache,
	log *slog.Logger,
) error {
	features := cfg.Features

	// Аренда нужна, только когда несколько worker'ов делят один Redis.
	var locker jobs.Locker
	if cache.Redis != nil {
		locker = cache.Redis
	}

	// Пустой список параллелей = все параллели одним запуском.
	grades := cfg.Scheduler.RecomputeGrades
	recomputeEnabled := features.IsEnabled(config.FeatureRecomputeGrowth, nil)
	if len(grades) > 0 {
		grades = features.FilterGrades(config.FeatureRecomputeGrowth, grades)
		if len(grades) == 0 {
			log.Warn("no configured grade is in the recompute_growth rollout")
			recomputeEnabled = false
		}
	}

	recompute := jobs.NewRecomputeGrowthJob(runGrowth, locker, jobs.RecomputeGrowthConfig{
		Grades:   grades,
		Lookback: cfg.Scheduler.RecomputeLookback,
		LockTTL:  cfg.Scheduler.RecomputeLockTTL,
	}, log)
	if err := register(sched, recompute, cfg.Scheduler.RecomputeGrowthSchedule, recomputeEnabled); err != nil {
		return err
	}

	targets, err := jobs.ParseRiskTargets(cfg.Scheduler.RiskTargets)
	if err != nil {
		return fmt.Errorf("invalid risk targets: %w", err)
	}
	refreshEnabled := features.IsEnabled(config.FeatureRefreshRisk, nil)
	if refreshEnabled && cache.Result == nil {
		log.Warn("result cache disabled, refresh_risk has nothing to warm")
		refreshEnabled = false
	}
	return register(sched, jobs.NewRefreshRiskJob(getRisk, targets, log),
		cfg.Scheduler.RefreshRiskSchedule, refreshEnabled)
}

func register(sched *scheduler.Scheduler, job scheduler.Job, spec string, enabled bool) error {
	schedule, err := scheduler.ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", job.Name(), err)
	}
	if err := sched.Register(job, schedule); err != nil {
		return fmt.Errorf("failed to register %s: %w", job.Name(), err)
	}
	return sched.SetEnabled(job.Name(), enabled)
}

// seed загружает пакет входных данных из JSON-файла.
func seed(ctx context.Context, ingest *command.IngestInputsHandler, path string, log *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var cmd command.IngestInputsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	cmd.CorrelationID = "seed"

	res, err := ingest.Handle(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to ingest seed file: %w", err)
	}
	log.Info("seed data ingested",
		"batch_id", res.BatchID,
		"scores", res.Scores,
		"assignments", res.Assignments,
		"events", res.Events,
		"rejected", res.Validation.Rejected,
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch strings.ToLower(cfg.Observability.LogLevel) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn", "warning":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() || cfg.Observability.LogFormat == "json" {
		// JSON формат для production (лучше для агрегаторов логов)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		// Текстовый формат для development (лучше читается)
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("app", cfg.App.Name, "process", "worker")
	slog.SetDefault(log)
	return log
}
