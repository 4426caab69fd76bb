// Package main - точка входа HTTP API Growth Hub.
//
// API отдаёт:
// - чистый анализ прироста и рисков по переданным данным
// - запуски анализа прироста по сохранённым оценкам и их результаты
// - кэшированный анализ рисков по сохранённым предупреждениям
// - приём оценок, назначений учителей и предупреждений
package main

import (
	"context"
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

	// Interface layer
	httpserver "github.com/alem-hub/growth-hub/internal/interface/http"
	"github.com/alem-hub/growth-hub/internal/interface/http/handlers"

	// Packages
	"github.com/alem-hub/growth-hub/pkg/logger"
)

func main() {
	// Создаём корневой контекст с возможностью отмены
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
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
	log.Info("starting Growth Hub API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Location.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ (PostgreSQL или встроенный SQLite)
	// ─────────────────────────────────────────────────────────────────────────
	storage, err := bootstrap.OpenStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. КЭШ РЕЗУЛЬТАТОВ (Redis, LRU или без кэша)
	// ─────────────────────────────────────────────────────────────────────────
	cache := bootstrap.OpenCache(cfg, log)
	defer cache.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	eventBus, err := bootstrap.OpenEventBus(ctx, cfg.Scheduler, cfg.Redis.Namespace, cache.Client(), log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. НАСТРОЙКА АНАЛИЗА (шкала оценок, когорта, веса баланса)
	// ─────────────────────────────────────────────────────────────────────────
	grading, err := config.LoadGrading(cfg.Analytics.GradingFile)
	if err != nil {
		return fmt.Errorf("failed to load grading configuration: %w", err)
	}
	analyzer, err := config.NewAnalyzer(cfg.Analytics, grading)
	if err != nil {
		return fmt.Errorf("failed to build growth analyzer: %w", err)
	}
	riskAnalyzer := risk.NewAnalyzer(risk.DefaultPatternConfig())

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")
	httpLog := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})
	validator := validation.New()

	listResults := query.NewListResultsHandler(storage.Results, cache.Result, cfg.Cache.ResultsTTL)
	getRisk := query.NewGetRiskAnalysisHandler(storage.Events, storage.Scores, riskAnalyzer,
		cache.Result, cfg.Cache.RiskTTL, cfg.Analytics.PassMark)

	if err := messaging.WireAnalysisHandlers(eventBus, log, listResults, getRisk); err != nil {
		return fmt.Errorf("failed to wire event handlers: %w", err)
	}

	deps := httpserver.Dependencies{
		ListResults: listResults,
		GetRun:      query.NewGetRunHandler(storage.Runs),
		GetRisk:     getRisk,
		Ingest: command.NewIngestInputsHandler(storage.Scores, storage.Assignments, storage.Events,
			validator, eventBus, httpLog),
		Validator: validator,
		Logger:    httpLog,
	}

	features := cfg.Features
	for name, f := range features.GetAllFeatures() {
		log.Debug("feature flag", "name", name, "enabled", f.Enabled, "rollout_percent", f.RolloutPercent)
	}
	if features.IsEnabled(config.FeaturePureAnalysisAPI, nil) {
		deps.AnalyzeGrowth = query.NewAnalyzeGrowthHandler(analyzer, validator)
		deps.AnalyzeRisk = query.NewAnalyzeRiskHandler(riskAnalyzer, validator)
	}
	if features.IsEnabled(config.FeatureGrowthRunsAPI, nil) {
		deps.RunGrowth = command.NewRunGrowthAnalysisHandler(
			storage.Scores, storage.Assignments, storage.Results, storage.Runs,
			analyzer, validator, eventBus, httpLog,
			command.RunGrowthAnalysisConfig{BatchSize: cfg.Analytics.BatchSize},
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck(storage.Backend, handlers.PingCheck(storage))
	if cache.Redis != nil {
		health.AddOptionalCheck("redis", handlers.PingCheck(cache.Redis))
	}
	deps.HealthChecker = health

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.BodyLimit = cfg.HTTP.BodyLimit
	httpConfig.EnableCORS = cfg.HTTP.EnableCORS
	httpConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpConfig.APIKeyHeader = cfg.HTTP.APIKeyHeader
	httpConfig.APIKeyHashes = cfg.HTTP.APIKeyHashes
	httpConfig.Timezone = cfg.App.Location
	httpConfig.Debug = cfg.App.Debug
	httpConfig.DisableScaleValidation = !features.IsEnabled(config.FeatureGradingValidation, nil)

	httpServer := httpserver.NewServer(httpConfig, deps)
	if len(cfg.HTTP.APIKeyHashes) == 0 {
		log.Warn("no API keys configured, /api/v1 is open")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ЗАПУСК
	// ─────────────────────────────────────────────────────────────────────────
	errCh := httpServer.StartAsync()

	log.Info("Growth Hub API is running",
		"http_address", httpConfig.Address(),
		"storage", storage.Backend,
		"cache", cfg.Cache.Backend,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("http server error", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	// Event bus, cache и хранилище закроются через defer
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() || cfg.Observability.LogFormat == "json" {
		// JSON формат для production (лучше для агрегаторов логов)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("app", cfg.App.Name, "process", "api")
	slog.SetDefault(log)
	return log
}

func slogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
