package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alem-hub/growth-hub/internal/application/query"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// RiskRefresher recomputes a risk analysis and stores it in the cache.
type RiskRefresher interface {
	Handle(ctx context.Context, q query.GetRiskAnalysisQuery) (*query.GetRiskAnalysisResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH RISK JOB
// ══════════════════════════════════════════════════════════════════════════════

// RefreshRiskJob keeps cached risk analyses of frequently viewed targets warm.
type RefreshRiskJob struct {
	refresher RiskRefresher
	targets   []shared.AnalysisKey
	logger    *slog.Logger
}

// NewRefreshRiskJob creates the job for the given keys.
func NewRefreshRiskJob(refresher RiskRefresher, targets []shared.AnalysisKey, logger *slog.Logger) *RefreshRiskJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshRiskJob{
		refresher: refresher,
		targets:   targets,
		logger:    logger.With("job", "refresh_risk"),
	}
}

// Name implements scheduler.Job.
func (j *RefreshRiskJob) Name() string { return "refresh_risk" }

// Description implements scheduler.Job.
func (j *RefreshRiskJob) Description() string {
	return "Recomputes and re-caches risk analyses for configured scopes"
}

// Run implements scheduler.Job.
func (j *RefreshRiskJob) Run(ctx context.Context) error {
	start := time.Now()
	var errs []error
	refreshed := 0

	for _, key := range j.targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := j.refresher.Handle(ctx, query.GetRiskAnalysisQuery{Key: key, Refresh: true})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		refreshed++
		j.logger.Debug("risk refreshed",
			"key", key.String(),
			"risk_score", res.Analysis.RiskScore,
			"trend", res.Analysis.TrendDirection,
		)
	}

	j.logger.Info("risk refresh finished",
		"targets", len(j.targets),
		"refreshed", refreshed,
		"failed", len(errs),
		"duration", time.Since(start).String(),
	)
	return errors.Join(errs...)
}

// ParseRiskTargets parses "scope" or "scope:target" entries, e.g.
// "global", "class:7A", "exam:9/math".
func ParseRiskTargets(specs []string) ([]shared.AnalysisKey, error) {
	keys := make([]shared.AnalysisKey, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		rawScope, target, _ := strings.Cut(spec, ":")
		scope, err := shared.ParseScope(rawScope)
		if err != nil {
			return nil, fmt.Errorf("risk target %q: %w", spec, err)
		}
		key, err := shared.NewAnalysisKey(scope, target, shared.TimeRange{})
		if err != nil {
			return nil, fmt.Errorf("risk target %q: %w", spec, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
