// Package jobs contains the scheduled analytics jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/growth-hub/internal/application/command"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// GrowthRunner runs a growth analysis over stored scores.
type GrowthRunner interface {
	Handle(ctx context.Context, cmd command.RunGrowthAnalysisCommand) (*command.RunGrowthAnalysisResult, error)
}

// Locker grants a short-lived exclusive lease so that only one worker
// recomputes a grade at a time.
type Locker interface {
	TryLock(ctx context.Context, resource, token string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE GROWTH JOB
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeGrowthConfig configures RecomputeGrowthJob.
type RecomputeGrowthConfig struct {
	// Grades to recompute; an empty entry means every grade at once.
	Grades []string

	// Lookback limits the exam window to [now-Lookback, now]; zero means all time.
	Lookback time.Duration

	// LockTTL is the lease length when a Locker is configured.
	LockTTL time.Duration
}

// RecomputeStats summarises the last run.
type RecomputeStats struct {
	Grades    int           `json:"grades"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Results   int           `json:"results"`
	Duration  time.Duration `json:"duration"`
}

// RecomputeGrowthJob re-runs growth analysis for each configured grade.
// A failing grade does not stop the others; all failures are joined.
type RecomputeGrowthJob struct {
	runner GrowthRunner
	locker Locker
	cfg    RecomputeGrowthConfig
	logger *slog.Logger
	now    func() time.Time

	last atomic.Pointer[RecomputeStats]
}

// NewRecomputeGrowthJob creates the job. locker may be nil on single-node setups.
func NewRecomputeGrowthJob(runner GrowthRunner, locker Locker, cfg RecomputeGrowthConfig, logger *slog.Logger) *RecomputeGrowthJob {
	if len(cfg.Grades) == 0 {
		cfg.Grades = []string{""}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecomputeGrowthJob{
		runner: runner,
		locker: locker,
		cfg:    cfg,
		logger: logger.With("job", "recompute_growth"),
		now:    time.Now,
	}
}

// Name implements scheduler.Job.
func (j *RecomputeGrowthJob) Name() string { return "recompute_growth" }

// Description implements scheduler.Job.
func (j *RecomputeGrowthJob) Description() string {
	return "Re-runs value-added growth analysis for configured grades"
}

// LastStats returns the stats of the last completed run, or nil.
func (j *RecomputeGrowthJob) LastStats() *RecomputeStats { return j.last.Load() }

// Run implements scheduler.Job.
func (j *RecomputeGrowthJob) Run(ctx context.Context) error {
	start := j.now()
	stats := &RecomputeStats{Grades: len(j.cfg.Grades)}
	correlation := uuid.NewString()

	var tr shared.TimeRange
	if j.cfg.Lookback > 0 {
		tr = shared.TimeRange{From: start.Add(-j.cfg.Lookback).UTC(), To: start.UTC()}
	}

	var errs []error
	for _, grade := range j.cfg.Grades {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		n, ran, err := j.recompute(ctx, grade, tr, correlation)
		switch {
		case err != nil:
			stats.Failed++
			errs = append(errs, fmt.Errorf("grade %q: %w", gradeLabel(grade), err))
		case !ran:
			stats.Skipped++
		default:
			stats.Succeeded++
			stats.Results += n
		}
	}

	stats.Duration = j.now().Sub(start)
	j.last.Store(stats)
	j.logger.Info("recompute finished",
		"grades", stats.Grades,
		"succeeded", stats.Succeeded,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"results", stats.Results,
		"duration", stats.Duration.String(),
	)
	return errors.Join(errs...)
}

// recompute returns ran=false when another worker holds the grade lease.
func (j *RecomputeGrowthJob) recompute(ctx context.Context, grade string, tr shared.TimeRange, correlation string) (int, bool, error) {
	if j.locker != nil {
		release, ok, err := j.locker.TryLock(ctx, "recompute_growth:"+gradeLabel(grade), correlation, j.cfg.LockTTL)
		if err != nil {
			return 0, false, fmt.Errorf("acquire lease: %w", err)
		}
		if !ok {
			j.logger.Info("grade locked by another worker", "grade", gradeLabel(grade))
			return 0, false, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.logger.Warn("failed to release lease", "grade", gradeLabel(grade), "error", err)
			}
		}()
	}

	res, err := j.runner.Handle(ctx, command.RunGrowthAnalysisCommand{
		Grade:         grade,
		TimeRange:     tr,
		CorrelationID: correlation,
	})
	if err != nil {
		return 0, true, err
	}
	return res.ResultCount, true, nil
}

func gradeLabel(grade string) string {
	if grade == "" {
		return "*"
	}
	return grade
}
