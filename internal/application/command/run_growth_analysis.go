package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/growth-hub/internal/application/validation"
	"github.com/alem-hub/growth-hub/internal/domain/analysis"
	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/pkg/logger"
	"github.com/alem-hub/growth-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN GROWTH ANALYSIS COMMAND
// Считает прирост по сохранённым оценкам параллели или класса
// и сохраняет результаты по измерениям class/teacher/student.
// ══════════════════════════════════════════════════════════════════════════════

// RunGrowthAnalysisCommand содержит параметры запуска.
type RunGrowthAnalysisCommand struct {
	// Grade - параллель; пустая строка = все параллели.
	Grade string

	// ClassName - один класс; пустая строка = все классы параллели.
	ClassName string

	// TimeRange - период экзаменов; нулевой = всё время.
	TimeRange shared.TimeRange

	// CorrelationID для трассировки.
	CorrelationID string
}

// Validate проверяет команду.
func (c RunGrowthAnalysisCommand) Validate() error {
	if !c.TimeRange.IsValid() {
		return shared.ErrInvalidRange
	}
	return nil
}

// Key возвращает ключ анализа: class для одного класса, иначе global
// с параллелью в качестве цели.
func (c RunGrowthAnalysisCommand) Key() (shared.AnalysisKey, error) {
	if c.ClassName != "" {
		return shared.NewAnalysisKey(shared.ScopeClass, c.ClassName, c.TimeRange)
	}
	return shared.NewAnalysisKey(shared.ScopeGlobal, c.Grade, c.TimeRange)
}

// RunGrowthAnalysisResult - итог запуска.
type RunGrowthAnalysisResult struct {
	RunID       string                   `json:"run_id"`
	Key         shared.AnalysisKey       `json:"key"`
	Report      *growth.Report           `json:"report"`
	Validation  *shared.ValidationReport `json:"validation"`
	ResultCount int                      `json:"result_count"`
	Duration    time.Duration            `json:"duration"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RunGrowthAnalysisHandler выполняет запуск анализа прироста.
type RunGrowthAnalysisHandler struct {
	scores      growth.ScoreRepository
	assignments growth.AssignmentRepository
	results     analysis.ResultRepository
	runs        analysis.RunRepository
	analyzer    *growth.Analyzer
	validator   *validation.Validator
	publisher   shared.EventPublisher
	progress    ProgressReporter
	log         *logger.Logger

	fetchRetrier *retry.Retrier
	storeRetrier *retry.Retrier
	batchSize    int
	now          func() time.Time
	newID        func() string
}

// RunGrowthAnalysisConfig настраивает обработчик.
type RunGrowthAnalysisConfig struct {
	// BatchSize - размер страницы при чтении оценок (не более shared.MaxPageSize).
	BatchSize int

	// Progress - дополнительный получатель прогресса.
	Progress ProgressReporter
}

// NewRunGrowthAnalysisHandler создаёт обработчик.
func NewRunGrowthAnalysisHandler(
	scores growth.ScoreRepository,
	assignments growth.AssignmentRepository,
	results analysis.ResultRepository,
	runs analysis.RunRepository,
	analyzer *growth.Analyzer,
	validator *validation.Validator,
	publisher shared.EventPublisher,
	log *logger.Logger,
	cfg RunGrowthAnalysisConfig,
) *RunGrowthAnalysisHandler {
	if cfg.BatchSize <= 0 || cfg.BatchSize > shared.MaxPageSize {
		cfg.BatchSize = shared.MaxPageSize
	}
	if log == nil {
		log = logger.Default()
	}

	reporters := multiReporter{NewEventProgressReporter(publisher)}
	if cfg.Progress != nil {
		reporters = append(reporters, cfg.Progress)
	}

	log = log.With(logger.Component("run_growth_analysis"))
	onRetry := retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		log.Warn("transient storage failure, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})

	return &RunGrowthAnalysisHandler{
		scores:       scores,
		assignments:  assignments,
		results:      results,
		runs:         runs,
		analyzer:     analyzer,
		validator:    validator,
		publisher:    publisher,
		progress:     reporters,
		log:          log,
		fetchRetrier: retry.FetchRetrier(onRetry),
		storeRetrier: retry.StoreRetrier(onRetry),
		batchSize:    cfg.BatchSize,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Handle выполняет запуск. Ошибка любой стадии помечает запуск как failed
// и публикует analysis.failed; частичные результаты не сохраняются.
func (h *RunGrowthAnalysisHandler) Handle(ctx context.Context, cmd RunGrowthAnalysisCommand) (*RunGrowthAnalysisResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("run_growth_analysis: validation failed: %w", err)
	}
	key, err := cmd.Key()
	if err != nil {
		return nil, fmt.Errorf("run_growth_analysis: %w", err)
	}

	started := h.now()
	run := analysis.NewRun(h.newID(), key, started)
	log := h.log.With(logger.RunID(run.ID), logger.AnalysisKey(key.String()))

	if err := h.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("run_growth_analysis: failed to register run: %w", err)
	}
	startedEvent := shared.NewAnalysisStartedEvent(run.ID, key)
	startedEvent.CorrelationID = cmd.CorrelationID
	h.publish(log, startedEvent)
	log.Info("growth analysis started")

	result, stage, err := h.execute(ctx, cmd, run, log)
	if err != nil {
		h.fail(ctx, log, run, cmd.CorrelationID, stage, err)
		return nil, fmt.Errorf("run_growth_analysis: %s: %w", stage, err)
	}

	result.Duration = h.now().Sub(started)
	run.Succeed(h.now(), result.Report.Warnings)
	if err := h.runs.SaveRun(ctx, run); err != nil {
		log.Warn("failed to update run ledger", logger.Err(err))
	}
	h.progress.Report(ctx, run.ID, analysis.StageDone, stagePercent(analysis.StageDone))

	completed := shared.NewAnalysisCompletedEvent(run.ID, key, result.ResultCount, result.Duration)
	completed.CorrelationID = cmd.CorrelationID
	h.publish(log, completed)

	log.Info("growth analysis completed",
		logger.RecordCount(result.ResultCount),
		logger.Latency(result.Duration),
		logger.Int("warnings", len(result.Report.Warnings)),
	)
	return result, nil
}

// execute проходит стадии и возвращает стадию, на которой произошла ошибка.
func (h *RunGrowthAnalysisHandler) execute(ctx context.Context, cmd RunGrowthAnalysisCommand, run *analysis.Run, log *logger.Logger) (*RunGrowthAnalysisResult, string, error) {
	filter := growth.ScoreFilter{Grade: cmd.Grade, ClassName: cmd.ClassName, TimeRange: cmd.TimeRange}

	records, err := h.fetchAll(ctx, filter)
	if err != nil {
		return nil, "fetch", err
	}
	assignments, err := retry.Value(ctx, h.fetchRetrier, func(ctx context.Context) ([]growth.TeachingAssignment, error) {
		return h.assignments.ListAssignments(ctx, cmd.Grade)
	})
	if err != nil {
		return nil, "fetch", err
	}
	log.Info("inputs loaded", logger.RecordCount(len(records)), logger.Int("assignments", len(assignments)))

	valid, report := h.validator.ScoreRecords(records)
	assignments = h.validator.Assignments(assignments, report)
	if report.Blocking() {
		return nil, "validation", shared.NewDomainError("growth", "RunGrowthAnalysis", shared.ErrValidation,
			fmt.Sprintf("no valid score records (%d rejected)", report.Rejected))
	}

	comp := h.analyzer.Prepare(growth.Input{Records: valid, Assignments: assignments})

	classes := comp.Classes()
	h.advance(ctx, run, analysis.StageClass)

	teachers := comp.Teachers()
	h.advance(ctx, run, analysis.StageTeacher)

	students := comp.Students()
	h.advance(ctx, run, analysis.StageStudent)

	balance, exams, err := balanceAndExams(ctx, comp, classes)
	if err != nil {
		return nil, analysis.StageStudent, err
	}

	rep := &growth.Report{
		Students: students,
		Classes:  classes,
		Teachers: teachers,
		Balance:  balance,
		Cohorts:  comp.Cohorts(),
		Exams:    exams,
		Excluded: comp.Excluded(),
		Warnings: append(append([]string{}, report.Warnings...), comp.Warnings()...),
	}
	if err := rep.Verify(); err != nil {
		return nil, analysis.StageStudent, err
	}

	rows, err := BuildResults(run.ID, run.Key, rep, h.now())
	if err != nil {
		return nil, analysis.StagePersistence, err
	}
	if err := ctx.Err(); err != nil {
		return nil, analysis.StagePersistence, err
	}
	if err := h.storeRetrier.Do(ctx, func(ctx context.Context) error {
		return h.results.SaveResults(ctx, run.Key, rows)
	}); err != nil {
		return nil, analysis.StagePersistence, err
	}
	h.advance(ctx, run, analysis.StagePersistence)

	return &RunGrowthAnalysisResult{
		RunID:       run.ID,
		Key:         run.Key,
		Report:      rep,
		Validation:  report,
		ResultCount: len(rows),
	}, "", nil
}

// balanceAndExams считает баланс предметов и сводки экзаменов параллельно.
// Баланс проверяется на конечность метрик внутри своей горутины.
func balanceAndExams(ctx context.Context, comp *growth.Computation, classes []growth.ClassGrowthAggregate) ([]growth.SubjectBalanceAnalysis, []growth.ExamSummary, error) {
	var (
		balance []growth.SubjectBalanceAnalysis
		exams   []growth.ExamSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		balance = comp.Balance(classes)
		for _, b := range balance {
			if err := b.Verify(); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		exams = comp.Exams()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return balance, exams, nil
}

// fetchAll читает оценки страницами. Контекст проверяется между страницами.
func (h *RunGrowthAnalysisHandler) fetchAll(ctx context.Context, filter growth.ScoreFilter) ([]growth.ScoreRecord, error) {
	var (
		all    []growth.ScoreRecord
		cursor string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := retry.Value(ctx, h.fetchRetrier, func(ctx context.Context) (*growth.ScorePage, error) {
			return h.scores.FetchScores(ctx, filter, cursor, h.batchSize)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Records...)
		if page.NextCursor == "" || len(page.Records) == 0 {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

func (h *RunGrowthAnalysisHandler) advance(ctx context.Context, run *analysis.Run, stage string) {
	run.Advance(stage)
	h.progress.Report(ctx, run.ID, stage, run.Progress)
}

func (h *RunGrowthAnalysisHandler) fail(ctx context.Context, log *logger.Logger, run *analysis.Run, correlationID, stage string, err error) {
	log.Error("growth analysis failed", logger.Stage(stage), logger.Err(err))

	run.Fail(h.now(), err)
	// Ledger update must survive a cancelled request context.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := h.runs.SaveRun(saveCtx, run); serr != nil {
		log.Warn("failed to update run ledger", logger.Err(serr))
	}
	failed := shared.NewAnalysisFailedEvent(run.ID, run.Key, stage, err)
	failed.CorrelationID = correlationID
	h.publish(log, failed)
}

func (h *RunGrowthAnalysisHandler) publish(log *logger.Logger, event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		log.Warn("failed to publish event", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT ROWS
// ══════════════════════════════════════════════════════════════════════════════

// BuildResults раскладывает отчёт по измерениям и типам отчётов.
func BuildResults(runID string, key shared.AnalysisKey, rep *growth.Report, now time.Time) ([]analysis.Result, error) {
	if rep == nil {
		return nil, errors.New("nil report")
	}
	rows := make([]analysis.Result, 0, len(rep.Classes)+len(rep.Balance)+len(rep.Teachers)+len(rep.Students))

	add := func(dim shared.Dimension, rt shared.ReportType, ref string, payload interface{}) error {
		row, err := analysis.NewResult(runID, key, dim, rt, ref, payload, now)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	}

	for _, c := range rep.Classes {
		if err := add(shared.DimensionClass, shared.ReportGrowth, c.ClassName, c); err != nil {
			return nil, err
		}
	}
	for _, b := range rep.Balance {
		if err := add(shared.DimensionClass, shared.ReportBalance, b.ClassName, b); err != nil {
			return nil, err
		}
	}
	for _, t := range rep.Teachers {
		if err := add(shared.DimensionTeacher, shared.ReportGrowth, t.TeacherID, t); err != nil {
			return nil, err
		}
	}
	for _, s := range rep.Students {
		if err := add(shared.DimensionStudent, shared.ReportGrowth, s.StudentID+"/"+s.Subject, s); err != nil {
			return nil, err
		}
	}
	return rows, nil
}
