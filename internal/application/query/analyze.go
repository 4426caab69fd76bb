package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/growth-hub/internal/application/validation"
	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZE GROWTH QUERY
// Чистый анализ прироста по переданному пакету оценок. Ничего не сохраняет.
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeGrowthQuery содержит пакет оценок.
type AnalyzeGrowthQuery struct {
	Records     []growth.ScoreRecord
	Assignments []growth.TeachingAssignment

	// GradingScale - шкала для этого запроса; пустая = шкала по умолчанию.
	GradingScale []growth.LevelDef
}

// AnalyzeGrowthResult содержит отчёт и итог проверки входа.
// Report равен nil, если проверка заблокировала расчёт.
type AnalyzeGrowthResult struct {
	Report     *growth.Report           `json:"report"`
	Validation *shared.ValidationReport `json:"validation"`
}

// AnalyzeGrowthHandler обрабатывает чистый анализ прироста.
type AnalyzeGrowthHandler struct {
	analyzer  *growth.Analyzer
	validator *validation.Validator
	options   []growth.Option
}

// NewAnalyzeGrowthHandler создаёт обработчик. options применяются,
// когда запрос приносит собственную шкалу.
func NewAnalyzeGrowthHandler(analyzer *growth.Analyzer, validator *validation.Validator, options ...growth.Option) *AnalyzeGrowthHandler {
	return &AnalyzeGrowthHandler{analyzer: analyzer, validator: validator, options: options}
}

// Handle выполняет анализ. Некорректная шкала или отсутствие корректных
// записей дают отчёт проверки со статусом failed и без ошибки.
func (h *AnalyzeGrowthHandler) Handle(_ context.Context, q AnalyzeGrowthQuery) (*AnalyzeGrowthResult, error) {
	analyzer := h.analyzer
	if len(q.GradingScale) > 0 {
		report := shared.NewValidationReport()
		scale, err := validation.GradingScale(q.GradingScale, report)
		if err != nil {
			return &AnalyzeGrowthResult{Validation: report}, nil
		}
		analyzer, err = growth.NewAnalyzer(scale, h.options...)
		if err != nil {
			report.Fail(err)
			return &AnalyzeGrowthResult{Validation: report}, nil
		}
	}

	records, report := h.validator.ScoreRecords(q.Records)
	assignments := h.validator.Assignments(q.Assignments, report)
	if report.Blocking() {
		return &AnalyzeGrowthResult{Validation: report}, nil
	}

	rep, err := analyzer.Run(growth.Input{Records: records, Assignments: assignments})
	if err != nil {
		return nil, fmt.Errorf("analyze_growth: %w", err)
	}
	rep.Warnings = append(append([]string{}, report.Warnings...), rep.Warnings...)
	return &AnalyzeGrowthResult{Report: rep, Validation: report}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZE RISK QUERY
// Чистый анализ рисков по переданным предупреждениям.
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeRiskQuery содержит предупреждения и ключ анализа.
type AnalyzeRiskQuery struct {
	Key    shared.AnalysisKey
	Events []risk.WarningEvent
	AsOf   time.Time

	// ExamScores - баллы экзамена для scope exam; PassMark 0 = проходной по умолчанию.
	ExamScores []float64
	PassMark   float64
}

// AnalyzeRiskResult содержит анализ и итог проверки входа.
type AnalyzeRiskResult struct {
	Analysis   *risk.RiskAnalysis       `json:"analysis"`
	Validation *shared.ValidationReport `json:"validation"`
}

// AnalyzeRiskHandler обрабатывает чистый анализ рисков.
type AnalyzeRiskHandler struct {
	analyzer  *risk.Analyzer
	validator *validation.Validator
}

// NewAnalyzeRiskHandler создаёт обработчик.
func NewAnalyzeRiskHandler(analyzer *risk.Analyzer, validator *validation.Validator) *AnalyzeRiskHandler {
	return &AnalyzeRiskHandler{analyzer: analyzer, validator: validator}
}

// Handle выполняет анализ. Пустой список событий даёт нулевой риск.
func (h *AnalyzeRiskHandler) Handle(_ context.Context, q AnalyzeRiskQuery) (*AnalyzeRiskResult, error) {
	if !q.Key.Scope.IsValid() {
		return nil, fmt.Errorf("analyze_risk: %w", shared.ErrInvalidScope)
	}

	events, report := h.validator.WarningEvents(q.Events)
	if report.Blocking() {
		return &AnalyzeRiskResult{Validation: report}, nil
	}

	in := risk.Input{Key: q.Key, Events: events, AsOf: q.AsOf}
	if q.Key.Scope == shared.ScopeExam && len(q.ExamScores) > 0 {
		passMark := q.PassMark
		if passMark <= 0 {
			passMark = growth.DefaultPassMark
		}
		m := ExamMetrics(growth.SummarizeScores(q.Key.TargetID, growth.PhaseExit, q.ExamScores, passMark))
		in.Exam = &m
	}

	a, err := h.analyzer.Analyze(in)
	if err != nil {
		return nil, fmt.Errorf("analyze_risk: %w", err)
	}
	return &AnalyzeRiskResult{Analysis: a, Validation: report}, nil
}
