package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET RISK ANALYSIS QUERY
// Считает анализ рисков по сохранённым предупреждениям ключа.
// Результат кэшируется по ключу; параллельные запросы одного ключа
// выполняют одно вычисление.
// ══════════════════════════════════════════════════════════════════════════════

// GetRiskAnalysisQuery содержит параметры запроса.
type GetRiskAnalysisQuery struct {
	Key shared.AnalysisKey

	// AsOf - опорный момент тренда; нулевой = конец периода или последнее событие.
	AsOf time.Time

	// Refresh - пересчитать, не читая кэш.
	Refresh bool
}

// Validate проверяет корректность параметров запроса.
func (q *GetRiskAnalysisQuery) Validate() error {
	if !q.Key.Scope.IsValid() {
		return shared.ErrInvalidScope
	}
	if q.Key.Scope != shared.ScopeGlobal && strings.TrimSpace(q.Key.TargetID) == "" {
		return shared.NewDomainError("risk", "GetRiskAnalysis", shared.ErrEmptyValue, "target is required for scope "+q.Key.Scope.String())
	}
	if !q.Key.TimeRange.IsValid() {
		return shared.ErrInvalidRange
	}
	return nil
}

// cacheKey включает AsOf, если он задан явно.
func (q *GetRiskAnalysisQuery) cacheKey() string {
	if q.AsOf.IsZero() {
		return q.Key.String()
	}
	return q.Key.String() + "@" + q.AsOf.UTC().Format(time.RFC3339)
}

// GetRiskAnalysisResult содержит анализ и признак попадания в кэш.
type GetRiskAnalysisResult struct {
	Analysis *risk.RiskAnalysis `json:"analysis"`
	Cached   bool               `json:"cached"`
}

// GetRiskAnalysisHandler обрабатывает запросы анализа рисков.
type GetRiskAnalysisHandler struct {
	events   risk.EventRepository
	scores   growth.ScoreRepository
	analyzer *risk.Analyzer
	memo     *Memoizer[*risk.RiskAnalysis]
	retrier  *retry.Retrier
	passMark float64
	pageSize int
}

// NewGetRiskAnalysisHandler создаёт обработчик. scores нужен только для scope exam.
func NewGetRiskAnalysisHandler(
	events risk.EventRepository,
	scores growth.ScoreRepository,
	analyzer *risk.Analyzer,
	cache ResultCache,
	ttl time.Duration,
	passMark float64,
) *GetRiskAnalysisHandler {
	return &GetRiskAnalysisHandler{
		events:   events,
		scores:   scores,
		analyzer: analyzer,
		memo:     NewMemoizer[*risk.RiskAnalysis](cache, RiskCachePrefix, ttl),
		retrier:  retry.FetchRetrier(),
		passMark: passMark,
		pageSize: shared.MaxPageSize,
	}
}

// RiskCachePrefix - префикс ключей анализа рисков в кэше.
const RiskCachePrefix = "risk:"

// Handle выполняет запрос.
func (h *GetRiskAnalysisHandler) Handle(ctx context.Context, q GetRiskAnalysisQuery) (*GetRiskAnalysisResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_risk_analysis: %w", err)
	}

	compute := func(ctx context.Context) (*risk.RiskAnalysis, error) {
		return h.compute(ctx, q)
	}

	if q.Refresh {
		a, err := h.memo.Refresh(ctx, q.cacheKey(), compute)
		if err != nil {
			return nil, fmt.Errorf("get_risk_analysis: %w", err)
		}
		return &GetRiskAnalysisResult{Analysis: a}, nil
	}

	a, cached, err := h.memo.Get(ctx, q.cacheKey(), compute)
	if err != nil {
		return nil, fmt.Errorf("get_risk_analysis: %w", err)
	}
	return &GetRiskAnalysisResult{Analysis: a, Cached: cached}, nil
}

func (h *GetRiskAnalysisHandler) compute(ctx context.Context, q GetRiskAnalysisQuery) (*risk.RiskAnalysis, error) {
	events, err := h.fetchEvents(ctx, q.Key)
	if err != nil {
		return nil, err
	}

	in := risk.Input{Key: q.Key, Events: events, AsOf: q.AsOf}
	if q.Key.Scope == shared.ScopeExam && h.scores != nil {
		exam, err := h.examMetrics(ctx, q.Key)
		if err != nil {
			return nil, err
		}
		in.Exam = exam
	}
	return h.analyzer.Analyze(in)
}

// fetchEvents читает события страницами, проверяя контекст между страницами.
func (h *GetRiskAnalysisHandler) fetchEvents(ctx context.Context, key shared.AnalysisKey) ([]risk.WarningEvent, error) {
	var (
		all    []risk.WarningEvent
		cursor string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := retry.Value(ctx, h.retrier, func(ctx context.Context) (*risk.EventPage, error) {
			return h.events.FetchEvents(ctx, key, cursor, h.pageSize)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch events: %w", err)
		}
		all = append(all, page.Events...)
		if page.NextCursor == "" || len(page.Events) == 0 {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// examMetrics строит сводку итогового экзамена для цели "параллель/предмет"
// или просто "предмет".
func (h *GetRiskAnalysisHandler) examMetrics(ctx context.Context, key shared.AnalysisKey) (*risk.ExamMetrics, error) {
	grade, subject := ParseExamTarget(key.TargetID)
	filter := growth.ScoreFilter{Grade: grade, TimeRange: key.TimeRange}

	var (
		records []growth.ScoreRecord
		cursor  string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := retry.Value(ctx, h.retrier, func(ctx context.Context) (*growth.ScorePage, error) {
			return h.scores.FetchScores(ctx, filter, cursor, h.pageSize)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch scores: %w", err)
		}
		records = append(records, page.Records...)
		if page.NextCursor == "" || len(page.Records) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	summary := growth.SummarizeExam(subject, growth.PhaseExit, records, h.passMark)
	metrics := ExamMetrics(summary)
	return &metrics, nil
}

// ParseExamTarget разбирает цель экзамена "7/math" на параллель и предмет.
func ParseExamTarget(target string) (grade, subject string) {
	if i := strings.Index(target, "/"); i >= 0 {
		return strings.TrimSpace(target[:i]), strings.TrimSpace(target[i+1:])
	}
	return "", strings.TrimSpace(target)
}

// ExamMetrics переводит сводку экзамена в метрики для анализа рисков.
func ExamMetrics(s growth.ExamSummary) risk.ExamMetrics {
	return risk.ExamMetrics{
		Count:    s.Count,
		Mean:     s.Mean,
		Std:      s.Std,
		PassRate: s.PassRate,
		Scores:   s.Scores,
	}
}

// Invalidate сбрасывает все кэшированные анализы рисков.
func (h *GetRiskAnalysisHandler) Invalidate(ctx context.Context) error {
	return h.memo.Invalidate(ctx)
}
