package query

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alem-hub/growth-hub/internal/domain/analysis"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST RESULTS QUERY
// Возвращает сохранённые результаты по измерению и типу отчёта,
// страницами не больше shared.MaxPageSize строк.
// ══════════════════════════════════════════════════════════════════════════════

// ListResultsQuery содержит параметры запроса.
type ListResultsQuery struct {
	Dimension  shared.Dimension
	ReportType shared.ReportType // пусто = все типы
	Key        string            // AnalysisKey.String(); пусто = последний запуск
	Page       int
	PageSize   int
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *ListResultsQuery) Validate() error {
	if !q.Dimension.IsValid() {
		return shared.NewDomainError("analysis", "ListResults", shared.ErrInvalidInput,
			fmt.Sprintf("unknown dimension %q", q.Dimension))
	}
	if q.ReportType != "" && !q.ReportType.IsValid() {
		return shared.NewDomainError("analysis", "ListResults", shared.ErrInvalidInput,
			fmt.Sprintf("unknown report type %q", q.ReportType))
	}
	if q.Page < 0 || q.PageSize < 0 {
		return shared.NewDomainError("analysis", "ListResults", shared.ErrInvalidInput, "page and page_size cannot be negative")
	}
	p := shared.NewPagination(q.Page, q.PageSize)
	q.Page, q.PageSize = p.Page, p.PageSize
	return nil
}

func (q *ListResultsQuery) cacheKey() string {
	return string(q.Dimension) + ":" + string(q.ReportType) + ":" + q.Key + ":" +
		strconv.Itoa(q.Page) + ":" + strconv.Itoa(q.PageSize)
}

// ResultsCachePrefix - префикс ключей страниц результатов в кэше.
const ResultsCachePrefix = "results:"

// ListResultsHandler обрабатывает запросы сохранённых результатов.
type ListResultsHandler struct {
	repo analysis.ResultRepository
	memo *Memoizer[*analysis.ResultPage]
}

// NewListResultsHandler создаёт обработчик. Страницы кэшируются на ttl
// и сбрасываются после каждого завершённого запуска.
func NewListResultsHandler(repo analysis.ResultRepository, cache ResultCache, ttl time.Duration) *ListResultsHandler {
	return &ListResultsHandler{
		repo: repo,
		memo: NewMemoizer[*analysis.ResultPage](cache, ResultsCachePrefix, ttl),
	}
}

// Handle выполняет запрос.
func (h *ListResultsHandler) Handle(ctx context.Context, q ListResultsQuery) (*analysis.ResultPage, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("list_results: %w", err)
	}

	page, _, err := h.memo.Get(ctx, q.cacheKey(), func(ctx context.Context) (*analysis.ResultPage, error) {
		return h.repo.ListResults(ctx, analysis.ResultFilter{
			Dimension:  q.Dimension,
			ReportType: q.ReportType,
			Key:        q.Key,
		}, shared.NewPagination(q.Page, q.PageSize))
	})
	if err != nil {
		return nil, fmt.Errorf("list_results: %w", err)
	}
	return page, nil
}

// Invalidate сбрасывает кэш страниц.
func (h *ListResultsHandler) Invalidate(ctx context.Context) error {
	return h.memo.Invalidate(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// GET RUN QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetRunHandler возвращает запись журнала запусков.
type GetRunHandler struct {
	runs analysis.RunRepository
}

// NewGetRunHandler создаёт обработчик.
func NewGetRunHandler(runs analysis.RunRepository) *GetRunHandler {
	return &GetRunHandler{runs: runs}
}

// Handle возвращает запуск или shared.ErrRunNotFound.
func (h *GetRunHandler) Handle(ctx context.Context, id string) (*analysis.Run, error) {
	if id == "" {
		return nil, shared.NewDomainError("analysis", "GetRun", shared.ErrEmptyValue, "run id is required")
	}
	return h.runs.GetRun(ctx, id)
}
