package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/alem-hub/growth-hub/internal/application/validation"
	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/pkg/logger"
	"github.com/alem-hub/growth-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// INGEST INPUTS COMMAND
// Сохраняет проверенные оценки, назначения учителей и предупреждения,
// по которым затем работают запуски анализа и анализ рисков.
// ══════════════════════════════════════════════════════════════════════════════

// IngestInputsCommand содержит пакет входных данных.
type IngestInputsCommand struct {
	Records     []growth.ScoreRecord        `json:"records"`
	Assignments []growth.TeachingAssignment `json:"assignments"`
	Events      []risk.WarningEvent         `json:"events"`

	// CorrelationID для трассировки.
	CorrelationID string `json:"-"`
}

// Validate проверяет, что пакет не пуст.
func (c IngestInputsCommand) Validate() error {
	if len(c.Records) == 0 && len(c.Assignments) == 0 && len(c.Events) == 0 {
		return shared.NewDomainError("ingest", "Validate", shared.ErrEmptyValue,
			"batch contains no records, assignments or events")
	}
	return nil
}

// IngestInputsResult - итог сохранения.
type IngestInputsResult struct {
	BatchID     string                   `json:"batch_id"`
	Scores      int                      `json:"scores"`
	Assignments int                      `json:"assignments"`
	Events      int                      `json:"events"`
	Validation  *shared.ValidationReport `json:"validation"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// IngestInputsHandler сохраняет входные данные.
// Некорректные записи отбрасываются и попадают в отчёт, остальные сохраняются.
type IngestInputsHandler struct {
	scores      growth.ScoreRepository
	assignments growth.AssignmentRepository
	events      risk.EventRepository
	validator   *validation.Validator
	publisher   shared.EventPublisher
	log         *logger.Logger
	retrier     *retry.Retrier
	newID       func() string
}

// NewIngestInputsHandler создаёт обработчик.
func NewIngestInputsHandler(
	scores growth.ScoreRepository,
	assignments growth.AssignmentRepository,
	events risk.EventRepository,
	validator *validation.Validator,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *IngestInputsHandler {
	if validator == nil {
		validator = validation.New()
	}
	if log == nil {
		log = logger.Default()
	}
	return &IngestInputsHandler{
		scores:      scores,
		assignments: assignments,
		events:      events,
		validator:   validator,
		publisher:   publisher,
		log:         log.With(logger.Component("ingest_inputs")),
		retrier:     retry.StoreRetrier(),
		newID:       uuid.NewString,
	}
}

// Handle проверяет и сохраняет пакет. Пакет, в котором не осталось ни одной
// корректной записи, возвращает ошибку валидации вместе с отчётом.
func (h *IngestInputsHandler) Handle(ctx context.Context, cmd IngestInputsCommand) (*IngestInputsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("ingest_inputs: validation failed: %w", err)
	}

	result := &IngestInputsResult{BatchID: h.newID()}
	log := h.log.With(logger.String("batch_id", result.BatchID))

	report := shared.NewValidationReport()
	var (
		records []growth.ScoreRecord
		events  []risk.WarningEvent
	)
	if len(cmd.Records) > 0 {
		var rep *shared.ValidationReport
		records, rep = h.validator.ScoreRecords(cmd.Records)
		report.Merge(rep)
	}
	assignments := h.validator.Assignments(cmd.Assignments, report)
	if len(cmd.Events) > 0 {
		var rep *shared.ValidationReport
		events, rep = h.validator.WarningEvents(cmd.Events)
		report.Merge(rep)
	}
	result.Validation = report.Finalize()

	if len(records) == 0 && len(assignments) == 0 && len(events) == 0 {
		return result, shared.NewDomainError("ingest", "Handle", shared.ErrValidation,
			fmt.Sprintf("no valid inputs (%d rejected)", report.Rejected))
	}

	if err := h.save(ctx, func(ctx context.Context) error { return h.scores.SaveScores(ctx, records) }, len(records)); err != nil {
		return nil, fmt.Errorf("ingest_inputs: save scores: %w", err)
	}
	if err := h.save(ctx, func(ctx context.Context) error { return h.assignments.SaveAssignments(ctx, assignments) }, len(assignments)); err != nil {
		return nil, fmt.Errorf("ingest_inputs: save assignments: %w", err)
	}
	if err := h.save(ctx, func(ctx context.Context) error { return h.events.SaveEvents(ctx, events) }, len(events)); err != nil {
		return nil, fmt.Errorf("ingest_inputs: save events: %w", err)
	}
	result.Scores, result.Assignments, result.Events = len(records), len(assignments), len(events)

	if h.publisher != nil {
		ev := shared.NewInputsIngestedEvent(result.BatchID, result.Scores, result.Assignments, result.Events)
		ev.CorrelationID = cmd.CorrelationID
		if err := h.publisher.Publish(ev); err != nil {
			log.Warn("failed to publish event", logger.String("event_type", string(ev.EventType())), logger.Err(err))
		}
	}

	log.Info("inputs ingested",
		logger.RecordCount(result.Scores),
		logger.Int("assignments", result.Assignments),
		logger.Int("events", result.Events),
		logger.Int("rejected", report.Rejected),
	)
	return result, nil
}

func (h *IngestInputsHandler) save(ctx context.Context, fn func(context.Context) error, n int) error {
	if n == 0 {
		return nil
	}
	return h.retrier.Do(ctx, fn)
}
