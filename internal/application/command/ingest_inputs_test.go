package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/internal/application/validation"
	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/pkg/logger"
	"github.com/alem-hub/growth-hub/pkg/retry"
)

type memInputs struct {
	scores      []growth.ScoreRecord
	assignments []growth.TeachingAssignment
	events      []risk.WarningEvent
	saveErr     error
}

func (m *memInputs) FetchScores(context.Context, growth.ScoreFilter, string, int) (*growth.ScorePage, error) {
	return &growth.ScorePage{Records: m.scores}, nil
}

func (m *memInputs) SaveScores(_ context.Context, records []growth.ScoreRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.scores = append(m.scores, records...)
	return nil
}

func (m *memInputs) ListAssignments(context.Context, string) ([]growth.TeachingAssignment, error) {
	return m.assignments, nil
}

func (m *memInputs) SaveAssignments(_ context.Context, a []growth.TeachingAssignment) error {
	m.assignments = append(m.assignments, a...)
	return nil
}

func (m *memInputs) FetchEvents(context.Context, shared.AnalysisKey, string, int) (*risk.EventPage, error) {
	return &risk.EventPage{Events: m.events}, nil
}

func (m *memInputs) SaveEvents(_ context.Context, e []risk.WarningEvent) error {
	m.events = append(m.events, e...)
	return nil
}

func newIngest(store *memInputs, bus *recordingBus) *IngestInputsHandler {
	h := NewIngestInputsHandler(store, store, store, validation.New(), bus, logger.Nop())
	h.newID = func() string { return "batch-1" }
	h.retrier = retry.New(retry.WithMaxAttempts(1))
	return h
}

func TestIngestInputs_SavesValidAndReportsRejected(t *testing.T) {
	store := &memInputs{}
	bus := &recordingBus{}
	h := newIngest(store, bus)

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	res, err := h.Handle(context.Background(), IngestInputsCommand{
		Records: []growth.ScoreRecord{
			{StudentID: "s1", ClassName: "7A", Subject: "math", EntryScore: growth.Present(50), ExitScore: growth.Present(60)},
			{StudentID: "", ClassName: "7A", Subject: "math", EntryScore: growth.Present(50)},
			{StudentID: "s3", ClassName: "7A", Subject: "math", EntryScore: growth.Present(150)},
		},
		Assignments: []growth.TeachingAssignment{
			{TeacherID: "t1", ClassName: "7A", Subject: "math"},
			{TeacherID: "t2", Subject: "math"},
		},
		Events: []risk.WarningEvent{
			{ID: "e1", Severity: risk.SeverityHigh, Category: "attendance", CreatedAt: at},
		},
		CorrelationID: "req-7",
	})
	require.NoError(t, err)

	assert.Equal(t, "batch-1", res.BatchID)
	assert.Equal(t, 1, res.Scores)
	assert.Equal(t, 1, res.Assignments)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, shared.StatusPartial, res.Validation.Status)
	assert.Equal(t, 2, res.Validation.Accepted)
	assert.Equal(t, 2, res.Validation.Rejected)
	assert.Len(t, res.Validation.Warnings, 1)

	assert.Len(t, store.scores, 1)
	assert.Len(t, store.assignments, 1)
	assert.Len(t, store.events, 1)

	require.Equal(t, []shared.EventType{shared.EventInputsIngested}, bus.types())
	ev := bus.events[0].(shared.InputsIngestedEvent)
	assert.Equal(t, "req-7", ev.CorrelationID)
	assert.Equal(t, "batch-1", ev.AggregateID())
}

func TestIngestInputs_EmptyBatch(t *testing.T) {
	h := newIngest(&memInputs{}, &recordingBus{})

	_, err := h.Handle(context.Background(), IngestInputsCommand{})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestIngestInputs_NothingValid(t *testing.T) {
	store := &memInputs{}
	bus := &recordingBus{}
	h := newIngest(store, bus)

	res, err := h.Handle(context.Background(), IngestInputsCommand{
		Records: []growth.ScoreRecord{{ClassName: "7A", Subject: "math"}},
	})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	require.NotNil(t, res)
	assert.Equal(t, shared.StatusFailed, res.Validation.Status)
	assert.Empty(t, store.scores)
	assert.Empty(t, bus.types())
}

func TestIngestInputs_SaveFailure(t *testing.T) {
	store := &memInputs{saveErr: errors.New("disk full")}
	bus := &recordingBus{}
	h := newIngest(store, bus)

	_, err := h.Handle(context.Background(), IngestInputsCommand{
		Records: []growth.ScoreRecord{{StudentID: "s1", ClassName: "7A", Subject: "math", EntryScore: growth.Present(40)}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, bus.types())
}
