package command

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/internal/application/validation"
	"github.com/alem-hub/growth-hub/internal/domain/analysis"
	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type pagedScores struct {
	records []growth.ScoreRecord
	calls   int
	filters []growth.ScoreFilter
}

func (p *pagedScores) FetchScores(_ context.Context, f growth.ScoreFilter, cursor string, limit int) (*growth.ScorePage, error) {
	p.calls++
	p.filters = append(p.filters, f)
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := start + limit
	if end > len(p.records) {
		end = len(p.records)
	}
	page := &growth.ScorePage{Records: p.records[start:end]}
	if end < len(p.records) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (p *pagedScores) SaveScores(context.Context, []growth.ScoreRecord) error { return nil }

type staticAssignments []growth.TeachingAssignment

func (s staticAssignments) ListAssignments(context.Context, string) ([]growth.TeachingAssignment, error) {
	return s, nil
}

func (s staticAssignments) SaveAssignments(context.Context, []growth.TeachingAssignment) error {
	return nil
}

type memResults struct {
	err   error
	saved map[string][]analysis.Result
}

func (m *memResults) SaveResults(_ context.Context, key shared.AnalysisKey, rows []analysis.Result) error {
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = map[string][]analysis.Result{}
	}
	m.saved[key.String()] = rows
	return nil
}

func (m *memResults) ListResults(context.Context, analysis.ResultFilter, shared.Pagination) (*analysis.ResultPage, error) {
	return &analysis.ResultPage{}, nil
}

type memRuns struct {
	mu   sync.Mutex
	runs map[string]analysis.Run
}

func (m *memRuns) SaveRun(_ context.Context, r *analysis.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]analysis.Run{}
	}
	m.runs[r.ID] = *r
	return nil
}

func (m *memRuns) GetRun(_ context.Context, id string) (*analysis.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, shared.ErrRunNotFound
	}
	return &r, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *recordingBus) Publish(e shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventType())
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	scores   *pagedScores
	results  *memResults
	runs     *memRuns
	bus      *recordingBus
	progress *ProgressRecorder
	handler  *RunGrowthAnalysisHandler
}

func gradeSevenRecords() []growth.ScoreRecord {
	rec := func(student, class string, entry, exit float64) growth.ScoreRecord {
		return growth.ScoreRecord{
			StudentID: student, ClassName: class, Grade: "7", Subject: "math",
			EntryScore: growth.Present(entry), ExitScore: growth.Present(exit),
		}
	}
	return []growth.ScoreRecord{
		rec("s1", "7A", 60, 70),
		rec("s2", "7A", 70, 80),
		rec("s3", "7B", 80, 80),
		rec("s4", "7B", 90, 90),
	}
}

func newFixture(t *testing.T, records []growth.ScoreRecord) *fixture {
	t.Helper()

	scale, err := growth.NewGradingScale([]growth.LevelDef{
		{Name: "A+", MinScore: 90},
		{Name: "A", MinScore: 80},
		{Name: "B", MinScore: 60},
	})
	require.NoError(t, err)
	analyzer, err := growth.NewAnalyzer(scale)
	require.NoError(t, err)

	f := &fixture{
		scores:   &pagedScores{records: records},
		results:  &memResults{},
		runs:     &memRuns{},
		bus:      &recordingBus{},
		progress: &ProgressRecorder{},
	}
	f.handler = NewRunGrowthAnalysisHandler(
		f.scores,
		staticAssignments{{TeacherID: "t1", TeacherName: "Aigul", ClassName: "7A", Subject: "math"}},
		f.results,
		f.runs,
		analyzer,
		validation.New(),
		f.bus,
		logger.Nop(),
		RunGrowthAnalysisConfig{BatchSize: 3, Progress: f.progress},
	)
	f.handler.newID = func() string { return "run-1" }
	return f
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRunGrowthAnalysis_Succeeds(t *testing.T) {
	f := newFixture(t, gradeSevenRecords())

	res, err := f.handler.Handle(context.Background(), RunGrowthAnalysisCommand{Grade: "7"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "global:7:all", res.Key.String())
	assert.Equal(t, 2, f.scores.calls, "4 records in pages of 3")
	assert.Equal(t, "7", f.scores.filters[0].Grade)

	require.Len(t, res.Report.Classes, 2)
	require.Len(t, res.Report.Balance, 2)
	require.Len(t, res.Report.Teachers, 1)
	require.Len(t, res.Report.Students, 4)
	require.Len(t, res.Report.Exams, 1)
	assert.Equal(t, 9, res.ResultCount)
	assert.Equal(t, shared.StatusSucceeded, res.Validation.Status)

	rows := f.results.saved["global:7:all"]
	require.Len(t, rows, 9)
	assert.Equal(t, shared.DimensionClass, rows[0].Dimension)
	assert.Equal(t, shared.ReportGrowth, rows[0].ReportType)
	assert.Equal(t, shared.ReportBalance, rows[2].ReportType)
	assert.Equal(t, shared.DimensionTeacher, rows[4].Dimension)
	assert.Equal(t, "s1/math", rows[5].SubjectRef)

	assert.Equal(t, []string{
		analysis.StageClass, analysis.StageTeacher, analysis.StageStudent,
		analysis.StagePersistence, analysis.StageDone,
	}, f.progress.Stages())
	assert.Equal(t, 100, f.progress.Percent())

	run, err := f.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.RunSucceeded, run.Status)
	assert.Equal(t, 100, run.Progress)

	types := f.bus.types()
	assert.Equal(t, shared.EventAnalysisStarted, types[0])
	assert.Equal(t, shared.EventAnalysisCompleted, types[len(types)-1])
	assert.Len(t, types, 7)
}

func TestRunGrowthAnalysis_ClassKey(t *testing.T) {
	f := newFixture(t, gradeSevenRecords()[:2])

	res, err := f.handler.Handle(context.Background(), RunGrowthAnalysisCommand{ClassName: "7A"})
	require.NoError(t, err)

	assert.Equal(t, shared.ScopeClass, res.Key.Scope)
	assert.Equal(t, "7A", f.scores.filters[0].ClassName)
}

func TestRunGrowthAnalysis_RejectsInvalidRecordsButContinues(t *testing.T) {
	records := append(gradeSevenRecords(), growth.ScoreRecord{
		StudentID: "s5", ClassName: "7A", Grade: "7", Subject: "math",
		EntryScore: growth.Present(150), ExitScore: growth.Present(80),
	})
	f := newFixture(t, records)

	res, err := f.handler.Handle(context.Background(), RunGrowthAnalysisCommand{Grade: "7"})
	require.NoError(t, err)

	assert.Equal(t, shared.StatusPartial, res.Validation.Status)
	assert.Equal(t, 1, res.Validation.Rejected)
	assert.Len(t, res.Report.Students, 4)
}

func TestRunGrowthAnalysis_AllInvalidFailsRun(t *testing.T) {
	f := newFixture(t, []growth.ScoreRecord{{StudentID: "s1"}})

	_, err := f.handler.Handle(context.Background(), RunGrowthAnalysisCommand{Grade: "7", CorrelationID: "req-42"})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	run, _ := f.runs.GetRun(context.Background(), "run-1")
	assert.Equal(t, analysis.RunFailed, run.Status)
	assert.Empty(t, f.results.saved)

	types := f.bus.types()
	assert.Equal(t, shared.EventAnalysisFailed, types[len(types)-1])

	failed, ok := f.bus.events[len(f.bus.events)-1].(shared.AnalysisFailedEvent)
	require.True(t, ok)
	assert.Equal(t, "req-42", failed.Correlation())
	started, ok := f.bus.events[0].(shared.AnalysisStartedEvent)
	require.True(t, ok)
	assert.Equal(t, "req-42", started.Correlation())
}

func TestRunGrowthAnalysis_PersistenceFailure(t *testing.T) {
	f := newFixture(t, gradeSevenRecords())
	f.results.err = errors.New("disk full")

	_, err := f.handler.Handle(context.Background(), RunGrowthAnalysisCommand{Grade: "7"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), analysis.StagePersistence)

	run, _ := f.runs.GetRun(context.Background(), "run-1")
	assert.Equal(t, analysis.RunFailed, run.Status)
	assert.Equal(t, []string{"disk full"}, run.Errors)
	assert.Equal(t, 70, run.Progress)
}

func TestRunGrowthAnalysis_CancelledBeforeFetch(t *testing.T) {
	f := newFixture(t, gradeSevenRecords())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.handler.Handle(ctx, RunGrowthAnalysisCommand{Grade: "7"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.scores.calls)
}

func TestRunGrowthAnalysis_InvalidRange(t *testing.T) {
	f := newFixture(t, nil)
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.handler.Handle(context.Background(), RunGrowthAnalysisCommand{
		TimeRange: shared.TimeRange{From: from, To: from.Add(-time.Hour)},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidRange)
}

func TestBalanceAndExams(t *testing.T) {
	scale, err := growth.NewGradingScale([]growth.LevelDef{
		{Name: "A", MinScore: 80},
		{Name: "B", MinScore: 0},
	})
	require.NoError(t, err)
	analyzer, err := growth.NewAnalyzer(scale)
	require.NoError(t, err)

	comp := analyzer.Prepare(growth.Input{Records: gradeSevenRecords()})
	classes := comp.Classes()

	t.Run("computes both in parallel", func(t *testing.T) {
		balance, exams, err := balanceAndExams(context.Background(), comp, classes)
		require.NoError(t, err)
		assert.Len(t, balance, 2)
		assert.Len(t, exams, 1)
	})

	t.Run("cancelled context is reported", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		balance, exams, err := balanceAndExams(ctx, comp, classes)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, balance)
		assert.Nil(t, exams)
	})
}
