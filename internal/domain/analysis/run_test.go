package analysis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

func TestRun_Lifecycle(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	run := NewRun("run-1", shared.AnalysisKey{Scope: shared.ScopeGlobal}, now)

	assert.Equal(t, RunPending, run.Status)
	assert.False(t, run.Status.IsFinal())

	run.Advance(StageClass)
	assert.Equal(t, RunRunning, run.Status)
	assert.Equal(t, 30, run.Progress)

	run.Advance(StageStudent)
	assert.Equal(t, 70, run.Progress)

	// Progress never moves backwards.
	run.Advance(StageTeacher)
	assert.Equal(t, 70, run.Progress)

	run.Succeed(now.Add(time.Minute), []string{"w1"})
	assert.Equal(t, RunSucceeded, run.Status)
	assert.Equal(t, 100, run.Progress)
	assert.Equal(t, []string{"w1"}, run.Warnings)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.Status.IsFinal())
}

func TestRun_Fail(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	run := NewRun("run-2", shared.AnalysisKey{Scope: shared.ScopeGlobal}, now)
	run.Advance(StageClass)

	run.Fail(now, errors.New("db down"))

	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, []string{"db down"}, run.Errors)
	assert.Equal(t, 30, run.Progress)
}

func TestNewResult(t *testing.T) {
	key := shared.AnalysisKey{Scope: shared.ScopeClass, TargetID: "7A"}
	res, err := NewResult("run-1", key, shared.DimensionClass, shared.ReportGrowth, "7A",
		map[string]float64{"value_added_rate": 0.5}, time.Time{})

	require.NoError(t, err)
	assert.JSONEq(t, `{"value_added_rate":0.5}`, string(res.Payload))
	assert.Equal(t, "7A", res.SubjectRef)

	_, err = NewResult("run-1", key, shared.DimensionClass, shared.ReportGrowth, "7A", func() {}, time.Time{})
	assert.Error(t, err)
}
