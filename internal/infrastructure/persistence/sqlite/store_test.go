package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/internal/domain/analysis"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func result(t *testing.T, runID string, key shared.AnalysisKey, dim shared.Dimension, rt shared.ReportType, ref string, at time.Time) analysis.Result {
	t.Helper()
	r, err := analysis.NewResult(runID, key, dim, rt, ref, map[string]string{"ref": ref}, at)
	require.NoError(t, err)
	return r
}

func TestStore_SaveAndListResults(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	key := shared.AnalysisKey{Scope: shared.ScopeGlobal, TargetID: "7"}

	results := []analysis.Result{
		result(t, "r1", key, shared.DimensionClass, shared.ReportGrowth, "7A", now),
		result(t, "r1", key, shared.DimensionClass, shared.ReportGrowth, "7B", now),
		result(t, "r1", key, shared.DimensionClass, shared.ReportBalance, "7A", now),
		result(t, "r1", key, shared.DimensionStudent, shared.ReportGrowth, "s1/math", now),
	}
	require.NoError(t, s.SaveResults(ctx, key, results))

	page, err := s.ListResults(ctx, analysis.ResultFilter{Dimension: shared.DimensionClass, ReportType: shared.ReportGrowth}, shared.NewPagination(1, 1))
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.True(t, page.HasMore)
	assert.Equal(t, "7A", page.Results[0].SubjectRef)
	assert.Equal(t, key, page.Results[0].Key)
	assert.JSONEq(t, `{"ref":"7A"}`, string(page.Results[0].Payload))

	page, err = s.ListResults(ctx, analysis.ResultFilter{Dimension: shared.DimensionClass, ReportType: shared.ReportGrowth}, shared.NewPagination(2, 1))
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, "7B", page.Results[0].SubjectRef)

	page, err = s.ListResults(ctx, analysis.ResultFilter{Dimension: shared.DimensionClass, Key: key.String()}, shared.NewPagination(1, 10))
	require.NoError(t, err)
	assert.Len(t, page.Results, 3)
}

func TestStore_SaveReplacesKey(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	key := shared.AnalysisKey{Scope: shared.ScopeClass, TargetID: "7A"}
	filter := analysis.ResultFilter{Dimension: shared.DimensionClass, Key: key.String()}

	require.NoError(t, s.SaveResults(ctx, key, []analysis.Result{
		result(t, "r1", key, shared.DimensionClass, shared.ReportGrowth, "7A", now),
		result(t, "r1", key, shared.DimensionClass, shared.ReportBalance, "7A", now),
	}))
	require.NoError(t, s.SaveResults(ctx, key, []analysis.Result{
		result(t, "r2", key, shared.DimensionClass, shared.ReportGrowth, "7A", now.Add(time.Hour)),
	}))

	page, err := s.ListResults(ctx, filter, shared.NewPagination(1, 10))
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "r2", page.Results[0].RunID)
}

func TestStore_EmptyKeyPicksLatest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	older := shared.AnalysisKey{Scope: shared.ScopeGlobal, TargetID: "7"}
	newer := shared.AnalysisKey{Scope: shared.ScopeGlobal, TargetID: "8"}

	require.NoError(t, s.SaveResults(ctx, older, []analysis.Result{
		result(t, "r1", older, shared.DimensionTeacher, shared.ReportGrowth, "t1", now),
	}))
	require.NoError(t, s.SaveResults(ctx, newer, []analysis.Result{
		result(t, "r2", newer, shared.DimensionTeacher, shared.ReportGrowth, "t2", now.Add(time.Minute)),
	}))

	page, err := s.ListResults(ctx, analysis.ResultFilter{Dimension: shared.DimensionTeacher}, shared.NewPagination(1, 10))
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "t2", page.Results[0].SubjectRef)

	page, err = s.ListResults(ctx, analysis.ResultFilter{Dimension: shared.DimensionStudent}, shared.NewPagination(1, 10))
	require.NoError(t, err)
	assert.Empty(t, page.Results)
}

func TestStore_Runs(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrRunNotFound)

	run := analysis.NewRun("r1", shared.AnalysisKey{Scope: shared.ScopeGlobal, TargetID: "7"}, now)
	require.NoError(t, s.SaveRun(ctx, run))

	run.Advance(analysis.StageClass)
	run.Succeed(now.Add(time.Second), []string{"cohort 7/math/entry has a single score, z-scores are 0"})
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, analysis.RunSucceeded, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, run.Key, got.Key)
	assert.Len(t, got.Warnings, 1)
	assert.Empty(t, got.Errors)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(now.Add(time.Second)))
	assert.True(t, got.StartedAt.Equal(now))
}
