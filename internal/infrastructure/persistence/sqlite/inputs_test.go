package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

func TestStore_ScoresRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveScores(ctx, []growth.ScoreRecord{
		{StudentID: "s1", ClassName: "7A", Grade: "7", Subject: "math", EntryScore: growth.Present(55), ExitScore: growth.Present(70)},
		{StudentID: "s2", ClassName: "7A", Grade: "7", Subject: "math", EntryScore: growth.Absent(), ExitScore: growth.Present(62)},
		{StudentID: "s3", ClassName: "7B", Grade: "7", Subject: "math", EntryScore: growth.Present(80)},
		{StudentID: "s4", ClassName: "8A", Grade: "8", Subject: "math", EntryScore: growth.Present(40), ExitScore: growth.Present(45)},
	}))

	page, err := s.FetchScores(ctx, growth.ScoreFilter{Grade: "7"}, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.True(t, page.Records[1].EntryScore.IsAbsent())

	page, err = s.FetchScores(ctx, growth.ScoreFilter{Grade: "7"}, page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, "s3", page.Records[0].StudentID)
	assert.True(t, page.Records[0].ExitScore.IsMissing())

	// Upsert replaces the scores of an existing (student, class, subject).
	require.NoError(t, s.SaveScores(ctx, []growth.ScoreRecord{
		{StudentID: "s4", ClassName: "8A", Grade: "8", Subject: "math", EntryScore: growth.Present(41), ExitScore: growth.Present(50)},
	}))
	page, err = s.FetchScores(ctx, growth.ScoreFilter{ClassName: "8A"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	v, ok := page.Records[0].ExitScore.Value()
	assert.True(t, ok)
	assert.Equal(t, 50.0, v)

	_, err = s.FetchScores(ctx, growth.ScoreFilter{}, "abc", 10)
	assert.True(t, shared.IsValidation(err))
}

func TestStore_AssignmentsByGrade(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveScores(ctx, []growth.ScoreRecord{
		{StudentID: "s1", ClassName: "7A", Grade: "7", Subject: "math", EntryScore: growth.Present(50)},
	}))
	require.NoError(t, s.SaveAssignments(ctx, []growth.TeachingAssignment{
		{TeacherID: "t1", TeacherName: "Aigerim", ClassName: "7A", Subject: "math"},
		{TeacherID: "t2", ClassName: "8A", Subject: "math"},
	}))

	grade7, err := s.ListAssignments(ctx, "7")
	require.NoError(t, err)
	require.Len(t, grade7, 1)
	assert.Equal(t, "Aigerim", grade7[0].TeacherName)

	all, err := s.ListAssignments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_EventsByKey(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	events := []risk.WarningEvent{
		{ID: "e1", Severity: risk.SeverityHigh, Category: "attendance", Scope: shared.ScopeStudent, ScopeRef: "s1", CreatedAt: at},
		{ID: "e2", Severity: risk.SeverityLow, Category: "homework", Scope: shared.ScopeStudent, ScopeRef: "s1", CreatedAt: at.Add(48 * time.Hour)},
		{ID: "e3", Severity: risk.SeverityMedium, Category: "exam", Scope: shared.ScopeClass, ScopeRef: "7A", CreatedAt: at},
	}
	require.NoError(t, s.SaveEvents(ctx, events))
	// Duplicate ids are ignored.
	require.NoError(t, s.SaveEvents(ctx, events[:1]))

	page, err := s.FetchEvents(ctx, shared.AnalysisKey{Scope: shared.ScopeGlobal}, "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Events, 3)

	page, err = s.FetchEvents(ctx, shared.AnalysisKey{Scope: shared.ScopeStudent, TargetID: "s1"}, "", 1)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "e1", page.Events[0].ID)
	assert.True(t, page.Events[0].CreatedAt.Equal(at))
	assert.NotEmpty(t, page.NextCursor)

	tr := shared.TimeRange{From: at.Add(time.Hour), To: at.Add(72 * time.Hour)}
	page, err = s.FetchEvents(ctx, shared.AnalysisKey{Scope: shared.ScopeStudent, TargetID: "s1", TimeRange: tr}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "e2", page.Events[0].ID)
	assert.Equal(t, risk.SeverityLow, page.Events[0].Severity)
}
