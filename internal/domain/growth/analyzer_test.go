package growth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

func rec(student, class, subject string, entry, exit Score) ScoreRecord {
	return ScoreRecord{StudentID: student, ClassName: class, Grade: "7", Subject: subject, EntryScore: entry, ExitScore: exit}
}

func gradeSeven() []ScoreRecord {
	return []ScoreRecord{
		rec("s1", "7A", "math", Present(60), Present(70)),
		rec("s2", "7A", "math", Present(70), Present(80)),
		rec("s3", "7B", "math", Present(80), Present(80)),
		rec("s4", "7B", "math", Present(90), Present(90)),
	}
}

func newTestAnalyzer(t *testing.T, opts ...Option) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(testScale(t), opts...)
	require.NoError(t, err)
	return a
}

func TestAnalyzer_Run_StudentResults(t *testing.T) {
	a := newTestAnalyzer(t)

	report, err := a.Run(Input{Records: gradeSeven()})
	require.NoError(t, err)
	require.Len(t, report.Students, 4)

	s2 := report.Students[1]
	assert.Equal(t, "s2", s2.StudentID)
	assert.Equal(t, 10.0, s2.ScoreValueAdded)
	assert.InDelta(t, -0.4472, s2.EntryZ, 1e-4)
	assert.InDelta(t, 0.0, s2.ExitZ, 1e-12)
	assert.InDelta(t, 0.4472, s2.ScoreValueAddedRate, 1e-4)
	assert.Equal(t, "B", s2.EntryLevel)
	assert.Equal(t, "A", s2.ExitLevel)
	assert.True(t, s2.IsTransformed)

	s4 := report.Students[3]
	assert.True(t, s4.IsConsolidated)

	var sumRate float64
	for _, s := range report.Students {
		sumRate += s.ScoreValueAddedRate
	}
	assert.InDelta(t, 0.0, sumRate, 1e-9)
}

func TestAnalyzer_Run_ClassAggregates(t *testing.T) {
	a := newTestAnalyzer(t)

	report, err := a.Run(Input{Records: gradeSeven()})
	require.NoError(t, err)
	require.Len(t, report.Classes, 2)

	classA, classB := report.Classes[0], report.Classes[1]
	assert.Equal(t, "7A", classA.ClassName)
	assert.Equal(t, "7", classA.Grade)
	assert.Equal(t, 2, classA.StudentCount)
	assert.InDelta(t, 0.1873, classA.AvgValueAddedRate, 1e-4)
	assert.InDelta(t, -0.1873, classB.AvgValueAddedRate, 1e-4)
	assert.Equal(t, 1, classA.TransformedCount)
	assert.Equal(t, 1, classA.MaintainedCount)
	assert.Equal(t, 0.5, classA.TransformedRate)
	assert.Equal(t, 1, classB.ConsolidatedCount)

	require.Len(t, classA.Subjects, 1)
	assert.Equal(t, "math", classA.Subjects[0].Subject)
	assert.Equal(t, 1, classA.Subjects[0].Rank)
}

func TestAnalyzer_Run_TeacherAggregates(t *testing.T) {
	a := newTestAnalyzer(t)

	report, err := a.Run(Input{
		Records: gradeSeven(),
		Assignments: []TeachingAssignment{
			{TeacherID: "t1", TeacherName: "Aigerim", ClassName: "7A", Subject: "math"},
			{TeacherID: "t2", ClassName: "7A", Subject: "math"},
			{TeacherID: "t2", ClassName: "7B", Subject: "math"},
			{TeacherID: "t3", ClassName: "7C", Subject: "math"},
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Teachers, 3)

	t1, t2, t3 := report.Teachers[0], report.Teachers[1], report.Teachers[2]
	assert.Equal(t, "Aigerim", t1.TeacherName)
	assert.InDelta(t, 0.1873, t1.AvgValueAddedRate, 1e-4)

	assert.Equal(t, []string{"7A", "7B"}, t2.Classes)
	assert.Equal(t, 4, t2.StudentCount)
	assert.InDelta(t, 0.0, t2.AvgValueAddedRate, 1e-9)

	assert.Equal(t, 0, t3.StudentCount)
	assert.Equal(t, 0.0, t3.AvgValueAddedRate)
}

func TestAnalyzer_Run_BalanceRanking(t *testing.T) {
	a := newTestAnalyzer(t)

	report, err := a.Run(Input{Records: gradeSeven()})
	require.NoError(t, err)
	require.Len(t, report.Balance, 2)

	assert.Equal(t, "7A", report.Balance[0].ClassName)
	assert.Equal(t, 1, report.Balance[0].TotalRank)
	assert.InDelta(t, 1.1873, report.Balance[0].BalanceScore, 1e-4)
	assert.Equal(t, 2, report.Balance[1].TotalRank)
}

func TestAnalyzer_Run_ExcludesUnpairedRecords(t *testing.T) {
	a := newTestAnalyzer(t)
	records := append(gradeSeven(),
		rec("s5", "7A", "math", Absent(), Present(50)),
		rec("s6", "7B", "math", Present(40), Missing()),
	)

	report, err := a.Run(Input{Records: records})
	require.NoError(t, err)

	assert.Len(t, report.Students, 4)
	assert.Equal(t, 2, report.Excluded)
	assert.Contains(t, report.Warnings, "2 records excluded: entry or exit score is absent")

	for _, c := range report.Cohorts {
		if c.Key.Phase == PhaseEntry {
			assert.Equal(t, 1, c.AbsentCount)
			assert.Equal(t, 5, c.Count)
		}
	}
}

func TestAnalyzer_Run_DegenerateInputs(t *testing.T) {
	a := newTestAnalyzer(t)

	report, err := a.Run(Input{Records: []ScoreRecord{
		rec("s1", "7A", "art", Present(70), Present(70)),
		rec("s2", "7A", "art", Present(70), Present(70)),
		rec("s3", "7A", "music", Absent(), Absent()),
	}})
	require.NoError(t, err)

	for _, s := range report.Students {
		assert.Equal(t, 0.0, s.EntryZ)
		assert.Equal(t, 0.0, s.ScoreValueAddedRate)
	}
	assert.Contains(t, report.Warnings, "cohort 7/music/entry has no present scores")
	assert.Contains(t, report.Warnings, "cohort 7/art/entry has identical scores, z-scores are 0")
	assert.NoError(t, report.Verify())
}

func TestAnalyzer_Run_Idempotent(t *testing.T) {
	a := newTestAnalyzer(t)
	records := gradeSeven()

	first, err := a.Run(Input{Records: records})
	require.NoError(t, err)

	reversed := make([]ScoreRecord, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	second, err := a.Run(Input{Records: reversed})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAnalyzer_Run_DuplicateRecordsKeepFirst(t *testing.T) {
	a := newTestAnalyzer(t)
	records := append(gradeSeven(), rec("s1", "7A", "math", Present(10), Present(10)))

	report, err := a.Run(Input{Records: records})
	require.NoError(t, err)

	assert.Len(t, report.Students, 4)
	assert.Equal(t, 60.0, report.Students[0].EntryScore)
	assert.Contains(t, report.Warnings, "duplicate record for student s1 subject math ignored")
}

func TestAnalyzer_ClassScopeGivesZeroClassMean(t *testing.T) {
	a := newTestAnalyzer(t, WithCohortScope(CohortByClass))

	report, err := a.Run(Input{Records: gradeSeven()})
	require.NoError(t, err)

	for _, c := range report.Classes {
		assert.InDelta(t, 0.0, c.AvgValueAddedRate, 1e-9)
	}
}

func TestNewAnalyzer_Errors(t *testing.T) {
	_, err := NewAnalyzer(nil)
	assert.ErrorIs(t, err, shared.ErrConfiguration)

	_, err = NewAnalyzer(testScale(t), WithBalancePolicy(BalancePolicy{RateWeight: 0, DeviationWeight: 1}))
	assert.ErrorIs(t, err, shared.ErrConfiguration)

	_, err = NewAnalyzer(testScale(t), WithCohortScope("school"))
	assert.ErrorIs(t, err, shared.ErrConfiguration)

	_, err = NewAnalyzer(testScale(t), WithPassMark(150))
	assert.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestReport_VerifyRejectsNonFinite(t *testing.T) {
	r := &Report{Students: []GrowthResult{{StudentID: "s1", Subject: "math", EntryZ: math.NaN()}}}

	err := r.Verify()
	assert.ErrorIs(t, err, shared.ErrComputation)
	assert.True(t, shared.IsComputation(err))
}

func TestSummarizeExams(t *testing.T) {
	records := append(gradeSeven(), rec("s5", "7A", "math", Present(30), Absent()))

	exams := SummarizeExams(records, 80)
	require.Len(t, exams, 1)

	e := exams[0]
	assert.Equal(t, PhaseExit, e.Phase)
	assert.Equal(t, 4, e.Count)
	assert.Equal(t, 1, e.AbsentCount)
	assert.InDelta(t, 80.0, e.Mean, 1e-12)
	assert.Equal(t, 0.75, e.PassRate)
}
