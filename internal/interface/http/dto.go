package http

import (
	"time"

	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

type analyzeGrowthRequest struct {
	Records      []growth.ScoreRecord        `json:"records" validate:"required,min=1"`
	Assignments  []growth.TeachingAssignment `json:"assignments"`
	GradingScale []growth.LevelDef           `json:"grading_scale"`
}

type runGrowthRequest struct {
	Grade     string `json:"grade"`
	ClassName string `json:"class_name"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type ingestRequest struct {
	Records     []growth.ScoreRecord        `json:"records"`
	Assignments []growth.TeachingAssignment `json:"assignments"`
	Events      []risk.WarningEvent         `json:"events"`
}

type analyzeRiskRequest struct {
	Scope      string              `json:"scope" validate:"required,oneof=global class student exam"`
	TargetID   string              `json:"target_id"`
	Events     []risk.WarningEvent `json:"events"`
	AsOf       *time.Time          `json:"as_of"`
	ExamScores []float64           `json:"exam_scores" validate:"omitempty,dive,gte=0,lte=100"`
	PassMark   float64             `json:"pass_mark" validate:"gte=0,lte=100"`
}

type gradingScaleRequest struct {
	Levels              []growth.LevelDef           `json:"levels"`
	KnowledgeThresholds []growth.KnowledgeThreshold `json:"knowledge_thresholds"`
}

type gradingScaleResponse struct {
	Valid               bool                        `json:"valid"`
	Levels              []growth.LevelDef           `json:"levels,omitempty"`
	KnowledgeThresholds []growth.KnowledgeThreshold `json:"knowledge_thresholds,omitempty"`
	Validation          *shared.ValidationReport    `json:"validation"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUNDING
// Metrics keep full precision in the engine and storage; responses
// show them rounded to 3 decimals.
// ══════════════════════════════════════════════════════════════════════════════

var r3 = growth.Round3

func roundReport(rep *growth.Report) *growth.Report {
	if rep == nil {
		return nil
	}
	out := *rep

	out.Students = make([]growth.GrowthResult, len(rep.Students))
	for i, s := range rep.Students {
		s.EntryScore, s.ExitScore = r3(s.EntryScore), r3(s.ExitScore)
		s.EntryZ, s.ExitZ = r3(s.EntryZ), r3(s.ExitZ)
		s.ScoreValueAdded = r3(s.ScoreValueAdded)
		s.ScoreValueAddedRate = r3(s.ScoreValueAddedRate)
		out.Students[i] = s
	}

	out.Classes = make([]growth.ClassGrowthAggregate, len(rep.Classes))
	for i, c := range rep.Classes {
		c.GrowthSummary = roundSummary(c.GrowthSummary)
		out.Classes[i] = c
	}

	out.Teachers = make([]growth.TeacherGrowthAggregate, len(rep.Teachers))
	for i, t := range rep.Teachers {
		t.GrowthSummary = roundSummary(t.GrowthSummary)
		out.Teachers[i] = t
	}

	out.Balance = make([]growth.SubjectBalanceAnalysis, len(rep.Balance))
	for i, b := range rep.Balance {
		b.TotalScoreValueAddedRate = r3(b.TotalScoreValueAddedRate)
		b.SubjectDeviation = r3(b.SubjectDeviation)
		b.BalanceScore = r3(b.BalanceScore)
		b.Subjects = roundEntries(b.Subjects)
		out.Balance[i] = b
	}

	out.Cohorts = make([]growth.CohortStats, len(rep.Cohorts))
	for i, c := range rep.Cohorts {
		c.Mean, c.Std = r3(c.Mean), r3(c.Std)
		out.Cohorts[i] = c
	}

	out.Exams = make([]growth.ExamSummary, len(rep.Exams))
	for i, e := range rep.Exams {
		e.Mean, e.Std, e.PassRate = r3(e.Mean), r3(e.Std), r3(e.PassRate)
		out.Exams[i] = e
	}
	return &out
}

func roundSummary(s growth.GrowthSummary) growth.GrowthSummary {
	s.AvgScoreValueAdded = r3(s.AvgScoreValueAdded)
	s.AvgValueAddedRate = r3(s.AvgValueAddedRate)
	s.AvgEntryZ = r3(s.AvgEntryZ)
	s.AvgExitZ = r3(s.AvgExitZ)
	s.ConsolidatedRate = r3(s.ConsolidatedRate)
	s.TransformedRate = r3(s.TransformedRate)
	s.DeclinedRate = r3(s.DeclinedRate)
	s.Subjects = roundEntries(s.Subjects)
	return s
}

func roundEntries(in []growth.SubjectBalanceEntry) []growth.SubjectBalanceEntry {
	out := make([]growth.SubjectBalanceEntry, len(in))
	for i, e := range in {
		e.ValueAddedRate = r3(e.ValueAddedRate)
		e.DeviationFromAvg = r3(e.DeviationFromAvg)
		e.AvgScoreValueAdded = r3(e.AvgScoreValueAdded)
		out[i] = e
	}
	return out
}

func roundRisk(a *risk.RiskAnalysis) *risk.RiskAnalysis {
	if a == nil {
		return nil
	}
	out := *a
	out.RiskScore = r3(a.RiskScore)
	out.RawScore = r3(a.RawScore)
	out.Confidence = r3(a.Confidence)
	out.Correlations = make([]risk.Correlation, len(a.Correlations))
	for i, c := range a.Correlations {
		c.Strength = r3(c.Strength)
		out.Correlations[i] = c
	}
	return &out
}
