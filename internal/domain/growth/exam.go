package growth

import "sort"

// DefaultPassMark - проходной балл по умолчанию.
const DefaultPassMark = 60.0

// ExamSummary - сводка одного экзамена (предмет, этап) по всем присутствовавшим.
type ExamSummary struct {
	Subject     string    `json:"subject"`
	Phase       Phase     `json:"phase"`
	Count       int       `json:"count"`
	AbsentCount int       `json:"absent_count"`
	Mean        float64   `json:"mean"`
	Std         float64   `json:"std"`
	PassMark    float64   `json:"pass_mark"`
	PassRate    float64   `json:"pass_rate"` // 0..1
	Scores      []float64 `json:"-"`
}

// SummarizeExam считает сводку по оценкам одного этапа.
// Без присутствовавших сводка нулевая.
func SummarizeExam(subject string, phase Phase, records []ScoreRecord, passMark float64) ExamSummary {
	var (
		scores []float64
		absent int
	)
	for _, r := range records {
		if r.Subject != subject {
			continue
		}
		score := r.ScoreFor(phase)
		if score.IsAbsent() {
			absent++
		}
		if v, ok := score.Value(); ok {
			scores = append(scores, v)
		}
	}

	s := SummarizeScores(subject, phase, scores, passMark)
	s.AbsentCount = absent
	return s
}

// SummarizeScores считает сводку по готовому списку баллов.
func SummarizeScores(subject string, phase Phase, scores []float64, passMark float64) ExamSummary {
	s := ExamSummary{Subject: subject, Phase: phase, PassMark: passMark, Count: len(scores)}
	if s.Count == 0 {
		return s
	}

	s.Scores = make([]float64, len(scores))
	copy(s.Scores, scores)
	sort.Float64s(s.Scores)

	var passed int
	for _, v := range s.Scores {
		if v >= passMark {
			passed++
		}
	}
	s.Mean, s.Std = PopMeanStd(s.Scores)
	s.PassRate = float64(passed) / float64(s.Count)
	return s
}

// SummarizeExams строит сводки итогового этапа по всем предметам, по алфавиту.
func SummarizeExams(records []ScoreRecord, passMark float64) []ExamSummary {
	seen := make(map[string]struct{})
	var subjects []string
	for _, r := range records {
		if _, ok := seen[r.Subject]; !ok {
			seen[r.Subject] = struct{}{}
			subjects = append(subjects, r.Subject)
		}
	}
	sort.Strings(subjects)

	out := make([]ExamSummary, 0, len(subjects))
	for _, subject := range subjects {
		out = append(out, SummarizeExam(subject, PhaseExit, records, passMark))
	}
	return out
}
