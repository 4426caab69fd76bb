package growth

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

// GrowthSummary - средние значения GrowthResult по множеству учеников.
// Сначала усредняется каждый предмет, затем средние по предметам.
type GrowthSummary struct {
	StudentCount int `json:"student_count"`
	ResultCount  int `json:"result_count"`

	AvgScoreValueAdded float64 `json:"avg_score_value_added"`
	AvgValueAddedRate  float64 `json:"avg_value_added_rate"`
	AvgEntryZ          float64 `json:"avg_entry_z"`
	AvgExitZ           float64 `json:"avg_exit_z"`

	ConsolidatedCount int `json:"consolidated_count"`
	TransformedCount  int `json:"transformed_count"`
	MaintainedCount   int `json:"maintained_count"`
	DeclinedCount     int `json:"declined_count"`

	ConsolidatedRate float64 `json:"consolidated_rate"`
	TransformedRate  float64 `json:"transformed_rate"`
	DeclinedRate     float64 `json:"declined_rate"`

	Subjects []SubjectBalanceEntry `json:"subjects"`
}

// ClassGrowthAggregate - прирост класса по списку учеников класса.
type ClassGrowthAggregate struct {
	ClassName string `json:"class_name"`
	Grade     string `json:"grade,omitempty"`
	GrowthSummary
}

// TeacherGrowthAggregate - прирост по всем ученикам, которых ведёт учитель.
type TeacherGrowthAggregate struct {
	TeacherID   string   `json:"teacher_id"`
	TeacherName string   `json:"teacher_name,omitempty"`
	Classes     []string `json:"classes"`
	GrowthSummary
}

// Summarize усредняет результаты: по каждому предмету отдельно,
// затем по предметам. Пустой вход даёт нулевую сводку.
func Summarize(results []GrowthResult) GrowthSummary {
	sum := GrowthSummary{Subjects: []SubjectBalanceEntry{}}
	if len(results) == 0 {
		return sum
	}

	sorted := make([]GrowthResult, len(results))
	copy(sorted, results)
	sortResults(sorted)

	students := make(map[string]struct{})
	bySubject := make(map[string][]GrowthResult)
	var subjects []string

	for _, r := range sorted {
		students[r.StudentID] = struct{}{}
		if _, ok := bySubject[r.Subject]; !ok {
			subjects = append(subjects, r.Subject)
		}
		bySubject[r.Subject] = append(bySubject[r.Subject], r)

		switch r.Transition {
		case TransitionConsolidated:
			sum.ConsolidatedCount++
		case TransitionTransformed:
			sum.TransformedCount++
		case TransitionDeclined:
			sum.DeclinedCount++
		default:
			sum.MaintainedCount++
		}
	}
	sort.Strings(subjects)

	var rates, added, entryZ, exitZ []float64
	entries := make([]SubjectBalanceEntry, 0, len(subjects))
	for _, subject := range subjects {
		rs := bySubject[subject]
		m := subjectMeans(rs)
		rates = append(rates, m.rate)
		added = append(added, m.added)
		entryZ = append(entryZ, m.entryZ)
		exitZ = append(exitZ, m.exitZ)

		entries = append(entries, SubjectBalanceEntry{
			Subject:            subject,
			ValueAddedRate:     m.rate,
			AvgScoreValueAdded: m.added,
			StudentCount:       len(rs),
		})
	}

	n := float64(len(sorted))
	sum.StudentCount = len(students)
	sum.ResultCount = len(sorted)
	sum.AvgValueAddedRate = stat.Mean(rates, nil)
	sum.AvgScoreValueAdded = stat.Mean(added, nil)
	sum.AvgEntryZ = stat.Mean(entryZ, nil)
	sum.AvgExitZ = stat.Mean(exitZ, nil)
	sum.ConsolidatedRate = float64(sum.ConsolidatedCount) / n
	sum.TransformedRate = float64(sum.TransformedCount) / n
	sum.DeclinedRate = float64(sum.DeclinedCount) / n
	sum.Subjects = BalanceEntries(entries)
	return sum
}

type means struct {
	rate, added, entryZ, exitZ float64
}

func subjectMeans(rs []GrowthResult) means {
	rate := make([]float64, len(rs))
	added := make([]float64, len(rs))
	entryZ := make([]float64, len(rs))
	exitZ := make([]float64, len(rs))
	for i, r := range rs {
		rate[i] = r.ScoreValueAddedRate
		added[i] = r.ScoreValueAdded
		entryZ[i] = r.EntryZ
		exitZ[i] = r.ExitZ
	}
	return means{
		rate:   stat.Mean(rate, nil),
		added:  stat.Mean(added, nil),
		entryZ: stat.Mean(entryZ, nil),
		exitZ:  stat.Mean(exitZ, nil),
	}
}

// AggregateClasses строит агрегаты по классам, упорядоченные по имени класса.
func AggregateClasses(results []GrowthResult) []ClassGrowthAggregate {
	byClass := make(map[string][]GrowthResult)
	grades := make(map[string]string)
	for _, r := range results {
		byClass[r.ClassName] = append(byClass[r.ClassName], r)
		if r.Grade != "" {
			grades[r.ClassName] = r.Grade
		}
	}

	names := make([]string, 0, len(byClass))
	for name := range byClass {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ClassGrowthAggregate, 0, len(names))
	for _, name := range names {
		out = append(out, ClassGrowthAggregate{
			ClassName:     name,
			Grade:         grades[name],
			GrowthSummary: Summarize(byClass[name]),
		})
	}
	return out
}

// AggregateTeachers строит агрегаты по учителям. Членство задаётся
// назначениями (класс, предмет); учитель без результатов получает нулевую сводку.
func AggregateTeachers(results []GrowthResult, assignments []TeachingAssignment) []TeacherGrowthAggregate {
	type teacher struct {
		name    string
		covers  map[[2]string]struct{}
		classes map[string]struct{}
	}

	teachers := make(map[string]*teacher)
	for _, a := range assignments {
		t, ok := teachers[a.TeacherID]
		if !ok {
			t = &teacher{covers: make(map[[2]string]struct{}), classes: make(map[string]struct{})}
			teachers[a.TeacherID] = t
		}
		if t.name == "" {
			t.name = a.TeacherName
		}
		t.covers[[2]string{a.ClassName, a.Subject}] = struct{}{}
		t.classes[a.ClassName] = struct{}{}
	}

	ids := make([]string, 0, len(teachers))
	for id := range teachers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]TeacherGrowthAggregate, 0, len(ids))
	for _, id := range ids {
		t := teachers[id]
		var taught []GrowthResult
		for _, r := range results {
			if _, ok := t.covers[[2]string{r.ClassName, r.Subject}]; ok {
				taught = append(taught, r)
			}
		}

		classes := make([]string, 0, len(t.classes))
		for c := range t.classes {
			classes = append(classes, c)
		}
		sort.Strings(classes)

		out = append(out, TeacherGrowthAggregate{
			TeacherID:     id,
			TeacherName:   t.name,
			Classes:       classes,
			GrowthSummary: Summarize(taught),
		})
	}
	return out
}

// sortResults упорядочивает результаты по (класс, ученик, предмет).
func sortResults(rs []GrowthResult) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].ClassName != rs[j].ClassName {
			return rs[i].ClassName < rs[j].ClassName
		}
		if rs[i].StudentID != rs[j].StudentID {
			return rs[i].StudentID < rs[j].StudentID
		}
		return rs[i].Subject < rs[j].Subject
	})
}
