package growth

import (
	"fmt"
	"sort"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZER (pipeline)
// ══════════════════════════════════════════════════════════════════════════════

// Input - проверенные данные для одного расчёта.
type Input struct {
	Records     []ScoreRecord
	Assignments []TeachingAssignment
}

// Report - полный результат анализа прироста.
type Report struct {
	Students []GrowthResult           `json:"students"`
	Classes  []ClassGrowthAggregate   `json:"classes"`
	Teachers []TeacherGrowthAggregate `json:"teachers"`
	Balance  []SubjectBalanceAnalysis `json:"balance"`
	Cohorts  []CohortStats            `json:"cohorts"`
	Exams    []ExamSummary            `json:"exams"`
	Excluded int                      `json:"excluded"`
	Warnings []string                 `json:"warnings"`
}

// Verify проверяет отсутствие NaN/Inf во всех метриках отчёта.
func (r *Report) Verify() error {
	for _, s := range r.Students {
		if err := s.Verify(); err != nil {
			return err
		}
	}
	for _, c := range r.Classes {
		if err := c.GrowthSummary.verify("class " + c.ClassName); err != nil {
			return err
		}
	}
	for _, t := range r.Teachers {
		if err := t.GrowthSummary.verify("teacher " + t.TeacherID); err != nil {
			return err
		}
	}
	for _, b := range r.Balance {
		if err := b.Verify(); err != nil {
			return err
		}
	}
	return nil
}

func (s GrowthSummary) verify(owner string) error {
	return verifyFinite(owner, map[string]float64{
		"avg_score_value_added": s.AvgScoreValueAdded,
		"avg_value_added_rate":  s.AvgValueAddedRate,
		"avg_entry_z":           s.AvgEntryZ,
		"avg_exit_z":            s.AvgExitZ,
	})
}

// Option настраивает Analyzer.
type Option func(*Analyzer)

// WithBalancePolicy задаёт веса балансового показателя.
func WithBalancePolicy(p BalancePolicy) Option {
	return func(a *Analyzer) { a.policy = p }
}

// WithCohortScope задаёт группу для нормализации.
func WithCohortScope(s CohortScope) Option {
	return func(a *Analyzer) { a.scope = s }
}

// WithPassMark задаёт проходной балл для сводок экзаменов.
func WithPassMark(m float64) Option {
	return func(a *Analyzer) { a.passMark = m }
}

// Analyzer - чистая точка входа анализа прироста.
// Не хранит изменяемого состояния и безопасен для параллельных вызовов.
type Analyzer struct {
	scale    *GradingScale
	policy   BalancePolicy
	scope    CohortScope
	passMark float64
}

// NewAnalyzer создаёт анализатор с проверенной шкалой.
func NewAnalyzer(scale *GradingScale, opts ...Option) (*Analyzer, error) {
	if scale == nil || scale.Len() == 0 {
		return nil, shared.ErrEmptyGradingScale
	}

	a := &Analyzer{
		scale:    scale,
		policy:   DefaultBalancePolicy(),
		scope:    CohortByGrade,
		passMark: DefaultPassMark,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.policy.Validate(); err != nil {
		return nil, err
	}
	if !a.scope.IsValid() {
		return nil, shared.NewDomainError("growth", "NewAnalyzer", shared.ErrConfiguration,
			fmt.Sprintf("unknown cohort scope %q", a.scope))
	}
	if a.passMark < MinScore || a.passMark > MaxScore {
		return nil, shared.NewDomainError("growth", "NewAnalyzer", shared.ErrConfiguration,
			fmt.Sprintf("pass mark %v outside [0,100]", a.passMark))
	}
	return a, nil
}

// Scale возвращает шкалу анализатора.
func (a *Analyzer) Scale() *GradingScale { return a.scale }

// Run выполняет все этапы и проверяет результат.
func (a *Analyzer) Run(in Input) (*Report, error) {
	c := a.Prepare(in)
	classes := c.Classes()

	r := &Report{
		Students: c.Students(),
		Classes:  classes,
		Teachers: c.Teachers(),
		Balance:  c.Balance(classes),
		Cohorts:  c.Cohorts(),
		Exams:    c.Exams(),
		Excluded: c.Excluded(),
		Warnings: c.Warnings(),
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPUTATION (staged)
// ══════════════════════════════════════════════════════════════════════════════

// Computation - нормализованные данные одного расчёта.
// Этапы (классы, учителя, ученики, баланс) вызываются по отдельности,
// чтобы вызывающий код мог сообщать о прогрессе между ними.
type Computation struct {
	analyzer    *Analyzer
	records     []ScoreRecord
	assignments []TeachingAssignment
	cohorts     map[CohortKey]CohortStats
	students    []GrowthResult
	excluded    int
	warnings    []string
}

// Prepare упорядочивает вход, нормализует когорты и считает прирост учеников.
func (a *Analyzer) Prepare(in Input) *Computation {
	c := &Computation{
		analyzer:    a,
		assignments: in.Assignments,
		warnings:    []string{},
	}
	c.records = c.dedupe(in.Records)
	c.cohorts = Normalize(c.records, a.scope)

	for _, st := range SortedCohorts(c.cohorts) {
		switch {
		case st.Empty():
			c.warn("cohort %s has no present scores", st.Key)
		case st.Count == 1:
			c.warn("cohort %s has a single score, z-scores are 0", st.Key)
		case st.Std == 0:
			c.warn("cohort %s has identical scores, z-scores are 0", st.Key)
		}
	}

	for _, r := range c.records {
		group := a.scope.GroupOf(r)
		entry := c.cohorts[CohortKey{Group: group, Subject: r.Subject, Phase: PhaseEntry}]
		exit := c.cohorts[CohortKey{Group: group, Subject: r.Subject, Phase: PhaseExit}]

		g, ok := ComputeGrowth(r, entry, exit, a.scale)
		if !ok {
			c.excluded++
			continue
		}
		c.students = append(c.students, g)
	}
	sortResults(c.students)

	if c.excluded > 0 {
		c.warn("%d records excluded: entry or exit score is absent", c.excluded)
	}
	return c
}

// dedupe сортирует записи по (класс, предмет, ученик) и отбрасывает повторы,
// оставляя первую по порядку входа.
func (c *Computation) dedupe(in []ScoreRecord) []ScoreRecord {
	records := make([]ScoreRecord, len(in))
	copy(records, in)
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].ClassName != records[j].ClassName {
			return records[i].ClassName < records[j].ClassName
		}
		if records[i].Subject != records[j].Subject {
			return records[i].Subject < records[j].Subject
		}
		return records[i].StudentID < records[j].StudentID
	})

	out := records[:0]
	for i, r := range records {
		if i > 0 {
			prev := out[len(out)-1]
			if prev.ClassName == r.ClassName && prev.Subject == r.Subject && prev.StudentID == r.StudentID {
				c.warn("duplicate record for student %s subject %s ignored", r.StudentID, r.Subject)
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func (c *Computation) warn(format string, args ...interface{}) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// Records возвращает число записей после удаления повторов.
func (c *Computation) Records() int { return len(c.records) }

// Students возвращает результаты учеников (копию).
func (c *Computation) Students() []GrowthResult {
	out := make([]GrowthResult, len(c.students))
	copy(out, c.students)
	return out
}

// Classes возвращает агрегаты по классам.
func (c *Computation) Classes() []ClassGrowthAggregate {
	return AggregateClasses(c.students)
}

// Teachers возвращает агрегаты по учителям.
func (c *Computation) Teachers() []TeacherGrowthAggregate {
	return AggregateTeachers(c.students, c.assignments)
}

// Balance анализирует баланс предметов каждого класса и ранжирует классы.
func (c *Computation) Balance(classes []ClassGrowthAggregate) []SubjectBalanceAnalysis {
	analyses := make([]SubjectBalanceAnalysis, 0, len(classes))
	for _, cl := range classes {
		analyses = append(analyses, AnalyzeBalance(cl.ClassName, cl.Subjects, c.analyzer.policy))
	}
	return RankBalances(analyses)
}

// Exams возвращает сводки итоговых экзаменов по предметам.
func (c *Computation) Exams() []ExamSummary {
	return SummarizeExams(c.records, c.analyzer.passMark)
}

// Cohorts возвращает статистику когорт в стабильном порядке.
func (c *Computation) Cohorts() []CohortStats {
	return SortedCohorts(c.cohorts)
}

// Excluded возвращает число исключённых записей.
func (c *Computation) Excluded() int { return c.excluded }

// Warnings возвращает предупреждения расчёта (копию).
func (c *Computation) Warnings() []string {
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	return out
}
