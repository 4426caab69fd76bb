// Package analysis содержит журнал запусков анализа и модель сохранённых
// результатов. Результаты хранятся с разбиением по измерению (class/teacher/
// student) и типу отчёта (growth/balance/risk), страницами до 1000 строк.
package analysis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN
// ══════════════════════════════════════════════════════════════════════════════

// RunStatus - состояние запуска.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// IsFinal возвращает true для завершённых запусков.
func (s RunStatus) IsFinal() bool {
	return s == RunSucceeded || s == RunFailed
}

// Стадии запуска и их доля готовности.
const (
	StageClass       = "class_analysis"
	StageTeacher     = "teacher_analysis"
	StageStudent     = "student_analysis"
	StagePersistence = "persistence"
	StageDone        = "done"
)

// StageProgress - процент готовности после завершения стадии.
var StageProgress = map[string]int{
	StageClass:       30,
	StageTeacher:     50,
	StageStudent:     70,
	StagePersistence: 90,
	StageDone:        100,
}

// Run - запись журнала запусков.
type Run struct {
	ID         string             `json:"id"`
	Key        shared.AnalysisKey `json:"key"`
	Status     RunStatus          `json:"status"`
	Stage      string             `json:"stage"`
	Progress   int                `json:"progress"`
	Errors     []string           `json:"errors"`
	Warnings   []string           `json:"warnings"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// NewRun создаёт запуск в состоянии pending.
func NewRun(id string, key shared.AnalysisKey, now time.Time) *Run {
	return &Run{
		ID:        id,
		Key:       key,
		Status:    RunPending,
		Errors:    []string{},
		Warnings:  []string{},
		StartedAt: now,
	}
}

// Advance отмечает завершение стадии.
func (r *Run) Advance(stage string) {
	r.Status = RunRunning
	r.Stage = stage
	if p, ok := StageProgress[stage]; ok && p > r.Progress {
		r.Progress = p
	}
}

// Succeed завершает запуск успешно.
func (r *Run) Succeed(now time.Time, warnings []string) {
	r.Advance(StageDone)
	r.Status = RunSucceeded
	r.Warnings = append(r.Warnings, warnings...)
	r.FinishedAt = &now
}

// Fail завершает запуск с ошибкой.
func (r *Run) Fail(now time.Time, err error) {
	r.Status = RunFailed
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
	r.FinishedAt = &now
}

// ══════════════════════════════════════════════════════════════════════════════
// STORED RESULT
// ══════════════════════════════════════════════════════════════════════════════

// Result - одна сохранённая строка результата.
type Result struct {
	RunID      string             `json:"run_id"`
	Key        shared.AnalysisKey `json:"key"`
	Dimension  shared.Dimension   `json:"dimension"`
	ReportType shared.ReportType  `json:"report_type"`
	SubjectRef string             `json:"subject_ref"` // класс, учитель или "ученик/предмет"
	Payload    json.RawMessage    `json:"payload"`
	CreatedAt  time.Time          `json:"created_at"`
}

// NewResult сериализует полезную нагрузку в строку результата.
func NewResult(runID string, key shared.AnalysisKey, dim shared.Dimension, rt shared.ReportType, ref string, payload interface{}, now time.Time) (Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, shared.WrapError("analysis", "NewResult", shared.ErrInvalidFormat, "cannot encode result payload", err)
	}
	return Result{
		RunID:      runID,
		Key:        key,
		Dimension:  dim,
		ReportType: rt,
		SubjectRef: ref,
		Payload:    data,
		CreatedAt:  now,
	}, nil
}

// ResultFilter выбирает сохранённые результаты.
type ResultFilter struct {
	Dimension  shared.Dimension
	ReportType shared.ReportType // пусто = все типы
	Key        string            // AnalysisKey.String(); пусто = последний запуск любого ключа
}

// ResultPage - страница результатов.
type ResultPage struct {
	Results []Result `json:"results"`
	Page    int      `json:"page"`
	HasMore bool     `json:"has_more"`
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// ResultRepository хранит результаты анализа.
// Реализации: PostgreSQL и встроенный SQLite.
type ResultRepository interface {
	// SaveResults заменяет результаты ключа новым набором одной транзакцией.
	SaveResults(ctx context.Context, key shared.AnalysisKey, results []Result) error

	// ListResults возвращает страницу результатов (не более shared.MaxPageSize строк).
	ListResults(ctx context.Context, filter ResultFilter, page shared.Pagination) (*ResultPage, error)
}

// RunRepository хранит журнал запусков.
type RunRepository interface {
	// SaveRun создаёт или обновляет запуск.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun возвращает запуск по ID или shared.ErrRunNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)
}
