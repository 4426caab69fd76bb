// Package command contains write operations (CQRS - Commands).
// Commands read stored inputs, run the analytics engines and persist results.
package command

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alem-hub/growth-hub/internal/domain/analysis"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPORTING
// ══════════════════════════════════════════════════════════════════════════════

// ProgressReporter получает уведомление после каждой стадии запуска.
type ProgressReporter interface {
	Report(ctx context.Context, runID, stage string, percent int)
}

// ProgressFunc адаптирует функцию к ProgressReporter.
type ProgressFunc func(ctx context.Context, runID, stage string, percent int)

// Report implements ProgressReporter.
func (f ProgressFunc) Report(ctx context.Context, runID, stage string, percent int) {
	f(ctx, runID, stage, percent)
}

// EventProgressReporter публикует analysis.progress в шину событий.
// Ошибка публикации не прерывает запуск.
type EventProgressReporter struct {
	publisher shared.EventPublisher
}

// NewEventProgressReporter создаёт репортёр поверх шины событий.
func NewEventProgressReporter(publisher shared.EventPublisher) *EventProgressReporter {
	return &EventProgressReporter{publisher: publisher}
}

// Report implements ProgressReporter.
func (r *EventProgressReporter) Report(ctx context.Context, runID, stage string, percent int) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(shared.NewAnalysisProgressEvent(runID, stage, percent)); err != nil {
		slog.Warn("failed to publish progress", "run_id", runID, "stage", stage, "error", err)
	}
}

// ProgressRecorder запоминает стадии в порядке поступления.
// Используется в тестах и при синхронных запусках из CLI.
type ProgressRecorder struct {
	mu     sync.Mutex
	stages []string
	last   int
}

// Report implements ProgressReporter.
func (r *ProgressRecorder) Report(_ context.Context, _ string, stage string, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
	r.last = percent
}

// Stages возвращает стадии по порядку.
func (r *ProgressRecorder) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.stages))
	copy(out, r.stages)
	return out
}

// Percent возвращает последний процент.
func (r *ProgressRecorder) Percent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// multiReporter рассылает прогресс нескольким получателям.
type multiReporter []ProgressReporter

func (m multiReporter) Report(ctx context.Context, runID, stage string, percent int) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, runID, stage, percent)
		}
	}
}

// stagePercent возвращает процент готовности стадии.
func stagePercent(stage string) int {
	return analysis.StageProgress[stage]
}
