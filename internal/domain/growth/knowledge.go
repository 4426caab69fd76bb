package growth

import (
	"fmt"
	"strings"

	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// KnowledgeThreshold - порог освоения элемента знаний (доля верных ответов, 0..1).
type KnowledgeThreshold struct {
	Level     string  `json:"level" yaml:"level"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// KnowledgeScale классифицирует освоение элементов знаний.
type KnowledgeScale struct {
	thresholds []KnowledgeThreshold
}

// NewKnowledgeScale проверяет список порогов: не пустой, пороги в [0,1]
// и строго убывают в порядке задания.
func NewKnowledgeScale(defs []KnowledgeThreshold) (*KnowledgeScale, error) {
	if len(defs) == 0 {
		return nil, shared.ErrEmptyKnowledgeScale
	}

	for i, t := range defs {
		if strings.TrimSpace(t.Level) == "" {
			return nil, shared.NewDomainError("growth", "NewKnowledgeScale", shared.ErrConfiguration,
				fmt.Sprintf("threshold #%d has no level", i+1))
		}
		if t.Threshold < 0 || t.Threshold > 1 {
			return nil, shared.NewDomainError("growth", "NewKnowledgeScale", shared.ErrConfiguration,
				fmt.Sprintf("level %q threshold %v outside [0,1]", t.Level, t.Threshold))
		}
		if i > 0 && t.Threshold >= defs[i-1].Threshold {
			return nil, shared.WrapError("growth", "NewKnowledgeScale", shared.ErrConfiguration,
				fmt.Sprintf("level %q threshold %v is not below %q threshold %v",
					t.Level, t.Threshold, defs[i-1].Level, defs[i-1].Threshold),
				shared.ErrUnorderedKnowledgeScale)
		}
	}

	ts := make([]KnowledgeThreshold, len(defs))
	copy(ts, defs)
	return &KnowledgeScale{thresholds: ts}, nil
}

// Thresholds возвращает копию упорядоченных порогов.
func (k *KnowledgeScale) Thresholds() []KnowledgeThreshold {
	out := make([]KnowledgeThreshold, len(k.thresholds))
	copy(out, k.thresholds)
	return out
}

// Classify возвращает уровень для доли освоения.
// Ниже всех порогов - низший уровень.
func (k *KnowledgeScale) Classify(mastery float64) string {
	for _, t := range k.thresholds {
		if t.Threshold <= mastery {
			return t.Level
		}
	}
	return k.thresholds[len(k.thresholds)-1].Level
}
