// Package validation проверяет входные записи перед анализом.
// Некорректная запись отклоняется, остальные продолжают обработку;
// итог собирается в shared.ValidationReport.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
)

// notBlankTag - строка не пустая после TrimSpace.
const notBlankTag = "notblank"

// Validator оборачивает validator/v10: имена полей берутся из json-тегов,
// сообщения переводятся на английский, growth.Score проверяется как число.
// Также реализует echo.Validator.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New создаёт валидатор со всеми пользовательскими правилами.
func New() *Validator {
	v := validator.New()

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Присутствующая оценка проверяется как float64, Absent/Missing пропускаются omitempty.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if s, ok := field.Interface().(growth.Score); ok {
			if value, present := s.Value(); present {
				return value
			}
		}
		return nil
	}, growth.Score{})

	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		if str, ok := fl.Field().Interface().(string); ok {
			return strings.TrimSpace(str) != ""
		}
		return true
	})
	_ = v.RegisterTranslation(notBlankTag, trans,
		func(ut.Translator) error { return nil },
		func(_ ut.Translator, fe validator.FieldError) string {
			return fe.Field() + " cannot be blank"
		})

	return &Validator{validate: v, translator: trans}
}

// Validate проверяет структуру по тегам (интерфейс echo.Validator).
func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// FieldErrors переводит ошибки валидатора в карту поле → сообщение.
// Для прочих ошибок возвращает nil.
func (v *Validator) FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Translate(v.translator)
	}
	return out
}

// describe сводит ошибки одной записи в строку с детерминированным порядком полей.
func (v *Validator) describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(v.translator))
	}
	return strings.Join(msgs, "; ")
}

// ══════════════════════════════════════════════════════════════════════════════
// BATCH VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// ScoreRecords отбирает корректные записи оценок.
func (v *Validator) ScoreRecords(records []growth.ScoreRecord) ([]growth.ScoreRecord, *shared.ValidationReport) {
	report := shared.NewValidationReport()
	valid := make([]growth.ScoreRecord, 0, len(records))

	for i, r := range records {
		if err := v.validate.Struct(r); err != nil {
			report.Reject("score record %d (student %q, subject %q): %s", i, r.StudentID, r.Subject, v.describe(err))
			continue
		}
		report.Accept()
		valid = append(valid, r)
	}

	return valid, report.Finalize()
}

// Assignments отбирает корректные назначения учителей.
// Ошибки назначений не блокируют анализ и попадают в предупреждения.
func (v *Validator) Assignments(assignments []growth.TeachingAssignment, report *shared.ValidationReport) []growth.TeachingAssignment {
	valid := make([]growth.TeachingAssignment, 0, len(assignments))
	for i, a := range assignments {
		if err := v.validate.Struct(a); err != nil {
			report.Warn("teaching assignment %d ignored: %s", i, v.describe(err))
			continue
		}
		valid = append(valid, a)
	}
	return valid
}

// WarningEvents отбирает корректные предупреждения.
// Неизвестная важность не отклоняет событие: оно учитывается с весом 1.
func (v *Validator) WarningEvents(events []risk.WarningEvent) ([]risk.WarningEvent, *shared.ValidationReport) {
	report := shared.NewValidationReport()
	valid := make([]risk.WarningEvent, 0, len(events))

	unknown := 0
	for i, e := range events {
		if err := v.validate.Struct(e); err != nil {
			report.Reject("warning event %d (id %q): %s", i, e.ID, v.describe(err))
			continue
		}
		if !e.Severity.IsKnown() {
			unknown++
		}
		report.Accept()
		valid = append(valid, e)
	}
	if unknown > 0 {
		report.Warn("%d events have an unknown severity and count with weight %d", unknown, risk.Severity("").Weight())
	}

	return valid, report.Finalize()
}

// GradingScale проверяет шкалу уровней до вычислений.
// Некорректная шкала делает отчёт failed.
func GradingScale(defs []growth.LevelDef, report *shared.ValidationReport) (*growth.GradingScale, error) {
	scale, err := growth.NewGradingScale(defs)
	if err != nil {
		report.Fail(fmt.Errorf("grading scale: %w", err))
		return nil, err
	}
	return scale, nil
}
