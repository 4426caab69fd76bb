package shared

import "fmt"

// ReportStatus is the outcome of input validation for one batch.
type ReportStatus string

const (
	StatusSucceeded ReportStatus = "succeeded"
	StatusPartial   ReportStatus = "partial"
	StatusFailed    ReportStatus = "failed"
)

// ValidationReport collects per-record problems without aborting the batch.
// Errors reject the record they describe; warnings never block computation.
type ValidationReport struct {
	Status   ReportStatus `json:"status"`
	Errors   []string     `json:"errors"`
	Warnings []string     `json:"warnings"`
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
}

// NewValidationReport creates an empty report.
func NewValidationReport() *ValidationReport {
	return &ValidationReport{
		Status:   StatusSucceeded,
		Errors:   []string{},
		Warnings: []string{},
	}
}

// Reject records a fatal problem for one record.
func (r *ValidationReport) Reject(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Rejected++
}

// Accept counts a record that passed validation.
func (r *ValidationReport) Accept() {
	r.Accepted++
}

// Warn records a non-blocking problem.
func (r *ValidationReport) Warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Fail marks the whole batch as failed, e.g. for an invalid grading scale.
func (r *ValidationReport) Fail(err error) {
	r.Errors = append(r.Errors, err.Error())
	r.Status = StatusFailed
}

// Merge adds the counters and messages of other. The status is left to Finalize.
func (r *ValidationReport) Merge(other *ValidationReport) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Accepted += other.Accepted
	r.Rejected += other.Rejected
}

// Finalize derives the status from the counters. A failed report stays failed.
func (r *ValidationReport) Finalize() *ValidationReport {
	if r.Status == StatusFailed {
		return r
	}
	switch {
	case r.Accepted == 0 && r.Rejected > 0:
		r.Status = StatusFailed
	case r.Rejected > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusSucceeded
	}
	return r
}

// Blocking reports whether nothing may be computed from the batch.
func (r *ValidationReport) Blocking() bool {
	return r.Status == StatusFailed
}
