package models

import (
	"fmt"
	"strings"
)

// MalformedDateError reports a date that does not match any declared layout.
type MalformedDateError struct {
	Line    int
	Value   string
	Layouts []string
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("line %d: malformed date %q (declared layouts: %s)", e.Line, e.Value, strings.Join(e.Layouts, ", "))
}

// InvalidPriceError reports a non-numeric or non-positive price.
type InvalidPriceError struct {
	Line   int
	Value  string
	Reason string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("line %d: invalid price %q: %s", e.Line, e.Value, e.Reason)
}

// DuplicateDateError reports two records sharing a calendar date.
type DuplicateDateError struct {
	Line      int
	FirstLine int
	Date      string
}

func (e *DuplicateDateError) Error() string {
	return fmt.Sprintf("line %d: duplicate date %s (first seen on line %d)", e.Line, e.Date, e.FirstLine)
}

// ValidationReport is the batch of all record-level failures of one load.
type ValidationReport struct {
	Total    int     `json:"total"`
	Accepted int     `json:"accepted"`
	Errors   []error `json:"-"`
}

// Rejected returns the number of rejected records.
func (r *ValidationReport) Rejected() int { return len(r.Errors) }

// Messages renders every collected failure.
func (r *ValidationReport) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

func (r *ValidationReport) Error() string {
	if len(r.Errors) == 0 {
		return "no validation errors"
	}
	return fmt.Sprintf("%d of %d records rejected; first: %v", len(r.Errors), r.Total, r.Errors[0])
}

// Unwrap exposes the individual failures to errors.As / errors.Is.
func (r *ValidationReport) Unwrap() []error { return r.Errors }

// NonConvergenceError is a quality warning: chains disagree beyond the R-hat threshold.
// The result it accompanies is still returned, flagged unreliable.
type NonConvergenceError struct {
	Parameter string
	RHat      float64
	Threshold float64
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("chains did not converge on %s: r-hat %.3f > %.3f", e.Parameter, e.RHat, e.Threshold)
}

// ChainDiagnostic describes the outcome of one sampler chain.
type ChainDiagnostic struct {
	Chain    int    `json:"chain"`
	Seed     uint64 `json:"seed"`
	Samples  int    `json:"samples"`
	Diverged bool   `json:"diverged"`
	TimedOut bool   `json:"timed_out"`
	Message  string `json:"message,omitempty"`
}

// InferenceFailureError is fatal for a run: no chain produced a usable trace.
type InferenceFailureError struct {
	Reason string
	Chains []ChainDiagnostic
}

func (e *InferenceFailureError) Error() string {
	return fmt.Sprintf("inference failed (%d chains): %s", len(e.Chains), e.Reason)
}

// InsufficientDataError is returned when the series cannot hold two minimum segments.
type InsufficientDataError struct {
	Length     int
	MinSegment int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("series of length %d is shorter than twice the minimum segment %d", e.Length, e.MinSegment)
}
