/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package loop

// Outcome is how a remediation run, or one iteration of it, ended.
// OutcomeContinue marks an iteration that finished without ending the run;
// the other values are terminal.
type Outcome string

const (
	OutcomeContinue  Outcome = "continue"
	OutcomeConverged Outcome = "converged"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFatal     Outcome = "fatal"
	OutcomeCancelled Outcome = "cancelled"
)

// Terminal reports whether the outcome ends the run.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeConverged, OutcomeExhausted, OutcomeFatal, OutcomeCancelled:
		return true
	}
	return false
}

// ExitCode maps the outcome to the code the invoking automation reads:
// converged 0, fatal 1, exhausted 2, cancelled 3. Anything else reports as
// fatal so a defect can never read as success.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeConverged:
		return 0
	case OutcomeExhausted:
		return 2
	case OutcomeCancelled:
		return 3
	default:
		return 1
	}
}
