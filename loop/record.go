/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package loop

import (
	"fmt"
	"time"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/executor"
	"chainguard.dev/checkmend/oracle"
	"chainguard.dev/checkmend/plan"
)

// IterationRecord captures what one iteration observed, planned, and did.
// The loop appends one record per iteration and never edits an appended
// record; the sequence is the run's audit trail.
type IterationRecord struct {
	Iteration int       `json:"iteration"`
	Started   time.Time `json:"started"`

	// Revision is the commit the iteration observed. It can move between
	// iterations when a patch advances the branch head.
	Revision string           `json:"revision"`
	Observed *checks.Snapshot `json:"observed,omitempty"`
	Tally    checks.Tally     `json:"tally"`

	// Transitions lists the checks whose disposition changed since the
	// previous observation.
	Transitions []string `json:"transitions,omitempty"`

	// Plan is the oracle's proposal, nil when the oracle was unavailable.
	// PlanSource says whose plan actually ran: "oracle" or "fallback".
	Plan       *plan.Plan `json:"plan,omitempty"`
	PlanSource string     `json:"plan_source,omitempty"`

	// Validation holds the validator's correction and rejection reasons.
	Validation []string `json:"validation,omitempty"`

	Results []executor.Result `json:"results,omitempty"`
	Outcome Outcome           `json:"outcome"`
}

// Trail is the complete account of one remediation run.
type Trail struct {
	Revision   string            `json:"revision"`
	Goal       string            `json:"goal,omitempty"`
	Started    time.Time         `json:"started"`
	Finished   time.Time         `json:"finished"`
	Outcome    Outcome           `json:"outcome"`
	Failure    string            `json:"failure,omitempty"`
	Iterations []IterationRecord `json:"iterations"`
}

// ExitCode is the process exit code for the run.
func (t *Trail) ExitCode() int { return t.Outcome.ExitCode() }

// digest condenses a finished iteration into the compact exchange the
// planner receives as history on later iterations.
func digest(rec IterationRecord) oracle.Exchange {
	ex := oracle.Exchange{
		Iteration: rec.Iteration,
		Tally:     rec.Tally.String(),
		Outcome:   string(rec.Outcome),
	}
	for _, res := range rec.Results {
		ex.Actions = append(ex.Actions, fmt.Sprintf("%s=%s", res.Action, res.Outcome))
	}
	return ex
}
