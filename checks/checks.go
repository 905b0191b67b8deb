/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package checks holds the normalized view of CI check state for a revision.
// Snapshots are produced by the observer on every poll and are never mutated
// afterwards; a rerun shows up as a fresh CheckRun with a higher Attempt.
package checks

import (
	"fmt"
	"time"
)

// Status is the coarse lifecycle state of a check run.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Conclusion is the terminal result of a completed check run. It is only
// meaningful when Status is StatusCompleted.
type Conclusion string

const (
	ConclusionSuccess        Conclusion = "success"
	ConclusionFailure        Conclusion = "failure"
	ConclusionCancelled      Conclusion = "cancelled"
	ConclusionActionRequired Conclusion = "action_required"
	ConclusionNeutral        Conclusion = "neutral"
	ConclusionUnknown        Conclusion = "unknown"
)

// CheckRun is one CI check instance for a revision as reported by the
// provider. ID is opaque; callers must not parse it.
type CheckRun struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	Conclusion Conclusion `json:"conclusion,omitempty"`
	Attempt    int        `json:"attempt"`
	DetailsURL string     `json:"details_url,omitempty"`
	Title      string     `json:"title,omitempty"`
	Summary    string     `json:"summary,omitempty"`
}

// Normalize enforces the status/conclusion invariant: a conclusion is set if
// and only if the run completed. Non-completed runs lose any conclusion the
// provider leaked; completed runs without one report ConclusionUnknown.
func (c *CheckRun) Normalize() {
	if c.Status != StatusCompleted {
		c.Conclusion = ""
		return
	}
	if c.Conclusion == "" {
		c.Conclusion = ConclusionUnknown
	}
	if c.Attempt < 1 {
		c.Attempt = 1
	}
}

// Green reports whether the run completed successfully. Neutral conclusions
// count as green: they are the provider's way of saying "nothing to do here".
func (c CheckRun) Green() bool {
	return c.Status == StatusCompleted &&
		(c.Conclusion == ConclusionSuccess || c.Conclusion == ConclusionNeutral)
}

// Failing reports whether the run completed with a conclusion that warrants
// remediation.
func (c CheckRun) Failing() bool {
	return c.Status == StatusCompleted &&
		(c.Conclusion == ConclusionFailure || c.Conclusion == ConclusionCancelled)
}

// NeedsApproval reports whether the run is blocked waiting on a human gate.
func (c CheckRun) NeedsApproval() bool {
	return c.Status == StatusCompleted && c.Conclusion == ConclusionActionRequired
}

func (c CheckRun) String() string {
	if c.Status == StatusCompleted {
		return fmt.Sprintf("%s[%s/%s attempt=%d]", c.Name, c.Status, c.Conclusion, c.Attempt)
	}
	return fmt.Sprintf("%s[%s attempt=%d]", c.Name, c.Status, c.Attempt)
}

// Snapshot is one internally consistent observation of every check run
// registered for a revision.
type Snapshot struct {
	Revision string     `json:"revision"`
	Taken    time.Time  `json:"taken"`
	Runs     []CheckRun `json:"runs"`
}

// AllGreen reports whether every observed run completed successfully. An
// empty snapshot is not green: it means no checks have registered yet, and
// declaring victory before the provider has created them would be premature.
func (s *Snapshot) AllGreen() bool {
	if len(s.Runs) == 0 {
		return false
	}
	for _, run := range s.Runs {
		if !run.Green() {
			return false
		}
	}
	return true
}

// Failing returns the runs whose conclusion warrants remediation.
func (s *Snapshot) Failing() []CheckRun {
	var out []CheckRun
	for _, run := range s.Runs {
		if run.Failing() {
			out = append(out, run)
		}
	}
	return out
}

// NeedingApproval returns the runs blocked on a human gate.
func (s *Snapshot) NeedingApproval() []CheckRun {
	var out []CheckRun
	for _, run := range s.Runs {
		if run.NeedsApproval() {
			out = append(out, run)
		}
	}
	return out
}

// Pending returns the runs that have not completed yet.
func (s *Snapshot) Pending() []CheckRun {
	var out []CheckRun
	for _, run := range s.Runs {
		if run.Status != StatusCompleted {
			out = append(out, run)
		}
	}
	return out
}

// Tally is a count of runs by disposition, for logs and reports.
type Tally struct {
	Total    int `json:"total"`
	Green    int `json:"green"`
	Failing  int `json:"failing"`
	Blocked  int `json:"blocked"`
	Pending  int `json:"pending"`
	Neutral  int `json:"neutral"`
	Unknown  int `json:"unknown"`
}

// Tally buckets every run into exactly one disposition.
func (s *Snapshot) Tally() Tally {
	t := Tally{Total: len(s.Runs)}
	for _, run := range s.Runs {
		switch {
		case run.Status != StatusCompleted:
			t.Pending++
		case run.Conclusion == ConclusionSuccess:
			t.Green++
		case run.Conclusion == ConclusionNeutral:
			t.Neutral++
		case run.Failing():
			t.Failing++
		case run.NeedsApproval():
			t.Blocked++
		default:
			t.Unknown++
		}
	}
	return t
}

func (t Tally) String() string {
	return fmt.Sprintf("total=%d green=%d failing=%d blocked=%d pending=%d neutral=%d unknown=%d",
		t.Total, t.Green, t.Failing, t.Blocked, t.Pending, t.Neutral, t.Unknown)
}
