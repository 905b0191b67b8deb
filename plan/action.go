/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies one of the remediation action variants.
type Kind string

const (
	// KindApprove approves a check run blocked awaiting approval.
	KindApprove Kind = "approve"
	// KindRerun re-requests a single check run by identifier.
	KindRerun Kind = "rerun"
	// KindRerunAllFailed re-requests every failed workflow for the revision.
	KindRerunAllFailed Kind = "rerun-failed-workflows"
	// KindApplyPatch commits and pushes a patch from the owning plan.
	KindApplyPatch Kind = "apply-patch"
	// KindEnableWorkflow enables a workflow by path.
	KindEnableWorkflow Kind = "enable-workflow"
	// KindDisableWorkflow disables a workflow by path.
	KindDisableWorkflow Kind = "disable-workflow"
)

// Action is one remediation step. Target is the check run ID for Approve and
// Rerun, the patch filename for ApplyPatch, and the workflow path for
// EnableWorkflow and DisableWorkflow. RerunAllFailed takes no target.
type Action struct {
	Kind   Kind
	Target string
}

func Approve(checkID string) Action         { return Action{Kind: KindApprove, Target: checkID} }
func Rerun(checkID string) Action           { return Action{Kind: KindRerun, Target: checkID} }
func RerunAllFailed() Action                { return Action{Kind: KindRerunAllFailed} }
func ApplyPatch(filename string) Action     { return Action{Kind: KindApplyPatch, Target: filename} }
func EnableWorkflow(path string) Action     { return Action{Kind: KindEnableWorkflow, Target: path} }
func DisableWorkflow(path string) Action    { return Action{Kind: KindDisableWorkflow, Target: path} }

// String renders the action in its wire form.
func (a Action) String() string {
	if a.Kind == KindRerunAllFailed {
		return string(KindRerunAllFailed)
	}
	return string(a.Kind) + ":" + a.Target
}

// MarshalJSON encodes the action in its wire form.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an action from its wire form.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Priority orders actions for execution. Lower values run first: approvals
// unblock runs that are otherwise stuck, reruns are cheap and often resolve
// flakes without touching the tree, patches change the tree, and workflow
// toggles are the most invasive.
func (a Action) Priority() int {
	switch a.Kind {
	case KindApprove:
		return 0
	case KindRerun, KindRerunAllFailed:
		return 1
	case KindApplyPatch:
		return 2
	case KindEnableWorkflow, KindDisableWorkflow:
		return 3
	}
	return 4
}

// Mutating reports whether the action changes repository contents rather
// than just re-requesting work.
func (a Action) Mutating() bool {
	switch a.Kind {
	case KindApplyPatch, KindEnableWorkflow, KindDisableWorkflow:
		return true
	}
	return false
}

// ParseAction decodes the wire form of an action. Unknown verbs and missing
// targets are rejected rather than silently dropped so that a malformed
// oracle response surfaces as a validation failure.
func ParseAction(s string) (Action, error) {
	if s == string(KindRerunAllFailed) {
		return RerunAllFailed(), nil
	}
	verb, target, ok := strings.Cut(s, ":")
	if !ok {
		return Action{}, fmt.Errorf("action %q: missing %q separator", s, ":")
	}
	if target == "" {
		return Action{}, fmt.Errorf("action %q: empty target", s)
	}
	switch Kind(verb) {
	case KindApprove:
		return Approve(target), nil
	case KindRerun:
		return Rerun(target), nil
	case KindApplyPatch:
		return ApplyPatch(target), nil
	case KindEnableWorkflow:
		return EnableWorkflow(target), nil
	case KindDisableWorkflow:
		return DisableWorkflow(target), nil
	}
	return Action{}, fmt.Errorf("action %q: unknown verb %q", s, verb)
}
