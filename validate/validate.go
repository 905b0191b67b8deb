/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package validate checks a remediation plan before anything executes it.
// Validation is a pure function over the plan and the repository policy:
// defects that can be corrected by dropping the offending patch, action or
// batch are corrected, and the whole plan is rejected only when its
// reference structure is broken or nothing survives the corrections.
package validate

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"chainguard.dev/checkmend/plan"
)

// Result is the outcome of validating a plan.
type Result struct {
	// Plan is the plan to execute, possibly corrected. Nil when rejected.
	Plan *plan.Plan

	// Reasons lists every defect found, corrected or fatal.
	Reasons []string

	// DroppedPatches names the patches removed under partial acceptance.
	DroppedPatches []string
}

// Rejected reports whether no usable plan remains.
func (r *Result) Rejected() bool { return r.Plan == nil }

// Validate checks a plan in four passes: patch reference integrity, diff
// well-formedness, batch conflicts, and policy compliance, then orders each
// surviving batch by action priority. The input plan is never modified.
func Validate(p *plan.Plan, pol *Policy) *Result {
	res := &Result{}
	if p == nil || p.Empty() {
		res.Reasons = append(res.Reasons, "plan has no actions")
		return res
	}

	// A dangling patch reference means the plan is internally inconsistent;
	// there is no trustworthy remainder to correct.
	if dangling := danglingRefs(p); len(dangling) > 0 {
		res.Reasons = dangling
		return res
	}

	work := p.Clone()

	for _, name := range slices.Sorted(maps.Keys(work.Patches)) {
		if defect := patchDefect(work.Patches[name]); defect != "" {
			res.dropPatch(work, name, fmt.Sprintf("patch %q: %s", name, defect))
		}
	}

	work.Batches = slices.DeleteFunc(work.Batches, func(b plan.Batch) bool {
		if conflict := enableDisableConflict(b); conflict != "" {
			res.Reasons = append(res.Reasons, conflict)
			return true
		}
		return false
	})
	for i := range work.Batches {
		collapseDuplicates(&work.Batches[i], res)
	}

	for _, name := range slices.Sorted(maps.Keys(work.Patches)) {
		if reason := policyDefect(pol, name, work.Patches[name]); reason != "" {
			res.dropPatch(work, name, reason)
		}
	}
	for i := range work.Batches {
		b := &work.Batches[i]
		b.Actions = slices.DeleteFunc(b.Actions, func(a plan.Action) bool {
			if a.Kind == plan.KindDisableWorkflow && pol.Protects(a.Target) {
				res.Reasons = append(res.Reasons, fmt.Sprintf("action %s: workflow is protected by policy", a))
				return true
			}
			return false
		})
	}

	work.Batches = slices.DeleteFunc(work.Batches, func(b plan.Batch) bool {
		return len(b.Actions) == 0
	})
	if work.Empty() {
		res.Reasons = append(res.Reasons, "no actions survived validation")
		return res
	}

	for i := range work.Batches {
		reorder(&work.Batches[i])
	}
	res.Plan = work
	return res
}

// dropPatch records a defect and removes the patch along with every action
// that applies it.
func (r *Result) dropPatch(work *plan.Plan, name, reason string) {
	r.Reasons = append(r.Reasons, reason)
	r.DroppedPatches = append(r.DroppedPatches, name)
	delete(work.Patches, name)
	for i := range work.Batches {
		b := &work.Batches[i]
		b.Actions = slices.DeleteFunc(b.Actions, func(a plan.Action) bool {
			return a.Kind == plan.KindApplyPatch && a.Target == name
		})
	}
}

func danglingRefs(p *plan.Plan) []string {
	var out []string
	for _, b := range p.Batches {
		for _, a := range b.Actions {
			if a.Kind != plan.KindApplyPatch {
				continue
			}
			if _, ok := p.Patch(a.Target); !ok {
				out = append(out, fmt.Sprintf("action %s references a patch the plan does not carry", a))
			}
		}
	}
	return out
}

// enableDisableConflict reports a batch that both enables and disables the
// same workflow. The intent is ambiguous, so the batch is not correctable.
func enableDisableConflict(b plan.Batch) string {
	seen := map[string]plan.Kind{}
	for _, a := range b.Actions {
		switch a.Kind {
		case plan.KindEnableWorkflow, plan.KindDisableWorkflow:
			if prev, ok := seen[a.Target]; ok && prev != a.Kind {
				return fmt.Sprintf("batch %q: both enables and disables workflow %s", b.Name, a.Target)
			}
			seen[a.Target] = a.Kind
		}
	}
	return ""
}

// collapseDuplicates keeps the first occurrence of each identical action in
// a batch.
func collapseDuplicates(b *plan.Batch, res *Result) {
	seen := map[plan.Action]bool{}
	b.Actions = slices.DeleteFunc(b.Actions, func(a plan.Action) bool {
		if seen[a] {
			res.Reasons = append(res.Reasons, fmt.Sprintf("batch %q: duplicate action %s collapsed", b.Name, a))
			return true
		}
		seen[a] = true
		return false
	})
}

func policyDefect(pol *Policy, name string, patch plan.Patch) string {
	if pol.OversizedPatch(patch.Diff) {
		return fmt.Sprintf("patch %q: %d bytes exceeds the policy cap of %d", name, len(patch.Diff), pol.MaxPatchBytes)
	}
	if !pol.AllowsPath(name) {
		return fmt.Sprintf("patch %q: path is not allowed by policy", name)
	}
	for _, file := range diffPaths(patch.Diff) {
		if !pol.AllowsPath(file) {
			return fmt.Sprintf("patch %q: touches %s, which policy does not allow", name, file)
		}
	}
	return ""
}

// reorder sorts a batch so approvals run first, reruns next, patches after
// that and workflow toggles last, keeping the original order within a kind.
func reorder(b *plan.Batch) {
	sort.SliceStable(b.Actions, func(i, j int) bool {
		return b.Actions[i].Priority() < b.Actions[j].Priority()
	})
}
