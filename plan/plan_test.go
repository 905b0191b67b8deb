/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package plan_test

import (
	"strings"
	"testing"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/plan"
)

func TestParseActionRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"approve:12345",
		"rerun:67890",
		"rerun-failed-workflows",
		"apply-patch:pkg/widget/widget.go",
		"enable-workflow:.github/workflows/ci.yaml",
		"disable-workflow:.github/workflows/nightly.yaml",
	} {
		a, err := plan.ParseAction(s)
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", s, err)
		}
		if got := a.String(); got != s {
			t.Errorf("ParseAction(%q).String() = %q", s, got)
		}
	}
}

func TestParseActionRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"",
		"rerun",
		"rerun:",
		"approve",
		"explode:123",
		"rerun-failed-workflows:extra",
	} {
		if _, err := plan.ParseAction(s); err == nil {
			t.Errorf("ParseAction(%q): expected error", s)
		}
	}
}

func TestActionTargets(t *testing.T) {
	t.Parallel()

	a, err := plan.ParseAction("apply-patch:cmd/server/main.go")
	if err != nil {
		t.Fatalf("ParseAction: %v", err)
	}
	if a.Kind != plan.KindApplyPatch || a.Target != "cmd/server/main.go" {
		t.Errorf("got %v %q", a.Kind, a.Target)
	}
	if !a.Mutating() {
		t.Error("apply-patch should be mutating")
	}
	if plan.Rerun("1").Mutating() {
		t.Error("rerun should not be mutating")
	}
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()

	approve := plan.Approve("1").Priority()
	rerun := plan.Rerun("2").Priority()
	rerunAll := plan.RerunAllFailed().Priority()
	patch := plan.ApplyPatch("a.go").Priority()
	enable := plan.EnableWorkflow("w.yaml").Priority()
	disable := plan.DisableWorkflow("w.yaml").Priority()

	if !(approve < rerun) {
		t.Errorf("approve (%d) should precede rerun (%d)", approve, rerun)
	}
	if rerun != rerunAll {
		t.Errorf("rerun (%d) and rerun-failed-workflows (%d) should share a priority", rerun, rerunAll)
	}
	if !(rerun < patch) {
		t.Errorf("rerun (%d) should precede apply-patch (%d)", rerun, patch)
	}
	if !(patch < enable) {
		t.Errorf("apply-patch (%d) should precede workflow toggles (%d)", patch, enable)
	}
	if enable != disable {
		t.Errorf("enable (%d) and disable (%d) should share a priority", enable, disable)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	p, err := plan.Decode([]byte(`{
	  "batches": [
	    {"name": "unblock", "actions": ["approve:42"]},
	    {"actions": ["rerun:7", "apply-patch:go.mod"]}
	  ],
	  "patches": [{"filename": "go.mod", "diff": "--- a/go.mod\n+++ b/go.mod\n"}],
	  "stop_condition": "all_green",
	  "notes": "bump the dep"
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := p.ActionCount(); got != 3 {
		t.Errorf("ActionCount() = %d, want 3", got)
	}
	if p.Batches[1].Name != "batch-2" {
		t.Errorf("unnamed batch got %q, want batch-2", p.Batches[1].Name)
	}
	if p.StopCondition != plan.StopAllGreen {
		t.Errorf("StopCondition = %q", p.StopCondition)
	}
	if _, ok := p.Patch("go.mod"); !ok {
		t.Error("patch for go.mod not indexed")
	}
	if p.Empty() {
		t.Error("plan with actions reported Empty")
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{{
		name: "unknown verb",
		in:   `{"batches": [{"actions": ["detonate:1"]}]}`,
		want: "unknown verb",
	}, {
		name: "duplicate patch",
		in:   `{"batches": [], "patches": [{"filename": "a", "diff": "x"}, {"filename": "a", "diff": "y"}]}`,
		want: "duplicate patch",
	}, {
		name: "empty patch filename",
		in:   `{"batches": [], "patches": [{"filename": "", "diff": "x"}]}`,
		want: "empty filename",
	}, {
		name: "not json",
		in:   `plans are for suckers`,
		want: "unmarshaling",
	}}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := plan.Decode([]byte(tc.in))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	orig := &plan.Plan{
		Batches: []plan.Batch{{
			Name:    "fix",
			Actions: []plan.Action{plan.Approve("1"), plan.ApplyPatch("main.go")},
		}},
		Patches: map[string]plan.Patch{
			"main.go": {Filename: "main.go", Diff: "--- a/main.go\n+++ b/main.go\n"},
		},
		StopCondition: plan.StopManualReview,
		Notes:         "hand off after the patch lands",
	}
	data, err := plan.Encode(orig)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := plan.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ActionCount() != orig.ActionCount() || got.StopCondition != orig.StopCondition || got.Notes != orig.Notes {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if _, ok := got.Patch("main.go"); !ok {
		t.Error("patch lost in round trip")
	}
}

func TestFallback(t *testing.T) {
	t.Parallel()

	snap := &checks.Snapshot{
		Runs: []checks.CheckRun{
			{ID: "1", Name: "unit", Status: checks.StatusCompleted, Conclusion: checks.ConclusionFailure},
			{ID: "2", Name: "lint", Status: checks.StatusCompleted, Conclusion: checks.ConclusionSuccess},
			{ID: "3", Name: "deploy", Status: checks.StatusCompleted, Conclusion: checks.ConclusionActionRequired},
			{ID: "4", Name: "e2e", Status: checks.StatusCompleted, Conclusion: checks.ConclusionCancelled},
			{ID: "5", Name: "docs", Status: checks.StatusInProgress},
		},
	}
	p := plan.Fallback(snap)

	var reruns, approves, others []string
	for _, b := range p.Batches {
		for _, a := range b.Actions {
			switch a.Kind {
			case plan.KindRerun:
				reruns = append(reruns, a.Target)
			case plan.KindApprove:
				approves = append(approves, a.Target)
			default:
				others = append(others, a.String())
			}
		}
	}
	if len(reruns) != 2 || reruns[0] != "1" || reruns[1] != "4" {
		t.Errorf("reruns = %v, want [1 4]", reruns)
	}
	if len(approves) != 1 || approves[0] != "3" {
		t.Errorf("approves = %v, want [3]", approves)
	}
	if len(others) != 0 {
		t.Errorf("unexpected actions %v", others)
	}
}
