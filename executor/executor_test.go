/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package executor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/executor"
	"chainguard.dev/checkmend/executor/retry"
	"chainguard.dev/checkmend/ledger"
	"chainguard.dev/checkmend/plan"
	"chainguard.dev/checkmend/provider"
)

// fakeCI records dispatched mutations in order. Errors are scripted per
// call string; failFirst entries fire once and clear, so retries observe
// recovery.
type fakeCI struct {
	calls     []string
	errs      map[string]error
	failFirst map[string]error
	details   map[string]checks.CheckRun
}

func (f *fakeCI) call(s string) error {
	f.calls = append(f.calls, s)
	if err, ok := f.failFirst[s]; ok {
		delete(f.failFirst, s)
		return err
	}
	return f.errs[s]
}

func (f *fakeCI) ListCheckRuns(context.Context, string) ([]checks.CheckRun, error) {
	return nil, errors.New("unexpected observation")
}

func (f *fakeCI) CheckDetail(_ context.Context, id string) (checks.CheckRun, error) {
	if err := f.errs["detail:"+id]; err != nil {
		return checks.CheckRun{}, err
	}
	return f.details[id], nil
}

func (f *fakeCI) ResolvePullRequest(context.Context, int) (string, string, error) {
	return "", "", errors.New("unexpected resolve")
}

func (f *fakeCI) Rerun(_ context.Context, id string) error   { return f.call("rerun:" + id) }
func (f *fakeCI) Approve(_ context.Context, id string) error { return f.call("approve:" + id) }
func (f *fakeCI) RerunAllFailed(_ context.Context, rev string) error {
	return f.call("rerun-all:" + rev)
}
func (f *fakeCI) EnableWorkflow(_ context.Context, p string) error  { return f.call("enable:" + p) }
func (f *fakeCI) DisableWorkflow(_ context.Context, p string) error { return f.call("disable:" + p) }
func (f *fakeCI) CancelStuckRuns(context.Context, string, time.Duration) (int, error) {
	return 0, errors.New("unexpected cancel")
}

type fakePatcher struct {
	pushed []string
	err    error
}

func (f *fakePatcher) ApplyAndPush(_ context.Context, p plan.Patch, summary string) (string, error) {
	f.pushed = append(f.pushed, p.Filename+"|"+summary)
	if f.err != nil {
		return "", f.err
	}
	return "head-after-" + p.Filename, nil
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func newExecutor(ci *fakeCI, opts ...executor.Option) (*executor.Executor, *ledger.Ledger) {
	led := ledger.New()
	opts = append([]executor.Option{executor.WithRetry(fastRetry())}, opts...)
	return executor.New(ci, led, opts...), led
}

func blocked() checks.CheckRun {
	return checks.CheckRun{Status: checks.StatusCompleted, Conclusion: checks.ConclusionActionRequired, Attempt: 1}
}

func green() checks.CheckRun {
	return checks.CheckRun{Status: checks.StatusCompleted, Conclusion: checks.ConclusionSuccess, Attempt: 1}
}

func TestExecuteDispatchesInOrder(t *testing.T) {
	t.Parallel()

	ci := &fakeCI{details: map[string]checks.CheckRun{"7": blocked()}}
	patcher := &fakePatcher{}
	e, led := newExecutor(ci, executor.WithPatcher(patcher))

	p := &plan.Plan{
		Batches: []plan.Batch{{
			Name: "fix flaky unit test",
			Actions: []plan.Action{
				plan.Approve("7"),
				plan.Rerun("9"),
				plan.ApplyPatch("main.go"),
				plan.DisableWorkflow("flaky.yaml"),
			},
		}},
		Patches: map[string]plan.Patch{"main.go": {Filename: "main.go", Diff: "x"}},
	}

	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := report.Count(executor.OutcomeApplied); got != 4 {
		t.Errorf("applied = %d, want 4: %+v", got, report.Results)
	}
	wantCalls := []string{"approve:7", "rerun:9", "disable:flaky.yaml"}
	if len(ci.calls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", ci.calls, wantCalls)
	}
	for i := range wantCalls {
		if ci.calls[i] != wantCalls[i] {
			t.Fatalf("calls = %v, want %v", ci.calls, wantCalls)
		}
	}
	if len(patcher.pushed) != 1 || patcher.pushed[0] != "main.go|fix flaky unit test" {
		t.Errorf("pushed = %v, want the batch label as the commit summary", patcher.pushed)
	}
	if report.NewHead != "head-after-main.go" {
		t.Errorf("NewHead = %q", report.NewHead)
	}
	if led.AppliedCount() != 4 {
		t.Errorf("ledger recorded %d actions, want 4", led.AppliedCount())
	}
}

func TestExecuteSyntheticBatchNameFallsBackToFilename(t *testing.T) {
	t.Parallel()

	patcher := &fakePatcher{}
	e, _ := newExecutor(&fakeCI{}, executor.WithPatcher(patcher))

	p := &plan.Plan{
		Batches: []plan.Batch{{Name: "batch-1", Actions: []plan.Action{plan.ApplyPatch("go.mod")}}},
		Patches: map[string]plan.Patch{"go.mod": {Filename: "go.mod", Diff: "x"}},
	}
	if _, err := e.Execute(context.Background(), "deadbeef", p); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(patcher.pushed) != 1 || patcher.pushed[0] != "go.mod|update go.mod" {
		t.Errorf("pushed = %v", patcher.pushed)
	}
}

func TestExecuteDedupsWithinPlanButNotAcross(t *testing.T) {
	t.Parallel()

	ci := &fakeCI{}
	e, _ := newExecutor(ci)

	p := &plan.Plan{Batches: []plan.Batch{
		{Name: "first", Actions: []plan.Action{plan.Rerun("1")}},
		{Name: "second", Actions: []plan.Action{plan.Rerun("1")}},
	}}

	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ci.calls) != 1 {
		t.Errorf("calls = %v, want a single dispatch", ci.calls)
	}
	if report.Results[1].Outcome != executor.OutcomeSkipped || report.Results[1].Reason != executor.ReasonAlreadyApplied {
		t.Errorf("duplicate = %+v, want already-applied skip", report.Results[1])
	}

	// A fresh plan opens a fresh epoch; the same action may run again.
	if _, err := e.Execute(context.Background(), "deadbeef", p); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if len(ci.calls) != 2 {
		t.Errorf("calls = %v, want a second dispatch in the new epoch", ci.calls)
	}
}

func TestExecutePreChecksSkipSettledRuns(t *testing.T) {
	t.Parallel()

	ci := &fakeCI{details: map[string]checks.CheckRun{
		"5": green(),
		"7": blocked(),
	}}
	e, _ := newExecutor(ci)

	p := &plan.Plan{Batches: []plan.Batch{{Actions: []plan.Action{
		plan.Rerun("5"),   // went green since the snapshot
		plan.Approve("6"), // no longer blocked
		plan.Approve("7"), // still blocked
	}}}}

	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	wantReasons := map[string]string{
		"rerun:5":   executor.ReasonAlreadyGreen,
		"approve:6": executor.ReasonNotBlocked,
	}
	for _, res := range report.Results {
		want, skipped := wantReasons[res.Action.String()]
		if skipped {
			if res.Outcome != executor.OutcomeSkipped || res.Reason != want {
				t.Errorf("%s = %+v, want skip %q", res.Action, res, want)
			}
			continue
		}
		if res.Outcome != executor.OutcomeApplied {
			t.Errorf("%s = %+v, want applied", res.Action, res)
		}
	}
	if len(ci.calls) != 1 || ci.calls[0] != "approve:7" {
		t.Errorf("calls = %v, want only the still-blocked approval", ci.calls)
	}
}

func TestExecuteStaleReferencesSkipAndFlag(t *testing.T) {
	t.Parallel()

	gone := provider.Errorf(provider.ClassNotFound, "get", errors.New("410"))
	ci := &fakeCI{errs: map[string]error{
		"detail:8": gone,
		"rerun:9":  gone,
	}, details: map[string]checks.CheckRun{"9": {Status: checks.StatusCompleted, Conclusion: checks.ConclusionFailure}}}
	e, _ := newExecutor(ci)

	p := &plan.Plan{Batches: []plan.Batch{{Actions: []plan.Action{
		plan.Rerun("8"), // pre-check discovers it is gone
		plan.Rerun("9"), // dispatch discovers it is gone
	}}}}

	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !report.Stale {
		t.Error("Stale = false, want true")
	}
	for _, res := range report.Results {
		if res.Outcome != executor.OutcomeSkipped || res.Reason != executor.ReasonStale {
			t.Errorf("%s = %+v, want stale skip", res.Action, res)
		}
	}
	if len(ci.calls) != 1 || ci.calls[0] != "rerun:9" {
		t.Errorf("calls = %v, want no dispatch for the pre-checked run", ci.calls)
	}
}

func TestExecuteAuthFailureAbortsRemainder(t *testing.T) {
	t.Parallel()

	ci := &fakeCI{errs: map[string]error{
		"rerun:1": provider.Errorf(provider.ClassAuth, "rerun", errors.New("bad credentials")),
	}}
	e, _ := newExecutor(ci)

	p := &plan.Plan{Batches: []plan.Batch{{Actions: []plan.Action{
		plan.Rerun("1"),
		plan.Rerun("2"),
	}}}}

	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err == nil {
		t.Fatal("Execute() = nil, want the auth failure")
	}
	if !provider.IsAuth(err) {
		t.Errorf("classification lost: %v", err)
	}
	if len(report.Results) != 1 {
		t.Errorf("results = %+v, want execution to stop at the auth failure", report.Results)
	}
	if len(ci.calls) != 1 {
		t.Errorf("calls = %v, want no dispatch after the auth failure", ci.calls)
	}
}

func TestExecuteOrdinaryFailureContinues(t *testing.T) {
	t.Parallel()

	ci := &fakeCI{errs: map[string]error{
		"enable:ci.yaml": provider.Errorf(provider.ClassOther, "enable", errors.New("refused")),
	}}
	e, _ := newExecutor(ci)

	p := &plan.Plan{Batches: []plan.Batch{{Actions: []plan.Action{
		plan.EnableWorkflow("ci.yaml"),
		plan.Rerun("2"),
	}}}}

	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Results[0].Outcome != executor.OutcomeFailed {
		t.Errorf("first = %+v, want failed", report.Results[0])
	}
	if !strings.Contains(report.Results[0].Error, "refused") {
		t.Errorf("Error = %q", report.Results[0].Error)
	}
	if report.Results[1].Outcome != executor.OutcomeApplied {
		t.Errorf("second = %+v, want applied despite the earlier failure", report.Results[1])
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	ci := &fakeCI{failFirst: map[string]error{
		"rerun:1": provider.Errorf(provider.ClassUnavailable, "rerun", errors.New("502")),
	}}
	e, _ := newExecutor(ci)

	p := &plan.Plan{Batches: []plan.Batch{{Actions: []plan.Action{plan.Rerun("1")}}}}
	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Results[0].Outcome != executor.OutcomeApplied {
		t.Errorf("result = %+v, want applied after retry", report.Results[0])
	}
	if report.Results[0].Retries != 1 {
		t.Errorf("retries = %d, want 1", report.Results[0].Retries)
	}
	if len(ci.calls) != 2 {
		t.Errorf("calls = %v, want the original dispatch plus one retry", ci.calls)
	}
}

func TestExecuteReportsRetryCountOnExhaustion(t *testing.T) {
	t.Parallel()

	ci := &fakeCI{errs: map[string]error{
		"rerun:1": provider.Errorf(provider.ClassUnavailable, "rerun", errors.New("503")),
	}}
	e, _ := newExecutor(ci)

	p := &plan.Plan{Batches: []plan.Batch{{Actions: []plan.Action{plan.Rerun("1")}}}}
	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != executor.OutcomeFailed {
		t.Fatalf("result = %+v, want failed after exhausting retries", res)
	}
	if res.Retries != 2 {
		t.Errorf("retries = %d, want the configured maximum of 2", res.Retries)
	}
	if len(ci.calls) != 3 {
		t.Errorf("calls = %v, want the initial dispatch plus two retries", ci.calls)
	}
}

func TestExecuteDryRun(t *testing.T) {
	t.Parallel()

	ci := &fakeCI{}
	e, led := newExecutor(ci, executor.WithDryRun(true))

	p := &plan.Plan{Batches: []plan.Batch{{Actions: []plan.Action{
		plan.Rerun("1"),
		plan.DisableWorkflow("ci.yaml"),
	}}}}

	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ci.calls) != 0 {
		t.Errorf("calls = %v, want none in dry-run", ci.calls)
	}
	for _, res := range report.Results {
		if res.Outcome != executor.OutcomeSkipped || res.Reason != executor.ReasonDryRun {
			t.Errorf("%s = %+v, want dry-run skip", res.Action, res)
		}
	}
	if led.AppliedCount() != 0 {
		t.Errorf("dry-run recorded %d actions in the ledger", led.AppliedCount())
	}
}

func TestExecuteApplyPatchWithoutPatcher(t *testing.T) {
	t.Parallel()

	e, _ := newExecutor(&fakeCI{})
	p := &plan.Plan{
		Batches: []plan.Batch{{Actions: []plan.Action{plan.ApplyPatch("main.go")}}},
		Patches: map[string]plan.Patch{"main.go": {Filename: "main.go", Diff: "x"}},
	}
	report, err := e.Execute(context.Background(), "deadbeef", p)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Results[0].Outcome != executor.OutcomeFailed {
		t.Errorf("result = %+v, want failure without a worktree", report.Results[0])
	}
	if !strings.Contains(report.Results[0].Error, "no worktree") {
		t.Errorf("Error = %q", report.Results[0].Error)
	}
}

func TestExecuteEmptyPlan(t *testing.T) {
	t.Parallel()

	e, led := newExecutor(&fakeCI{})
	report, err := e.Execute(context.Background(), "deadbeef", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("results = %+v, want none", report.Results)
	}
	if led.Epoch() != 0 {
		t.Errorf("empty plan advanced the epoch to %d", led.Epoch())
	}
}
