/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package loop_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/executor"
	"chainguard.dev/checkmend/executor/retry"
	"chainguard.dev/checkmend/ledger"
	"chainguard.dev/checkmend/loop"
	"chainguard.dev/checkmend/observer"
	"chainguard.dev/checkmend/oracle"
	"chainguard.dev/checkmend/plan"
	"chainguard.dev/checkmend/provider"
	"chainguard.dev/checkmend/validate"
	"github.com/google/go-cmp/cmp"
)

// scriptedProvider serves a fixed sequence of snapshots, one per
// observation, holding the last once the script runs out. Mutations are
// recorded in call order.
type scriptedProvider struct {
	snapshots  [][]checks.CheckRun
	served     int
	revisions  []string
	listErr    error
	actions    []string
	actionErr  map[string]error
	stuck      int
	stuckCalls int

	// cancelOn fires cancel in the middle of the named mutation, the way
	// an interrupt lands while an action is in flight.
	cancelOn string
	cancel   context.CancelFunc
}

func (p *scriptedProvider) ListCheckRuns(ctx context.Context, revision string) ([]checks.CheckRun, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	p.revisions = append(p.revisions, revision)
	i := min(p.served, len(p.snapshots)-1)
	p.served++
	return slices.Clone(p.snapshots[i]), nil
}

func (p *scriptedProvider) CheckDetail(ctx context.Context, runID string) (checks.CheckRun, error) {
	i := max(0, min(p.served-1, len(p.snapshots)-1))
	for _, run := range p.snapshots[i] {
		if run.ID == runID {
			return run, nil
		}
	}
	return checks.CheckRun{}, provider.Errorf(provider.ClassNotFound, "check detail", fmt.Errorf("no run %s", runID))
}

func (p *scriptedProvider) ResolvePullRequest(ctx context.Context, number int) (string, string, error) {
	return "", "", errors.New("unexpected ResolvePullRequest")
}

func (p *scriptedProvider) mutate(key string) error {
	if p.cancelOn == key && p.cancel != nil {
		p.cancel()
	}
	p.actions = append(p.actions, key)
	return p.actionErr[key]
}

func (p *scriptedProvider) Rerun(ctx context.Context, runID string) error {
	return p.mutate("rerun:" + runID)
}

func (p *scriptedProvider) Approve(ctx context.Context, runID string) error {
	return p.mutate("approve:" + runID)
}

func (p *scriptedProvider) RerunAllFailed(ctx context.Context, revision string) error {
	return p.mutate("rerun-all-failed")
}

func (p *scriptedProvider) EnableWorkflow(ctx context.Context, path string) error {
	return p.mutate("enable:" + path)
}

func (p *scriptedProvider) DisableWorkflow(ctx context.Context, path string) error {
	return p.mutate("disable:" + path)
}

func (p *scriptedProvider) CancelStuckRuns(ctx context.Context, revision string, olderThan time.Duration) (int, error) {
	p.stuckCalls++
	return p.stuck, nil
}

type planStep struct {
	plan *plan.Plan
	err  error
}

// scriptedPlanner replays a fixed sequence of oracle responses, holding the
// last once the script runs out, and records every request it saw.
type scriptedPlanner struct {
	steps []planStep
	reqs  []*oracle.Request
}

func (p *scriptedPlanner) Plan(ctx context.Context, req *oracle.Request) (*plan.Plan, error) {
	p.reqs = append(p.reqs, req)
	step := p.steps[min(len(p.reqs)-1, len(p.steps)-1)]
	return step.plan, step.err
}

// cancellingPlanner cancels the run's context while producing its answer,
// the way an interrupt lands between phases.
type cancellingPlanner struct {
	cancel context.CancelFunc
	inner  *plan.Plan
}

func (p *cancellingPlanner) Plan(ctx context.Context, req *oracle.Request) (*plan.Plan, error) {
	p.cancel()
	return p.inner, nil
}

// stallingPlanner never answers before its context expires.
type stallingPlanner struct{}

func (stallingPlanner) Plan(ctx context.Context, _ *oracle.Request) (*plan.Plan, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakePusher struct {
	pushed []string
	head   string
}

func (f *fakePusher) ApplyAndPush(ctx context.Context, patch plan.Patch, summary string) (string, error) {
	f.pushed = append(f.pushed, patch.Filename+"|"+summary)
	return f.head, nil
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func failing(id, name string) checks.CheckRun {
	return checks.CheckRun{ID: id, Name: name, Status: checks.StatusCompleted, Conclusion: checks.ConclusionFailure, Attempt: 1}
}

func blocked(id, name string) checks.CheckRun {
	return checks.CheckRun{ID: id, Name: name, Status: checks.StatusCompleted, Conclusion: checks.ConclusionActionRequired, Attempt: 1}
}

func green(id, name string) checks.CheckRun {
	return checks.CheckRun{ID: id, Name: name, Status: checks.StatusCompleted, Conclusion: checks.ConclusionSuccess, Attempt: 1}
}

func running(id, name string) checks.CheckRun {
	return checks.CheckRun{ID: id, Name: name, Status: checks.StatusInProgress, Attempt: 1}
}

// newLoop wires a loop over scripted collaborators. Production defaults are
// minute-scale, so every test pins a short sleep.
func newLoop(t *testing.T, cfg loop.Config, prov *scriptedProvider, planner oracle.Planner, opts ...executor.Option) *loop.Loop {
	t.Helper()
	if cfg.Sleep == 0 {
		cfg.Sleep = time.Millisecond
	}
	led := ledger.New()
	execOpts := append([]executor.Option{executor.WithRetry(fastRetry())}, opts...)
	l, err := loop.New(cfg, loop.Deps{
		Observer: observer.New(prov, observer.WithRetry(fastRetry())),
		Planner:  planner,
		Executor: executor.New(prov, led, execOpts...),
		Ledger:   led,
		Provider: prov,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

const mainGoDiff = "diff --git a/main.go b/main.go\n" +
	"--- a/main.go\n" +
	"+++ b/main.go\n" +
	"@@ -1,1 +1,1 @@\n" +
	"-old\n" +
	"+new\n"

func TestRunConvergesEndToEnd(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{snapshots: [][]checks.CheckRun{
		{failing("A", "unit"), blocked("B", "lint"), green("C", "docs")},
		{running("A", "unit"), green("B", "lint"), green("C", "docs")},
		{green("A", "unit"), green("B", "lint"), green("C", "docs")},
	}}
	planner := &scriptedPlanner{steps: []planStep{
		{plan: &plan.Plan{
			Batches:       []plan.Batch{{Name: "unblock", Actions: []plan.Action{plan.Rerun("A"), plan.Approve("B")}}},
			StopCondition: plan.StopAllGreen,
		}},
		{err: fmt.Errorf("posting plan request: %w", oracle.ErrUnavailable)},
	}}

	l := newLoop(t, loop.Config{Goal: "make CI green"}, prov, planner)
	trail := l.Run(context.Background(), "rev-1")

	if trail.Outcome != loop.OutcomeConverged {
		t.Fatalf("Outcome = %s, want converged", trail.Outcome)
	}
	if got := trail.ExitCode(); got != 0 {
		t.Errorf("ExitCode() = %d, want 0", got)
	}
	if len(trail.Iterations) != 3 {
		t.Fatalf("got %d iterations, want 3", len(trail.Iterations))
	}

	// Approval outranks rerunning regardless of the order the oracle
	// wrote the actions.
	if diff := cmp.Diff([]string{"approve:B", "rerun:A"}, prov.actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}

	recs := trail.Iterations
	if recs[0].Outcome != loop.OutcomeContinue || recs[1].Outcome != loop.OutcomeContinue {
		t.Errorf("early outcomes = %s, %s, want continue", recs[0].Outcome, recs[1].Outcome)
	}
	if recs[2].Outcome != loop.OutcomeConverged {
		t.Errorf("final outcome = %s, want converged", recs[2].Outcome)
	}
	if recs[0].PlanSource != "oracle" || recs[0].Plan == nil {
		t.Errorf("iteration 1 plan source = %q (plan nil: %t), want oracle", recs[0].PlanSource, recs[0].Plan == nil)
	}
	if recs[1].PlanSource != "fallback" || recs[1].Plan != nil {
		t.Errorf("iteration 2 plan source = %q (plan nil: %t), want fallback with no oracle plan", recs[1].PlanSource, recs[1].Plan == nil)
	}
	// Nothing was failing or blocked in iteration 2, so the fallback had
	// nothing to offer and the iteration just waited.
	if len(recs[1].Results) != 0 {
		t.Errorf("iteration 2 results = %v, want none", recs[1].Results)
	}
	if !slices.Contains(recs[1].Validation, "plan has no actions") {
		t.Errorf("iteration 2 validation = %v, want empty-plan rejection", recs[1].Validation)
	}
	if len(recs[0].Results) != 2 {
		t.Errorf("iteration 1 results = %v, want 2", recs[0].Results)
	}
	if len(recs[0].Transitions) != 3 {
		t.Errorf("iteration 1 transitions = %v, want one per new check", recs[0].Transitions)
	}
	if recs[2].Tally.Green != 3 {
		t.Errorf("final tally = %s, want 3 green", recs[2].Tally)
	}

	// The second request carries the first iteration's digest; the
	// converged observation never consults the oracle at all.
	if len(planner.reqs) != 2 {
		t.Fatalf("planner saw %d requests, want 2", len(planner.reqs))
	}
	if planner.reqs[0].Goal != "make CI green" {
		t.Errorf("Goal = %q", planner.reqs[0].Goal)
	}
	if len(planner.reqs[0].History) != 0 {
		t.Errorf("first request history = %v, want none", planner.reqs[0].History)
	}
	hist := planner.reqs[1].History
	if len(hist) != 1 || hist[0].Iteration != 1 {
		t.Fatalf("second request history = %+v, want the first iteration", hist)
	}
	if diff := cmp.Diff([]string{"approve:B=applied", "rerun:A=applied"}, hist[0].Actions); diff != "" {
		t.Errorf("history actions mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDegradesRejectedPlanToFallback(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{snapshots: [][]checks.CheckRun{
		{failing("A", "unit")},
		{green("A", "unit")},
	}}
	planner := &scriptedPlanner{steps: []planStep{
		{plan: &plan.Plan{Batches: []plan.Batch{{
			Actions: []plan.Action{plan.DisableWorkflow(".github/workflows/ci.yaml")},
		}}}},
	}}

	l := newLoop(t, loop.Config{
		Policy: &validate.Policy{ProtectedWorkflows: []string{"ci.yaml"}},
	}, prov, planner)
	trail := l.Run(context.Background(), "rev-1")

	if trail.Outcome != loop.OutcomeConverged {
		t.Fatalf("Outcome = %s, want converged", trail.Outcome)
	}
	if diff := cmp.Diff([]string{"rerun:A"}, prov.actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}

	rec := trail.Iterations[0]
	if rec.PlanSource != "fallback" {
		t.Errorf("plan source = %q, want fallback", rec.PlanSource)
	}
	if rec.Plan == nil {
		t.Error("the rejected oracle plan should stay on the record")
	}
	var protected bool
	for _, reason := range rec.Validation {
		protected = protected || strings.Contains(reason, "protected by policy")
	}
	if !protected {
		t.Errorf("validation = %v, want a protected-workflow rejection", rec.Validation)
	}
}

func TestRunRetargetsObservationAfterPatch(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{snapshots: [][]checks.CheckRun{
		{failing("A", "unit")},
		{green("A", "unit")},
	}}
	planner := &scriptedPlanner{steps: []planStep{
		{plan: &plan.Plan{
			Batches: []plan.Batch{{Name: "fix typo", Actions: []plan.Action{plan.ApplyPatch("main.go")}}},
			Patches: map[string]plan.Patch{"main.go": {Filename: "main.go", Diff: mainGoDiff}},
		}},
		{err: oracle.ErrUnavailable},
	}}
	pusher := &fakePusher{head: "rev-2"}

	l := newLoop(t, loop.Config{}, prov, planner, executor.WithPatcher(pusher))
	trail := l.Run(context.Background(), "rev-1")

	if trail.Outcome != loop.OutcomeConverged {
		t.Fatalf("Outcome = %s, want converged", trail.Outcome)
	}
	if diff := cmp.Diff([]string{"main.go|fix typo"}, pusher.pushed); diff != "" {
		t.Errorf("pushed mismatch (-want +got):\n%s", diff)
	}
	// The follow-up observation reads the new head the push produced.
	if diff := cmp.Diff([]string{"rev-1", "rev-2"}, prov.revisions); diff != "" {
		t.Errorf("observed revisions mismatch (-want +got):\n%s", diff)
	}
	if trail.Revision != "rev-2" {
		t.Errorf("trail revision = %q, want rev-2", trail.Revision)
	}
	if got := trail.Iterations[1].Revision; got != "rev-2" {
		t.Errorf("iteration 2 revision = %q, want rev-2", got)
	}
}

func TestRunExhaustsAtIterationBudget(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{snapshots: [][]checks.CheckRun{
		{failing("A", "unit")},
	}}
	planner := &scriptedPlanner{steps: []planStep{
		{err: oracle.ErrUnavailable},
	}}

	l := newLoop(t, loop.Config{MaxIterations: 3}, prov, planner)
	trail := l.Run(context.Background(), "rev-1")

	if trail.Outcome != loop.OutcomeExhausted {
		t.Fatalf("Outcome = %s, want exhausted", trail.Outcome)
	}
	if got := trail.ExitCode(); got != 2 {
		t.Errorf("ExitCode() = %d, want 2", got)
	}
	if len(trail.Iterations) != 3 {
		t.Fatalf("got %d iterations, want exactly 3", len(trail.Iterations))
	}
	for i, rec := range trail.Iterations[:2] {
		if rec.Outcome != loop.OutcomeContinue {
			t.Errorf("iteration %d outcome = %s, want continue", i+1, rec.Outcome)
		}
	}
	if got := trail.Iterations[2].Outcome; got != loop.OutcomeExhausted {
		t.Errorf("final iteration outcome = %s, want exhausted", got)
	}
	// The dedup ledger is scoped per plan, so every iteration's fallback
	// keeps nudging the same failed check.
	if diff := cmp.Diff([]string{"rerun:A", "rerun:A", "rerun:A"}, prov.actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFallsBackWhenPlannerStalls(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{snapshots: [][]checks.CheckRun{
		{failing("A", "unit")},
	}}

	// The stalled call burns only its own timeout, not the run budget, and
	// degrades to the fallback plan like any other unavailability.
	l := newLoop(t, loop.Config{MaxIterations: 1, PlanTimeout: time.Millisecond}, prov, stallingPlanner{})
	trail := l.Run(context.Background(), "rev-1")

	if trail.Outcome != loop.OutcomeExhausted {
		t.Fatalf("Outcome = %s, want exhausted after the single iteration", trail.Outcome)
	}
	rec := trail.Iterations[0]
	if rec.PlanSource != "fallback" {
		t.Errorf("PlanSource = %q, want fallback", rec.PlanSource)
	}
	if rec.Plan != nil {
		t.Errorf("Plan = %+v, want nil when the oracle never answered", rec.Plan)
	}
	if diff := cmp.Diff([]string{"rerun:A"}, prov.actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestRunExhaustsWhenTimeBudgetExpires(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{snapshots: [][]checks.CheckRun{
		{failing("A", "unit")},
	}}
	planner := &scriptedPlanner{steps: []planStep{
		{err: oracle.ErrUnavailable},
	}}

	l := newLoop(t, loop.Config{
		MaxIterations: 100,
		TimeBudget:    10 * time.Millisecond,
		Sleep:         200 * time.Millisecond,
	}, prov, planner)
	trail := l.Run(context.Background(), "rev-1")

	if trail.Outcome != loop.OutcomeExhausted {
		t.Fatalf("Outcome = %s, want exhausted", trail.Outcome)
	}
	if got := trail.ExitCode(); got != 2 {
		t.Errorf("ExitCode() = %d, want 2", got)
	}
	if len(trail.Iterations) == 0 {
		t.Fatal("want at least one iteration on the trail")
	}
}

func TestRunFatalWhenObservationFails(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{
		listErr: provider.Errorf(provider.ClassAuth, "listing checks", errors.New("bad credentials")),
	}
	planner := &scriptedPlanner{steps: []planStep{{err: oracle.ErrUnavailable}}}

	l := newLoop(t, loop.Config{}, prov, planner)
	trail := l.Run(context.Background(), "rev-1")

	if trail.Outcome != loop.OutcomeFatal {
		t.Fatalf("Outcome = %s, want fatal", trail.Outcome)
	}
	if got := trail.ExitCode(); got != 1 {
		t.Errorf("ExitCode() = %d, want 1", got)
	}
	if len(trail.Iterations) != 1 {
		t.Fatalf("got %d iterations, want 1", len(trail.Iterations))
	}
	if got := trail.Iterations[0].Outcome; got != loop.OutcomeFatal {
		t.Errorf("iteration outcome = %s, want fatal", got)
	}
	if !strings.Contains(trail.Failure, "bad credentials") {
		t.Errorf("Failure = %q, want the causing error", trail.Failure)
	}
	if len(planner.reqs) != 0 {
		t.Errorf("planner saw %d requests, want none on unobservable state", len(planner.reqs))
	}
}

func TestRunFatalWhenExecutionAborts(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{
		snapshots: [][]checks.CheckRun{{blocked("B", "lint")}},
		actionErr: map[string]error{
			"approve:B": provider.Errorf(provider.ClassAuth, "approving run", errors.New("token expired")),
		},
	}
	planner := &scriptedPlanner{steps: []planStep{{err: oracle.ErrUnavailable}}}

	l := newLoop(t, loop.Config{}, prov, planner)
	trail := l.Run(context.Background(), "rev-1")

	if trail.Outcome != loop.OutcomeFatal {
		t.Fatalf("Outcome = %s, want fatal", trail.Outcome)
	}
	if !strings.Contains(trail.Failure, "execution aborted") {
		t.Errorf("Failure = %q, want the execution abort", trail.Failure)
	}
	rec := trail.Iterations[0]
	if len(rec.Results) != 1 || rec.Results[0].Outcome != executor.OutcomeFailed {
		t.Errorf("results = %+v, want the single failed approval", rec.Results)
	}
}

func TestRunCancelledBetweenPhases(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{snapshots: [][]checks.CheckRun{
		{failing("A", "unit")},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	planner := &cancellingPlanner{cancel: cancel, inner: &plan.Plan{
		Batches: []plan.Batch{{Actions: []plan.Action{plan.Rerun("A")}}},
	}}

	l := newLoop(t, loop.Config{}, prov, planner)
	trail := l.Run(ctx, "rev-1")

	if trail.Outcome != loop.OutcomeCancelled {
		t.Fatalf("Outcome = %s, want cancelled", trail.Outcome)
	}
	if got := trail.ExitCode(); got != 3 {
		t.Errorf("ExitCode() = %d, want 3", got)
	}
	if len(prov.actions) != 0 {
		t.Errorf("actions = %v, want none after a pre-validation interrupt", prov.actions)
	}
	if got := trail.Iterations[0].Outcome; got != loop.OutcomeCancelled {
		t.Errorf("iteration outcome = %s, want cancelled", got)
	}
}

func TestRunCancelledMidExecutionKeepsFinishedAction(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prov := &scriptedProvider{
		snapshots: [][]checks.CheckRun{
			{failing("A", "unit"), blocked("B", "lint")},
		},
		cancelOn: "approve:B",
		cancel:   cancel,
	}
	planner := &scriptedPlanner{steps: []planStep{
		{plan: &plan.Plan{Batches: []plan.Batch{{
			Actions: []plan.Action{plan.Rerun("A"), plan.Approve("B")},
		}}}},
	}}

	l := newLoop(t, loop.Config{}, prov, planner)
	trail := l.Run(ctx, "rev-1")

	if trail.Outcome != loop.OutcomeCancelled {
		t.Fatalf("Outcome = %s, want cancelled", trail.Outcome)
	}
	// The approval was in flight when the interrupt landed, so it ran to
	// completion; the rerun behind it never started.
	if diff := cmp.Diff([]string{"approve:B"}, prov.actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	rec := trail.Iterations[0]
	if len(rec.Results) != 1 || rec.Results[0].Outcome != executor.OutcomeApplied {
		t.Errorf("results = %+v, want the finished approval on the record", rec.Results)
	}
}

func TestRunWatchdogSweepsBeforeObserving(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{
		snapshots: [][]checks.CheckRun{{green("A", "unit")}},
		stuck:     2,
	}
	planner := &scriptedPlanner{steps: []planStep{{err: oracle.ErrUnavailable}}}

	l := newLoop(t, loop.Config{StuckRunThreshold: time.Hour}, prov, planner)
	trail := l.Run(context.Background(), "rev-1")

	if trail.Outcome != loop.OutcomeConverged {
		t.Fatalf("Outcome = %s, want converged", trail.Outcome)
	}
	if prov.stuckCalls != 1 {
		t.Errorf("stuck-run sweeps = %d, want 1", prov.stuckCalls)
	}
	if len(planner.reqs) != 0 {
		t.Errorf("planner saw %d requests, want none for a green revision", len(planner.reqs))
	}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()
	prov := &scriptedProvider{snapshots: [][]checks.CheckRun{{green("A", "unit")}}}
	led := ledger.New()
	full := loop.Deps{
		Observer: observer.New(prov),
		Planner:  &scriptedPlanner{steps: []planStep{{err: oracle.ErrUnavailable}}},
		Executor: executor.New(prov, led),
		Ledger:   led,
		Provider: prov,
	}

	tests := []struct {
		name   string
		cfg    loop.Config
		mutate func(*loop.Deps)
		want   string
	}{{
		name:   "no observer",
		mutate: func(d *loop.Deps) { d.Observer = nil },
		want:   "observer",
	}, {
		name:   "no planner",
		mutate: func(d *loop.Deps) { d.Planner = nil },
		want:   "planner",
	}, {
		name:   "no executor",
		mutate: func(d *loop.Deps) { d.Executor = nil },
		want:   "executor",
	}, {
		name:   "no ledger",
		mutate: func(d *loop.Deps) { d.Ledger = nil },
		want:   "ledger",
	}, {
		name:   "watchdog without provider",
		cfg:    loop.Config{StuckRunThreshold: time.Hour},
		mutate: func(d *loop.Deps) { d.Provider = nil },
		want:   "watchdog",
	}}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			deps := full
			tc.mutate(&deps)
			if _, err := loop.New(tc.cfg, deps); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("New() error = %v, want mention of %q", err, tc.want)
			}
		})
	}

	if _, err := loop.New(loop.Config{}, full); err != nil {
		t.Errorf("New() with full deps: %v", err)
	}
}
