/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package loop drives the remediation control loop: observe check state,
// obtain a plan, validate it, execute it, sleep, and repeat until the
// revision converges or a budget runs out. Convergence is decided only by
// re-observation, never by trusting a plan's stop condition.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/checkmend/executor"
	"chainguard.dev/checkmend/ledger"
	"chainguard.dev/checkmend/metrics"
	"chainguard.dev/checkmend/observer"
	"chainguard.dev/checkmend/oracle"
	"chainguard.dev/checkmend/plan"
	"chainguard.dev/checkmend/provider"
	"chainguard.dev/checkmend/validate"
)

const (
	defaultMaxIterations = 12
	defaultSleep         = time.Minute
	defaultTimeBudget    = 45 * time.Minute
	defaultPlanTimeout   = 2 * time.Minute
	defaultHistoryDepth  = 3
)

// Plan sources recorded on iteration records and metrics.
const (
	planSourceOracle   = "oracle"
	planSourceFallback = "fallback"
)

// State names a phase of the control loop.
type State string

const (
	StateInitializing State = "initializing"
	StateObserving    State = "observing"
	StatePlanning     State = "planning"
	StateValidating   State = "validating"
	StateExecuting    State = "executing"
	StateSleeping     State = "sleeping"

	// Terminal states carry the name of the outcome that ends the run
	// there, so the loop can step to State(outcome) when it finishes.
	StateConverged State = State(OutcomeConverged)
	StateExhausted State = State(OutcomeExhausted)
	StateFatal     State = State(OutcomeFatal)
	StateCancelled State = State(OutcomeCancelled)
)

// transitions enumerates every legal state move. The loop consults it on
// each step, so a control-flow bug cannot silently skip a phase. Converged
// is reachable only from Observing: the run may be declared green solely on
// fresh evidence. Terminal states have no exits.
var transitions = map[State][]State{
	StateInitializing: {StateObserving, StateExhausted, StateFatal, StateCancelled},
	StateObserving:    {StatePlanning, StateConverged, StateExhausted, StateFatal, StateCancelled},
	StatePlanning:     {StateValidating, StateExhausted, StateFatal, StateCancelled},
	StateValidating:   {StateExecuting, StateExhausted, StateFatal, StateCancelled},
	StateExecuting:    {StateSleeping, StateExhausted, StateFatal, StateCancelled},
	StateSleeping:     {StateObserving, StateExhausted, StateFatal, StateCancelled},
}

func legalTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Config bounds a remediation run. The zero value of every field selects
// a sensible default, except StuckRunThreshold which defaults to off.
type Config struct {
	// Goal is a short statement of intent passed to the planner.
	Goal string

	// MaxIterations caps how many observe/plan/execute rounds may run.
	// Zero means 12.
	MaxIterations int

	// Sleep is the settle time between iterations, giving the provider a
	// chance to reflect the actions just taken. Zero means one minute.
	Sleep time.Duration

	// TimeBudget is the wall-clock cap for the whole run. Zero means 45
	// minutes.
	TimeBudget time.Duration

	// PlanTimeout bounds a single oracle call. An expired call counts as
	// oracle unavailability, not a terminal outcome. Zero means two
	// minutes.
	PlanTimeout time.Duration

	// StuckRunThreshold, when positive, cancels queued or in-progress
	// runs older than this before each observation.
	StuckRunThreshold time.Duration

	// HistoryDepth caps how many past iterations the planner sees.
	// Zero means 3.
	HistoryDepth int

	// Policy constrains which plans are accepted. Nil permits everything.
	Policy *validate.Policy
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.Sleep <= 0 {
		c.Sleep = defaultSleep
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = defaultTimeBudget
	}
	if c.PlanTimeout <= 0 {
		c.PlanTimeout = defaultPlanTimeout
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = defaultHistoryDepth
	}
	return c
}

// Deps are the collaborators the loop drives. Observer, Planner, Executor
// and Ledger are required; Provider is needed only when the stuck-run
// watchdog is enabled.
type Deps struct {
	Observer *observer.Observer
	Planner  oracle.Planner
	Executor *executor.Executor
	Ledger   *ledger.Ledger
	Provider provider.Interface
}

// Loop runs the remediation state machine for a single revision. A Loop is
// single-use: build a fresh one for each run.
type Loop struct {
	cfg     Config
	deps    Deps
	state   State
	history []oracle.Exchange
	failure error
}

// New builds a Loop from its configuration and collaborators.
func New(cfg Config, deps Deps) (*Loop, error) {
	switch {
	case deps.Observer == nil:
		return nil, errors.New("loop: observer is required")
	case deps.Planner == nil:
		return nil, errors.New("loop: planner is required")
	case deps.Executor == nil:
		return nil, errors.New("loop: executor is required")
	case deps.Ledger == nil:
		return nil, errors.New("loop: ledger is required")
	}
	cfg = cfg.withDefaults()
	if cfg.StuckRunThreshold > 0 && deps.Provider == nil {
		return nil, errors.New("loop: stuck-run watchdog requires a provider")
	}
	return &Loop{
		cfg:   cfg,
		deps:  deps,
		state: StateInitializing,
	}, nil
}

// Run drives the loop to a terminal outcome. The returned trail holds every
// iteration that ran, whichever way the run ended, and is never nil.
func (l *Loop) Run(ctx context.Context, revision string) *Trail {
	trail := &Trail{
		Revision: revision,
		Goal:     l.cfg.Goal,
		Started:  time.Now(),
	}
	defer func() {
		trail.Finished = time.Now()
		metrics.RecordOutcome(string(trail.Outcome))
	}()

	// The time budget rides on the context so an overrun interrupts the
	// phase in flight instead of waiting for the next transition.
	ctx, cancel := context.WithTimeout(ctx, l.cfg.TimeBudget)
	defer cancel()

	log := clog.FromContext(ctx).With("revision", revision)
	log.With(
		"max_iterations", l.cfg.MaxIterations,
		"time_budget", l.cfg.TimeBudget.String(),
		"sleep", l.cfg.Sleep.String(),
	).Info("Starting remediation")

	for i := 1; ; i++ {
		rec, out := l.iterate(ctx, i, &revision)
		if !out.Terminal() && i >= l.cfg.MaxIterations {
			log.Infof("Iteration budget of %d spent without convergence", l.cfg.MaxIterations)
			out = OutcomeExhausted
		}
		if out.Terminal() {
			rec.Outcome = out
		} else {
			rec.Outcome = OutcomeContinue
		}
		trail.Iterations = append(trail.Iterations, rec)
		trail.Revision = revision
		if out.Terminal() {
			return l.finish(ctx, trail, out)
		}
		l.pushHistory(rec)

		if term := l.advance(ctx, StateSleeping); term.Terminal() {
			return l.finish(ctx, trail, term)
		}
		if err := sleepOrCancel(ctx, l.cfg.Sleep); err != nil {
			return l.finish(ctx, trail, outcomeForContext(err))
		}
	}
}

// iterate runs one observe/plan/validate/execute round. It returns the
// iteration's record and either a terminal outcome or OutcomeContinue.
// revision is updated in place when a patch advances the branch head.
func (l *Loop) iterate(ctx context.Context, i int, revision *string) (IterationRecord, Outcome) {
	rec := IterationRecord{
		Iteration: i,
		Started:   time.Now(),
		Revision:  *revision,
	}
	log := clog.FromContext(ctx).With("iteration", i)
	metrics.RecordIteration()

	// Observing.
	if out := l.advance(ctx, StateObserving); out.Terminal() {
		return rec, out
	}
	if l.cfg.StuckRunThreshold > 0 {
		n, err := l.deps.Provider.CancelStuckRuns(ctx, *revision, l.cfg.StuckRunThreshold)
		if err != nil {
			log.Warnf("Stuck-run sweep: %v", err)
		}
		if n > 0 {
			log.Infof("Cancelled %d stuck runs before observing", n)
		}
	}
	snap, err := l.deps.Observer.Observe(ctx, *revision)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, outcomeForContext(ctxErr)
		}
		// Acting on unknown state risks wrong remediation, so an
		// unobservable provider ends the run.
		l.fail(fmt.Errorf("observation failed: %w", err))
		log.Errorf("Observation failed, stopping: %v", err)
		return rec, OutcomeFatal
	}
	rec.Observed = snap
	rec.Tally = snap.Tally()
	metrics.RecordTally(rec.Tally)
	rec.Transitions = l.deps.Ledger.RecordSnapshot(snap)
	for _, change := range rec.Transitions {
		log.Infof("Check transition: %s", change)
	}
	if snap.AllGreen() {
		log.With("tally", rec.Tally.String()).Info("All checks green")
		return rec, OutcomeConverged
	}

	// Planning.
	if out := l.advance(ctx, StatePlanning); out.Terminal() {
		return rec, out
	}
	pctx, pcancel := context.WithTimeout(ctx, l.cfg.PlanTimeout)
	p, err := l.deps.Planner.Plan(pctx, &oracle.Request{
		Snapshot: snap,
		History:  l.history,
		Goal:     l.cfg.Goal,
	})
	pcancel()
	switch {
	case err == nil:
		rec.Plan = p
		rec.PlanSource = planSourceOracle
		log.With("actions", p.ActionCount()).Info("Oracle returned a plan")
	case ctx.Err() != nil:
		return rec, outcomeForContext(ctx.Err())
	default:
		// An unreachable oracle never stalls remediation. The fallback
		// reruns what failed and approves what is blocked.
		log.Warnf("Oracle unavailable, using fallback plan: %v", err)
		p = plan.Fallback(snap)
		rec.PlanSource = planSourceFallback
	}
	metrics.RecordPlan(rec.PlanSource)

	// Validating.
	if out := l.advance(ctx, StateValidating); out.Terminal() {
		return rec, out
	}
	vres := validate.Validate(p, l.cfg.Policy)
	rec.Validation = vres.Reasons
	for _, reason := range vres.Reasons {
		log.Warnf("Validator: %s", reason)
	}
	if vres.Rejected() && rec.PlanSource == planSourceOracle {
		// A rejected oracle plan degrades to the same fallback an absent
		// oracle gets, rather than stalling the iteration.
		log.Warn("Plan rejected, degrading to fallback")
		rec.PlanSource = planSourceFallback
		metrics.RecordPlan(planSourceFallback)
		vres = validate.Validate(plan.Fallback(snap), l.cfg.Policy)
		rec.Validation = append(rec.Validation, vres.Reasons...)
	}

	// Executing. A nil plan is fine here: the executor treats it as an
	// empty plan, and the iteration just waits for pending checks.
	if out := l.advance(ctx, StateExecuting); out.Terminal() {
		return rec, out
	}
	report, err := l.deps.Executor.Execute(ctx, *revision, vres.Plan)
	rec.Results = report.Results
	for _, res := range report.Results {
		metrics.RecordAction(string(res.Action.Kind), string(res.Outcome))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, outcomeForContext(ctxErr)
		}
		l.fail(fmt.Errorf("execution aborted: %w", err))
		log.Errorf("Execution aborted, stopping: %v", err)
		return rec, OutcomeFatal
	}
	if report.NewHead != "" && report.NewHead != *revision {
		log.Infof("Branch head advanced to %s after patch", report.NewHead)
		*revision = report.NewHead
	}
	if report.Stale {
		log.Info("Plan referenced stale provider state, next observation rebuilds it")
	}
	log.With("report", report.String()).Info("Iteration executed")
	return rec, OutcomeContinue
}

// advance moves the machine to the next state. Cancellation is honored
// before the step so an interrupt never waits on another provider call.
func (l *Loop) advance(ctx context.Context, to State) Outcome {
	if err := ctx.Err(); err != nil {
		return outcomeForContext(err)
	}
	if err := l.step(to); err != nil {
		l.fail(err)
		return OutcomeFatal
	}
	return OutcomeContinue
}

func (l *Loop) step(to State) error {
	if !legalTransition(l.state, to) {
		return fmt.Errorf("illegal transition %s -> %s", l.state, to)
	}
	l.state = to
	return nil
}

// finish seals the trail with the terminal outcome and lands the machine on
// the matching terminal state.
func (l *Loop) finish(ctx context.Context, trail *Trail, out Outcome) *Trail {
	log := clog.FromContext(ctx)
	if err := l.step(State(out)); err != nil {
		// Every working state may reach every terminal state except
		// Converged, which only Observing grants.
		log.Errorf("State machine refused terminal %s: %v", out, err)
	}
	trail.Outcome = out
	if l.failure != nil {
		trail.Failure = l.failure.Error()
	}
	if out == OutcomeExhausted {
		log.Info("Budget exhausted, the revision needs manual review")
	}
	log.With("outcome", out, "iterations", len(trail.Iterations)).
		Info("Remediation finished")
	return trail
}

func (l *Loop) fail(err error) {
	if l.failure == nil {
		l.failure = err
	}
}

func (l *Loop) pushHistory(rec IterationRecord) {
	l.history = append(l.history, digest(rec))
	if n := len(l.history); n > l.cfg.HistoryDepth {
		l.history = l.history[n-l.cfg.HistoryDepth:]
	}
}

// outcomeForContext distinguishes an operator interrupt from the time
// budget running out.
func outcomeForContext(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeExhausted
	}
	return OutcomeCancelled
}

// sleepOrCancel waits out the settle interval, returning the context's
// error if the run is interrupted first.
func sleepOrCancel(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
