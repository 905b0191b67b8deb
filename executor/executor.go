/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package executor dispatches validated remediation actions against the CI
// provider, sequentially and in the order the validator left them. Every
// action is checked against the dedup ledger and, where possible, against
// fresh provider state before its side effect is sent.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/checkmend/executor/retry"
	"chainguard.dev/checkmend/ledger"
	"chainguard.dev/checkmend/plan"
	"chainguard.dev/checkmend/provider"
)

// Patcher commits and pushes one patch, returning the new branch head. The
// worktree manager satisfies this.
type Patcher interface {
	ApplyAndPush(ctx context.Context, patch plan.Patch, summary string) (string, error)
}

// Outcome is the disposition of one executed action.
type Outcome string

const (
	// OutcomeApplied means the side effect landed.
	OutcomeApplied Outcome = "applied"
	// OutcomeSkipped means the action was deliberately not dispatched.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means dispatch failed after any retries.
	OutcomeFailed Outcome = "failed"
)

// Skip reasons recorded on results.
const (
	ReasonDryRun         = "dry-run"
	ReasonAlreadyApplied = "already-applied"
	ReasonAlreadyGreen   = "already-green"
	ReasonNotBlocked     = "not-blocked"
	ReasonStale          = "stale-reference"
)

// Result records what happened to one action.
type Result struct {
	Action  plan.Action `json:"action"`
	Outcome Outcome     `json:"outcome"`
	Reason  string      `json:"reason,omitempty"`
	Error   string      `json:"error,omitempty"`
	NewHead string      `json:"new_head,omitempty"`
	// Retries counts the transient failures that were retried before the
	// outcome settled.
	Retries int `json:"retries,omitempty"`

	// fatal carries the error that must abort the whole run.
	fatal error
}

// Report is the outcome of executing one plan.
type Report struct {
	Results []Result `json:"results"`
	// NewHead is the branch head after the last successful patch, empty
	// when no patch landed.
	NewHead string `json:"new_head,omitempty"`
	// Stale reports that at least one action referenced provider state
	// that no longer exists, so the plan was built from an outdated
	// snapshot.
	Stale bool `json:"stale,omitempty"`
}

// Count returns how many results carry the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r *Report) String() string {
	return fmt.Sprintf("applied=%d skipped=%d failed=%d",
		r.Count(OutcomeApplied), r.Count(OutcomeSkipped), r.Count(OutcomeFailed))
}

// Executor runs validated plans. It is scoped to one loop invocation, like
// the ledger it consults.
type Executor struct {
	provider provider.Interface
	ledger   *ledger.Ledger
	patcher  Patcher
	retry    retry.Config
	dryRun   bool
}

// Option adjusts optional Executor behavior.
type Option func(*Executor)

// WithPatcher enables apply-patch actions.
func WithPatcher(p Patcher) Option {
	return func(e *Executor) { e.patcher = p }
}

// WithRetry overrides the per-action retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(e *Executor) { e.retry = cfg }
}

// WithDryRun logs every action instead of dispatching it.
func WithDryRun(dry bool) Option {
	return func(e *Executor) { e.dryRun = dry }
}

// New builds an Executor over a provider and dedup ledger.
func New(p provider.Interface, led *ledger.Ledger, opts ...Option) *Executor {
	e := &Executor{
		provider: p,
		ledger:   led,
		retry:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every batch of a validated plan in order under a fresh plan
// epoch. Individual action failures are recorded and execution continues;
// an authentication failure aborts the remainder and is returned, since
// every further dispatch would act on unknowable state.
func (e *Executor) Execute(ctx context.Context, revision string, p *plan.Plan) (*Report, error) {
	report := &Report{}
	if p == nil || p.Empty() {
		return report, nil
	}

	epoch := e.ledger.BeginEpoch()
	log := clog.FromContext(ctx).With("epoch", epoch)

	for _, batch := range p.Batches {
		for _, action := range batch.Actions {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			res := e.executeAction(ctx, revision, p, batch, action)
			report.Results = append(report.Results, res)
			switch res.Outcome {
			case OutcomeApplied:
				e.ledger.MarkApplied(action)
				if res.NewHead != "" {
					report.NewHead = res.NewHead
				}
				log.With("action", action.String()).Info("Action applied")
			case OutcomeSkipped:
				if res.Reason == ReasonStale {
					report.Stale = true
				}
				log.With("action", action.String()).With("reason", res.Reason).Info("Action skipped")
			case OutcomeFailed:
				log.With("action", action.String()).With("error", res.Error).Warn("Action failed")
				if res.fatal != nil {
					return report, res.fatal
				}
			}
		}
	}
	return report, nil
}

func (e *Executor) executeAction(ctx context.Context, revision string, p *plan.Plan, batch plan.Batch, action plan.Action) Result {
	res := Result{Action: action}

	if e.dryRun {
		res.Outcome = OutcomeSkipped
		res.Reason = ReasonDryRun
		return res
	}
	if e.ledger.AlreadyApplied(action) {
		res.Outcome = OutcomeSkipped
		res.Reason = ReasonAlreadyApplied
		return res
	}
	if reason, skip := e.preCheck(ctx, action); skip {
		res.Outcome = OutcomeSkipped
		res.Reason = reason
		return res
	}

	newHead, retries, err := e.dispatch(ctx, revision, p, batch, action)
	res.Retries = retries
	switch {
	case err == nil:
		res.Outcome = OutcomeApplied
		res.NewHead = newHead
	case provider.IsNotFound(err):
		// The plan referenced state the provider no longer has; the next
		// observation rebuilds the picture.
		res.Outcome = OutcomeSkipped
		res.Reason = ReasonStale
	default:
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		if provider.IsAuth(err) {
			res.fatal = err
		}
	}
	return res
}

// preCheck consults fresh single-run state before approve and rerun
// dispatches. The plan was built from a snapshot at least one oracle round
// old, and the run may have gone green or been released since.
func (e *Executor) preCheck(ctx context.Context, action plan.Action) (string, bool) {
	switch action.Kind {
	case plan.KindRerun, plan.KindApprove:
	default:
		return "", false
	}
	run, err := e.provider.CheckDetail(ctx, action.Target)
	if err != nil {
		if provider.IsNotFound(err) {
			return ReasonStale, true
		}
		// An unreadable pre-check is not a reason to hold the action;
		// dispatch carries its own error handling.
		return "", false
	}
	switch action.Kind {
	case plan.KindRerun:
		if run.Green() {
			return ReasonAlreadyGreen, true
		}
	case plan.KindApprove:
		if !run.NeedsApproval() {
			return ReasonNotBlocked, true
		}
	}
	return "", false
}

func (e *Executor) dispatch(ctx context.Context, revision string, p *plan.Plan, batch plan.Batch, action plan.Action) (string, int, error) {
	op := action.String()
	switch action.Kind {
	case plan.KindApprove:
		return e.retryErr(ctx, op, func() error { return e.provider.Approve(ctx, action.Target) })
	case plan.KindRerun:
		return e.retryErr(ctx, op, func() error { return e.provider.Rerun(ctx, action.Target) })
	case plan.KindRerunAllFailed:
		return e.retryErr(ctx, op, func() error { return e.provider.RerunAllFailed(ctx, revision) })
	case plan.KindEnableWorkflow:
		return e.retryErr(ctx, op, func() error { return e.provider.EnableWorkflow(ctx, action.Target) })
	case plan.KindDisableWorkflow:
		return e.retryErr(ctx, op, func() error { return e.provider.DisableWorkflow(ctx, action.Target) })
	case plan.KindApplyPatch:
		return e.applyPatch(ctx, p, batch, action)
	}
	return "", 0, fmt.Errorf("unknown action kind %q", action.Kind)
}

func (e *Executor) retryErr(ctx context.Context, op string, fn func() error) (string, int, error) {
	_, retries, err := retryCounted(ctx, e.retry, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return "", retries, err
}

func (e *Executor) applyPatch(ctx context.Context, p *plan.Plan, batch plan.Batch, action plan.Action) (string, int, error) {
	if e.patcher == nil {
		return "", 0, errors.New("no worktree configured for apply-patch actions")
	}
	patch, ok := p.Patch(action.Target)
	if !ok {
		return "", 0, fmt.Errorf("plan carries no patch named %q", action.Target)
	}
	summary := commitSummary(batch, patch)
	return retryCounted(ctx, e.retry, action.String(), func() (string, error) {
		return e.patcher.ApplyAndPush(ctx, patch, summary)
	})
}

// retryCounted wraps retry.Do with a classifier that tallies transient
// failures. The classifier also sees the final exhausting failure, which
// does not buy another attempt, so the tally is capped at MaxRetries.
func retryCounted[T any](ctx context.Context, cfg retry.Config, op string, fn func() (T, error)) (T, int, error) {
	transient := 0
	out, err := retry.Do(ctx, cfg, op, func(err error) bool {
		if provider.IsTransient(err) {
			transient++
			return true
		}
		return false
	}, fn)
	return out, min(transient, cfg.MaxRetries), err
}

// commitSummary picks the human line for a patch commit: the oracle's batch
// label when it gave one, otherwise the touched file. Unnamed batches get
// synthetic "batch-N" labels at decode time, which make poor messages.
func commitSummary(batch plan.Batch, patch plan.Patch) string {
	if batch.Name != "" && !strings.HasPrefix(batch.Name, "batch-") {
		return batch.Name
	}
	return fmt.Sprintf("update %s", patch.Filename)
}
