/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package observer turns raw provider check listings into normalized,
// deterministic snapshots for the control loop.
package observer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/executor/retry"
	"chainguard.dev/checkmend/provider"
)

// Option configures an Observer.
type Option func(*Observer)

// WithRetry overrides the retry policy for transient provider failures.
func WithRetry(cfg retry.Config) Option {
	return func(o *Observer) { o.retry = cfg }
}

// Observer reads check state from a provider. It has no side effects and
// is safe to call repeatedly.
type Observer struct {
	provider provider.Interface
	retry    retry.Config
}

// New builds an Observer over the given provider.
func New(p provider.Interface, opts ...Option) *Observer {
	o := &Observer{
		provider: p,
		retry:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Observe fetches a fresh snapshot for the revision. Transient provider
// failures are retried with backoff; anything that survives the retries is
// returned to the caller, which treats an unobservable provider as fatal.
// An empty snapshot is not an error: it means no checks are registered yet.
func (o *Observer) Observe(ctx context.Context, revision string) (*checks.Snapshot, error) {
	runs, err := retry.Do(ctx, o.retry, "observe", provider.IsTransient, func() ([]checks.CheckRun, error) {
		return o.provider.ListCheckRuns(ctx, revision)
	})
	if err != nil {
		return nil, fmt.Errorf("observing %s: %w", revision, err)
	}

	for i := range runs {
		runs[i].Normalize()
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Name != runs[j].Name {
			return runs[i].Name < runs[j].Name
		}
		return runs[i].ID < runs[j].ID
	})

	snap := &checks.Snapshot{
		Revision: revision,
		Taken:    time.Now(),
		Runs:     runs,
	}
	clog.FromContext(ctx).With("revision", revision).
		With("tally", snap.Tally().String()).
		Info("Observed check state")
	return snap, nil
}
