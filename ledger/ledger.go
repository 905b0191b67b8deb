/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package ledger is the per-run state repository: it remembers which
// actions already took effect so they are not repeated, and the last seen
// state of every check so the loop can tell genuine progress from stale
// polling. It lives in memory and is scoped to one loop invocation; the
// provider's own state covers dedup across process restarts.
package ledger

import (
	"fmt"
	"sync"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/plan"
)

type appliedKey struct {
	epoch  int
	kind   plan.Kind
	target string
}

// Ledger tracks applied actions per plan epoch and the last observed state
// of each check by name.
type Ledger struct {
	mu       sync.Mutex
	epoch    int
	applied  map[appliedKey]struct{}
	lastSeen map[string]checks.CheckRun
}

// New returns an empty ledger at epoch zero.
func New() *Ledger {
	return &Ledger{
		applied:  make(map[appliedKey]struct{}),
		lastSeen: make(map[string]checks.CheckRun),
	}
}

// BeginEpoch starts a new plan epoch and returns its number. Actions are
// deduplicated within an epoch only: a fresh plan may legitimately rerun a
// check that an earlier plan already reran.
func (l *Ledger) BeginEpoch() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch++
	return l.epoch
}

// Epoch returns the current plan epoch.
func (l *Ledger) Epoch() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// AlreadyApplied reports whether the action took effect in the current
// epoch.
func (l *Ledger) AlreadyApplied(a plan.Action) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.applied[appliedKey{epoch: l.epoch, kind: a.Kind, target: a.Target}]
	return ok
}

// MarkApplied records a successful action. Callers record only after the
// side effect lands, so a crash between dispatch and record errs on the
// side of repeating a provider-idempotent call rather than losing one.
func (l *Ledger) MarkApplied(a plan.Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied[appliedKey{epoch: l.epoch, kind: a.Kind, target: a.Target}] = struct{}{}
}

// AppliedCount returns the number of actions recorded across all epochs.
func (l *Ledger) AppliedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.applied)
}

// RecordSnapshot stores the snapshot as the latest seen state and returns a
// human-readable delta entry for every check whose state genuinely changed
// since the previous call, plus entries for checks seen for the first time.
func (l *Ledger) RecordSnapshot(snap *checks.Snapshot) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var changes []string
	for _, run := range snap.Runs {
		prev, seen := l.lastSeen[run.Name]
		switch {
		case !seen:
			changes = append(changes, fmt.Sprintf("%s: new (%s)", run.Name, run.String()))
		case prev.Status != run.Status || prev.Conclusion != run.Conclusion || prev.Attempt != run.Attempt:
			changes = append(changes, fmt.Sprintf("%s: %s -> %s", run.Name, prev.String(), run.String()))
		}
		l.lastSeen[run.Name] = run
	}
	return changes
}
