/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package provider defines the CI system surface the remediation loop
// drives, plus the error taxonomy the loop uses to decide between retrying,
// re-observing, and aborting.
package provider

import (
	"context"
	"time"

	"chainguard.dev/checkmend/checks"
)

// Interface is the contract a CI provider implementation satisfies.
// Observation is read-only; the remaining operations have provider-side
// effects and are dispatched one at a time by the executor.
type Interface interface {
	// ListCheckRuns returns every check run registered for the revision.
	// An empty slice means no checks exist yet, which is not an error.
	ListCheckRuns(ctx context.Context, revision string) ([]checks.CheckRun, error)

	// CheckDetail returns the current state of a single check run. A run
	// the provider no longer knows is a ClassNotFound error.
	CheckDetail(ctx context.Context, runID string) (checks.CheckRun, error)

	// ResolvePullRequest maps a pull request number to its head revision
	// and branch.
	ResolvePullRequest(ctx context.Context, number int) (revision, branch string, err error)

	// Rerun re-requests a single check run.
	Rerun(ctx context.Context, runID string) error

	// Approve releases a check run blocked awaiting approval.
	Approve(ctx context.Context, runID string) error

	// RerunAllFailed re-requests every failed workflow run for the
	// revision.
	RerunAllFailed(ctx context.Context, revision string) error

	// EnableWorkflow enables the workflow at the given repository path.
	EnableWorkflow(ctx context.Context, path string) error

	// DisableWorkflow disables the workflow at the given repository path.
	DisableWorkflow(ctx context.Context, path string) error

	// CancelStuckRuns cancels workflow runs for the revision that have
	// been queued or in progress longer than olderThan, returning how
	// many were cancelled.
	CancelStuckRuns(ctx context.Context, revision string, olderThan time.Duration) (int, error)
}
