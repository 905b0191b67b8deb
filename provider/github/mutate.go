/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v84/github"

	"chainguard.dev/checkmend/provider"
)

// approvalComment is attached to deployment approvals for traceability.
const approvalComment = "approved by checkmend"

// parseRunID converts a wire check run ID to the numeric form GitHub
// expects. A malformed ID means the plan referenced something that never
// came from observation, which reads the same as a stale reference.
func parseRunID(runID string) (int64, error) {
	id, err := strconv.ParseInt(runID, 10, 64)
	if err != nil {
		return 0, provider.Errorf(provider.ClassNotFound, "parse run id", fmt.Errorf("check run id %q is not numeric", runID))
	}
	return id, nil
}

// resolveWorkflowRun maps a check run to the Actions workflow run backing
// it, via the check suite. Returns a nil run (and the suite ID) for checks
// that are not backed by Actions, such as external status apps.
func (c *Client) resolveWorkflowRun(ctx context.Context, runID int64) (*github.WorkflowRun, int64, error) {
	cr, _, err := c.gh.Checks.GetCheckRun(ctx, c.owner, c.repo, runID)
	if err != nil {
		return nil, 0, wrap("getting check run", err)
	}
	suiteID := cr.GetCheckSuite().GetID()
	if suiteID == 0 {
		return nil, 0, nil
	}
	runs, _, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, c.owner, c.repo, &github.ListWorkflowRunsOptions{
		CheckSuiteID: suiteID,
		ListOptions:  github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, 0, wrap("resolving workflow run", err)
	}
	if len(runs.WorkflowRuns) == 0 {
		return nil, suiteID, nil
	}
	return runs.WorkflowRuns[0], suiteID, nil
}

// Rerun re-requests the failed jobs of the workflow run behind the check
// run, falling back to re-requesting the whole check suite for checks not
// backed by Actions.
func (c *Client) Rerun(ctx context.Context, runID string) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}
	wr, suiteID, err := c.resolveWorkflowRun(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case wr != nil:
		if _, err := c.gh.Actions.RerunFailedJobsByID(ctx, c.owner, c.repo, wr.GetID()); err != nil {
			return wrapRerunRefusal(wrap("rerunning failed jobs", err))
		}
		return nil
	case suiteID != 0:
		if _, err := c.gh.Checks.ReRequestCheckSuite(ctx, c.owner, c.repo, suiteID); err != nil {
			return wrap("re-requesting check suite", err)
		}
		return nil
	}
	return provider.Errorf(provider.ClassNotFound, "rerun", fmt.Errorf("check run %s has no suite", runID))
}

// wrapRerunRefusal downgrades the 403 GitHub returns for runs outside the
// rerun window. Those are per-run refusals, not credential failures, and
// must not stop the loop.
func wrapRerunRefusal(err error) error {
	if !provider.IsAuth(err) {
		return err
	}
	var ger *github.ErrorResponse
	if errors.As(err, &ger) && ger.Response != nil && ger.Response.StatusCode == http.StatusForbidden &&
		(strings.Contains(ger.Message, "re-run") || strings.Contains(ger.Message, "rerun")) {
		var pe *provider.Error
		if errors.As(err, &pe) {
			return provider.Errorf(provider.ClassOther, pe.Op, pe.Err)
		}
	}
	return err
}

// Approve releases a blocked workflow run. Runs waiting on protected
// environments are released by approving their pending deployments; runs
// held because they came from a fork are approved directly.
func (c *Client) Approve(ctx context.Context, runID string) error {
	id, err := parseRunID(runID)
	if err != nil {
		return err
	}
	wr, _, err := c.resolveWorkflowRun(ctx, id)
	if err != nil {
		return err
	}
	if wr == nil {
		return provider.Errorf(provider.ClassNotFound, "approve", fmt.Errorf("check run %s has no workflow run to approve", runID))
	}

	if wr.GetStatus() == "waiting" {
		pending, _, err := c.gh.Actions.GetPendingDeployments(ctx, c.owner, c.repo, wr.GetID())
		if err != nil {
			return wrap("listing pending deployments", err)
		}
		var envIDs []int64
		for _, pd := range pending {
			if id := pd.GetEnvironment().GetID(); id != 0 {
				envIDs = append(envIDs, id)
			}
		}
		if len(envIDs) == 0 {
			// Nothing left waiting; someone beat us to it.
			return nil
		}
		if _, _, err := c.gh.Actions.PendingDeployments(ctx, c.owner, c.repo, wr.GetID(), &github.PendingDeploymentsRequest{
			EnvironmentIDs: envIDs,
			State:          "approved",
			Comment:        approvalComment,
		}); err != nil {
			return wrap("approving pending deployments", err)
		}
		return nil
	}

	if _, err := c.gh.Actions.ApproveWorkflowRun(ctx, c.owner, c.repo, wr.GetID()); err != nil {
		return wrap("approving workflow run", err)
	}
	return nil
}

// RerunAllFailed re-requests the failed jobs of every completed workflow
// run on the revision that did not succeed. Individual refusals are
// collected rather than short-circuiting so one expired run cannot block
// the rest.
func (c *Client) RerunAllFailed(ctx context.Context, revision string) error {
	opts := &github.ListWorkflowRunsOptions{
		HeadSHA:     revision,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var errs []error
	for {
		runs, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, c.owner, c.repo, opts)
		if err != nil {
			return wrap("listing workflow runs", err)
		}
		for _, wr := range runs.WorkflowRuns {
			if wr.GetStatus() != "completed" {
				continue
			}
			switch wr.GetConclusion() {
			case "failure", "cancelled", "timed_out", "startup_failure":
			default:
				continue
			}
			if _, err := c.gh.Actions.RerunFailedJobsByID(ctx, c.owner, c.repo, wr.GetID()); err != nil {
				errs = append(errs, wrapRerunRefusal(wrap(fmt.Sprintf("rerunning run %d", wr.GetID()), err)))
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return errors.Join(errs...)
}

// CancelStuckRuns cancels Actions runs on the revision that have sat queued
// or in progress longer than olderThan. GitHub offers no server-side age
// filter, so the runs are listed and filtered here.
func (c *Client) CancelStuckRuns(ctx context.Context, revision string, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	opts := &github.ListWorkflowRunsOptions{
		HeadSHA:     revision,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	cancelled := 0
	var errs []error
	for {
		runs, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, c.owner, c.repo, opts)
		if err != nil {
			return cancelled, wrap("listing workflow runs", err)
		}
		for _, wr := range runs.WorkflowRuns {
			switch wr.GetStatus() {
			case "queued", "in_progress", "waiting":
			default:
				continue
			}
			started := wr.GetRunStartedAt().Time
			if started.IsZero() {
				started = wr.GetCreatedAt().Time
			}
			if started.After(cutoff) {
				continue
			}
			if _, err := c.gh.Actions.CancelWorkflowRunByID(ctx, c.owner, c.repo, wr.GetID()); err != nil {
				var ger *github.ErrorResponse
				if errors.As(err, &ger) && ger.Response != nil && ger.Response.StatusCode == http.StatusConflict {
					// The run reached a terminal state between list and
					// cancel.
					continue
				}
				errs = append(errs, wrap(fmt.Sprintf("cancelling run %d", wr.GetID()), err))
				continue
			}
			cancelled++
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return cancelled, errors.Join(errs...)
}

// EnableWorkflow enables the workflow at the given path.
func (c *Client) EnableWorkflow(ctx context.Context, workflowPath string) error {
	if _, err := c.gh.Actions.EnableWorkflowByFileName(ctx, c.owner, c.repo, path.Base(workflowPath)); err != nil {
		return wrap("enabling workflow", err)
	}
	return nil
}

// DisableWorkflow disables the workflow at the given path.
func (c *Client) DisableWorkflow(ctx context.Context, workflowPath string) error {
	if _, err := c.gh.Actions.DisableWorkflowByFileName(ctx, c.owner, c.repo, path.Base(workflowPath)); err != nil {
		return wrap("disabling workflow", err)
	}
	return nil
}
