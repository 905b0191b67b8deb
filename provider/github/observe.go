/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/provider"
)

// annotationWorkers bounds concurrent annotation fetches during a single
// observation.
const annotationWorkers = 6

// maxAnnotations caps how many annotation lines are folded into a failing
// run's summary.
const maxAnnotations = 10

type gqlCheckRunNode struct {
	DatabaseId int64
	Name       string
	Status     string
	Conclusion string
	DetailsUrl string
	Title      string
	Summary    string
}

type gqlCheckRunsConnection struct {
	PageInfo struct {
		HasNextPage bool
		EndCursor   string
	}
	Nodes []gqlCheckRunNode
}

type gqlCheckSuiteNode struct {
	Id         string
	DatabaseId int64
	CheckRuns  gqlCheckRunsConnection `graphql:"checkRuns(first: 100)"`
}

// ListCheckRuns observes every check run registered for the revision. The
// GraphQL walk yields name, status and conclusion; workflow-run metadata
// supplies the rerun attempt counter; annotations on failing runs are
// folded into their summaries so the planner sees the actual errors.
func (c *Client) ListCheckRuns(ctx context.Context, revision string) ([]checks.CheckRun, error) {
	runs, suiteOf, err := c.checkRunsForRevision(ctx, revision)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}

	attempts, err := c.attemptsBySuite(ctx, revision)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if n, ok := attempts[suiteOf[runs[i].ID]]; ok {
			runs[i].Attempt = n
		}
		runs[i].Normalize()
	}

	if err := c.annotateFailures(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// checkRunsForRevision walks every check suite on the commit, paginating
// both the suite connection and each suite's run connection. The second
// return value maps check run ID to its suite's database ID.
func (c *Client) checkRunsForRevision(ctx context.Context, revision string) ([]checks.CheckRun, map[string]int64, error) {
	var out []checks.CheckRun
	suiteOf := make(map[string]int64)

	collect := func(suiteDB int64, nodes []gqlCheckRunNode) {
		for _, n := range nodes {
			run := checks.CheckRun{
				ID:         strconv.FormatInt(n.DatabaseId, 10),
				Name:       n.Name,
				Status:     statusFromGraphQL(n.Status),
				Conclusion: conclusionFromGraphQL(n.Conclusion),
				Attempt:    1,
				DetailsURL: n.DetailsUrl,
				Title:      n.Title,
				Summary:    n.Summary,
			}
			suiteOf[run.ID] = suiteDB
			out = append(out, run)
		}
	}

	var cursor *githubv4.String
	for {
		var query struct {
			Repository struct {
				Object struct {
					Commit struct {
						CheckSuites struct {
							PageInfo struct {
								HasNextPage bool
								EndCursor   string
							}
							Nodes []gqlCheckSuiteNode
						} `graphql:"checkSuites(first: 100, after: $cursor)"`
					} `graphql:"... on Commit"`
				} `graphql:"object(oid: $sha)"`
			} `graphql:"repository(owner: $owner, name: $repo)"`
		}

		variables := map[string]any{
			"owner":  githubv4.String(c.owner),
			"repo":   githubv4.String(c.repo),
			"sha":    githubv4.GitObjectID(revision),
			"cursor": cursor,
		}

		if err := c.gql.Query(ctx, &query, variables); err != nil {
			return nil, nil, wrap("listing check suites", err)
		}

		for _, suite := range query.Repository.Object.Commit.CheckSuites.Nodes {
			collect(suite.DatabaseId, suite.CheckRuns.Nodes)
			if suite.CheckRuns.PageInfo.HasNextPage {
				if err := c.suiteCheckRuns(ctx, suite.Id, suite.CheckRuns.PageInfo.EndCursor, func(nodes []gqlCheckRunNode) {
					collect(suite.DatabaseId, nodes)
				}); err != nil {
					return nil, nil, err
				}
			}
		}

		if !query.Repository.Object.Commit.CheckSuites.PageInfo.HasNextPage {
			return out, suiteOf, nil
		}
		cursor = githubv4.NewString(githubv4.String(query.Repository.Object.Commit.CheckSuites.PageInfo.EndCursor))
	}
}

// suiteCheckRuns fetches the remaining check run pages for one suite.
func (c *Client) suiteCheckRuns(ctx context.Context, suiteID, cursor string, process func([]gqlCheckRunNode)) error {
	for {
		var query struct {
			Node struct {
				CheckSuite struct {
					CheckRuns gqlCheckRunsConnection `graphql:"checkRuns(first: 100, after: $cursor)"`
				} `graphql:"... on CheckSuite"`
			} `graphql:"node(id: $suiteId)"`
		}

		variables := map[string]any{
			"suiteId": githubv4.ID(suiteID),
			"cursor":  githubv4.String(cursor),
		}

		if err := c.gql.Query(ctx, &query, variables); err != nil {
			return wrap("paginating check runs", err)
		}

		process(query.Node.CheckSuite.CheckRuns.Nodes)

		if !query.Node.CheckSuite.CheckRuns.PageInfo.HasNextPage {
			return nil
		}
		cursor = query.Node.CheckSuite.CheckRuns.PageInfo.EndCursor
	}
}

// attemptsBySuite maps check suite databaseID to the workflow run attempt
// counter for every Actions run on the revision. Suites without a workflow
// run (external checks) are absent and keep the default attempt of 1.
func (c *Client) attemptsBySuite(ctx context.Context, revision string) (map[int64]int, error) {
	attempts := make(map[int64]int)
	opts := &github.ListWorkflowRunsOptions{
		HeadSHA:     revision,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		runs, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, wrap("listing workflow runs", err)
		}
		for _, wr := range runs.WorkflowRuns {
			attempts[wr.GetCheckSuiteID()] = wr.GetRunAttempt()
		}
		if resp.NextPage == 0 {
			return attempts, nil
		}
		opts.Page = resp.NextPage
	}
}

// annotateFailures folds check annotations into the summaries of failing
// runs. Annotation fetches are independent reads, so they run through a
// bounded worker pool.
func (c *Client) annotateFailures(ctx context.Context, runs []checks.CheckRun) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(annotationWorkers)
	for i := range runs {
		if !runs[i].Failing() {
			continue
		}
		g.Go(func() error {
			id, err := strconv.ParseInt(runs[i].ID, 10, 64)
			if err != nil {
				return nil
			}
			anns, _, err := c.gh.Checks.ListCheckRunAnnotations(ctx, c.owner, c.repo, id, &github.ListOptions{PerPage: maxAnnotations})
			if err != nil {
				return wrap("listing annotations", err)
			}
			if len(anns) == 0 {
				return nil
			}
			var sb strings.Builder
			sb.WriteString(runs[i].Summary)
			for _, a := range anns {
				fmt.Fprintf(&sb, "\n%s:%d %s: %s", a.GetPath(), a.GetStartLine(), a.GetAnnotationLevel(), a.GetMessage())
			}
			runs[i].Summary = sb.String()
			return nil
		})
	}
	return g.Wait()
}

// CheckDetail fetches the current state of one check run over REST. The
// REST status and conclusion strings are lowercase forms of the GraphQL
// enums, so the same mappers apply after folding case.
func (c *Client) CheckDetail(ctx context.Context, runID string) (checks.CheckRun, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return checks.CheckRun{}, err
	}
	cr, _, err := c.gh.Checks.GetCheckRun(ctx, c.owner, c.repo, id)
	if err != nil {
		return checks.CheckRun{}, wrap("getting check run", err)
	}
	run := checks.CheckRun{
		ID:         strconv.FormatInt(cr.GetID(), 10),
		Name:       cr.GetName(),
		Status:     statusFromGraphQL(strings.ToUpper(cr.GetStatus())),
		Conclusion: conclusionFromGraphQL(strings.ToUpper(cr.GetConclusion())),
		Attempt:    1,
		DetailsURL: cr.GetDetailsURL(),
		Title:      cr.GetOutput().GetTitle(),
		Summary:    cr.GetOutput().GetSummary(),
	}
	run.Normalize()
	return run, nil
}

// ResolvePullRequest maps a pull request number to its head revision and
// branch.
func (c *Client) ResolvePullRequest(ctx context.Context, number int) (string, string, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return "", "", wrap("getting pull request", err)
	}
	head := pr.GetHead()
	if head.GetSHA() == "" {
		return "", "", provider.Errorf(provider.ClassNotFound, "getting pull request",
			fmt.Errorf("pull request %d has no head commit", number))
	}
	return head.GetSHA(), head.GetRef(), nil
}

func statusFromGraphQL(s string) checks.Status {
	switch s {
	case "QUEUED", "WAITING", "PENDING", "REQUESTED":
		return checks.StatusQueued
	case "IN_PROGRESS":
		return checks.StatusInProgress
	case "COMPLETED":
		return checks.StatusCompleted
	}
	return checks.StatusQueued
}

func conclusionFromGraphQL(s string) checks.Conclusion {
	switch s {
	case "SUCCESS":
		return checks.ConclusionSuccess
	case "FAILURE", "TIMED_OUT", "STARTUP_FAILURE":
		return checks.ConclusionFailure
	case "CANCELLED":
		return checks.ConclusionCancelled
	case "ACTION_REQUIRED":
		return checks.ConclusionActionRequired
	case "NEUTRAL", "SKIPPED", "STALE":
		return checks.ConclusionNeutral
	case "":
		return ""
	}
	return checks.ConclusionUnknown
}
