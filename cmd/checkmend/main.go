/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chainguard.dev/checkmend/executor"
	"chainguard.dev/checkmend/ledger"
	"chainguard.dev/checkmend/loop"
	"chainguard.dev/checkmend/metrics"
	"chainguard.dev/checkmend/observer"
	"chainguard.dev/checkmend/oracle"
	"chainguard.dev/checkmend/provider/github"
	"chainguard.dev/checkmend/report"
	"chainguard.dev/checkmend/validate"
	"chainguard.dev/checkmend/worktree"
	"cloud.google.com/go/compute/metadata"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/sethvargo/go-envconfig"
)

type config struct {
	// Target selection. PR_NUMBER resolves to the pull request's head
	// revision and branch; an explicit REVISION or BRANCH wins.
	Repo     string `env:"REPO,required"`
	Revision string `env:"REVISION"`
	PRNumber int    `env:"PR_NUMBER"`
	Branch   string `env:"BRANCH"`
	Goal     string `env:"GOAL,default=every check on the revision concludes green"`

	// GitHub credentials. Token wins over the App triple.
	GitHubToken    string `env:"GITHUB_TOKEN"`
	AppID          int64  `env:"GITHUB_APP_ID"`
	InstallationID int64  `env:"GITHUB_APP_INSTALLATION_ID"`
	PrivateKeyPath string `env:"GITHUB_APP_PRIVATE_KEY"`

	// Planner model configuration. Project and region default to GCE
	// metadata when available.
	Model     string `env:"ORACLE_MODEL,default=claude-sonnet-4-5@20250929"`
	ProjectID string `env:"GCP_PROJECT_ID"`
	Region    string `env:"GCP_REGION"`
	OpenAIKey string `env:"OPENAI_API_KEY"`

	// Budgets and policy.
	MaxIterations     int           `env:"MAX_ITERATIONS,default=12"`
	Sleep             time.Duration `env:"ITERATION_SLEEP,default=1m"`
	TimeBudget        time.Duration `env:"TIME_BUDGET,default=45m"`
	PlanTimeout       time.Duration `env:"PLAN_TIMEOUT,default=2m"`
	StuckRunThreshold time.Duration `env:"STUCK_RUN_THRESHOLD"` // Zero disables the stuck-run sweep.
	PolicyFile        string        `env:"POLICY_FILE,default=.checkmend.yaml"`

	DryRun      bool   `env:"DRY_RUN,default=false"`
	SignCommits bool   `env:"SIGN_COMMITS,default=false"`
	Identity    string `env:"COMMIT_IDENTITY,default=checkmend"`

	MetricsPort int    `env:"METRICS_PORT"` // Zero disables the metrics endpoint.
	AuditBucket string `env:"AUDIT_BUCKET"`
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := clog.FromContext(ctx)

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "failed to process config: %v", err)
	}
	if cfg.Revision == "" && cfg.PRNumber == 0 {
		clog.FatalContextf(ctx, "either REVISION or PR_NUMBER must be set")
	}
	if cfg.DryRun {
		// A dry run takes no actions, so a single pass reports the plan.
		cfg.MaxIterations = 1
	}

	if cfg.MetricsPort > 0 {
		go metrics.Serve(ctx, fmt.Sprintf(":%d", cfg.MetricsPort))
	}

	gh, err := github.New(ctx, github.Options{
		Repo:           cfg.Repo,
		Token:          cfg.GitHubToken,
		AppID:          cfg.AppID,
		InstallationID: cfg.InstallationID,
		PrivateKeyPath: cfg.PrivateKeyPath,
	})
	if err != nil {
		clog.FatalContextf(ctx, "failed to create GitHub client: %v", err)
	}

	revision, branch := cfg.Revision, cfg.Branch
	if cfg.PRNumber > 0 {
		rev, br, err := gh.ResolvePullRequest(ctx, cfg.PRNumber)
		if err != nil {
			clog.FatalContextf(ctx, "failed to resolve pull request #%d: %v", cfg.PRNumber, err)
		}
		log.With("pull_request", cfg.PRNumber, "revision", rev, "branch", br).Info("Resolved pull request")
		if revision == "" {
			revision = rev
		}
		if branch == "" {
			branch = br
		}
	}

	// Detect Vertex AI routing from the metadata server when running on GCE.
	if metadata.OnGCE() {
		if cfg.ProjectID == "" {
			if projectID, err := metadata.ProjectIDWithContext(ctx); err == nil {
				cfg.ProjectID = projectID
			}
		}
		if cfg.Region == "" {
			if zone, err := metadata.ZoneWithContext(ctx); err == nil {
				cfg.Region = zone[:strings.LastIndex(zone, "-")]
			}
		}
	}

	log.With("model", cfg.Model, "project_id", cfg.ProjectID, "region", cfg.Region).
		Info("Initializing planner")
	planner, err := oracle.New(ctx, oracle.Options{
		Model:     cfg.Model,
		ProjectID: cfg.ProjectID,
		Region:    cfg.Region,
		APIKey:    cfg.OpenAIKey,
	})
	if err != nil {
		clog.FatalContextf(ctx, "failed to create planner: %v", err)
	}

	policy, err := validate.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		clog.FatalContextf(ctx, "failed to load policy: %v", err)
	}

	led := ledger.New()
	execOpts := []executor.Option{executor.WithDryRun(cfg.DryRun)}
	if branch != "" {
		var wtOpts []worktree.Option
		if cfg.SignCommits {
			signer, err := worktree.NewSigner(ctx)
			if err != nil {
				clog.FatalContextf(ctx, "failed to create commit signer: %v", err)
			}
			wtOpts = append(wtOpts, worktree.WithSigner(signer))
		}
		mgr, err := worktree.New(gh.TokenSource(), worktree.RemoteURL(gh.Owner(), gh.Repo()), branch, cfg.Identity, wtOpts...)
		if err != nil {
			clog.FatalContextf(ctx, "failed to create worktree manager: %v", err)
		}
		execOpts = append(execOpts, executor.WithPatcher(mgr))
	} else {
		log.Info("No branch resolved, apply-patch actions will fail at execution")
	}

	ctrl, err := loop.New(loop.Config{
		Goal:              cfg.Goal,
		MaxIterations:     cfg.MaxIterations,
		Sleep:             cfg.Sleep,
		TimeBudget:        cfg.TimeBudget,
		PlanTimeout:       cfg.PlanTimeout,
		StuckRunThreshold: cfg.StuckRunThreshold,
		Policy:            policy,
	}, loop.Deps{
		Observer: observer.New(gh),
		Planner:  planner,
		Executor: executor.New(gh, led, execOpts...),
		Ledger:   led,
		Provider: gh,
	})
	if err != nil {
		clog.FatalContextf(ctx, "failed to create remediation loop: %v", err)
	}

	log.With("repo", cfg.Repo, "revision", revision, "max_iterations", cfg.MaxIterations).
		Info("Starting remediation")
	trail := ctrl.Run(ctx, revision)

	fmt.Print(report.Render(trail))

	if cfg.AuditBucket != "" {
		archive(trail, cfg.AuditBucket, gh.Owner(), gh.Repo())
	}

	return trail.ExitCode()
}

// archive uploads the trail on a fresh deadline. The run context is
// already done when an interrupt produced the outcome.
func archive(trail *loop.Trail, bucket, owner, repo string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log := clog.FromContext(ctx)
	arch, err := report.NewArchiver(ctx, bucket)
	if err != nil {
		log.With("error", err).Error("Failed to create trail archiver")
		return
	}
	defer arch.Close()
	if _, err := arch.Archive(ctx, owner, repo, trail); err != nil {
		log.With("error", err).Error("Failed to archive trail")
	}
}
