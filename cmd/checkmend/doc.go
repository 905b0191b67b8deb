/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements the checkmend command, a one-shot remediation
// loop for GitHub check runs.
//
// Given a revision (or a pull request number to resolve into one), the
// command observes the revision's check runs, asks a model for a
// remediation plan, validates that plan against local policy, and
// executes the surviving actions against GitHub. It repeats until every
// check is green, the iteration or time budget runs out, or a fatal
// provider error ends the run. The full iteration trail is printed as a
// markdown report on stdout and optionally archived to a GCS bucket.
//
// # Configuration
//
// All configuration is via environment variables. The essentials:
//
//   - REPO (required): target repository as "owner/name".
//   - REVISION or PR_NUMBER: what to remediate. A pull request number is
//     resolved to its head revision and branch.
//   - GITHUB_TOKEN, or GITHUB_APP_ID + GITHUB_APP_INSTALLATION_ID +
//     GITHUB_APP_PRIVATE_KEY: credentials.
//   - ORACLE_MODEL: planner model, routed by prefix. claude-* and
//     gemini-* run through Vertex AI, gpt-* through the OpenAI API.
//   - BRANCH: where apply-patch commits are pushed. Implied by
//     PR_NUMBER; without a branch, patch actions fail at execution.
//   - POLICY_FILE: validation policy, default .checkmend.yaml. A missing
//     file permits everything.
//
// On GCE the project ID and region for Vertex AI are detected from the
// metadata server when not set explicitly.
//
// # Exit codes
//
//   - 0: every check on the final observation was green.
//   - 1: a fatal provider or execution error ended the run.
//   - 2: the iteration or time budget was exhausted.
//   - 3: the run was interrupted.
package main
