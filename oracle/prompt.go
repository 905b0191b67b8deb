/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package oracle

import (
	"fmt"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/promptbuilder"
)

// systemPrompt frames the planning task. The schema slot carries the JSON
// schema of the response envelope so text-only backends stay on format.
var systemPrompt = promptbuilder.Must(promptbuilder.New(`<role>
You are a CI remediation planner. You receive the current state of the
continuous-integration checks for one code revision and propose the minimal
set of actions that moves every check to success.
</role>

<actions>
Each action is a single string:
- "approve:<id>" releases a check run blocked awaiting approval
- "rerun:<id>" re-requests one check run by its id
- "rerun-failed-workflows" re-requests every failed workflow for the revision
- "apply-patch:<filename>" commits the patch with that filename from your patches list
- "enable-workflow:<path>" enables a workflow file
- "disable-workflow:<path>" disables a workflow file
</actions>

<rules>
1. Only reference check run ids that appear in the provided state.
2. Every apply-patch action must have a matching entry in patches, containing a well-formed git-style unified diff ("--- a/<path>", "+++ b/<path>", correct hunk line counts).
3. Prefer approvals and reruns over patches; prefer patches over enabling or disabling workflows.
4. Do not propose actions for checks that already succeeded.
5. If a previous iteration already tried an action and the check still fails, propose something different.
6. Group actions that belong together into one batch; later batches run only after earlier ones.
</rules>

<output>
Respond with a single JSON document matching this schema and nothing else:
{{schema}}
</output>`))

// userPrompt carries the per-iteration planning context.
var userPrompt = promptbuilder.Must(promptbuilder.New(`<goal>
{{goal}}
</goal>

<revision>{{revision}}</revision>

<check_state>
{{snapshot}}
</check_state>

<previous_iterations>
{{history}}
</previous_iterations>`))

// maxSummaryChars bounds how much per-check log output travels to the
// oracle.
const maxSummaryChars = 2000

// runDigest is the per-check view sent to the oracle.
type runDigest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
	Attempt    int    `json:"attempt"`
	Summary    string `json:"summary,omitempty"`
}

func digestSnapshot(snap *checks.Snapshot) []runDigest {
	out := make([]runDigest, 0, len(snap.Runs))
	for _, run := range snap.Runs {
		d := runDigest{
			ID:         run.ID,
			Name:       run.Name,
			Status:     string(run.Status),
			Conclusion: string(run.Conclusion),
			Attempt:    run.Attempt,
		}
		// Only failing or blocked checks need their output; green checks
		// would just dilute the context.
		if run.Failing() || run.NeedsApproval() {
			d.Summary = run.Summary
			if len(d.Summary) > maxSummaryChars {
				d.Summary = d.Summary[:maxSummaryChars] + "\n[truncated]"
			}
		}
		out = append(out, d)
	}
	return out
}

// buildPrompts renders the system and user prompts for a request.
func buildPrompts(req *Request) (system, user string, err error) {
	sys, err := systemPrompt.BindText("schema", wireSchemaJSON())
	if err != nil {
		return "", "", fmt.Errorf("binding schema: %w", err)
	}
	system, err = sys.Build()
	if err != nil {
		return "", "", fmt.Errorf("building system prompt: %w", err)
	}

	p, err := userPrompt.BindText("goal", req.Goal)
	if err != nil {
		return "", "", err
	}
	p, err = p.BindText("revision", req.Snapshot.Revision)
	if err != nil {
		return "", "", err
	}
	p, err = p.BindJSON("snapshot", digestSnapshot(req.Snapshot))
	if err != nil {
		return "", "", err
	}
	if len(req.History) > 0 {
		p, err = p.BindJSON("history", req.History)
	} else {
		p, err = p.BindText("history", "none")
	}
	if err != nil {
		return "", "", err
	}
	user, err = p.Build()
	if err != nil {
		return "", "", fmt.Errorf("building user prompt: %w", err)
	}
	return system, user, nil
}
