/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package plan

import "chainguard.dev/checkmend/checks"

// Fallback synthesizes the conservative plan used when the oracle is
// unavailable or returns garbage: approve anything blocked awaiting
// approval and rerun anything failed or cancelled. No patches, no workflow
// toggles.
func Fallback(snap *checks.Snapshot) *Plan {
	b := Batch{Name: "fallback"}
	for _, run := range snap.NeedingApproval() {
		b.Actions = append(b.Actions, Approve(run.ID))
	}
	for _, run := range snap.Failing() {
		b.Actions = append(b.Actions, Rerun(run.ID))
	}
	return &Plan{
		Batches:       []Batch{b},
		StopCondition: StopAllGreen,
		Notes:         "fallback: rerun failures and approve blocked runs",
	}
}
