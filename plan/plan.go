/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package plan defines the remediation plan model: ordered batches of typed
// actions plus the patches they reference. Plans arrive from the oracle over
// a strict JSON envelope and are immutable once decoded; the validator
// produces corrected copies rather than editing in place.
package plan

import (
	"maps"
	"slices"
)

// StopCondition is the oracle's advisory description of when it believes the
// loop should stop. The controller never trusts it; convergence is always
// decided by re-observation.
type StopCondition string

const (
	StopAllGreen     StopCondition = "all_green"
	StopManualReview StopCondition = "manual_review"
)

// Patch is a unified diff against a single file. It is owned by the plan
// that carries it and consumed at most once by the executor.
type Patch struct {
	Filename string `json:"filename" jsonschema:"required,description=Path of the file the diff applies to"`
	Diff     string `json:"diff" jsonschema:"required,description=Unified diff text"`
}

// Batch is an ordered group of actions applied as a unit before the next
// batch begins.
type Batch struct {
	Name    string   `json:"name,omitempty"`
	Actions []Action `json:"actions"`
}

// Plan is the oracle's remediation proposal.
type Plan struct {
	Batches       []Batch          `json:"batches"`
	Patches       map[string]Patch `json:"patches,omitempty"`
	StopCondition StopCondition    `json:"stop_condition,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// Empty reports whether the plan carries no actions at all.
func (p *Plan) Empty() bool {
	for _, b := range p.Batches {
		if len(b.Actions) > 0 {
			return false
		}
	}
	return true
}

// ActionCount returns the total number of actions across all batches.
func (p *Plan) ActionCount() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Actions)
	}
	return n
}

// Patch returns the patch a filename refers to, if present.
func (p *Plan) Patch(filename string) (Patch, bool) {
	patch, ok := p.Patches[filename]
	return patch, ok
}

// Clone returns a copy sharing no mutable state with p.
func (p *Plan) Clone() *Plan {
	out := &Plan{
		Batches:       make([]Batch, len(p.Batches)),
		Patches:       maps.Clone(p.Patches),
		StopCondition: p.StopCondition,
		Notes:         p.Notes,
	}
	for i, b := range p.Batches {
		out.Batches[i] = Batch{Name: b.Name, Actions: slices.Clone(b.Actions)}
	}
	return out
}
