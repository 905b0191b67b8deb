/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package plan

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Wire is the JSON envelope a plan travels in. Actions are encoded as
// strings in their wire form, and patches as a list so that the same
// envelope round-trips through schema-constrained oracle responses.
type Wire struct {
	Batches       []WireBatch `json:"batches" jsonschema:"required,description=Ordered groups of remediation actions"`
	Patches       []Patch     `json:"patches,omitempty" jsonschema:"description=Unified diffs referenced by apply-patch actions"`
	StopCondition string      `json:"stop_condition,omitempty" jsonschema:"description=Advisory stop condition such as all_green or manual_review"`
	Notes         string      `json:"notes,omitempty" jsonschema:"description=Free-form reasoning for the audit trail"`
}

// WireBatch is one ordered group of wire-form actions.
type WireBatch struct {
	Name    string   `json:"name,omitempty" jsonschema:"description=Short label for the batch"`
	Actions []string `json:"actions" jsonschema:"required,description=Actions in wire form such as rerun:<id> or apply-patch:<filename>"`
}

// Decode parses a wire envelope into a Plan. Every action string must parse
// and patch filenames must be unique; anything else is an error so the
// caller can fall back rather than execute a half-understood plan.
func Decode(data []byte) (*Plan, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshaling plan: %w", err)
	}
	return w.Plan()
}

// Plan converts the envelope into the typed model.
func (w *Wire) Plan() (*Plan, error) {
	p := &Plan{
		StopCondition: StopCondition(w.StopCondition),
		Notes:         w.Notes,
	}
	for i, wb := range w.Batches {
		b := Batch{Name: wb.Name}
		if b.Name == "" {
			b.Name = fmt.Sprintf("batch-%d", i+1)
		}
		for _, s := range wb.Actions {
			a, err := ParseAction(s)
			if err != nil {
				return nil, fmt.Errorf("batch %q: %w", b.Name, err)
			}
			b.Actions = append(b.Actions, a)
		}
		p.Batches = append(p.Batches, b)
	}
	if len(w.Patches) > 0 {
		p.Patches = make(map[string]Patch, len(w.Patches))
		for _, patch := range w.Patches {
			if patch.Filename == "" {
				return nil, fmt.Errorf("patch with empty filename")
			}
			if _, dup := p.Patches[patch.Filename]; dup {
				return nil, fmt.Errorf("duplicate patch for %q", patch.Filename)
			}
			p.Patches[patch.Filename] = patch
		}
	}
	return p, nil
}

// Encode renders the plan back into its wire envelope, primarily for the
// audit trail and for tests.
func Encode(p *Plan) ([]byte, error) {
	w := Wire{
		StopCondition: string(p.StopCondition),
		Notes:         p.Notes,
	}
	for _, b := range p.Batches {
		wb := WireBatch{Name: b.Name}
		for _, a := range b.Actions {
			wb.Actions = append(wb.Actions, a.String())
		}
		w.Batches = append(w.Batches, wb)
	}
	for _, name := range slices.Sorted(maps.Keys(p.Patches)) {
		w.Patches = append(w.Patches, p.Patches[name])
	}
	return json.MarshalIndent(&w, "", "  ")
}
