/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package validate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPolicyFile is where a repository declares its remediation policy,
// relative to the repository root.
const DefaultPolicyFile = ".checkmend.yaml"

// Policy constrains what a plan may do to a repository. The zero value
// permits everything; a nil *Policy behaves the same way.
type Policy struct {
	// ProtectedWorkflows lists workflow files that must never be disabled.
	// Entries are matched by base name, so "release.yaml" and
	// ".github/workflows/release.yaml" protect the same workflow.
	ProtectedWorkflows []string `yaml:"protectedWorkflows"`

	// PatchPrefixes restricts the paths a patch may touch. When non-empty,
	// the patch filename and every path inside its diff must carry one of
	// these prefixes.
	PatchPrefixes []string `yaml:"patchPrefixes"`

	// MaxPatchBytes caps the size of a single patch diff. Zero means no cap.
	MaxPatchBytes int `yaml:"maxPatchBytes"`
}

// LoadPolicy reads a policy file. A missing file is not an error; it yields
// the permissive zero policy.
func LoadPolicy(file string) (*Policy, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return &Policy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing policy %s: %w", file, err)
	}
	if p.MaxPatchBytes < 0 {
		return nil, fmt.Errorf("policy %s: maxPatchBytes must not be negative", file)
	}
	return &p, nil
}

// Protects reports whether a workflow path may not be disabled.
func (p *Policy) Protects(workflow string) bool {
	if p == nil {
		return false
	}
	for _, w := range p.ProtectedWorkflows {
		if path.Base(w) == path.Base(workflow) {
			return true
		}
	}
	return false
}

// AllowsPath reports whether policy permits patching the given file.
func (p *Policy) AllowsPath(file string) bool {
	if p == nil || len(p.PatchPrefixes) == 0 {
		return true
	}
	file = strings.TrimPrefix(file, "./")
	for _, prefix := range p.PatchPrefixes {
		if strings.HasPrefix(file, strings.TrimPrefix(prefix, "./")) {
			return true
		}
	}
	return false
}

// OversizedPatch reports whether a diff exceeds the policy size cap.
func (p *Policy) OversizedPatch(diff string) bool {
	return p != nil && p.MaxPatchBytes > 0 && len(diff) > p.MaxPatchBytes
}
