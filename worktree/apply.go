/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	git "github.com/go-git/go-git/v5"
	"github.com/waigani/diffparser"

	"chainguard.dev/checkmend/plan"
	"chainguard.dev/checkmend/validate"
)

// Apply stages the changes a patch describes onto the lease's working tree.
// The diff is re-checked for well-formedness so a patch that reaches the
// tree without passing validation cannot crash the parser.
func (l *Lease) Apply(ctx context.Context, patch plan.Patch) error {
	if err := validate.WellFormed(patch.Diff); err != nil {
		return fmt.Errorf("patch %s: %w", patch.Filename, err)
	}
	diff, err := diffparser.Parse(patch.Diff)
	if err != nil {
		return fmt.Errorf("parsing diff for %s: %w", patch.Filename, err)
	}
	wt, err := l.clone.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	for _, f := range diff.Files {
		if err := l.applyFile(ctx, wt, f); err != nil {
			return fmt.Errorf("patch %s: %w", patch.Filename, err)
		}
	}
	return nil
}

func (l *Lease) applyFile(ctx context.Context, wt *git.Worktree, f *diffparser.DiffFile) error {
	log := clog.FromContext(ctx)
	deleting := f.Mode == diffparser.DELETED
	rel := f.NewName
	if deleting || rel == "" {
		rel = f.OrigName
	}
	if rel == "" {
		return errors.New("diff has a change without a file target")
	}
	abs, err := l.resolve(rel)
	if err != nil {
		return err
	}
	switch {
	case deleting:
		log.Infof("Deleting %s", rel)
		// Remove mirrors "git rm": it deletes the file and stages the
		// deletion in one step.
		if _, err := wt.Remove(rel); err != nil {
			return fmt.Errorf("deleting %s: %w", rel, err)
		}
		return nil
	case f.Mode == diffparser.NEW:
		log.Infof("Creating %s", rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", rel, err)
		}
		if err := os.WriteFile(abs, []byte(createdContent(f.Hunks)), 0o644); err != nil {
			return fmt.Errorf("creating %s: %w", rel, err)
		}
	default:
		log.Infof("Patching %s", rel)
		orig, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		patched, err := applyHunks(string(orig), f.Hunks)
		if err != nil {
			return fmt.Errorf("patching %s: %w", rel, err)
		}
		mode := os.FileMode(0o644)
		if fi, err := os.Stat(abs); err == nil {
			mode = fi.Mode()
		}
		if err := os.WriteFile(abs, []byte(patched), mode); err != nil {
			return fmt.Errorf("writing %s: %w", rel, err)
		}
	}
	if _, err := wt.Add(rel); err != nil {
		return fmt.Errorf("staging %s: %w", rel, err)
	}
	return nil
}

// resolve maps a repository-relative path to an absolute one, rejecting
// paths that escape the working tree.
func (l *Lease) resolve(rel string) (string, error) {
	abs := filepath.Join(l.clone.path, filepath.Clean(rel))
	r, err := filepath.Rel(l.clone.path, abs)
	if err != nil {
		return "", err
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working tree", rel)
	}
	return abs, nil
}

// createdContent assembles the full content of a newly created file from the
// added lines of its hunks.
func createdContent(hunks []*diffparser.DiffHunk) string {
	var lines []string
	for _, h := range hunks {
		for _, dl := range h.WholeRange.Lines {
			if dl.Mode == diffparser.ADDED {
				lines = append(lines, dl.Content)
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// hunkLabel renders a hunk's ranges for error messages. The parser keeps
// only the trailing section heading of the header line, so the label is
// rebuilt from the ranges instead.
func hunkLabel(h *diffparser.DiffHunk) string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@",
		h.OrigRange.Start, h.OrigRange.Length, h.NewRange.Start, h.NewRange.Length)
}

// applyHunks rewrites orig by walking each hunk's lines in order, verifying
// that every context and removed line matches the original before emitting
// the replacement. Hunks must be ordered and non-overlapping.
func applyHunks(orig string, hunks []*diffparser.DiffHunk) (string, error) {
	lines := strings.Split(orig, "\n")
	var out []string
	cursor := 0
	for _, h := range hunks {
		start := h.OrigRange.Start - 1
		if h.OrigRange.Length == 0 {
			// A zero-length range names the line the insertion follows.
			start = h.OrigRange.Start
		}
		if start < cursor {
			return "", fmt.Errorf("hunk %s overlaps the previous hunk", hunkLabel(h))
		}
		if start > len(lines) {
			return "", fmt.Errorf("hunk %s starts beyond the end of the file", hunkLabel(h))
		}
		out = append(out, lines[cursor:start]...)
		cursor = start
		for _, dl := range h.WholeRange.Lines {
			switch dl.Mode {
			case diffparser.ADDED:
				out = append(out, dl.Content)
			case diffparser.REMOVED:
				if cursor >= len(lines) || lines[cursor] != dl.Content {
					return "", fmt.Errorf("hunk %s: line %d does not match the line the diff removes", hunkLabel(h), cursor+1)
				}
				cursor++
			case diffparser.UNCHANGED:
				if cursor >= len(lines) || lines[cursor] != dl.Content {
					return "", fmt.Errorf("hunk %s: context mismatch at line %d", hunkLabel(h), cursor+1)
				}
				out = append(out, dl.Content)
				cursor++
			}
		}
	}
	out = append(out, lines[cursor:]...)
	return strings.Join(out, "\n"), nil
}
