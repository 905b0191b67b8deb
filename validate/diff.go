/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/waigani/diffparser"

	"chainguard.dev/checkmend/plan"
)

// WellFormed reports whether a diff can be safely parsed and applied: every
// file section opens with a git-style header, the parser accepts it, every
// change names a file, and every hunk body carries exactly the line counts
// its header declares.
func WellFormed(diff string) error {
	// The parser keys file boundaries on "diff --git" headers and crashes
	// on content that arrives before one, so gate on structure first.
	if msg := headerDefect(diff); msg != "" {
		return errors.New(msg)
	}
	d, err := diffparser.Parse(diff)
	if err != nil {
		return fmt.Errorf("unparseable diff: %v", err)
	}
	if len(d.Files) == 0 {
		return errors.New("diff contains no file changes")
	}
	for _, f := range d.Files {
		if f.OrigName == "" && f.NewName == "" {
			return errors.New("diff has a change without a file target")
		}
	}
	if msg := hunkCountDefect(diff); msg != "" {
		return errors.New(msg)
	}
	return nil
}

// patchDefect reports why a patch is unusable, or "" when it is well formed.
func patchDefect(p plan.Patch) string {
	if err := WellFormed(p.Diff); err != nil {
		return err.Error()
	}
	return ""
}

// diffPaths returns every file path a well-formed diff touches.
func diffPaths(diff string) []string {
	d, err := diffparser.Parse(diff)
	if err != nil {
		return nil
	}
	var out []string
	for _, f := range d.Files {
		if f.OrigName != "" {
			out = append(out, f.OrigName)
		}
		if f.NewName != "" && f.NewName != f.OrigName {
			out = append(out, f.NewName)
		}
	}
	return out
}

// headerDefect requires a "diff --git" style header before any diff content.
func headerDefect(diff string) string {
	sawHeader := false
	for _, l := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(l, "diff "):
			sawHeader = true
		case sawHeader:
		case strings.TrimSpace(l) == "":
		default:
			return fmt.Sprintf("line %q appears before any diff --git header", l)
		}
	}
	if !sawHeader {
		return "missing diff --git file header"
	}
	return ""
}

var hunkHeader = regexp.MustCompile(`^@@ -\d+(?:,(\d+))? \+\d+(?:,(\d+))? @@`)

// hunkCountDefect walks every hunk the way patch application would, checking
// that the body carries exactly the line counts the header declares. A hunk
// that ends short, runs long or contains an unclassifiable line is a defect.
func hunkCountDefect(diff string) string {
	var (
		header            string
		wantOrig, wantNew int
		gotOrig, gotNew   int
		open              bool
	)
	closeHunk := func() string {
		if open && (gotOrig != wantOrig || gotNew != wantNew) {
			return fmt.Sprintf("hunk %q declares %d/%d lines but carries %d/%d",
				header, wantOrig, wantNew, gotOrig, gotNew)
		}
		open = false
		return ""
	}

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			if msg := closeHunk(); msg != "" {
				return msg
			}
			header = m[0]
			wantOrig, wantNew = lengthOrOne(m[1]), lengthOrOne(m[2])
			gotOrig, gotNew = 0, 0
			open = true
			continue
		}
		if !open {
			continue
		}
		switch {
		case strings.HasPrefix(line, `\`):
			// The no-newline-at-end-of-file marker is not a content line.
		case strings.HasPrefix(line, "+"):
			gotNew++
		case strings.HasPrefix(line, "-"):
			gotOrig++
		case strings.HasPrefix(line, " "):
			gotOrig++
			gotNew++
		default:
			return fmt.Sprintf("hunk %q: unexpected line %q", header, line)
		}
		if gotOrig > wantOrig || gotNew > wantNew {
			return fmt.Sprintf("hunk %q declares %d/%d lines but carries more",
				header, wantOrig, wantNew)
		}
		if gotOrig == wantOrig && gotNew == wantNew {
			open = false
		}
	}
	return closeHunk()
}

// lengthOrOne parses an optional hunk range length. Unified diffs omit the
// count when it is one.
func lengthOrOne(s string) int {
	if s == "" {
		return 1
	}
	n, _ := strconv.Atoi(s)
	return n
}
