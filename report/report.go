/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package report renders finished remediation trails for humans and
// archives them for audit.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/executor"
	"chainguard.dev/checkmend/loop"
)

// Render formats a trail as text: a run summary, one table row per
// iteration, and the checks still unresolved when the run ended.
func Render(trail *loop.Trail) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Remediation of %s: %s\n", trail.Revision, trail.Outcome)
	if trail.Goal != "" {
		fmt.Fprintf(&buf, "Goal: %s\n", trail.Goal)
	}
	fmt.Fprintf(&buf, "Ran %d iterations in %s\n",
		len(trail.Iterations), trail.Finished.Sub(trail.Started).Round(time.Second))
	if trail.Failure != "" {
		fmt.Fprintf(&buf, "Failure: %s\n", trail.Failure)
	}
	buf.WriteString("\n")

	table := newTable([]string{"#", "Revision", "Checks", "Plan", "Results", "Outcome"}, &buf)
	for _, rec := range trail.Iterations {
		_ = table.Append([]string{
			strconv.Itoa(rec.Iteration),
			shortRevision(rec.Revision),
			tallyCell(rec.Tally),
			planCell(rec),
			resultsCell(rec.Results),
			string(rec.Outcome),
		})
	}
	_ = table.Render()

	if unresolved := unresolvedChecks(trail); len(unresolved) > 0 {
		buf.WriteString("\nUnresolved checks:\n")
		for _, line := range unresolved {
			fmt.Fprintf(&buf, "  - %s\n", line)
		}
	}
	return buf.String()
}

// newTable builds a table writer with the formatting shared by every
// rendered report.
func newTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		MaxWidth: 120,
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func shortRevision(revision string) string {
	if len(revision) > 10 {
		return revision[:10]
	}
	return revision
}

func tallyCell(t checks.Tally) string {
	if t.Total == 0 {
		return "none"
	}
	cell := fmt.Sprintf("%d/%d green", t.Green+t.Neutral, t.Total)
	for _, part := range []struct {
		n     int
		label string
	}{
		{t.Failing, "failing"},
		{t.Blocked, "blocked"},
		{t.Pending, "pending"},
	} {
		if part.n > 0 {
			cell += fmt.Sprintf(", %d %s", part.n, part.label)
		}
	}
	return cell
}

func planCell(rec loop.IterationRecord) string {
	if rec.PlanSource == "" {
		return "-"
	}
	return rec.PlanSource
}

func resultsCell(results []executor.Result) string {
	if len(results) == 0 {
		return "-"
	}
	counts := make(map[executor.Outcome]int, 3)
	for _, res := range results {
		counts[res.Outcome]++
	}
	var parts []string
	for _, o := range []executor.Outcome{executor.OutcomeApplied, executor.OutcomeSkipped, executor.OutcomeFailed} {
		if counts[o] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[o], o))
		}
	}
	return strings.Join(parts, ", ")
}

// unresolvedChecks lists the runs that were not green in the final
// observation. A converged run has none.
func unresolvedChecks(trail *loop.Trail) []string {
	var snap *checks.Snapshot
	for i := len(trail.Iterations) - 1; i >= 0; i-- {
		if trail.Iterations[i].Observed != nil {
			snap = trail.Iterations[i].Observed
			break
		}
	}
	if snap == nil {
		return nil
	}
	var out []string
	for _, run := range snap.Runs {
		if !run.Green() {
			out = append(out, run.String())
		}
	}
	return out
}
