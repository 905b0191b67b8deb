/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package oracle

import (
	"strings"

	"chainguard.dev/checkmend/plan"
)

// extractJSON pulls the JSON payload out of a model response that may wrap
// it in markdown code fences. If a ```json block is present its content
// wins; otherwise surrounding fences are stripped and the trimmed text is
// returned as-is.
func extractJSON(text string) string {
	if body, ok := fencedBlock(text); ok {
		return body
	}

	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// fencedBlock returns the content of the first ```json fence, if any.
func fencedBlock(text string) (string, bool) {
	var body []string
	inside := false
	for _, line := range strings.Split(text, "\n") {
		switch {
		case !inside && line == "```json":
			inside = true
		case inside && line == "```":
			return strings.TrimSpace(strings.Join(body, "\n")), true
		case inside:
			body = append(body, line)
		}
	}
	if inside {
		// Unterminated fence; take what we got.
		return strings.TrimSpace(strings.Join(body, "\n")), true
	}
	return "", false
}

// decodePlanText turns raw model output into a typed plan. Any decode
// failure is the oracle being unavailable, not a loop error.
func decodePlanText(backend, text string) (*plan.Plan, error) {
	p, err := plan.Decode([]byte(extractJSON(text)))
	if err != nil {
		return nil, unavailable(backend, err)
	}
	return p, nil
}
