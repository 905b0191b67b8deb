/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package oracle obtains remediation plans from an LLM backend. The backend
// is selected by model name prefix: claude-* via the Anthropic SDK
// (optionally through Vertex AI), gemini-* via Google's GenAI SDK on
// Vertex, gpt-* via the OpenAI SDK.
//
// The oracle is an unreliable collaborator. Timeouts, transport failures
// and responses that do not decode into a plan all surface as
// ErrUnavailable; the caller falls back to a conservative default plan
// rather than failing the loop.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/checkmend/checks"
	"chainguard.dev/checkmend/executor/retry"
	"chainguard.dev/checkmend/metrics"
	"chainguard.dev/checkmend/plan"
)

// ErrUnavailable marks a recoverable oracle failure. Callers test for it
// with errors.Is and fall back to plan.Fallback.
var ErrUnavailable = errors.New("plan oracle unavailable")

// Exchange digests one prior loop iteration so the oracle can see what was
// already tried without replaying full transcripts.
type Exchange struct {
	Iteration int      `json:"iteration"`
	Tally     string   `json:"tally"`
	Actions   []string `json:"actions,omitempty"`
	Outcome   string   `json:"outcome"`
}

// Request is the planning context for one iteration.
type Request struct {
	// Snapshot is the latest observed check state.
	Snapshot *checks.Snapshot
	// History holds digests of recent iterations, newest last. Callers
	// bound it to keep payloads small.
	History []Exchange
	// Goal is the operator's natural-language objective.
	Goal string
}

// Planner produces remediation plans.
type Planner interface {
	// Plan proposes remediation for the request's snapshot. The call is
	// bounded by ctx; on timeout, transport failure or an undecodable
	// response it returns an error wrapping ErrUnavailable.
	Plan(ctx context.Context, req *Request) (*plan.Plan, error)
}

// Options configures a Planner.
type Options struct {
	// Model selects the backend by prefix.
	Model string
	// ProjectID and Region route claude-* and gemini-* models through
	// Vertex AI. When ProjectID is empty, claude-* uses the Anthropic API
	// directly with ambient credentials.
	ProjectID string
	Region    string
	// APIKey authenticates gpt-* models. Empty falls back to the
	// environment.
	APIKey string
	// MaxTokens bounds the response size. Zero selects 8192.
	MaxTokens int64
	// Temperature defaults to 0.1 for plan stability.
	Temperature float64
	// Retry overrides the transient-failure retry policy.
	Retry *retry.Config
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxTokens == 0 {
		out.MaxTokens = 8192
	}
	if out.Temperature == 0 {
		out.Temperature = 0.1
	}
	if out.Retry == nil {
		cfg := retry.DefaultConfig()
		out.Retry = &cfg
	}
	return out
}

// New selects and constructs the backend for opts.Model.
func New(ctx context.Context, opts Options) (Planner, error) {
	model := strings.ToLower(opts.Model)
	switch {
	case strings.HasPrefix(model, "claude-"):
		return newClaude(ctx, opts.withDefaults())
	case strings.HasPrefix(model, "gemini-"):
		return newGemini(ctx, opts.withDefaults())
	case strings.HasPrefix(model, "gpt-"):
		return newOpenAI(ctx, opts.withDefaults())
	}
	return nil, fmt.Errorf("unsupported model: %s (expected claude-*, gemini-* or gpt-*)", opts.Model)
}

// meterName is shared by all oracle backends; the model is an attribute.
const meterName = "chainguard.checkmend"

func newGenAIMetrics() *metrics.GenAI {
	return metrics.NewGenAI(meterName)
}

// unavailable converts a backend failure into the recoverable sentinel.
// Cancellation passes through so the loop can distinguish an operator
// interrupt from a flaky oracle.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
}
