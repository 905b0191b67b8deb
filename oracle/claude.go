/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/chainguard-dev/clog"

	"chainguard.dev/checkmend/executor/retry"
	"chainguard.dev/checkmend/metrics"
	"chainguard.dev/checkmend/plan"
)

// claudePlanner drives Claude models, through Vertex AI when a project is
// configured and the Anthropic API otherwise.
type claudePlanner struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	retryConfig retry.Config
	genai       *metrics.GenAI
}

func newClaude(ctx context.Context, opts Options) (Planner, error) {
	var client anthropic.Client
	if opts.ProjectID != "" {
		client = anthropic.NewClient(
			vertex.WithGoogleAuth(ctx, opts.Region, opts.ProjectID),
		)
	} else {
		client = anthropic.NewClient()
	}
	return &claudePlanner{
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		retryConfig: *opts.Retry,
		genai:       newGenAIMetrics(),
	}, nil
}

// Plan implements Planner.
func (c *claudePlanner) Plan(ctx context.Context, req *Request) (*plan.Plan, error) {
	system, user, err := buildPrompts(req)
	if err != nil {
		return nil, fmt.Errorf("building prompts: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(user),
			},
		}},
		System: []anthropic.TextBlockParam{{Text: system}},
	}
	params.Temperature = anthropic.Float(c.temperature)

	message, err := retry.Do(ctx, c.retryConfig, "claude_plan", isRetryableClaudeError, func() (anthropic.Message, error) {
		stream := c.client.Messages.NewStreaming(ctx, params)
		var msg anthropic.Message
		for stream.Next() {
			if err := msg.Accumulate(stream.Current()); err != nil {
				return msg, fmt.Errorf("accumulating event: %w", err)
			}
		}
		if err := stream.Err(); err != nil {
			return msg, err
		}
		return msg, nil
	})
	if err != nil {
		c.genai.RecordPlan(ctx, c.model, "unavailable")
		return nil, unavailable("claude", err)
	}

	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		c.genai.RecordTokens(ctx, c.model, message.Usage.InputTokens, message.Usage.OutputTokens)
	}

	var text string
	for _, content := range message.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}
	if text == "" {
		c.genai.RecordPlan(ctx, c.model, "unavailable")
		return nil, unavailable("claude", errors.New("response carried no text content"))
	}

	p, err := decodePlanText("claude", text)
	if err != nil {
		c.genai.RecordPlan(ctx, c.model, "unavailable")
		clog.FromContext(ctx).With("response", text).Warn("Undecodable plan response")
		return nil, err
	}
	c.genai.RecordPlan(ctx, c.model, "ok")
	return p, nil
}

// isRetryableClaudeError reports whether the Anthropic API error is worth
// retrying: rate limit, overloaded, and transient server errors.
func isRetryableClaudeError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503, 504, 529:
			return true
		}
	}
	return false
}
