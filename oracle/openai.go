/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"chainguard.dev/checkmend/executor/retry"
	"chainguard.dev/checkmend/metrics"
	"chainguard.dev/checkmend/plan"
)

// openaiPlanner drives GPT models through the OpenAI API.
type openaiPlanner struct {
	client      openai.Client
	model       string
	temperature float64
	retryConfig retry.Config
	genai       *metrics.GenAI
}

func newOpenAI(_ context.Context, opts Options) (Planner, error) {
	var client openai.Client
	if opts.APIKey != "" {
		client = openai.NewClient(option.WithAPIKey(opts.APIKey))
	} else {
		client = openai.NewClient()
	}
	return &openaiPlanner{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
		retryConfig: *opts.Retry,
		genai:       newGenAIMetrics(),
	}, nil
}

// Plan implements Planner.
func (o *openaiPlanner) Plan(ctx context.Context, req *Request) (*plan.Plan, error) {
	system, user, err := buildPrompts(req)
	if err != nil {
		return nil, fmt.Errorf("building prompts: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(o.temperature),
	}

	completion, err := retry.Do(ctx, o.retryConfig, "openai_plan", isRetryableOpenAIError, func() (*openai.ChatCompletion, error) {
		return o.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		o.genai.RecordPlan(ctx, o.model, "unavailable")
		return nil, unavailable("openai", err)
	}

	if completion.Usage.PromptTokens > 0 || completion.Usage.CompletionTokens > 0 {
		o.genai.RecordTokens(ctx, o.model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		o.genai.RecordPlan(ctx, o.model, "unavailable")
		return nil, unavailable("openai", errors.New("response carried no text content"))
	}

	p, err := decodePlanText("openai", completion.Choices[0].Message.Content)
	if err != nil {
		o.genai.RecordPlan(ctx, o.model, "unavailable")
		clog.FromContext(ctx).With("response", completion.Choices[0].Message.Content).Warn("Undecodable plan response")
		return nil, err
	}
	o.genai.RecordPlan(ctx, o.model, "ok")
	return p, nil
}

// isRetryableOpenAIError reports whether the OpenAI API error is worth
// retrying: rate limit and transient server errors.
func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}
