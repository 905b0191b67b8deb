/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"google.golang.org/genai"

	"chainguard.dev/checkmend/executor/retry"
	"chainguard.dev/checkmend/metrics"
	"chainguard.dev/checkmend/plan"
)

// geminiPlanner drives Gemini models on Vertex AI with a server-enforced
// response schema.
type geminiPlanner struct {
	client      *genai.Client
	model       string
	maxTokens   int64
	temperature float64
	retryConfig retry.Config
	genai       *metrics.GenAI
}

func newGemini(ctx context.Context, opts Options) (Planner, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  opts.ProjectID,
		Location: opts.Region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Google AI client: %w", err)
	}
	return &geminiPlanner{
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		retryConfig: *opts.Retry,
		genai:       newGenAIMetrics(),
	}, nil
}

// Plan implements Planner.
func (g *geminiPlanner) Plan(ctx context.Context, req *Request) (*plan.Plan, error) {
	system, user, err := buildPrompts(req)
	if err != nil {
		return nil, fmt.Errorf("building prompts: %w", err)
	}

	config := &genai.GenerateContentConfig{
		Temperature:     ptr(float32(g.temperature)),
		MaxOutputTokens: int32(g.maxTokens),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{
				Text: system,
			}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   geminiWireSchema(),
	}

	chat, err := g.client.Chats.Create(ctx, g.model, config, nil)
	if err != nil {
		return nil, unavailable("gemini", fmt.Errorf("creating chat with model %q: %w", g.model, err))
	}

	response, err := retry.Do(ctx, g.retryConfig, "gemini_plan", isRetryableVertexError, func() (*genai.GenerateContentResponse, error) {
		return chat.Send(ctx, &genai.Part{Text: user})
	})
	if err != nil {
		g.genai.RecordPlan(ctx, g.model, "unavailable")
		return nil, unavailable("gemini", err)
	}

	if response.UsageMetadata != nil {
		g.genai.RecordTokens(ctx, g.model,
			int64(response.UsageMetadata.PromptTokenCount),
			int64(response.UsageMetadata.CandidatesTokenCount))
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		g.genai.RecordPlan(ctx, g.model, "unavailable")
		return nil, unavailable("gemini", errors.New("no candidates generated"))
	}
	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		text += part.Text
	}
	if text == "" {
		g.genai.RecordPlan(ctx, g.model, "unavailable")
		return nil, unavailable("gemini", errors.New("response carried no text content"))
	}

	p, err := decodePlanText("gemini", text)
	if err != nil {
		g.genai.RecordPlan(ctx, g.model, "unavailable")
		clog.FromContext(ctx).With("response", text).Warn("Undecodable plan response")
		return nil, err
	}
	g.genai.RecordPlan(ctx, g.model, "ok")
	return p, nil
}

func ptr[T any](v T) *T { return &v }

// isRetryableVertexError reports whether the Vertex AI error is worth
// retrying: rate limit, quota exhaustion, and transient server errors.
func isRetryableVertexError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Resource exhausted") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "Overloaded") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "Internal error") ||
		strings.Contains(errStr, "server error")
}
