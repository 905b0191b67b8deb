/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// GenAI carries OpenTelemetry counters for oracle calls. Token usage is the
// cost driver of the whole loop, so it gets its own instruments with the
// model name as a dimension. Counter creation degrades to no-ops rather
// than failing the loop over observability.
type GenAI struct {
	meter            metric.Meter
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	planCounter      metric.Int64Counter
}

// NewGenAI creates the GenAI instruments under the given meter name. The
// meter name should be shared across oracle backends, with the model as an
// attribute on each recording.
func NewGenAI(meterName string) *GenAI {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	promptTokens, err := meter.Int64Counter("genai.token.prompt",
		metric.WithDescription("The number of prompt tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create prompt tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		promptTokens = noop.Int64Counter{}
	}

	completionTokens, err := meter.Int64Counter("genai.token.completion",
		metric.WithDescription("The number of completion tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create completion tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		completionTokens = noop.Int64Counter{}
	}

	planCounter, err := meter.Int64Counter("genai.plans",
		metric.WithDescription("The number of oracle plan requests, by result"),
		metric.WithUnit("{plans}"))
	if err != nil {
		slog.Warn("Failed to create plan counter, metrics will be disabled", "error", err, "meter", meterName)
		planCounter = noop.Int64Counter{}
	}

	return &GenAI{
		meter:            meter,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		planCounter:      planCounter,
	}
}

// RecordTokens records prompt and completion token usage for one call.
func (m *GenAI) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.promptTokens.Add(ctx, promptTokens, attrs)
	m.completionTokens.Add(ctx, completionTokens, attrs)
}

// RecordPlan records the result of one plan request: "ok" for a decodable
// plan, "unavailable" otherwise.
func (m *GenAI) RecordPlan(ctx context.Context, model, result string) {
	m.planCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("result", result),
	))
}
