/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package oracle

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"google.golang.org/genai"

	"chainguard.dev/checkmend/plan"
)

// reflector is configured so the emitted schema inlines the envelope types
// rather than referencing definitions, which keeps the prompt fragment
// self-contained.
func reflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
	}
}

var wireSchemaOnce = sync.OnceValue(func() string {
	schema := reflector().Reflect(&plan.Wire{})
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		// The envelope is a fixed type; reflection over it cannot fail at
		// runtime unless the type itself is broken.
		panic(err)
	}
	return string(b)
})

// wireSchemaJSON returns the plan envelope's JSON schema as prompt text.
func wireSchemaJSON() string {
	return wireSchemaOnce()
}

// geminiWireSchema mirrors the plan envelope as a Vertex response schema,
// letting Gemini enforce the structure server-side instead of relying on
// prompt discipline alone.
func geminiWireSchema() *genai.Schema {
	return &genai.Schema{
		Type: "object",
		Properties: map[string]*genai.Schema{
			"batches": {
				Type:        "array",
				Description: "Ordered groups of remediation actions",
				Items: &genai.Schema{
					Type: "object",
					Properties: map[string]*genai.Schema{
						"name": {
							Type:        "string",
							Description: "Short label for the batch",
						},
						"actions": {
							Type:        "array",
							Description: "Actions in wire form such as rerun:<id> or apply-patch:<filename>",
							Items:       &genai.Schema{Type: "string"},
						},
					},
					Required: []string{"actions"},
				},
			},
			"patches": {
				Type:        "array",
				Description: "Unified diffs referenced by apply-patch actions",
				Items: &genai.Schema{
					Type: "object",
					Properties: map[string]*genai.Schema{
						"filename": {
							Type:        "string",
							Description: "Path of the file the diff applies to",
						},
						"diff": {
							Type:        "string",
							Description: "Unified diff text",
						},
					},
					Required: []string{"filename", "diff"},
				},
			},
			"stop_condition": {
				Type:        "string",
				Description: "Advisory stop condition such as all_green or manual_review",
			},
			"notes": {
				Type:        "string",
				Description: "Free-form reasoning for the audit trail",
			},
		},
		Required: []string{"batches"},
	}
}
