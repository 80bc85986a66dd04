package evaluation

import "github.com/abhisek/sensei/internal/llm"

// VerdictSchema is the structured output the judge must return.
var VerdictSchema = &llm.Schema{
	Name:        "rubric-verdict",
	Description: "Binary pass/fail judgment of one answer against one rubric criterion",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"passed": map[string]any{
				"type":        "boolean",
				"description": "True only if the answer demonstrates the criterion",
			},
			"rationale": map[string]any{
				"type":        "string",
				"description": "One or two sentences citing what the answer did or did not show",
			},
		},
		"required":             []any{"passed", "rationale"},
		"additionalProperties": false,
	},
}
