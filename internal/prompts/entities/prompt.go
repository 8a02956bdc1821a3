// Package entities holds the entity-extraction prompt and output schema.
package entities

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/storyglass/storyglass/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

var userTemplate = template.Must(template.New("user").Parse(userPromptTmpl))

// SystemPrompt returns the system prompt for entity extraction.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt builds the user prompt for entity extraction.
func UserPrompt(sceneText, knownMentions string) string {
	if knownMentions == "" {
		knownMentions = "(none)"
	}
	var buf bytes.Buffer
	data := struct {
		SceneText     string
		KnownMentions string
	}{SceneText: sceneText, KnownMentions: knownMentions}
	if err := userTemplate.Execute(&buf, data); err != nil {
		return userPromptTmpl
	}
	return buf.String()
}

// Prompt keys
const (
	SystemPromptKey = "capabilities.entities.system"
	UserPromptKey   = "capabilities.entities.user"
)

// RegisterPrompts registers the entity prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Entity extraction system prompt - catalogues new characters and locations",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Entity extraction user prompt template",
	})
}

// ExtractionSchema is the JSON schema for entity-extraction output.
var ExtractionSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "entity_extraction",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"characters": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":        map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"aliases": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "string"},
							},
						},
						"required":             []string{"name", "description"},
						"additionalProperties": false,
					},
				},
				"locations": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":        map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"type":        map[string]any{"type": "string"},
						},
						"required":             []string{"name", "description"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"characters", "locations"},
			"additionalProperties": false,
		},
	},
}
