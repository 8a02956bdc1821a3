// Package scene holds the scene-extraction prompt and output schema.
package scene

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"

	"github.com/storyglass/storyglass/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

var userTemplate = template.Must(template.New("user").Parse(userPromptTmpl))

// SystemPrompt returns the system prompt for scene extraction.
func SystemPrompt() string {
	return systemPrompt
}

// UserPromptData fills the scene-extraction user template.
type UserPromptData struct {
	WorkTitle       string
	StylePreset     string
	KnownCharacters string
	KnownLocations  string
	PriorScenes     string
	MaxScenes       int
	ChunkText       string
}

// UserPrompt builds the user prompt for scene extraction.
func UserPrompt(d UserPromptData) string {
	if d.KnownCharacters == "" {
		d.KnownCharacters = "(none yet)"
	}
	if d.KnownLocations == "" {
		d.KnownLocations = "(none yet)"
	}
	if d.PriorScenes == "" {
		d.PriorScenes = "(first chapter)"
	}
	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, d); err != nil {
		return userPromptTmpl
	}
	return buf.String()
}

// JoinNames formats a name list for the prompt context.
func JoinNames(names []string) string {
	return strings.Join(names, ", ")
}

// Prompt keys
const (
	SystemPromptKey = "capabilities.scene.system"
	UserPromptKey   = "capabilities.scene.user"
)

// RegisterPrompts registers the scene prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Scene extraction system prompt - finds visually compelling moments",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Scene extraction user prompt template",
	})
}

// ExtractionSchema is the JSON schema for scene-extraction output.
var ExtractionSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "scene_extraction",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scenes": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"text": map[string]any{
								"type":        "string",
								"description": "Passage the illustration depicts, quoted from the input",
							},
							"summary": map[string]any{
								"type":        "string",
								"description": "One-sentence description of the visual moment",
							},
							"visual_score": map[string]any{
								"type":        "number",
								"description": "How visually concrete the moment is, 0.0-1.0",
							},
							"impact_score": map[string]any{
								"type":        "number",
								"description": "Narrative weight of the moment, 0.0-1.0",
							},
							"time_of_day": map[string]any{
								"type":        "string",
								"description": "Apparent time of day, or 'unknown'",
							},
							"emotional_tone": map[string]any{
								"type":        "string",
								"description": "Dominant mood of the moment",
							},
						},
						"required":             []string{"text", "summary", "visual_score", "impact_score", "time_of_day", "emotional_tone"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"scenes"},
			"additionalProperties": false,
		},
	},
}
