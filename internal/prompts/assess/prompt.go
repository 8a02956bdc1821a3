// Package assess holds the image quality-assessment prompt and schema.
package assess

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

// SystemPrompt returns the system prompt for quality assessment.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt builds the user prompt for quality assessment.
func UserPrompt(imagePointer, promptText, sceneDescription string) string {
	var buf bytes.Buffer
	data := struct {
		ImagePointer     string
		PromptText       string
		SceneDescription string
	}{ImagePointer: imagePointer, PromptText: promptText, SceneDescription: sceneDescription}
	if err := userTemplate.Execute(&buf, data); err != nil {
		return userPromptTmpl
	}
	return buf.String()
}

// Prompt keys
const (
	SystemPromptKey = "capabilities.assess.system"
	UserPromptKey   = "capabilities.assess.user"
)

// RegisterPrompts registers the assessment prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Quality assessment system prompt - scores prompt adherence",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Quality assessment user prompt template",
	})
}

// AssessmentSchema is the JSON schema for assessment output.
var AssessmentSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "image_assessment",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"quality_score": map[string]any{
					"type":        "number",
					"description": "Overall adherence 0.0-1.0",
				},
				"issues": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"suggestions": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required":             []string{"quality_score"},
			"additionalProperties": false,
		},
	},
}
