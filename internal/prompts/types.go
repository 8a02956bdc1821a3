// Package prompts provides prompt management with embedded defaults.
//
// Embedded .tmpl files in code are the source of truth. Each model
// capability (scene extraction, entity extraction, quality assessment) owns
// a subpackage with its system/user templates and its JSON output schema.
package prompts

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // Hierarchical key: capabilities.scene.system
	Text        string   // The prompt text (Go template)
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}
