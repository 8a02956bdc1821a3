// Package metrics provides cost and usage tracking for model calls.
package metrics

import "time"

// Metric is a single recorded model call. Append-only, with full
// attribution back to the work, chapter and pipeline stage.
type Metric struct {
	ID string `json:"id,omitempty"`

	// Attribution
	WorkID         string `json:"work_id,omitempty"`
	ChapterOrdinal int    `json:"chapter_ordinal,omitempty"`
	Stage          string `json:"stage,omitempty"`    // e.g. "scene_extraction", "image_generation"
	ItemKey        string `json:"item_key,omitempty"` // e.g. scene or entity id

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Cost and tokens
	CostUSD      float64 `json:"cost_usd,omitempty"`
	PromptTokens int     `json:"prompt_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	TotalTokens  int     `json:"total_tokens,omitempty"`

	// Timing
	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`
	Attempts         int     `json:"attempts,omitempty"`

	// Status
	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToMap converts the metric to a flat map for structured export.
func (m *Metric) ToMap() map[string]any {
	data := map[string]any{
		"success":    m.Success,
		"created_at": m.CreatedAt.Format(time.RFC3339),
	}

	if m.WorkID != "" {
		data["work_id"] = m.WorkID
	}
	if m.ChapterOrdinal > 0 {
		data["chapter_ordinal"] = m.ChapterOrdinal
	}
	if m.Stage != "" {
		data["stage"] = m.Stage
	}
	if m.ItemKey != "" {
		data["item_key"] = m.ItemKey
	}
	if m.Provider != "" {
		data["provider"] = m.Provider
	}
	if m.Model != "" {
		data["model"] = m.Model
	}
	if m.CostUSD > 0 {
		data["cost_usd"] = m.CostUSD
	}
	if m.PromptTokens > 0 {
		data["prompt_tokens"] = m.PromptTokens
	}
	if m.OutputTokens > 0 {
		data["output_tokens"] = m.OutputTokens
	}
	if m.TotalTokens > 0 {
		data["total_tokens"] = m.TotalTokens
	}
	if m.ExecutionSeconds > 0 {
		data["execution_seconds"] = m.ExecutionSeconds
	}
	if m.Attempts > 0 {
		data["attempts"] = m.Attempts
	}
	if m.ErrorType != "" {
		data["error_type"] = m.ErrorType
	}

	return data
}
