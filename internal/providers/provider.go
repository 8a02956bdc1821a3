// Package providers implements clients for the external text and image
// models. All responses are structured; unstructured model output is
// rejected at this boundary.
package providers

import (
	"context"
	"time"
)

// TextModel is the three-capability contract the pipeline needs from a
// language model.
type TextModel interface {
	// ExtractScenes asks for visually compelling scenes within a chunk.
	ExtractScenes(ctx context.Context, req SceneExtractionRequest) ([]SceneCandidate, error)

	// ExtractEntities asks for characters and locations not already known.
	ExtractEntities(ctx context.Context, req EntityExtractionRequest) (*EntityExtraction, error)

	// AssessImage scores a generated image against its prompt using the
	// model's vision capability.
	AssessImage(ctx context.Context, req AssessmentRequest) (*AssessmentResult, error)

	// Name returns the provider identifier (e.g. "openrouter", "openai").
	Name() string
}

// ImageModel is the submit/poll contract of the image generation service.
type ImageModel interface {
	// Generate submits a generation request and returns a job id.
	Generate(ctx context.Context, req GenerationRequest) (string, error)

	// Poll reports the state of a previously submitted job.
	Poll(ctx context.Context, jobID string) (*GenerationStatus, error)

	// Name returns the provider identifier.
	Name() string
}

// SceneExtractionRequest carries one chunk plus work context.
type SceneExtractionRequest struct {
	ChunkText       string
	WorkTitle       string
	StylePreset     string
	KnownCharacters []string
	KnownLocations  []string
	PriorSummaries  []string
	MaxScenes       int
}

// SceneCandidate is one raw scene from the model, prior to normalization.
// TimeOfDay and EmotionalTone are free-form here; the scene extractor maps
// them onto the closed enums.
type SceneCandidate struct {
	Text          string  `json:"text"`
	Summary       string  `json:"summary"`
	VisualScore   float64 `json:"visual_score"`
	ImpactScore   float64 `json:"impact_score"`
	TimeOfDay     string  `json:"time_of_day"`
	EmotionalTone string  `json:"emotional_tone"`
}

// EntityExtractionRequest asks for entities beyond the known mentions.
type EntityExtractionRequest struct {
	SceneText     string
	KnownMentions []string
}

// ExtractedCharacter is one new character proposed by the model.
type ExtractedCharacter struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases,omitempty"`
}

// ExtractedLocation is one new location proposed by the model.
type ExtractedLocation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type,omitempty"`
}

// EntityExtraction is the structured entity-extraction reply.
type EntityExtraction struct {
	Characters []ExtractedCharacter `json:"characters"`
	Locations  []ExtractedLocation  `json:"locations"`
}

// AssessmentRequest asks the vision capability to score an image.
type AssessmentRequest struct {
	ImagePointer     string
	PromptText       string
	SceneDescription string
}

// AssessmentResult is the structured assessment reply.
type AssessmentResult struct {
	QualityScore float64  `json:"quality_score"`
	Issues       []string `json:"issues,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
}

// ReferenceInput carries one weighted reference image into generation.
type ReferenceInput struct {
	Pointer string  `json:"pointer"`
	Weight  float64 `json:"weight"`
}

// GenerationRequest is one image-model submission.
type GenerationRequest struct {
	Prompt     string           `json:"prompt"`
	Negative   string           `json:"negative,omitempty"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Steps      int              `json:"steps"`
	CFGScale   float64          `json:"cfg_scale"`
	Sampler    string           `json:"sampler,omitempty"`
	Seed       *int64           `json:"seed,omitempty"`
	References []ReferenceInput `json:"references,omitempty"`
}

// GenerationState is the job state reported by Poll.
type GenerationState string

const (
	GenerationPending   GenerationState = "pending"
	GenerationSucceeded GenerationState = "succeeded"
	GenerationFailed    GenerationState = "failed"
)

// FailureClass partitions terminal generation failures for retry decisions.
type FailureClass string

const (
	FailureTransient     FailureClass = "transient"
	FailureContentPolicy FailureClass = "content_policy"
	FailureInvalidParams FailureClass = "invalid_params"
)

// GenerationStatus is the structured poll reply.
type GenerationStatus struct {
	State         GenerationState `json:"status"`
	OutputPointer string          `json:"output_pointer,omitempty"`
	ModelVersion  string          `json:"model_version,omitempty"`
	Seed          int64           `json:"seed,omitempty"`
	CostUSD       float64         `json:"cost_usd,omitempty"`
	ErrorDetail   string          `json:"error,omitempty"`
	FailureClass  FailureClass    `json:"failure_class,omitempty"`
}

// CallMeta records timing and cost for a completed model call, consumed by
// the metrics recorder.
type CallMeta struct {
	Provider      string
	Model         string
	PromptTokens  int
	OutputTokens  int
	CostUSD       float64
	ExecutionTime time.Duration
	Attempts      int
}
