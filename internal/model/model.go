// Package model provides the shared data model used across the pipeline.
// This package has no dependencies on other storyglass packages to avoid
// import cycles.
package model

import "time"

// ContentType classifies how an ingested work is structured.
type ContentType string

const (
	ContentTypeSingle   ContentType = "single"
	ContentTypeMulti    ContentType = "multi"
	ContentTypeFullBook ContentType = "full-book"
)

// WorkStatus is the overall processing status of a work.
type WorkStatus string

const (
	WorkStatusPending    WorkStatus = "pending"
	WorkStatusInProgress WorkStatus = "in-progress"
	WorkStatusCompleted  WorkStatus = "completed"
	WorkStatusFailed     WorkStatus = "failed"
)

// ChapterStatus is the processing status of a single chapter.
type ChapterStatus string

const (
	ChapterStatusPending    ChapterStatus = "pending"
	ChapterStatusProcessing ChapterStatus = "processing"
	ChapterStatusCompleted  ChapterStatus = "completed"
	ChapterStatusFailed     ChapterStatus = "failed"
)

// DetectionMetadata records how chapter boundaries were detected at ingest.
type DetectionMetadata struct {
	Patterns             []string `json:"patterns,omitempty"`
	StructuralIndicators []string `json:"structural_indicators,omitempty"`
	WordCount            int      `json:"word_count"`
	Confidence           float64  `json:"confidence"`
}

// Work is an entire ingested piece, possibly multi-chapter.
type Work struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	StylePreset   string            `json:"style_preset"`
	CustomStyle   string            `json:"custom_style,omitempty"`
	ContentType   ContentType       `json:"content_type"`
	Detection     DetectionMetadata `json:"detection"`
	TotalChapters int               `json:"total_chapters"`
	Status        WorkStatus        `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Chapter is one unit of chapter-ordered text within a work.
// Text is immutable after ingest.
type Chapter struct {
	ID        string        `json:"id"`
	WorkID    string        `json:"work_id"`
	Ordinal   int           `json:"ordinal"` // 1-based, contiguous per work
	Title     string        `json:"title,omitempty"`
	Text      string        `json:"text"`
	WordCount int           `json:"word_count"`
	Status    ChapterStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// BoundaryKind indicates how a chunk boundary was chosen.
type BoundaryKind string

const (
	BoundaryNatural BoundaryKind = "natural"
	BoundaryForced  BoundaryKind = "forced"
)

// Chunk is a bounded slice of chapter text. Chunks are not durable; they
// exist only between the chunker and scene extraction.
type Chunk struct {
	ID        string       `json:"id"`
	ChapterID string       `json:"chapter_id"`
	Index     int          `json:"index"` // contiguous from 0
	Text      string       `json:"text"`
	Boundary  BoundaryKind `json:"boundary"`
}

// TimeOfDay is the closed lighting enum scenes are normalized onto.
type TimeOfDay string

const (
	TimeOfDayDawn    TimeOfDay = "dawn"
	TimeOfDayMorning TimeOfDay = "morning"
	TimeOfDayMidday  TimeOfDay = "midday"
	TimeOfDayDusk    TimeOfDay = "dusk"
	TimeOfDayNight   TimeOfDay = "night"
	TimeOfDayUnknown TimeOfDay = "unknown"
)

// EmotionalTone is the closed atmosphere enum scenes are normalized onto.
type EmotionalTone string

const (
	ToneJoyful     EmotionalTone = "joyful"
	ToneTense      EmotionalTone = "tense"
	ToneMelancholy EmotionalTone = "melancholy"
	TonePeaceful   EmotionalTone = "peaceful"
	ToneOminous    EmotionalTone = "ominous"
	ToneRomantic   EmotionalTone = "romantic"
	ToneNeutral    EmotionalTone = "neutral"
)

// Scene is a contiguous visually-describable fragment of a chapter.
// Immutable once committed.
type Scene struct {
	ID          string        `json:"id"`
	ChapterID   string        `json:"chapter_id"`
	ChunkIndex  int           `json:"chunk_index"`
	SceneIndex  int           `json:"scene_index"`
	Text        string        `json:"text"`
	Summary     string        `json:"summary"`
	VisualScore float64       `json:"visual_score"` // [0,1]
	ImpactScore float64       `json:"impact_score"` // [0,1]
	TimeOfDay   TimeOfDay     `json:"time_of_day"`
	Tone        EmotionalTone `json:"emotional_tone"`
	ActionLevel float64       `json:"action_level"` // [0,1]
	// AnchorParagraph is the paragraph index within the chapter the scene's
	// image attaches to. Anchors are paragraph indices, not char offsets.
	AnchorParagraph int    `json:"anchor_paragraph"`
	ActiveImageID   string `json:"active_image_id,omitempty"`
	Skipped         bool   `json:"skipped,omitempty"`
}

// EntityKind distinguishes the two tracked entity classes.
type EntityKind string

const (
	KindCharacter EntityKind = "character"
	KindLocation  EntityKind = "location"
)

// Mention is a textual span hypothesized to refer to an entity.
// Transient; never persisted.
type Mention struct {
	Text     string     `json:"text"`
	Sentence string     `json:"sentence"`
	Start    int        `json:"start"` // byte offset within scene text
	End      int        `json:"end"`
	Kind     EntityKind `json:"kind"`
	Pronoun  bool       `json:"pronoun,omitempty"`
}

// EntityLink is the resolver's verdict for one mention.
type EntityLink struct {
	Mention          Mention  `json:"mention"`
	ResolvedEntityID string   `json:"resolved_entity_id,omitempty"`
	Confidence       float64  `json:"confidence"` // [0,1]
	Alternatives     []string `json:"alternatives,omitempty"`
	Note             string   `json:"note,omitempty"`
}

// Resolved reports whether the link carries a resolved entity.
func (l EntityLink) Resolved() bool { return l.ResolvedEntityID != "" }

// Entity is a character or location tracked across a work. The ID is stable
// forever; the description is mutable by evolution tracking.
type Entity struct {
	ID              string     `json:"id"`
	WorkID          string     `json:"work_id"`
	Name            string     `json:"name"`
	Kind            EntityKind `json:"kind"`
	Description     string     `json:"description"`
	Aliases         []string   `json:"aliases,omitempty"`
	FirstAppearance int        `json:"first_appearance"` // chapter ordinal
	Active          bool       `json:"active"`
}

// GenerationMethod records where a reference image came from.
type GenerationMethod string

const (
	MethodAI        GenerationMethod = "ai"
	MethodUploaded  GenerationMethod = "uploaded"
	MethodExtracted GenerationMethod = "extracted"
)

// AgeTag marks the depicted age of a character reference image.
type AgeTag string

const (
	AgeChild   AgeTag = "child"
	AgeYoung   AgeTag = "young"
	AgeAdult   AgeTag = "adult"
	AgeElderly AgeTag = "elderly"
)

// EntityReference is a stored visual anchor image for an entity.
// Never mutated, only deactivated.
type EntityReference struct {
	ID             string           `json:"id"`
	EntityID       string           `json:"entity_id"`
	ImagePointer   string           `json:"image_pointer"`
	AddedAtChapter int              `json:"added_at_chapter"`
	AgeTag         AgeTag           `json:"age_tag,omitempty"`
	StylePreset    string           `json:"style_preset"`
	Description    string           `json:"description,omitempty"`
	Active         bool             `json:"active"`
	Priority       int              `json:"priority"`
	Method         GenerationMethod `json:"generation_method"`
	QualityScore   *float64         `json:"quality_score,omitempty"`
	SourcePrompt   string           `json:"source_prompt,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// EvolutionRecord captures how an entity's description changed at a chapter.
// Append-only.
type EvolutionRecord struct {
	ID            string   `json:"id"`
	EntityID      string   `json:"entity_id"`
	AtChapter     int      `json:"at_chapter"`
	PrevDesc      string   `json:"previous_description"`
	NewDesc       string   `json:"new_description"`
	Changes       []string `json:"changes,omitempty"`
	Updated       bool     `json:"updated"`
	Note          string   `json:"note,omitempty"`
	RecordedAtUTC string   `json:"recorded_at"`
}

// TechnicalParams are the image-model generation parameters.
type TechnicalParams struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	CFGScale float64 `json:"cfg_scale"`
	Sampler  string  `json:"sampler"`
}

// PromptReference carries one reference image into an image-model call.
type PromptReference struct {
	EntityID    string  `json:"entity_id"`
	Pointer     string  `json:"pointer"`
	Weight      float64 `json:"weight"` // (0,1]
	AgeTag      AgeTag  `json:"age_tag,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Prompt is the composed input to the image model for one scene attempt.
// Immutable once created.
type Prompt struct {
	ID           string            `json:"id"`
	SceneID      string            `json:"scene_id"`
	Text         string            `json:"text"`
	NegativeText string            `json:"negative_text"`
	StylePreset  string            `json:"style_preset"`
	References   []PromptReference `json:"references,omitempty"`
	Params       TechnicalParams   `json:"params"`
	ParentID     string            `json:"parent_prompt_id,omitempty"`
	History      []string          `json:"modification_history,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ImageStatus is the terminal state of one generation attempt.
type ImageStatus string

const (
	ImageStatusSuccess    ImageStatus = "success"
	ImageStatusError      ImageStatus = "error"
	ImageStatusInProgress ImageStatus = "in-progress"
)

// GeneratedImage is one image-model attempt for a scene.
// Within a scene, exactly one is marked selected.
type GeneratedImage struct {
	ID              string      `json:"id"`
	PromptID        string      `json:"prompt_id"`
	SceneID         string      `json:"scene_id"`
	ImagePointer    string      `json:"image_pointer,omitempty"`
	Status          ImageStatus `json:"status"`
	ModelVersion    string      `json:"model_version,omitempty"`
	Seed            int64       `json:"seed,omitempty"`
	GenerationTime  float64     `json:"generation_seconds,omitempty"`
	CostUSD         float64     `json:"cost_usd,omitempty"`
	ErrorDetail     string      `json:"error_detail,omitempty"`
	Version         int         `json:"version"`
	Selected        bool        `json:"selected"`
	ReplacedImageID string      `json:"replaced_image_id,omitempty"`
	ReplacedAt      *time.Time  `json:"replaced_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// QualityReport scores a generated image on the four assessment axes.
type QualityReport struct {
	ID           string             `json:"id"`
	ImageID      string             `json:"image_id"`
	Overall      float64            `json:"overall"` // [0,1]
	Components   map[string]float64 `json:"components,omitempty"`
	Issues       []string           `json:"issues,omitempty"`
	Suggestions  []string           `json:"suggestions,omitempty"`
	Safe         bool               `json:"safe"`
	SafetyDetail string             `json:"safety_detail,omitempty"`
}

// JobStatus is the scheduler state of one chapter job.
type JobStatus string

const (
	JobQueued             JobStatus = "queued"
	JobWaitingForPrevious JobStatus = "waiting-for-previous"
	JobRunning            JobStatus = "running"
	JobCompleted          JobStatus = "completed"
	JobFailed             JobStatus = "failed"
)

// ChapterJob drives the work scheduler's per-chapter state machine.
type ChapterJob struct {
	ID           string     `json:"id"`
	WorkID       string     `json:"work_id"`
	Ordinal      int        `json:"ordinal"`
	Status       JobStatus  `json:"status"`
	Prerequisite *int       `json:"prerequisite,omitempty"` // ordinal-1 when present
	Priority     int        `json:"priority"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// SceneEntityEdge is the durable scene-to-entity link written for resolved
// mentions only.
type SceneEntityEdge struct {
	SceneID    string  `json:"scene_id"`
	EntityID   string  `json:"entity_id"`
	Confidence float64 `json:"confidence"`
	Mention    string  `json:"mention"`
}

// Clamp01 clamps v to [0,1]. Shared by scoring code across the pipeline.
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
