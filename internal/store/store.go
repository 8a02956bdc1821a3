// Package store defines the repository contracts for every durable record
// of the pipeline, plus an in-memory implementation for tests and
// single-node runs. Each operation is idempotent per call.
package store

import (
	"context"

	"github.com/storyglass/storyglass/internal/model"
)

// WorkFilter narrows List calls on works.
type WorkFilter struct {
	Status model.WorkStatus
}

// ChapterFilter narrows List calls on chapters.
type ChapterFilter struct {
	WorkID string
	Status model.ChapterStatus
}

// SceneFilter narrows List calls on scenes.
type SceneFilter struct {
	ChapterID string
}

// EntityFilter narrows List calls on entities.
type EntityFilter struct {
	WorkID     string
	Kind       model.EntityKind
	ActiveOnly bool
}

// ReferenceFilter narrows List calls on entity references.
type ReferenceFilter struct {
	EntityID    string
	StylePreset string
	ActiveOnly  bool
}

// EvolutionFilter narrows List calls on evolution records.
type EvolutionFilter struct {
	EntityID string
}

// PromptFilter narrows List calls on prompts.
type PromptFilter struct {
	SceneID string
}

// ImageFilter narrows List calls on generated images.
type ImageFilter struct {
	SceneID      string
	SelectedOnly bool
}

// ReportFilter narrows List calls on quality reports.
type ReportFilter struct {
	ImageID string
}

// JobFilter narrows List calls on chapter jobs.
type JobFilter struct {
	WorkID string
	Status model.JobStatus
}

// EdgeFilter narrows List calls on scene-entity edges.
type EdgeFilter struct {
	SceneID  string
	EntityID string
}

// Works persists model.Work records.
type Works interface {
	Get(ctx context.Context, id string) (*model.Work, error)
	List(ctx context.Context, f WorkFilter) ([]model.Work, error)
	Upsert(ctx context.Context, w model.Work) error
	Delete(ctx context.Context, id string) error
}

// Chapters persists model.Chapter records.
type Chapters interface {
	Get(ctx context.Context, id string) (*model.Chapter, error)
	List(ctx context.Context, f ChapterFilter) ([]model.Chapter, error)
	Upsert(ctx context.Context, c model.Chapter) error
	Delete(ctx context.Context, id string) error
}

// Scenes persists model.Scene records.
type Scenes interface {
	Get(ctx context.Context, id string) (*model.Scene, error)
	List(ctx context.Context, f SceneFilter) ([]model.Scene, error)
	Upsert(ctx context.Context, s model.Scene) error
	Delete(ctx context.Context, id string) error
}

// Entities persists model.Entity records.
type Entities interface {
	Get(ctx context.Context, id string) (*model.Entity, error)
	List(ctx context.Context, f EntityFilter) ([]model.Entity, error)
	Upsert(ctx context.Context, e model.Entity) error
	Delete(ctx context.Context, id string) error
}

// References persists model.EntityReference records.
type References interface {
	Get(ctx context.Context, id string) (*model.EntityReference, error)
	List(ctx context.Context, f ReferenceFilter) ([]model.EntityReference, error)
	Upsert(ctx context.Context, r model.EntityReference) error
	Delete(ctx context.Context, id string) error
}

// Evolutions persists model.EvolutionRecord records.
type Evolutions interface {
	Get(ctx context.Context, id string) (*model.EvolutionRecord, error)
	List(ctx context.Context, f EvolutionFilter) ([]model.EvolutionRecord, error)
	Upsert(ctx context.Context, r model.EvolutionRecord) error
	Delete(ctx context.Context, id string) error
}

// Prompts persists model.Prompt records.
type Prompts interface {
	Get(ctx context.Context, id string) (*model.Prompt, error)
	List(ctx context.Context, f PromptFilter) ([]model.Prompt, error)
	Upsert(ctx context.Context, p model.Prompt) error
	Delete(ctx context.Context, id string) error
}

// Images persists model.GeneratedImage records.
type Images interface {
	Get(ctx context.Context, id string) (*model.GeneratedImage, error)
	List(ctx context.Context, f ImageFilter) ([]model.GeneratedImage, error)
	Upsert(ctx context.Context, i model.GeneratedImage) error
	Delete(ctx context.Context, id string) error
}

// Reports persists model.QualityReport records.
type Reports interface {
	Get(ctx context.Context, id string) (*model.QualityReport, error)
	List(ctx context.Context, f ReportFilter) ([]model.QualityReport, error)
	Upsert(ctx context.Context, r model.QualityReport) error
	Delete(ctx context.Context, id string) error
}

// Jobs persists model.ChapterJob records.
type Jobs interface {
	Get(ctx context.Context, id string) (*model.ChapterJob, error)
	List(ctx context.Context, f JobFilter) ([]model.ChapterJob, error)
	Upsert(ctx context.Context, j model.ChapterJob) error
	Delete(ctx context.Context, id string) error
}

// Edges persists model.SceneEntityEdge records, keyed (scene, entity).
type Edges interface {
	List(ctx context.Context, f EdgeFilter) ([]model.SceneEntityEdge, error)
	Upsert(ctx context.Context, e model.SceneEntityEdge) error
	Delete(ctx context.Context, sceneID, entityID string) error
}

// Store aggregates every repository behind one handle.
type Store interface {
	Works() Works
	Chapters() Chapters
	Scenes() Scenes
	Entities() Entities
	References() References
	Evolutions() Evolutions
	Prompts() Prompts
	Images() Images
	Reports() Reports
	Jobs() Jobs
	Edges() Edges
}
