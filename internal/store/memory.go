package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
)

var errInjected = errors.New("injected persistence failure")

// Memory is the in-process Store. Safe for concurrent use. Tests can
// inject failures per operation name via FailOn.
type Memory struct {
	mu sync.RWMutex

	works      map[string]model.Work
	chapters   map[string]model.Chapter
	scenes     map[string]model.Scene
	entities   map[string]model.Entity
	references map[string]model.EntityReference
	evolutions map[string]model.EvolutionRecord
	prompts    map[string]model.Prompt
	images     map[string]model.GeneratedImage
	reports    map[string]model.QualityReport
	jobs       map[string]model.ChapterJob
	edges      map[string]model.SceneEntityEdge

	failures map[string]error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		works:      make(map[string]model.Work),
		chapters:   make(map[string]model.Chapter),
		scenes:     make(map[string]model.Scene),
		entities:   make(map[string]model.Entity),
		references: make(map[string]model.EntityReference),
		evolutions: make(map[string]model.EvolutionRecord),
		prompts:    make(map[string]model.Prompt),
		images:     make(map[string]model.GeneratedImage),
		reports:    make(map[string]model.QualityReport),
		jobs:       make(map[string]model.ChapterJob),
		edges:      make(map[string]model.SceneEntityEdge),
		failures:   make(map[string]error),
	}
}

// FailOn makes the named operation (e.g. "scenes.upsert") fail until
// cleared with ClearFailures. Test hook.
func (m *Memory) FailOn(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = apperr.Persistence(errInjected)
}

// ClearFailures removes all injected failures.
func (m *Memory) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

func (m *Memory) injected(op string) error {
	return m.failures[op]
}

func (m *Memory) Works() Works           { return worksRepo{m} }
func (m *Memory) Chapters() Chapters     { return chaptersRepo{m} }
func (m *Memory) Scenes() Scenes         { return scenesRepo{m} }
func (m *Memory) Entities() Entities     { return entitiesRepo{m} }
func (m *Memory) References() References { return referencesRepo{m} }
func (m *Memory) Evolutions() Evolutions { return evolutionsRepo{m} }
func (m *Memory) Prompts() Prompts       { return promptsRepo{m} }
func (m *Memory) Images() Images         { return imagesRepo{m} }
func (m *Memory) Reports() Reports       { return reportsRepo{m} }
func (m *Memory) Jobs() Jobs             { return jobsRepo{m} }
func (m *Memory) Edges() Edges           { return edgesRepo{m} }

type worksRepo struct{ m *Memory }

func (r worksRepo) Get(_ context.Context, id string) (*model.Work, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("works.get"); err != nil {
		return nil, err
	}
	w, ok := r.m.works[id]
	if !ok {
		return nil, apperr.NotFound("work", id)
	}
	return &w, nil
}

func (r worksRepo) List(_ context.Context, f WorkFilter) ([]model.Work, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("works.list"); err != nil {
		return nil, err
	}
	var out []model.Work
	for _, w := range r.m.works {
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r worksRepo) Upsert(_ context.Context, w model.Work) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("works.upsert"); err != nil {
		return err
	}
	r.m.works[w.ID] = w
	return nil
}

func (r worksRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("works.delete"); err != nil {
		return err
	}
	delete(r.m.works, id)
	return nil
}

type chaptersRepo struct{ m *Memory }

func (r chaptersRepo) Get(_ context.Context, id string) (*model.Chapter, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("chapters.get"); err != nil {
		return nil, err
	}
	c, ok := r.m.chapters[id]
	if !ok {
		return nil, apperr.NotFound("chapter", id)
	}
	return &c, nil
}

func (r chaptersRepo) List(_ context.Context, f ChapterFilter) ([]model.Chapter, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("chapters.list"); err != nil {
		return nil, err
	}
	var out []model.Chapter
	for _, c := range r.m.chapters {
		if f.WorkID != "" && c.WorkID != f.WorkID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkID != out[j].WorkID {
			return out[i].WorkID < out[j].WorkID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

func (r chaptersRepo) Upsert(_ context.Context, c model.Chapter) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("chapters.upsert"); err != nil {
		return err
	}
	r.m.chapters[c.ID] = c
	return nil
}

func (r chaptersRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("chapters.delete"); err != nil {
		return err
	}
	delete(r.m.chapters, id)
	return nil
}

type scenesRepo struct{ m *Memory }

func (r scenesRepo) Get(_ context.Context, id string) (*model.Scene, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("scenes.get"); err != nil {
		return nil, err
	}
	s, ok := r.m.scenes[id]
	if !ok {
		return nil, apperr.NotFound("scene", id)
	}
	return &s, nil
}

func (r scenesRepo) List(_ context.Context, f SceneFilter) ([]model.Scene, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("scenes.list"); err != nil {
		return nil, err
	}
	var out []model.Scene
	for _, s := range r.m.scenes {
		if f.ChapterID != "" && s.ChapterID != f.ChapterID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChunkIndex != out[j].ChunkIndex {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		return out[i].SceneIndex < out[j].SceneIndex
	})
	return out, nil
}

func (r scenesRepo) Upsert(_ context.Context, s model.Scene) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("scenes.upsert"); err != nil {
		return err
	}
	r.m.scenes[s.ID] = s
	return nil
}

func (r scenesRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("scenes.delete"); err != nil {
		return err
	}
	delete(r.m.scenes, id)
	return nil
}

type entitiesRepo struct{ m *Memory }

func (r entitiesRepo) Get(_ context.Context, id string) (*model.Entity, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("entities.get"); err != nil {
		return nil, err
	}
	e, ok := r.m.entities[id]
	if !ok {
		return nil, apperr.NotFound("entity", id)
	}
	return &e, nil
}

func (r entitiesRepo) List(_ context.Context, f EntityFilter) ([]model.Entity, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("entities.list"); err != nil {
		return nil, err
	}
	var out []model.Entity
	for _, e := range r.m.entities {
		if f.WorkID != "" && e.WorkID != f.WorkID {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.ActiveOnly && !e.Active {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstAppearance != out[j].FirstAppearance {
			return out[i].FirstAppearance < out[j].FirstAppearance
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r entitiesRepo) Upsert(_ context.Context, e model.Entity) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("entities.upsert"); err != nil {
		return err
	}
	r.m.entities[e.ID] = e
	return nil
}

func (r entitiesRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("entities.delete"); err != nil {
		return err
	}
	delete(r.m.entities, id)
	return nil
}

type referencesRepo struct{ m *Memory }

func (r referencesRepo) Get(_ context.Context, id string) (*model.EntityReference, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("references.get"); err != nil {
		return nil, err
	}
	ref, ok := r.m.references[id]
	if !ok {
		return nil, apperr.NotFound("reference", id)
	}
	return &ref, nil
}

func (r referencesRepo) List(_ context.Context, f ReferenceFilter) ([]model.EntityReference, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("references.list"); err != nil {
		return nil, err
	}
	var out []model.EntityReference
	for _, ref := range r.m.references {
		if f.EntityID != "" && ref.EntityID != f.EntityID {
			continue
		}
		if f.StylePreset != "" && ref.StylePreset != f.StylePreset {
			continue
		}
		if f.ActiveOnly && !ref.Active {
			continue
		}
		out = append(out, ref)
	}
	// Highest priority first; ties go to the most recent chapter.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].AddedAtChapter != out[j].AddedAtChapter {
			return out[i].AddedAtChapter > out[j].AddedAtChapter
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r referencesRepo) Upsert(_ context.Context, ref model.EntityReference) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("references.upsert"); err != nil {
		return err
	}
	r.m.references[ref.ID] = ref
	return nil
}

func (r referencesRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("references.delete"); err != nil {
		return err
	}
	delete(r.m.references, id)
	return nil
}

type evolutionsRepo struct{ m *Memory }

func (r evolutionsRepo) Get(_ context.Context, id string) (*model.EvolutionRecord, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("evolutions.get"); err != nil {
		return nil, err
	}
	rec, ok := r.m.evolutions[id]
	if !ok {
		return nil, apperr.NotFound("evolution record", id)
	}
	return &rec, nil
}

func (r evolutionsRepo) List(_ context.Context, f EvolutionFilter) ([]model.EvolutionRecord, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("evolutions.list"); err != nil {
		return nil, err
	}
	var out []model.EvolutionRecord
	for _, rec := range r.m.evolutions {
		if f.EntityID != "" && rec.EntityID != f.EntityID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AtChapter != out[j].AtChapter {
			return out[i].AtChapter < out[j].AtChapter
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r evolutionsRepo) Upsert(_ context.Context, rec model.EvolutionRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("evolutions.upsert"); err != nil {
		return err
	}
	r.m.evolutions[rec.ID] = rec
	return nil
}

func (r evolutionsRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("evolutions.delete"); err != nil {
		return err
	}
	delete(r.m.evolutions, id)
	return nil
}

type promptsRepo struct{ m *Memory }

func (r promptsRepo) Get(_ context.Context, id string) (*model.Prompt, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("prompts.get"); err != nil {
		return nil, err
	}
	p, ok := r.m.prompts[id]
	if !ok {
		return nil, apperr.NotFound("prompt", id)
	}
	return &p, nil
}

func (r promptsRepo) List(_ context.Context, f PromptFilter) ([]model.Prompt, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("prompts.list"); err != nil {
		return nil, err
	}
	var out []model.Prompt
	for _, p := range r.m.prompts {
		if f.SceneID != "" && p.SceneID != f.SceneID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r promptsRepo) Upsert(_ context.Context, p model.Prompt) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("prompts.upsert"); err != nil {
		return err
	}
	r.m.prompts[p.ID] = p
	return nil
}

func (r promptsRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("prompts.delete"); err != nil {
		return err
	}
	delete(r.m.prompts, id)
	return nil
}

type imagesRepo struct{ m *Memory }

func (r imagesRepo) Get(_ context.Context, id string) (*model.GeneratedImage, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("images.get"); err != nil {
		return nil, err
	}
	img, ok := r.m.images[id]
	if !ok {
		return nil, apperr.NotFound("image", id)
	}
	return &img, nil
}

func (r imagesRepo) List(_ context.Context, f ImageFilter) ([]model.GeneratedImage, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("images.list"); err != nil {
		return nil, err
	}
	var out []model.GeneratedImage
	for _, img := range r.m.images {
		if f.SceneID != "" && img.SceneID != f.SceneID {
			continue
		}
		if f.SelectedOnly && !img.Selected {
			continue
		}
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r imagesRepo) Upsert(_ context.Context, img model.GeneratedImage) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("images.upsert"); err != nil {
		return err
	}
	r.m.images[img.ID] = img
	return nil
}

func (r imagesRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("images.delete"); err != nil {
		return err
	}
	delete(r.m.images, id)
	return nil
}

type reportsRepo struct{ m *Memory }

func (r reportsRepo) Get(_ context.Context, id string) (*model.QualityReport, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("reports.get"); err != nil {
		return nil, err
	}
	rep, ok := r.m.reports[id]
	if !ok {
		return nil, apperr.NotFound("quality report", id)
	}
	return &rep, nil
}

func (r reportsRepo) List(_ context.Context, f ReportFilter) ([]model.QualityReport, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("reports.list"); err != nil {
		return nil, err
	}
	var out []model.QualityReport
	for _, rep := range r.m.reports {
		if f.ImageID != "" && rep.ImageID != f.ImageID {
			continue
		}
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reportsRepo) Upsert(_ context.Context, rep model.QualityReport) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("reports.upsert"); err != nil {
		return err
	}
	r.m.reports[rep.ID] = rep
	return nil
}

func (r reportsRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("reports.delete"); err != nil {
		return err
	}
	delete(r.m.reports, id)
	return nil
}

type jobsRepo struct{ m *Memory }

func (r jobsRepo) Get(_ context.Context, id string) (*model.ChapterJob, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("jobs.get"); err != nil {
		return nil, err
	}
	j, ok := r.m.jobs[id]
	if !ok {
		return nil, apperr.NotFound("chapter job", id)
	}
	return &j, nil
}

func (r jobsRepo) List(_ context.Context, f JobFilter) ([]model.ChapterJob, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("jobs.list"); err != nil {
		return nil, err
	}
	var out []model.ChapterJob
	for _, j := range r.m.jobs {
		if f.WorkID != "" && j.WorkID != f.WorkID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkID != out[j].WorkID {
			return out[i].WorkID < out[j].WorkID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

func (r jobsRepo) Upsert(_ context.Context, j model.ChapterJob) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("jobs.upsert"); err != nil {
		return err
	}
	r.m.jobs[j.ID] = j
	return nil
}

func (r jobsRepo) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("jobs.delete"); err != nil {
		return err
	}
	delete(r.m.jobs, id)
	return nil
}

type edgesRepo struct{ m *Memory }

func edgeKey(sceneID, entityID string) string { return sceneID + "|" + entityID }

func (r edgesRepo) List(_ context.Context, f EdgeFilter) ([]model.SceneEntityEdge, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if err := r.m.injected("edges.list"); err != nil {
		return nil, err
	}
	var out []model.SceneEntityEdge
	for _, e := range r.m.edges {
		if f.SceneID != "" && e.SceneID != f.SceneID {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SceneID != out[j].SceneID {
			return out[i].SceneID < out[j].SceneID
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

func (r edgesRepo) Upsert(_ context.Context, e model.SceneEntityEdge) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("edges.upsert"); err != nil {
		return err
	}
	r.m.edges[edgeKey(e.SceneID, e.EntityID)] = e
	return nil
}

func (r edgesRepo) Delete(_ context.Context, sceneID, entityID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.injected("edges.delete"); err != nil {
		return err
	}
	delete(r.m.edges, edgeKey(sceneID, entityID))
	return nil
}
