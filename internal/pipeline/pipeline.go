// Package pipeline runs the full per-chapter processing sequence: chunking,
// scene extraction, entity resolution, reference management, prompt
// composition, image generation and quality assessment.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/chunker"
	"github.com/storyglass/storyglass/internal/compose"
	"github.com/storyglass/storyglass/internal/entity"
	"github.com/storyglass/storyglass/internal/imagegen"
	"github.com/storyglass/storyglass/internal/mention"
	"github.com/storyglass/storyglass/internal/metrics"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/quality"
	"github.com/storyglass/storyglass/internal/refimage"
	"github.com/storyglass/storyglass/internal/resolver"
	"github.com/storyglass/storyglass/internal/scene"
	"github.com/storyglass/storyglass/internal/store"
)

// Notifier receives chapter completion events. The work scheduler implements
// this to advance successor chapters.
type Notifier interface {
	ChapterDone(ctx context.Context, workID string, ordinal int, status model.ChapterStatus)
}

// Config tunes the pipeline's chunking and stage deadlines.
type Config struct {
	ChunkStrategy chunker.Strategy
	ChunkConfig   chunker.Config

	TextDeadline    time.Duration // per text-model stage, default 60s
	ImageDeadline   time.Duration // per image attempt chain, default 300s
	PersistDeadline time.Duration // per persistence call, default 30s
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		ChunkStrategy:   chunker.StrategySemantic,
		TextDeadline:    60 * time.Second,
		ImageDeadline:   300 * time.Second,
		PersistDeadline: 30 * time.Second,
	}
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Store     store.Store
	Scenes    *scene.Extractor
	Resolver  *resolver.Resolver
	Extractor *entity.Extractor
	Merger    *entity.Merger
	Tracker   *entity.Tracker
	Refs      *refimage.Manager
	Composer  *compose.Composer
	Generator *imagegen.Generator
	Assessor  *quality.Assessor
	Notifier  Notifier
	Logger    *slog.Logger
}

// Result aggregates everything one chapter run produced.
type Result struct {
	Chapter  model.Chapter
	Scenes   []model.Scene
	Entities []model.Entity
	Images   []model.GeneratedImage
	Reports  []model.QualityReport
}

// priorContext carries the committed state inherited from the predecessor
// chapter.
type priorContext struct {
	Descriptions  map[string]string            // entity id -> description
	ReferenceByID map[string]map[string]string // entity id -> style -> pointer
	SceneSummary  []string
}

// Pipeline processes chapters one at a time. A single Pipeline value is
// safe for concurrent use across distinct chapters.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New creates a chapter pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.TextDeadline <= 0 {
		cfg.TextDeadline = 60 * time.Second
	}
	if cfg.ImageDeadline <= 0 {
		cfg.ImageDeadline = 300 * time.Second
	}
	if cfg.PersistDeadline <= 0 {
		cfg.PersistDeadline = 30 * time.Second
	}
	if cfg.ChunkStrategy == "" {
		cfg.ChunkStrategy = chunker.StrategySemantic
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger.With("component", "pipeline")}
}

// ProcessChapter runs the full sequence for one chapter. The chapter record
// ends in status completed or failed; either way the notifier is told.
func (p *Pipeline) ProcessChapter(ctx context.Context, chapterID string) (*Result, error) {
	chapter, err := p.deps.Store.Chapters().Get(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	work, err := p.deps.Store.Works().Get(ctx, chapter.WorkID)
	if err != nil {
		return nil, err
	}

	// Instrumented model calls below attribute their metrics here.
	ctx = metrics.ContextWithWork(ctx, work.ID, chapter.Ordinal)

	chapter.Status = model.ChapterStatusProcessing
	chapter.Error = ""
	if err := p.persistChapter(ctx, *chapter); err != nil {
		return nil, err
	}

	result, runErr := p.run(ctx, chapter, work)

	if runErr != nil {
		chapter.Status = model.ChapterStatusFailed
		chapter.Error = runErr.Error()
		p.logger.Error("chapter failed", "chapter", chapter.ID, "ordinal", chapter.Ordinal, "error", runErr)
	} else {
		chapter.Status = model.ChapterStatusCompleted
	}
	if err := p.persistChapter(ctx, *chapter); err != nil {
		p.logger.Error("failed to persist chapter status", "chapter", chapter.ID, "error", err)
		if runErr == nil {
			runErr = err
			chapter.Status = model.ChapterStatusFailed
		}
	}

	if p.deps.Notifier != nil {
		p.deps.Notifier.ChapterDone(ctx, chapter.WorkID, chapter.Ordinal, chapter.Status)
	}

	if result == nil {
		result = &Result{}
	}
	result.Chapter = *chapter
	return result, runErr
}

func (p *Pipeline) run(ctx context.Context, chapter *model.Chapter, work *model.Work) (*Result, error) {
	prior, err := p.buildPriorContext(ctx, work.ID, chapter.Ordinal-1)
	if err != nil {
		return nil, err
	}

	known, err := p.deps.Store.Entities().List(ctx, store.EntityFilter{WorkID: work.ID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	chunks, err := chunker.Chunk(chapter.ID, chapter.Text, p.cfg.ChunkStrategy, p.cfg.ChunkConfig)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, chunk := range chunks {
		scenes, err := p.extractScenes(ctx, chunk, work, known, prior)
		if err != nil {
			return nil, err
		}
		for _, sc := range scenes {
			sc.AnchorParagraph = anchorParagraph(chapter.Text, sc.Text)
			known, err = p.processScene(ctx, &sc, chapter, work, known, prior, result)
			if err != nil {
				return nil, err
			}
			result.Scenes = append(result.Scenes, sc)
		}
	}
	result.Entities = known
	return result, nil
}

// processScene runs steps a-f of the per-scene sequence and returns the
// updated known-entity set.
func (p *Pipeline) processScene(ctx context.Context, sc *model.Scene, chapter *model.Chapter, work *model.Work, known []model.Entity, prior *priorContext, result *Result) ([]model.Entity, error) {
	if err := p.persistScene(ctx, *sc); err != nil {
		return nil, err
	}

	mentions := mention.Find(sc.Text)
	links := p.deps.Resolver.Resolve(mentions, known)

	known, err := p.updateEntities(ctx, sc, chapter, links, known, prior)
	if err != nil {
		return nil, err
	}

	if err := p.persistEdges(ctx, sc.ID, links); err != nil {
		return nil, err
	}

	byID := make(map[string]model.Entity, len(known))
	for _, e := range known {
		byID[e.ID] = e
	}

	resolvedIDs := resolvedEntityIDs(links)
	p.ensureReferences(ctx, resolvedIDs, byID, work.StylePreset, chapter.Ordinal)

	if err := p.illustrateScene(ctx, sc, links, byID, resolvedIDs, work, chapter.Ordinal, prior, result); err != nil {
		return nil, err
	}
	return known, nil
}

// updateEntities extracts new entities from unresolved mentions, merges them
// into the known set, records description evolution and persists the result.
func (p *Pipeline) updateEntities(ctx context.Context, sc *model.Scene, chapter *model.Chapter, links []model.EntityLink, known []model.Entity, prior *priorContext) ([]model.Entity, error) {
	var unresolved []model.Mention
	var resolvedTexts []string
	for _, l := range links {
		if l.Resolved() {
			resolvedTexts = append(resolvedTexts, l.Mention.Text)
		} else if !l.Mention.Pronoun {
			unresolved = append(unresolved, l.Mention)
		}
	}

	textCtx, cancel := context.WithTimeout(ctx, p.cfg.TextDeadline)
	fresh, err := p.deps.Extractor.ExtractNew(textCtx, chapter.WorkID, sc.Text, chapter.Ordinal, unresolved, resolvedTexts)
	cancel()
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return known, nil
	}

	// Evolution is measured against the committed predecessor description
	// when one exists, so intra-chapter churn does not fragment the record.
	prevDesc := make(map[string]string, len(known))
	for _, e := range known {
		if d, ok := prior.Descriptions[e.ID]; ok {
			prevDesc[e.ID] = d
		} else {
			prevDesc[e.ID] = e.Description
		}
	}

	merged := p.deps.Merger.Merge(fresh, known)

	for _, e := range merged {
		if prev, ok := prevDesc[e.ID]; ok && prev != e.Description && p.deps.Tracker != nil {
			evolved := e
			evolved.Description = prev
			if rec := p.deps.Tracker.Track(evolved, e.Description, chapter.Ordinal); rec != nil {
				if err := p.deps.Store.Evolutions().Upsert(ctx, *rec); err != nil {
					p.logger.Warn("failed to persist evolution record", "entity", e.ID, "error", err)
				}
			}
		}
		if err := p.persistEntity(ctx, e); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func (p *Pipeline) persistEdges(ctx context.Context, sceneID string, links []model.EntityLink) error {
	for _, l := range links {
		if !l.Resolved() {
			continue
		}
		edge := model.SceneEntityEdge{
			SceneID:    sceneID,
			EntityID:   l.ResolvedEntityID,
			Confidence: l.Confidence,
			Mention:    l.Mention.Text,
		}
		pctx, cancel := context.WithTimeout(ctx, p.cfg.PersistDeadline)
		err := p.deps.Store.Edges().Upsert(pctx, edge)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// ensureReferences makes sure every resolved entity has an active reference
// image in the work's style. Failures are logged and skipped; a missing
// reference never fails the scene.
func (p *Pipeline) ensureReferences(ctx context.Context, resolvedIDs []string, byID map[string]model.Entity, stylePreset string, ordinal int) {
	for _, id := range resolvedIDs {
		e, ok := byID[id]
		if !ok {
			continue
		}
		imgCtx, cancel := context.WithTimeout(ctx, p.cfg.ImageDeadline)
		_, err := p.deps.Refs.EnsureReference(imgCtx, e, stylePreset, ordinal, "", 1)
		cancel()
		if err != nil {
			p.logger.Warn("reference image unavailable", "entity", e.Name, "error", err)
		}
	}
}

// illustrateScene composes the prompt, generates the image and assesses it.
// A terminal generation failure leaves the scene valid with an errored
// image; content policy blocks additionally stamp a policy note. Quality
// assessment failures are logged and skipped.
func (p *Pipeline) illustrateScene(ctx context.Context, sc *model.Scene, links []model.EntityLink, byID map[string]model.Entity, resolvedIDs []string, work *model.Work, ordinal int, prior *priorContext, result *Result) error {
	refs, err := p.deps.Refs.SelectForScene(ctx, resolvedIDs, work.StylePreset)
	if err != nil {
		p.logger.Warn("reference selection failed, falling back to prior pointers", "scene", sc.ID, "error", err)
		refs = priorReferences(resolvedIDs, work.StylePreset, prior)
	}

	prompt, err := p.deps.Composer.Compose(compose.Input{
		Scene:          *sc,
		Links:          links,
		Entities:       byID,
		References:     refs,
		StylePreset:    work.StylePreset,
		CustomStyle:    work.CustomStyle,
		ChapterOrdinal: ordinal,
	})
	if err != nil {
		return err
	}
	if err := p.persistPrompt(ctx, *prompt); err != nil {
		return err
	}

	imgCtx, cancel := context.WithTimeout(ctx, p.cfg.ImageDeadline)
	img, genErr := p.deps.Generator.Generate(imgCtx, *sc, *prompt)
	cancel()
	if img == nil {
		return genErr
	}
	if genErr != nil {
		if apperr.IsInvariant(genErr) {
			return genErr
		}
		if apperr.KindOf(genErr) == apperr.KindContentPolicy {
			p.logger.Warn("image blocked by content policy", "scene", sc.ID, "detail", img.ErrorDetail)
		} else {
			p.logger.Warn("image generation failed", "scene", sc.ID, "error", genErr)
		}
		result.Images = append(result.Images, *img)
		return nil
	}
	sc.ActiveImageID = img.ID
	result.Images = append(result.Images, *img)

	textCtx, cancel := context.WithTimeout(ctx, p.cfg.TextDeadline)
	report, err := p.deps.Assessor.Assess(textCtx, *img, *prompt, sc.Summary)
	cancel()
	if err != nil {
		p.logger.Warn("quality assessment failed", "image", img.ID, "error", err)
		return nil
	}
	if err := p.deps.Store.Reports().Upsert(ctx, *report); err != nil {
		p.logger.Warn("failed to persist quality report", "image", img.ID, "error", err)
		return nil
	}
	result.Reports = append(result.Reports, *report)
	return nil
}

func (p *Pipeline) extractScenes(ctx context.Context, chunk model.Chunk, work *model.Work, known []model.Entity, prior *priorContext) ([]model.Scene, error) {
	var characters, locations []string
	for _, e := range known {
		switch e.Kind {
		case model.KindCharacter:
			characters = append(characters, e.Name)
		case model.KindLocation:
			locations = append(locations, e.Name)
		}
	}

	textCtx, cancel := context.WithTimeout(ctx, p.cfg.TextDeadline)
	defer cancel()
	return p.deps.Scenes.Extract(textCtx, chunk, scene.WorkContext{
		WorkTitle:       work.Title,
		StylePreset:     work.StylePreset,
		KnownCharacters: characters,
		KnownLocations:  locations,
		PriorSummaries:  prior.SceneSummary,
	})
}

// buildPriorContext loads the committed predecessor state: entity
// descriptions, last reference pointers per entity per style, and scene
// summaries. Ordinal 0 means no predecessor.
func (p *Pipeline) buildPriorContext(ctx context.Context, workID string, ordinal int) (*priorContext, error) {
	pc := &priorContext{
		Descriptions:  make(map[string]string),
		ReferenceByID: make(map[string]map[string]string),
	}
	if ordinal < 1 {
		return pc, nil
	}

	chapters, err := p.deps.Store.Chapters().List(ctx, store.ChapterFilter{WorkID: workID})
	if err != nil {
		return nil, err
	}
	var predecessor *model.Chapter
	for i := range chapters {
		if chapters[i].Ordinal == ordinal {
			predecessor = &chapters[i]
			break
		}
	}
	if predecessor == nil {
		return pc, nil
	}

	entities, err := p.deps.Store.Entities().List(ctx, store.EntityFilter{WorkID: workID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		pc.Descriptions[e.ID] = e.Description
		refs, err := p.deps.Store.References().List(ctx, store.ReferenceFilter{EntityID: e.ID, ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			if pc.ReferenceByID[e.ID] == nil {
				pc.ReferenceByID[e.ID] = make(map[string]string)
			}
			if _, ok := pc.ReferenceByID[e.ID][r.StylePreset]; !ok {
				pc.ReferenceByID[e.ID][r.StylePreset] = r.ImagePointer
			}
		}
	}

	scenes, err := p.deps.Store.Scenes().List(ctx, store.SceneFilter{ChapterID: predecessor.ID})
	if err != nil {
		return nil, err
	}
	for _, s := range scenes {
		if s.Summary != "" {
			pc.SceneSummary = append(pc.SceneSummary, s.Summary)
		}
	}
	return pc, nil
}

// priorReferences rebuilds prompt references from the predecessor chapter's
// committed pointers when live selection is unavailable.
func priorReferences(resolvedIDs []string, stylePreset string, prior *priorContext) []model.PromptReference {
	weights := [...]float64{1.0, 0.8, 0.6}
	var out []model.PromptReference
	for _, id := range resolvedIDs {
		if len(out) == len(weights) {
			break
		}
		pointer, ok := prior.ReferenceByID[id][stylePreset]
		if !ok {
			continue
		}
		out = append(out, model.PromptReference{
			EntityID: id,
			Pointer:  pointer,
			Weight:   weights[len(out)],
		})
	}
	return out
}

// resolvedEntityIDs returns the distinct resolved entity ids in link order,
// which is confidence-descending.
func resolvedEntityIDs(links []model.EntityLink) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range links {
		if !l.Resolved() || seen[l.ResolvedEntityID] {
			continue
		}
		seen[l.ResolvedEntityID] = true
		out = append(out, l.ResolvedEntityID)
	}
	return out
}

// anchorParagraph locates the scene text within the chapter and returns the
// index of the paragraph it starts in. Anchors are paragraph indices, not
// character offsets.
func anchorParagraph(chapterText, sceneText string) int {
	probe := sceneText
	if len(probe) > 60 {
		probe = probe[:60]
	}
	probe = strings.TrimSpace(probe)
	if probe == "" {
		return 0
	}
	pos := strings.Index(chapterText, probe)
	if pos < 0 {
		return 0
	}
	return strings.Count(strings.ReplaceAll(chapterText[:pos], "\r\n", "\n"), "\n\n")
}

func (p *Pipeline) persistChapter(ctx context.Context, c model.Chapter) error {
	pctx, cancel := context.WithTimeout(ctx, p.cfg.PersistDeadline)
	defer cancel()
	if err := p.deps.Store.Chapters().Upsert(pctx, c); err != nil {
		return fmt.Errorf("persist chapter %s: %w", c.ID, err)
	}
	return nil
}

func (p *Pipeline) persistScene(ctx context.Context, s model.Scene) error {
	pctx, cancel := context.WithTimeout(ctx, p.cfg.PersistDeadline)
	defer cancel()
	return p.deps.Store.Scenes().Upsert(pctx, s)
}

func (p *Pipeline) persistEntity(ctx context.Context, e model.Entity) error {
	pctx, cancel := context.WithTimeout(ctx, p.cfg.PersistDeadline)
	defer cancel()
	return p.deps.Store.Entities().Upsert(pctx, e)
}

func (p *Pipeline) persistPrompt(ctx context.Context, pr model.Prompt) error {
	pctx, cancel := context.WithTimeout(ctx, p.cfg.PersistDeadline)
	defer cancel()
	return p.deps.Store.Prompts().Upsert(pctx, pr)
}
