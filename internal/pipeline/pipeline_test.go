package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/blobstore"
	"github.com/storyglass/storyglass/internal/chunker"
	"github.com/storyglass/storyglass/internal/compose"
	"github.com/storyglass/storyglass/internal/entity"
	"github.com/storyglass/storyglass/internal/imagegen"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
	"github.com/storyglass/storyglass/internal/quality"
	"github.com/storyglass/storyglass/internal/refimage"
	"github.com/storyglass/storyglass/internal/resolver"
	"github.com/storyglass/storyglass/internal/scene"
	"github.com/storyglass/storyglass/internal/store"
)

const chapterText = "Lyra walked slowly across the old stone bridge, her staff glowing faint blue in the morning mist, and the towers of the city rose gray and silent behind her as the distant bells began to ring."

type recordingNotifier struct {
	mu     sync.Mutex
	workID string
	status model.ChapterStatus
	calls  int
}

func (n *recordingNotifier) ChapterDone(_ context.Context, workID string, _ int, status model.ChapterStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.workID = workID
	n.status = status
	n.calls++
}

func oneSceneModel() *providers.MockTextModel {
	return &providers.MockTextModel{
		ExtractScenesFunc: func(_ context.Context, req providers.SceneExtractionRequest) ([]providers.SceneCandidate, error) {
			return []providers.SceneCandidate{{
				Text:          req.ChunkText[:120],
				Summary:       "Lyra crosses the bridge at dawn",
				VisualScore:   0.9,
				ImpactScore:   0.9,
				TimeOfDay:     "dawn",
				EmotionalTone: "tense",
			}}, nil
		},
		ExtractEntitiesFunc: func(_ context.Context, _ providers.EntityExtractionRequest) (*providers.EntityExtraction, error) {
			return &providers.EntityExtraction{
				Characters: []providers.ExtractedCharacter{
					{Name: "Lyra", Description: "a young mage with silver hair and a glowing staff"},
				},
			}, nil
		},
	}
}

func testPipeline(text *providers.MockTextModel, img *providers.MockImageModel, n Notifier) (*Pipeline, *store.Memory) {
	st := store.NewMemory()
	res := resolver.New(resolver.Config{})

	genCfg := imagegen.Config{
		MaxAttempts:  3,
		RetryBase:    time.Millisecond,
		PollInterval: time.Millisecond,
		PollTimeout:  100 * time.Millisecond,
	}
	refCfg := refimage.DefaultConfig()
	refCfg.PollInterval = time.Millisecond
	refCfg.PollTimeout = 100 * time.Millisecond

	deps := Deps{
		Store:     st,
		Scenes:    scene.NewExtractor(text, scene.DefaultConfig(), nil),
		Resolver:  res,
		Extractor: entity.NewExtractor(text, nil),
		Merger:    entity.NewMerger(res.Similarity, nil),
		Tracker:   entity.NewTracker(res.Similarity, nil),
		Refs:      refimage.NewManager(st.References(), blobstore.NewMemory(), img, refCfg, nil),
		Composer:  compose.New(compose.DefaultConfig(), nil),
		Generator: imagegen.New(st.Images(), st.Scenes(), img, genCfg, nil),
		Assessor:  quality.New(text, nil, nil),
		Notifier:  n,
	}
	cfg := DefaultConfig()
	cfg.ChunkStrategy = chunker.StrategyParagraph
	return New(deps, cfg), st
}

func seedChapter(t *testing.T, st *store.Memory) {
	t.Helper()
	ctx := context.Background()
	if err := st.Works().Upsert(ctx, model.Work{
		ID: "w1", Title: "The Glass Road", StylePreset: "fantasy",
		ContentType: model.ContentTypeSingle, TotalChapters: 1,
		Status: model.WorkStatusInProgress,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.Chapters().Upsert(ctx, model.Chapter{
		ID: "c1", WorkID: "w1", Ordinal: 1, Text: chapterText,
		WordCount: len(strings.Fields(chapterText)), Status: model.ChapterStatusPending,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestProcessChapter_FullSequence(t *testing.T) {
	text := oneSceneModel()
	img := &providers.MockImageModel{}
	n := &recordingNotifier{}
	p, st := testPipeline(text, img, n)
	ctx := context.Background()
	seedChapter(t, st)

	result, err := p.ProcessChapter(ctx, "c1")
	if err != nil {
		t.Fatalf("ProcessChapter: %v", err)
	}
	if result.Chapter.Status != model.ChapterStatusCompleted {
		t.Fatalf("chapter status = %s, want completed", result.Chapter.Status)
	}
	if len(result.Scenes) != 1 {
		t.Fatalf("expected 1 scene, got %d", len(result.Scenes))
	}
	if result.Scenes[0].TimeOfDay != model.TimeOfDayDawn || result.Scenes[0].Tone != model.ToneTense {
		t.Fatalf("scene enums not normalized: %+v", result.Scenes[0])
	}

	entities, _ := st.Entities().List(ctx, store.EntityFilter{WorkID: "w1"})
	if len(entities) != 1 || entities[0].Name != "Lyra" {
		t.Fatalf("expected entity Lyra, got %+v", entities)
	}
	if entities[0].FirstAppearance != 1 || !entities[0].Active {
		t.Fatalf("bad entity fields: %+v", entities[0])
	}

	scenes, _ := st.Scenes().List(ctx, store.SceneFilter{ChapterID: "c1"})
	if len(scenes) != 1 {
		t.Fatalf("expected 1 persisted scene, got %d", len(scenes))
	}
	images, _ := st.Images().List(ctx, store.ImageFilter{SceneID: scenes[0].ID})
	if len(images) != 1 || images[0].Status != model.ImageStatusSuccess || !images[0].Selected {
		t.Fatalf("bad images: %+v", images)
	}
	if scenes[0].ActiveImageID != images[0].ID {
		t.Fatalf("scene image pointer %s != %s", scenes[0].ActiveImageID, images[0].ID)
	}
	prompts, _ := st.Prompts().List(ctx, store.PromptFilter{SceneID: scenes[0].ID})
	if len(prompts) != 1 {
		t.Fatalf("expected 1 prompt, got %d", len(prompts))
	}
	reports, _ := st.Reports().List(ctx, store.ReportFilter{ImageID: images[0].ID})
	if len(reports) != 1 {
		t.Fatalf("expected 1 quality report, got %d", len(reports))
	}

	if n.calls != 1 || n.workID != "w1" || n.status != model.ChapterStatusCompleted {
		t.Fatalf("notifier not told: %+v", n)
	}
}

func TestProcessChapter_ResolvedEntityGetsEdgeAndReference(t *testing.T) {
	text := oneSceneModel()
	text.ExtractEntitiesFunc = func(_ context.Context, _ providers.EntityExtractionRequest) (*providers.EntityExtraction, error) {
		return &providers.EntityExtraction{}, nil
	}
	img := &providers.MockImageModel{}
	p, st := testPipeline(text, img, nil)
	ctx := context.Background()
	seedChapter(t, st)
	st.Entities().Upsert(ctx, model.Entity{
		ID: "e-lyra", WorkID: "w1", Name: "Lyra", Kind: model.KindCharacter,
		Description: "a young mage", FirstAppearance: 1, Active: true,
	})

	if _, err := p.ProcessChapter(ctx, "c1"); err != nil {
		t.Fatalf("ProcessChapter: %v", err)
	}

	edges, _ := st.Edges().List(ctx, store.EdgeFilter{EntityID: "e-lyra"})
	if len(edges) == 0 {
		t.Fatal("expected a scene-entity edge for the resolved mention")
	}
	refs, _ := st.References().List(ctx, store.ReferenceFilter{EntityID: "e-lyra", ActiveOnly: true})
	if len(refs) != 1 || refs[0].Method != model.MethodAI {
		t.Fatalf("expected one generated reference, got %+v", refs)
	}
	// One submission for the reference image, one for the scene image.
	if len(img.GenerateCalls) != 2 {
		t.Fatalf("expected 2 image submissions, got %d", len(img.GenerateCalls))
	}
}

func TestProcessChapter_ContentPolicyDoesNotFailChapter(t *testing.T) {
	text := oneSceneModel()
	img := &providers.MockImageModel{
		PollFunc: func(_ context.Context, _ string) (*providers.GenerationStatus, error) {
			return &providers.GenerationStatus{
				State:        providers.GenerationFailed,
				FailureClass: providers.FailureContentPolicy,
				ErrorDetail:  "prompt rejected",
			}, nil
		},
	}
	n := &recordingNotifier{}
	p, st := testPipeline(text, img, n)
	ctx := context.Background()
	seedChapter(t, st)

	result, err := p.ProcessChapter(ctx, "c1")
	if err != nil {
		t.Fatalf("policy block must not fail the chapter: %v", err)
	}
	if result.Chapter.Status != model.ChapterStatusCompleted {
		t.Fatalf("chapter status = %s, want completed", result.Chapter.Status)
	}
	if len(img.GenerateCalls) != 1 {
		t.Fatalf("policy block must skip retries, got %d submissions", len(img.GenerateCalls))
	}
	if len(result.Images) != 1 || result.Images[0].Status != model.ImageStatusError {
		t.Fatalf("expected one errored image, got %+v", result.Images)
	}
	if len(result.Reports) != 0 {
		t.Fatal("no quality report expected for an errored image")
	}
}

func TestProcessChapter_ExtractionFailureFailsChapter(t *testing.T) {
	text := oneSceneModel()
	text.ExtractScenesFunc = func(_ context.Context, _ providers.SceneExtractionRequest) ([]providers.SceneCandidate, error) {
		return nil, apperr.UpstreamTransient(context.DeadlineExceeded)
	}
	n := &recordingNotifier{}
	p, st := testPipeline(text, &providers.MockImageModel{}, n)
	ctx := context.Background()
	seedChapter(t, st)

	_, err := p.ProcessChapter(ctx, "c1")
	if err == nil {
		t.Fatal("expected chapter failure")
	}
	chapter, _ := st.Chapters().Get(ctx, "c1")
	if chapter.Status != model.ChapterStatusFailed || chapter.Error == "" {
		t.Fatalf("bad failed chapter: %+v", chapter)
	}
	if n.status != model.ChapterStatusFailed {
		t.Fatalf("notifier status = %s, want failed", n.status)
	}
}

func TestProcessChapter_AssessmentFailureIsSwallowed(t *testing.T) {
	text := oneSceneModel()
	text.AssessImageFunc = func(_ context.Context, _ providers.AssessmentRequest) (*providers.AssessmentResult, error) {
		return nil, apperr.UpstreamTransient(context.DeadlineExceeded)
	}
	p, st := testPipeline(text, &providers.MockImageModel{}, nil)
	ctx := context.Background()
	seedChapter(t, st)

	result, err := p.ProcessChapter(ctx, "c1")
	if err != nil {
		t.Fatalf("assessment failure must not fail the chapter: %v", err)
	}
	if result.Chapter.Status != model.ChapterStatusCompleted {
		t.Fatalf("chapter status = %s, want completed", result.Chapter.Status)
	}
	if len(result.Images) != 1 || result.Images[0].Status != model.ImageStatusSuccess {
		t.Fatalf("image should still succeed: %+v", result.Images)
	}
	if len(result.Reports) != 0 {
		t.Fatal("no report expected when assessment fails")
	}
}

func TestProcessChapter_PriorSummariesReachExtraction(t *testing.T) {
	text := oneSceneModel()
	p, st := testPipeline(text, &providers.MockImageModel{}, nil)
	ctx := context.Background()
	seedChapter(t, st)
	st.Chapters().Upsert(ctx, model.Chapter{
		ID: "c2", WorkID: "w1", Ordinal: 2, Text: chapterText,
		Status: model.ChapterStatusPending,
	})
	st.Scenes().Upsert(ctx, model.Scene{
		ID: "s-prior", ChapterID: "c1", Summary: "Lyra crosses the bridge at dawn",
	})

	if _, err := p.ProcessChapter(ctx, "c2"); err != nil {
		t.Fatalf("ProcessChapter: %v", err)
	}
	if len(text.SceneCalls) == 0 {
		t.Fatal("scene extraction not invoked")
	}
	req := text.SceneCalls[len(text.SceneCalls)-1]
	if len(req.PriorSummaries) != 1 || req.PriorSummaries[0] != "Lyra crosses the bridge at dawn" {
		t.Fatalf("prior summaries not forwarded: %+v", req.PriorSummaries)
	}
}
