package scene

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
)

func chunkOf(text string) model.Chunk {
	return model.Chunk{ID: "c1", ChapterID: "ch1", Index: 0, Text: text}
}

func longText() string {
	return strings.Repeat("The riders crossed the valley under a heavy sky. ", 10)
}

func TestExtract_SkipsShortChunks(t *testing.T) {
	mock := &providers.MockTextModel{}
	ex := NewExtractor(mock, DefaultConfig(), nil)

	scenes, err := ex.Extract(context.Background(), chunkOf("too short"), WorkContext{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if scenes != nil {
		t.Fatalf("expected no scenes for short chunk, got %d", len(scenes))
	}
	if len(mock.SceneCalls) != 0 {
		t.Fatal("model should not be called for short chunks")
	}
}

func TestExtract_FiltersAndSorts(t *testing.T) {
	mock := &providers.MockTextModel{
		ExtractScenesFunc: func(_ context.Context, _ providers.SceneExtractionRequest) ([]providers.SceneCandidate, error) {
			return []providers.SceneCandidate{
				{Text: "low impact", Summary: "a", VisualScore: 0.9, ImpactScore: 0.1},
				{Text: "second best", Summary: "b", VisualScore: 0.8, ImpactScore: 0.6},
				{Text: "best", Summary: "c", VisualScore: 0.7, ImpactScore: 0.9},
				{Text: "low visual", Summary: "d", VisualScore: 0.1, ImpactScore: 0.9},
			}, nil
		},
	}
	ex := NewExtractor(mock, DefaultConfig(), nil)

	scenes, err := ex.Extract(context.Background(), chunkOf(longText()), WorkContext{WorkTitle: "T"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("expected 2 surviving scenes, got %d", len(scenes))
	}
	if scenes[0].Summary != "c" || scenes[1].Summary != "b" {
		t.Fatalf("wrong order: %s, %s", scenes[0].Summary, scenes[1].Summary)
	}
	for i, s := range scenes {
		if s.SceneIndex != i {
			t.Fatalf("scene %d has SceneIndex %d", i, s.SceneIndex)
		}
		if s.ChapterID != "ch1" || s.ChunkIndex != 0 {
			t.Fatalf("scene %d lost chunk provenance", i)
		}
		if s.ID == "" {
			t.Fatalf("scene %d has no id", i)
		}
	}
}

func TestExtract_TiesKeepInputOrder(t *testing.T) {
	mock := &providers.MockTextModel{
		ExtractScenesFunc: func(_ context.Context, _ providers.SceneExtractionRequest) ([]providers.SceneCandidate, error) {
			return []providers.SceneCandidate{
				{Text: "first", Summary: "first", VisualScore: 0.8, ImpactScore: 0.7},
				{Text: "second", Summary: "second", VisualScore: 0.8, ImpactScore: 0.7},
			}, nil
		},
	}
	ex := NewExtractor(mock, DefaultConfig(), nil)

	scenes, err := ex.Extract(context.Background(), chunkOf(longText()), WorkContext{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(scenes) != 2 || scenes[0].Summary != "first" || scenes[1].Summary != "second" {
		t.Fatalf("ties must preserve input order, got %+v", scenes)
	}
}

func TestExtract_ClampsScores(t *testing.T) {
	mock := &providers.MockTextModel{
		ExtractScenesFunc: func(_ context.Context, _ providers.SceneExtractionRequest) ([]providers.SceneCandidate, error) {
			return []providers.SceneCandidate{
				{Text: "over", Summary: "over", VisualScore: 1.7, ImpactScore: 2.3},
			}, nil
		},
	}
	ex := NewExtractor(mock, DefaultConfig(), nil)

	scenes, err := ex.Extract(context.Background(), chunkOf(longText()), WorkContext{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(scenes) != 1 {
		t.Fatalf("expected 1 scene, got %d", len(scenes))
	}
	if scenes[0].VisualScore != 1.0 || scenes[0].ImpactScore != 1.0 {
		t.Fatalf("scores not clamped: %v %v", scenes[0].VisualScore, scenes[0].ImpactScore)
	}
}

func TestExtract_MaxScenesCap(t *testing.T) {
	mock := &providers.MockTextModel{
		ExtractScenesFunc: func(_ context.Context, _ providers.SceneExtractionRequest) ([]providers.SceneCandidate, error) {
			out := make([]providers.SceneCandidate, 6)
			for i := range out {
				out[i] = providers.SceneCandidate{Text: "scene text", Summary: "s", VisualScore: 0.9, ImpactScore: 0.9}
			}
			return out, nil
		},
	}
	cfg := DefaultConfig()
	cfg.MaxScenes = 2
	ex := NewExtractor(mock, cfg, nil)

	scenes, err := ex.Extract(context.Background(), chunkOf(longText()), WorkContext{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("expected cap at 2, got %d", len(scenes))
	}
}

func TestExtract_FormatErrorPassthrough(t *testing.T) {
	want := apperr.ExtractionFormat(errors.New("not json"))
	mock := &providers.MockTextModel{
		ExtractScenesFunc: func(_ context.Context, _ providers.SceneExtractionRequest) ([]providers.SceneCandidate, error) {
			return nil, want
		},
	}
	ex := NewExtractor(mock, DefaultConfig(), nil)

	_, err := ex.Extract(context.Background(), chunkOf(longText()), WorkContext{})
	if apperr.KindOf(err) != apperr.KindExtractionFormat {
		t.Fatalf("expected extraction_format, got %v", err)
	}
	if apperr.IsRetryable(err) {
		t.Fatal("format errors must not be retryable")
	}
}

func TestExtract_TransportErrorRetryable(t *testing.T) {
	mock := &providers.MockTextModel{
		ExtractScenesFunc: func(_ context.Context, _ providers.SceneExtractionRequest) ([]providers.SceneCandidate, error) {
			return nil, errors.New("connection reset")
		},
	}
	ex := NewExtractor(mock, DefaultConfig(), nil)

	_, err := ex.Extract(context.Background(), chunkOf(longText()), WorkContext{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperr.IsRetryable(err) {
		t.Fatalf("bare transport errors must surface retryable, got %v", err)
	}
}

func TestNormalizeTimeOfDay(t *testing.T) {
	cases := map[string]model.TimeOfDay{
		"dawn":             model.TimeOfDayDawn,
		"Sunrise":          model.TimeOfDayDawn,
		"late afternoon":   model.TimeOfDayMidday,
		"twilight":         model.TimeOfDayDusk,
		"midnight":         model.TimeOfDayNight,
		"sometime unclear": model.TimeOfDayUnknown,
		"":                 model.TimeOfDayUnknown,
	}
	for in, want := range cases {
		if got := NormalizeTimeOfDay(in); got != want {
			t.Errorf("NormalizeTimeOfDay(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTone(t *testing.T) {
	cases := map[string]model.EmotionalTone{
		"tense":        model.ToneTense,
		"Suspenseful":  model.ToneTense,
		"foreboding":   model.ToneOminous,
		"tender":       model.ToneRomantic,
		"calm":         model.TonePeaceful,
		"grieving":     model.ToneMelancholy,
		"businesslike": model.ToneNeutral,
		"happy ending": model.ToneJoyful,
		"":             model.ToneNeutral,
	}
	for in, want := range cases {
		if got := NormalizeTone(in); got != want {
			t.Errorf("NormalizeTone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestActionLevel(t *testing.T) {
	calm := "The garden lay still in the warm light. Bees drifted between the roses."
	if got := ActionLevel(calm, model.TonePeaceful); got != 0 {
		t.Errorf("calm text action level = %v, want 0", got)
	}

	busy := "He ran across the yard, leapt the fence, and fought off the first rider. She dodged and struck back."
	got := ActionLevel(busy, model.ToneTense)
	if got <= 0.5 {
		t.Errorf("busy tense text action level = %v, want > 0.5", got)
	}

	// Heavy dialogue trims the estimate.
	talky := `"Run!" she said. "They ran after us all the way from the bridge, and we barely escaped with the horses, so keep your voice down and stay behind me until it is safe."`
	withDialogue := ActionLevel(talky, model.ToneNeutral)
	if withDialogue >= ActionLevel(strings.ReplaceAll(talky, `"`, ""), model.ToneNeutral) {
		t.Errorf("dialogue-heavy text should score lower: %v", withDialogue)
	}
}
