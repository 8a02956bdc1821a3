package quality

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
)

func testImage() model.GeneratedImage {
	return model.GeneratedImage{ID: "i1", SceneID: "s1", ImagePointer: "blob://i1", Status: model.ImageStatusSuccess}
}

func testPrompt() model.Prompt {
	return model.Prompt{ID: "p1", SceneID: "s1", Text: "a stone bridge at dawn"}
}

func TestAssess_WeightedComposite(t *testing.T) {
	text := &providers.MockTextModel{
		AssessImageFunc: func(_ context.Context, _ providers.AssessmentRequest) (*providers.AssessmentResult, error) {
			return &providers.AssessmentResult{QualityScore: 0.8}, nil
		},
	}
	est := &StaticEstimator{Values: Estimates{
		Sharpness: 0.9, Exposure: 0.7, Composition: 0.8, Artefacts: 0.2,
		StyleConsistency: 0.6, Aesthetic: 0.8,
		Safe: true,
	}}
	a := New(text, est, nil)

	report, err := a.Assess(context.Background(), testImage(), testPrompt(), "bridge scene")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	// technical = (0.9+0.7+0.8+0.8)/4 = 0.8, aesthetic = 0.7
	// overall = 0.4*0.8 + 0.3*0.8 + 0.2*0.7 + 0.1*1.0 = 0.80
	if math.Abs(report.Overall-0.80) > 1e-9 {
		t.Fatalf("overall = %v, want 0.80", report.Overall)
	}
	if math.Abs(report.Components["technical"]-0.8) > 1e-9 {
		t.Fatalf("technical = %v, want 0.8", report.Components["technical"])
	}
	if math.Abs(report.Components["aesthetic"]-0.7) > 1e-9 {
		t.Fatalf("aesthetic = %v, want 0.7", report.Components["aesthetic"])
	}
	if !report.Safe {
		t.Fatal("expected safe report")
	}
}

func TestAssess_UnsafeCapsOverall(t *testing.T) {
	text := &providers.MockTextModel{
		AssessImageFunc: func(_ context.Context, _ providers.AssessmentRequest) (*providers.AssessmentResult, error) {
			return &providers.AssessmentResult{QualityScore: 1.0}, nil
		},
	}
	est := &StaticEstimator{Values: Estimates{
		Sharpness: 1, Exposure: 1, Composition: 1, Artefacts: 0,
		StyleConsistency: 1, Aesthetic: 1,
		Safe: false, SafetyDetail: "graphic violence",
	}}
	a := New(text, est, nil)

	report, err := a.Assess(context.Background(), testImage(), testPrompt(), "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if report.Overall != 0.3 {
		t.Fatalf("unsafe overall = %v, want capped 0.3", report.Overall)
	}
	if report.Safe || report.SafetyDetail != "graphic violence" {
		t.Fatalf("bad safety fields: %+v", report)
	}
	if report.Components["safety"] != 0 {
		t.Fatalf("safety component = %v, want 0", report.Components["safety"])
	}
}

func TestAssess_DedupesIssuesAcrossAxes(t *testing.T) {
	text := &providers.MockTextModel{
		AssessImageFunc: func(_ context.Context, _ providers.AssessmentRequest) (*providers.AssessmentResult, error) {
			return &providers.AssessmentResult{
				QualityScore: 0.6,
				Issues:       []string{"extra limbs", "washed-out colors"},
				Suggestions:  []string{"increase steps"},
			}, nil
		},
	}
	est := DefaultEstimator()
	est.Values.Issues = []string{"washed-out colors", "soft focus"}
	est.Values.Suggestions = []string{"increase steps", "raise cfg scale"}
	a := New(text, est, nil)

	report, err := a.Assess(context.Background(), testImage(), testPrompt(), "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	wantIssues := []string{"extra limbs", "washed-out colors", "soft focus"}
	if !reflect.DeepEqual(report.Issues, wantIssues) {
		t.Fatalf("issues = %v, want %v", report.Issues, wantIssues)
	}
	wantSuggestions := []string{"increase steps", "raise cfg scale"}
	if !reflect.DeepEqual(report.Suggestions, wantSuggestions) {
		t.Fatalf("suggestions = %v, want %v", report.Suggestions, wantSuggestions)
	}
}

func TestAssess_ClampsAdherence(t *testing.T) {
	text := &providers.MockTextModel{
		AssessImageFunc: func(_ context.Context, _ providers.AssessmentRequest) (*providers.AssessmentResult, error) {
			return &providers.AssessmentResult{QualityScore: 1.7}, nil
		},
	}
	a := New(text, nil, nil)

	report, err := a.Assess(context.Background(), testImage(), testPrompt(), "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if report.Components["adherence"] != 1.0 {
		t.Fatalf("adherence = %v, want clamped 1.0", report.Components["adherence"])
	}
}

func TestAssess_VisionErrorPropagates(t *testing.T) {
	boom := errors.New("vision offline")
	text := &providers.MockTextModel{
		AssessImageFunc: func(_ context.Context, _ providers.AssessmentRequest) (*providers.AssessmentResult, error) {
			return nil, boom
		},
	}
	a := New(text, nil, nil)

	_, err := a.Assess(context.Background(), testImage(), testPrompt(), "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected vision error, got %v", err)
	}
}

func TestAssess_ForwardsRequestFields(t *testing.T) {
	text := &providers.MockTextModel{}
	a := New(text, nil, nil)

	if _, err := a.Assess(context.Background(), testImage(), testPrompt(), "dawn on the river"); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	req := text.AssessCalls[0]
	if req.ImagePointer != "blob://i1" || req.PromptText != "a stone bridge at dawn" || req.SceneDescription != "dawn on the river" {
		t.Fatalf("request not forwarded: %+v", req)
	}
}
