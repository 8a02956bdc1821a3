package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
)

func mention(text string) model.Mention {
	return model.Mention{Text: text, Sentence: text, Kind: model.KindCharacter}
}

func TestExtractNew_NoUnresolvedShortCircuits(t *testing.T) {
	mock := &providers.MockTextModel{}
	ex := NewExtractor(mock, nil)

	out, err := ex.ExtractNew(context.Background(), "w1", "some scene", 1, nil, []string{"Lyra"})
	if err != nil {
		t.Fatalf("ExtractNew: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil, got %v", out)
	}
	if len(mock.EntityCalls) != 0 {
		t.Fatal("model must not be called without unresolved mentions")
	}
}

func TestExtractNew_FiltersToUnresolvedOverlap(t *testing.T) {
	mock := &providers.MockTextModel{
		ExtractEntitiesFunc: func(_ context.Context, _ providers.EntityExtractionRequest) (*providers.EntityExtraction, error) {
			return &providers.EntityExtraction{
				Characters: []providers.ExtractedCharacter{
					{Name: "Brannoc the Smith", Description: "a broad-shouldered blacksmith"},
					{Name: "Unrelated Stranger", Description: "never mentioned"},
				},
				Locations: []providers.ExtractedLocation{
					{Name: "the Crystal Tower", Description: "a glass spire", Type: "tower"},
				},
			}, nil
		},
	}
	ex := NewExtractor(mock, nil)

	unresolved := []model.Mention{mention("Brannoc"), {Text: "the Crystal Tower", Kind: model.KindLocation}}
	out, err := ex.ExtractNew(context.Background(), "w1", "scene text", 2, unresolved, []string{"Lyra"})
	if err != nil {
		t.Fatalf("ExtractNew: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entities, got %d: %+v", len(out), out)
	}
	if out[0].Name != "Brannoc the Smith" || out[0].Kind != model.KindCharacter {
		t.Fatalf("unexpected first entity: %+v", out[0])
	}
	if out[1].Name != "the Crystal Tower" || out[1].Kind != model.KindLocation {
		t.Fatalf("unexpected second entity: %+v", out[1])
	}
	for _, e := range out {
		if e.ID == "" || e.WorkID != "w1" || e.FirstAppearance != 2 || !e.Active {
			t.Fatalf("entity missing provenance: %+v", e)
		}
	}
}

func TestExtractNew_AliasOverlapCounts(t *testing.T) {
	mock := &providers.MockTextModel{
		ExtractEntitiesFunc: func(_ context.Context, _ providers.EntityExtractionRequest) (*providers.EntityExtraction, error) {
			return &providers.EntityExtraction{
				Characters: []providers.ExtractedCharacter{
					{Name: "Captain Aldous Vane", Description: "the harbor captain", Aliases: []string{"the Captain"}},
				},
			}, nil
		},
	}
	ex := NewExtractor(mock, nil)

	out, err := ex.ExtractNew(context.Background(), "w1", "scene", 1, []model.Mention{mention("the Captain")}, nil)
	if err != nil {
		t.Fatalf("ExtractNew: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("alias overlap should admit the entity, got %d", len(out))
	}
}

func TestExtractNew_ErrorPassthrough(t *testing.T) {
	want := errors.New("model down")
	mock := &providers.MockTextModel{
		ExtractEntitiesFunc: func(_ context.Context, _ providers.EntityExtractionRequest) (*providers.EntityExtraction, error) {
			return nil, want
		},
	}
	ex := NewExtractor(mock, nil)

	_, err := ex.ExtractNew(context.Background(), "w1", "scene", 1, []model.Mention{mention("Someone")}, nil)
	if !errors.Is(err, want) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}
