package store

import (
	"context"
	"testing"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
)

func TestMemory_UpsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	w := model.Work{ID: "w1", Title: "The Glass Sea", Status: model.WorkStatusPending}
	if err := m.Works().Upsert(ctx, w); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := m.Works().Get(ctx, "w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "The Glass Sea" {
		t.Fatalf("got %+v", got)
	}

	w.Status = model.WorkStatusInProgress
	if err := m.Works().Upsert(ctx, w); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, _ = m.Works().Get(ctx, "w1")
	if got.Status != model.WorkStatusInProgress {
		t.Fatal("upsert did not replace")
	}
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Chapters().Get(context.Background(), "nope")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestMemory_ChapterListOrderedByOrdinal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, ord := range []int{3, 1, 2} {
		m.Chapters().Upsert(ctx, model.Chapter{ID: string(rune('a' + ord)), WorkID: "w1", Ordinal: ord})
	}
	out, err := m.Chapters().List(ctx, ChapterFilter{WorkID: "w1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 3 || out[0].Ordinal != 1 || out[2].Ordinal != 3 {
		t.Fatalf("wrong order: %+v", out)
	}
}

func TestMemory_EntityActiveFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Entities().Upsert(ctx, model.Entity{ID: "e1", WorkID: "w1", Kind: model.KindCharacter, Active: true})
	m.Entities().Upsert(ctx, model.Entity{ID: "e2", WorkID: "w1", Kind: model.KindCharacter, Active: false})

	out, _ := m.Entities().List(ctx, EntityFilter{WorkID: "w1", ActiveOnly: true})
	if len(out) != 1 || out[0].ID != "e1" {
		t.Fatalf("active filter broken: %+v", out)
	}
}

func TestMemory_ReferenceOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.References().Upsert(ctx, model.EntityReference{ID: "r1", EntityID: "e1", StylePreset: "fantasy", Priority: 1, AddedAtChapter: 1, Active: true})
	m.References().Upsert(ctx, model.EntityReference{ID: "r2", EntityID: "e1", StylePreset: "fantasy", Priority: 3, AddedAtChapter: 1, Active: true})
	m.References().Upsert(ctx, model.EntityReference{ID: "r3", EntityID: "e1", StylePreset: "fantasy", Priority: 3, AddedAtChapter: 2, Active: true})

	out, _ := m.References().List(ctx, ReferenceFilter{EntityID: "e1", StylePreset: "fantasy", ActiveOnly: true})
	if len(out) != 3 {
		t.Fatalf("expected 3, got %d", len(out))
	}
	// Priority desc, then most recent chapter.
	if out[0].ID != "r3" || out[1].ID != "r2" || out[2].ID != "r1" {
		t.Fatalf("wrong order: %s %s %s", out[0].ID, out[1].ID, out[2].ID)
	}
}

func TestMemory_ErrorInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.FailOn("scenes.upsert")

	err := m.Scenes().Upsert(ctx, model.Scene{ID: "s1"})
	if apperr.KindOf(err) != apperr.KindPersistence {
		t.Fatalf("expected injected persistence error, got %v", err)
	}

	m.ClearFailures()
	if err := m.Scenes().Upsert(ctx, model.Scene{ID: "s1"}); err != nil {
		t.Fatalf("after clear: %v", err)
	}
}

func TestMemory_EdgeKeyedUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Edges().Upsert(ctx, model.SceneEntityEdge{SceneID: "s1", EntityID: "e1", Confidence: 0.7, Mention: "Lyra"})
	m.Edges().Upsert(ctx, model.SceneEntityEdge{SceneID: "s1", EntityID: "e1", Confidence: 0.9, Mention: "Lyra"})

	out, _ := m.Edges().List(ctx, EdgeFilter{SceneID: "s1"})
	if len(out) != 1 {
		t.Fatalf("edge upsert must be keyed, got %d", len(out))
	}
	if out[0].Confidence != 0.9 {
		t.Fatal("latest edge must win")
	}
}
