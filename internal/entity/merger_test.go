package entity

import (
	"reflect"
	"strings"
	"testing"

	"github.com/agnivade/levenshtein"

	"github.com/storyglass/storyglass/internal/model"
)

// levSim mirrors the resolver's similarity metric without pulling in the
// resolver's cache.
func levSim(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	return 1.0 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func character(id, name, desc string, first int, aliases ...string) model.Entity {
	return model.Entity{
		ID: id, WorkID: "w1", Name: name, Kind: model.KindCharacter,
		Description: desc, Aliases: aliases, FirstAppearance: first, Active: true,
	}
}

func TestMerge_IdenticalNameMerges(t *testing.T) {
	mg := NewMerger(levSim, nil)
	existing := []model.Entity{character("e1", "Lyra", "a young mage", 1)}
	incoming := []model.Entity{character("n1", "Lyra", "a young mage of the northern school", 2)}

	out := mg.Merge(incoming, existing)
	if len(out) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(out))
	}
	if out[0].ID != "e1" {
		t.Fatalf("merge must keep existing id, got %s", out[0].ID)
	}
	if out[0].FirstAppearance != 1 {
		t.Fatalf("merge must keep earliest first appearance, got %d", out[0].FirstAppearance)
	}
	if out[0].Description != "a young mage of the northern school" {
		t.Fatalf("merge should keep the longer description, got %q", out[0].Description)
	}
}

func TestMerge_DivergentDescriptionConcatenates(t *testing.T) {
	mg := NewMerger(levSim, nil)
	existing := []model.Entity{character("e1", "Lyra", "a young mage", 1)}
	incoming := []model.Entity{character("n1", "Lyra", "carries an ancient crystal staff everywhere", 2)}

	out := mg.Merge(incoming, existing)
	if len(out) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(out))
	}
	d := out[0].Description
	if !strings.Contains(d, "a young mage") || !strings.Contains(d, "crystal staff") {
		t.Fatalf("divergent descriptions should concatenate, got %q", d)
	}
}

func TestMerge_SupersequenceNameAdopted(t *testing.T) {
	mg := NewMerger(levSim, nil)
	existing := []model.Entity{character("e1", "Lyra", "a young mage", 1, "the mage")}
	incoming := []model.Entity{{
		ID: "n1", WorkID: "w1", Name: "Lyra Stormwind", Kind: model.KindCharacter,
		Description: "a young mage", FirstAppearance: 2, Aliases: []string{"Lyra"},
	}}

	out := mg.Merge(incoming, existing)
	if len(out) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(out))
	}
	if out[0].Name != "Lyra Stormwind" {
		t.Fatalf("fuller name should be adopted, got %q", out[0].Name)
	}
	found := false
	for _, a := range out[0].Aliases {
		if a == "Lyra" {
			found = true
		}
	}
	if !found {
		t.Fatalf("old name should survive as alias, aliases=%v", out[0].Aliases)
	}
}

func TestMerge_AliasUnionCaseInsensitive(t *testing.T) {
	mg := NewMerger(levSim, nil)
	existing := []model.Entity{character("e1", "Lyra", "a mage", 1, "The Mage")}
	incoming := []model.Entity{character("n1", "Lyra", "a mage", 1, "the mage", "Stormcaller")}

	out := mg.Merge(incoming, existing)
	if len(out) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(out))
	}
	want := []string{"The Mage", "Stormcaller"}
	if !reflect.DeepEqual(out[0].Aliases, want) {
		t.Fatalf("aliases = %v, want %v", out[0].Aliases, want)
	}
}

func TestMerge_KindConflictKeepsBothAsVariant(t *testing.T) {
	mg := NewMerger(levSim, nil)
	existing := []model.Entity{character("e1", "Avalon", "a knight", 1)}
	incoming := []model.Entity{{
		ID: "n1", WorkID: "w1", Name: "Avalon", Kind: model.KindLocation,
		Description: "an island kingdom", FirstAppearance: 2,
	}}

	out := mg.Merge(incoming, existing)
	if len(out) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(out))
	}
	if out[1].Name != "Avalon (variant)" {
		t.Fatalf("conflicting kind should get variant suffix, got %q", out[1].Name)
	}
	if out[1].ID == "n1" || out[1].ID == "e1" {
		t.Fatalf("variant must receive a fresh id, got %q", out[1].ID)
	}
}

func TestMerge_DissimilarAdds(t *testing.T) {
	mg := NewMerger(levSim, nil)
	existing := []model.Entity{character("e1", "Lyra", "a mage", 1)}
	incoming := []model.Entity{character("", "Brannoc", "a blacksmith", 1)}

	out := mg.Merge(incoming, existing)
	if len(out) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(out))
	}
	if out[1].Name != "Brannoc" || out[1].ID == "" {
		t.Fatalf("dissimilar entity should be added with an id, got %+v", out[1])
	}
}

func TestMerge_IdempotentOnSubset(t *testing.T) {
	mg := NewMerger(levSim, nil)
	existing := []model.Entity{
		character("e1", "Lyra", "a young mage", 1, "The Mage"),
		character("e2", "Brannoc", "a blacksmith", 1),
	}

	out := mg.Merge([]model.Entity{existing[0]}, existing)
	if !reflect.DeepEqual(out, existing) {
		t.Fatalf("merging a subset must be a no-op:\n got %+v\nwant %+v", out, existing)
	}
}

func TestMerge_DeterministicOrdering(t *testing.T) {
	mg := NewMerger(levSim, nil)
	existing := []model.Entity{character("e1", "Lyra", "a mage", 1)}
	incoming := []model.Entity{
		character("n1", "Kael", "a hunter", 1),
		character("n2", "Mira", "a healer", 1),
	}

	a := mg.Merge(incoming, existing)
	b := mg.Merge(incoming, existing)
	if len(a) != len(b) {
		t.Fatalf("nondeterministic result length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			t.Fatalf("nondeterministic order at %d: %q vs %q", i, a[i].Name, b[i].Name)
		}
	}
}
