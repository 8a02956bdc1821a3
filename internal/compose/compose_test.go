package compose

import (
	"reflect"
	"strings"
	"testing"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
)

func testScene() model.Scene {
	return model.Scene{
		ID:          "s1",
		ChapterID:   "ch1",
		Text:        "Lyra stands atop the Crystal Tower as storm clouds gather",
		TimeOfDay:   model.TimeOfDayDusk,
		Tone:        model.ToneOminous,
		ActionLevel: 0.5,
	}
}

func testEntities() map[string]model.Entity {
	return map[string]model.Entity{
		"e1": {ID: "e1", Name: "Lyra", Kind: model.KindCharacter},
		"e2": {ID: "e2", Name: "the Crystal Tower", Kind: model.KindLocation},
	}
}

func testLinks() []model.EntityLink {
	return []model.EntityLink{
		{Mention: model.Mention{Text: "Lyra"}, ResolvedEntityID: "e1", Confidence: 0.95},
		{Mention: model.Mention{Text: "the Crystal Tower"}, ResolvedEntityID: "e2", Confidence: 0.9},
		{Mention: model.Mention{Text: "she", Pronoun: true}, ResolvedEntityID: "e1", Confidence: 0.6},
	}
}

func TestCompose_AssemblyOrder(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, err := c.Compose(Input{
		Scene:             testScene(),
		Links:             testLinks(),
		Entities:          testEntities(),
		StylePreset:       "fantasy",
		ArtisticDirection: "wide angle from below",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	text := p.Text
	idx := func(sub string) int { return strings.Index(text, sub) }
	checks := []string{
		"Lyra stands atop",
		"dusk lighting",
		"ominous atmosphere",
		"featuring Lyra",
		"set in the Crystal Tower",
		"epic fantasy art",
		"wide angle from below",
		"masterpiece",
	}
	last := -1
	for _, sub := range checks {
		i := idx(sub)
		if i < 0 {
			t.Fatalf("prompt missing %q: %s", sub, text)
		}
		if i < last {
			t.Fatalf("clause %q out of order in: %s", sub, text)
		}
		last = i
	}
}

func TestCompose_PronounsOmittedAndDeduped(t *testing.T) {
	c := New(DefaultConfig(), nil)
	links := append(testLinks(), model.EntityLink{
		Mention: model.Mention{Text: "Lyra"}, ResolvedEntityID: "e1", Confidence: 0.95,
	})
	p, err := c.Compose(Input{Scene: testScene(), Links: links, Entities: testEntities(), StylePreset: "fantasy"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if strings.Count(p.Text, "Lyra,") > 1 || strings.Contains(p.Text, "featuring Lyra, Lyra") {
		t.Fatalf("duplicate character name in: %s", p.Text)
	}
	if strings.Contains(p.Text, "featuring she") {
		t.Fatalf("pronoun leaked into character clause: %s", p.Text)
	}
}

func TestCompose_NegativeAndParams(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, err := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(p.NegativeText, "bad anatomy") {
		t.Fatalf("negative base missing: %s", p.NegativeText)
	}
	if !strings.Contains(p.NegativeText, "modern clothing") {
		t.Fatalf("style negative extension missing: %s", p.NegativeText)
	}
	if p.Params.Steps != 35 {
		t.Fatalf("fantasy steps override not applied: %+v", p.Params)
	}
	if p.Params.Width != 1024 || p.Params.Sampler != "euler_a" {
		t.Fatalf("defaults lost: %+v", p.Params)
	}
}

func TestCompose_CustomStyleAppended(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, err := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy", CustomStyle: "inspired by stained glass"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(p.Text, "inspired by stained glass") {
		t.Fatalf("custom style missing: %s", p.Text)
	}
}

func TestValidate_Issues(t *testing.T) {
	c := New(DefaultConfig(), nil)

	if err := c.Validate("short"); err == nil {
		t.Fatal("expected length failure")
	} else if apperr.KindOf(err) != apperr.KindPromptValidation {
		t.Fatalf("wrong kind: %v", err)
	}

	repeated := strings.Repeat("tower ", 40)
	if err := c.Validate(repeated); err == nil {
		t.Fatal("expected unique-ratio failure")
	}

	if err := c.Validate("a detailed nude portrait of the king"); err == nil {
		t.Fatal("expected disallowed keyword failure")
	}

	if err := c.Validate("a castle on a hill at dusk"); err != nil {
		t.Fatalf("valid prompt rejected: %v", err)
	}
}

func TestApply_EmptyListIsIdentity(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, err := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	out, err := c.Apply(*p, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(*out, *p) {
		t.Fatalf("empty modification list must be identity:\n got %+v\nwant %+v", *out, *p)
	}
}

func TestApply_ConflictingStyleChangesRejected(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, err := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	before := p.Text

	_, err = c.Apply(*p, []Modification{
		{Type: ModChangeStyle, Value: "fantasy"},
		{Type: ModChangeStyle, Value: "anime"},
	})
	if apperr.KindOf(err) != apperr.KindConflictingModifications {
		t.Fatalf("expected conflicting_modifications, got %v", err)
	}
	if p.Text != before {
		t.Fatal("original prompt must be unchanged on rejection")
	}
}

func TestApply_OverlappingAddRemoveRejected(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, _ := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy"})

	_, err := c.Apply(*p, []Modification{
		{Type: ModAddElement, Value: "storm clouds"},
		{Type: ModRemoveElement, Target: "clouds"},
	})
	if apperr.KindOf(err) != apperr.KindConflictingModifications {
		t.Fatalf("expected conflicting_modifications, got %v", err)
	}
}

func TestApply_AddElementNoOpWhenPresent(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, _ := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy"})

	out, err := c.Apply(*p, []Modification{{Type: ModAddElement, Value: "storm clouds"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if strings.Count(strings.ToLower(out.Text), "storm clouds") != 1 {
		t.Fatalf("present element must not duplicate: %s", out.Text)
	}
}

func TestApply_RemoveElementNormalizes(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, _ := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy"})

	out, err := c.Apply(*p, []Modification{{Type: ModRemoveElement, Target: "storm clouds"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if strings.Contains(strings.ToLower(out.Text), "storm clouds") {
		t.Fatalf("element not removed: %s", out.Text)
	}
	if strings.Contains(out.Text, ",,") || strings.Contains(out.Text, "  ") {
		t.Fatalf("normalization pass missed separators: %q", out.Text)
	}
}

func TestApply_ChangeStyleSwapsVocabulary(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, _ := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy"})

	out, err := c.Apply(*p, []Modification{{Type: ModChangeStyle, Value: "anime"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.StylePreset != "anime" {
		t.Fatalf("style field not updated: %s", out.StylePreset)
	}
	if !strings.HasPrefix(out.Text, "anime style") {
		t.Fatalf("new base prompt must lead: %s", out.Text)
	}
	if strings.Contains(strings.ToLower(out.Text), "painterly") {
		t.Fatalf("old style vocabulary survived: %s", out.Text)
	}
	if out.Params.CFGScale != 9 {
		t.Fatalf("anime params not applied: %+v", out.Params)
	}
}

func TestApply_CustomReplace(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, _ := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy"})

	out, err := c.Apply(*p, []Modification{{
		Type:        ModCustom,
		Description: "replace the tower",
		Target:      "Crystal Tower",
		Value:       "Obsidian Spire",
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !strings.Contains(out.Text, "Obsidian Spire") || strings.Contains(out.Text, "Crystal Tower") {
		t.Fatalf("replacement not applied: %s", out.Text)
	}
}

func TestApply_LineageRecorded(t *testing.T) {
	c := New(DefaultConfig(), nil)
	p, _ := c.Compose(Input{Scene: testScene(), StylePreset: "fantasy"})

	out, err := c.Apply(*p, []Modification{{Type: ModAddElement, Value: "ravens circling"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.ParentID != p.ID {
		t.Fatalf("parent id not recorded: %+v", out)
	}
	if out.ID == p.ID {
		t.Fatal("derived prompt must get a fresh id")
	}
	if len(out.History) != 1 || !strings.Contains(out.History[0], "add_element") {
		t.Fatalf("history not recorded: %v", out.History)
	}
}
