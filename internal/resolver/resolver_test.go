package resolver

import (
	"reflect"
	"testing"

	"github.com/storyglass/storyglass/internal/model"
)

func testEntities() []model.Entity {
	return []model.Entity{
		{ID: "e1", Name: "Lyra Stormwind", Kind: model.KindCharacter, Aliases: []string{"Lyra"}},
		{ID: "e2", Name: "Kael", Kind: model.KindCharacter},
		{ID: "e3", Name: "the Crystal Tower", Kind: model.KindLocation, Aliases: []string{"Crystal Tower"}},
	}
}

func TestResolve_ExactNameMatch(t *testing.T) {
	r := New(Config{})
	mentions := []model.Mention{{Text: "Kael", Sentence: "Kael smiled warmly."}}

	links := r.Resolve(mentions, testEntities())
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1", len(links))
	}
	if links[0].ResolvedEntityID != "e2" {
		t.Errorf("resolved = %q, want e2", links[0].ResolvedEntityID)
	}
	if links[0].Confidence < 0.5 {
		t.Errorf("confidence = %.2f, want >= 0.5", links[0].Confidence)
	}
}

func TestResolve_AliasMatch(t *testing.T) {
	r := New(Config{})
	mentions := []model.Mention{{Text: "Lyra", Sentence: "Lyra walked into the hall."}}

	links := r.Resolve(mentions, testEntities())
	if links[0].ResolvedEntityID != "e1" {
		t.Errorf("resolved = %q, want e1 via alias", links[0].ResolvedEntityID)
	}
	if links[0].Confidence < 0.8 {
		t.Errorf("alias confidence = %.2f, want >= 0.8", links[0].Confidence)
	}
}

func TestResolve_FuzzyMatch(t *testing.T) {
	r := New(Config{})
	// Typo-shaped mention of Kael.
	mentions := []model.Mention{{Text: "Kaell", Sentence: "Kaell spoke softly."}}

	links := r.Resolve(mentions, testEntities())
	if links[0].ResolvedEntityID != "e2" {
		t.Errorf("resolved = %q, want e2 via fuzzy", links[0].ResolvedEntityID)
	}
}

func TestResolve_PronounPenalty(t *testing.T) {
	r := New(Config{})
	mentions := []model.Mention{
		{Text: "she", Sentence: "Then she turned away.", Pronoun: true},
	}

	links := r.Resolve(mentions, testEntities())
	// Pronouns share almost no surface with any name; must stay unresolved.
	if links[0].Resolved() {
		t.Errorf("pronoun resolved to %q, want unresolved", links[0].ResolvedEntityID)
	}
	if links[0].Note == "" {
		t.Error("unresolved link missing diagnostic note")
	}
}

func TestResolve_ConfidenceFloor(t *testing.T) {
	r := New(Config{MinConfidence: 0.99})
	mentions := []model.Mention{{Text: "Lyrra", Sentence: "Lyrra waited."}}

	links := r.Resolve(mentions, testEntities())
	if links[0].Resolved() {
		t.Error("link resolved below the configured confidence floor")
	}
	if links[0].Confidence == 0 {
		t.Error("best-candidate confidence should still be reported")
	}
}

func TestResolve_ResolvedImpliesMinConfidence(t *testing.T) {
	r := New(Config{})
	mentions := []model.Mention{
		{Text: "Lyra Stormwind", Sentence: "Lyra Stormwind smiled."},
		{Text: "Crystal Tower", Sentence: "They came to the Crystal Tower."},
		{Text: "Zanzibar", Sentence: "Zanzibar was never mentioned before."},
	}

	for _, link := range r.Resolve(mentions, testEntities()) {
		if link.Resolved() && link.Confidence < 0.5 {
			t.Errorf("resolved link %q has confidence %.2f < min", link.ResolvedEntityID, link.Confidence)
		}
	}
}

func TestResolve_LocationContextBoost(t *testing.T) {
	r := New(Config{})
	boosted := r.Resolve(
		[]model.Mention{{Text: "Crystal Tower", Sentence: "They rode toward the Crystal Tower."}},
		testEntities(),
	)
	plain := r.Resolve(
		[]model.Mention{{Text: "Crystal Tower", Sentence: "Crystal Tower."}},
		testEntities(),
	)
	if boosted[0].Confidence < plain[0].Confidence {
		t.Errorf("context boost missing: %.3f < %.3f", boosted[0].Confidence, plain[0].Confidence)
	}
}

func TestResolve_OrderedByConfidence(t *testing.T) {
	r := New(Config{})
	mentions := []model.Mention{
		{Text: "Zanzibar", Sentence: "Zanzibar appeared."},
		{Text: "Kael", Sentence: "Kael smiled."},
	}
	links := r.Resolve(mentions, testEntities())
	for i := 1; i < len(links); i++ {
		if links[i].Confidence > links[i-1].Confidence {
			t.Error("links not ordered by confidence descending")
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	r := New(Config{})
	mentions := []model.Mention{
		{Text: "Lyra", Sentence: "Lyra laughed."},
		{Text: "Kael", Sentence: "Kael spoke."},
	}
	first := r.Resolve(mentions, testEntities())
	second := r.Resolve(mentions, testEntities())
	if !reflect.DeepEqual(first, second) {
		t.Error("Resolve is not deterministic for fixed inputs")
	}
}

func TestResolve_EmptyInputs(t *testing.T) {
	r := New(Config{})
	if got := r.Resolve(nil, testEntities()); len(got) != 0 {
		t.Errorf("Resolve(nil mentions) = %d links, want 0", len(got))
	}
	links := r.Resolve([]model.Mention{{Text: "Lyra", Sentence: "Lyra."}}, nil)
	if links[0].Resolved() {
		t.Error("resolved against empty entity set")
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	r := New(Config{})
	if a, b := r.Similarity("Lyra", "Lyra Stormwind"), r.Similarity("Lyra Stormwind", "Lyra"); a != b {
		t.Errorf("similarity not symmetric: %.3f vs %.3f", a, b)
	}
	if r.Similarity("same", "same") != 1.0 {
		t.Error("identical strings must have similarity 1.0")
	}
}
