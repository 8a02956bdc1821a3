package entity

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/model"
)

const (
	minimalChangeThreshold = 0.95
	sentencePairLow        = 0.5
	sentencePairHigh       = 0.95
	minPhraseChars         = 4
)

// Tracker records how entity descriptions drift across chapters.
type Tracker struct {
	sim    SimilarityFunc
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates an evolution tracker using the given similarity metric.
func NewTracker(sim SimilarityFunc, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{sim: sim, logger: logger.With("component", "evolution_tracker"), now: time.Now}
}

// Track compares the entity's stored description against newDesc and emits
// an evolution record, or nil when nothing meaningful changed.
func (t *Tracker) Track(e model.Entity, newDesc string, atChapter int) *model.EvolutionRecord {
	oldNorm := normalizeDesc(e.Description)
	newNorm := normalizeDesc(newDesc)

	if oldNorm == newNorm {
		return nil
	}

	if t.sim(oldNorm, newNorm) > minimalChangeThreshold {
		return &model.EvolutionRecord{
			ID:            uuid.NewString(),
			EntityID:      e.ID,
			AtChapter:     atChapter,
			PrevDesc:      e.Description,
			NewDesc:       newDesc,
			Updated:       false,
			Note:          "minimal changes",
			RecordedAtUTC: t.now().UTC().Format(time.RFC3339),
		}
	}

	changes := t.diff(oldNorm, newNorm)
	if len(changes) == 0 {
		return nil
	}

	t.logger.Debug("entity evolved", "entity", e.Name, "chapter", atChapter, "changes", len(changes))
	return &model.EvolutionRecord{
		ID:            uuid.NewString(),
		EntityID:      e.ID,
		AtChapter:     atChapter,
		PrevDesc:      e.Description,
		NewDesc:       newDesc,
		Changes:       changes,
		Updated:       true,
		RecordedAtUTC: t.now().UTC().Format(time.RFC3339),
	}
}

// diff builds the ordered change list: added phrases, removed phrases,
// modified sentences, then attribute changes.
func (t *Tracker) diff(prev, curr string) []string {
	var changes []string

	for _, p := range phrasesAbsentFrom(curr, prev) {
		changes = append(changes, "added: "+p)
	}
	for _, p := range phrasesAbsentFrom(prev, curr) {
		changes = append(changes, "removed: "+p)
	}

	changes = append(changes, t.modifiedSentences(prev, curr)...)

	changes = append(changes, attributeChanges(prev, curr)...)
	return changes
}

var descSentenceRe = regexp.MustCompile(`[.?!]+`)
var descWordRe = regexp.MustCompile(`[a-zA-Z']+`)

// phrasesAbsentFrom returns maximal runs of words in source that do not
// occur in reference. Phrases shorter than four characters are noise.
func phrasesAbsentFrom(source, reference string) []string {
	refSet := make(map[string]struct{})
	for _, w := range descWordRe.FindAllString(strings.ToLower(reference), -1) {
		refSet[w] = struct{}{}
	}

	var phrases []string
	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		p := strings.Join(run, " ")
		if len(p) >= minPhraseChars {
			phrases = append(phrases, p)
		}
		run = nil
	}
	for _, w := range descWordRe.FindAllString(strings.ToLower(source), -1) {
		if _, known := refSet[w]; known {
			flush()
			continue
		}
		run = append(run, w)
	}
	flush()
	return phrases
}

// modifiedSentences pairs each new sentence with its closest old sentence
// when the two are similar enough to be the same sentence rewritten.
func (t *Tracker) modifiedSentences(prev, curr string) []string {
	oldSentences := splitSentences(prev)
	newSentences := splitSentences(curr)

	var pairs []string
	for _, ns := range newSentences {
		bestScore := 0.0
		bestOld := ""
		for _, os := range oldSentences {
			if s := t.sim(os, ns); s > bestScore {
				bestScore, bestOld = s, os
			}
		}
		if bestScore >= sentencePairLow && bestScore <= sentencePairHigh && bestOld != ns {
			pairs = append(pairs, fmt.Sprintf("%q -> %q", bestOld, ns))
		}
	}
	return pairs
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range descSentenceRe.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// attributeVocabularies are the closed keyword sets tracked per category.
// Order is fixed so change lists are deterministic.
var attributeVocabularies = []struct {
	label    string
	keywords []string
}{
	{"appearance", []string{
		"tall", "short", "slender", "muscular", "thin", "stocky", "pale",
		"tanned", "bearded", "bald", "blonde", "young", "old",
		"beautiful", "handsome", "gaunt",
	}},
	{"clothing", []string{
		"cloak", "armor", "armour", "robe", "robes", "dress", "gown",
		"uniform", "hood", "crown", "helm", "boots", "gloves", "tunic",
		"rags", "finery",
	}},
	{"emotional state", []string{
		"angry", "calm", "fearful", "joyful", "grim", "weary", "hopeful",
		"desperate", "serene", "bitter", "cheerful", "haunted",
	}},
	{"condition", []string{
		"wounded", "scarred", "injured", "sick", "exhausted", "healed",
		"limping", "bleeding", "blind", "crippled", "frail", "healthy",
	}},
}

// attributeChanges records each vocabulary keyword gained or lost.
func attributeChanges(prev, curr string) []string {
	oldWords := wordSet(prev)
	newWords := wordSet(curr)

	var changes []string
	for _, vocab := range attributeVocabularies {
		for _, kw := range vocab.keywords {
			_, inOld := oldWords[kw]
			_, inNew := newWords[kw]
			switch {
			case inNew && !inOld:
				changes = append(changes, fmt.Sprintf("%s: now %s", vocab.label, kw))
			case inOld && !inNew:
				changes = append(changes, fmt.Sprintf("%s: no longer %s", vocab.label, kw))
			}
		}
	}
	return changes
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range descWordRe.FindAllString(strings.ToLower(text), -1) {
		set[w] = struct{}{}
	}
	return set
}

// normalizeDesc lowercases and collapses whitespace for comparison.
func normalizeDesc(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
