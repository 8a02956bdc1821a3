package entity

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/model"
)

const (
	mergeThreshold    = 0.95
	conflictThreshold = 0.8
	descWeight        = 0.7
	newLemmaLimit     = 3
)

// SimilarityFunc scores two strings on [0,1]. The resolver's Levenshtein
// similarity is the production implementation.
type SimilarityFunc func(a, b string) float64

// Merger folds newly extracted entities into the work's existing set.
type Merger struct {
	sim    SimilarityFunc
	logger *slog.Logger
}

// NewMerger creates a merger using the given similarity metric.
func NewMerger(sim SimilarityFunc, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{sim: sim, logger: logger.With("component", "entity_merger")}
}

// Merge returns the combined entity set. Existing entities keep their slice
// positions (possibly updated in place by a merge); additions follow in the
// order of newEntities. The result is deterministic for a given input order,
// and merging a subset of the existing entities leaves the set unchanged.
func (mg *Merger) Merge(newEntities, existing []model.Entity) []model.Entity {
	combined := make([]model.Entity, len(existing))
	copy(combined, existing)

	for _, ne := range newEntities {
		idx, score := mg.bestCandidate(ne, combined)

		switch {
		case idx >= 0 && score > mergeThreshold && combined[idx].Kind == ne.Kind:
			combined[idx] = mergeInto(combined[idx], ne)
			mg.logger.Debug("merged entity", "name", ne.Name, "into", combined[idx].Name, "score", score)

		case idx >= 0 && score > mergeThreshold:
			combined = append(combined, asVariant(ne))
			mg.logger.Debug("kind conflict, kept as variant", "name", ne.Name, "score", score)

		case idx >= 0 && score > conflictThreshold && strings.EqualFold(ne.Name, combined[idx].Name):
			if combined[idx].Kind == ne.Kind {
				combined[idx] = mergeInto(combined[idx], ne)
			} else {
				combined = append(combined, asVariant(ne))
			}

		default:
			combined = append(combined, withFreshID(ne))
		}
	}
	return combined
}

// bestCandidate finds the most similar existing entity. Ties keep the
// earliest index so the operation is order-stable.
func (mg *Merger) bestCandidate(ne model.Entity, existing []model.Entity) (int, float64) {
	best, bestScore := -1, 0.0
	for i := range existing {
		if existing[i].WorkID != ne.WorkID {
			continue
		}
		s := mg.pairScore(ne, &existing[i])
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

// pairScore is the highest of name-level, alias-level and (down-weighted)
// description-level similarity.
func (mg *Merger) pairScore(ne model.Entity, ex *model.Entity) float64 {
	score := mg.sim(ne.Name, ex.Name)

	for _, a := range ex.Aliases {
		if s := mg.sim(ne.Name, a); s > score {
			score = s
		}
	}
	for _, a := range ne.Aliases {
		if s := mg.sim(a, ex.Name); s > score {
			score = s
		}
		for _, b := range ex.Aliases {
			if s := mg.sim(a, b); s > score {
				score = s
			}
		}
	}
	if ne.Description != "" && ex.Description != "" {
		if s := descWeight * mg.sim(ne.Description, ex.Description); s > score {
			score = s
		}
	}
	return score
}

// mergeInto folds ne into ex, keeping ex's id.
func mergeInto(ex, ne model.Entity) model.Entity {
	if ne.FirstAppearance > 0 && (ex.FirstAppearance == 0 || ne.FirstAppearance < ex.FirstAppearance) {
		ex.FirstAppearance = ne.FirstAppearance
	}

	ex.Description = mergeDescriptions(ex.Description, ne.Description)
	ex.Aliases = unionAliases(ex.Aliases, ne.Aliases)

	// A longer name that contains the current one is the fuller form, e.g.
	// "Lyra Stormwind" over "Lyra".
	if len(ne.Name) > len(ex.Name) && strings.Contains(strings.ToLower(ne.Name), strings.ToLower(ex.Name)) {
		ex.Aliases = unionAliases(ex.Aliases, []string{ex.Name})
		ex.Name = ne.Name
	}
	ex.Active = true
	return ex
}

// mergeDescriptions keeps the longer description unless the new one carries
// enough distinct vocabulary to be worth preserving alongside it.
func mergeDescriptions(old, incoming string) string {
	switch {
	case incoming == "":
		return old
	case old == "":
		return incoming
	}

	if countNewLemmas(old, incoming) > newLemmaLimit {
		return strings.TrimRight(old, ". ") + ". " + incoming
	}
	if len(incoming) > len(old) {
		return incoming
	}
	return old
}

var lemmaWordRe = regexp.MustCompile(`[a-zA-Z']+`)

// lemmaStopwords are function words that never count as new vocabulary.
var lemmaStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "and": {}, "or": {}, "with": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "is": {}, "was": {}, "are": {},
	"who": {}, "her": {}, "his": {}, "their": {}, "its": {}, "by": {},
	"for": {}, "from": {}, "that": {}, "this": {},
}

// countNewLemmas counts distinct stems present in incoming but absent from old.
func countNewLemmas(old, incoming string) int {
	oldSet := make(map[string]struct{})
	for _, w := range lemmaWordRe.FindAllString(strings.ToLower(old), -1) {
		oldSet[stem(w)] = struct{}{}
	}
	seen := make(map[string]struct{})
	count := 0
	for _, w := range lemmaWordRe.FindAllString(strings.ToLower(incoming), -1) {
		if _, stop := lemmaStopwords[w]; stop {
			continue
		}
		s := stem(w)
		if _, ok := oldSet[s]; ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		count++
	}
	return count
}

// stem strips common inflection suffixes. Crude, but stable and cheap.
func stem(w string) string {
	for _, suf := range []string{"ing", "edly", "ed", "es", "s", "ly"} {
		if strings.HasSuffix(w, suf) && len(w)-len(suf) >= 3 {
			return w[:len(w)-len(suf)]
		}
	}
	return w
}

// unionAliases merges alias lists case-insensitively, retaining the casing
// of the first occurrence.
func unionAliases(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, alias := range list {
			alias = strings.TrimSpace(alias)
			if alias == "" {
				continue
			}
			key := strings.ToLower(alias)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, alias)
		}
	}
	return out
}

func asVariant(ne model.Entity) model.Entity {
	ne.ID = uuid.NewString()
	ne.Name = ne.Name + " (variant)"
	ne.Active = true
	return ne
}

func withFreshID(ne model.Entity) model.Entity {
	if ne.ID == "" {
		ne.ID = uuid.NewString()
	}
	ne.Active = true
	return ne
}
