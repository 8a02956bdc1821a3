// Package entity discovers, merges and tracks the characters and locations
// of a work across its chapters.
package entity

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
)

// Extractor asks the text model for entities the resolver could not match.
type Extractor struct {
	text   providers.TextModel
	logger *slog.Logger
}

// NewExtractor creates an entity extractor backed by the given text model.
func NewExtractor(text providers.TextModel, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{text: text, logger: logger.With("component", "entity_extractor")}
}

// ExtractNew proposes entities for the scene's unresolved mentions. Results
// are filtered to those overlapping an unresolved mention; everything else
// the model volunteers is discarded. Returns nil when nothing is unresolved.
func (e *Extractor) ExtractNew(ctx context.Context, workID string, sceneText string, atChapter int, unresolved []model.Mention, knownMentions []string) ([]model.Entity, error) {
	if len(unresolved) == 0 {
		return nil, nil
	}

	extraction, err := e.text.ExtractEntities(ctx, providers.EntityExtractionRequest{
		SceneText:     sceneText,
		KnownMentions: knownMentions,
	})
	if err != nil {
		return nil, err
	}

	var out []model.Entity
	for _, c := range extraction.Characters {
		if !overlapsAny(c.Name, c.Aliases, unresolved) {
			continue
		}
		out = append(out, model.Entity{
			ID:              uuid.NewString(),
			WorkID:          workID,
			Name:            strings.TrimSpace(c.Name),
			Kind:            model.KindCharacter,
			Description:     strings.TrimSpace(c.Description),
			Aliases:         trimAll(c.Aliases),
			FirstAppearance: atChapter,
			Active:          true,
		})
	}
	for _, l := range extraction.Locations {
		if !overlapsAny(l.Name, nil, unresolved) {
			continue
		}
		out = append(out, model.Entity{
			ID:              uuid.NewString(),
			WorkID:          workID,
			Name:            strings.TrimSpace(l.Name),
			Kind:            model.KindLocation,
			Description:     strings.TrimSpace(l.Description),
			FirstAppearance: atChapter,
			Active:          true,
		})
	}
	if dropped := len(extraction.Characters) + len(extraction.Locations) - len(out); dropped > 0 {
		e.logger.Debug("discarded entities with no unresolved overlap", "dropped", dropped)
	}
	return out, nil
}

// overlapsAny reports whether the proposed name (or an alias, exactly)
// textually overlaps one of the unresolved mentions.
func overlapsAny(name string, aliases []string, unresolved []model.Mention) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	for _, m := range unresolved {
		t := strings.ToLower(strings.TrimSpace(m.Text))
		if t == "" {
			continue
		}
		if strings.Contains(n, t) || strings.Contains(t, n) {
			return true
		}
		for _, a := range aliases {
			if strings.EqualFold(strings.TrimSpace(a), m.Text) {
				return true
			}
		}
	}
	return false
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
