// Package compose assembles image-model prompts from scenes, resolved
// entities and style presets, and derives new prompts via modifications.
package compose

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/styles"
)

// negativeBase is the fixed negative-prompt vocabulary shared by every
// composed prompt. Style presets extend it.
const negativeBase = "low quality, blurry, pixelated, distorted, ugly, duplicate, mutated, extra limbs, missing limbs, bad anatomy, bad proportions, malformed, watermark, signature, text, logo"

// technicalSuffix closes every prompt.
const technicalSuffix = "high quality, detailed, professional artwork, masterpiece"

// Config tunes prompt assembly and validation.
type Config struct {
	MaxPromptLength    int      // default 4000
	MaxModifications   int      // per Apply call, default 10
	DisallowedKeywords []string // content filter applied at validation
}

// DefaultConfig returns the composer defaults.
func DefaultConfig() Config {
	return Config{
		MaxPromptLength:  4000,
		MaxModifications: 10,
		DisallowedKeywords: []string{
			"nude", "nsfw", "gore", "decapitated", "mutilated",
		},
	}
}

// Input is everything Compose needs for one scene.
type Input struct {
	Scene             model.Scene
	Links             []model.EntityLink
	Entities          map[string]model.Entity // by id, for resolved links
	References        []model.PromptReference
	StylePreset       string
	CustomStyle       string
	ArtisticDirection string
	ChapterOrdinal    int
}

// Composer builds and validates prompts.
type Composer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a composer.
func New(cfg Config, logger *slog.Logger) *Composer {
	if cfg.MaxPromptLength <= 0 {
		cfg.MaxPromptLength = 4000
	}
	if cfg.MaxModifications <= 0 {
		cfg.MaxModifications = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{cfg: cfg, logger: logger.With("component", "prompt_composer"), now: time.Now}
}

// Compose assembles the prompt for one scene. Clauses join in a fixed
// order: augmented scene text, characters, location, style, artistic
// direction, technical suffix.
func (c *Composer) Compose(in Input) (*model.Prompt, error) {
	preset := styles.Get(in.StylePreset)

	parts := []string{c.sceneClause(in.Scene)}

	if chars := characterNames(in.Links, in.Entities); len(chars) > 0 {
		parts = append(parts, "featuring "+strings.Join(chars, ", "))
	}
	if locs := locationNames(in.Links, in.Entities); len(locs) > 0 {
		parts = append(parts, "set in "+strings.Join(locs, ", "))
	}

	style := preset.BasePrompt
	if in.CustomStyle != "" {
		style += ", " + in.CustomStyle
	}
	parts = append(parts, style)

	if in.ArtisticDirection != "" {
		parts = append(parts, in.ArtisticDirection)
	}
	parts = append(parts, technicalSuffix)

	text := normalizeText(strings.Join(parts, ", "))
	if err := c.Validate(text); err != nil {
		return nil, err
	}

	negative := negativeBase
	if preset.NegativeExtension != "" {
		negative += ", " + preset.NegativeExtension
	}

	return &model.Prompt{
		ID:           uuid.NewString(),
		SceneID:      in.Scene.ID,
		Text:         text,
		NegativeText: negative,
		StylePreset:  preset.Name,
		References:   in.References,
		Params:       preset.Params(),
		CreatedAt:    c.now(),
	}, nil
}

// sceneClause augments the scene text with lighting, atmosphere and an
// action hint derived from the scene's normalized fields.
func (c *Composer) sceneClause(s model.Scene) string {
	clause := strings.TrimSpace(s.Text)

	if s.TimeOfDay != "" && s.TimeOfDay != model.TimeOfDayUnknown {
		clause += ", " + string(s.TimeOfDay) + " lighting"
	}
	if s.Tone != "" && s.Tone != model.ToneNeutral {
		clause += ", " + string(s.Tone) + " atmosphere"
	}
	switch {
	case s.ActionLevel >= 0.7:
		clause += ", intense action"
	case s.ActionLevel >= 0.4:
		clause += ", dynamic movement"
	case s.ActionLevel > 0 && s.ActionLevel < 0.2:
		clause += ", still composition"
	}
	return clause
}

// characterNames collects resolved character names in link order, skipping
// pronoun mentions and duplicates.
func characterNames(links []model.EntityLink, entities map[string]model.Entity) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, l := range links {
		if !l.Resolved() || l.Mention.Pronoun {
			continue
		}
		e, ok := entities[l.ResolvedEntityID]
		if !ok || e.Kind != model.KindCharacter {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		names = append(names, e.Name)
	}
	return names
}

func locationNames(links []model.EntityLink, entities map[string]model.Entity) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, l := range links {
		if !l.Resolved() {
			continue
		}
		e, ok := entities[l.ResolvedEntityID]
		if !ok || e.Kind != model.KindLocation {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		names = append(names, e.Name)
	}
	return names
}

// Validate applies the prompt acceptance rules. Failures return a
// validation error itemising every issue found.
func (c *Composer) Validate(text string) error {
	var issues []string

	if len(text) < 10 {
		issues = append(issues, fmt.Sprintf("prompt too short: %d chars, minimum 10", len(text)))
	}
	if len(text) > c.cfg.MaxPromptLength {
		issues = append(issues, fmt.Sprintf("prompt too long: %d chars, maximum %d", len(text), c.cfg.MaxPromptLength))
	}

	words := strings.Fields(text)
	if len(words) < 3 {
		issues = append(issues, fmt.Sprintf("too few words: %d, minimum 3", len(words)))
	}

	if len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[strings.ToLower(strings.Trim(w, ",."))] = struct{}{}
		}
		ratio := float64(len(unique)) / float64(len(words))
		if ratio < 0.5 {
			issues = append(issues, fmt.Sprintf("unique-word ratio %.2f below 0.5", ratio))
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range c.cfg.DisallowedKeywords {
		if containsWord(lower, strings.ToLower(kw)) {
			issues = append(issues, "disallowed keyword: "+kw)
		}
	}

	if len(issues) > 0 {
		return apperr.PromptValidation(issues)
	}
	return nil
}

// containsWord reports whether text contains w as a whole word.
func containsWord(text, w string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
	return re.MatchString(text)
}

// normalizeText collapses the separator artifacts left by assembly and
// modification: duplicate commas, stray spaces, trailing punctuation.
func normalizeText(text string) string {
	fields := strings.Fields(text)
	text = strings.Join(fields, " ")

	for strings.Contains(text, ", ,") {
		text = strings.ReplaceAll(text, ", ,", ",")
	}
	for strings.Contains(text, ",,") {
		text = strings.ReplaceAll(text, ",,", ",")
	}
	text = strings.ReplaceAll(text, " ,", ",")
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	return strings.Trim(text, ", ")
}
