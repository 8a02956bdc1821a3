// Package scene filters and normalizes the text model's raw scene
// candidates into committed scenes.
package scene

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
)

const minChunkChars = 100

// Config tunes the extraction filters.
type Config struct {
	MinVisualScore float64 // scenes below are dropped (default 0.3)
	MinImpactScore float64 // scenes below are dropped (default 0.3)
	MaxScenes      int     // per chunk (default 3)
}

// DefaultConfig returns the extraction defaults.
func DefaultConfig() Config {
	return Config{MinVisualScore: 0.3, MinImpactScore: 0.3, MaxScenes: 3}
}

// WorkContext carries the work-level context sent with each chunk.
type WorkContext struct {
	WorkTitle       string
	StylePreset     string
	KnownCharacters []string
	KnownLocations  []string
	// PriorSummaries lists scene summaries already illustrated in the
	// predecessor chapter, so the model avoids near-duplicate moments.
	PriorSummaries []string
}

// Extractor turns chunks into scenes via the text model.
type Extractor struct {
	text   providers.TextModel
	cfg    Config
	logger *slog.Logger
}

// NewExtractor creates a scene extractor backed by the given text model.
func NewExtractor(text providers.TextModel, cfg Config, logger *slog.Logger) *Extractor {
	if cfg.MaxScenes <= 0 {
		cfg.MaxScenes = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{text: text, cfg: cfg, logger: logger.With("component", "scene_extractor")}
}

// Extract returns the surviving scenes for one chunk, ordered by impact
// descending with input order breaking ties. Chunks under 100 characters
// are skipped entirely.
func (e *Extractor) Extract(ctx context.Context, chunk model.Chunk, wc WorkContext) ([]model.Scene, error) {
	if len(chunk.Text) < minChunkChars {
		e.logger.Debug("chunk below minimum size, skipping", "chunk_index", chunk.Index, "chars", len(chunk.Text))
		return nil, nil
	}

	candidates, err := e.text.ExtractScenes(ctx, providers.SceneExtractionRequest{
		ChunkText:       chunk.Text,
		WorkTitle:       wc.WorkTitle,
		StylePreset:     wc.StylePreset,
		KnownCharacters: wc.KnownCharacters,
		KnownLocations:  wc.KnownLocations,
		PriorSummaries:  wc.PriorSummaries,
		MaxScenes:       e.cfg.MaxScenes,
	})
	if err != nil {
		// Format errors are terminal for this chunk; transport errors keep
		// their retryable classification for the caller.
		if apperr.KindOf(err) == apperr.KindExtractionFormat {
			return nil, err
		}
		if apperr.CodeOf(err) == apperr.CodeUpstream {
			return nil, err
		}
		return nil, apperr.UpstreamTransient(err)
	}

	type ranked struct {
		scene model.Scene
		order int
	}
	kept := make([]ranked, 0, len(candidates))
	for i, c := range candidates {
		visual := model.Clamp01(c.VisualScore)
		impact := model.Clamp01(c.ImpactScore)
		if visual < e.cfg.MinVisualScore || impact < e.cfg.MinImpactScore {
			continue
		}
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		kept = append(kept, ranked{
			scene: model.Scene{
				ID:          uuid.NewString(),
				ChapterID:   chunk.ChapterID,
				ChunkIndex:  chunk.Index,
				Text:        text,
				Summary:     strings.TrimSpace(c.Summary),
				VisualScore: visual,
				ImpactScore: impact,
				TimeOfDay:   NormalizeTimeOfDay(c.TimeOfDay),
				Tone:        NormalizeTone(c.EmotionalTone),
				ActionLevel: ActionLevel(text, NormalizeTone(c.EmotionalTone)),
			},
			order: i,
		})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].scene.ImpactScore != kept[j].scene.ImpactScore {
			return kept[i].scene.ImpactScore > kept[j].scene.ImpactScore
		}
		return kept[i].order < kept[j].order
	})

	if len(kept) > e.cfg.MaxScenes {
		kept = kept[:e.cfg.MaxScenes]
	}

	scenes := make([]model.Scene, len(kept))
	for i, r := range kept {
		r.scene.SceneIndex = i
		scenes[i] = r.scene
	}
	return scenes, nil
}

// timeSynonyms maps free-form time-of-day wording onto the closed enum.
var timeSynonyms = map[string]model.TimeOfDay{
	"dawn": model.TimeOfDayDawn, "daybreak": model.TimeOfDayDawn,
	"sunrise": model.TimeOfDayDawn, "first light": model.TimeOfDayDawn,
	"early morning": model.TimeOfDayDawn,

	"morning": model.TimeOfDayMorning, "forenoon": model.TimeOfDayMorning,
	"mid-morning": model.TimeOfDayMorning, "breakfast": model.TimeOfDayMorning,

	"midday": model.TimeOfDayMidday, "noon": model.TimeOfDayMidday,
	"afternoon": model.TimeOfDayMidday, "day": model.TimeOfDayMidday,
	"daytime": model.TimeOfDayMidday, "broad daylight": model.TimeOfDayMidday,

	"dusk": model.TimeOfDayDusk, "sunset": model.TimeOfDayDusk,
	"twilight": model.TimeOfDayDusk, "evening": model.TimeOfDayDusk,
	"nightfall": model.TimeOfDayDusk, "gloaming": model.TimeOfDayDusk,

	"night": model.TimeOfDayNight, "midnight": model.TimeOfDayNight,
	"nighttime": model.TimeOfDayNight, "late night": model.TimeOfDayNight,
	"dark": model.TimeOfDayNight, "moonlit": model.TimeOfDayNight,
}

// NormalizeTimeOfDay maps free-form model output onto the TimeOfDay enum.
// Unrecognized values become unknown.
func NormalizeTimeOfDay(raw string) model.TimeOfDay {
	key := strings.ToLower(strings.TrimSpace(raw))
	if v, ok := timeSynonyms[key]; ok {
		return v
	}
	// Substring pass catches compound phrasings like "just before dawn".
	for syn, v := range timeSynonyms {
		if strings.Contains(key, syn) {
			return v
		}
	}
	return model.TimeOfDayUnknown
}

// toneSynonyms maps free-form tone wording onto the closed enum.
var toneSynonyms = map[string]model.EmotionalTone{
	"joyful": model.ToneJoyful, "happy": model.ToneJoyful,
	"celebratory": model.ToneJoyful, "cheerful": model.ToneJoyful,
	"triumphant": model.ToneJoyful, "elated": model.ToneJoyful,

	"tense": model.ToneTense, "suspenseful": model.ToneTense,
	"anxious": model.ToneTense, "urgent": model.ToneTense,
	"frantic": model.ToneTense, "violent": model.ToneTense,
	"dangerous": model.ToneTense,

	"melancholy": model.ToneMelancholy, "sad": model.ToneMelancholy,
	"mournful": model.ToneMelancholy, "sorrowful": model.ToneMelancholy,
	"grieving": model.ToneMelancholy, "wistful": model.ToneMelancholy,

	"peaceful": model.TonePeaceful, "calm": model.TonePeaceful,
	"serene": model.TonePeaceful, "tranquil": model.TonePeaceful,
	"quiet": model.TonePeaceful, "restful": model.TonePeaceful,

	"ominous": model.ToneOminous, "foreboding": model.ToneOminous,
	"sinister": model.ToneOminous, "menacing": model.ToneOminous,
	"dread": model.ToneOminous, "eerie": model.ToneOminous,
	"dark": model.ToneOminous,

	"romantic": model.ToneRomantic, "tender": model.ToneRomantic,
	"loving": model.ToneRomantic, "intimate": model.ToneRomantic,
	"passionate": model.ToneRomantic,

	"neutral": model.ToneNeutral, "matter-of-fact": model.ToneNeutral,
	"descriptive": model.ToneNeutral,
}

// NormalizeTone maps free-form model output onto the EmotionalTone enum.
// Unrecognized values become neutral.
func NormalizeTone(raw string) model.EmotionalTone {
	key := strings.ToLower(strings.TrimSpace(raw))
	if v, ok := toneSynonyms[key]; ok {
		return v
	}
	for syn, v := range toneSynonyms {
		if strings.Contains(key, syn) {
			return v
		}
	}
	return model.ToneNeutral
}

// actionWords is the verb lexicon used to estimate physical action.
var actionWords = map[string]struct{}{
	"ran": {}, "run": {}, "running": {}, "sprinted": {}, "chased": {},
	"fought": {}, "fight": {}, "fighting": {}, "struck": {}, "strike": {},
	"leapt": {}, "leaped": {}, "jumped": {}, "dodged": {}, "ducked": {},
	"swung": {}, "slashed": {}, "stabbed": {}, "threw": {}, "hurled": {},
	"charged": {}, "lunged": {}, "grabbed": {}, "seized": {}, "wrestled": {},
	"fled": {}, "escaped": {}, "pursued": {}, "galloped": {}, "raced": {},
	"crashed": {}, "smashed": {}, "shattered": {}, "exploded": {}, "burst": {},
	"fell": {}, "tumbled": {}, "collapsed": {}, "stormed": {}, "burned": {},
	"fired": {}, "shot": {}, "drew": {}, "parried": {}, "clashed": {},
}

var toneActionBonus = map[model.EmotionalTone]float64{
	model.ToneTense:   0.2,
	model.ToneOminous: 0.1,
}

var actionWordRe = regexp.MustCompile(`[a-zA-Z']+`)

// ActionLevel estimates the physical action intensity of scene text on
// [0,1] from the action lexicon, the tone and the dialogue share.
func ActionLevel(text string, tone model.EmotionalTone) float64 {
	words := actionWordRe.FindAllString(strings.ToLower(text), -1)
	hits := 0
	seen := make(map[string]struct{})
	for _, w := range words {
		if _, ok := actionWords[w]; !ok {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		hits++
	}

	level := 0.1 * float64(hits)
	level += toneActionBonus[tone]
	if dialogueRatio(text) > 0.1 {
		level -= 0.1
	}
	return model.Clamp01(level)
}

// dialogueRatio is the fraction of characters inside double quotes.
func dialogueRatio(text string) float64 {
	if text == "" {
		return 0
	}
	inQuote := false
	quoted := 0
	for _, r := range text {
		switch r {
		case '"':
			inQuote = !inQuote
			continue
		case '“':
			inQuote = true
			continue
		case '”':
			inQuote = false
			continue
		}
		if inQuote {
			quoted++
		}
	}
	return float64(quoted) / float64(len([]rune(text)))
}
