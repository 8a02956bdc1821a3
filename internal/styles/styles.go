// Package styles defines the built-in visual style presets and their
// prompt, negative-prompt and parameter contributions.
package styles

import (
	"sort"
	"strings"

	"github.com/storyglass/storyglass/internal/model"
)

// Preset is one named visual style.
type Preset struct {
	Name string

	// BasePrompt is appended to every composed prompt as the style clause.
	BasePrompt string

	// NegativeExtension extends the fixed negative-prompt base.
	NegativeExtension string

	// Keywords identify this style's vocabulary inside a prompt. Style
	// changes strip these before applying the new base.
	Keywords []string

	// ReferenceModifier is added when generating entity reference images.
	ReferenceModifier string

	// Overrides are laid over the default technical parameters. Zero
	// fields keep the default.
	Overrides model.TechnicalParams
}

// DefaultParams are the technical parameters before preset overrides.
var DefaultParams = model.TechnicalParams{
	Width:    1024,
	Height:   1024,
	Steps:    30,
	CFGScale: 7.5,
	Sampler:  "euler_a",
}

var presets = map[string]Preset{
	"fantasy": {
		Name:              "fantasy",
		BasePrompt:        "epic fantasy art, painterly, dramatic lighting, rich colors",
		NegativeExtension: "photograph, modern clothing, cars, skyscrapers",
		Keywords:          []string{"fantasy", "painterly", "epic", "dramatic lighting"},
		ReferenceModifier: "fantasy character design sheet",
		Overrides:         model.TechnicalParams{Steps: 35},
	},
	"anime": {
		Name:              "anime",
		BasePrompt:        "anime style, clean line art, cel shading, vibrant",
		NegativeExtension: "photorealistic, 3d render",
		Keywords:          []string{"anime", "cel shading", "line art", "manga"},
		ReferenceModifier: "anime character reference sheet",
		Overrides:         model.TechnicalParams{CFGScale: 9},
	},
	"realistic": {
		Name:              "realistic",
		BasePrompt:        "photorealistic, cinematic photography, natural light, 35mm",
		NegativeExtension: "cartoon, illustration, painting, drawing",
		Keywords:          []string{"photorealistic", "cinematic", "photography", "35mm"},
		ReferenceModifier: "photorealistic character study",
		Overrides:         model.TechnicalParams{Steps: 40, CFGScale: 6},
	},
	"watercolor": {
		Name:              "watercolor",
		BasePrompt:        "watercolor painting, soft washes, textured paper, delicate",
		NegativeExtension: "photograph, digital art, sharp edges",
		Keywords:          []string{"watercolor", "washes", "textured paper"},
		ReferenceModifier: "watercolor character study",
	},
	"noir": {
		Name:              "noir",
		BasePrompt:        "film noir, high contrast monochrome, deep shadows, moody",
		NegativeExtension: "bright colors, cheerful, saturated",
		Keywords:          []string{"noir", "monochrome", "high contrast", "shadows"},
		ReferenceModifier: "noir character portrait",
		Overrides:         model.TechnicalParams{Sampler: "dpm_2m"},
	},
}

// Get returns the preset for name, falling back to fantasy for unknown
// names so a bad preset never blocks a work.
func Get(name string) Preset {
	if p, ok := presets[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return presets["fantasy"]
}

// Known reports whether name is a registered preset.
func Known(name string) bool {
	_, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names returns the registered preset names, sorted.
func Names() []string {
	out := make([]string, 0, len(presets))
	for name := range presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Params returns the preset's effective technical parameters.
func (p Preset) Params() model.TechnicalParams {
	params := DefaultParams
	if p.Overrides.Width > 0 {
		params.Width = p.Overrides.Width
	}
	if p.Overrides.Height > 0 {
		params.Height = p.Overrides.Height
	}
	if p.Overrides.Steps > 0 {
		params.Steps = p.Overrides.Steps
	}
	if p.Overrides.CFGScale > 0 {
		params.CFGScale = p.Overrides.CFGScale
	}
	if p.Overrides.Sampler != "" {
		params.Sampler = p.Overrides.Sampler
	}
	return params
}

// AllKeywords returns every style keyword across presets, used when a
// style change must strip the previous style's vocabulary.
func AllKeywords() []string {
	var out []string
	for _, name := range Names() {
		out = append(out, presets[name].Keywords...)
	}
	return out
}
