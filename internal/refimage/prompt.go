package refimage

import (
	"strings"

	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/styles"
)

// roleModifiers extend the reference prompt when the entity description
// hints at a role or archetype.
var roleModifiers = []struct {
	keyword  string
	modifier string
}{
	{"warrior", "battle-worn equipment, confident stance"},
	{"knight", "polished armor, heraldic details"},
	{"mage", "arcane accessories, flowing garments"},
	{"wizard", "arcane accessories, flowing garments"},
	{"royal", "regal bearing, fine fabrics"},
	{"queen", "regal bearing, fine fabrics"},
	{"king", "regal bearing, fine fabrics"},
	{"thief", "practical dark clothing, alert posture"},
	{"sailor", "weathered features, practical seafaring clothes"},
	{"young", "youthful features"},
	{"old", "aged features, weathered skin"},
	{"castle", "imposing stone architecture, banners"},
	{"tower", "vertical emphasis, dramatic height"},
	{"forest", "dense foliage, dappled light"},
	{"village", "rustic buildings, lived-in detail"},
	{"ruin", "crumbling masonry, overgrowth"},
	{"harbor", "docks, moored ships, water reflections"},
}

var ageModifiers = map[model.AgeTag]string{
	model.AgeChild:   "child, small stature, soft features",
	model.AgeYoung:   "young adult, smooth features",
	model.AgeAdult:   "adult, mature features",
	model.AgeElderly: "elderly, lined face, grey hair",
}

// referencePrompt builds the generation prompt for an entity's canonical
// reference image.
func referencePrompt(e model.Entity, stylePreset string, ageTag model.AgeTag) string {
	var parts []string

	parts = append(parts, e.Name+", "+e.Description)

	if mod, ok := ageModifiers[ageTag]; ok {
		parts = append(parts, mod)
	}

	switch e.Kind {
	case model.KindCharacter:
		parts = append(parts, "full-body portrait, neutral expression, clear facial features")
	case model.KindLocation:
		parts = append(parts, "wide establishing shot, architectural detail")
	}

	desc := strings.ToLower(e.Name + " " + e.Description)
	for _, rm := range roleModifiers {
		if strings.Contains(desc, rm.keyword) {
			parts = append(parts, rm.modifier)
		}
	}

	preset := styles.Get(stylePreset)
	if preset.ReferenceModifier != "" {
		parts = append(parts, preset.ReferenceModifier)
	}
	parts = append(parts, preset.BasePrompt)
	parts = append(parts, "clean background, consistent design, suitable for multiple angles")

	return strings.Join(parts, ", ")
}
