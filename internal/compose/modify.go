package compose

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/styles"
)

// ModificationType enumerates the supported prompt edits.
type ModificationType string

const (
	ModAddElement        ModificationType = "add_element"
	ModRemoveElement     ModificationType = "remove_element"
	ModChangeStyle       ModificationType = "change_style"
	ModAdjustLighting    ModificationType = "adjust_lighting"
	ModModifyCharacter   ModificationType = "modify_character"
	ModAddDetail         ModificationType = "add_detail"
	ModRemoveDetail      ModificationType = "remove_detail"
	ModChangeMood        ModificationType = "change_mood"
	ModAdjustComposition ModificationType = "adjust_composition"
	ModCustom            ModificationType = "custom"
)

// Modification is one requested edit to an existing prompt.
type Modification struct {
	Type        ModificationType `json:"type"`
	Target      string           `json:"target,omitempty"` // element, character or style being acted on
	Value       string           `json:"value,omitempty"`  // replacement or addition text
	Description string           `json:"description,omitempty"`
}

// Apply derives a new prompt from p by applying mods in order. An empty
// list returns p unchanged. Conflicting modifications are rejected before
// anything is applied; p is never mutated.
func (c *Composer) Apply(p model.Prompt, mods []Modification) (*model.Prompt, error) {
	if len(mods) == 0 {
		out := p
		return &out, nil
	}
	if len(mods) > c.cfg.MaxModifications {
		return nil, apperr.PromptValidation([]string{
			fmt.Sprintf("too many modifications: %d, maximum %d", len(mods), c.cfg.MaxModifications),
		})
	}
	if err := detectConflicts(mods); err != nil {
		return nil, err
	}

	derived := p
	derived.ID = uuid.NewString()
	derived.ParentID = p.ID
	derived.History = append(append([]string(nil), p.History...), historyEntries(mods)...)
	derived.References = append([]model.PromptReference(nil), p.References...)
	derived.CreatedAt = c.now()

	for _, m := range mods {
		switch m.Type {
		case ModAddElement, ModAddDetail:
			derived.Text = addElement(derived.Text, firstNonEmpty(m.Value, m.Target))
		case ModRemoveElement, ModRemoveDetail:
			derived.Text = removeElement(derived.Text, firstNonEmpty(m.Target, m.Value))
		case ModChangeStyle:
			derived.Text, derived.StylePreset, derived.NegativeText = changeStyle(derived.Text, firstNonEmpty(m.Value, m.Target))
			derived.Params = styles.Get(derived.StylePreset).Params()
		case ModAdjustLighting:
			derived.Text = replaceOrAppend(derived.Text, lightingRe, firstNonEmpty(m.Value, m.Target)+" lighting")
		case ModChangeMood:
			derived.Text = replaceOrAppend(derived.Text, moodRe, firstNonEmpty(m.Value, m.Target)+" atmosphere")
		case ModModifyCharacter:
			derived.Text = modifyCharacter(derived.Text, m.Target, m.Value)
		case ModAdjustComposition:
			derived.Text = addElement(derived.Text, firstNonEmpty(m.Value, m.Target))
		case ModCustom:
			derived.Text = applyCustom(derived.Text, m)
		default:
			return nil, apperr.PromptValidation([]string{"unknown modification type: " + string(m.Type)})
		}
	}

	derived.Text = normalizeText(derived.Text)
	if err := c.Validate(derived.Text); err != nil {
		return nil, err
	}
	return &derived, nil
}

// detectConflicts rejects modification lists that cannot be applied
// coherently: repeated style or mood changes, or add/remove pairs
// targeting overlapping text.
func detectConflicts(mods []Modification) error {
	styleChanges, moodChanges := 0, 0
	var adds, removes []string

	for _, m := range mods {
		switch m.Type {
		case ModChangeStyle:
			styleChanges++
		case ModChangeMood:
			moodChanges++
		case ModAddElement, ModAddDetail:
			adds = append(adds, strings.ToLower(firstNonEmpty(m.Value, m.Target)))
		case ModRemoveElement, ModRemoveDetail:
			removes = append(removes, strings.ToLower(firstNonEmpty(m.Target, m.Value)))
		}
	}

	if styleChanges > 1 {
		return apperr.ConflictingModifications("multiple style changes in one request")
	}
	if moodChanges > 1 {
		return apperr.ConflictingModifications("multiple mood changes in one request")
	}
	for _, a := range adds {
		for _, r := range removes {
			if a == "" || r == "" {
				continue
			}
			if strings.Contains(a, r) || strings.Contains(r, a) {
				return apperr.ConflictingModifications(fmt.Sprintf("add %q overlaps remove %q", a, r))
			}
		}
	}
	return nil
}

// addElement appends the element unless it is already present.
func addElement(text, element string) string {
	element = strings.TrimSpace(element)
	if element == "" {
		return text
	}
	if strings.Contains(strings.ToLower(text), strings.ToLower(element)) {
		return text
	}
	return text + ", " + element
}

// removeElement strips whole-word matches of the element and its simple
// plural and singular variants.
func removeElement(text, element string) string {
	element = strings.TrimSpace(element)
	if element == "" {
		return text
	}
	variants := []string{element}
	if strings.HasSuffix(element, "s") {
		variants = append(variants, strings.TrimSuffix(element, "s"))
	} else {
		variants = append(variants, element+"s")
	}
	for _, v := range variants {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(v) + `\b`)
		text = re.ReplaceAllString(text, "")
	}
	return normalizeText(text)
}

// changeStyle strips all known style vocabulary from the text and prepends
// the new style's base prompt.
func changeStyle(text, styleName string) (newText, newStyle, newNegative string) {
	preset := styles.Get(styleName)

	for _, kw := range styles.AllKeywords() {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		text = re.ReplaceAllString(text, "")
	}
	text = normalizeText(text)

	negative := negativeBase
	if preset.NegativeExtension != "" {
		negative += ", " + preset.NegativeExtension
	}
	return preset.BasePrompt + ", " + text, preset.Name, negative
}

var (
	lightingRe = regexp.MustCompile(`(?i)\b[a-z]+ lighting\b`)
	moodRe     = regexp.MustCompile(`(?i)\b[a-z]+ atmosphere\b`)
)

// replaceOrAppend swaps the first match of re for replacement, or appends
// when nothing matches.
func replaceOrAppend(text string, re *regexp.Regexp, replacement string) string {
	if re.MatchString(text) {
		replaced := false
		return re.ReplaceAllStringFunc(text, func(m string) string {
			if replaced {
				return m
			}
			replaced = true
			return replacement
		})
	}
	return text + ", " + replacement
}

// modifyCharacter attaches a descriptor to the named character when the
// name appears in the text, otherwise appends both.
func modifyCharacter(text, name, descriptor string) string {
	name = strings.TrimSpace(name)
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return text
	}
	if name == "" {
		return addElement(text, descriptor)
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
	if loc := re.FindStringIndex(text); loc != nil {
		return text[:loc[1]] + " (" + descriptor + ")" + text[loc[1]:]
	}
	return addElement(text, name+" ("+descriptor+")")
}

var replaceDirectiveRe = regexp.MustCompile(`(?i)replace`)

// applyCustom handles free-form modifications. A description mentioning
// "replace" with a target performs a case-insensitive substitution; other
// descriptions are appended verbatim.
func applyCustom(text string, m Modification) string {
	if replaceDirectiveRe.MatchString(m.Description) && m.Target != "" {
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(m.Target))
		if err != nil {
			return addElement(text, m.Value)
		}
		return re.ReplaceAllString(text, m.Value)
	}
	return addElement(text, firstNonEmpty(m.Value, m.Description))
}

// historyEntries renders the applied modifications for the prompt's
// modification history.
func historyEntries(mods []Modification) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		detail := firstNonEmpty(m.Value, firstNonEmpty(m.Target, m.Description))
		out[i] = string(m.Type) + ": " + detail
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
