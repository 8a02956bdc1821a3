// Package mention heuristically identifies candidate character and location
// mention spans in scene text. Classification here is a fallback only;
// low-confidence mentions stay unresolved rather than being guessed at.
package mention

import (
	"regexp"
	"strings"

	"github.com/storyglass/storyglass/internal/model"
)

const (
	minMentionLen = 2
	maxMentionLen = 50
)

// stopwords excludes common sentence-initial and generic capitalized words
// from character candidacy.
var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "nor": true,
	"yet": true, "she": true, "her": true, "him": true, "his": true,
	"they": true, "them": true, "their": true, "this": true, "that": true,
	"these": true, "those": true, "then": true, "than": true, "when": true,
	"where": true, "while": true, "with": true, "within": true, "without": true,
	"what": true, "who": true, "whom": true, "why": true, "how": true,
	"not": true, "now": true, "here": true, "there": true, "once": true,
	"upon": true, "after": true, "before": true, "above": true, "below": true,
	"into": true, "onto": true, "over": true, "under": true, "again": true,
	"all": true, "any": true, "both": true, "each": true, "few": true,
	"more": true, "most": true, "other": true, "some": true, "such": true,
	"only": true, "own": true, "same": true, "very": true, "just": true,
	"one": true, "two": true, "three": true, "first": true, "second": true,
	"yes": true, "was": true, "were": true, "had": true, "has": true,
	"have": true, "did": true, "does": true, "are": true, "will": true,
	"would": true, "could": true, "should": true, "may": true, "might": true,
	"must": true, "can": true, "let": true, "still": true, "even": true,
	"though": true, "although": true, "because": true, "since": true,
	"until": true, "during": true, "suddenly": true, "perhaps": true,
	"meanwhile": true, "however": true, "everyone": true, "something": true,
	"nothing": true, "everything": true, "someone": true, "nobody": true,
}

var titles = []string{
	"Mr.", "Mrs.", "Ms.", "Miss", "Dr.", "Lady", "Lord", "Sir", "Dame",
	"Captain", "General", "Sergeant", "King", "Queen", "Prince", "Princess",
	"Duke", "Duchess", "Baron", "Master", "Professor", "Father", "Mother",
	"Brother", "Sister",
}

var pronouns = map[string]bool{
	"he": true, "she": true, "they": true, "him": true, "her": true, "them": true,
}

var kinshipTerms = map[string]bool{
	"mother": true, "father": true, "sister": true, "brother": true,
	"aunt": true, "uncle": true, "grandmother": true, "grandfather": true,
	"daughter": true, "son": true, "cousin": true, "wife": true, "husband": true,
}

var roleNouns = map[string]bool{
	"king": true, "queen": true, "prince": true, "princess": true,
	"knight": true, "wizard": true, "mage": true, "priest": true,
	"soldier": true, "guard": true, "captain": true, "stranger": true,
	"old man": true, "old woman": true, "boy": true, "girl": true,
	"merchant": true, "innkeeper": true, "servant": true, "healer": true,
}

// locationLexicon is the closed set of location head nouns.
var locationLexicon = map[string]bool{
	"castle": true, "tower": true, "forest": true, "mountain": true,
	"river": true, "lake": true, "sea": true, "ocean": true, "village": true,
	"city": true, "town": true, "palace": true, "temple": true, "church": true,
	"cave": true, "valley": true, "hill": true, "field": true, "garden": true,
	"bridge": true, "gate": true, "hall": true, "chamber": true, "dungeon": true,
	"inn": true, "tavern": true, "market": true, "harbor": true, "island": true,
	"desert": true, "swamp": true, "ruins": true, "keep": true, "fortress": true,
}

var locationPrepositions = map[string]bool{
	"in": true, "at": true, "to": true, "from": true, "toward": true,
	"towards": true, "through": true, "across": true, "near": true,
	"beyond": true, "inside": true, "outside": true, "beneath": true,
}

var directionals = []string{"north", "south", "east", "west"}

var (
	sentenceSplit  = regexp.MustCompile(`[.?!]+`)
	capitalizedRun = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`)
	wordRe         = regexp.MustCompile(`[A-Za-z']+`)
)

// Find returns the candidate mentions in sceneText, deduplicated on
// (lowercased text, sentence).
func Find(sceneText string) []model.Mention {
	if strings.TrimSpace(sceneText) == "" {
		return nil
	}

	type key struct{ text, sentence string }
	seen := make(map[key]bool)
	var out []model.Mention

	add := func(m model.Mention) {
		if len(m.Text) < minMentionLen || len(m.Text) > maxMentionLen {
			return
		}
		k := key{strings.ToLower(m.Text), m.Sentence}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, m)
	}

	offset := 0
	for _, sentence := range splitSentences(sceneText) {
		start := strings.Index(sceneText[offset:], sentence)
		if start >= 0 {
			start += offset
			offset = start + len(sentence)
		}
		findCharacters(sentence, start, add)
		findLocations(sentence, start, add)
	}
	return out
}

func splitSentences(text string) []string {
	raw := sentenceSplit.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func findCharacters(sentence string, base int, add func(model.Mention)) {
	// Titled forms: "Lady Vharen", "Captain Aldous".
	for _, title := range titles {
		idx := 0
		for {
			pos := strings.Index(sentence[idx:], title+" ")
			if pos < 0 {
				break
			}
			pos += idx
			rest := sentence[pos+len(title)+1:]
			if m := capitalizedRun.FindString(rest); m != "" && strings.HasPrefix(rest, m) {
				text := title + " " + m
				add(model.Mention{
					Text: text, Sentence: sentence,
					Start: base + pos, End: base + pos + len(text),
					Kind: model.KindCharacter,
				})
			}
			idx = pos + len(title)
		}
	}

	// Single and multi-word capitalized names.
	for _, loc := range capitalizedRun.FindAllStringIndex(sentence, -1) {
		text := sentence[loc[0]:loc[1]]
		lower := strings.ToLower(text)
		if !strings.Contains(text, " ") {
			if len(text) < 3 || len(text) > 20 || stopwords[lower] {
				continue
			}
			// Sentence-initial capitalized stopword-adjacent words are noisy;
			// still admitted, the resolver's confidence floor filters them.
		}
		if locationLexicon[lower] {
			continue
		}
		add(model.Mention{
			Text: text, Sentence: sentence,
			Start: base + loc[0], End: base + loc[1],
			Kind: model.KindCharacter,
		})
	}

	// Pronouns, kinship terms and the-prefixed role nouns.
	for _, loc := range wordRe.FindAllStringIndex(sentence, -1) {
		word := sentence[loc[0]:loc[1]]
		lower := strings.ToLower(word)
		switch {
		case pronouns[lower]:
			add(model.Mention{
				Text: word, Sentence: sentence,
				Start: base + loc[0], End: base + loc[1],
				Kind: model.KindCharacter, Pronoun: true,
			})
		case kinshipTerms[lower]:
			add(model.Mention{
				Text: word, Sentence: sentence,
				Start: base + loc[0], End: base + loc[1],
				Kind: model.KindCharacter,
			})
		case roleNouns[lower] && precededByThe(sentence, loc[0]):
			text := "the " + word
			add(model.Mention{
				Text: text, Sentence: sentence,
				Start: base + loc[0] - 4, End: base + loc[1],
				Kind: model.KindCharacter,
			})
		}
	}
}

func findLocations(sentence string, base int, add func(model.Mention)) {
	words := wordRe.FindAllStringIndex(sentence, -1)
	for i, loc := range words {
		word := sentence[loc[0]:loc[1]]
		lower := strings.ToLower(word)

		// Prepositional phrase followed by a capitalized head, optionally
		// with "the": "in the Crystal Tower", "to Ravenhold".
		if locationPrepositions[lower] && i+1 < len(words) {
			rest := sentence[words[i+1][0]:]
			rest = strings.TrimPrefix(rest, "the ")
			if m := capitalizedRun.FindString(rest); m != "" && strings.HasPrefix(rest, m) {
				text := m
				if strings.HasPrefix(sentence[words[i+1][0]:], "the ") {
					text = "the " + m
				}
				start := words[i+1][0]
				add(model.Mention{
					Text: text, Sentence: sentence,
					Start: base + start, End: base + start + len(text),
					Kind: model.KindLocation,
				})
			}
		}

		// Closed lexicon heads: "the castle", "an old tower".
		if locationLexicon[lower] {
			text := word
			start := loc[0]
			if precededByThe(sentence, loc[0]) {
				text = "the " + word
				start -= 4
			}
			add(model.Mention{
				Text: text, Sentence: sentence,
				Start: base + start, End: base + loc[1],
				Kind: model.KindLocation,
			})
		}

		// Directional compounds: "the northern wastes", "South Gate".
		for _, dir := range directionals {
			if strings.HasPrefix(lower, dir) && i+1 < len(words) {
				next := sentence[words[i+1][0]:words[i+1][1]]
				if locationLexicon[strings.ToLower(next)] || capitalizedRun.MatchString(next) {
					text := word + " " + next
					add(model.Mention{
						Text: text, Sentence: sentence,
						Start: base + loc[0], End: base + words[i+1][1],
						Kind: model.KindLocation,
					})
				}
			}
		}
	}
}

func precededByThe(sentence string, wordStart int) bool {
	if wordStart < 4 {
		return false
	}
	return strings.EqualFold(sentence[wordStart-4:wordStart], "the ")
}
