// Package resolver matches mention spans against the known entity set using
// exact, alias, partial and fuzzy scoring with contextual boosts.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/storyglass/storyglass/internal/model"
)

// Config tunes the resolution thresholds.
type Config struct {
	// MinConfidence is the floor for accepting the best candidate. Default 0.5.
	MinConfidence float64
	// SimilarityThreshold is the floor for pure fuzzy matches. Default 0.6.
	SimilarityThreshold float64
	// MaxAlternatives bounds the recorded lower-scoring candidates. Default 3.
	MaxAlternatives int
	// CacheSize bounds the similarity memoization cache. Default 4096.
	CacheSize int
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.6
	}
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = 3
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 4096
	}
	return c
}

// Resolver scores mentions against known entities. Safe for use by a single
// chapter pipeline at a time; the similarity cache is internally synchronized.
type Resolver struct {
	cfg   Config
	simLR *lru.Cache[string, float64]
}

// New creates a resolver with the given config.
func New(cfg Config) *Resolver {
	cfg = cfg.withDefaults()
	cache, _ := lru.New[string, float64](cfg.CacheSize)
	return &Resolver{cfg: cfg, simLR: cache}
}

// candidate pairs an entity with its computed confidence for one mention.
type candidate struct {
	entity     *model.Entity
	confidence float64
}

// Resolve produces one EntityLink per mention, ordered by confidence
// descending. Deterministic for fixed inputs.
func (r *Resolver) Resolve(mentions []model.Mention, known []model.Entity) []model.EntityLink {
	links := make([]model.EntityLink, 0, len(mentions))
	for _, m := range mentions {
		links = append(links, r.resolveOne(m, known))
	}
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Confidence > links[j].Confidence
	})
	return links
}

const candidateFloor = 0.1

func (r *Resolver) resolveOne(m model.Mention, known []model.Entity) model.EntityLink {
	link := model.EntityLink{Mention: m}

	cands := make([]candidate, 0, 4)
	for i := range known {
		e := &known[i]
		base := r.baseScore(m.Text, e)
		if base == 0 {
			continue
		}
		conf := model.Clamp01(base * contextMultiplier(m, e))
		if conf < candidateFloor {
			continue
		}
		cands = append(cands, candidate{entity: e, confidence: conf})
	}

	if len(cands) == 0 {
		link.Note = fmt.Sprintf("no candidate above %.1f for %q", candidateFloor, m.Text)
		return link
	}

	// Stable order: confidence desc, then entity id for determinism.
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].confidence != cands[j].confidence {
			return cands[i].confidence > cands[j].confidence
		}
		return cands[i].entity.ID < cands[j].entity.ID
	})

	best := cands[0]
	link.Confidence = best.confidence
	if best.confidence >= r.cfg.MinConfidence {
		link.ResolvedEntityID = best.entity.ID
	} else {
		link.Note = fmt.Sprintf("best candidate %q below confidence floor (%.2f < %.2f)",
			best.entity.Name, best.confidence, r.cfg.MinConfidence)
	}

	for _, c := range cands[1:] {
		if len(link.Alternatives) >= r.cfg.MaxAlternatives {
			break
		}
		link.Alternatives = append(link.Alternatives, c.entity.ID)
	}
	return link
}

// baseScore returns the highest of the four match rules for mention text
// against one entity. Zero means no plausible match at all.
func (r *Resolver) baseScore(text string, e *model.Entity) float64 {
	norm := normalize(text)
	name := normalize(e.Name)

	if norm == name {
		return 1.0
	}
	for _, alias := range e.Aliases {
		if norm == normalize(alias) {
			return 0.95
		}
	}

	sim := r.similarity(norm, name)
	for _, alias := range e.Aliases {
		if s := r.similarity(norm, normalize(alias)); s > sim {
			sim = s
		}
	}

	if (strings.Contains(name, norm) || strings.Contains(norm, name)) && sim > 0.7 {
		return sim * 0.80
	}
	if sim >= r.cfg.SimilarityThreshold {
		return sim * 0.70
	}
	return 0
}

// characterVerbs and bodyParts signal that the surrounding sentence talks
// about a person.
var characterVerbs = map[string]bool{
	"said": true, "spoke": true, "whispered": true, "shouted": true,
	"walked": true, "ran": true, "smiled": true, "laughed": true,
	"frowned": true, "nodded": true, "turned": true, "looked": true,
	"thought": true, "felt": true, "knelt": true, "stood": true,
	"fought": true, "wept": true, "sighed": true, "grinned": true,
}

var bodyParts = map[string]bool{
	"eyes": true, "hand": true, "hands": true, "face": true, "hair": true,
	"arm": true, "arms": true, "shoulder": true, "voice": true, "heart": true,
	"lips": true, "brow": true, "fingers": true,
}

var locationWords = map[string]bool{
	"castle": true, "tower": true, "forest": true, "mountain": true,
	"river": true, "village": true, "city": true, "palace": true,
	"temple": true, "cave": true, "valley": true, "hall": true,
	"gate": true, "road": true, "inn": true, "harbor": true,
}

var locationPreps = map[string]bool{
	"in": true, "at": true, "to": true, "from": true, "toward": true,
	"through": true, "across": true, "near": true, "inside": true,
}

// contextMultiplier applies the sentence-context boosts of the scoring rules.
func contextMultiplier(m model.Mention, e *model.Entity) float64 {
	mult := 1.0
	words := strings.Fields(strings.ToLower(m.Sentence))
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[strings.Trim(w, ".,;:!?\"'")] = true
	}

	if e.Kind == model.KindCharacter {
		for w := range wordSet {
			if characterVerbs[w] || bodyParts[w] {
				mult *= 1.2
				break
			}
		}
	}
	if e.Kind == model.KindLocation {
		for w := range wordSet {
			if locationPreps[w] || locationWords[w] {
				mult *= 1.2
				break
			}
		}
	}
	if m.Pronoun {
		mult *= 0.6
	} else if isProperShaped(m.Text) {
		mult *= 1.1
	}
	return mult
}

// isProperShaped reports whether every word of text is capitalized, ignoring
// a leading article.
func isProperShaped(text string) bool {
	words := strings.Fields(strings.TrimPrefix(text, "the "))
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if w[0] < 'A' || w[0] > 'Z' {
			return false
		}
	}
	return true
}

// similarity is 1 - levenshtein/maxlen, memoized because the same
// (mention, entity) pairs recur across scenes within a chapter.
func (r *Resolver) similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	key := a + "\x00" + b
	if v, ok := r.simLR.Get(key); ok {
		return v
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	sim := 1.0 - float64(dist)/float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	r.simLR.Add(key, sim)
	return sim
}

// Similarity exposes the memoized metric for the merger and evolution
// tracker, which are specified to use the same measure.
func (r *Resolver) Similarity(a, b string) float64 {
	return r.similarity(normalize(a), normalize(b))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
