// Package chunker splits chapter text into bounded-size chunks along
// natural boundaries.
package chunker

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
)

// Strategy selects the splitting behaviour.
type Strategy string

const (
	StrategyParagraph Strategy = "paragraph"
	StrategySemantic  Strategy = "semantic"
	StrategyFixed     Strategy = "fixed"
)

// Config bounds the chunker output.
type Config struct {
	// MaxSize is the maximum chunk length in bytes. Default 4000.
	MaxSize int
	// Overlap is the number of tail bytes repeated at the head of the next
	// chunk under the fixed strategy. Default 0.
	Overlap int
}

const defaultMaxSize = 4000

// paragraphSplit matches blank-line paragraph boundaries.
var paragraphSplit = regexp.MustCompile(`\n[ \t]*\n+`)

// sceneBreak matches explicit scene-break lines recognised by the semantic
// strategy: ***, ---, markdown headings, "Chapter N", "Part N" and bare
// numbered section markers.
var sceneBreak = regexp.MustCompile(`(?mi)^[ \t]*(\*[\* ]{2,}|-{3,}|#{1,6}[ \t]+\S.*|(?:chapter|part)[ \t]+[0-9ivxlc]+\b.*|\d{1,3}\.)[ \t]*$`)

// sentenceEnd identifies preferred cut characters inside a fixed window.
const sentenceTerminators = ".?!"

// Chunk splits text for the given chapter into ordered chunks. Indices are
// contiguous from 0 and no chunk text exceeds cfg.MaxSize.
func Chunk(chapterID, text string, strategy Strategy, cfg Config) ([]model.Chunk, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxSize {
		cfg.Overlap = 0
	}

	cleaned := clean(text)
	if strings.TrimSpace(cleaned) == "" {
		return nil, apperr.EmptyInput("chapter text")
	}

	var pieces []piece
	switch strategy {
	case StrategyFixed:
		pieces = fixedSplit(cleaned, cfg.MaxSize, cfg.Overlap)
	case StrategySemantic:
		pieces = accumulate(semanticSegments(cleaned), cfg.MaxSize)
	default:
		pieces = accumulate(splitParagraphs(cleaned), cfg.MaxSize)
	}

	chunks := make([]model.Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, model.Chunk{
			ID:        uuid.New().String(),
			ChapterID: chapterID,
			Index:     i,
			Text:      p.text,
			Boundary:  p.boundary,
		})
	}
	return chunks, nil
}

type piece struct {
	text     string
	boundary model.BoundaryKind
}

// clean normalizes line endings and collapses trailing whitespace per line.
func clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}

// splitParagraphs returns non-empty paragraphs in order.
func splitParagraphs(text string) []string {
	raw := paragraphSplit.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// semanticSegments splits on explicit scene breaks and triple newlines first,
// then on paragraphs, so accumulation never crosses a scene break.
func semanticSegments(text string) []string {
	// Triple newline is itself a scene break.
	text = regexp.MustCompile(`\n{3,}`).ReplaceAllString(text, "\n\n\x00\n\n")

	var segs []string
	last := 0
	for _, loc := range sceneBreak.FindAllStringIndex(text, -1) {
		segs = append(segs, text[last:loc[0]])
		last = loc[1]
	}
	segs = append(segs, text[last:])

	var paras []string
	for _, seg := range segs {
		for _, part := range strings.Split(seg, "\x00") {
			paras = append(paras, splitParagraphs(part)...)
		}
	}
	return paras
}

// accumulate packs paragraphs into chunks while the next paragraph still
// fits within maxSize. Oversized paragraphs fall back to fixed splitting
// and keep boundary=forced on the sub-chunks.
func accumulate(paras []string, maxSize int) []piece {
	var out []piece
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, piece{text: cur.String(), boundary: model.BoundaryNatural})
			cur.Reset()
		}
	}

	for _, p := range paras {
		if len(p) > maxSize {
			flush()
			for _, sub := range fixedSplit(p, maxSize, 0) {
				sub.boundary = model.BoundaryForced
				out = append(out, sub)
			}
			continue
		}
		joined := len(p)
		if cur.Len() > 0 {
			joined += cur.Len() + 2
		}
		if joined > maxSize {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()
	return out
}

// fixedSplit grows windows up to maxSize, cutting at the latest sentence
// terminator, newline or space within the last 20% of the window. The last
// overlap bytes of chunk k are repeated at the head of chunk k+1.
func fixedSplit(text string, maxSize, overlap int) []piece {
	var out []piece
	pos := 0
	for pos < len(text) {
		if len(text)-pos <= maxSize {
			out = append(out, piece{text: strings.TrimSpace(text[pos:]), boundary: model.BoundaryNatural})
			break
		}

		window := text[pos : pos+maxSize]
		cut, kind := findCut(window)
		out = append(out, piece{text: strings.TrimSpace(window[:cut]), boundary: kind})

		next := pos + cut - overlap
		if next <= pos {
			next = pos + cut
		}
		pos = next
	}

	// Drop pieces that trimmed to nothing.
	filtered := out[:0]
	for _, p := range out {
		if p.text != "" {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// findCut returns the cut offset within window and the boundary kind of the
// resulting chunk. A cut on an actual sentence terminator is natural; a cut
// on a newline, space or the raw window edge is forced.
func findCut(window string) (int, model.BoundaryKind) {
	searchFrom := len(window) * 4 / 5

	if idx := strings.LastIndexAny(window[searchFrom:], sentenceTerminators); idx >= 0 {
		return searchFrom + idx + 1, model.BoundaryNatural
	}
	if idx := strings.LastIndexByte(window[searchFrom:], '\n'); idx >= 0 {
		return searchFrom + idx + 1, model.BoundaryForced
	}
	if idx := strings.LastIndexByte(window[searchFrom:], ' '); idx >= 0 {
		return searchFrom + idx + 1, model.BoundaryForced
	}
	return len(window), model.BoundaryForced
}
