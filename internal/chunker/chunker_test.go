package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
)

func TestChunk_EmptyInput(t *testing.T) {
	_, err := Chunk("ch1", "   \n\n  ", StrategyParagraph, Config{MaxSize: 100})
	if err == nil {
		t.Fatal("expected error for empty input")
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindEmptyInput {
		t.Errorf("kind = %v, want empty_input", apperr.KindOf(err))
	}
}

func TestChunk_ParagraphAccumulation(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here."
	chunks, err := Chunk("ch1", text, StrategyParagraph, Config{MaxSize: 50})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if len(c.Text) > 50 {
			t.Errorf("chunk %d exceeds max size: %d", i, len(c.Text))
		}
		if c.Boundary != model.BoundaryNatural {
			t.Errorf("chunk %d boundary = %s, want natural", i, c.Boundary)
		}
	}

	// Two short paragraphs fit together within 50 bytes; three do not.
	if len(chunks) < 2 {
		t.Errorf("chunks = %d, want >= 2", len(chunks))
	}
}

func TestChunk_OversizedParagraphForced(t *testing.T) {
	long := strings.Repeat("word ", 40) // 200 bytes, no paragraph breaks
	chunks, err := Chunk("ch1", long, StrategyParagraph, Config{MaxSize: 80})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want >= 2", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Text) > 80 {
			t.Errorf("chunk %d exceeds max size: %d", i, len(c.Text))
		}
		if c.Boundary != model.BoundaryForced {
			t.Errorf("chunk %d boundary = %s, want forced", i, c.Boundary)
		}
	}
}

func TestChunk_SemanticSceneBreaks(t *testing.T) {
	text := "The battle raged on.\n\n***\n\nMorning came quietly.\n\nChapter 2\n\nA new day began."
	chunks, err := Chunk("ch1", text, StrategySemantic, Config{MaxSize: 1000})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	joined := ""
	for _, c := range chunks {
		joined += c.Text + "\n"
	}
	if strings.Contains(joined, "***") {
		t.Error("scene break marker leaked into chunk text")
	}
	if !strings.Contains(joined, "battle") || !strings.Contains(joined, "new day") {
		t.Error("content lost around scene breaks")
	}
}

func TestChunk_FixedPrefersSentenceCut(t *testing.T) {
	// 10k chars of sentences without paragraph breaks, max 2000.
	sentence := "The knight rode across the plain toward the distant mountains. "
	text := strings.Repeat(sentence, 10000/len(sentence)+1)[:10000]

	chunks, err := Chunk("ch1", text, StrategyFixed, Config{MaxSize: 2000})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 5 || len(chunks) > 7 {
		t.Errorf("chunks = %d, want 5-7", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Text) > 2000 {
			t.Errorf("chunk %d exceeds max size: %d", i, len(c.Text))
		}
	}
	// Interior chunks end on a sentence terminator here, so they are natural.
	for i, c := range chunks[:len(chunks)-1] {
		last := c.Text[len(c.Text)-1]
		if last != '.' && last != '?' && last != '!' {
			t.Errorf("chunk %d does not end at sentence terminator: %q", i, c.Text[len(c.Text)-20:])
		}
	}
}

func TestChunk_FixedOverlap(t *testing.T) {
	text := strings.Repeat("abcde ", 100) // 600 bytes
	chunks, err := Chunk("ch1", text, StrategyFixed, Config{MaxSize: 200, Overlap: 20})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want >= 3", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		tail := prev[len(prev)-10:]
		if !strings.Contains(chunks[i].Text[:min(40, len(chunks[i].Text))], strings.TrimSpace(tail)) {
			t.Errorf("chunk %d missing overlap from predecessor", i)
		}
	}
}

func TestChunk_ReconstructionPreservesContent(t *testing.T) {
	text := "Alpha beta gamma.\n\nDelta epsilon zeta.\n\nEta theta iota kappa."
	chunks, err := Chunk("ch1", text, StrategyParagraph, Config{MaxSize: 30})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	var got strings.Builder
	for _, c := range chunks {
		got.WriteString(c.Text)
		got.WriteString(" ")
	}
	stripped := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	if stripped(got.String()) != stripped(text) {
		t.Errorf("reconstruction mismatch:\n got: %q\nwant: %q", stripped(got.String()), stripped(text))
	}
}

func TestChunk_RechunkStableCount(t *testing.T) {
	text := strings.Repeat("one two three four five. ", 200)
	first, err := Chunk("ch1", text, StrategyFixed, Config{MaxSize: 500})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	var joined strings.Builder
	for i, c := range first {
		if i > 0 {
			joined.WriteString(" ")
		}
		joined.WriteString(c.Text)
	}
	second, err := Chunk("ch1", joined.String(), StrategyFixed, Config{MaxSize: 500})
	if err != nil {
		t.Fatalf("re-Chunk() error = %v", err)
	}
	diff := len(first) - len(second)
	if diff < -1 || diff > 1 {
		t.Errorf("re-chunk count %d differs from %d by more than 1", len(second), len(first))
	}
}
