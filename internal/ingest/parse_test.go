package ingest

import (
	"strings"
	"testing"

	"github.com/storyglass/storyglass/internal/model"
)

func TestParseText_ChapterHeadings(t *testing.T) {
	text := "Chapter 1\n\nLyra crossed the bridge at dawn.\n\nChapter 2\n\nThe tower loomed ahead.\n\nChapter 3\n\nShe climbed the stairs."
	p := ParseText("The Crystal Tower", text)

	if len(p.Chapters) != 3 {
		t.Fatalf("chapters = %d, want 3", len(p.Chapters))
	}
	for i, c := range p.Chapters {
		if c.Ordinal != i+1 {
			t.Fatalf("chapter %d has ordinal %d", i, c.Ordinal)
		}
	}
	if p.Chapters[1].Title != "Chapter 2" {
		t.Fatalf("title = %q", p.Chapters[1].Title)
	}
	if !strings.Contains(p.Chapters[0].Content, "bridge at dawn") {
		t.Fatalf("chapter 1 content wrong: %q", p.Chapters[0].Content)
	}
	if p.ContentType != model.ContentTypeMulti {
		t.Fatalf("content type = %q", p.ContentType)
	}
	if p.Detection.Confidence != 0.9 || len(p.Detection.Patterns) != 1 || p.Detection.Patterns[0] != "chapter-heading" {
		t.Fatalf("bad detection: %+v", p.Detection)
	}
}

func TestParseText_PrefaceFoldsIntoFirstChapter(t *testing.T) {
	text := "A note from the author.\n\nChapter 1\n\nFirst.\n\nChapter 2\n\nSecond."
	p := ParseText("t", text)

	if len(p.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(p.Chapters))
	}
	if !strings.Contains(p.Chapters[0].Content, "note from the author") {
		t.Fatal("preface must fold into the first chapter")
	}
}

func TestParseText_SingleChapterBelowThreshold(t *testing.T) {
	text := "A short story with no headings and well under the split threshold."
	p := ParseText("t", text)

	if len(p.Chapters) != 1 || p.ContentType != model.ContentTypeSingle {
		t.Fatalf("bad parse: %d chapters, type %q", len(p.Chapters), p.ContentType)
	}
	if p.Detection.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", p.Detection.Confidence)
	}
	if p.Chapters[0].End != len(p.FullText) {
		t.Fatalf("span end = %d, want %d", p.Chapters[0].End, len(p.FullText))
	}
}

func TestParseText_LengthSplitAboveThreshold(t *testing.T) {
	// 60 paragraphs of 100 words: 6000 words, no headings.
	para := strings.TrimSpace(strings.Repeat("word ", 100))
	text := strings.TrimSpace(strings.Repeat(para+"\n\n", 60))
	p := ParseText("t", text)

	// Target is min(3000, 6000/3) = 2000 words, so 3 chapters.
	if len(p.Chapters) != 3 {
		t.Fatalf("chapters = %d, want 3", len(p.Chapters))
	}
	for i, c := range p.Chapters {
		if c.WordCount != 2000 {
			t.Fatalf("chapter %d has %d words, want 2000", i+1, c.WordCount)
		}
	}
	if p.Detection.Patterns[0] != "length-split" || p.Detection.Confidence != 0.4 {
		t.Fatalf("bad detection: %+v", p.Detection)
	}
}

func TestParseText_MarkdownHeadings(t *testing.T) {
	text := "# The Bridge\n\nLyra crossed.\n\n# The Tower\n\nShe climbed."
	p := ParseText("t", text)

	if len(p.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(p.Chapters))
	}
	if p.Detection.Patterns[0] != "markdown-heading" {
		t.Fatalf("pattern = %v", p.Detection.Patterns)
	}
}

func TestParseText_NormalizesWindowsNewlines(t *testing.T) {
	p := ParseText("t", "Chapter 1\r\n\r\nFirst.\r\n\r\nChapter 2\r\n\r\nSecond.")
	if len(p.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(p.Chapters))
	}
	if strings.Contains(p.FullText, "\r") {
		t.Fatal("carriage returns must be normalized")
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := map[string]string{
		"the-crystal-tower.txt":   "the-crystal-tower",
		"the-crystal-tower-1.txt": "the-crystal-tower",
		"/tmp/upload/story.pdf":   "story",
	}
	for in, want := range cases {
		if got := DeriveTitle(in); got != want {
			t.Errorf("DeriveTitle(%q) = %q, want %q", in, got, want)
		}
	}
}
