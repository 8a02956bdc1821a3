package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/store"
)

func TestIngest_TxtUpload(t *testing.T) {
	st := store.NewMemory()
	svc := NewService(st, Config{})
	ctx := context.Background()

	res, err := svc.Ingest(ctx, Request{
		Filename:    "the-crystal-tower.txt",
		Data:        []byte("Chapter 1\n\nLyra crossed the bridge.\n\nChapter 2\n\nThe tower loomed."),
		StylePreset: "fantasy",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if res.Work.Title != "the-crystal-tower" || res.Work.StylePreset != "fantasy" {
		t.Fatalf("bad work: %+v", res.Work)
	}
	if res.Work.TotalChapters != 2 || len(res.Chapters) != 2 {
		t.Fatalf("chapter count mismatch: %d / %d", res.Work.TotalChapters, len(res.Chapters))
	}
	if res.Work.Status != model.WorkStatusPending {
		t.Fatalf("work status = %q", res.Work.Status)
	}

	// Both work and chapters must be persisted with contiguous ordinals.
	if _, err := st.Works().Get(ctx, res.Work.ID); err != nil {
		t.Fatalf("work not persisted: %v", err)
	}
	chapters, err := st.Chapters().List(ctx, store.ChapterFilter{WorkID: res.Work.ID})
	if err != nil || len(chapters) != 2 {
		t.Fatalf("chapters not persisted: %v (%d)", err, len(chapters))
	}
	seen := map[int]bool{}
	for _, c := range chapters {
		if c.Status != model.ChapterStatusPending || c.WordCount == 0 {
			t.Fatalf("bad chapter: %+v", c)
		}
		seen[c.Ordinal] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("ordinals not contiguous: %v", seen)
	}
}

func TestIngest_ExplicitTitleWins(t *testing.T) {
	svc := NewService(store.NewMemory(), Config{})
	res, err := svc.Ingest(context.Background(), Request{
		Filename: "upload.txt",
		Data:     []byte("some text"),
		Title:    "The Crystal Tower",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Work.Title != "The Crystal Tower" {
		t.Fatalf("title = %q", res.Work.Title)
	}
}

func TestIngest_RejectsEmptyUpload(t *testing.T) {
	svc := NewService(store.NewMemory(), Config{})
	_, err := svc.Ingest(context.Background(), Request{Filename: "a.txt"})
	if apperr.KindOf(err) != apperr.KindEmptyInput {
		t.Fatalf("expected empty_input, got %v", err)
	}
}

func TestIngest_RejectsOversizedUpload(t *testing.T) {
	svc := NewService(store.NewMemory(), Config{MaxUploadBytes: 10})
	_, err := svc.Ingest(context.Background(), Request{
		Filename: "a.txt",
		Data:     []byte("definitely more than ten bytes"),
	})
	if apperr.KindOf(err) != apperr.KindOversizedInput {
		t.Fatalf("expected oversized_input, got %v", err)
	}
}

func TestIngest_RejectsUnknownExtension(t *testing.T) {
	svc := NewService(store.NewMemory(), Config{})
	_, err := svc.Ingest(context.Background(), Request{
		Filename: "a.rtf",
		Data:     []byte("content"),
	})
	if apperr.KindOf(err) != apperr.KindUnsupportedFormat {
		t.Fatalf("expected unsupported_format, got %v", err)
	}
}

func TestIngest_PDFWithoutExtractorRejected(t *testing.T) {
	svc := NewService(store.NewMemory(), Config{})
	_, err := svc.Ingest(context.Background(), Request{
		Filename: "a.pdf",
		Data:     []byte("%PDF-1.4 not actually a valid pdf"),
	})
	if apperr.KindOf(err) != apperr.KindUnsupportedFormat {
		t.Fatalf("expected unsupported_format, got %v", err)
	}
}

func TestIngest_DelegatedExtractor(t *testing.T) {
	svc := NewService(store.NewMemory(), Config{})
	svc.RegisterExtractor(".epub", TextExtractorFunc(func(data []byte) (string, error) {
		return "Chapter 1\n\nFirst.\n\nChapter 2\n\nSecond.", nil
	}))

	res, err := svc.Ingest(context.Background(), Request{
		Filename: "book.epub",
		Data:     []byte("binary epub bytes"),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(res.Chapters))
	}
	if !strings.Contains(res.Chapters[1].Text, "Second") {
		t.Fatalf("delegated text lost: %+v", res.Chapters[1])
	}
}
