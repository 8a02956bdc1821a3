// Package ingest turns uploaded files into persisted works and chapters.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/store"
)

const defaultMaxUploadBytes = 20 << 20

// TextExtractor pulls plain prose out of a binary document format.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// TextExtractorFunc adapts a function to the TextExtractor interface.
type TextExtractorFunc func(data []byte) (string, error)

func (f TextExtractorFunc) ExtractText(data []byte) (string, error) { return f(data) }

// Config holds ingest service configuration.
type Config struct {
	MaxUploadBytes int64 // default 20 MiB
	Logger         *slog.Logger
}

// Service validates uploads, detects chapters and persists the resulting
// work. Binary formats beyond .txt are delegated to registered extractors.
type Service struct {
	st         store.Store
	cfg        Config
	extractors map[string]TextExtractor
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates an ingest service.
func NewService(st store.Store, cfg Config) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		st:         st,
		cfg:        cfg,
		extractors: make(map[string]TextExtractor),
		logger:     cfg.Logger.With("component", "ingest"),
		now:        time.Now,
	}
}

// RegisterExtractor registers a text extractor for a file extension
// (".pdf", ".docx", ".epub").
func (s *Service) RegisterExtractor(ext string, ex TextExtractor) {
	s.extractors[strings.ToLower(ext)] = ex
}

// Request is one upload.
type Request struct {
	Filename    string
	Data        []byte
	Title       string // optional, derived from filename when empty
	StylePreset string
	CustomStyle string
}

// Result is the persisted outcome of one ingest.
type Result struct {
	Work     model.Work
	Chapters []model.Chapter
}

// Ingest validates the upload, parses it into chapters and persists the work.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if len(req.Data) == 0 {
		return nil, apperr.EmptyInput("upload")
	}
	if int64(len(req.Data)) > s.cfg.MaxUploadBytes {
		return nil, apperr.OversizedInput("upload", s.cfg.MaxUploadBytes)
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	text, indicators, err := s.extractText(ext, req.Data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.EmptyInput("document text")
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DeriveTitle(req.Filename)
	}

	parsed := ParseText(title, text)
	parsed.Detection.StructuralIndicators = append(parsed.Detection.StructuralIndicators, indicators...)

	work := model.Work{
		ID:            uuid.NewString(),
		Title:         parsed.Title,
		StylePreset:   req.StylePreset,
		CustomStyle:   req.CustomStyle,
		ContentType:   parsed.ContentType,
		Detection:     parsed.Detection,
		TotalChapters: len(parsed.Chapters),
		Status:        model.WorkStatusPending,
		CreatedAt:     s.now(),
		UpdatedAt:     s.now(),
	}
	if err := s.st.Works().Upsert(ctx, work); err != nil {
		return nil, apperr.Persistence(err)
	}

	chapters := make([]model.Chapter, 0, len(parsed.Chapters))
	for _, pc := range parsed.Chapters {
		chapter := model.Chapter{
			ID:        uuid.NewString(),
			WorkID:    work.ID,
			Ordinal:   pc.Ordinal,
			Title:     pc.Title,
			Text:      pc.Content,
			WordCount: pc.WordCount,
			Status:    model.ChapterStatusPending,
		}
		if err := s.st.Chapters().Upsert(ctx, chapter); err != nil {
			return nil, apperr.Persistence(err)
		}
		chapters = append(chapters, chapter)
	}

	s.logger.Info("work ingested",
		"work", work.ID,
		"title", work.Title,
		"chapters", len(chapters),
		"content_type", work.ContentType,
		"confidence", work.Detection.Confidence)
	return &Result{Work: work, Chapters: chapters}, nil
}

// extractText turns the upload into plain text. Extra structural indicators
// learned during extraction (page counts) are returned for the detection
// metadata.
func (s *Service) extractText(ext string, data []byte) (string, []string, error) {
	switch ext {
	case ".txt":
		return string(data), nil, nil
	case ".pdf":
		pages, err := validatePDF(data)
		if err != nil {
			return "", nil, apperr.UnsupportedFormat(".pdf")
		}
		ex, ok := s.extractors[".pdf"]
		if !ok {
			return "", nil, apperr.UnsupportedFormat(".pdf")
		}
		text, err := ex.ExtractText(data)
		if err != nil {
			return "", nil, fmt.Errorf("pdf text extraction failed: %w", err)
		}
		return text, []string{fmt.Sprintf("pdf:%d pages", pages)}, nil
	case ".docx", ".epub":
		ex, ok := s.extractors[ext]
		if !ok {
			return "", nil, apperr.UnsupportedFormat(ext)
		}
		text, err := ex.ExtractText(data)
		if err != nil {
			return "", nil, fmt.Errorf("%s text extraction failed: %w", ext, err)
		}
		return text, nil, nil
	default:
		return "", nil, apperr.UnsupportedFormat(ext)
	}
}
