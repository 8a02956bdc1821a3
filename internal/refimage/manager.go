// Package refimage generates, ingests and selects the visual anchor
// images that keep entities consistent across scenes.
package refimage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/blobstore"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
	"github.com/storyglass/storyglass/internal/store"
	"github.com/storyglass/storyglass/internal/styles"
)

const (
	minUploadBytes = 1 << 10
	minDimension   = 256
	maxDimension   = 4096

	// Selection weights for the top references, in priority order.
	maxSelected = 3
)

var selectionWeights = [maxSelected]float64{1.0, 0.8, 0.6}

// Config tunes the manager.
type Config struct {
	MaxUploadBytes int           // default 10 MiB
	PollInterval   time.Duration // default 5s
	PollTimeout    time.Duration // default 5m
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes: 10 << 20,
		PollInterval:   5 * time.Second,
		PollTimeout:    5 * time.Minute,
	}
}

// Manager implements reference generation, upload ingest and selection.
type Manager struct {
	refs   store.References
	blobs  blobstore.Store
	image  providers.ImageModel
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a reference image manager.
func NewManager(refs store.References, blobs blobstore.Store, imageModel providers.ImageModel, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		refs:   refs,
		blobs:  blobs,
		image:  imageModel,
		cfg:    cfg,
		logger: logger.With("component", "refimage"),
		now:    time.Now,
	}
}

// EnsureReference returns an active reference for the entity under the
// style preset, generating one when none exists.
func (m *Manager) EnsureReference(ctx context.Context, e model.Entity, stylePreset string, atChapter int, ageTag model.AgeTag, priority int) (*model.EntityReference, error) {
	existing, err := m.refs.List(ctx, store.ReferenceFilter{
		EntityID:    e.ID,
		StylePreset: stylePreset,
		ActiveOnly:  true,
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}
	return m.generate(ctx, e, stylePreset, atChapter, ageTag, priority)
}

func (m *Manager) generate(ctx context.Context, e model.Entity, stylePreset string, atChapter int, ageTag model.AgeTag, priority int) (*model.EntityReference, error) {
	prompt := referencePrompt(e, stylePreset, ageTag)
	params := styles.Get(stylePreset).Params()

	jobID, err := m.image.Generate(ctx, providers.GenerationRequest{
		Prompt:   prompt,
		Width:    params.Width,
		Height:   params.Height,
		Steps:    params.Steps,
		CFGScale: params.CFGScale,
		Sampler:  params.Sampler,
	})
	if err != nil {
		return nil, err
	}

	status, err := m.awaitTerminal(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if status.State != providers.GenerationSucceeded {
		return nil, apperr.UpstreamPermanent(fmt.Errorf("reference generation failed: %s", status.ErrorDetail))
	}

	ref := model.EntityReference{
		ID:             uuid.NewString(),
		EntityID:       e.ID,
		ImagePointer:   status.OutputPointer,
		AddedAtChapter: atChapter,
		AgeTag:         ageTag,
		StylePreset:    styles.Get(stylePreset).Name,
		Description:    e.Description,
		Active:         true,
		Priority:       priority,
		Method:         model.MethodAI,
		SourcePrompt:   prompt,
		CreatedAt:      m.now(),
	}
	if err := m.refs.Upsert(ctx, ref); err != nil {
		return nil, err
	}
	m.logger.Info("reference generated", "entity", e.Name, "style", ref.StylePreset, "chapter", atChapter)
	return &ref, nil
}

func (m *Manager) awaitTerminal(ctx context.Context, jobID string) (*providers.GenerationStatus, error) {
	deadline := time.NewTimer(m.cfg.PollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(m.cfg.PollInterval)
	defer tick.Stop()

	for {
		status, err := m.image.Poll(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if status.State != providers.GenerationPending {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, apperr.UpstreamTransient(errors.New("reference generation timed out"))
		case <-tick.C:
		}
	}
}

// IngestUpload validates and stores an uploaded reference image.
func (m *Manager) IngestUpload(ctx context.Context, blob []byte, entityID, stylePreset string, ageTag model.AgeTag, atChapter int) (*model.EntityReference, error) {
	if len(blob) < minUploadBytes {
		return nil, &apperr.Error{
			Code:    apperr.CodeValidation,
			Kind:    apperr.KindOversizedInput,
			Message: fmt.Sprintf("upload is %d bytes, below the %d byte minimum", len(blob), minUploadBytes),
		}
	}
	if len(blob) > m.cfg.MaxUploadBytes {
		return nil, apperr.OversizedInput("upload", int64(m.cfg.MaxUploadBytes))
	}

	contentType, err := sniffImageType(blob)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(blob))
	if err != nil {
		return nil, apperr.UnsupportedFormat("undecodable image")
	}
	if cfg.Width < minDimension || cfg.Height < minDimension ||
		cfg.Width > maxDimension || cfg.Height > maxDimension {
		return nil, &apperr.Error{
			Code:    apperr.CodeValidation,
			Kind:    apperr.KindUnsupportedFormat,
			Message: fmt.Sprintf("image dimensions %dx%d outside [%d,%d] per side", cfg.Width, cfg.Height, minDimension, maxDimension),
		}
	}

	pointer, err := m.blobs.Put(ctx, blob, contentType)
	if err != nil {
		return nil, err
	}

	ref := model.EntityReference{
		ID:             uuid.NewString(),
		EntityID:       entityID,
		ImagePointer:   pointer,
		AddedAtChapter: atChapter,
		AgeTag:         ageTag,
		StylePreset:    styles.Get(stylePreset).Name,
		Active:         true,
		Method:         model.MethodUploaded,
		CreatedAt:      m.now(),
	}
	if err := m.refs.Upsert(ctx, ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// SelectTop returns the up-to-3 active references for the prompt
// composer, weighted 1.0, 0.8, 0.6 in priority order.
func (m *Manager) SelectTop(ctx context.Context, entityID, stylePreset string) ([]model.PromptReference, error) {
	refs, err := m.refs.List(ctx, store.ReferenceFilter{
		EntityID:    entityID,
		StylePreset: styles.Get(stylePreset).Name,
		ActiveOnly:  true,
	})
	if err != nil {
		return nil, err
	}
	if len(refs) > maxSelected {
		refs = refs[:maxSelected]
	}
	out := make([]model.PromptReference, len(refs))
	for i, ref := range refs {
		out[i] = model.PromptReference{
			EntityID:    ref.EntityID,
			Pointer:     ref.ImagePointer,
			Weight:      selectionWeights[i],
			AgeTag:      ref.AgeTag,
			Description: ref.Description,
		}
	}
	return out, nil
}

// SelectForScene gathers the strongest reference for each entity, in the
// order given, and caps the result at 3 weighted 1.0, 0.8, 0.6. Entities
// without an active reference are skipped.
func (m *Manager) SelectForScene(ctx context.Context, entityIDs []string, stylePreset string) ([]model.PromptReference, error) {
	var out []model.PromptReference
	for _, id := range entityIDs {
		if len(out) == maxSelected {
			break
		}
		refs, err := m.SelectTop(ctx, id, stylePreset)
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			continue
		}
		ref := refs[0]
		ref.Weight = selectionWeights[len(out)]
		out = append(out, ref)
	}
	return out, nil
}

// sniffImageType identifies the upload by magic bytes. Only jpeg, png and
// webp are accepted.
func sniffImageType(blob []byte) (string, error) {
	switch {
	case len(blob) >= 3 && blob[0] == 0xFF && blob[1] == 0xD8 && blob[2] == 0xFF:
		return "image/jpeg", nil
	case len(blob) >= 8 && bytes.Equal(blob[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}):
		return "image/png", nil
	case len(blob) >= 12 && bytes.Equal(blob[:4], []byte("RIFF")) && bytes.Equal(blob[8:12], []byte("WEBP")):
		return "image/webp", nil
	default:
		return "", apperr.UnsupportedFormat("image upload")
	}
}
