// Package imagegen drives image-model generation attempts for scenes,
// including retry, versioning and selected-image bookkeeping.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
	"github.com/storyglass/storyglass/internal/store"
)

// Config tunes retry and polling behaviour.
type Config struct {
	MaxAttempts  uint          // total attempts including the first, default 3
	RetryBase    time.Duration // default 1s, doubled per attempt
	PollInterval time.Duration // default 5s
	PollTimeout  time.Duration // default 5m
}

// DefaultConfig returns the generator defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		RetryBase:    time.Second,
		PollInterval: 5 * time.Second,
		PollTimeout:  5 * time.Minute,
	}
}

// Generator submits prompts to the image model and persists the outcome as
// GeneratedImage records.
type Generator struct {
	images store.Images
	scenes store.Scenes
	model  providers.ImageModel
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a generator.
func New(images store.Images, scenes store.Scenes, imageModel providers.ImageModel, cfg Config, logger *slog.Logger) *Generator {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
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
	return &Generator{
		images: images,
		scenes: scenes,
		model:  imageModel,
		cfg:    cfg,
		logger: logger.With("component", "imagegen"),
		now:    time.Now,
	}
}

// Generate runs the attempt chain for one prompt and persists the result.
//
// On success the new image becomes the scene's selected image; any prior
// selected image is deselected and stamped with the replacement time. On a
// terminal generation failure an errored record is persisted and returned
// alongside the tagged error so the caller can decide how to proceed; the
// scene itself stays valid. Only a persistence failure on the image record
// returns a nil record.
func (g *Generator) Generate(ctx context.Context, scene model.Scene, prompt model.Prompt) (*model.GeneratedImage, error) {
	existing, err := g.images.List(ctx, store.ImageFilter{SceneID: scene.ID})
	if err != nil {
		return nil, err
	}
	version := 1
	var prior *model.GeneratedImage
	for i := range existing {
		if existing[i].Version >= version {
			version = existing[i].Version + 1
		}
		if existing[i].Selected {
			prior = &existing[i]
		}
	}

	started := g.now()
	status, genErr := g.attemptChain(ctx, prompt)

	rec := model.GeneratedImage{
		ID:        uuid.NewString(),
		PromptID:  prompt.ID,
		SceneID:   scene.ID,
		Version:   version,
		CreatedAt: g.now(),
	}

	if genErr != nil {
		rec.Status = model.ImageStatusError
		rec.ErrorDetail = genErr.Error()
		if err := g.images.Upsert(ctx, rec); err != nil {
			return nil, err
		}
		g.logger.Warn("generation failed", "scene", scene.ID, "version", version, "error", genErr)
		return &rec, genErr
	}

	rec.Status = model.ImageStatusSuccess
	rec.ImagePointer = status.OutputPointer
	rec.ModelVersion = status.ModelVersion
	rec.Seed = status.Seed
	rec.CostUSD = status.CostUSD
	rec.GenerationTime = g.now().Sub(started).Seconds()
	rec.Selected = true
	if prior != nil {
		rec.ReplacedImageID = prior.ID
	}
	if err := g.images.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	// Replacement bookkeeping is best-effort: a failure here leaves a stale
	// selection pointer but never fails the generation itself.
	g.replacePrior(ctx, scene, prior, rec.ID)

	g.logger.Info("image generated", "scene", scene.ID, "version", version, "pointer", rec.ImagePointer)
	return &rec, nil
}

func (g *Generator) replacePrior(ctx context.Context, scene model.Scene, prior *model.GeneratedImage, newID string) {
	if prior != nil {
		replaced := g.now()
		prior.Selected = false
		prior.ReplacedAt = &replaced
		if err := g.images.Upsert(ctx, *prior); err != nil {
			g.logger.Warn("failed to deselect replaced image", "image", prior.ID, "error", err)
		}
	}
	scene.ActiveImageID = newID
	if err := g.scenes.Upsert(ctx, scene); err != nil {
		g.logger.Warn("failed to update scene image pointer", "scene", scene.ID, "error", err)
	}
}

// attemptChain retries transient failures with exponential backoff. Content
// policy refusals and invalid parameters end the chain immediately.
func (g *Generator) attemptChain(ctx context.Context, prompt model.Prompt) (*providers.GenerationStatus, error) {
	refs := make([]providers.ReferenceInput, len(prompt.References))
	for i, r := range prompt.References {
		refs[i] = providers.ReferenceInput{Pointer: r.Pointer, Weight: r.Weight}
	}
	req := providers.GenerationRequest{
		Prompt:     prompt.Text,
		Negative:   prompt.NegativeText,
		Width:      prompt.Params.Width,
		Height:     prompt.Params.Height,
		Steps:      prompt.Params.Steps,
		CFGScale:   prompt.Params.CFGScale,
		Sampler:    prompt.Params.Sampler,
		References: refs,
	}

	var status *providers.GenerationStatus
	err := retry.Do(
		func() error {
			s, err := g.attempt(ctx, req)
			if err != nil {
				if !apperr.IsRetryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			status = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(g.cfg.MaxAttempts),
		retry.Delay(g.cfg.RetryBase),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (g *Generator) attempt(ctx context.Context, req providers.GenerationRequest) (*providers.GenerationStatus, error) {
	jobID, err := g.model.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	status, err := g.awaitTerminal(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if status.State == providers.GenerationSucceeded {
		return status, nil
	}

	switch status.FailureClass {
	case providers.FailureContentPolicy:
		return nil, apperr.ContentPolicyBlocked(status.ErrorDetail)
	case providers.FailureInvalidParams:
		return nil, apperr.UpstreamPermanent(fmt.Errorf("invalid generation parameters: %s", status.ErrorDetail))
	default:
		return nil, apperr.UpstreamTransient(fmt.Errorf("generation failed: %s", status.ErrorDetail))
	}
}

func (g *Generator) awaitTerminal(ctx context.Context, jobID string) (*providers.GenerationStatus, error) {
	deadline := time.NewTimer(g.cfg.PollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(g.cfg.PollInterval)
	defer tick.Stop()

	for {
		status, err := g.model.Poll(ctx, jobID)
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
			return nil, apperr.UpstreamTransient(errors.New("generation job timed out"))
		case <-tick.C:
		}
	}
}
