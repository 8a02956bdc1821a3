package metrics

import (
	"context"
	"time"

	"github.com/storyglass/storyglass/internal/providers"
)

type attributionKey struct{}

// ContextWithWork tags ctx so instrumented model calls attribute their
// metrics to a work and chapter.
func ContextWithWork(ctx context.Context, workID string, ordinal int) context.Context {
	return context.WithValue(ctx, attributionKey{}, RecordOpts{WorkID: workID, ChapterOrdinal: ordinal})
}

func attributionFrom(ctx context.Context) RecordOpts {
	if opts, ok := ctx.Value(attributionKey{}).(RecordOpts); ok {
		return opts
	}
	return RecordOpts{}
}

// InstrumentText wraps a text model so every call is recorded.
// TODO: capture token usage once the chat clients parse the usage block.
func InstrumentText(inner providers.TextModel, rec *Recorder) providers.TextModel {
	return &instrumentedText{inner: inner, rec: rec}
}

type instrumentedText struct {
	inner providers.TextModel
	rec   *Recorder
}

func (m *instrumentedText) Name() string { return m.inner.Name() }

func (m *instrumentedText) ExtractScenes(ctx context.Context, req providers.SceneExtractionRequest) ([]providers.SceneCandidate, error) {
	start := time.Now()
	out, err := m.inner.ExtractScenes(ctx, req)
	m.record(ctx, "scene_extraction", start, err)
	return out, err
}

func (m *instrumentedText) ExtractEntities(ctx context.Context, req providers.EntityExtractionRequest) (*providers.EntityExtraction, error) {
	start := time.Now()
	out, err := m.inner.ExtractEntities(ctx, req)
	m.record(ctx, "entity_extraction", start, err)
	return out, err
}

func (m *instrumentedText) AssessImage(ctx context.Context, req providers.AssessmentRequest) (*providers.AssessmentResult, error) {
	start := time.Now()
	out, err := m.inner.AssessImage(ctx, req)
	m.record(ctx, "quality_assessment", start, err)
	return out, err
}

func (m *instrumentedText) record(ctx context.Context, stage string, start time.Time, err error) {
	opts := attributionFrom(ctx)
	opts.Stage = stage
	m.rec.RecordCall(ctx, opts, providers.CallMeta{
		Provider:      m.inner.Name(),
		ExecutionTime: time.Since(start),
		Attempts:      1,
	}, err)
}

// InstrumentImage wraps an image model so submission failures and terminal
// poll states are recorded. Intermediate pending polls are not.
func InstrumentImage(inner providers.ImageModel, rec *Recorder) providers.ImageModel {
	return &instrumentedImage{inner: inner, rec: rec}
}

type instrumentedImage struct {
	inner providers.ImageModel
	rec   *Recorder
}

func (m *instrumentedImage) Name() string { return m.inner.Name() }

func (m *instrumentedImage) Generate(ctx context.Context, req providers.GenerationRequest) (string, error) {
	start := time.Now()
	jobID, err := m.inner.Generate(ctx, req)
	if err != nil {
		opts := attributionFrom(ctx)
		opts.Stage = "image_generation"
		m.rec.RecordCall(ctx, opts, providers.CallMeta{
			Provider:      m.inner.Name(),
			ExecutionTime: time.Since(start),
			Attempts:      1,
		}, err)
	}
	return jobID, err
}

func (m *instrumentedImage) Poll(ctx context.Context, jobID string) (*providers.GenerationStatus, error) {
	status, err := m.inner.Poll(ctx, jobID)
	if err != nil || status == nil {
		return status, err
	}

	switch status.State {
	case providers.GenerationSucceeded:
		opts := attributionFrom(ctx)
		opts.Stage = "image_generation"
		m.rec.RecordCall(ctx, opts, providers.CallMeta{
			Provider: m.inner.Name(),
			Model:    status.ModelVersion,
			CostUSD:  status.CostUSD,
			Attempts: 1,
		}, nil)
	case providers.GenerationFailed:
		opts := attributionFrom(ctx)
		opts.Stage = "image_generation"
		opts.ItemKey = jobID
		m.rec.Record(ctx, Metric{
			WorkID:         opts.WorkID,
			ChapterOrdinal: opts.ChapterOrdinal,
			Stage:          opts.Stage,
			ItemKey:        opts.ItemKey,
			Provider:       m.inner.Name(),
			Model:          status.ModelVersion,
			CostUSD:        status.CostUSD,
			Success:        false,
			ErrorType:      string(status.FailureClass),
		})
	}
	return status, err
}
