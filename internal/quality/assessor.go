// Package quality scores generated images on the four assessment axes and
// produces QualityReport records.
package quality

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
)

// Axis weights. Safety additionally caps the overall score when the image
// is unsafe.
const (
	weightAdherence = 0.40
	weightTechnical = 0.30
	weightAesthetic = 0.20
	weightSafety    = 0.10

	unsafeCap = 0.3
)

// Estimates carries the technical, aesthetic and safety signals for one
// image. Adherence is scored separately by the text model's vision
// capability.
type Estimates struct {
	Sharpness   float64
	Exposure    float64
	Composition float64
	Artefacts   float64 // higher is worse

	StyleConsistency float64
	Aesthetic        float64

	Safe         bool
	SafetyDetail string

	Issues      []string
	Suggestions []string
}

// Estimator produces technical and aesthetic estimates for an image.
type Estimator interface {
	Estimate(ctx context.Context, image model.GeneratedImage, prompt model.Prompt) (*Estimates, error)
}

// StaticEstimator returns fixed estimates. It stands in until a proper
// pixel-level analyzer is wired; generation metadata alone cannot grade
// sharpness or exposure.
type StaticEstimator struct {
	Values Estimates
}

// DefaultEstimator returns a StaticEstimator with neutral mid-range scores
// and the image marked safe.
func DefaultEstimator() *StaticEstimator {
	return &StaticEstimator{Values: Estimates{
		Sharpness:        0.75,
		Exposure:         0.75,
		Composition:      0.75,
		Artefacts:        0.15,
		StyleConsistency: 0.75,
		Aesthetic:        0.75,
		Safe:             true,
	}}
}

func (s *StaticEstimator) Estimate(_ context.Context, _ model.GeneratedImage, _ model.Prompt) (*Estimates, error) {
	v := s.Values
	return &v, nil
}

// Assessor combines vision-model adherence scoring with estimator signals
// into a weighted QualityReport.
type Assessor struct {
	text      providers.TextModel
	estimator Estimator
	logger    *slog.Logger
}

// New creates an assessor. A nil estimator falls back to DefaultEstimator.
func New(text providers.TextModel, estimator Estimator, logger *slog.Logger) *Assessor {
	if estimator == nil {
		estimator = DefaultEstimator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{
		text:      text,
		estimator: estimator,
		logger:    logger.With("component", "quality"),
	}
}

// Assess scores one generated image against its prompt and scene context.
func (a *Assessor) Assess(ctx context.Context, image model.GeneratedImage, prompt model.Prompt, sceneContext string) (*model.QualityReport, error) {
	adh, err := a.text.AssessImage(ctx, providers.AssessmentRequest{
		ImagePointer:     image.ImagePointer,
		PromptText:       prompt.Text,
		SceneDescription: sceneContext,
	})
	if err != nil {
		return nil, err
	}

	est, err := a.estimator.Estimate(ctx, image, prompt)
	if err != nil {
		return nil, err
	}

	adherence := model.Clamp01(adh.QualityScore)
	technical := model.Clamp01((est.Sharpness + est.Exposure + est.Composition + (1 - est.Artefacts)) / 4)
	aesthetic := model.Clamp01((est.StyleConsistency + est.Aesthetic) / 2)
	safety := 0.0
	if est.Safe {
		safety = 1.0
	}

	overall := weightAdherence*adherence +
		weightTechnical*technical +
		weightAesthetic*aesthetic +
		weightSafety*safety
	overall = model.Clamp01(overall)
	if !est.Safe && overall > unsafeCap {
		overall = unsafeCap
	}

	report := model.QualityReport{
		ID:      uuid.NewString(),
		ImageID: image.ID,
		Overall: overall,
		Components: map[string]float64{
			"adherence":         adherence,
			"technical":         technical,
			"aesthetic":         aesthetic,
			"safety":            safety,
			"sharpness":         model.Clamp01(est.Sharpness),
			"exposure":          model.Clamp01(est.Exposure),
			"composition":       model.Clamp01(est.Composition),
			"artefacts":         model.Clamp01(est.Artefacts),
			"style_consistency": model.Clamp01(est.StyleConsistency),
		},
		Issues:       dedupe(adh.Issues, est.Issues),
		Suggestions:  dedupe(adh.Suggestions, est.Suggestions),
		Safe:         est.Safe,
		SafetyDetail: est.SafetyDetail,
	}

	a.logger.Debug("image assessed", "image", image.ID, "overall", overall, "safe", est.Safe)
	return &report, nil
}

// dedupe merges issue lists preserving first-seen order.
func dedupe(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
