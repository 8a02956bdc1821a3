package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/providers"
)

// Sink is where metric records go. Append-only.
type Sink interface {
	Append(ctx context.Context, m Metric) error
	List(ctx context.Context, workID string) ([]Metric, error)
}

// MemorySink is an in-process Sink.
type MemorySink struct {
	mu      sync.RWMutex
	records []Metric
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, m Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, m)
	return nil
}

func (s *MemorySink) List(_ context.Context, workID string) ([]Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Metric
	for _, m := range s.records {
		if workID == "" || m.WorkID == workID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Recorder writes model-call metrics. Recording failures are logged and
// never propagate; metrics must not fail the pipeline.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a metrics recorder.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sink:   sink,
		logger: logger.With("component", "metrics"),
		now:    time.Now,
	}
}

// RecordOpts carries the attribution for one metric.
type RecordOpts struct {
	WorkID         string
	ChapterOrdinal int
	Stage          string
	ItemKey        string
}

// Record stores one metric.
func (r *Recorder) Record(ctx context.Context, m Metric) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	if err := r.sink.Append(ctx, m); err != nil {
		r.logger.Warn("failed to record metric", "stage", m.Stage, "error", err)
	}
}

// RecordCall records a completed model call from its CallMeta. A non-nil
// callErr marks the metric failed with the error kind as type.
func (r *Recorder) RecordCall(ctx context.Context, opts RecordOpts, meta providers.CallMeta, callErr error) {
	m := Metric{
		WorkID:         opts.WorkID,
		ChapterOrdinal: opts.ChapterOrdinal,
		Stage:          opts.Stage,
		ItemKey:        opts.ItemKey,

		Provider: meta.Provider,
		Model:    meta.Model,

		CostUSD:      meta.CostUSD,
		PromptTokens: meta.PromptTokens,
		OutputTokens: meta.OutputTokens,
		TotalTokens:  meta.PromptTokens + meta.OutputTokens,

		ExecutionSeconds: meta.ExecutionTime.Seconds(),
		Attempts:         meta.Attempts,

		Success: callErr == nil,
	}
	if callErr != nil {
		if kind := apperr.KindOf(callErr); kind != "" {
			m.ErrorType = string(kind)
		} else {
			m.ErrorType = "error"
		}
	}
	r.Record(ctx, m)
}

// StageSummary aggregates one pipeline stage for a work.
type StageSummary struct {
	Calls    int     `json:"calls"`
	Failures int     `json:"failures"`
	CostUSD  float64 `json:"cost_usd"`
	Tokens   int     `json:"tokens"`
}

// WorkSummary is the per-work cost projection exposed on the status
// endpoint.
type WorkSummary struct {
	WorkID       string                  `json:"work_id"`
	TotalCostUSD float64                 `json:"total_cost_usd"`
	TotalTokens  int                     `json:"total_tokens"`
	TotalCalls   int                     `json:"total_calls"`
	Failures     int                     `json:"failures"`
	ByStage      map[string]StageSummary `json:"by_stage,omitempty"`
	Stages       []string                `json:"stages,omitempty"`
}

// Summary aggregates all recorded metrics for one work.
func (r *Recorder) Summary(ctx context.Context, workID string) (*WorkSummary, error) {
	records, err := r.sink.List(ctx, workID)
	if err != nil {
		return nil, err
	}

	summary := &WorkSummary{
		WorkID:  workID,
		ByStage: make(map[string]StageSummary),
	}
	for _, m := range records {
		summary.TotalCalls++
		summary.TotalCostUSD += m.CostUSD
		summary.TotalTokens += m.TotalTokens
		if !m.Success {
			summary.Failures++
		}

		s := summary.ByStage[m.Stage]
		s.Calls++
		s.CostUSD += m.CostUSD
		s.Tokens += m.TotalTokens
		if !m.Success {
			s.Failures++
		}
		summary.ByStage[m.Stage] = s
	}

	for stage := range summary.ByStage {
		summary.Stages = append(summary.Stages, stage)
	}
	sort.Strings(summary.Stages)
	return summary, nil
}
