package providers

import (
	"context"
	"fmt"
	"sync"
)

// MockTextModel is a scriptable TextModel for tests. Each capability can be
// overridden per test; unset capabilities return empty results.
type MockTextModel struct {
	mu sync.Mutex

	ExtractScenesFunc   func(ctx context.Context, req SceneExtractionRequest) ([]SceneCandidate, error)
	ExtractEntitiesFunc func(ctx context.Context, req EntityExtractionRequest) (*EntityExtraction, error)
	AssessImageFunc     func(ctx context.Context, req AssessmentRequest) (*AssessmentResult, error)

	SceneCalls  []SceneExtractionRequest
	EntityCalls []EntityExtractionRequest
	AssessCalls []AssessmentRequest
}

func (m *MockTextModel) Name() string { return "mock" }

func (m *MockTextModel) ExtractScenes(ctx context.Context, req SceneExtractionRequest) ([]SceneCandidate, error) {
	m.mu.Lock()
	m.SceneCalls = append(m.SceneCalls, req)
	m.mu.Unlock()
	if m.ExtractScenesFunc != nil {
		return m.ExtractScenesFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockTextModel) ExtractEntities(ctx context.Context, req EntityExtractionRequest) (*EntityExtraction, error) {
	m.mu.Lock()
	m.EntityCalls = append(m.EntityCalls, req)
	m.mu.Unlock()
	if m.ExtractEntitiesFunc != nil {
		return m.ExtractEntitiesFunc(ctx, req)
	}
	return &EntityExtraction{}, nil
}

func (m *MockTextModel) AssessImage(ctx context.Context, req AssessmentRequest) (*AssessmentResult, error) {
	m.mu.Lock()
	m.AssessCalls = append(m.AssessCalls, req)
	m.mu.Unlock()
	if m.AssessImageFunc != nil {
		return m.AssessImageFunc(ctx, req)
	}
	return &AssessmentResult{QualityScore: 0.8}, nil
}

// MockImageModel is a scriptable ImageModel for tests. By default every
// submitted job succeeds on the first poll.
type MockImageModel struct {
	mu sync.Mutex

	GenerateFunc func(ctx context.Context, req GenerationRequest) (string, error)
	PollFunc     func(ctx context.Context, jobID string) (*GenerationStatus, error)

	GenerateCalls []GenerationRequest
	PollCalls     []string

	nextJob int
}

func (m *MockImageModel) Name() string { return "mock" }

func (m *MockImageModel) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	m.mu.Lock()
	m.GenerateCalls = append(m.GenerateCalls, req)
	m.nextJob++
	job := fmt.Sprintf("job-%d", m.nextJob)
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return job, nil
}

func (m *MockImageModel) Poll(ctx context.Context, jobID string) (*GenerationStatus, error) {
	m.mu.Lock()
	m.PollCalls = append(m.PollCalls, jobID)
	m.mu.Unlock()
	if m.PollFunc != nil {
		return m.PollFunc(ctx, jobID)
	}
	return &GenerationStatus{
		State:         GenerationSucceeded,
		OutputPointer: "blob://" + jobID,
		Seed:          42,
	}, nil
}
