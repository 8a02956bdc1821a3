package blobstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/storyglass/storyglass/internal/apperr"
)

// Memory is an in-process Store for tests and single-node runs.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	types map[string]string

	// FailPut, when set, makes the next Put return a storage error.
	// Used by tests to exercise failure paths.
	FailPut bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte), types: make(map[string]string)}
}

func (m *Memory) Put(_ context.Context, blob []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return "", apperr.Storage(errInjected)
	}
	pointer := "mem://" + uuid.NewString()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	m.blobs[pointer] = stored
	m.types[pointer] = contentType
	return pointer, nil
}

func (m *Memory) Get(_ context.Context, pointer string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[pointer]
	if !ok {
		return nil, apperr.NotFound("blob", pointer)
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, pointer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, pointer)
	delete(m.types, pointer)
	return nil
}

func (m *Memory) Exists(_ context.Context, pointer string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[pointer]
	return ok, nil
}

// ContentType returns the stored content type, for tests.
func (m *Memory) ContentType(pointer string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[pointer]
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
