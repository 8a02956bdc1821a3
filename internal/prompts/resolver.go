package prompts

import (
	"fmt"
	"sort"
	"sync"
)

// Resolver holds the registered embedded prompts, keyed hierarchically.
type Resolver struct {
	mu      sync.RWMutex
	prompts map[string]EmbeddedPrompt
}

// NewResolver creates an empty prompt resolver.
func NewResolver() *Resolver {
	return &Resolver{prompts: make(map[string]EmbeddedPrompt)}
}

// Register adds an embedded prompt, computing variables and hash.
func (r *Resolver) Register(p EmbeddedPrompt) {
	p.Variables = ExtractVariables(p.Text)
	p.Hash = HashText(p.Text)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts[p.Key] = p
}

// Get returns the prompt for key.
func (r *Resolver) Get(key string) (EmbeddedPrompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prompts[key]
	if !ok {
		return EmbeddedPrompt{}, fmt.Errorf("prompt not registered: %s", key)
	}
	return p, nil
}

// List returns all registered prompts sorted by key.
func (r *Resolver) List() []EmbeddedPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EmbeddedPrompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
