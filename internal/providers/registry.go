package providers

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry holds references to text and image model clients. It supports
// config-driven instantiation, hot-reload, and provides thread-safe access.
type Registry struct {
	mu          sync.RWMutex
	textModels  map[string]TextModel
	imageModels map[string]ImageModel
	logger      *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		textModels:  make(map[string]TextModel),
		imageModels: make(map[string]ImageModel),
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterText registers a text model client by name.
func (r *Registry) RegisterText(name string, client TextModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textModels[name] = client
	r.logger.Info("registered text model", "name", name)
}

// RegisterImage registers an image model client by name.
func (r *Registry) RegisterImage(name string, client ImageModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imageModels[name] = client
	r.logger.Info("registered image model", "name", name)
}

// GetText returns a text model client by name.
func (r *Registry) GetText(name string) (TextModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.textModels[name]
	if !ok {
		return nil, fmt.Errorf("text model not found: %s", name)
	}
	return client, nil
}

// GetImage returns an image model client by name.
func (r *Registry) GetImage(name string) (ImageModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.imageModels[name]
	if !ok {
		return nil, fmt.Errorf("image model not found: %s", name)
	}
	return client, nil
}

// ListText returns all registered text model names.
func (r *Registry) ListText() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.textModels))
	for name := range r.textModels {
		names = append(names, name)
	}
	return names
}

// ListImage returns all registered image model names.
func (r *Registry) ListImage() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.imageModels))
	for name := range r.imageModels {
		names = append(names, name)
	}
	return names
}

// RegistryConfig defines the providers to instantiate from config, with API
// keys already resolved.
type RegistryConfig struct {
	TextProviders  map[string]TextProviderConfig
	ImageProviders map[string]ImageProviderConfig
}

// TextProviderConfig is one text provider entry with a resolved API key.
type TextProviderConfig struct {
	Type      string // "openrouter", "openai"
	Model     string
	BaseURL   string
	APIKey    string
	RateLimit float64 // requests per minute
	Enabled   bool
}

// ImageProviderConfig is one image provider entry with a resolved API key.
// Image services may run locally without a key.
type ImageProviderConfig struct {
	Type    string // "diffusion-http"
	BaseURL string
	APIKey  string
	Enabled bool
}

// NewRegistryFromConfig creates a registry with providers based on
// configuration. Only enabled providers will be registered; text providers
// additionally require an API key.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyConfig(cfg)
	return r
}

// Reload updates the registry based on new configuration. Providers that are
// no longer configured are unregistered; providers with changed settings are
// re-registered.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantText := make(map[string]bool)
	wantImage := make(map[string]bool)

	for name, provCfg := range cfg.TextProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		wantText[name] = true

		existing, hasExisting := r.textModels[name]
		if !hasExisting || needsTextUpdate(existing, provCfg) {
			client := createTextModel(provCfg, r.logger)
			if client != nil {
				r.textModels[name] = client
				r.logger.Info("registered text model", "name", name, "type", provCfg.Type)
			}
		}
	}

	for name, provCfg := range cfg.ImageProviders {
		if !provCfg.Enabled {
			continue
		}
		wantImage[name] = true

		existing, hasExisting := r.imageModels[name]
		if !hasExisting || needsImageUpdate(existing, provCfg) {
			client := createImageModel(provCfg, r.logger)
			if client != nil {
				r.imageModels[name] = client
				r.logger.Info("registered image model", "name", name, "type", provCfg.Type)
			}
		}
	}

	for name := range r.textModels {
		if !wantText[name] {
			delete(r.textModels, name)
			r.logger.Info("unregistered text model", "name", name)
		}
	}
	for name := range r.imageModels {
		if !wantImage[name] {
			delete(r.imageModels, name)
			r.logger.Info("unregistered image model", "name", name)
		}
	}
}

// applyConfig applies configuration. Must be called with lock held.
func (r *Registry) applyConfig(cfg RegistryConfig) {
	for name, provCfg := range cfg.TextProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		if client := createTextModel(provCfg, r.logger); client != nil {
			r.textModels[name] = client
		}
	}
	for name, provCfg := range cfg.ImageProviders {
		if !provCfg.Enabled {
			continue
		}
		if client := createImageModel(provCfg, r.logger); client != nil {
			r.imageModels[name] = client
		}
	}
}

// createTextModel creates a text model client based on provider type.
func createTextModel(cfg TextProviderConfig, logger *slog.Logger) TextModel {
	switch cfg.Type {
	case "openrouter":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return NewChatTextModel(ChatConfig{
			BaseURL:   baseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			RateLimit: int(cfg.RateLimit),
			Logger:    logger,
		})
	case "openai":
		return NewOpenAITextModel(OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			RateLimit: int(cfg.RateLimit),
			Logger:    logger,
		})
	default:
		return nil
	}
}

// createImageModel creates an image model client based on provider type.
func createImageModel(cfg ImageProviderConfig, logger *slog.Logger) ImageModel {
	switch cfg.Type {
	case "diffusion-http":
		return NewDiffusionImageModel(DiffusionConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Logger:  logger,
		})
	default:
		return nil
	}
}

// needsTextUpdate checks if a text model client needs to be recreated.
func needsTextUpdate(client TextModel, cfg TextProviderConfig) bool {
	switch c := client.(type) {
	case *ChatTextModel:
		return c.apiKey != cfg.APIKey || c.model != cfg.Model ||
			(cfg.BaseURL != "" && c.baseURL != cfg.BaseURL)
	case *OpenAITextModel:
		return c.apiKey != cfg.APIKey || c.model != cfg.Model
	default:
		return true
	}
}

// needsImageUpdate checks if an image model client needs to be recreated.
func needsImageUpdate(client ImageModel, cfg ImageProviderConfig) bool {
	switch c := client.(type) {
	case *DiffusionImageModel:
		return c.apiKey != cfg.APIKey || c.baseURL != cfg.BaseURL
	default:
		return true
	}
}
