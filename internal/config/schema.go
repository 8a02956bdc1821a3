package config

import (
	"time"

	"github.com/storyglass/storyglass/internal/providers"
)

// Config holds storyglass configuration.
// Loaded from config.yaml with STORYGLASS_ environment overrides.
type Config struct {
	TextProviders  map[string]TextProviderCfg  `mapstructure:"text_providers" yaml:"text_providers" validate:"dive"`
	ImageProviders map[string]ImageProviderCfg `mapstructure:"image_providers" yaml:"image_providers" validate:"dive"`
	Defaults       DefaultsCfg                 `mapstructure:"defaults" yaml:"defaults" validate:"required"`
	Pipeline       PipelineCfg                 `mapstructure:"pipeline" yaml:"pipeline"`
	Server         ServerCfg                   `mapstructure:"server" yaml:"server"`
	Storage        StorageCfg                  `mapstructure:"storage" yaml:"storage"`
}

// TextProviderCfg configures a language-model provider.
type TextProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type" validate:"required,oneof=openrouter openai"`
	Model     string  `mapstructure:"model" yaml:"model" validate:"required"`
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// ImageProviderCfg configures an image-generation provider.
type ImageProviderCfg struct {
	Type    string `mapstructure:"type" yaml:"type" validate:"required"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg selects the active providers and bounds concurrency.
type DefaultsCfg struct {
	TextProvider  string `mapstructure:"text_provider" yaml:"text_provider" validate:"required"`
	ImageProvider string `mapstructure:"image_provider" yaml:"image_provider" validate:"required"`
	StylePreset   string `mapstructure:"style_preset" yaml:"style_preset"`
	MaxWorkers    int    `mapstructure:"max_workers" yaml:"max_workers" validate:"gte=1,lte=64"`
}

// RetryCfg is one retry policy: attempts, initial delay and backoff factor.
type RetryCfg struct {
	Attempts uint          `mapstructure:"attempts" yaml:"attempts" validate:"gte=1,lte=10"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
	Factor   float64       `mapstructure:"factor" yaml:"factor"`
}

// PipelineCfg tunes per-stage deadlines and retry policies.
type PipelineCfg struct {
	TextDeadline    time.Duration `mapstructure:"text_deadline" yaml:"text_deadline"`
	ImageDeadline   time.Duration `mapstructure:"image_deadline" yaml:"image_deadline"`
	PersistDeadline time.Duration `mapstructure:"persist_deadline" yaml:"persist_deadline"`

	TextRetry    RetryCfg `mapstructure:"text_retry" yaml:"text_retry"`
	ImageRetry   RetryCfg `mapstructure:"image_retry" yaml:"image_retry"`
	PersistRetry RetryCfg `mapstructure:"persist_retry" yaml:"persist_retry"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port" validate:"gte=1,lte=65535"`
}

// StorageCfg configures persistence.
type StorageCfg struct {
	// PostgresDSN selects the pgx store; empty falls back to in-memory.
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	// BlobRoot selects the filesystem blob store; empty falls back to memory.
	BlobRoot string `mapstructure:"blob_root" yaml:"blob_root"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TextProviders: map[string]TextProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				Model:     "anthropic/claude-sonnet-4",
				BaseURL:   "https://openrouter.ai/api/v1",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 150,
				Enabled:   true,
			},
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 150,
				Enabled:   false,
			},
		},
		ImageProviders: map[string]ImageProviderCfg{
			"diffusion": {
				Type:    "diffusion-http",
				BaseURL: "http://localhost:7860",
				APIKey:  "${IMAGE_API_KEY}",
				Enabled: true,
			},
		},
		Defaults: DefaultsCfg{
			TextProvider:  "openrouter",
			ImageProvider: "diffusion",
			StylePreset:   "fantasy",
			MaxWorkers:    4,
		},
		Pipeline: PipelineCfg{
			TextDeadline:    60 * time.Second,
			ImageDeadline:   300 * time.Second,
			PersistDeadline: 30 * time.Second,
			TextRetry:       RetryCfg{Attempts: 3, Delay: 500 * time.Millisecond, Factor: 2},
			ImageRetry:      RetryCfg{Attempts: 3, Delay: time.Second, Factor: 2},
			PersistRetry:    RetryCfg{Attempts: 5, Delay: 100 * time.Millisecond, Factor: 1.5},
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: 8475,
		},
		Storage: StorageCfg{},
	}
}

// GetTextProvider returns a text provider config by name.
func (c *Config) GetTextProvider(name string) (TextProviderCfg, bool) {
	cfg, ok := c.TextProviders[name]
	return cfg, ok
}

// GetImageProvider returns an image provider config by name.
func (c *Config) GetImageProvider(name string) (ImageProviderCfg, bool) {
	cfg, ok := c.ImageProviders[name]
	return cfg, ok
}

// ToProviderRegistryConfig converts to the provider registry's view,
// resolving ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	out := providers.RegistryConfig{
		TextProviders:  make(map[string]providers.TextProviderConfig, len(c.TextProviders)),
		ImageProviders: make(map[string]providers.ImageProviderConfig, len(c.ImageProviders)),
	}
	for name, p := range c.TextProviders {
		out.TextProviders[name] = providers.TextProviderConfig{
			Type:      p.Type,
			Model:     p.Model,
			BaseURL:   p.BaseURL,
			APIKey:    ResolveEnvVars(p.APIKey),
			RateLimit: p.RateLimit,
			Enabled:   p.Enabled,
		}
	}
	for name, p := range c.ImageProviders {
		out.ImageProviders[name] = providers.ImageProviderConfig{
			Type:    p.Type,
			BaseURL: p.BaseURL,
			APIKey:  ResolveEnvVars(p.APIKey),
			Enabled: p.Enabled,
		}
	}
	return out
}

// EnabledTextProviders returns all enabled text providers.
func (c *Config) EnabledTextProviders() map[string]TextProviderCfg {
	result := make(map[string]TextProviderCfg)
	for name, cfg := range c.TextProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
