// Package endpoints defines the HTTP API surface. Every endpoint pairs its
// route with a CLI command that calls it over the shared API client.
package endpoints

import (
	"log/slog"

	"github.com/storyglass/storyglass/internal/api"
	"github.com/storyglass/storyglass/internal/ingest"
	"github.com/storyglass/storyglass/internal/metrics"
	"github.com/storyglass/storyglass/internal/providers"
	"github.com/storyglass/storyglass/internal/scheduler"
	"github.com/storyglass/storyglass/internal/store"
)

// Config carries the services endpoints depend on.
type Config struct {
	Store     store.Store
	Ingest    *ingest.Service
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Recorder
	Providers *providers.Registry
	Logger    *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// All returns every endpoint wired with cfg.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		&HealthEndpoint{},
		&StatusEndpoint{cfg: cfg},
		&CreateWorkEndpoint{cfg: cfg},
		&ListWorksEndpoint{cfg: cfg},
		&WorkStatusEndpoint{cfg: cfg},
		&RetryChapterEndpoint{cfg: cfg},
	}
}
