package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/storyglass/storyglass/internal/blobstore"
	"github.com/storyglass/storyglass/internal/compose"
	"github.com/storyglass/storyglass/internal/config"
	"github.com/storyglass/storyglass/internal/entity"
	"github.com/storyglass/storyglass/internal/imagegen"
	"github.com/storyglass/storyglass/internal/ingest"
	"github.com/storyglass/storyglass/internal/metrics"
	"github.com/storyglass/storyglass/internal/pipeline"
	"github.com/storyglass/storyglass/internal/providers"
	"github.com/storyglass/storyglass/internal/quality"
	"github.com/storyglass/storyglass/internal/refimage"
	"github.com/storyglass/storyglass/internal/resolver"
	"github.com/storyglass/storyglass/internal/scene"
	"github.com/storyglass/storyglass/internal/scheduler"
	"github.com/storyglass/storyglass/internal/server"
	"github.com/storyglass/storyglass/internal/store"
	"github.com/storyglass/storyglass/internal/store/postgres"
)

var (
	serveHost    string
	servePort    int
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storyglass server",
	Long: `Start the storyglass HTTP server and the chapter scheduler.

The server provides:
  /health                                   - Server health check
  /status                                   - Registered providers
  POST /works                               - Upload a document (JSON or multipart)
  GET  /works                               - List ingested works
  GET  /works/{id}/status                   - Chapter-by-chapter progress and costs
  POST /works/{id}/chapters/{n}/retry       - Requeue a failed chapter

Examples:
  storyglass serve                   # Start on the configured port (default 8475)
  storyglass serve --port 3000       # Start on a custom port
  storyglass serve --workers 8       # Widen the scheduler worker pool`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		host := cfg.Server.Host
		if serveHost != "" {
			host = serveHost
		}
		port := cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}
		workers := cfg.Defaults.MaxWorkers
		if serveWorkers > 0 {
			workers = serveWorkers
		}

		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		blobs, err := openBlobstore(cfg)
		if err != nil {
			return err
		}

		registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig(), logger)
		textModel, err := registry.GetText(cfg.Defaults.TextProvider)
		if err != nil {
			return fmt.Errorf("default text provider unavailable (is its API key set?): %w", err)
		}
		imageModel, err := registry.GetImage(cfg.Defaults.ImageProvider)
		if err != nil {
			return fmt.Errorf("default image provider unavailable: %w", err)
		}

		recorder := metrics.NewRecorder(metrics.NewMemorySink(), logger)
		textModel = metrics.InstrumentText(textModel, recorder)
		imageModel = metrics.InstrumentImage(imageModel, recorder)

		res := resolver.New(resolver.Config{})

		// The runner closure is only invoked after Start, when pipe is set.
		var pipe *pipeline.Pipeline
		sched := scheduler.New(st, scheduler.RunnerFunc(func(ctx context.Context, chapterID string) error {
			_, err := pipe.ProcessChapter(ctx, chapterID)
			return err
		}), logger)

		pipe = pipeline.New(pipeline.Deps{
			Store:     st,
			Scenes:    scene.NewExtractor(textModel, scene.DefaultConfig(), logger),
			Resolver:  res,
			Extractor: entity.NewExtractor(textModel, logger),
			Merger:    entity.NewMerger(res.Similarity, logger),
			Tracker:   entity.NewTracker(res.Similarity, logger),
			Refs:      refimage.NewManager(st.References(), blobs, imageModel, refimage.DefaultConfig(), logger),
			Composer:  compose.New(compose.DefaultConfig(), logger),
			Generator: imagegen.New(st.Images(), st.Scenes(), imageModel, imagegen.Config{
				MaxAttempts: cfg.Pipeline.ImageRetry.Attempts,
				RetryBase:   cfg.Pipeline.ImageRetry.Delay,
			}, logger),
			Assessor: quality.New(textModel, nil, logger),
			Notifier: sched,
			Logger:   logger,
		}, pipeline.Config{
			TextDeadline:    cfg.Pipeline.TextDeadline,
			ImageDeadline:   cfg.Pipeline.ImageDeadline,
			PersistDeadline: cfg.Pipeline.PersistDeadline,
		})

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Workers:       workers,
			ConfigManager: cm,
			Logger:        logger,
		}, server.Deps{
			Store:     st,
			Ingest:    ingest.NewService(st, ingest.Config{Logger: logger}),
			Scheduler: sched,
			Metrics:   recorder,
			Providers: registry,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

// openStore selects the pgx store when a DSN is configured, the in-memory
// store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if dsn := config.ResolveEnvVars(cfg.Storage.PostgresDSN); dsn != "" {
		pg, err := postgres.New(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}
	logger.Warn("no postgres_dsn configured, using in-memory store")
	return store.NewMemory(), nil
}

// openBlobstore selects the filesystem blob store when a root is configured.
func openBlobstore(cfg *config.Config) (blobstore.Store, error) {
	if cfg.Storage.BlobRoot != "" {
		return blobstore.NewFilesystem(cfg.Storage.BlobRoot)
	}
	return blobstore.NewMemory(), nil
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Scheduler worker pool size (overrides config)")

	rootCmd.AddCommand(serveCmd)
}
