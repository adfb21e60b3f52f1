package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clipwizard/clipwizard/internal/ai"
	"github.com/clipwizard/clipwizard/internal/api"
	"github.com/clipwizard/clipwizard/internal/config"
	"github.com/clipwizard/clipwizard/internal/db"
	"github.com/clipwizard/clipwizard/internal/extract"
	"github.com/clipwizard/clipwizard/internal/health"
	"github.com/clipwizard/clipwizard/internal/logging"
	"github.com/clipwizard/clipwizard/internal/media"
	"github.com/clipwizard/clipwizard/internal/pipeline"
	"github.com/clipwizard/clipwizard/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.CacheDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipwizard",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", cfg.DataDir(),
		"suggest_provider", cfg.SuggestProvider(),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	store, err := storage.New(storage.Config{
		UploadDir:      cfg.UploadDir(),
		OutputDir:      cfg.OutputDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Repository:     storage.NewRepository(database.Conn()),
		Logger:         logging.WithComponent(logger, "storage"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	chatModel := ""
	if cfg.SuggestProvider() == config.ProviderOpenAI {
		chatModel = cfg.SuggestModel()
	}

	mediaAdapter := media.New(cfg.FFmpegPath(), cfg.FFprobePath(), logging.WithComponent(logger, "media"))
	openAI := ai.NewOpenAI(ai.OpenAIConfig{
		APIKey:          cfg.OpenAIKey(),
		BaseURL:         cfg.OpenAIBaseURL(),
		TranscribeModel: cfg.TranscribeModel(),
		ChatModel:       chatModel,
		Logger:          logging.WithComponent(logger, "openai"),
	})

	suggester, err := newSuggester(ctx, cfg, openAI, logger)
	if err != nil {
		return err
	}

	doctor := health.NewCached(health.ToolProber{
		FFmpegPath:       cfg.FFmpegPath(),
		FFprobePath:      cfg.FFprobePath(),
		OpenAIConfigured: openAI.Configured(),
		GeminiConfigured: cfg.GeminiKey() != "",
		SuggestProvider:  cfg.SuggestProvider(),
	}, logger)

	probeCtx, probeCancel := context.WithTimeout(ctx, 15*time.Second)
	if caps, err := doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial tool probe failed", "error", err)
	} else if !caps.Ready() {
		logger.Warn("ffmpeg or ffprobe not found, clip extraction will fail",
			"ffmpeg", caps.FFmpeg.Error,
			"ffprobe", caps.FFprobe.Error,
		)
	} else {
		logger.Info("media tools detected", "ffmpeg", caps.FFmpeg.Version)
	}
	probeCancel()

	svc := pipeline.New(pipeline.Deps{
		Store:       store,
		Audio:       mediaAdapter,
		Transcriber: openAI,
		Suggester:   suggester,
		Extractor: extract.New(extract.Config{
			OutputDir: cfg.OutputDir(),
			Workers:   cfg.ExtractWorkers(),
			Opener:    mediaAdapter,
			Encoder:   mediaAdapter,
			Sink:      store,
			Logger:    logging.WithComponent(logger, "extract"),
		}),
		CacheDir:       cfg.CacheDir(),
		MaxClips:       cfg.MaxClips(),
		ExtractTimeout: cfg.ExtractTimeout(),
		Logger:         logging.WithComponent(logger, "pipeline"),
	})

	go store.StartReaper(ctx, cfg.Retention(), cfg.ReapInterval())

	apiServer := api.NewServer(api.ServerConfig{
		Addr:           cfg.ListenAddr(),
		Pipeline:       svc,
		Store:          store,
		Health:         doctor,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- apiServer.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.Error("HTTP server error", "error", serveErr)
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// newSuggester picks the highlight model backend named by the config.
func newSuggester(ctx context.Context, cfg *config.EnvConfig, openAI *ai.OpenAI, logger *slog.Logger) (pipeline.Suggester, error) {
	if cfg.SuggestProvider() != config.ProviderGemini {
		return openAI, nil
	}
	g, err := ai.NewGemini(ctx, ai.GeminiConfig{
		APIKey: cfg.GeminiKey(),
		Model:  cfg.SuggestModel(),
		Logger: logging.WithComponent(logger, "gemini"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini: %w", err)
	}
	return g, nil
}
