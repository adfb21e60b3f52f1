package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/clipwizard/clipwizard/internal/clipplan"
	"github.com/clipwizard/clipwizard/internal/health"
	"github.com/clipwizard/clipwizard/internal/pipeline"
	"github.com/clipwizard/clipwizard/internal/storage"
	"github.com/clipwizard/clipwizard/internal/transcript"
)

// Pipeline is the clip workflow the handlers drive.
type Pipeline interface {
	Stage(ctx context.Context, name string, r io.Reader) (*storage.Upload, error)
	Transcribe(ctx context.Context, stagingID string) (transcript.Transcript, error)
	Suggest(ctx context.Context, t transcript.Transcript, maxClips int) (*pipeline.Suggestion, error)
	PlanFromRequests(reqs []clipplan.ClipRequest, strict bool) (clipplan.Result, error)
	Extract(ctx context.Context, req pipeline.ExtractRequest) (*pipeline.ExtractResult, error)
	Process(ctx context.Context, stagingID string, maxClips int) (*pipeline.ProcessResult, error)
	MaxClips() int
}

// Store serves staged uploads, runs and artifacts.
type Store interface {
	Resolve(ctx context.Context, stagingID string) (*storage.Upload, error)
	ServeArtifact(w http.ResponseWriter, r *http.Request, name string) error
	GetRun(ctx context.Context, id string) (*storage.Run, []*storage.ArtifactRecord, error)
}

type HealthChecker interface {
	Get(ctx context.Context) (*health.Capabilities, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr           string
	Pipeline       Pipeline
	Store          Store
	Health         HealthChecker
	MaxUploadBytes int64
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			// Uploads and extraction runs are long; bodies and responses
			// are bounded by size limits and the extraction timeout.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
