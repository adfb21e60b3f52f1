package pipeline

import (
	"context"
	"io"

	"github.com/clipwizard/clipwizard/internal/clipplan"
	"github.com/clipwizard/clipwizard/internal/extract"
	"github.com/clipwizard/clipwizard/internal/storage"
	"github.com/clipwizard/clipwizard/internal/suggestion"
	"github.com/clipwizard/clipwizard/internal/transcript"
)

// Store is the part of storage.Gateway the pipeline needs.
type Store interface {
	Stage(ctx context.Context, originalName string, r io.Reader) (*storage.Upload, error)
	Resolve(ctx context.Context, stagingID string) (*storage.Upload, error)
	Acquire(stagingID string) (release func())
	CreateRun(ctx context.Context, stagingID string, total int) (*storage.Run, error)
	FinishRun(ctx context.Context, id, status string, succeeded int, errMsg string) error
}

type AudioExtractor interface {
	ExtractAudio(ctx context.Context, src, out string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (transcript.Transcript, error)
}

type Suggester interface {
	Suggest(ctx context.Context, p suggestion.Prompt) (string, error)
}

type ClipExtractor interface {
	Run(ctx context.Context, sourcePath string, plans []clipplan.ClipPlan, opts extract.Options) (*extract.Report, error)
}
