// Package extract materializes a validated clip plan into output files.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipwizard/clipwizard/internal/apperr"
	"github.com/clipwizard/clipwizard/internal/clipplan"
	"github.com/clipwizard/clipwizard/internal/media"
)

const (
	DefaultWorkers = 2

	StatusOK    = "ok"
	StatusError = "error"

	partSuffix = ".part"
)

type SourceOpener interface {
	Open(ctx context.Context, path string) (*media.Source, error)
}

type Encoder interface {
	EncodeClip(ctx context.Context, src string, info media.SourceInfo, start, end float64, out string) error
}

// Sink records finished artifacts so they can be downloaded later.
type Sink interface {
	RegisterArtifact(ctx context.Context, a Artifact) error
}

type Artifact struct {
	Name      string    `json:"name"`
	Path      string    `json:"-"`
	Size      int64     `json:"size"`
	RunID     string    `json:"-"`
	StagingID string    `json:"-"`
	CreatedAt time.Time `json:"-"`
}

type EntryError struct {
	Code    apperr.Kind `json:"code"`
	Message string      `json:"message"`
}

// Entry is the outcome for the plan entry at the same position.
type Entry struct {
	Index    int         `json:"index"`
	Name     string      `json:"name"`
	Start    float64     `json:"start"`
	End      float64     `json:"end"`
	Status   string      `json:"status"`
	Artifact *Artifact   `json:"artifact,omitempty"`
	Error    *EntryError `json:"error,omitempty"`
}

type Report struct {
	Entries        []Entry `json:"results"`
	Succeeded      int     `json:"succeeded"`
	SourceDuration float64 `json:"source_duration"`
	TimedOut       bool    `json:"timed_out"`
}

type Options struct {
	RunID     string
	StagingID string
	// Timeout bounds the whole run. Zero means no limit beyond ctx.
	Timeout time.Duration
}

type Config struct {
	OutputDir string
	Workers   int
	Opener    SourceOpener
	Encoder   Encoder
	Sink      Sink
	Logger    *slog.Logger
}

type Extractor struct {
	outputDir string
	workers   int
	opener    SourceOpener
	encoder   Encoder
	sink      Sink
	logger    *slog.Logger
}

func New(cfg Config) *Extractor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		outputDir: cfg.OutputDir,
		workers:   workers,
		opener:    cfg.Opener,
		encoder:   cfg.Encoder,
		sink:      cfg.Sink,
		logger:    logger,
	}
}

// Run cuts every plan entry out of the source at sourcePath. A source that
// cannot be opened or probed fails the whole run with SourceUnreadable.
// Per-entry failures are reported in the matching Entry and never stop the
// other entries. When the timeout expires, unfinished entries are reported
// as TimedOut and Run returns the report with a TimedOut error; artifacts
// already finished stay registered.
func (e *Extractor) Run(ctx context.Context, sourcePath string, plans []clipplan.ClipPlan, opts Options) (*Report, error) {
	src, err := e.opener.Open(ctx, sourcePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.SourceUnreadable, "source media could not be read", err)
	}
	defer src.Close()

	if src.Info.Duration <= 0 {
		return nil, apperr.New(apperr.SourceUnreadable, "source media has no measurable duration")
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	report := &Report{
		Entries:        make([]Entry, len(plans)),
		SourceDuration: src.Info.Duration,
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := e.workers
	if workers > len(plans) {
		workers = len(plans)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report.Entries[i] = e.extractOne(runCtx, src, plans[i], opts)
			}
		}()
	}
	for i := range plans {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, entry := range report.Entries {
		if entry.Status == StatusOK {
			report.Succeeded++
		}
		if entry.Error != nil && entry.Error.Code == apperr.TimedOut {
			report.TimedOut = true
		}
	}

	e.logger.Info("extraction finished",
		"run_id", opts.RunID,
		"clips", len(plans),
		"succeeded", report.Succeeded,
		"timed_out", report.TimedOut,
	)

	if report.TimedOut {
		return report, apperr.New(apperr.TimedOut, "extraction did not finish before the timeout")
	}
	return report, nil
}

func (e *Extractor) extractOne(ctx context.Context, src *media.Source, plan clipplan.ClipPlan, opts Options) Entry {
	entry := Entry{Index: plan.Index, Name: plan.Name, Start: plan.Start, End: plan.End}

	if ctx.Err() != nil {
		return failed(entry, apperr.TimedOut, "not started before the timeout")
	}

	duration := src.Info.Duration
	if plan.Start >= duration {
		return failed(entry, apperr.RangeOutOfBounds,
			fmt.Sprintf("start %gs is past the end of the source (%gs)", plan.Start, duration))
	}
	if entry.End > duration {
		entry.End = duration
	}

	name := uuid.NewString() + "_" + plan.Name
	final := filepath.Join(e.outputDir, name)
	part := final + partSuffix

	if err := e.encoder.EncodeClip(ctx, src.Path, src.Info, entry.Start, entry.End, part); err != nil {
		os.Remove(part)
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return failed(entry, apperr.TimedOut, "encoding did not finish before the timeout")
		}
		e.logger.Warn("clip encode failed", "run_id", opts.RunID, "index", plan.Index, "error", err)
		return failed(entry, apperr.EncodeFailed, "clip could not be encoded")
	}

	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		e.logger.Error("failed to finalize clip", "path", final, "error", err)
		return failed(entry, apperr.EncodeFailed, "clip could not be saved")
	}

	var size int64
	if st, err := os.Stat(final); err == nil {
		size = st.Size()
	}

	artifact := &Artifact{
		Name:      name,
		Path:      final,
		Size:      size,
		RunID:     opts.RunID,
		StagingID: opts.StagingID,
		CreatedAt: time.Now().UTC(),
	}

	if e.sink != nil {
		// Registration must survive a timeout that fires after the encode.
		if err := e.sink.RegisterArtifact(context.WithoutCancel(ctx), *artifact); err != nil {
			os.Remove(final)
			e.logger.Error("failed to register artifact", "name", name, "error", err)
			return failed(entry, apperr.Internal, "clip could not be registered")
		}
	}

	entry.Status = StatusOK
	entry.Artifact = artifact
	return entry
}

func failed(entry Entry, kind apperr.Kind, message string) Entry {
	entry.Status = StatusError
	entry.Error = &EntryError{Code: kind, Message: message}
	return entry
}
