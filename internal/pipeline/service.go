// Package pipeline runs the upload → transcribe → suggest → extract flow on
// top of the storage, ai, suggestion, clipplan and extract packages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/clipwizard/clipwizard/internal/apperr"
	"github.com/clipwizard/clipwizard/internal/clipplan"
	"github.com/clipwizard/clipwizard/internal/extract"
	"github.com/clipwizard/clipwizard/internal/logging"
	"github.com/clipwizard/clipwizard/internal/storage"
	"github.com/clipwizard/clipwizard/internal/suggestion"
	"github.com/clipwizard/clipwizard/internal/transcript"
)

const DefaultExtractTimeout = 10 * time.Minute

type Deps struct {
	Store       Store
	Audio       AudioExtractor
	Transcriber Transcriber
	Suggester   Suggester
	Extractor   ClipExtractor

	// CacheDir holds intermediate audio files while they are transcribed.
	CacheDir       string
	MaxClips       int
	ExtractTimeout time.Duration
	Logger         *slog.Logger
}

type Service struct {
	d      Deps
	logger *slog.Logger
}

func New(d Deps) *Service {
	if d.MaxClips <= 0 {
		d.MaxClips = suggestion.DefaultMaxClips
	}
	if d.ExtractTimeout <= 0 {
		d.ExtractTimeout = DefaultExtractTimeout
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{d: d, logger: logging.WithComponent(logger, "pipeline")}
}

// Warning describes a non-fatal problem with a suggestion.
type Warning struct {
	Code    apperr.Kind       `json:"code"`
	Reason  suggestion.Reason `json:"reason,omitempty"`
	Message string            `json:"message"`
}

// Suggestion is a model answer after parsing and validation. When the
// answer could not be used, Warning is set, Clips is empty and RawText
// carries the answer verbatim.
type Suggestion struct {
	Kind     suggestion.Kind      `json:"kind"`
	Clips    []clipplan.ClipPlan  `json:"clips"`
	Rejected []clipplan.Rejection `json:"rejected"`
	Warning  *Warning             `json:"warning,omitempty"`
	RawText  string               `json:"raw_text,omitempty"`
}

type ExtractRequest struct {
	StagingID string
	Clips     []clipplan.ClipRequest
	Strict    bool
	// Timeout bounds the extraction. Zero uses the service default.
	Timeout time.Duration
}

type ExtractResult struct {
	RunID     string               `json:"run_id"`
	Status    string               `json:"status"`
	Results   []extract.Entry      `json:"results"`
	Rejected  []clipplan.Rejection `json:"rejected"`
	Succeeded int                  `json:"succeeded"`
}

type ProcessResult struct {
	StagingID  string                `json:"staging_id"`
	Transcript transcript.Transcript `json:"transcript"`
	Suggestion *Suggestion           `json:"suggestion"`
	RunID      string                `json:"run_id,omitempty"`
	Status     string                `json:"status,omitempty"`
	Results    []extract.Entry       `json:"results"`
}

func (s *Service) MaxClips() int { return s.d.MaxClips }

func (s *Service) Stage(ctx context.Context, name string, r io.Reader) (*storage.Upload, error) {
	return s.d.Store.Stage(ctx, name, r)
}

// Transcribe extracts mono speech audio from a staged upload and sends it to
// the transcription service.
func (s *Service) Transcribe(ctx context.Context, stagingID string) (transcript.Transcript, error) {
	u, release, err := s.resolveLeased(ctx, stagingID)
	if err != nil {
		return transcript.Transcript{}, err
	}
	defer release()

	logger := logging.WithStagingID(s.logger, u.ID)

	if err := os.MkdirAll(s.d.CacheDir, 0o755); err != nil {
		return transcript.Transcript{}, fmt.Errorf("failed to create cache dir: %w", err)
	}
	audio := filepath.Join(s.d.CacheDir, uuid.NewString()+".mp3")
	defer os.Remove(audio)

	if err := s.d.Audio.ExtractAudio(ctx, u.Path, audio); err != nil {
		logger.Warn("audio extraction failed", "error", err)
		return transcript.Transcript{}, apperr.Wrap(apperr.SourceUnreadable, "audio could not be extracted from the upload", err)
	}

	start := time.Now()
	t, err := s.d.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return transcript.Transcript{}, normalize(err, apperr.TranscriptionUnavailable, "transcription service unavailable")
	}

	logger.Info("transcription finished",
		"segments", len(t.Segments),
		"language", t.Language,
		"elapsed", time.Since(start).String(),
	)
	return t, nil
}

// Suggest asks the suggestion service for up to maxClips highlights of t and
// turns the answer into a validated plan.
func (s *Service) Suggest(ctx context.Context, t transcript.Transcript, maxClips int) (*Suggestion, error) {
	if t.Empty() {
		return nil, apperr.New(apperr.BadUpload, "transcript is empty")
	}
	if maxClips <= 0 {
		maxClips = s.d.MaxClips
	}

	raw, err := s.d.Suggester.Suggest(ctx, suggestion.BuildPrompt(t, maxClips))
	if err != nil {
		return nil, normalize(err, apperr.SuggestionUnavailable, "suggestion service unavailable")
	}
	return s.fromAnswer(raw), nil
}

func (s *Service) fromAnswer(raw string) *Suggestion {
	parsed := suggestion.Parse(raw)
	if !parsed.OK() {
		s.logger.Warn("suggestion could not be parsed", "reason", string(parsed.Reason), "length", len(raw))
		return unusable(raw, parsed.Reason, "the suggestion held no usable clip list")
	}

	res, err := clipplan.Validate(parsed.Clips, clipplan.Options{})
	if err != nil {
		s.logger.Warn("suggestion failed validation", "error", err)
		return unusable(raw, suggestion.MalformedStructuredData, apperr.MessageOf(err))
	}

	return &Suggestion{Kind: parsed.Kind, Clips: res.Plans, Rejected: res.Rejected}
}

func unusable(raw string, reason suggestion.Reason, message string) *Suggestion {
	return &Suggestion{
		Kind:     suggestion.KindUnparseable,
		Clips:    []clipplan.ClipPlan{},
		Rejected: []clipplan.Rejection{},
		Warning:  &Warning{Code: apperr.UnparseableSuggestion, Reason: reason, Message: message},
		RawText:  raw,
	}
}

func (s *Service) PlanFromRequests(reqs []clipplan.ClipRequest, strict bool) (clipplan.Result, error) {
	return clipplan.Validate(reqs, clipplan.Options{Strict: strict})
}

// Extract validates req.Clips and cuts the valid entries from the staged
// upload. A TimedOut error is returned together with the partial result.
func (s *Service) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	plan, err := s.PlanFromRequests(req.Clips, req.Strict)
	if err != nil {
		return nil, err
	}

	u, release, err := s.resolveLeased(ctx, req.StagingID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.extractPlans(ctx, u, plan.Plans, req.Timeout)
	if res != nil {
		res.Rejected = plan.Rejected
	}
	return res, err
}

// extractPlans expects the caller to hold a lease on u.
func (s *Service) extractPlans(ctx context.Context, u *storage.Upload, plans []clipplan.ClipPlan, timeout time.Duration) (*ExtractResult, error) {
	if timeout <= 0 {
		timeout = s.d.ExtractTimeout
	}

	run, err := s.d.Store.CreateRun(ctx, u.ID, len(plans))
	if err != nil {
		return nil, err
	}
	logger := logging.WithRunID(logging.WithStagingID(s.logger, u.ID), run.ID)
	logger.Info("extraction started", "clips", len(plans), "timeout", timeout.String())

	report, runErr := s.d.Extractor.Run(ctx, u.Path, plans, extract.Options{
		RunID:     run.ID,
		StagingID: u.ID,
		Timeout:   timeout,
	})

	// The run row is closed even when the request has been cancelled.
	finishCtx := context.WithoutCancel(ctx)

	if report == nil {
		if runErr == nil {
			runErr = errors.New("extractor returned no report")
		}
		if err := s.d.Store.FinishRun(finishCtx, run.ID, storage.RunStatusFailed, 0, apperr.MessageOf(runErr)); err != nil {
			logger.Error("failed to finish run", "error", err)
		}
		return nil, runErr
	}

	status := storage.RunStatus(len(plans), report.Succeeded, report.TimedOut)
	errMsg := ""
	if runErr != nil {
		errMsg = apperr.MessageOf(runErr)
	}
	if err := s.d.Store.FinishRun(finishCtx, run.ID, status, report.Succeeded, errMsg); err != nil {
		logger.Error("failed to finish run", "error", err)
	}

	return &ExtractResult{
		RunID:     run.ID,
		Status:    status,
		Results:   report.Entries,
		Rejected:  []clipplan.Rejection{},
		Succeeded: report.Succeeded,
	}, runErr
}

// resolveLeased takes the lease before the lookup so the reaper cannot remove
// the file between the two. The caller must call release.
func (s *Service) resolveLeased(ctx context.Context, stagingID string) (*storage.Upload, func(), error) {
	release := s.d.Store.Acquire(stagingID)
	u, err := s.d.Store.Resolve(ctx, stagingID)
	if err != nil {
		release()
		return nil, nil, err
	}
	return u, release, nil
}

// Process runs the whole flow for a staged upload. An unusable suggestion is
// not an error: the result carries the warning and no clips are cut.
func (s *Service) Process(ctx context.Context, stagingID string, maxClips int) (*ProcessResult, error) {
	release := s.d.Store.Acquire(stagingID)
	defer release()

	t, err := s.Transcribe(ctx, stagingID)
	if err != nil {
		return nil, err
	}

	out := &ProcessResult{StagingID: stagingID, Transcript: t, Results: []extract.Entry{}}

	if t.Empty() {
		out.Suggestion = &Suggestion{
			Kind:     suggestion.KindUnparseable,
			Clips:    []clipplan.ClipPlan{},
			Rejected: []clipplan.Rejection{},
			Warning:  &Warning{Code: apperr.TranscriptionUnavailable, Message: "no speech was found in the upload"},
		}
		return out, nil
	}

	sug, err := s.Suggest(ctx, t, maxClips)
	if err != nil {
		return nil, err
	}
	out.Suggestion = sug
	if len(sug.Clips) == 0 {
		return out, nil
	}

	u, err := s.d.Store.Resolve(ctx, stagingID)
	if err != nil {
		return nil, err
	}
	res, err := s.extractPlans(ctx, u, sug.Clips, 0)
	if res != nil {
		out.RunID = res.RunID
		out.Status = res.Status
		out.Results = res.Results
	}
	if err != nil {
		return out, err
	}
	return out, nil
}

// normalize keeps typed errors and files anything else under kind.
func normalize(err error, kind apperr.Kind, message string) error {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	return apperr.Wrap(kind, message, err)
}
