// Package storage stages uploads, indexes output artifacts and extraction
// runs, and serves artifacts back to clients.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipwizard/clipwizard/internal/apperr"
	"github.com/clipwizard/clipwizard/internal/extract"
	"github.com/clipwizard/clipwizard/internal/safename"
)

type Config struct {
	UploadDir      string
	OutputDir      string
	MaxUploadBytes int64
	Repository     Repository
	Logger         *slog.Logger
}

type Gateway struct {
	uploadDir      string
	outputDir      string
	maxUploadBytes int64
	repo           Repository
	logger         *slog.Logger

	mu     sync.Mutex
	leases map[string]int
}

func New(cfg Config) (*Gateway, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		uploadDir:      cfg.UploadDir,
		outputDir:      cfg.OutputDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		repo:           cfg.Repository,
		logger:         logger,
		leases:         make(map[string]int),
	}, nil
}

func (g *Gateway) OutputDir() string { return g.outputDir }

// Stage stores r under a fresh staging id derived from originalName.
func (g *Gateway) Stage(ctx context.Context, originalName string, r io.Reader) (*Upload, error) {
	if strings.TrimSpace(originalName) == "" {
		return nil, apperr.New(apperr.BadUpload, "no file selected")
	}
	name := safename.Clean(originalName)
	if name == "" {
		return nil, apperr.New(apperr.BadUpload, "file name has no usable characters")
	}

	id := uuid.NewString() + "_" + name
	final := filepath.Join(g.uploadDir, id)
	part := final + ".part"

	f, err := os.OpenFile(part, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	src := r
	if g.maxUploadBytes > 0 {
		src = io.LimitReader(r, g.maxUploadBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		os.Remove(part)
		return nil, apperr.Wrap(apperr.BadUpload, "upload could not be read", copyErr)
	case closeErr != nil:
		os.Remove(part)
		return nil, fmt.Errorf("failed to write upload: %w", closeErr)
	case n == 0:
		os.Remove(part)
		return nil, apperr.New(apperr.BadUpload, "uploaded file is empty")
	case g.maxUploadBytes > 0 && n > g.maxUploadBytes:
		os.Remove(part)
		return nil, apperr.Newf(apperr.BadUpload, "upload exceeds the %d MB limit", g.maxUploadBytes>>20)
	}

	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return nil, fmt.Errorf("failed to finalize upload: %w", err)
	}

	u := &Upload{
		ID:           id,
		OriginalName: name,
		Path:         final,
		Size:         n,
		CreatedAt:    time.Now().UTC(),
	}
	if err := g.repo.CreateUpload(ctx, u); err != nil {
		os.Remove(final)
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	g.logger.Info("upload staged", "staging_id", id, "size", n)
	return u, nil
}

// Resolve looks up a staged upload whose file is still on disk.
func (g *Gateway) Resolve(ctx context.Context, stagingID string) (*Upload, error) {
	if !safename.Valid(stagingID) {
		return nil, apperr.New(apperr.NotFound, "upload not found")
	}
	u, err := g.repo.GetUpload(ctx, stagingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	if u == nil {
		return nil, apperr.New(apperr.NotFound, "upload not found")
	}
	if _, err := os.Stat(u.Path); err != nil {
		return nil, apperr.New(apperr.NotFound, "upload not found")
	}
	return u, nil
}

// Acquire leases a staged upload so the reaper leaves it alone. The returned
// release func is safe to call more than once.
func (g *Gateway) Acquire(stagingID string) (release func()) {
	g.mu.Lock()
	g.leases[stagingID]++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.leases[stagingID] <= 1 {
				delete(g.leases, stagingID)
			} else {
				g.leases[stagingID]--
			}
		})
	}
}

func (g *Gateway) Leased(stagingID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leases[stagingID] > 0
}

// RegisterArtifact indexes a finished output file.
func (g *Gateway) RegisterArtifact(ctx context.Context, a extract.Artifact) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return g.repo.CreateArtifact(ctx, &ArtifactRecord{
		Name:      a.Name,
		RunID:     a.RunID,
		UploadID:  a.StagingID,
		Path:      a.Path,
		Size:      a.Size,
		CreatedAt: created,
	})
}

// OpenArtifact opens a registered output file. Names that are not already
// clean file names are refused without touching the filesystem.
func (g *Gateway) OpenArtifact(ctx context.Context, name string) (*os.File, *ArtifactRecord, error) {
	if !safename.Valid(name) {
		return nil, nil, apperr.New(apperr.NotFound, "artifact not found")
	}
	rec, err := g.repo.GetArtifact(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	if rec == nil {
		return nil, nil, apperr.New(apperr.NotFound, "artifact not found")
	}

	f, err := os.Open(filepath.Join(g.outputDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, apperr.New(apperr.NotFound, "artifact not found")
		}
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, rec, nil
}

// ServeArtifact writes the named artifact as an attachment, honouring a
// single byte range. It returns an error without writing anything when the
// artifact cannot be opened.
func (g *Gateway) ServeArtifact(w http.ResponseWriter, r *http.Request, name string) error {
	file, _, err := g.OpenArtifact(r.Context(), name)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}
	size := stat.Size()

	contentType := contentTypeFor(name)

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	rng, err := parseByteRange(r.Header.Get("Range"), size)
	if err == errRangeUnsatisfied {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if rng == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, file)
		}
		return nil
	}

	if _, err := file.Seek(rng.first, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rng.length(), 10))
	w.Header().Set("Content-Range", rng.contentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		io.CopyN(w, file, rng.length())
	}
	return nil
}

// CreateRun records the start of an extraction run.
func (g *Gateway) CreateRun(ctx context.Context, stagingID string, total int) (*Run, error) {
	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.NewString(),
		UploadID:  stagingID,
		Status:    RunStatusRunning,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (g *Gateway) FinishRun(ctx context.Context, id, status string, succeeded int, errMsg string) error {
	if err := g.repo.FinishRun(ctx, id, status, succeeded, errMsg); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun returns a run and the artifacts it produced.
func (g *Gateway) GetRun(ctx context.Context, id string) (*Run, []*ArtifactRecord, error) {
	run, err := g.repo.GetRun(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, nil, apperr.New(apperr.NotFound, "run not found")
	}
	artifacts, err := g.repo.ListArtifactsByRun(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list run artifacts: %w", err)
	}
	return run, artifacts, nil
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".mp4" {
		return "video/mp4"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
