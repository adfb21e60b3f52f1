// Package health reports which external tools and services clipwizard can
// reach. Results are cached because probing forks ffmpeg.
package health

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Tool is the probe result for one executable.
type Tool struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities is what GET /health returns.
type Capabilities struct {
	OpenAIConfigured bool      `json:"openai_configured"`
	GeminiConfigured bool      `json:"gemini_configured"`
	SuggestProvider  string    `json:"suggest_provider"`
	FFmpeg           Tool      `json:"ffmpeg"`
	FFprobe          Tool      `json:"ffprobe"`
	ProbedAt         time.Time `json:"probed_at"`
}

// Ready reports whether clips can be extracted at all.
func (c *Capabilities) Ready() bool {
	return c.FFmpeg.Available && c.FFprobe.Available
}

type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// ToolProber looks up ffmpeg and ffprobe and asks each for its version.
type ToolProber struct {
	FFmpegPath       string
	FFprobePath      string
	OpenAIConfigured bool
	GeminiConfigured bool
	SuggestProvider  string
}

func (p ToolProber) Probe(ctx context.Context) (*Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ffmpeg, ffprobe := p.FFmpegPath, p.FFprobePath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}

	caps := &Capabilities{
		OpenAIConfigured: p.OpenAIConfigured,
		GeminiConfigured: p.GeminiConfigured,
		SuggestProvider:  p.SuggestProvider,
		FFmpeg:           probeTool(ctx, ffmpeg),
		FFprobe:          probeTool(ctx, ffprobe),
		ProbedAt:         time.Now().UTC(),
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return caps, nil
}

func probeTool(ctx context.Context, name string) Tool {
	path, err := exec.LookPath(name)
	if err != nil {
		return Tool{Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return Tool{Path: path, Error: err.Error()}
	}

	version := ""
	sc := bufio.NewScanner(bytes.NewReader(out))
	if sc.Scan() {
		version = sc.Text()
	}
	return Tool{Available: true, Path: path, Version: version}
}

// Cached wraps a Prober and serves its last result for a TTL. When a fresh
// probe fails the previous result is returned instead.
type Cached struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCached(prober Prober, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{prober: prober, ttl: defaultCacheTTL, logger: logger}
}

func (c *Cached) Get(ctx context.Context) (*Capabilities, error) {
	c.mu.RLock()
	if c.cached != nil && time.Since(c.cached.ProbedAt) < c.ttl {
		caps := c.cached
		c.mu.RUnlock()
		return caps, nil
	}
	c.mu.RUnlock()

	return c.Refresh(ctx)
}

func (c *Cached) Peek() *Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

// Refresh probes regardless of cache freshness.
func (c *Cached) Refresh(ctx context.Context) (*Capabilities, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	caps, err := c.prober.Probe(ctx)
	if err == nil && caps == nil {
		err = errors.New("prober returned no capabilities")
	}
	if err != nil {
		c.logger.Warn("health probe failed", "error", err)
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = caps
	return caps, nil
}

func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
