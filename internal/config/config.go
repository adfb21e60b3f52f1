// Package config provides configuration management for clipwizard.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clipwizard/clipwizard/internal/logging"
)

const (
	DefaultAddr            = "0.0.0.0"
	DefaultPort            = 5000
	DefaultLogLevel        = "info"
	DefaultDataDir         = "./data"
	DefaultMaxUploadMB     = 512
	DefaultExtractWorkers  = 2
	DefaultExtractTimeout  = 600 // seconds
	DefaultRetentionHours  = 24
	DefaultMaxClips        = 5
	DefaultFFmpegPath      = "ffmpeg"
	DefaultTranscribeModel = "whisper-1"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultGeminiModel     = "gemini-2.5-flash"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	EnvAddr            = "CLIPWIZARD_ADDR"
	EnvPort            = "CLIPWIZARD_PORT"
	EnvLogLevel        = "CLIPWIZARD_LOG_LEVEL"
	EnvDataDir         = "CLIPWIZARD_DATA_DIR"
	EnvMaxUploadMB     = "CLIPWIZARD_MAX_UPLOAD_MB"
	EnvExtractWorkers  = "CLIPWIZARD_EXTRACT_WORKERS"
	EnvExtractTimeout  = "CLIPWIZARD_EXTRACT_TIMEOUT"
	EnvRetentionHours  = "CLIPWIZARD_RETENTION_HOURS"
	EnvMaxClips        = "CLIPWIZARD_MAX_CLIPS"
	EnvFFmpegPath      = "CLIPWIZARD_FFMPEG_PATH"
	EnvFFprobePath     = "CLIPWIZARD_FFPROBE_PATH"
	EnvSuggestProvider = "CLIPWIZARD_SUGGEST_PROVIDER"
	EnvTranscribeModel = "CLIPWIZARD_TRANSCRIBE_MODEL"
	EnvSuggestModel    = "CLIPWIZARD_SUGGEST_MODEL"
	EnvOpenAIKey       = "OPENAI_API_KEY"
	EnvOpenAIBaseURL   = "OPENAI_BASE_URL"
	EnvGeminiKey       = "GEMINI_API_KEY"

	DBFilename = "clipwizard.db"
)

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	addr           string
	port           int
	logLevel       string
	dataDir        string
	maxUploadMB    int
	extractWorkers int
	extractTimeout time.Duration
	retention      time.Duration
	maxClips       int
	ffmpegPath     string
	ffprobePath    string

	suggestProvider string
	transcribeModel string
	suggestModel    string
	openAIKey       string
	openAIBaseURL   string
	geminiKey       string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		addr:            DefaultAddr,
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         DefaultDataDir,
		maxUploadMB:     DefaultMaxUploadMB,
		extractWorkers:  DefaultExtractWorkers,
		extractTimeout:  DefaultExtractTimeout * time.Second,
		retention:       DefaultRetentionHours * time.Hour,
		maxClips:        DefaultMaxClips,
		ffmpegPath:      DefaultFFmpegPath,
		transcribeModel: DefaultTranscribeModel,
		openAIKey:       strings.TrimSpace(os.Getenv(EnvOpenAIKey)),
		openAIBaseURL:   strings.TrimSpace(os.Getenv(EnvOpenAIBaseURL)),
		geminiKey:       strings.TrimSpace(os.Getenv(EnvGeminiKey)),
	}

	if v := os.Getenv(EnvAddr); v != "" {
		if net.ParseIP(v) == nil && v != "localhost" {
			return nil, fmt.Errorf("invalid %s: %q is not an IP address", EnvAddr, v)
		}
		cfg.addr = v
	}

	port, err := intEnv(EnvPort, cfg.port, 1, 65535)
	if err != nil {
		return nil, err
	}
	cfg.port = port

	if v := os.Getenv(EnvLogLevel); v != "" {
		if _, err := logging.ParseLevel(v); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvLogLevel, err)
		}
		cfg.logLevel = v
	}

	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.dataDir = v
	}

	if cfg.maxUploadMB, err = intEnv(EnvMaxUploadMB, cfg.maxUploadMB, 1, 1<<20); err != nil {
		return nil, err
	}
	if cfg.extractWorkers, err = intEnv(EnvExtractWorkers, cfg.extractWorkers, 1, 64); err != nil {
		return nil, err
	}
	if cfg.maxClips, err = intEnv(EnvMaxClips, cfg.maxClips, 1, 50); err != nil {
		return nil, err
	}

	timeout, err := intEnv(EnvExtractTimeout, DefaultExtractTimeout, 1, 24*3600)
	if err != nil {
		return nil, err
	}
	cfg.extractTimeout = time.Duration(timeout) * time.Second

	hours, err := intEnv(EnvRetentionHours, DefaultRetentionHours, 1, 24*365)
	if err != nil {
		return nil, err
	}
	cfg.retention = time.Duration(hours) * time.Hour

	if v := os.Getenv(EnvFFmpegPath); v != "" {
		cfg.ffmpegPath = v
	}
	cfg.ffprobePath = os.Getenv(EnvFFprobePath)
	if cfg.ffprobePath == "" {
		cfg.ffprobePath = siblingFFprobe(cfg.ffmpegPath)
	}

	provider := strings.ToLower(strings.TrimSpace(os.Getenv(EnvSuggestProvider)))
	switch provider {
	case "":
		provider = ProviderOpenAI
		if cfg.openAIKey == "" && cfg.geminiKey != "" {
			provider = ProviderGemini
		}
	case ProviderOpenAI, ProviderGemini:
	default:
		return nil, fmt.Errorf("invalid %s: must be %s or %s", EnvSuggestProvider, ProviderOpenAI, ProviderGemini)
	}
	cfg.suggestProvider = provider

	if v := os.Getenv(EnvTranscribeModel); v != "" {
		cfg.transcribeModel = v
	}
	cfg.suggestModel = os.Getenv(EnvSuggestModel)
	if cfg.suggestModel == "" {
		cfg.suggestModel = DefaultOpenAIModel
		if provider == ProviderGemini {
			cfg.suggestModel = DefaultGeminiModel
		}
	}

	return cfg, nil
}

func intEnv(name string, def, lo, hi int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be between %d and %d", name, lo, hi)
	}
	return n, nil
}

// siblingFFprobe guesses ffprobe's location from an explicit ffmpeg path.
// A bare "ffmpeg" leaves ffprobe to the PATH lookup as well.
func siblingFFprobe(ffmpegPath string) string {
	dir := filepath.Dir(ffmpegPath)
	if dir == "." {
		return "ffprobe"
	}
	return filepath.Join(dir, "ffprobe"+filepath.Ext(ffmpegPath))
}

// ListenAddr returns host:port for the HTTP server.
func (c *EnvConfig) ListenAddr() string {
	return net.JoinHostPort(c.addr, strconv.Itoa(c.port))
}

func (c *EnvConfig) Port() int { return c.port }
func (c *EnvConfig) LogLevel() string { return c.logLevel }
func (c *EnvConfig) DataDir() string { return c.dataDir }

func (c *EnvConfig) DBPath() string { return filepath.Join(c.dataDir, DBFilename) }
func (c *EnvConfig) UploadDir() string { return filepath.Join(c.dataDir, "uploads") }
func (c *EnvConfig) OutputDir() string { return filepath.Join(c.dataDir, "outputs") }

// CacheDir holds intermediate audio extracted for transcription.
func (c *EnvConfig) CacheDir() string { return filepath.Join(c.dataDir, "cache") }

func (c *EnvConfig) MaxUploadBytes() int64 {
	return int64(c.maxUploadMB) << 20
}

func (c *EnvConfig) ExtractWorkers() int { return c.extractWorkers }
func (c *EnvConfig) ExtractTimeout() time.Duration { return c.extractTimeout }
func (c *EnvConfig) Retention() time.Duration { return c.retention }
func (c *EnvConfig) MaxClips() int { return c.maxClips }
func (c *EnvConfig) FFmpegPath() string { return c.ffmpegPath }
func (c *EnvConfig) FFprobePath() string { return c.ffprobePath }
func (c *EnvConfig) SuggestProvider() string { return c.suggestProvider }
func (c *EnvConfig) TranscribeModel() string { return c.transcribeModel }
func (c *EnvConfig) SuggestModel() string { return c.suggestModel }
func (c *EnvConfig) OpenAIKey() string { return c.openAIKey }
func (c *EnvConfig) OpenAIBaseURL() string { return c.openAIBaseURL }
func (c *EnvConfig) GeminiKey() string { return c.geminiKey }

// ReapInterval is how often expired uploads and outputs are swept.
func (c *EnvConfig) ReapInterval() time.Duration {
	iv := c.retention / 24
	if iv < time.Minute {
		iv = time.Minute
	}
	if iv > time.Hour {
		iv = time.Hour
	}
	return iv
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
