package config

import (
	"path/filepath"
	"testing"
	"time"
)

var allEnv = []string{
	EnvAddr, EnvPort, EnvLogLevel, EnvDataDir, EnvMaxUploadMB, EnvExtractWorkers,
	EnvExtractTimeout, EnvRetentionHours, EnvMaxClips, EnvFFmpegPath, EnvFFprobePath,
	EnvSuggestProvider, EnvTranscribeModel, EnvSuggestModel,
	EnvOpenAIKey, EnvOpenAIBaseURL, EnvGeminiKey,
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allEnv {
		t.Setenv(name, "")
	}
}

func TestNew_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr() != "0.0.0.0:5000" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if cfg.DBPath() != filepath.Join(DefaultDataDir, "clipwizard.db") {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.MaxUploadBytes() != 512<<20 {
		t.Errorf("MaxUploadBytes() = %d", cfg.MaxUploadBytes())
	}
	if cfg.ExtractTimeout() != 600*time.Second || cfg.Retention() != 24*time.Hour {
		t.Errorf("timeouts = %v, %v", cfg.ExtractTimeout(), cfg.Retention())
	}
	if cfg.ExtractWorkers() != 2 || cfg.MaxClips() != 5 || cfg.FFmpegPath() != "ffmpeg" || cfg.FFprobePath() != "ffprobe" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.SuggestProvider() != ProviderOpenAI || cfg.SuggestModel() != DefaultOpenAIModel {
		t.Errorf("provider = %q model = %q", cfg.SuggestProvider(), cfg.SuggestModel())
	}
	if cfg.TranscribeModel() != "whisper-1" {
		t.Errorf("TranscribeModel() = %q", cfg.TranscribeModel())
	}
	if cfg.ReapInterval() != time.Hour {
		t.Errorf("ReapInterval() = %v", cfg.ReapInterval())
	}
}

func TestNew_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAddr, "127.0.0.1")
	t.Setenv(EnvPort, "8080")
	t.Setenv(EnvDataDir, "/tmp/cw")
	t.Setenv(EnvExtractWorkers, "4")
	t.Setenv(EnvExtractTimeout, "30")
	t.Setenv(EnvRetentionHours, "1")
	t.Setenv(EnvOpenAIKey, " sk-test ")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr() != "127.0.0.1:8080" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if cfg.OutputDir() != filepath.Join("/tmp/cw", "outputs") {
		t.Errorf("OutputDir() = %q", cfg.OutputDir())
	}
	if cfg.ExtractWorkers() != 4 || cfg.ExtractTimeout() != 30*time.Second {
		t.Errorf("workers = %d timeout = %v", cfg.ExtractWorkers(), cfg.ExtractTimeout())
	}
	if cfg.OpenAIKey() != "sk-test" {
		t.Errorf("OpenAIKey() = %q", cfg.OpenAIKey())
	}
	if cfg.ReapInterval() != time.Minute*2+time.Second*30 {
		t.Errorf("ReapInterval() = %v", cfg.ReapInterval())
	}
}

func TestNew_GeminiProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvGeminiKey, "g-key")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SuggestProvider() != ProviderGemini || cfg.SuggestModel() != DefaultGeminiModel {
		t.Errorf("provider = %q model = %q", cfg.SuggestProvider(), cfg.SuggestModel())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name, env, value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"zero workers", EnvExtractWorkers, "0"},
		{"negative timeout", EnvExtractTimeout, "-5"},
		{"unknown provider", EnvSuggestProvider, "claude"},
		{"unknown log level", EnvLogLevel, "loud"},
		{"bad addr", EnvAddr, "not an ip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)
			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%q should fail", tt.env, tt.value)
			}
		})
	}
}

func TestNew_FFprobePath(t *testing.T) {
	tests := []struct {
		name    string
		ffmpeg  string
		ffprobe string
		want    string
	}{
		{"bare name uses PATH", "ffmpeg", "", "ffprobe"},
		{"sibling of explicit ffmpeg", "/opt/ffmpeg/bin/ffmpeg", "", filepath.Join("/opt/ffmpeg/bin", "ffprobe")},
		{"keeps executable extension", "/tools/ffmpeg.exe", "", filepath.Join("/tools", "ffprobe.exe")},
		{"explicit override wins", "/opt/ffmpeg/bin/ffmpeg", "/usr/local/bin/ffprobe", "/usr/local/bin/ffprobe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvFFmpegPath, tt.ffmpeg)
			t.Setenv(EnvFFprobePath, tt.ffprobe)

			cfg, err := New()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := cfg.FFprobePath(); got != tt.want {
				t.Errorf("FFprobePath() = %q, want %q", got, tt.want)
			}
		})
	}
}
