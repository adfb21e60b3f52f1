package ai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/clipwizard/clipwizard/internal/apperr"
	"github.com/clipwizard/clipwizard/internal/suggestion"
)

const DefaultGeminiModel = "gemini-2.5-flash"

type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Gemini suggests highlights with a Google Gemini model.
type Gemini struct {
	client *genai.Client
	apiKey string
	model  string
	logger *slog.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, errors.New(redactSecrets(err.Error(), cfg.APIKey))
	}

	g := &Gemini{client: client, apiKey: cfg.APIKey, model: cfg.Model, logger: cfg.Logger}
	if g.model == "" {
		g.model = DefaultGeminiModel
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

func (g *Gemini) Suggest(ctx context.Context, p suggestion.Prompt) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(p.User)}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(p.System)}, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", g.unavailable(err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", g.unavailable(errors.New("empty response"))
	}
	return text, nil
}

func (g *Gemini) unavailable(err error) error {
	msg := redactSecrets(err.Error(), g.apiKey)
	g.logger.Warn("gemini request failed", "error", msg)
	return apperr.Wrap(apperr.SuggestionUnavailable, "suggestion service unavailable", errors.New(msg))
}
