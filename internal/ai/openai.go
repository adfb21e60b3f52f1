package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/clipwizard/clipwizard/internal/apperr"
	"github.com/clipwizard/clipwizard/internal/suggestion"
	"github.com/clipwizard/clipwizard/internal/transcript"
)

const (
	DefaultTranscribeModel = openai.Whisper1
	DefaultChatModel       = "gpt-4o-mini"
)

var errNotConfigured = errors.New("OPENAI_API_KEY is not set")

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	ChatModel       string
	Logger          *slog.Logger
}

// OpenAI transcribes with Whisper and suggests highlights with a chat model.
// Requests are made once; paid calls are never retried here.
type OpenAI struct {
	client          *openai.Client
	apiKey          string
	transcribeModel string
	chatModel       string
	logger          *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	o := &OpenAI{
		client:          openai.NewClientWithConfig(clientCfg),
		apiKey:          cfg.APIKey,
		transcribeModel: cfg.TranscribeModel,
		chatModel:       cfg.ChatModel,
		logger:          cfg.Logger,
	}
	if o.transcribeModel == "" {
		o.transcribeModel = DefaultTranscribeModel
	}
	if o.chatModel == "" {
		o.chatModel = DefaultChatModel
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (o *OpenAI) Configured() bool {
	return o.apiKey != ""
}

// Transcribe uploads the audio file at audioPath and returns the transcript
// with timed segments.
func (o *OpenAI) Transcribe(ctx context.Context, audioPath string) (transcript.Transcript, error) {
	if !o.Configured() {
		return transcript.Transcript{}, o.unavailable(apperr.TranscriptionUnavailable, errNotConfigured)
	}

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.transcribeModel,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return transcript.Transcript{}, o.unavailable(apperr.TranscriptionUnavailable, err)
	}

	t := transcript.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}
	for _, s := range resp.Segments {
		t.Segments = append(t.Segments, transcript.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return t, nil
}

// Suggest sends p to the chat model and returns its raw answer.
func (o *OpenAI) Suggest(ctx context.Context, p suggestion.Prompt) (string, error) {
	if !o.Configured() {
		return "", o.unavailable(apperr.SuggestionUnavailable, errNotConfigured)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.chatModel,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
	})
	if err != nil {
		return "", o.unavailable(apperr.SuggestionUnavailable, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", o.unavailable(apperr.SuggestionUnavailable, errors.New("empty completion"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) unavailable(kind apperr.Kind, err error) error {
	msg := redactSecrets(err.Error(), o.apiKey)
	o.logger.Warn("openai request failed", "kind", string(kind), "error", msg)

	public := "transcription service unavailable"
	if kind == apperr.SuggestionUnavailable {
		public = "suggestion service unavailable"
	}
	return apperr.Wrap(kind, public, errors.New(msg))
}
