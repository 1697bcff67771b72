package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Compile-time check that OpenAISynthesizer implements Synthesizer.
var _ Synthesizer = (*OpenAISynthesizer)(nil)

const rewritePrompt = "Rewrite the user's text so it reads naturally when spoken aloud. " +
	"Keep the language and meaning. Reply with the rewritten text only."

// OpenAISynthesizer synthesizes speech with the OpenAI audio API. When a
// request asks for it, the text is first rewritten with a chat completion.
type OpenAISynthesizer struct {
	client       *openai.Client
	model        openai.SpeechModel
	voice        openai.SpeechVoice
	rewriteModel string
	logger       *slog.Logger
}

// OpenAIOption configures an OpenAISynthesizer.
type OpenAIOption func(*openAIOptions)

type openAIOptions struct {
	baseURL      string
	model        string
	voice        string
	rewriteModel string
	logger       *slog.Logger
}

// WithOpenAIBaseURL points the client at a compatible API.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) {
		o.baseURL = url
	}
}

// WithSpeechModel sets the speech model.
func WithSpeechModel(model string) OpenAIOption {
	return func(o *openAIOptions) {
		o.model = model
	}
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(voice string) OpenAIOption {
	return func(o *openAIOptions) {
		o.voice = voice
	}
}

// WithRewriteModel sets the chat model used to optimize text.
func WithRewriteModel(model string) OpenAIOption {
	return func(o *openAIOptions) {
		o.rewriteModel = model
	}
}

// WithOpenAILogger sets the logger.
func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(o *openAIOptions) {
		o.logger = logger
	}
}

// NewOpenAISynthesizer creates a synthesizer authenticated with apiKey.
func NewOpenAISynthesizer(apiKey string, opts ...OpenAIOption) (*OpenAISynthesizer, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	o := openAIOptions{
		model:        string(openai.TTSModel1),
		voice:        string(openai.VoiceAlloy),
		rewriteModel: openai.GPT4oMini,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}

	return &OpenAISynthesizer{
		client:       openai.NewClientWithConfig(cfg),
		model:        openai.SpeechModel(o.model),
		voice:        openai.SpeechVoice(o.voice),
		rewriteModel: o.rewriteModel,
		logger:       o.logger,
	}, nil
}

// Synthesize returns MP3 audio for req.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	text := req.Text
	if req.OptimizeWithAI {
		rewritten, err := s.rewrite(ctx, text)
		if err != nil {
			return nil, networkError(err)
		}
		text = rewritten
	}

	voice := s.voice
	if req.Voice != "" {
		voice = openai.SpeechVoice(req.Voice)
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return nil, networkError(fmt.Errorf("tts: create speech: %w", err))
	}
	defer func() { _ = resp.Close() }()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, networkError(fmt.Errorf("tts: read speech: %w", err))
	}
	if len(data) == 0 {
		return nil, networkError(ErrEmptyAudio)
	}
	return &Audio{Data: data, MimeType: "audio/mpeg"}, nil
}

func (s *OpenAISynthesizer) rewrite(ctx context.Context, text string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.rewriteModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rewritePrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("tts: rewrite text: %w", err)
	}
	if len(resp.Choices) == 0 {
		return text, nil
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		s.logger.Warn("rewrite returned empty text, using original")
		return text, nil
	}
	return out, nil
}
