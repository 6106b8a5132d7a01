package media

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperClient implements SpeechToText against an OpenAI-compatible
// transcription endpoint.
type WhisperClient struct {
	client *openai.Client
	model  string
}

func NewWhisperClient(apiKey, baseURL, model string) *WhisperClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (w *WhisperClient) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	return resp.Text, nil
}
