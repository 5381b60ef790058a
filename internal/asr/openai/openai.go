// Package openai implements speech-to-text with the OpenAI transcription API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/nadzzz/agrivoice/internal/asr"
	"github.com/nadzzz/agrivoice/internal/config"
	"github.com/nadzzz/agrivoice/internal/language"
	"github.com/nadzzz/agrivoice/internal/message"
)

type transcriptionAPI interface {
	CreateTranscription(ctx context.Context, request goopenai.AudioRequest) (goopenai.AudioResponse, error)
}

// Transcriber calls /audio/transcriptions with verbose_json output.
type Transcriber struct {
	client transcriptionAPI
	model  string
}

// New creates an OpenAI transcriber.
func New(cfg config.OpenAIASRConfig) (*Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai asr: api_key is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = goopenai.Whisper1
	}
	slog.Info("openai transcriber initialized", "model", model)
	return &Transcriber{client: goopenai.NewClientWithConfig(clientCfg), model: model}, nil
}

// Name returns the backend identifier.
func (t *Transcriber) Name() string { return "openai" }

// Transcribe uploads the audio and normalises the reported language.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string, opts asr.Options) (*message.Transcript, error) {
	resp, err := t.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    t.model,
		FilePath: "audio" + asr.ExtFromContentType(contentType),
		Reader:   bytes.NewReader(audio),
		Prompt:   opts.Prompt,
		Language: opts.Language,
		Format:   goopenai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}

	// The API reports full language names ("hindi"); normalise to ISO-639-1.
	lang := language.Normalize(resp.Language)

	confidence := 1.0
	if n := len(resp.Segments); n > 0 {
		var sum float64
		for _, s := range resp.Segments {
			sum += s.AvgLogprob
		}
		confidence = asr.ConfidenceFromLogprob(sum / float64(n))
	}

	slog.Debug("transcription complete", "text_length", len(resp.Text), "language", lang)
	return &message.Transcript{
		Text:             resp.Text,
		DetectedLanguage: lang,
		Confidence:       confidence,
	}, nil
}
