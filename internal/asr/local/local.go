// Package local implements speech-to-text against a self-hosted Whisper server.
//
// Two flavours are supported:
//   - "openai": OpenAI-compatible /v1/audio/transcriptions (whisper.cpp server, faster-whisper)
//   - "asr":    ahmetoner/whisper-asr-webservice (POST /asr with query params)
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/nadzzz/agrivoice/internal/asr"
	"github.com/nadzzz/agrivoice/internal/config"
	"github.com/nadzzz/agrivoice/internal/language"
	"github.com/nadzzz/agrivoice/internal/message"
)

// Transcriber posts audio to a local Whisper endpoint.
type Transcriber struct {
	endpoint        string
	flavour         string
	vadFilter       bool
	defaultLanguage string
	client          *http.Client
}

// New creates a local transcriber.
func New(cfg config.LocalASRConfig) *Transcriber {
	flavour := cfg.Type
	if flavour == "" {
		flavour = "openai"
	}
	slog.Info("local transcriber initialized", "endpoint", cfg.Endpoint, "type", flavour)
	return &Transcriber{
		endpoint:        cfg.Endpoint,
		flavour:         flavour,
		vadFilter:       cfg.VADFilter,
		defaultLanguage: cfg.Language,
		client:          &http.Client{},
	}
}

// Name returns the backend identifier.
func (t *Transcriber) Name() string { return "local" }

// Transcribe dispatches on the configured server flavour.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string, opts asr.Options) (*message.Transcript, error) {
	if opts.Language == "" {
		opts.Language = t.defaultLanguage
	}
	if t.flavour == "asr" {
		return t.transcribeASR(ctx, audio, contentType, opts)
	}
	return t.transcribeOpenAI(ctx, audio, contentType, opts)
}

// whisperResponse covers both flavours' verbose_json output.
type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (r *whisperResponse) transcript() *message.Transcript {
	confidence := 1.0
	if n := len(r.Segments); n > 0 {
		var sum float64
		for _, s := range r.Segments {
			sum += s.AvgLogprob
		}
		confidence = asr.ConfidenceFromLogprob(sum / float64(n))
	}
	return &message.Transcript{
		Text:             r.Text,
		DetectedLanguage: language.Normalize(r.Language),
		Confidence:       confidence,
	}
}

// transcribeASR handles whisper-asr-webservice.
// API: POST /asr?task=transcribe&language=hi&output=json&vad_filter=true
// Body: multipart/form-data with field "audio_file"
func (t *Transcriber) transcribeASR(ctx context.Context, audio []byte, contentType string, opts asr.Options) (*message.Transcript, error) {
	body, formType, err := multipartAudio("audio_file", audio, contentType, nil)
	if err != nil {
		return nil, err
	}

	q := make(url.Values)
	q.Set("task", "transcribe")
	q.Set("output", "json")
	q.Set("encode", "true")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if opts.Prompt != "" {
		q.Set("initial_prompt", opts.Prompt)
	}
	if t.vadFilter {
		q.Set("vad_filter", "true")
	}

	reqURL := t.endpoint + "?" + q.Encode()
	slog.Debug("whisper-asr request", "url", reqURL)
	return t.post(ctx, reqURL, body, formType)
}

// transcribeOpenAI handles OpenAI-compatible whisper endpoints.
func (t *Transcriber) transcribeOpenAI(ctx context.Context, audio []byte, contentType string, opts asr.Options) (*message.Transcript, error) {
	fields := map[string]string{"response_format": "verbose_json"}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if opts.Prompt != "" {
		fields["prompt"] = opts.Prompt
	}
	body, formType, err := multipartAudio("file", audio, contentType, fields)
	if err != nil {
		return nil, err
	}
	return t.post(ctx, t.endpoint, body, formType)
}

func (t *Transcriber) post(ctx context.Context, reqURL string, body *bytes.Buffer, formType string) (*message.Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", formType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("local transcription failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding transcription: %w", err)
	}
	tr := result.transcript()
	slog.Debug("local transcription complete", "text_length", len(tr.Text), "language", tr.DetectedLanguage)
	return tr, nil
}

func multipartAudio(field string, audio []byte, contentType string, fields map[string]string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(field, "audio"+asr.ExtFromContentType(contentType))
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("writing audio: %w", err)
	}
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
