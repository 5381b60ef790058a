// Package local implements the composer LLM against self-hosted models.
//
// The endpoint may be Ollama's /api/generate or any OpenAI-compatible
// /v1/chat/completions server (Ollama, vLLM, llama.cpp server).
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nadzzz/agrivoice/internal/composer"
	"github.com/nadzzz/agrivoice/internal/config"
)

// LLM talks to a local model server over HTTP.
type LLM struct {
	endpoint string
	model    string
	client   *http.Client
}

// New creates a local LLM.
func New(cfg config.LocalLLMConfig, model string) *LLM {
	if model == "" {
		model = "llama3"
	}
	slog.Info("local llm initialized", "endpoint", cfg.Endpoint, "model", model)
	return &LLM{
		endpoint: cfg.Endpoint,
		model:    model,
		client:   &http.Client{},
	}
}

// Name returns the backend identifier.
func (l *LLM) Name() string { return "local" }

// Complete posts the request in the format the endpoint expects.
func (l *LLM) Complete(ctx context.Context, req composer.Request) (*composer.Response, error) {
	model := req.Model
	if model == "" {
		model = l.model
	}

	var payload map[string]any
	if l.ollamaGenerate() {
		payload = map[string]any{
			"model":  model,
			"system": req.System,
			"prompt": flatten(req.Messages),
			"stream": false,
			"options": map[string]any{
				"temperature": req.Temperature,
				"top_p":       req.TopP,
				"num_predict": req.MaxTokens,
			},
		}
	} else {
		msgs := make([]map[string]string, 0, len(req.Messages)+1)
		if req.System != "" {
			msgs = append(msgs, map[string]string{"role": "system", "content": req.System})
		}
		for _, m := range req.Messages {
			msgs = append(msgs, map[string]string{"role": string(m.Role), "content": m.Content})
		}
		payload = map[string]any{
			"model":       model,
			"messages":    msgs,
			"temperature": req.Temperature,
			"top_p":       req.TopP,
			"max_tokens":  req.MaxTokens,
			"stream":      false,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local LLM request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("local LLM failed (status %d): %s", resp.StatusCode, respBody)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading LLM response: %w", err)
	}

	content := strings.TrimSpace(extractContent(data))
	if content == "" {
		return nil, composer.ErrEmptyAnswer
	}
	slog.Debug("local completion complete", "length", len(content))
	return &composer.Response{Text: content}, nil
}

func (l *LLM) ollamaGenerate() bool {
	return strings.HasSuffix(l.endpoint, "/api/generate")
}

// flatten renders a conversation as a single prompt for completion-style endpoints.
func flatten(msgs []composer.ChatMessage) string {
	if len(msgs) == 1 {
		return msgs[0].Content
	}
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if m.Role == composer.RoleAssistant {
			sb.WriteString("Assistant: ")
		} else {
			sb.WriteString("Farmer: ")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func extractContent(data []byte) string {
	// OpenAI-compatible: {"choices": [{"message": {"content": "..."}}]}
	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &chatResp); err == nil && len(chatResp.Choices) > 0 {
		return chatResp.Choices[0].Message.Content
	}

	// Ollama: {"response": "..."}
	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &ollamaResp); err == nil {
		return ollamaResp.Response
	}
	return ""
}
