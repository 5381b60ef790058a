// Package gemini implements the composer LLM with Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/nadzzz/agrivoice/internal/composer"
	"github.com/nadzzz/agrivoice/internal/config"
)

// LLM calls the Gemini API.
type LLM struct {
	client *genai.Client
	model  string
}

// New creates a Gemini LLM.
func New(ctx context.Context, cfg config.GeminiConfig, model string, opts ...option.ClientOption) (*LLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	opts = append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &LLM{client: client, model: model}, nil
}

// Name returns the backend identifier.
func (l *LLM) Name() string { return "gemini" }

// Complete replays prior turns as chat history and sends the final message.
func (l *LLM) Complete(ctx context.Context, req composer.Request) (*composer.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("gemini: at least one message is required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = l.model
	}

	model := l.client.GenerativeModel(modelID)
	model.SetTemperature(req.Temperature)
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}

	cs := model.StartChat()
	cs.History = history(req.Messages[:len(req.Messages)-1])

	last := req.Messages[len(req.Messages)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return nil, fmt.Errorf("gemini: completion failed: %w", err)
	}
	return answer(resp)
}

// history maps prior turns onto Gemini chat content. Gemini names the
// assistant "model"; blank turns are dropped.
func history(msgs []composer.ChatMessage) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := "user"
		if m.Role == composer.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

// answer joins the text parts of the first candidate.
func answer(resp *genai.GenerateContentResponse) (*composer.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, composer.ErrEmptyAnswer
	}
	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return &composer.Response{
		Text:       strings.TrimSpace(sb.String()),
		StopReason: cand.FinishReason.String(),
	}, nil
}

// Close releases the client.
func (l *LLM) Close() error {
	return l.client.Close()
}
