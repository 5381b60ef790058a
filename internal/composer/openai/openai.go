// Package openai implements the composer LLM over the OpenAI chat completions
// API. Any compatible server (Groq, vLLM) works by setting the base URL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/nadzzz/agrivoice/internal/composer"
	"github.com/nadzzz/agrivoice/internal/config"
)

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, request goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (goopenai.ModelsList, error)
}

// LLM calls an OpenAI-compatible chat endpoint.
type LLM struct {
	client chatAPI
	model  string
}

// New creates an OpenAI-compatible LLM. model is the default when requests
// carry none.
func New(cfg config.OpenAILLMConfig, model string) (*LLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai llm: api_key is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	slog.Info("openai llm initialized", "base_url", clientCfg.BaseURL, "model", model)
	return &LLM{client: goopenai.NewClientWithConfig(clientCfg), model: model}, nil
}

// Name returns the backend identifier.
func (l *LLM) Name() string { return "openai" }

// Complete sends the system prompt and conversation as chat messages.
func (l *LLM) Complete(ctx context.Context, req composer.Request) (*composer.Response, error) {
	model := req.Model
	if model == "" {
		model = l.model
	}

	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := goopenai.ChatMessageRoleUser
		if m.Role == composer.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := l.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, composer.ErrEmptyAnswer
	}
	choice := resp.Choices[0]
	return &composer.Response{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
	}, nil
}

// Check lists models to confirm the endpoint and key work.
func (l *LLM) Check(ctx context.Context) error {
	_, err := l.client.ListModels(ctx)
	return err
}
