package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/agrivoice/internal/composer"
	"github.com/nadzzz/agrivoice/internal/config"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model       string  `json:"model"`
			MaxTokens   int     `json:"max_tokens"`
			Temperature float32 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama-3.3-70b-versatile", body.Model)
		assert.Equal(t, 300, body.MaxTokens)
		require.Len(t, body.Messages, 4)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)
		assert.Equal(t, "assistant", body.Messages[2].Role)
		assert.Equal(t, "user", body.Messages[3].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  Spray neem oil [1].  "}}]}`))
	}))
	defer srv.Close()

	llm, err := New(config.OpenAILLMConfig{APIKey: "test-key", BaseURL: srv.URL}, "llama-3.3-70b-versatile")
	require.NoError(t, err)

	resp, err := llm.Complete(context.Background(), composer.Request{
		System: "be brief",
		Messages: []composer.ChatMessage{
			{Role: composer.RoleUser, Content: "earlier question"},
			{Role: composer.RoleAssistant, Content: "earlier answer"},
			{Role: composer.RoleUser, Content: "how to control aphids?"},
		},
		MaxTokens:   300,
		Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Spray neem oil [1].", resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	llm, err := New(config.OpenAILLMConfig{APIKey: "k", BaseURL: srv.URL}, "m")
	require.NoError(t, err)
	_, err = llm.Complete(context.Background(), composer.Request{Messages: []composer.ChatMessage{{Role: composer.RoleUser, Content: "q"}}})
	assert.Error(t, err)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(config.OpenAILLMConfig{}, "m")
	assert.Error(t, err)
}
