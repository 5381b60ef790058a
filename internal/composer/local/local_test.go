package local

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

var req = composer.Request{
	System: "sys",
	Messages: []composer.ChatMessage{
		{Role: composer.RoleUser, Content: "previous"},
		{Role: composer.RoleAssistant, Content: "answer"},
		{Role: composer.RoleUser, Content: "when to irrigate wheat?"},
	},
	MaxTokens:   300,
	Temperature: 0.3,
	TopP:        0.85,
}

func TestCompleteOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3", body["model"])
		assert.Equal(t, "sys", body["system"])
		assert.Contains(t, body["prompt"], "Farmer: when to irrigate wheat?")
		assert.Contains(t, body["prompt"], "Assistant: answer")
		_, _ = w.Write([]byte(`{"response":"Irrigate at crown root initiation.","done":true}`))
	}))
	defer srv.Close()

	llm := New(config.LocalLLMConfig{Endpoint: srv.URL + "/api/generate"}, "")
	resp, err := llm.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Irrigate at crown root initiation.", resp.Text)
}

func TestCompleteChatFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]string `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 4)
		assert.Equal(t, "system", body.Messages[0]["role"])
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Every 20 days."}}]}`))
	}))
	defer srv.Close()

	llm := New(config.LocalLLMConfig{Endpoint: srv.URL + "/v1/chat/completions"}, "qwen")
	resp, err := llm.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Every 20 days.", resp.Text)
}

func TestCompleteEmptyAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail/api/generate" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"response":"  "}`))
	}))
	defer srv.Close()

	_, err := New(config.LocalLLMConfig{Endpoint: srv.URL + "/api/generate"}, "").Complete(context.Background(), req)
	assert.ErrorIs(t, err, composer.ErrEmptyAnswer)

	_, err = New(config.LocalLLMConfig{Endpoint: srv.URL + "/fail/api/generate"}, "").Complete(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
