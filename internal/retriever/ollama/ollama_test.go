package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/agrivoice/internal/config"
)

func TestEmbed(t *testing.T) {
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		prompts = append(prompts, req.Prompt)
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{float32(len(req.Prompt)), 1}})
	}))
	defer srv.Close()

	e := New(config.OllamaEmbedConfig{BaseURL: srv.URL})
	vecs, err := e.Embed(context.Background(), []string{"wheat", "rice crop"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{5, 1}, vecs[0])
	assert.Equal(t, []float32{9, 1}, vecs[1])
	assert.Equal(t, []string{"wheat", "rice crop"}, prompts)
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(config.OllamaEmbedConfig{BaseURL: srv.URL, Model: "m"})
	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
