package local

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/agrivoice/internal/asr"
	"github.com/nadzzz/agrivoice/internal/config"
)

func TestTranscribeOpenAIFlavour(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "hi", r.FormValue("language"), "default language applies")
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "audio.webm", hdr.Filename)
		_, _ = w.Write([]byte(`{"text":"टमाटर में कीट","language":"hindi"}`))
	}))
	defer srv.Close()

	tr := New(config.LocalASRConfig{Endpoint: srv.URL, Language: "hi"})
	got, err := tr.Transcribe(context.Background(), []byte("a"), "audio/webm", asr.Options{})
	require.NoError(t, err)
	assert.Equal(t, "टमाटर में कीट", got.Text)
	assert.Equal(t, "hi", got.DetectedLanguage)
}

func TestTranscribeASRFlavour(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/asr", r.URL.Path)
		assert.Equal(t, "transcribe", r.URL.Query().Get("task"))
		assert.Equal(t, "true", r.URL.Query().Get("vad_filter"))
		assert.Equal(t, "ta", r.URL.Query().Get("language"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("audio_file")
		require.NoError(t, err)
		_, _ = w.Write([]byte(`{"text":"வணக்கம்","language":"ta","segments":[{"avg_logprob":-0.5}]}`))
	}))
	defer srv.Close()

	tr := New(config.LocalASRConfig{Endpoint: srv.URL + "/asr", Type: "asr", VADFilter: true})
	got, err := tr.Transcribe(context.Background(), []byte("a"), "audio/wav", asr.Options{Language: "ta"})
	require.NoError(t, err)
	assert.Equal(t, "வணக்கம்", got.Text)
	assert.InDelta(t, 0.6065, got.Confidence, 1e-3)
}

func TestTranscribeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(config.LocalASRConfig{Endpoint: srv.URL}).Transcribe(context.Background(), []byte("a"), "", asr.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
