package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agrivoice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "en", cfg.Pipeline.PivotLanguage)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, 5, cfg.Context.Window)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2*time.Hour, cfg.Context.IdleTTL)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.Timeouts.Generation)
	assert.Equal(t, 2, cfg.Generation.Retry.Attempts)
	assert.Equal(t, []string{"en", "ta", "hi", "te", "kn", "ml"}, cfg.TTS.Languages)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFileOverridesAndEnvRefs(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "secret-key")
	path := writeConfig(t, `
generation:
  backend: local
  openai:
    api_key: ${TEST_GROQ_KEY}
context:
  window: 8
cache:
  ttl: 1h
intent:
  rules:
    - name: pest_control
      keywords: [pest, aphid]
      entities: [crop]
      confidence: 0.9
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Generation.Backend)
	assert.Equal(t, "secret-key", cfg.Generation.OpenAI.APIKey)
	assert.Equal(t, 8, cfg.Context.Window)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	require.Len(t, cfg.Intent.Rules, 1)
	assert.Equal(t, []string{"pest", "aphid"}, cfg.Intent.Rules[0].Keywords)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("AGRIVOICE_PIPELINE_TOP_K", "7")
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pipeline.TopK)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "generation:\n  backend: carrier-pigeon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation.backend")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Language:   LanguageConfig{Backend: "none"},
			ASR:        ASRConfig{Backend: "local"},
			TTS:        TTSConfig{Backend: "piper"},
			Audio:      AudioConfig{Backend: "local"},
			Generation: GenerationConfig{Backend: "openai"},
			Retrieval:  RetrievalConfig{Embedder: "hash"},
			Cache:      CacheConfig{Backend: "memory", TTL: time.Hour},
			Context:    ContextConfig{Backend: "memory", Window: 5},
			Pipeline:   PipelineConfig{PivotLanguage: "en", TopK: 5},
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.Context.Window = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Audio.Backend = "s3"
	assert.ErrorContains(t, c.Validate(), "audio.s3.bucket")

	c = base()
	c.History.Enabled = true
	assert.ErrorContains(t, c.Validate(), "history.database_url")
}

func TestResolveEnvRef(t *testing.T) {
	t.Setenv("AGRIVOICE_TEST_REF", "value")
	assert.Equal(t, "value", resolveEnvRef("${AGRIVOICE_TEST_REF}"))
	assert.Equal(t, "${AGRIVOICE_MISSING_REF}", resolveEnvRef("${AGRIVOICE_MISSING_REF}"))
	assert.Equal(t, "plain", resolveEnvRef("plain"))
}
