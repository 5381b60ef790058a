package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nadzzz/agrivoice/internal/asr"
	localasr "github.com/nadzzz/agrivoice/internal/asr/local"
	openaiasr "github.com/nadzzz/agrivoice/internal/asr/openai"
	"github.com/nadzzz/agrivoice/internal/audiostore"
	"github.com/nadzzz/agrivoice/internal/cache"
	"github.com/nadzzz/agrivoice/internal/composer"
	bedrockllm "github.com/nadzzz/agrivoice/internal/composer/bedrock"
	geminillm "github.com/nadzzz/agrivoice/internal/composer/gemini"
	localllm "github.com/nadzzz/agrivoice/internal/composer/local"
	openaillm "github.com/nadzzz/agrivoice/internal/composer/openai"
	"github.com/nadzzz/agrivoice/internal/config"
	"github.com/nadzzz/agrivoice/internal/health"
	"github.com/nadzzz/agrivoice/internal/history"
	"github.com/nadzzz/agrivoice/internal/language"
	"github.com/nadzzz/agrivoice/internal/language/google"
	"github.com/nadzzz/agrivoice/internal/pipeline"
	"github.com/nadzzz/agrivoice/internal/retriever"
	ollamaembed "github.com/nadzzz/agrivoice/internal/retriever/ollama"
	openaiembed "github.com/nadzzz/agrivoice/internal/retriever/openai"
	"github.com/nadzzz/agrivoice/internal/retry"
	"github.com/nadzzz/agrivoice/internal/session"
	"github.com/nadzzz/agrivoice/internal/tts"
	"github.com/nadzzz/agrivoice/internal/tts/piper"
	"github.com/nadzzz/agrivoice/internal/voice"
)

// backends holds every provider the pipeline and transports depend on.
type backends struct {
	translator language.Translator // nil when translation is disabled
	bridge     *language.Bridge
	retriever  *retriever.Retriever
	llm        composer.LLM
	composer   *composer.Composer
	synth      tts.Synthesizer // nil when speech output is disabled
	audio      audiostore.Store
	audioDir   string // set for the local audio store
	voice      *voice.Adapter
	redis      *redis.Client
	cache      cache.Cache
	sessions   session.Store
	history    *history.Store
	pool       *pgxpool.Pool
}

func buildBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	timeouts := cfg.Pipeline.Timeouts

	// Translation.
	switch cfg.Language.Backend {
	case "google":
		t, err := google.New(ctx, cfg.Language.Google)
		if err != nil {
			return nil, fmt.Errorf("google translate: %w", err)
		}
		b.translator = t
		slog.Info("using Google translation")
	case "none":
		slog.Info("translation disabled; only the pivot language is served")
	}
	b.bridge = language.NewBridge(b.translator, language.Options{
		Pivot:     cfg.Pipeline.PivotLanguage,
		Supported: cfg.Language.Supported,
		Retry:     policy(cfg.Language.Retry, timeouts.Translation),
	})

	// Retrieval.
	var embedder retriever.Embedder
	switch cfg.Retrieval.Embedder {
	case "hash":
		embedder = retriever.NewHashEmbedder(cfg.Retrieval.HashDimensions)
	case "ollama":
		embedder = ollamaembed.New(cfg.Retrieval.Ollama)
	case "openai":
		e, err := openaiembed.New(cfg.Retrieval.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		embedder = e
	}
	b.retriever = retriever.New(embedder, retriever.NewMemoryIndex(), retriever.Options{
		K:     cfg.Pipeline.TopK,
		Retry: policy(cfg.Retrieval.Retry, timeouts.Retrieval),
	})
	slog.Info("using embedder", "backend", embedder.Name())

	// Generation.
	model := cfg.Generation.Model
	switch cfg.Generation.Backend {
	case "openai":
		l, err := openaillm.New(cfg.Generation.OpenAI, model)
		if err != nil {
			return nil, fmt.Errorf("openai llm: %w", err)
		}
		b.llm = l
	case "local":
		b.llm = localllm.New(cfg.Generation.Local, model)
	case "gemini":
		l, err := geminillm.New(ctx, cfg.Generation.Gemini, model)
		if err != nil {
			return nil, fmt.Errorf("gemini llm: %w", err)
		}
		b.llm = l
	case "bedrock":
		l, err := bedrockllm.NewFromConfig(ctx, cfg.Generation.Bedrock, model)
		if err != nil {
			return nil, fmt.Errorf("bedrock llm: %w", err)
		}
		b.llm = l
	}
	b.composer = composer.New(b.llm, composer.Options{
		Model:        model,
		MaxTokens:    cfg.Generation.MaxTokens,
		Temperature:  cfg.Generation.Temperature,
		TopP:         cfg.Generation.TopP,
		MaxPassages:  cfg.Generation.MaxPassages,
		PassageChars: cfg.Generation.PassageChars,
		Retry:        policy(cfg.Generation.Retry, timeouts.Generation),
	})
	slog.Info("using generation backend", "backend", b.llm.Name(), "model", model)

	// Speech.
	var transcriber asr.Transcriber
	switch cfg.ASR.Backend {
	case "openai":
		t, err := openaiasr.New(cfg.ASR.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("openai asr: %w", err)
		}
		transcriber = t
		slog.Info("using OpenAI transcription", "model", cfg.ASR.OpenAI.Model)
	case "local":
		transcriber = localasr.New(cfg.ASR.Local)
		slog.Info("using local whisper", "endpoint", cfg.ASR.Local.Endpoint)
	}

	if cfg.TTS.Enabled {
		b.synth = piper.New(cfg.TTS.Piper)
		switch cfg.Audio.Backend {
		case "local":
			store, err := audiostore.NewLocal(cfg.Audio.Local.Dir, cfg.Audio.Local.BaseURL)
			if err != nil {
				return nil, err
			}
			b.audio = store
			b.audioDir = store.Dir()
		case "s3":
			store, err := audiostore.NewS3FromConfig(ctx, cfg.Audio.S3)
			if err != nil {
				return nil, err
			}
			b.audio = store
		}
		slog.Info("speech output enabled", "languages", cfg.TTS.Languages, "audio_backend", cfg.Audio.Backend)
	}
	b.voice = voice.New(transcriber, b.synth, b.audio, voice.Options{
		TTSLanguages: cfg.TTS.Languages,
		MaxChars:     cfg.TTS.MaxChars,
		ASRTimeout:   timeouts.ASR,
		TTSTimeout:   timeouts.TTS,
	})

	// Cache and conversation context.
	if cfg.Cache.Backend == "redis" || cfg.Context.Backend == "redis" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if cfg.Cache.Backend == "redis" {
		b.cache = cache.NewRedisCache(b.redis, cfg.Cache.KeyPrefix)
	} else {
		b.cache = cache.NewMemoryCache()
	}
	if cfg.Context.Backend == "redis" {
		b.sessions = session.NewRedisStore(b.redis, cfg.Context.Window, cfg.Context.IdleTTL, cfg.Context.KeyPrefix)
	} else {
		b.sessions = session.NewMemoryStore(cfg.Context.Window, cfg.Context.IdleTTL)
	}
	slog.Info("using stores", "cache", cfg.Cache.Backend, "context", cfg.Context.Backend, "window", cfg.Context.Window)

	// Durable history.
	if cfg.History.Enabled {
		store, pool, err := history.Connect(ctx, cfg.History.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		b.history, b.pool = store, pool
		slog.Info("query history enabled")
	}
	return b, nil
}

// recorder returns the history store as a pipeline.Recorder, or nil.
func (b *backends) recorder() pipeline.Recorder {
	if b.history == nil {
		return nil
	}
	return b.history
}

// startJanitors evicts expired in-memory entries. Redis expires keys itself.
func (b *backends) startJanitors(ctx context.Context, cfg *config.Config) {
	if c, ok := b.cache.(*cache.MemoryCache); ok {
		go c.Run(ctx, cfg.Cache.SweepInterval)
	}
	if s, ok := b.sessions.(*session.MemoryStore); ok {
		go s.Run(ctx, cfg.Context.SweepInterval)
	}
}

// checker is implemented by every provider that can report reachability.
type checker interface {
	Check(ctx context.Context) error
}

func checkOf(v any) health.CheckFunc {
	if c, ok := v.(checker); ok {
		return c.Check
	}
	return nil
}

// providers lists one health check per provider. Disabled providers carry a nil check.
func (b *backends) providers(cfg *config.Config) []health.Provider {
	checks := []health.Provider{
		{Name: "translation", Check: b.bridge.Check},
		{Name: "retrieval", Check: b.retriever.Check},
		{Name: "generation", Check: b.composer.Check},
		{Name: "asr", Check: b.voice.Check},
		{Name: "cache", Check: checkOf(b.cache)},
		{Name: "context", Check: checkOf(b.sessions)},
	}
	if cfg.Language.Backend == "none" {
		checks[0].Check = nil
	}

	speech := health.Provider{Name: "tts"}
	audio := health.Provider{Name: "audio_store"}
	if b.synth != nil {
		speech.Check = b.voice.CheckSynthesis
		audio.Check = b.audio.Check
	}
	hist := health.Provider{Name: "history"}
	if b.history != nil {
		hist.Check = b.history.Check
	}
	return append(checks, speech, audio, hist)
}

func (b *backends) close() {
	if b.synth != nil {
		if err := b.synth.Close(); err != nil {
			slog.Warn("closing synthesizer", "error", err)
		}
	}
	if c, ok := b.llm.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			slog.Warn("closing llm client", "error", err)
		}
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// policy converts a configured backoff into a retry.Policy with a per-attempt timeout.
func policy(rc config.RetryConfig, attemptTimeout time.Duration) retry.Policy {
	return retry.Policy{
		Attempts:       rc.Attempts,
		BaseDelay:      rc.BaseDelay,
		MaxDelay:       rc.MaxDelay,
		AttemptTimeout: attemptTimeout,
	}
}
