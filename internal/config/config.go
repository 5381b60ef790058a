// Package config handles loading and validating the agrivoice configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the agrivoice service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Language   LanguageConfig   `mapstructure:"language"`
	ASR        ASRConfig        `mapstructure:"asr"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Generation GenerationConfig `mapstructure:"generation"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Context    ContextConfig    `mapstructure:"context"`
	Redis      RedisConfig      `mapstructure:"redis"`
	History    HistoryConfig    `mapstructure:"history"`
	Intent     IntentConfig     `mapstructure:"intent"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort    int           `mapstructure:"health_port"`
	CheckInterval time.Duration `mapstructure:"check_interval"` // how often provider checks refresh
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP/WebSocket transport.
type HTTPConfig struct {
	Enabled        bool  `mapstructure:"enabled"`
	Port           int   `mapstructure:"port"`
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	QueryTopic  string `mapstructure:"query_topic"`  // e.g. agrivoice/query/+
	ResultTopic string `mapstructure:"result_topic"` // prefix; query ID is appended
	EventsTopic string `mapstructure:"events_topic"` // document-ingestion notifications
	QoS         byte   `mapstructure:"qos"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	PivotLanguage string         `mapstructure:"pivot_language"`
	TopK          int            `mapstructure:"top_k"`
	MaxSources    int            `mapstructure:"max_sources"`
	SnippetChars  int            `mapstructure:"snippet_chars"`
	Timeouts      TimeoutsConfig `mapstructure:"timeouts"`
}

// TimeoutsConfig holds per-stage deadlines.
type TimeoutsConfig struct {
	ASR         time.Duration `mapstructure:"asr"`
	Translation time.Duration `mapstructure:"translation"`
	Retrieval   time.Duration `mapstructure:"retrieval"`
	Generation  time.Duration `mapstructure:"generation"`
	TTS         time.Duration `mapstructure:"tts"`
	Cache       time.Duration `mapstructure:"cache"`
}

// RetryConfig is a bounded exponential backoff policy.
type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

// LanguageConfig selects the translation provider.
type LanguageConfig struct {
	Backend   string                `mapstructure:"backend"` // "google" or "none"
	Supported []string              `mapstructure:"supported"`
	Retry     RetryConfig           `mapstructure:"retry"`
	Google    GoogleTranslateConfig `mapstructure:"google"`
}

// GoogleTranslateConfig holds Cloud Translation v2 settings.
type GoogleTranslateConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// ASRConfig selects and configures the speech-to-text backend.
type ASRConfig struct {
	Backend string          `mapstructure:"backend"` // "openai" or "local"
	OpenAI  OpenAIASRConfig `mapstructure:"openai"`
	Local   LocalASRConfig  `mapstructure:"local"`
}

// OpenAIASRConfig holds OpenAI transcription API settings.
type OpenAIASRConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// LocalASRConfig holds self-hosted Whisper settings.
type LocalASRConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Type      string `mapstructure:"type"` // "openai" (default) or "asr" (ahmetoner/whisper-asr-webservice)
	VADFilter bool   `mapstructure:"vad_filter"`
	Language  string `mapstructure:"language"` // ISO-639-1 default language
}

// TTSConfig selects and configures the text-to-speech backend.
type TTSConfig struct {
	Enabled   bool        `mapstructure:"enabled"`
	Backend   string      `mapstructure:"backend"` // "piper"
	Languages []string    `mapstructure:"languages"`
	MaxChars  int         `mapstructure:"max_chars"`
	Piper     PiperConfig `mapstructure:"piper"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// For a single Piper instance that serves all languages, set Endpoint.
// For per-language instances, set Endpoints which maps ISO-639-1 codes to
// individual Wyoming TCP endpoints. Endpoints takes precedence.
type PiperConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Voices    map[string]string `mapstructure:"voices"`
}

// AudioConfig selects where synthesized audio is published.
type AudioConfig struct {
	Backend string           `mapstructure:"backend"` // "local" or "s3"
	Local   LocalAudioConfig `mapstructure:"local"`
	S3      S3AudioConfig    `mapstructure:"s3"`
}

// LocalAudioConfig stores audio on disk, served by the HTTP transport.
type LocalAudioConfig struct {
	Dir     string `mapstructure:"dir"`
	BaseURL string `mapstructure:"base_url"`
}

// S3AudioConfig stores audio in an S3 bucket.
type S3AudioConfig struct {
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	Prefix        string        `mapstructure:"prefix"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	PresignTTL    time.Duration `mapstructure:"presign_ttl"`
}

// GenerationConfig selects and tunes the answer model.
type GenerationConfig struct {
	Backend      string          `mapstructure:"backend"` // "openai", "local", "gemini", "bedrock"
	Model        string          `mapstructure:"model"`
	MaxTokens    int             `mapstructure:"max_tokens"`
	Temperature  float32         `mapstructure:"temperature"`
	TopP         float32         `mapstructure:"top_p"`
	MaxPassages  int             `mapstructure:"max_passages"`
	PassageChars int             `mapstructure:"passage_chars"`
	Retry        RetryConfig     `mapstructure:"retry"`
	OpenAI       OpenAILLMConfig `mapstructure:"openai"`
	Local        LocalLLMConfig  `mapstructure:"local"`
	Gemini       GeminiConfig    `mapstructure:"gemini"`
	Bedrock      BedrockConfig   `mapstructure:"bedrock"`
}

// OpenAILLMConfig holds OpenAI-compatible chat settings (OpenAI, Groq).
type OpenAILLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// LocalLLMConfig holds self-hosted LLM settings.
type LocalLLMConfig struct {
	Endpoint string `mapstructure:"endpoint"` // Ollama /api/generate or an OpenAI-compatible /v1/chat/completions
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// BedrockConfig holds AWS Bedrock settings.
type BedrockConfig struct {
	Region string `mapstructure:"region"`
}

// RetrievalConfig configures the document index and embedder.
type RetrievalConfig struct {
	Embedder       string            `mapstructure:"embedder"` // "hash", "ollama", "openai"
	DocumentsDir   string            `mapstructure:"documents_dir"`
	Watch          bool              `mapstructure:"watch"`
	ChunkSize      int               `mapstructure:"chunk_size"`
	ChunkOverlap   int               `mapstructure:"chunk_overlap"`
	HashDimensions int               `mapstructure:"hash_dimensions"`
	Retry          RetryConfig       `mapstructure:"retry"`
	Ollama         OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI         OpenAIEmbedConfig `mapstructure:"openai"`
}

// OllamaEmbedConfig holds Ollama embedding settings.
type OllamaEmbedConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// OpenAIEmbedConfig holds OpenAI embedding settings.
type OpenAIEmbedConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // "memory" or "redis"
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// ContextConfig configures the conversation context store.
type ContextConfig struct {
	Backend       string        `mapstructure:"backend"` // "memory" or "redis"
	Window        int           `mapstructure:"window"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// RedisConfig is shared by the redis-backed cache and context store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HistoryConfig enables durable query history in Postgres.
type HistoryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DatabaseURL string `mapstructure:"database_url"`
}

// IntentConfig overrides the built-in intent table.
type IntentConfig struct {
	Rules    []IntentRule        `mapstructure:"rules"`
	Entities map[string][]string `mapstructure:"entities"`
}

// IntentRule maps an intent to its trigger keywords and expected entity types.
type IntentRule struct {
	Name       string   `mapstructure:"name"`
	Keywords   []string `mapstructure:"keywords"`
	Entities   []string `mapstructure:"entities"`
	Confidence float64  `mapstructure:"confidence"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./agrivoice.yaml, ./configs/agrivoice.yaml, /etc/agrivoice/agrivoice.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("agrivoice")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/agrivoice")
	}

	// Environment variables: AGRIVOICE_SERVER_HEALTH_PORT, AGRIVOICE_GENERATION_BACKEND, etc.
	v.SetEnvPrefix("AGRIVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional; env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${GROQ_API_KEY}")
	cfg.ASR.OpenAI.APIKey = resolveEnvRef(cfg.ASR.OpenAI.APIKey)
	cfg.Generation.OpenAI.APIKey = resolveEnvRef(cfg.Generation.OpenAI.APIKey)
	cfg.Generation.Gemini.APIKey = resolveEnvRef(cfg.Generation.Gemini.APIKey)
	cfg.Retrieval.OpenAI.APIKey = resolveEnvRef(cfg.Retrieval.OpenAI.APIKey)
	cfg.Language.Google.APIKey = resolveEnvRef(cfg.Language.Google.APIKey)
	cfg.Redis.Password = resolveEnvRef(cfg.Redis.Password)
	cfg.History.DatabaseURL = resolveEnvRef(cfg.History.DatabaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("server.check_interval", "30s")

	v.SetDefault("transports.grpc.enabled", true)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.http.max_upload_bytes", 25<<20)
	v.SetDefault("transports.mqtt.enabled", false)
	v.SetDefault("transports.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("transports.mqtt.client_id", "agrivoice")
	v.SetDefault("transports.mqtt.query_topic", "agrivoice/query/+")
	v.SetDefault("transports.mqtt.result_topic", "agrivoice/result")
	v.SetDefault("transports.mqtt.events_topic", "agrivoice/events/documents-ingested")
	v.SetDefault("transports.mqtt.qos", 1)

	v.SetDefault("pipeline.pivot_language", "en")
	v.SetDefault("pipeline.top_k", 5)
	v.SetDefault("pipeline.max_sources", 3)
	v.SetDefault("pipeline.snippet_chars", 200)
	v.SetDefault("pipeline.timeouts.asr", "30s")
	v.SetDefault("pipeline.timeouts.translation", "10s")
	v.SetDefault("pipeline.timeouts.retrieval", "10s")
	v.SetDefault("pipeline.timeouts.generation", "30s")
	v.SetDefault("pipeline.timeouts.tts", "20s")
	v.SetDefault("pipeline.timeouts.cache", "2s")

	v.SetDefault("language.backend", "google")
	v.SetDefault("language.supported", []string{"en", "ta", "hi", "te", "kn", "ml", "mr", "bn", "gu", "pa", "ur"})
	v.SetDefault("language.retry.attempts", 3)
	v.SetDefault("language.retry.base_delay", "200ms")
	v.SetDefault("language.retry.max_delay", "2s")

	v.SetDefault("asr.backend", "openai")
	v.SetDefault("asr.openai.model", "whisper-1")
	v.SetDefault("asr.local.endpoint", "http://localhost:8000/v1/audio/transcriptions")
	v.SetDefault("asr.local.type", "openai")

	v.SetDefault("tts.enabled", false)
	v.SetDefault("tts.backend", "piper")
	v.SetDefault("tts.languages", []string{"en", "ta", "hi", "te", "kn", "ml"})
	v.SetDefault("tts.max_chars", 2000)
	v.SetDefault("tts.piper.endpoint", "localhost:10200")

	v.SetDefault("audio.backend", "local")
	v.SetDefault("audio.local.dir", "./data/audio")
	v.SetDefault("audio.local.base_url", "/audio")
	v.SetDefault("audio.s3.prefix", "audio/")
	v.SetDefault("audio.s3.presign_ttl", "24h")

	v.SetDefault("generation.backend", "openai")
	v.SetDefault("generation.model", "llama-3.3-70b-versatile")
	v.SetDefault("generation.max_tokens", 300)
	v.SetDefault("generation.temperature", 0.3)
	v.SetDefault("generation.top_p", 0.85)
	v.SetDefault("generation.max_passages", 3)
	v.SetDefault("generation.passage_chars", 500)
	v.SetDefault("generation.retry.attempts", 2)
	v.SetDefault("generation.retry.base_delay", "500ms")
	v.SetDefault("generation.retry.max_delay", "4s")
	v.SetDefault("generation.openai.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("generation.local.endpoint", "http://localhost:11434/api/generate")
	v.SetDefault("generation.bedrock.region", "us-east-1")

	v.SetDefault("retrieval.embedder", "hash")
	v.SetDefault("retrieval.documents_dir", "./data/documents")
	v.SetDefault("retrieval.watch", true)
	v.SetDefault("retrieval.chunk_size", 1000)
	v.SetDefault("retrieval.chunk_overlap", 200)
	v.SetDefault("retrieval.hash_dimensions", 512)
	v.SetDefault("retrieval.retry.attempts", 2)
	v.SetDefault("retrieval.retry.base_delay", "200ms")
	v.SetDefault("retrieval.retry.max_delay", "2s")
	v.SetDefault("retrieval.ollama.base_url", "http://localhost:11434")
	v.SetDefault("retrieval.ollama.model", "nomic-embed-text")
	v.SetDefault("retrieval.openai.model", "text-embedding-3-small")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.sweep_interval", "10m")
	v.SetDefault("cache.key_prefix", "agrivoice:cache:")

	v.SetDefault("context.backend", "memory")
	v.SetDefault("context.window", 5)
	v.SetDefault("context.idle_ttl", "2h")
	v.SetDefault("context.sweep_interval", "5m")
	v.SetDefault("context.key_prefix", "agrivoice:session:")

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"language.backend", c.Language.Backend, []string{"google", "none"}},
		{"asr.backend", c.ASR.Backend, []string{"openai", "local"}},
		{"tts.backend", c.TTS.Backend, []string{"piper"}},
		{"audio.backend", c.Audio.Backend, []string{"local", "s3"}},
		{"generation.backend", c.Generation.Backend, []string{"openai", "local", "gemini", "bedrock"}},
		{"retrieval.embedder", c.Retrieval.Embedder, []string{"hash", "ollama", "openai"}},
		{"cache.backend", c.Cache.Backend, []string{"memory", "redis"}},
		{"context.backend", c.Context.Backend, []string{"memory", "redis"}},
	}
	for _, ch := range checks {
		if !contains(ch.allowed, ch.value) {
			return fmt.Errorf("invalid %s %q (want one of %s)", ch.field, ch.value, strings.Join(ch.allowed, ", "))
		}
	}

	if c.Pipeline.PivotLanguage == "" {
		return fmt.Errorf("pipeline.pivot_language must be set")
	}
	if c.Pipeline.TopK <= 0 {
		return fmt.Errorf("pipeline.top_k must be positive, got %d", c.Pipeline.TopK)
	}
	if c.Context.Window <= 0 {
		return fmt.Errorf("context.window must be positive, got %d", c.Context.Window)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Audio.Backend == "s3" && c.Audio.S3.Bucket == "" {
		return fmt.Errorf("audio.s3.bucket is required for the s3 audio backend")
	}
	if c.History.Enabled && c.History.DatabaseURL == "" {
		return fmt.Errorf("history.database_url is required when history is enabled")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
