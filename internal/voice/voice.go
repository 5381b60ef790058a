// Package voice turns spoken questions into text and answers into
// published audio.
package voice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nadzzz/agrivoice/internal/asr"
	"github.com/nadzzz/agrivoice/internal/audiostore"
	"github.com/nadzzz/agrivoice/internal/language"
	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/retry"
	"github.com/nadzzz/agrivoice/internal/tts"
)

// DefaultMaxChars bounds the text sent to synthesis.
const DefaultMaxChars = 2000

// DefaultTTSLanguages are the languages with configured voices.
var DefaultTTSLanguages = []string{"en", "ta", "hi", "te", "kn", "ml"}

var (
	// ErrEmptyTranscript means the audio contained no recognisable speech.
	ErrEmptyTranscript = errors.New("transcription produced no text")

	// ErrSynthesisDisabled is returned when no synthesizer is configured.
	ErrSynthesisDisabled = errors.New("speech synthesis is disabled")
)

// Options tunes the adapter.
type Options struct {
	TTSLanguages []string
	MaxChars     int
	ASRTimeout   time.Duration
	TTSTimeout   time.Duration
	Prompt       string
}

// Adapter wraps an ASR backend, an optional TTS backend and an audio store.
type Adapter struct {
	transcriber asr.Transcriber
	synthesizer tts.Synthesizer
	store       audiostore.Store
	languages   map[string]bool
	maxChars    int
	asrPolicy   retry.Policy
	ttsPolicy   retry.Policy
	prompt      string
}

// New creates an Adapter. synthesizer and store may be nil to disable speech output.
func New(transcriber asr.Transcriber, synthesizer tts.Synthesizer, store audiostore.Store, opts Options) *Adapter {
	langs := opts.TTSLanguages
	if langs == nil {
		langs = DefaultTTSLanguages
	}
	set := make(map[string]bool, len(langs))
	for _, l := range langs {
		set[language.Normalize(l)] = true
	}
	maxChars := opts.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = asr.DefaultPrompt
	}
	return &Adapter{
		transcriber: transcriber,
		synthesizer: synthesizer,
		store:       store,
		languages:   set,
		maxChars:    maxChars,
		asrPolicy:   retry.Once(opts.ASRTimeout),
		ttsPolicy:   retry.Once(opts.TTSTimeout),
		prompt:      prompt,
	}
}

// Transcribe converts audio to text, retrying at most once. Failures are
// *message.Error of kind asr_unavailable, timeout or empty_input.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, contentType, languageHint string) (*message.Transcript, error) {
	if len(audio) == 0 {
		return nil, message.NewError(message.ErrorKindEmptyInput, message.StageTranscribed, errors.New("no audio"))
	}
	if a.transcriber == nil {
		return nil, message.NewError(message.ErrorKindASRUnavailable, message.StageTranscribed, errors.New("no transcriber configured"))
	}

	hint := language.Normalize(languageHint)
	if hint == message.AutoLanguage {
		hint = ""
	}

	var tr *message.Transcript
	err := retry.Do(ctx, a.asrPolicy, "asr."+a.transcriber.Name(), func(ctx context.Context) error {
		res, err := a.transcriber.Transcribe(ctx, audio, contentType, asr.Options{Language: hint, Prompt: a.prompt})
		if err != nil {
			return err
		}
		tr = res
		return nil
	})
	if err != nil {
		return nil, message.NewError(message.ErrorKindASRUnavailable, message.StageTranscribed, err)
	}

	tr.Text = strings.TrimSpace(tr.Text)
	if tr.Text == "" {
		return nil, message.NewError(message.ErrorKindEmptyInput, message.StageTranscribed, ErrEmptyTranscript)
	}
	if tr.DetectedLanguage == "" {
		tr.DetectedLanguage = hint
	}
	return tr, nil
}

// SupportsLanguage reports whether answers in lang get audio.
func (a *Adapter) SupportsLanguage(lang string) bool {
	return a.synthesizer != nil && a.store != nil && a.languages[language.Normalize(lang)]
}

// TTSLanguages lists the languages with speech output.
func (a *Adapter) TTSLanguages() []string {
	if a.synthesizer == nil || a.store == nil {
		return nil
	}
	out := make([]string, 0, len(a.languages))
	for _, l := range DefaultTTSLanguages {
		if a.languages[l] {
			out = append(out, l)
		}
	}
	for l := range a.languages {
		if !contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

// Synthesize speaks text in lang, publishes the clip and returns its URL.
// Failures are *message.Error of kind tts_unavailable or timeout.
func (a *Adapter) Synthesize(ctx context.Context, text, lang string) (string, error) {
	if a.synthesizer == nil || a.store == nil {
		return "", message.NewError(message.ErrorKindTTSUnavailable, message.StageSynthesized, ErrSynthesisDisabled)
	}
	text = truncate(strings.TrimSpace(text), a.maxChars)
	lang = language.Normalize(lang)
	key := AudioKey(text, lang)

	var url string
	err := retry.Do(ctx, a.ttsPolicy, "tts."+a.synthesizer.Name(), func(ctx context.Context) error {
		clip, err := a.synthesizer.Synthesize(ctx, text, lang)
		if err != nil {
			return err
		}
		u, err := a.store.Put(ctx, key, clip.Ext, clip.ContentType, clip.Data)
		if err != nil {
			return fmt.Errorf("storing audio: %w", err)
		}
		url = u
		return nil
	})
	if err != nil {
		return "", message.NewError(message.ErrorKindTTSUnavailable, message.StageSynthesized, err)
	}
	slog.Debug("answer synthesized", "language", lang, "key", key)
	return url, nil
}

// AudioKey names the clip for text in lang.
func AudioKey(text, lang string) string {
	sum := sha256.Sum256([]byte(text + "|" + lang))
	return hex.EncodeToString(sum[:16])
}

// Check pings the ASR and TTS backends that support health checks.
func (a *Adapter) Check(ctx context.Context) error {
	type checker interface{ Check(context.Context) error }
	if c, ok := a.transcriber.(checker); ok {
		if err := c.Check(ctx); err != nil {
			return fmt.Errorf("asr: %w", err)
		}
	}
	return nil
}

// CheckSynthesis pings the TTS backend and audio store.
func (a *Adapter) CheckSynthesis(ctx context.Context) error {
	if a.synthesizer == nil || a.store == nil {
		return ErrSynthesisDisabled
	}
	type checker interface{ Check(context.Context) error }
	if c, ok := a.synthesizer.(checker); ok {
		if err := c.Check(ctx); err != nil {
			return fmt.Errorf("tts: %w", err)
		}
	}
	return a.store.Check(ctx)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
