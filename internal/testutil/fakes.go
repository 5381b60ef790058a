// Package testutil provides in-memory fakes of every provider interface.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nadzzz/agrivoice/internal/asr"
	"github.com/nadzzz/agrivoice/internal/composer"
	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/tts"
)

// ErrUnavailable is the default error returned by failing fakes.
var ErrUnavailable = errors.New("provider unavailable")

// LLM is a scripted composer.LLM.
type LLM struct {
	mu    sync.Mutex
	Reply func(req composer.Request) (string, error)
	Delay time.Duration
	reqs  []composer.Request
}

// NewLLM answers every request with reply.
func NewLLM(reply string) *LLM {
	return &LLM{Reply: func(composer.Request) (string, error) { return reply, nil }}
}

// FailingLLM errors on every request.
func FailingLLM() *LLM {
	return &LLM{Reply: func(composer.Request) (string, error) { return "", ErrUnavailable }}
}

func (l *LLM) Name() string { return "fake" }

func (l *LLM) Complete(ctx context.Context, req composer.Request) (*composer.Response, error) {
	l.mu.Lock()
	l.reqs = append(l.reqs, req)
	reply := l.Reply
	l.mu.Unlock()

	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	text, err := reply(req)
	if err != nil {
		return nil, err
	}
	return &composer.Response{Text: text}, nil
}

// Calls returns the number of completions requested.
func (l *LLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reqs)
}

// Requests returns a copy of every request seen.
func (l *LLM) Requests() []composer.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]composer.Request(nil), l.reqs...)
}

// Translator translates through a fixed dictionary keyed by "source>target:text".
// Unknown pairs are rendered as "[target] text".
type Translator struct {
	mu       sync.Mutex
	Dict     map[string]string
	Fail     bool
	FailTo   string // fail only when translating into this language
	Detected string
	calls    int
}

// NewTranslator creates a Translator with the given dictionary.
func NewTranslator(dict map[string]string) *Translator {
	if dict == nil {
		dict = map[string]string{}
	}
	return &Translator{Dict: dict}
}

func (t *Translator) Name() string { return "fake" }

func (t *Translator) Translate(ctx context.Context, text, source, target string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.Fail || (t.FailTo != "" && t.FailTo == target) {
		return "", ErrUnavailable
	}
	if out, ok := t.Dict[source+">"+target+":"+text]; ok {
		return out, nil
	}
	return fmt.Sprintf("[%s] %s", target, text), nil
}

// Detect reports Detected when set; otherwise it defers to the caller's fallback.
func (t *Translator) Detect(_ context.Context, _ string) (string, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Detected == "" {
		return "", 0, ErrUnavailable
	}
	return t.Detected, 0.9, nil
}

// Calls returns the number of Translate calls.
func (t *Translator) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Transcriber returns a fixed transcript.
type Transcriber struct {
	mu       sync.Mutex
	Text     string
	Language string
	Err      error
	calls    int
}

func (t *Transcriber) Name() string { return "fake" }

func (t *Transcriber) Transcribe(ctx context.Context, _ []byte, _ string, opts asr.Options) (*message.Transcript, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.Err != nil {
		return nil, t.Err
	}
	lang := t.Language
	if lang == "" {
		lang = opts.Language
	}
	return &message.Transcript{Text: t.Text, DetectedLanguage: lang, Confidence: 0.95}, nil
}

// Calls returns the number of Transcribe calls.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Synthesizer returns a tiny WAV-tagged clip.
type Synthesizer struct {
	mu    sync.Mutex
	Err   error
	calls int
	texts []string
}

func (s *Synthesizer) Name() string { return "fake" }

func (s *Synthesizer) Synthesize(ctx context.Context, text, lang string) (*tts.Audio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.texts = append(s.texts, text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return &tts.Audio{Data: []byte("RIFF:" + lang), ContentType: "audio/wav", Ext: ".wav", SampleRate: 22050, Channels: 1}, nil
}

func (s *Synthesizer) Close() error { return nil }

// Calls returns the number of Synthesize calls.
func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Texts returns every text sent for synthesis.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// AudioStore keeps clips in memory.
type AudioStore struct {
	mu    sync.Mutex
	Err   error
	Files map[string][]byte
}

// NewAudioStore creates an empty AudioStore.
func NewAudioStore() *AudioStore {
	return &AudioStore{Files: map[string][]byte{}}
}

func (s *AudioStore) Put(_ context.Context, key, ext, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.Files[key+ext] = data
	return "/audio/" + key + ext, nil
}

func (s *AudioStore) Check(context.Context) error { return s.Err }

// Len returns the number of stored clips.
func (s *AudioStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Files)
}

// Embedder is a keyword embedder: each dimension counts one vocabulary word.
type Embedder struct {
	Vocabulary []string
	Err        error
}

func (e *Embedder) Name() string { return "fake" }

func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float32, len(e.Vocabulary))
		for j, w := range e.Vocabulary {
			vec[j] = float32(strings.Count(lower, w))
		}
		out[i] = vec
	}
	return out, nil
}
