// Package piper synthesizes speech with a Piper server over the Wyoming protocol.
//
// A single server may host every voice, or each language may have its own
// instance (linuxserver/piper exposes Wyoming on TCP 10200).
package piper

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/nadzzz/agrivoice/internal/config"
	"github.com/nadzzz/agrivoice/internal/tts"
)

// defaultVoices maps ISO-639-1 codes to Piper voice models. Languages
// without an entry use the server's default voice, which suits per-language
// instances.
var defaultVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"hi": "hi_IN-pratham-medium",
	"te": "te_IN-maya-medium",
	"ml": "ml_IN-meera-medium",
}

// Synthesizer implements tts.Synthesizer.
type Synthesizer struct {
	endpoint  string
	endpoints map[string]string
	voices    map[string]string
	dialer    net.Dialer
}

// New creates a Piper synthesizer.
func New(cfg config.PiperConfig) *Synthesizer {
	voices := make(map[string]string, len(defaultVoices)+len(cfg.Voices))
	for k, v := range defaultVoices {
		voices[k] = v
	}
	for k, v := range cfg.Voices {
		voices[k] = v
	}

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for lang, ep := range cfg.Endpoints {
		endpoints[lang] = hostPort(ep)
	}

	return &Synthesizer{
		endpoint:  hostPort(cfg.Endpoint),
		endpoints: endpoints,
		voices:    voices,
		dialer:    net.Dialer{Timeout: 10 * time.Second},
	}
}

func hostPort(ep string) string {
	ep = strings.TrimPrefix(ep, "tcp://")
	return strings.TrimPrefix(ep, "http://")
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "piper" }

func (s *Synthesizer) endpointFor(lang string) string {
	if ep := s.endpoints[lang]; ep != "" {
		return ep
	}
	return s.endpoint
}

// Synthesize streams the text to Piper and collects the PCM reply as WAV.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string) (*tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text for synthesis")
	}
	endpoint := s.endpointFor(language)
	if endpoint == "" {
		return nil, fmt.Errorf("no piper endpoint configured for language %q", language)
	}

	data := map[string]any{"text": text}
	if voice := s.voices[language]; voice != "" {
		data["voice"] = map[string]any{"name": voice}
	}

	conn, r, err := s.open(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	slog.Debug("piper synthesize", "text_length", len(text), "language", language, "endpoint", endpoint)
	if err := writeEvent(conn, event{Type: "synthesize", Data: data}, nil); err != nil {
		return nil, fmt.Errorf("sending synthesize event: %w", err)
	}

	var (
		pcm                   bytes.Buffer
		rate, channels, width = 22050, 1, 2
	)
	for {
		ev, payload, err := readEvent(r)
		if err != nil {
			return nil, fmt.Errorf("reading piper event: %w", err)
		}
		switch ev.Type {
		case "audio-start":
			rate = intField(ev.Data, "rate", rate)
			channels = intField(ev.Data, "channels", channels)
			width = intField(ev.Data, "width", width)
		case "audio-chunk":
			pcm.Write(payload)
		case "audio-stop":
			if pcm.Len() == 0 {
				return nil, errors.New("piper returned no audio")
			}
			return &tts.Audio{
				Data:        pcmToWAV(pcm.Bytes(), rate, channels, width),
				ContentType: "audio/wav",
				Ext:         ".wav",
				SampleRate:  rate,
				Channels:    channels,
			}, nil
		case "error":
			msg, _ := ev.Data["text"].(string)
			if msg == "" {
				msg = "unknown error"
			}
			return nil, fmt.Errorf("piper error: %s", msg)
		}
	}
}

// Check sends a describe event to the default endpoint and waits for info.
func (s *Synthesizer) Check(ctx context.Context) error {
	if s.endpoint == "" {
		for _, ep := range s.endpoints {
			return s.describe(ctx, ep)
		}
		return errors.New("no piper endpoint configured")
	}
	return s.describe(ctx, s.endpoint)
}

func (s *Synthesizer) describe(ctx context.Context, endpoint string) error {
	conn, r, err := s.open(ctx, endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeEvent(conn, event{Type: "describe"}, nil); err != nil {
		return fmt.Errorf("sending describe event: %w", err)
	}
	ev, _, err := readEvent(r)
	if err != nil {
		return fmt.Errorf("reading describe reply: %w", err)
	}
	if ev.Type != "info" {
		return fmt.Errorf("unexpected describe reply %q", ev.Type)
	}
	return nil
}

func (s *Synthesizer) open(ctx context.Context, endpoint string) (net.Conn, *bufio.Reader, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to piper: %w", err)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	_ = conn.SetDeadline(deadline)
	return conn, bufio.NewReader(conn), nil
}

// Close is a no-op; connections are per request.
func (s *Synthesizer) Close() error { return nil }
