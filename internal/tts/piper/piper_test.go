package piper

import (
	"bufio"
	"context"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/agrivoice/internal/config"
)

// fakePiper serves one Wyoming exchange per connection.
func fakePiper(t *testing.T, handle func(ev *event, conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				ev, _, err := readEvent(bufio.NewReader(conn))
				if err != nil {
					return
				}
				handle(ev, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestSynthesize(t *testing.T) {
	seen := make(chan *event, 1)
	addr := fakePiper(t, func(ev *event, conn net.Conn) {
		seen <- ev
		_ = writeEvent(conn, event{Type: "audio-start", Data: map[string]any{"rate": 16000, "width": 2, "channels": 1}}, nil)
		_ = writeEvent(conn, event{Type: "audio-chunk"}, []byte{1, 2, 3, 4})
		_ = writeEvent(conn, event{Type: "audio-chunk"}, []byte{5, 6})
		_ = writeEvent(conn, event{Type: "audio-stop"}, nil)
	})

	s := New(config.PiperConfig{Endpoint: "tcp://" + addr})
	audio, err := s.Synthesize(context.Background(), "Spray neem oil.", "hi")
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, "synthesize", got.Type)
	assert.Equal(t, "Spray neem oil.", got.Data["text"])
	assert.Equal(t, map[string]any{"name": "hi_IN-pratham-medium"}, got.Data["voice"])

	assert.Equal(t, "audio/wav", audio.ContentType)
	assert.Equal(t, 16000, audio.SampleRate)
	require.Len(t, audio.Data, 44+6)
	assert.Equal(t, "RIFF", string(audio.Data[0:4]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(audio.Data[24:28]))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, audio.Data[44:])
}

func TestSynthesizeWithoutVoiceUsesServerDefault(t *testing.T) {
	seen := make(chan *event, 1)
	addr := fakePiper(t, func(ev *event, conn net.Conn) {
		seen <- ev
		_ = writeEvent(conn, event{Type: "audio-chunk"}, []byte{0, 0})
		_ = writeEvent(conn, event{Type: "audio-stop"}, nil)
	})

	s := New(config.PiperConfig{Endpoints: map[string]string{"ta": addr}})
	_, err := s.Synthesize(context.Background(), "வணக்கம்", "ta")
	require.NoError(t, err)
	_, hasVoice := (<-seen).Data["voice"]
	assert.False(t, hasVoice)

	_, err = s.Synthesize(context.Background(), "hello", "en")
	assert.Error(t, err, "no endpoint for en")
}

func TestSynthesizeServerError(t *testing.T) {
	addr := fakePiper(t, func(_ *event, conn net.Conn) {
		_ = writeEvent(conn, event{Type: "error", Data: map[string]any{"text": "voice not found"}}, nil)
	})
	_, err := New(config.PiperConfig{Endpoint: addr}).Synthesize(context.Background(), "x", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice not found")

	_, err = New(config.PiperConfig{Endpoint: addr}).Synthesize(context.Background(), " ", "en")
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	addr := fakePiper(t, func(ev *event, conn net.Conn) {
		if ev.Type == "describe" {
			_ = writeEvent(conn, event{Type: "info", Data: map[string]any{"tts": []any{}}}, nil)
		}
	})
	assert.NoError(t, New(config.PiperConfig{Endpoint: addr}).Check(context.Background()))
	assert.Error(t, New(config.PiperConfig{}).Check(context.Background()))
}
