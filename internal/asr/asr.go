// Package asr defines the speech-to-text contract used by the voice adapter.
package asr

import (
	"context"
	"math"
	"strings"

	"github.com/nadzzz/agrivoice/internal/message"
)

// Options controls one transcription.
type Options struct {
	// Language is the ISO-639-1 hint. Empty lets the backend detect.
	Language string

	// Prompt primes recognition of domain terms (crop and pest names).
	Prompt string
}

// Transcriber converts audio to text.
type Transcriber interface {
	// Name returns the backend identifier (e.g., "openai", "local").
	Name() string

	// Transcribe returns the recognised text and detected language.
	Transcribe(ctx context.Context, audio []byte, contentType string, opts Options) (*message.Transcript, error)
}

// DefaultPrompt biases Whisper towards agricultural vocabulary.
const DefaultPrompt = "Farmer question about crops, pests, fertilizer, irrigation, weather, mandi prices or government schemes."

// ExtFromContentType picks a file extension Whisper servers accept.
func ExtFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "wav"):
		return ".wav"
	case strings.Contains(ct, "ogg"), strings.Contains(ct, "opus"):
		return ".ogg"
	case strings.Contains(ct, "mp3"), strings.Contains(ct, "mpeg"):
		return ".mp3"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4a"), strings.Contains(ct, "aac"):
		return ".m4a"
	case strings.Contains(ct, "flac"):
		return ".flac"
	case strings.Contains(ct, "webm"):
		return ".webm"
	default:
		return ".wav"
	}
}

// ConfidenceFromLogprob converts Whisper's average log probability to [0, 1].
func ConfidenceFromLogprob(avg float64) float64 {
	return math.Max(0, math.Min(1, math.Exp(avg)))
}
