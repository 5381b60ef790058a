// Package tts defines the text-to-speech contract used by the voice adapter.
package tts

import "context"

// Audio is a synthesized clip.
type Audio struct {
	// Data is the encoded clip (a WAV file for Piper).
	Data []byte

	// ContentType is the MIME type of Data (e.g., "audio/wav").
	ContentType string

	// Ext is the file extension matching ContentType, including the dot.
	Ext string

	SampleRate int
	Channels   int
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	// Name returns the backend identifier (e.g., "piper").
	Name() string

	// Synthesize speaks text in the given ISO-639-1 language.
	Synthesize(ctx context.Context, text, language string) (*Audio, error)

	// Close releases any resources held by the synthesizer.
	Close() error
}
