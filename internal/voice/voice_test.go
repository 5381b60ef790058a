package voice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/testutil"
)

func TestTranscribe(t *testing.T) {
	tr := &testutil.Transcriber{Text: "  टमाटर में कीट  ", Language: "hi"}
	a := New(tr, nil, nil, Options{})

	got, err := a.Transcribe(context.Background(), []byte("audio"), "audio/wav", "auto")
	require.NoError(t, err)
	assert.Equal(t, "टमाटर में कीट", got.Text)
	assert.Equal(t, "hi", got.DetectedLanguage)
}

func TestTranscribeEmpty(t *testing.T) {
	tr := &testutil.Transcriber{Text: "   "}
	a := New(tr, nil, nil, Options{})

	_, err := a.Transcribe(context.Background(), []byte("noise"), "audio/wav", "")
	require.Error(t, err)
	assert.Equal(t, message.ErrorKindEmptyInput, message.KindOf(err))
	assert.ErrorIs(t, err, ErrEmptyTranscript)
	assert.Equal(t, 1, tr.Calls(), "empty transcripts are not retried")

	_, err = a.Transcribe(context.Background(), nil, "audio/wav", "")
	assert.Equal(t, message.ErrorKindEmptyInput, message.KindOf(err))
}

func TestTranscribeRetriesOnce(t *testing.T) {
	tr := &testutil.Transcriber{Err: errors.New("503")}
	a := New(tr, nil, nil, Options{})

	_, err := a.Transcribe(context.Background(), []byte("audio"), "audio/wav", "")
	require.Error(t, err)
	assert.Equal(t, message.ErrorKindASRUnavailable, message.KindOf(err))
	assert.Equal(t, message.StageTranscribed, message.StageOf(err, ""))
	assert.Equal(t, 2, tr.Calls())
}

func TestTranscribeTimeout(t *testing.T) {
	tr := &testutil.Transcriber{Text: "x"}
	a := New(tr, nil, nil, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := a.Transcribe(ctx, []byte("audio"), "audio/wav", "")
	require.Error(t, err)
	assert.Equal(t, message.ErrorKindTimeout, message.KindOf(err))
}

func TestSynthesize(t *testing.T) {
	syn := &testutil.Synthesizer{}
	store := testutil.NewAudioStore()
	a := New(nil, syn, store, Options{MaxChars: 10})

	url, err := a.Synthesize(context.Background(), "Spray neem oil weekly.", "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "/audio/"+AudioKey("Spray neem", "hi")+".wav", url)
	assert.Equal(t, []string{"Spray neem"}, syn.Texts(), "text is truncated")
	assert.Equal(t, 1, store.Len())

	// Same text and language reuse the key.
	again, err := a.Synthesize(context.Background(), "Spray neem oil weekly.", "hi")
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Equal(t, 1, store.Len())
}

func TestSynthesizeFailures(t *testing.T) {
	syn := &testutil.Synthesizer{Err: errors.New("piper down")}
	a := New(nil, syn, testutil.NewAudioStore(), Options{})
	_, err := a.Synthesize(context.Background(), "hello", "en")
	require.Error(t, err)
	assert.Equal(t, message.ErrorKindTTSUnavailable, message.KindOf(err))
	assert.Equal(t, 2, syn.Calls())

	store := testutil.NewAudioStore()
	store.Err = errors.New("disk full")
	_, err = New(nil, &testutil.Synthesizer{}, store, Options{}).Synthesize(context.Background(), "hello", "en")
	assert.Equal(t, message.ErrorKindTTSUnavailable, message.KindOf(err))

	_, err = New(nil, nil, nil, Options{}).Synthesize(context.Background(), "hello", "en")
	assert.ErrorIs(t, err, ErrSynthesisDisabled)
}

func TestSupportsLanguage(t *testing.T) {
	a := New(nil, &testutil.Synthesizer{}, testutil.NewAudioStore(), Options{})
	for _, l := range []string{"en", "ta", "hi", "te", "kn", "ml", "ta-IN"} {
		assert.True(t, a.SupportsLanguage(l), l)
	}
	assert.False(t, a.SupportsLanguage("mr"))
	assert.Equal(t, DefaultTTSLanguages, a.TTSLanguages())

	disabled := New(nil, nil, nil, Options{})
	assert.False(t, disabled.SupportsLanguage("en"))
	assert.Empty(t, disabled.TTSLanguages())
}

func TestAudioKey(t *testing.T) {
	assert.Equal(t, AudioKey("a", "en"), AudioKey("a", "en"))
	assert.NotEqual(t, AudioKey("a", "en"), AudioKey("a", "hi"))
	assert.Len(t, AudioKey(strings.Repeat("x", 5000), "en"), 32)
}
