package language

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/retry"
)

type stubTranslator struct {
	calls  atomic.Int32
	err    error
	detect string
	prefix string
}

func (s *stubTranslator) Name() string { return "stub" }

func (s *stubTranslator) Translate(_ context.Context, text, source, target string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return s.prefix + "[" + source + "->" + target + "] " + text, nil
}

type detectingTranslator struct {
	stubTranslator
}

func (d *detectingTranslator) Detect(context.Context, string) (string, float64, error) {
	if d.detect == "" {
		return "", 0, errors.New("detect down")
	}
	return d.detect, 0.9, nil
}

func newBridge(t Translator) *Bridge {
	return NewBridge(t, Options{Pivot: "en", Supported: []string{"en", "hi", "ta"}, Retry: retry.Policy{Attempts: 2}})
}

func TestPivotIsIdentityWithoutProviderCalls(t *testing.T) {
	tr := &stubTranslator{}
	b := newBridge(tr)

	pq, err := b.ToPivot(context.Background(), "How do I grow paddy?", "en")
	require.NoError(t, err)
	assert.Equal(t, "How do I grow paddy?", pq.PivotText)
	assert.Equal(t, "en", pq.OriginalLanguage)

	out, err := b.FromPivot(context.Background(), "Plant in June.", "en-US")
	require.NoError(t, err)
	assert.Equal(t, "Plant in June.", out)

	assert.Zero(t, tr.calls.Load())
}

func TestPivotIdentityWithoutTranslator(t *testing.T) {
	b := newBridge(nil)
	pq, err := b.ToPivot(context.Background(), "hello", "EN")
	require.NoError(t, err)
	assert.Equal(t, "hello", pq.PivotText)
}

func TestToPivotTranslatesExplicitHint(t *testing.T) {
	tr := &stubTranslator{}
	b := newBridge(tr)

	pq, err := b.ToPivot(context.Background(), "धान कब बोएं", "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "hi", pq.OriginalLanguage)
	assert.Equal(t, "[hi->en] धान कब बोएं", pq.PivotText)
	assert.Equal(t, int32(1), tr.calls.Load())
}

func TestToPivotDetectsOnlyForAuto(t *testing.T) {
	tr := &detectingTranslator{stubTranslator{detect: "ta"}}
	b := newBridge(tr)

	pq, err := b.ToPivot(context.Background(), "anything", "auto")
	require.NoError(t, err)
	assert.Equal(t, "ta", pq.OriginalLanguage)

	// An explicit hint is trusted even when the provider would disagree.
	pq, err = b.ToPivot(context.Background(), "anything", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", pq.OriginalLanguage)
}

func TestDetectFallsBackToScript(t *testing.T) {
	tr := &detectingTranslator{}
	b := newBridge(tr)
	assert.Equal(t, "ta", b.Detect(context.Background(), "நெல் எப்போது விதைக்க வேண்டும்"))
	assert.Equal(t, "en", b.Detect(context.Background(), "when to sow paddy"))
	assert.Equal(t, "en", b.Detect(context.Background(), "1234 ?"))
}

func TestTranslationFailureIsClassified(t *testing.T) {
	tr := &stubTranslator{err: errors.New("503")}
	b := newBridge(tr)

	_, err := b.ToPivot(context.Background(), "text", "hi")
	require.Error(t, err)
	assert.Equal(t, message.ErrorKindTranslationUnavailable, message.KindOf(err))
	assert.Equal(t, message.StageLanguageNormalized, message.StageOf(err, ""))
	assert.Equal(t, int32(2), tr.calls.Load(), "retried per policy")

	_, err = b.FromPivot(context.Background(), "text", "ta")
	assert.Equal(t, message.StageLocalizedBack, message.StageOf(err, ""))
}

func TestNoTranslatorFailsForNonPivot(t *testing.T) {
	b := newBridge(nil)
	_, err := b.FromPivot(context.Background(), "text", "hi")
	assert.ErrorIs(t, err, ErrNoTranslator)
	assert.Equal(t, message.ErrorKindTranslationUnavailable, message.KindOf(err))
	assert.ErrorIs(t, b.Check(context.Background()), ErrNoTranslator)
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"auto":    "auto",
		"EN":      "en",
		"hi-IN":   "hi",
		"English": "en",
		"tamil":   "ta",
		"ta":      "ta",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestDetectScript(t *testing.T) {
	assert.Equal(t, "hi", DetectScript("गेहूं की बुवाई"))
	assert.Equal(t, "te", DetectScript("వరి సాగు"))
	assert.Equal(t, "kn", DetectScript("ಭತ್ತ"))
	assert.Equal(t, "ml", DetectScript("നെല്ല്"))
	assert.Equal(t, "bn", DetectScript("ধান চাষ"))
	assert.Equal(t, "en", DetectScript("rice"))
	assert.Equal(t, "", DetectScript("  "))
}

func TestFailureMessage(t *testing.T) {
	tr := &stubTranslator{}
	b := NewBridge(tr, Options{Pivot: "en", Supported: []string{"en", "fr"}})

	assert.Equal(t, failureMessageEN, b.FailureMessage(context.Background(), "en", true))
	assert.Equal(t, failureMessages["ta"], b.FailureMessage(context.Background(), "ta", true))
	assert.Equal(t, failureMessageEN, b.FailureMessage(context.Background(), "fr", false))
	assert.Contains(t, b.FailureMessage(context.Background(), "fr", true), "[en->fr]")
}
