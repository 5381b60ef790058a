package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/agrivoice/internal/cache"
	"github.com/nadzzz/agrivoice/internal/composer"
	"github.com/nadzzz/agrivoice/internal/intent"
	"github.com/nadzzz/agrivoice/internal/language"
	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/retriever"
	"github.com/nadzzz/agrivoice/internal/retry"
	"github.com/nadzzz/agrivoice/internal/session"
	"github.com/nadzzz/agrivoice/internal/testutil"
	"github.com/nadzzz/agrivoice/internal/voice"
)

const tomatoQuestion = "How do I control pests in tomato plants?"

type harness struct {
	orch        *Orchestrator
	llm         *testutil.LLM
	translator  *testutil.Translator
	embedder    *testutil.Embedder
	index       *retriever.MemoryIndex
	sessions    *session.MemoryStore
	cache       *cache.MemoryCache
	transcriber *testutil.Transcriber
	synth       *testutil.Synthesizer
	audio       *testutil.AudioStore
	bridge      *language.Bridge
	history     *recorder
	classifier  Classifier
}

func newHarness(t *testing.T, configure ...func(h *harness)) *harness {
	t.Helper()
	h := &harness{
		llm:         testutil.NewLLM("Spray neem oil on the leaves every week [1]."),
		translator:  testutil.NewTranslator(nil),
		embedder:    &testutil.Embedder{Vocabulary: []string{"tomato", "pest", "neem", "wheat", "sow", "rice", "water"}},
		index:       retriever.NewMemoryIndex(),
		sessions:    session.NewMemoryStore(session.DefaultWindow, time.Hour),
		cache:       cache.NewMemoryCache(),
		transcriber: &testutil.Transcriber{Text: tomatoQuestion, Language: "en"},
		synth:       &testutil.Synthesizer{},
		audio:       testutil.NewAudioStore(),
		history:     newRecorder(),
	}
	for _, fn := range configure {
		fn(h)
	}

	h.bridge = language.NewBridge(h.translator, language.Options{
		Pivot:     "en",
		Supported: []string{"en", "hi", "ta", "mr"},
		Retry:     retry.Policy{Attempts: 2},
	})
	h.orch = New(Deps{
		Bridge:     h.bridge,
		Retriever:  retriever.New(h.embedder, h.index, retriever.Options{Retry: retry.Policy{Attempts: 2}}),
		Composer:   composer.New(h.llm, composer.Options{Retry: retry.Policy{Attempts: 2}}),
		Classifier: h.classifier,
		Sessions:   h.sessions,
		Cache:      h.cache,
		Voice:      voice.New(h.transcriber, h.synth, h.audio, voice.Options{}),
		History:    h.history,
	}, Options{})
	return h
}

func (h *harness) addDocs(t *testing.T, docs ...retriever.Document) {
	t.Helper()
	for i := range docs {
		vecs, err := h.embedder.Embed(context.Background(), []string{docs[i].Text})
		require.NoError(t, err)
		docs[i].Vector = vecs[0]
	}
	require.NoError(t, h.index.Add(context.Background(), docs))
}

func (h *harness) turns(t *testing.T, sessionID string) []message.Turn {
	t.Helper()
	turns, err := h.sessions.Recent(context.Background(), sessionID)
	require.NoError(t, err)
	return turns
}

func textQuery(text, lang, sessionID string) *message.Query {
	return &message.Query{Text: text, Language: lang, SessionID: sessionID}
}

// recorder captures history records.
type recorder struct {
	mu      sync.Mutex
	results []*message.QueryResult
	done    chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 64)} }

func (r *recorder) Record(_ context.Context, _ *message.Query, res *message.QueryResult) error {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(string) intent.Result { panic("broken rule table") }

func TestPivotLanguageQueryIsIdentity(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, message.StageCompleted, res.State)
	assert.Equal(t, "Spray neem oil on the leaves every week.", res.AnswerText)
	assert.Equal(t, tomatoQuestion, res.Query)
	assert.Equal(t, tomatoQuestion, res.PivotQuery)
	assert.Equal(t, "en", res.Language)
	assert.Zero(t, h.translator.Calls(), "pivot language never reaches the translator")
	assert.NotEmpty(t, res.QueryID)
	assert.Equal(t, "s1", res.SessionID)
}

func TestTomatoPestsWithEmptyIndex(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))

	require.True(t, res.Success)
	assert.Equal(t, message.StageCompleted, res.State)
	assert.NotEmpty(t, res.AnswerText)
	assert.NotNil(t, res.Sources)
	assert.Empty(t, res.Sources)
	assert.True(t, res.RetrievalDegraded)
	assert.Contains(t, res.Warnings, message.ErrorKindRetrievalDegraded)
	assert.Equal(t, "pest_control", res.Intent)
	assert.Equal(t, map[string][]string{"crop": {"tomato"}}, res.Entities)

	reqs := h.llm.Requests()
	require.Len(t, reqs, 1)
	last := reqs[0].Messages[len(reqs[0].Messages)-1].Content
	assert.Contains(t, last, "No reference passages were found.")
}

func TestResubmissionIsServedFromCache(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.llm.Delay = 30 * time.Millisecond })

	first := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))
	second := h.orch.Process(context.Background(), textQuery("  how do I control PESTS in tomato plants?", "en", "s1"))

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.AnswerText, second.AnswerText)
	assert.Less(t, second.ProcessingTimeMs, first.ProcessingTimeMs)
	assert.NotEqual(t, first.QueryID, second.QueryID)
	assert.Equal(t, "  how do I control PESTS in tomato plants?", second.Query)
	assert.Equal(t, message.StageCompleted, second.State)
	assert.Equal(t, 1, h.llm.Calls())

	// A cache hit is still a conversational turn.
	assert.Len(t, h.turns(t, "s1"), 2)
}

func TestCacheIsKeyedByLanguage(t *testing.T) {
	h := newHarness(t)

	h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))
	res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "mr", "s1"))

	require.True(t, res.Success)
	assert.False(t, res.FromCache)
	assert.Equal(t, "[mr] Spray neem oil on the leaves every week.", res.AnswerText)
	assert.Equal(t, 2, h.llm.Calls())
}

func TestFlushDuringQueryKeepsAnswerOutOfCache(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.llm.Reply = func(composer.Request) (string, error) {
			// Documents were re-ingested while the answer was being composed.
			assert.NoError(t, h.cache.Flush(context.Background()))
			return "Spray neem oil on the leaves every week [1].", nil
		}
	})

	res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, message.StageCompleted, res.State)
	assert.Zero(t, h.cache.Stats().Entries, "answer computed before the flush must not be cached")
	assert.Len(t, h.turns(t, "s1"), 1, "the turn is still recorded")

	again := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))
	require.True(t, again.Success)
	assert.False(t, again.FromCache)
	assert.Equal(t, 1, h.cache.Stats().Entries, "later queries cache normally")
}

func TestGenerationOutageWritesNoCache(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.llm = testutil.FailingLLM() })

	res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))

	assert.False(t, res.Success)
	assert.Equal(t, message.ErrorKindGenerationUnavailable, res.ErrorKind)
	assert.Equal(t, message.StageComposed, res.FailedStage)
	assert.Equal(t, message.StageFailed, res.State)
	assert.Equal(t, h.bridge.FailureMessage(context.Background(), "en", false), res.AnswerText)
	assert.Empty(t, res.Sources)
	assert.Empty(t, res.AudioURL)
	assert.Equal(t, 2, h.llm.Calls())

	_, ok, err := h.cache.Lookup(context.Background(), cache.Fingerprint(tomatoQuestion, "en"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.turns(t, "s1"))
}

func TestContextWindowIsBounded(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 7; i++ {
		res := h.orch.Process(context.Background(), textQuery(fmt.Sprintf("question number %d", i), "en", "s1"))
		require.True(t, res.Success)
	}

	turns := h.turns(t, "s1")
	require.Len(t, turns, session.DefaultWindow)
	for i, turn := range turns {
		assert.Equal(t, fmt.Sprintf("question number %d", i+2), turn.Question)
		assert.Equal(t, "en", turn.Language)
	}

	// The last composition saw the five previous turns plus the question.
	reqs := h.llm.Requests()
	last := reqs[len(reqs)-1]
	assert.Len(t, last.Messages, 2*session.DefaultWindow+1)
	assert.Equal(t, "question number 1", last.Messages[0].Content)
}

func TestRetrievedSourcesAreCitedAndTruncated(t *testing.T) {
	long := "Tomato pest control: " + strings.Repeat("spray neem oil in the evening ", 12)
	h := newHarness(t, func(h *harness) {
		h.llm = testutil.NewLLM("Use neem oil [2] and remove infested leaves [1, 3].")
	})
	h.addDocs(t,
		retriever.Document{ID: "a#0", Text: long, Source: "tomato.md"},
		retriever.Document{ID: "b#0", Text: "Neem oil controls tomato pest outbreaks.", Source: "neem.md"},
		retriever.Document{ID: "c#0", Text: "Tomato pest scouting each week.", Source: "scouting.md"},
		retriever.Document{ID: "d#0", Text: "Sow wheat in November.", Source: "wheat.md"},
	)

	res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))

	require.True(t, res.Success)
	assert.False(t, res.RetrievalDegraded)
	assert.Equal(t, "Use neem oil and remove infested leaves.", res.AnswerText)
	require.Len(t, res.Sources, 3)
	for _, s := range res.Sources {
		assert.NotEqual(t, "wheat.md", s.Source)
		assert.LessOrEqual(t, len([]rune(s.Text)), DefaultSnippetChars+3)
	}
	var truncated bool
	for _, s := range res.Sources {
		if s.Source == "tomato.md" {
			truncated = true
			assert.True(t, strings.HasSuffix(s.Text, "..."))
			assert.Len(t, []rune(s.Text), DefaultSnippetChars+3)
		}
	}
	assert.True(t, truncated)
}

func TestVoiceQueryInRegionalLanguage(t *testing.T) {
	hindiQuestion := "टमाटर के पौधों में कीट कैसे नियंत्रित करें?"
	hindiAnswer := "हर हफ्ते पत्तियों पर नीम का तेल छिड़कें।"
	h := newHarness(t, func(h *harness) {
		h.transcriber = &testutil.Transcriber{Text: hindiQuestion, Language: "hi"}
		h.translator = testutil.NewTranslator(map[string]string{
			"hi>en:" + hindiQuestion:                         tomatoQuestion,
			"en>hi:Spray neem oil on the leaves every week.": hindiAnswer,
		})
	})

	res := h.orch.Process(context.Background(), &message.Query{
		Audio:       []byte("RIFF....WAVE"),
		ContentType: "audio/wav",
		Language:    "auto",
		SessionID:   "farmer-1",
	})

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, hindiQuestion, res.TranscribedText)
	assert.Empty(t, res.Query)
	assert.Equal(t, "hi", res.Language)
	assert.Equal(t, "hi", res.DetectedLanguage)
	assert.Equal(t, tomatoQuestion, res.PivotQuery)
	assert.Equal(t, hindiAnswer, res.AnswerText)
	assert.Equal(t, "/audio/"+voice.AudioKey(hindiAnswer, "hi")+".wav", res.AudioURL)
	assert.Equal(t, "pest_control", res.Intent)

	turns := h.turns(t, "farmer-1")
	require.Len(t, turns, 1)
	assert.Equal(t, tomatoQuestion, turns[0].Question)
	assert.Equal(t, "hi", turns[0].Language)
}

func TestCorruptOrEmptyVoiceQueryAppendsNothing(t *testing.T) {
	tests := []struct {
		name        string
		audio       []byte
		transcriber *testutil.Transcriber
		kind        message.ErrorKind
	}{
		{"silence", []byte("RIFF"), &testutil.Transcriber{Text: "  "}, message.ErrorKindEmptyInput},
		{"corrupt", []byte{0x00, 0x01}, &testutil.Transcriber{Err: errors.New("invalid file format")}, message.ErrorKindASRUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(h *harness) { h.transcriber = tt.transcriber })

			res := h.orch.Process(context.Background(), &message.Query{Audio: tt.audio, ContentType: "audio/wav", Language: "en", SessionID: "s1"})

			assert.False(t, res.Success)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Equal(t, message.StageTranscribed, res.FailedStage)
			assert.NotEmpty(t, res.AnswerText)
			assert.Empty(t, h.turns(t, "s1"))
			assert.Zero(t, h.llm.Calls())
		})
	}
}

func TestInvalidQueries(t *testing.T) {
	h := newHarness(t)

	both := h.orch.Process(context.Background(), &message.Query{Text: "hi", Audio: []byte("x")})
	assert.Equal(t, message.ErrorKindInvalidInput, both.ErrorKind)
	assert.Equal(t, message.StageReceived, both.FailedStage)

	neither := h.orch.Process(context.Background(), &message.Query{Text: "   "})
	assert.Equal(t, message.ErrorKindEmptyInput, neither.ErrorKind)
	assert.NotEmpty(t, neither.SessionID, "session IDs are assigned when absent")
	assert.Zero(t, h.llm.Calls())
}

func TestTranslationFailures(t *testing.T) {
	hindiQuestion := "टमाटर में कीट"

	t.Run("to pivot", func(t *testing.T) {
		h := newHarness(t, func(h *harness) { h.translator.Fail = true })
		res := h.orch.Process(context.Background(), textQuery(hindiQuestion, "hi", "s1"))

		assert.False(t, res.Success)
		assert.Equal(t, message.ErrorKindTranslationUnavailable, res.ErrorKind)
		assert.Equal(t, message.StageLanguageNormalized, res.FailedStage)
		assert.Equal(t, h.bridge.FailureMessage(context.Background(), "hi", false), res.AnswerText)
		assert.NotEqual(t, h.bridge.FailureMessage(context.Background(), "en", false), res.AnswerText)
		assert.Zero(t, h.llm.Calls())
	})

	t.Run("back to the requested language", func(t *testing.T) {
		h := newHarness(t, func(h *harness) { h.translator.FailTo = "hi" })
		res := h.orch.Process(context.Background(), textQuery(hindiQuestion, "hi", "s1"))

		assert.False(t, res.Success)
		assert.Equal(t, message.ErrorKindTranslationUnavailable, res.ErrorKind)
		assert.Equal(t, message.StageLocalizedBack, res.FailedStage)
		assert.Empty(t, res.PivotAnswer)
		assert.Equal(t, 1, h.llm.Calls())
		assert.Zero(t, h.cache.Stats().Entries)
		assert.Empty(t, h.turns(t, "s1"))
	})

	t.Run("pivot language needs no translator", func(t *testing.T) {
		h := newHarness(t, func(h *harness) { h.translator.Fail = true })
		res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))
		assert.True(t, res.Success)
	})
}

func TestSynthesisFailureIsSoft(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.synth = &testutil.Synthesizer{Err: errors.New("piper down")} })

	res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))

	require.True(t, res.Success)
	assert.True(t, res.SynthesisFailed)
	assert.Contains(t, res.Warnings, message.ErrorKindTTSUnavailable)
	assert.Empty(t, res.AudioURL)
	assert.NotEmpty(t, res.AnswerText)
	assert.Equal(t, 1, h.cache.Stats().Entries, "text-complete answers are cached")
}

func TestLanguagesWithoutVoiceGetNoAudio(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "mr", "s1"))

	require.True(t, res.Success)
	assert.Empty(t, res.AudioURL)
	assert.False(t, res.SynthesisFailed)
	assert.Zero(t, h.synth.Calls())
}

func TestCancelledQueryCommitsNothing(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.llm.Delay = time.Second })
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := h.orch.Process(ctx, textQuery(tomatoQuestion, "en", "s1"))

	assert.False(t, res.Success)
	assert.Equal(t, message.ErrorKindCancelled, res.ErrorKind)
	assert.Equal(t, message.StageComposed, res.FailedStage)
	assert.NotEmpty(t, res.AnswerText)
	assert.Zero(t, h.cache.Stats().Entries)
	assert.Empty(t, h.turns(t, "s1"))
}

func TestIntentFailureDegrades(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.classifier = panickingClassifier{} })

	res := h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))

	require.True(t, res.Success)
	assert.Equal(t, intent.General, res.Intent)
	assert.True(t, res.IntentDegraded)
}

func TestHistoryIsRecorded(t *testing.T) {
	h := newHarness(t)

	h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "s1"))
	h.orch.Process(context.Background(), &message.Query{})

	for i := 0; i < 2; i++ {
		select {
		case <-h.history.done:
		case <-time.After(time.Second):
			t.Fatal("history was not recorded")
		}
	}
	assert.Equal(t, 2, h.history.len())
}

func TestConcurrentIdenticalQueries(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	results := make([]*message.QueryResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.orch.Process(context.Background(), textQuery(tomatoQuestion, "en", "shared"))
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.True(t, res.Success)
		assert.Equal(t, "Spray neem oil on the leaves every week.", res.AnswerText)
	}
	assert.Equal(t, 1, h.cache.Stats().Entries)
	assert.Len(t, h.turns(t, "shared"), session.DefaultWindow)
}
