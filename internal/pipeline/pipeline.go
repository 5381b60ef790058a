// Package pipeline implements the core query engine.
//
// The orchestrator receives queries from transports and runs them through
// the stages transcribe → normalize language → check cache → retrieve (with
// intent classification alongside) → compose → localize → synthesize, then
// commits the answer to the response cache and the conversation context.
// The caller always receives a result: failures are captured in it, never
// returned or panicked.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nadzzz/agrivoice/internal/cache"
	"github.com/nadzzz/agrivoice/internal/intent"
	"github.com/nadzzz/agrivoice/internal/language"
	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/metrics"
	"github.com/nadzzz/agrivoice/internal/session"
)

const (
	DefaultMaxSources   = 3
	DefaultSnippetChars = 200
	DefaultCacheTimeout = 2 * time.Second

	historyTimeout = 5 * time.Second
)

var errNoVoice = errors.New("voice input is not configured")

// Bridge translates between the caller's language and the pivot language.
type Bridge interface {
	Pivot() string
	ToPivot(ctx context.Context, text, hint string) (*message.PivotQuestion, error)
	FromPivot(ctx context.Context, text, target string) (string, error)
	FailureMessage(ctx context.Context, lang string, allowTranslate bool) string
}

// Retriever returns the passages relevant to a pivot-language question.
type Retriever interface {
	Retrieve(ctx context.Context, text string, k int) ([]message.Passage, error)
}

// Composer writes a grounded pivot-language answer.
type Composer interface {
	Compose(ctx context.Context, question string, passages []message.Passage, turns []message.Turn) (*message.ComposedAnswer, error)
}

// Classifier labels a pivot-language question.
type Classifier interface {
	Classify(text string) intent.Result
}

// Voice transcribes spoken questions and speaks answers.
type Voice interface {
	Transcribe(ctx context.Context, audio []byte, contentType, languageHint string) (*message.Transcript, error)
	Synthesize(ctx context.Context, text, lang string) (string, error)
	SupportsLanguage(lang string) bool
}

// Recorder persists finished queries.
type Recorder interface {
	Record(ctx context.Context, q *message.Query, r *message.QueryResult) error
}

// Deps are the collaborators of an Orchestrator. Voice, History and Metrics are optional.
type Deps struct {
	Bridge     Bridge
	Retriever  Retriever
	Composer   Composer
	Classifier Classifier
	Sessions   session.Store
	Cache      cache.Cache
	Voice      Voice
	History    Recorder
	Metrics    *metrics.PipelineMetrics
}

// Options tunes an Orchestrator. Zero values take the package defaults.
type Options struct {
	TopK         int
	MaxSources   int
	SnippetChars int
	CacheTTL     time.Duration
	CacheTimeout time.Duration
}

// Orchestrator sequences the pipeline stages for one query at a time; it is
// safe for concurrent use.
type Orchestrator struct {
	deps   Deps
	opts   Options
	tracer trace.Tracer
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	switch {
	case deps.Bridge == nil:
		panic("pipeline: language bridge required")
	case deps.Retriever == nil:
		panic("pipeline: retriever required")
	case deps.Composer == nil:
		panic("pipeline: composer required")
	case deps.Sessions == nil:
		panic("pipeline: session store required")
	case deps.Cache == nil:
		panic("pipeline: cache required")
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewDefault()
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = DefaultMaxSources
	}
	if opts.SnippetChars <= 0 {
		opts.SnippetChars = DefaultSnippetChars
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = DefaultCacheTimeout
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		tracer: otel.Tracer("agrivoice.internal.pipeline"),
	}
}

// Handle processes a query; it is passed as the transport.Handler to each transport.
func (o *Orchestrator) Handle(ctx context.Context, q *message.Query) *message.QueryResult {
	return o.Process(ctx, q)
}

// Process runs q through the pipeline. It never panics and never returns nil.
func (o *Orchestrator) Process(ctx context.Context, in *message.Query) (result *message.QueryResult) {
	var q message.Query
	if in != nil {
		q = *in
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.SessionID == "" {
		q.SessionID = uuid.NewString()
	}
	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = time.Now()
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("query_id", q.ID),
		attribute.String("session_id", q.SessionID),
	))
	defer span.End()

	r := &run{
		o:     o,
		q:     &q,
		start: time.Now(),
		stage: message.StageReceived,
		log:   slog.With("query_id", q.ID, "session_id", q.SessionID, "source", q.Source),
		res: &message.QueryResult{
			QueryID:   q.ID,
			SessionID: q.SessionID,
			Sources:   []message.Source{},
			State:     message.StageReceived,
		},
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("pipeline panic", "stage", r.stage, "panic", p)
			r.fail(ctx, message.NewError(message.ErrorKindInternal, r.stage, fmt.Errorf("panic: %v", p)))
		}
		r.finish(ctx)
		span.SetAttributes(
			attribute.Bool("success", r.res.Success),
			attribute.Bool("from_cache", r.res.FromCache),
			attribute.String("error_kind", string(r.res.ErrorKind)),
		)
		result = r.res
	}()

	r.log.Debug("query received", "voice", q.HasAudio(), "language", q.Language)
	r.execute(ctx)
	return r.res
}

// run is the state of one query.
type run struct {
	o     *Orchestrator
	q     *message.Query
	res   *message.QueryResult
	start time.Time
	stage message.Stage
	log   *slog.Logger

	// respLang is the language the answer is rendered in.
	respLang string
}

func (r *run) execute(ctx context.Context) {
	deps := r.o.deps

	if err := r.q.Validate(); err != nil {
		r.fail(ctx, err)
		return
	}

	// Transcribed
	text, hint := r.q.Text, r.q.Language
	detected := ""
	if r.q.HasAudio() {
		err := r.step(ctx, message.StageTranscribed, func(ctx context.Context) error {
			if deps.Voice == nil {
				return message.NewError(message.ErrorKindASRUnavailable, message.StageTranscribed, errNoVoice)
			}
			tr, err := deps.Voice.Transcribe(ctx, r.q.Audio, r.q.ContentType, r.q.Language)
			if err != nil {
				return err
			}
			text = tr.Text
			detected = language.Normalize(tr.DetectedLanguage)
			r.res.TranscribedText = tr.Text
			if r.q.AutoDetect() && detected != "" {
				hint = detected
			}
			return nil
		})
		if err != nil {
			r.fail(ctx, err)
			return
		}
	} else {
		r.res.Query = r.q.Text
		text = strings.TrimSpace(text)
	}

	// LanguageNormalized
	var pq *message.PivotQuestion
	err := r.step(ctx, message.StageLanguageNormalized, func(ctx context.Context) error {
		// Pivot-language questions pass through the bridge untranslated,
		// so any error here means a real translation was needed.
		p, err := deps.Bridge.ToPivot(ctx, text, hint)
		if err != nil {
			return err
		}
		pq = p
		return nil
	})
	if err != nil {
		r.fail(ctx, err)
		return
	}

	r.respLang = language.Normalize(r.q.Language)
	if r.q.AutoDetect() {
		r.respLang = pq.OriginalLanguage
		detected = pq.OriginalLanguage
	}
	r.res.Language = r.respLang
	r.res.DetectedLanguage = detected
	r.res.PivotQuery = pq.PivotText

	// CacheChecked. The generation is read before the lookup so a flush
	// during this run keeps the answer out of the cache.
	fingerprint := cache.Fingerprint(pq.PivotText, r.respLang)
	var (
		hit        *message.CacheEntry
		generation uint64
		cacheable  bool
	)
	_ = r.step(ctx, message.StageCacheChecked, func(ctx context.Context) error {
		generation, cacheable = r.generation(ctx)
		hit = r.lookup(ctx, fingerprint)
		return nil
	})
	if hit != nil {
		r.serveCached(ctx, hit)
		return
	}

	// Retrieved, with intent classification and context loading alongside.
	var (
		passages       []message.Passage
		retrievalErr   error
		classified     intent.Result
		intentDegraded bool
		turns          []message.Turn
	)
	err = r.step(ctx, message.StageRetrieved, func(ctx context.Context) error {
		var g errgroup.Group
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					r.log.Warn("intent classification failed", "panic", p)
					classified = intent.Result{Intent: intent.General}
					intentDegraded = true
				}
			}()
			classified = deps.Classifier.Classify(pq.PivotText)
			return nil
		})
		g.Go(func() error {
			passages, retrievalErr = deps.Retriever.Retrieve(ctx, pq.PivotText, r.o.opts.TopK)
			return nil
		})
		g.Go(func() error {
			turns = r.recentTurns(ctx)
			return nil
		})
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return message.NewError(message.ErrorKindCancelled, message.StageRetrieved, err)
		}
		return nil
	})
	if err != nil {
		r.fail(ctx, err)
		return
	}
	if retrievalErr != nil {
		passages = nil
		r.soft(message.ErrorKindRetrievalDegraded, retrievalErr)
		r.res.RetrievalDegraded = true
	}
	r.res.Intent = classified.Intent
	r.res.IntentConfidence = classified.Confidence
	r.res.Entities = classified.Entities
	if intentDegraded {
		r.res.IntentDegraded = true
		r.o.deps.Metrics.ObserveSoftFailure("intent_degraded")
	}
	r.log.Debug("retrieval complete", "passages", len(passages), "turns", len(turns), "intent", classified.Intent)

	// Composed
	var answer *message.ComposedAnswer
	err = r.step(ctx, message.StageComposed, func(ctx context.Context) error {
		a, err := deps.Composer.Compose(ctx, pq.PivotText, passages, turns)
		answer = a
		return err
	})
	if err != nil {
		r.fail(ctx, err)
		return
	}

	// LocalizedBack
	var localized string
	err = r.step(ctx, message.StageLocalizedBack, func(ctx context.Context) error {
		t, err := deps.Bridge.FromPivot(ctx, answer.PivotAnswerText, r.respLang)
		localized = t
		return err
	})
	if err != nil {
		r.fail(ctx, err)
		return
	}

	r.res.Success = true
	r.res.AnswerText = localized
	r.res.PivotAnswer = answer.PivotAnswerText
	r.res.Sources = r.o.sources(passages, answer.UsedPassageIDs)

	// Synthesized. Languages without a voice get no audio and no failure flag.
	if deps.Voice != nil && deps.Voice.SupportsLanguage(r.respLang) {
		_ = r.step(ctx, message.StageSynthesized, func(ctx context.Context) error {
			url, err := deps.Voice.Synthesize(ctx, localized, r.respLang)
			if err != nil {
				// Soft failure: the text answer stands, so the state still
				// advances to synthesized with SynthesisFailed set.
				r.soft(message.ErrorKindTTSUnavailable, err)
				r.res.SynthesisFailed = true
				return nil
			}
			r.res.AudioURL = url
			return nil
		})
	}

	// Cached, then the turn is appended. An abandoned request commits nothing.
	if err := ctx.Err(); err != nil {
		r.fail(ctx, message.NewError(message.ErrorKindCancelled, message.StageCached, err))
		return
	}
	commitCtx := context.WithoutCancel(ctx)
	_ = r.step(commitCtx, message.StageCached, func(ctx context.Context) error {
		if cacheable {
			r.store(ctx, fingerprint, generation)
		}
		return nil
	})
	r.appendTurn(commitCtx)
	r.complete()
}

// serveCached completes the query from a cache entry.
func (r *run) serveCached(ctx context.Context, hit *message.CacheEntry) {
	res := hit.Result.Clone()
	res.QueryID = r.res.QueryID
	res.SessionID = r.res.SessionID
	res.Query = r.res.Query
	res.TranscribedText = r.res.TranscribedText
	res.DetectedLanguage = r.res.DetectedLanguage
	res.Success = true
	res.FromCache = true
	r.res = res

	if err := ctx.Err(); err != nil {
		r.fail(ctx, message.NewError(message.ErrorKindCancelled, message.StageCacheChecked, err))
		return
	}
	r.appendTurn(context.WithoutCancel(ctx))
	r.log.Debug("served from cache", "created_at", hit.CreatedAt)
	r.complete()
}

// step runs fn as stage: it is traced, timed and logged, and the result state
// advances only when fn succeeds.
func (r *run) step(ctx context.Context, stage message.Stage, fn func(ctx context.Context) error) error {
	r.stage = stage
	ctx, span := r.o.tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.o.deps.Metrics.ObserveStage(string(stage), time.Since(start))
	if err != nil {
		span.RecordError(err)
		return err
	}
	r.res.State = stage
	r.log.Debug("pipeline transition", "state", stage, "duration", time.Since(start))
	return nil
}

func (r *run) lookup(ctx context.Context, fingerprint string) *message.CacheEntry {
	ctx, cancel := context.WithTimeout(ctx, r.o.opts.CacheTimeout)
	defer cancel()
	entry, ok, err := r.o.deps.Cache.Lookup(ctx, fingerprint)
	if err != nil {
		r.log.Warn("cache lookup failed, treating as miss", "error", err)
		ok = false
	}
	r.o.deps.Metrics.ObserveCacheLookup(ok)
	if !ok {
		return nil
	}
	return entry
}

// generation reports the cache generation, or false when it cannot be read
// and the answer must not be stored.
func (r *run) generation(ctx context.Context) (uint64, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.o.opts.CacheTimeout)
	defer cancel()
	gen, err := r.o.deps.Cache.Generation(ctx)
	if err != nil {
		r.log.Warn("reading cache generation failed, answer will not be cached", "error", err)
		return 0, false
	}
	return gen, true
}

func (r *run) store(ctx context.Context, fingerprint string, generation uint64) {
	ctx, cancel := context.WithTimeout(ctx, r.o.opts.CacheTimeout)
	defer cancel()
	stored := r.res.Clone()
	stored.State = message.StageCompleted
	err := r.o.deps.Cache.Store(ctx, fingerprint, stored, r.o.opts.CacheTTL, generation)
	switch {
	case errors.Is(err, cache.ErrStale):
		r.log.Info("cache flushed during query, answer not cached")
	case err != nil:
		r.log.Warn("cache store failed", "error", err)
	}
}

func (r *run) recentTurns(ctx context.Context) []message.Turn {
	turns, err := r.o.deps.Sessions.Recent(ctx, r.q.SessionID)
	if err != nil {
		r.log.Warn("loading conversation context failed", "error", err)
		return nil
	}
	return turns
}

func (r *run) appendTurn(ctx context.Context) {
	turn := message.Turn{
		SessionID: r.q.SessionID,
		Question:  r.res.PivotQuery,
		Answer:    r.res.PivotAnswer,
		Language:  r.res.Language,
		Intent:    r.res.Intent,
		At:        time.Now(),
	}
	if turn.Answer == "" {
		turn.Answer = r.res.AnswerText
	}
	if err := r.o.deps.Sessions.Append(ctx, r.q.SessionID, turn); err != nil {
		r.log.Warn("appending conversation turn failed", "error", err)
	}
}

// soft records a degraded stage on the result.
func (r *run) soft(kind message.ErrorKind, err error) {
	r.log.Warn("stage degraded", "kind", kind, "stage", r.stage, "error", err)
	r.res.AddWarning(kind)
	r.o.deps.Metrics.ObserveSoftFailure(string(kind))
}

func (r *run) complete() {
	r.res.State = message.StageCompleted
	r.stage = message.StageCompleted
}

// fail turns the result into a hard failure. No partial answer survives.
func (r *run) fail(ctx context.Context, err error) {
	kind := message.KindOf(err)
	stage := message.StageOf(err, r.stage)

	res := r.res
	res.Success = false
	res.ErrorKind = kind
	res.FailedStage = stage
	res.ErrorMessage = describe(kind)
	res.State = message.StageFailed
	res.Sources = []message.Source{}
	res.AudioURL = ""
	res.PivotAnswer = ""
	res.FromCache = false
	res.AnswerText = r.o.deps.Bridge.FailureMessage(ctx, r.failureLanguage(), kind != message.ErrorKindTranslationUnavailable)

	switch kind {
	case message.ErrorKindEmptyInput, message.ErrorKindInvalidInput, message.ErrorKindCancelled:
		r.log.Warn("query failed", "kind", kind, "stage", stage, "error", err)
	default:
		r.log.Error("query failed", "kind", kind, "stage", stage, "error", err)
	}
}

func (r *run) failureLanguage() string {
	if !r.q.AutoDetect() {
		return language.Normalize(r.q.Language)
	}
	if r.respLang != "" {
		return r.respLang
	}
	return r.o.deps.Bridge.Pivot()
}

// finish stamps the latency, records metrics and hands the result to history.
func (r *run) finish(ctx context.Context) {
	elapsed := time.Since(r.start)
	r.res.ProcessingTimeMs = elapsed.Milliseconds()

	mode := "text"
	if r.q.HasAudio() {
		mode = "voice"
	}
	r.o.deps.Metrics.ObserveQuery(mode, r.res.Success, r.res.FromCache, string(r.res.ErrorKind), elapsed)
	r.log.Info("query processed",
		"success", r.res.Success,
		"state", r.res.State,
		"from_cache", r.res.FromCache,
		"intent", r.res.Intent,
		"sources", len(r.res.Sources),
		"duration", elapsed)

	if r.o.deps.History == nil {
		return
	}
	q, res := *r.q, r.res.Clone()
	go func() {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
		defer cancel()
		if err := r.o.deps.History.Record(hctx, &q, res); err != nil {
			slog.Warn("recording query history failed", "query_id", res.QueryID, "error", err)
		}
	}()
}

// sources maps the cited passage IDs to result sources, at most MaxSources.
func (o *Orchestrator) sources(passages []message.Passage, used []string) []message.Source {
	out := []message.Source{}
	byID := make(map[string]message.Passage, len(passages))
	for _, p := range passages {
		byID[p.DocumentID] = p
	}
	for _, id := range used {
		p, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, message.Source{
			Text:   snippet(p.Text, o.opts.SnippetChars),
			Source: p.SourceLabel,
			Score:  p.Score,
		})
		if len(out) == o.opts.MaxSources {
			break
		}
	}
	return out
}

func snippet(text string, n int) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

func describe(kind message.ErrorKind) string {
	switch kind {
	case message.ErrorKindEmptyInput:
		return "the question was empty"
	case message.ErrorKindInvalidInput:
		return "send either text or audio, not both"
	case message.ErrorKindASRUnavailable:
		return "speech recognition is unavailable"
	case message.ErrorKindTranslationUnavailable:
		return "translation is unavailable"
	case message.ErrorKindGenerationUnavailable:
		return "the answer service is unavailable"
	case message.ErrorKindTimeout:
		return "the request timed out"
	case message.ErrorKindCancelled:
		return "the request was cancelled"
	default:
		return "internal error"
	}
}
