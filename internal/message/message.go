// Package message defines the core data types flowing through the agrivoice pipeline.
package message

import (
	"strings"
	"time"
)

// AutoLanguage marks a query whose language should be detected.
const AutoLanguage = "auto"

// Query represents an incoming question from any transport.
type Query struct {
	// ID is a unique identifier for this query (UUID).
	ID string `json:"id"`

	// Text is the typed question. Mutually exclusive with Audio.
	Text string `json:"text,omitempty"`

	// Audio is the raw spoken question. Mutually exclusive with Text.
	Audio []byte `json:"audio,omitempty"`

	// ContentType is the MIME type of the audio (e.g., "audio/wav", "audio/ogg").
	ContentType string `json:"content_type,omitempty"`

	// Language is the requested ISO-639-1 code, or "auto"/empty for detection.
	Language string `json:"language,omitempty"`

	// SessionID groups turns of one conversation. Assigned when empty.
	SessionID string `json:"session_id,omitempty"`

	// UserID optionally identifies the farmer.
	UserID string `json:"user_id,omitempty"`

	// Source identifies the transport the query arrived on.
	Source string `json:"source,omitempty"`

	// ReceivedAt is when the query entered the pipeline.
	ReceivedAt time.Time `json:"received_at"`
}

// HasAudio returns true if the query contains an audio payload.
func (q *Query) HasAudio() bool {
	return len(q.Audio) > 0
}

// IsVoice reports whether the query should run through transcription.
func (q *Query) IsVoice() bool {
	return q.HasAudio() || (q.ContentType != "" && q.Text == "")
}

// Validate checks that exactly one of Text and Audio is present.
func (q *Query) Validate() error {
	hasText := strings.TrimSpace(q.Text) != ""
	switch {
	case hasText && q.HasAudio():
		return &Error{Kind: ErrorKindInvalidInput, Stage: StageReceived, Err: errBothInputs}
	case !hasText && !q.HasAudio():
		return &Error{Kind: ErrorKindEmptyInput, Stage: StageReceived, Err: errNoInput}
	}
	return nil
}

// AutoDetect reports whether the requested language asks for detection.
func (q *Query) AutoDetect() bool {
	l := strings.TrimSpace(strings.ToLower(q.Language))
	return l == "" || l == AutoLanguage
}

// Transcript is the output of speech-to-text. It is not persisted beyond the turn.
type Transcript struct {
	Text             string  `json:"text"`
	DetectedLanguage string  `json:"detected_language"`
	Confidence       float64 `json:"confidence"`
}

// PivotQuestion is a question normalised to the pivot language.
type PivotQuestion struct {
	OriginalText     string `json:"original_text"`
	OriginalLanguage string `json:"original_language"`
	PivotText        string `json:"pivot_text"`
}

// Passage is a document chunk returned by the retriever.
type Passage struct {
	DocumentID  string  `json:"document_id"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	SourceLabel string  `json:"source_label"`
}

// ComposedAnswer is the generative model's grounded answer in the pivot language.
type ComposedAnswer struct {
	PivotAnswerText string        `json:"pivot_answer_text"`
	UsedPassageIDs  []string      `json:"used_passage_ids"`
	ModelLatency    time.Duration `json:"model_latency"`
}

// Turn is one question/answer pair within a conversation session, in the
// pivot language. Turns are append-only and never edited.
type Turn struct {
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Language  string    `json:"language"`
	Intent    string    `json:"intent,omitempty"`
	At        time.Time `json:"at"`
}

// Source is a cited passage as shown to the caller.
type Source struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// CacheEntry is an immutable cached response.
type CacheEntry struct {
	Fingerprint string      `json:"fingerprint"`
	Result      QueryResult `json:"result"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// QueryResult is the externally visible outcome of processing a query.
type QueryResult struct {
	Success bool   `json:"success"`
	QueryID string `json:"query_id"`

	// Query is set for text queries, TranscribedText for voice queries.
	Query           string `json:"query,omitempty"`
	TranscribedText string `json:"transcribed_text,omitempty"`

	Language         string `json:"language"`
	DetectedLanguage string `json:"detected_language,omitempty"`

	AnswerText string `json:"answer_text"`
	AudioURL   string `json:"audio_url,omitempty"`

	// PivotQuery and PivotAnswer are the question and answer in the pivot language.
	PivotQuery  string `json:"pivot_query,omitempty"`
	PivotAnswer string `json:"pivot_answer,omitempty"`

	Intent           string              `json:"intent,omitempty"`
	IntentConfidence float64             `json:"intent_confidence,omitempty"`
	Entities         map[string][]string `json:"entities,omitempty"`

	// Sources is always encoded as an array, empty when nothing was cited.
	Sources []Source `json:"sources"`

	SessionID        string `json:"session_id"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	FromCache        bool   `json:"from_cache"`

	RetrievalDegraded bool        `json:"retrieval_degraded,omitempty"`
	SynthesisFailed   bool        `json:"synthesis_failed,omitempty"`
	IntentDegraded    bool        `json:"intent_degraded,omitempty"`
	Warnings          []ErrorKind `json:"warnings,omitempty"`

	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	FailedStage  Stage     `json:"failed_stage,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	State Stage `json:"state"`
}

// AddWarning records a soft failure once.
func (r *QueryResult) AddWarning(kind ErrorKind) {
	for _, k := range r.Warnings {
		if k == kind {
			return
		}
	}
	r.Warnings = append(r.Warnings, kind)
}

// Clone returns a deep copy safe to mutate independently.
func (r *QueryResult) Clone() *QueryResult {
	c := *r
	if r.Sources != nil {
		c.Sources = append([]Source(nil), r.Sources...)
	}
	if r.Warnings != nil {
		c.Warnings = append([]ErrorKind(nil), r.Warnings...)
	}
	if r.Entities != nil {
		c.Entities = make(map[string][]string, len(r.Entities))
		for k, v := range r.Entities {
			c.Entities[k] = append([]string(nil), v...)
		}
	}
	return &c
}
