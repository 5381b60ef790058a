package message

import (
	"context"
	"errors"
	"fmt"
)

// Stage is a pipeline state.
type Stage string

const (
	StageReceived           Stage = "received"
	StageTranscribed        Stage = "transcribed"
	StageLanguageNormalized Stage = "language_normalized"
	StageCacheChecked       Stage = "cache_checked"
	StageRetrieved          Stage = "retrieved"
	StageComposed           Stage = "composed"
	StageLocalizedBack      Stage = "localized_back"
	StageSynthesized        Stage = "synthesized"
	StageCached             Stage = "cached"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	ErrorKindNone                   ErrorKind = ""
	ErrorKindEmptyInput             ErrorKind = "empty_input"
	ErrorKindInvalidInput           ErrorKind = "invalid_input"
	ErrorKindASRUnavailable         ErrorKind = "asr_unavailable"
	ErrorKindTranslationUnavailable ErrorKind = "translation_unavailable"
	ErrorKindGenerationUnavailable  ErrorKind = "generation_unavailable"
	ErrorKindTTSUnavailable         ErrorKind = "tts_unavailable"
	ErrorKindRetrievalDegraded      ErrorKind = "retrieval_degraded"
	ErrorKindTimeout                ErrorKind = "timeout"
	ErrorKindCancelled              ErrorKind = "cancelled"
	ErrorKindInternal               ErrorKind = "internal_error"
)

// Soft reports whether the kind degrades a result without aborting it.
func (k ErrorKind) Soft() bool {
	return k == ErrorKindTTSUnavailable || k == ErrorKindRetrievalDegraded
}

var (
	errBothInputs = errors.New("query carries both text and audio")
	errNoInput    = errors.New("query carries neither text nor audio")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s at %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a pipeline failure of the given kind. Deadline and
// cancellation errors override kind with timeout and cancelled.
func NewError(kind ErrorKind, stage Stage, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		kind = ErrorKindCancelled
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Timeout builds the timeout failure for stage.
func Timeout(stage Stage) *Error {
	return &Error{Kind: ErrorKindTimeout, Stage: stage, Err: context.DeadlineExceeded}
}

// KindOf extracts the ErrorKind carried by err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	}
	return ErrorKindInternal
}

// StageOf extracts the failing stage carried by err, or fallback.
func StageOf(err error, fallback Stage) Stage {
	var perr *Error
	if errors.As(err, &perr) && perr.Stage != "" {
		return perr.Stage
	}
	return fallback
}
