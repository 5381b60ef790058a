// Package language bridges between the farmer's language and the pivot
// language used for retrieval and generation.
//
// The pivot language is an identity round-trip: questions already in the
// pivot language never reach the translation provider.
package language

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/language"

	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/retry"
)

// Translator is a machine-translation provider.
type Translator interface {
	// Name returns the backend identifier (e.g., "google").
	Name() string

	// Translate converts text from source to target (ISO-639-1 codes).
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Detector is implemented by translators that can identify a text's language.
type Detector interface {
	Detect(ctx context.Context, text string) (lang string, confidence float64, err error)
}

// Checker is implemented by providers that can report reachability.
type Checker interface {
	Check(ctx context.Context) error
}

// ErrNoTranslator is returned when a non-pivot language needs translation but no provider is configured.
var ErrNoTranslator = errors.New("no translation provider configured")

// Options tunes a Bridge.
type Options struct {
	Pivot     string
	Supported []string
	Retry     retry.Policy
}

// Bridge implements toPivot/fromPivot over a Translator.
type Bridge struct {
	translator Translator // nil when translation is disabled
	pivot      string
	supported  []string
	policy     retry.Policy
}

// NewBridge creates a Bridge. translator may be nil.
func NewBridge(translator Translator, opts Options) *Bridge {
	pivot := Normalize(opts.Pivot)
	if pivot == "" {
		pivot = "en"
	}
	supported := make([]string, 0, len(opts.Supported))
	for _, l := range opts.Supported {
		if n := Normalize(l); n != "" {
			supported = append(supported, n)
		}
	}
	if len(supported) == 0 {
		supported = []string{pivot}
	}
	return &Bridge{
		translator: translator,
		pivot:      pivot,
		supported:  supported,
		policy:     opts.Retry,
	}
}

// Pivot returns the pivot language code.
func (b *Bridge) Pivot() string { return b.pivot }

// SupportedLanguages returns the configured language codes.
func (b *Bridge) SupportedLanguages() []string {
	return append([]string(nil), b.supported...)
}

// IsPivot reports whether lang normalises to the pivot language.
func (b *Bridge) IsPivot(lang string) bool {
	return Normalize(lang) == b.pivot
}

// Detect identifies the language of text. Provider detection is preferred;
// the script heuristic is used when no provider is available or it fails.
func (b *Bridge) Detect(ctx context.Context, text string) string {
	if d, ok := b.translator.(Detector); ok {
		var lang string
		err := retry.Do(ctx, b.policy, "language.detect", func(ctx context.Context) error {
			l, _, err := d.Detect(ctx, text)
			lang = l
			return err
		})
		if err == nil && Normalize(lang) != "" {
			return Normalize(lang)
		}
		slog.Warn("language detection failed, using script heuristic", "error", err)
	}
	if lang := DetectScript(text); lang != "" {
		return lang
	}
	return b.pivot
}

// ToPivot normalises a question into the pivot language. Detection is
// consulted only when hint is empty or "auto"; explicit hints are trusted.
func (b *Bridge) ToPivot(ctx context.Context, text, hint string) (*message.PivotQuestion, error) {
	lang := Normalize(hint)
	if lang == "" || lang == message.AutoLanguage {
		lang = b.Detect(ctx, text)
	}

	pq := &message.PivotQuestion{
		OriginalText:     text,
		OriginalLanguage: lang,
	}
	if lang == b.pivot {
		pq.PivotText = text
		return pq, nil
	}

	translated, err := b.translate(ctx, text, lang, b.pivot, message.StageLanguageNormalized)
	if err != nil {
		return pq, err
	}
	pq.PivotText = translated
	return pq, nil
}

// FromPivot renders pivot-language text in target. Identity for the pivot language.
func (b *Bridge) FromPivot(ctx context.Context, text, target string) (string, error) {
	lang := Normalize(target)
	if lang == "" || lang == message.AutoLanguage || lang == b.pivot {
		return text, nil
	}
	return b.translate(ctx, text, b.pivot, lang, message.StageLocalizedBack)
}

func (b *Bridge) translate(ctx context.Context, text, source, target string, stage message.Stage) (string, error) {
	if b.translator == nil {
		return "", message.NewError(message.ErrorKindTranslationUnavailable, stage, ErrNoTranslator)
	}

	var out string
	err := retry.Do(ctx, b.policy, "language.translate", func(ctx context.Context) error {
		res, err := b.translator.Translate(ctx, text, source, target)
		if err != nil {
			return err
		}
		if strings.TrimSpace(res) == "" {
			return fmt.Errorf("empty translation from %s", b.translator.Name())
		}
		out = res
		return nil
	})
	if err != nil {
		return "", message.NewError(message.ErrorKindTranslationUnavailable, stage,
			fmt.Errorf("translating %s->%s: %w", source, target, err))
	}
	return out, nil
}

// Check reports translation provider reachability.
func (b *Bridge) Check(ctx context.Context) error {
	if b.translator == nil {
		return ErrNoTranslator
	}
	if c, ok := b.translator.(Checker); ok {
		return c.Check(ctx)
	}
	for _, l := range b.supported {
		if l != b.pivot {
			_, err := b.translator.Translate(ctx, "hello", b.pivot, l)
			return err
		}
	}
	return nil
}

// fullNames maps language names returned by some providers to ISO-639-1 codes.
var fullNames = map[string]string{
	"english":   "en",
	"hindi":     "hi",
	"tamil":     "ta",
	"telugu":    "te",
	"kannada":   "kn",
	"malayalam": "ml",
	"marathi":   "mr",
	"bengali":   "bn",
	"bangla":    "bn",
	"gujarati":  "gu",
	"punjabi":   "pa",
	"panjabi":   "pa",
	"urdu":      "ur",
	"french":    "fr",
	"spanish":   "es",
	"german":    "de",
}

// Normalize converts a language hint to its base ISO-639-1 code.
// "hi-IN" becomes "hi", "English" becomes "en". "auto" and "" pass through.
func Normalize(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "" || c == message.AutoLanguage {
		return c
	}
	if iso, ok := fullNames[c]; ok {
		return iso
	}
	tag, err := language.Parse(c)
	if err != nil {
		return c
	}
	base, _ := tag.Base()
	return base.String()
}
