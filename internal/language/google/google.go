// Package google implements the language.Translator interface using the
// Google Cloud Translation v2 API.
package google

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"google.golang.org/api/option"
	translate "google.golang.org/api/translate/v2"

	"github.com/nadzzz/agrivoice/internal/config"
)

// Translator uses Cloud Translation for translation and detection.
type Translator struct {
	svc *translate.Service
}

// New creates a Cloud Translation client. Extra options are appended after
// the API key (e.g., option.WithEndpoint for an emulator).
func New(ctx context.Context, cfg config.GoogleTranslateConfig, opts ...option.ClientOption) (*Translator, error) {
	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := translate.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating translate service: %w", err)
	}
	return &Translator{svc: svc}, nil
}

// Name returns the backend identifier.
func (t *Translator) Name() string { return "google" }

// Translate converts text from source to target.
func (t *Translator) Translate(ctx context.Context, text, source, target string) (string, error) {
	resp, err := t.svc.Translations.List([]string{text}, target).
		Source(source).
		Format("text").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("google translate: %w", err)
	}
	if len(resp.Translations) == 0 {
		return "", fmt.Errorf("google translate: no translations returned")
	}

	out := html.UnescapeString(resp.Translations[0].TranslatedText)
	slog.Debug("google translation complete", "source", source, "target", target, "chars", len(out))
	return out, nil
}

// Detect identifies the language of text.
func (t *Translator) Detect(ctx context.Context, text string) (string, float64, error) {
	resp, err := t.svc.Detections.List([]string{text}).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("google detect: %w", err)
	}
	if len(resp.Detections) == 0 || len(resp.Detections[0]) == 0 {
		return "", 0, fmt.Errorf("google detect: no detections returned")
	}
	d := resp.Detections[0][0]
	return d.Language, d.Confidence, nil
}

// Check lists supported languages as a reachability check.
func (t *Translator) Check(ctx context.Context) error {
	if _, err := t.svc.Languages.List().Target("en").Context(ctx).Do(); err != nil {
		return fmt.Errorf("google translate unreachable: %w", err)
	}
	return nil
}
