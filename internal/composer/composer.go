// Package composer turns a pivot-language question and its retrieved
// passages into a grounded answer using a chat LLM.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/retry"
)

// ErrEmptyAnswer is returned when the model produces no text.
var ErrEmptyAnswer = errors.New("model returned an empty answer")

// Role is a chat participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of the prompt conversation.
type ChatMessage struct {
	Role    Role
	Content string
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Response is a provider-neutral completion.
type Response struct {
	Text       string
	StopReason string
}

// LLM is a chat completion backend.
type LLM interface {
	// Name returns the backend identifier (e.g., "openai", "local", "gemini", "bedrock").
	Name() string

	// Complete runs one chat completion.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Checker is implemented by backends that can report reachability cheaply.
type Checker interface {
	Check(ctx context.Context) error
}

// Options tunes generation.
type Options struct {
	Model        string
	MaxTokens    int
	Temperature  float32
	TopP         float32
	MaxPassages  int
	PassageChars int
	Retry        retry.Policy
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{
		MaxTokens:    300,
		Temperature:  0.3,
		TopP:         0.85,
		MaxPassages:  3,
		PassageChars: 500,
		Retry:        retry.Policy{Attempts: 2, BaseDelay: 500 * time.Millisecond},
	}
}

// Composer builds prompts and parses cited answers.
type Composer struct {
	llm  LLM
	opts Options
}

// New creates a Composer. Zero option fields take DefaultOptions values.
func New(llm LLM, opts Options) *Composer {
	def := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.TopP <= 0 {
		opts.TopP = def.TopP
	}
	if opts.MaxPassages <= 0 {
		opts.MaxPassages = def.MaxPassages
	}
	if opts.PassageChars <= 0 {
		opts.PassageChars = def.PassageChars
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = def.Retry
	}
	return &Composer{llm: llm, opts: opts}
}

// Name returns the backend identifier.
func (c *Composer) Name() string { return c.llm.Name() }

// Compose answers question from passages, continuing the conversation in
// turns (oldest first). Failures are *message.Error of kind
// generation_unavailable or timeout.
func (c *Composer) Compose(ctx context.Context, question string, passages []message.Passage, turns []message.Turn) (*message.ComposedAnswer, error) {
	if len(passages) > c.opts.MaxPassages {
		passages = passages[:c.opts.MaxPassages]
	}
	req := c.buildRequest(question, passages, turns)

	start := time.Now()
	var text string
	err := retry.Do(ctx, c.opts.Retry, "composer."+c.llm.Name(), func(ctx context.Context) error {
		resp, err := c.llm.Complete(ctx, req)
		if err != nil {
			return err
		}
		if resp == nil || strings.TrimSpace(resp.Text) == "" {
			return ErrEmptyAnswer
		}
		text = resp.Text
		return nil
	})
	if err != nil {
		return nil, message.NewError(message.ErrorKindGenerationUnavailable, message.StageComposed,
			fmt.Errorf("%s completion: %w", c.llm.Name(), err))
	}

	answer, used := parseCitations(text, passages)
	if answer == "" {
		return nil, message.NewError(message.ErrorKindGenerationUnavailable, message.StageComposed, ErrEmptyAnswer)
	}
	latency := time.Since(start)
	slog.Debug("answer composed", "backend", c.llm.Name(), "passages", len(passages), "cited", len(used), "latency", latency)
	return &message.ComposedAnswer{
		PivotAnswerText: answer,
		UsedPassageIDs:  used,
		ModelLatency:    latency,
	}, nil
}

// Check pings the backend when it supports health checks.
func (c *Composer) Check(ctx context.Context) error {
	if ch, ok := c.llm.(Checker); ok {
		return ch.Check(ctx)
	}
	return nil
}

func (c *Composer) buildRequest(question string, passages []message.Passage, turns []message.Turn) Request {
	msgs := make([]ChatMessage, 0, 2*len(turns)+1)
	for _, t := range turns {
		if t.Question != "" {
			msgs = append(msgs, ChatMessage{Role: RoleUser, Content: t.Question})
		}
		if t.Answer != "" {
			msgs = append(msgs, ChatMessage{Role: RoleAssistant, Content: t.Answer})
		}
	}
	msgs = append(msgs, ChatMessage{Role: RoleUser, Content: userPrompt(question, passages, c.opts.PassageChars)})

	return Request{
		Model:       c.opts.Model,
		System:      systemPrompt,
		Messages:    msgs,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		TopP:        c.opts.TopP,
	}
}

const systemPrompt = `You are a farming assistant for Indian farmers.

Answer the farmer's question in two or three short, practical sentences. Be direct: no greetings and no preamble.

When reference passages are provided:
- Use them if they answer the question, and cite each passage you rely on as [n].
- If they do not contain the answer, say so in one short sentence, then answer from general agricultural knowledge without citations.
- Never copy a passage verbatim.`

func userPrompt(question string, passages []message.Passage, maxChars int) string {
	var sb strings.Builder
	if len(passages) == 0 {
		sb.WriteString("No reference passages were found.\n\n")
	} else {
		sb.WriteString("Reference passages:\n")
		for i, p := range passages {
			fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, p.SourceLabel, truncate(strings.TrimSpace(p.Text), maxChars))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Farmer asks: ")
	sb.WriteString(strings.TrimSpace(question))
	return sb.String()
}

var (
	citationRe = regexp.MustCompile(`\s*\[(\d+(?:\s*,\s*\d+)*)\]`)
	spacesRe   = regexp.MustCompile(`[ \t]{2,}`)
)

// parseCitations strips [n] markers from text and maps them to passage IDs.
// Without valid citations every supplied passage counts as used.
func parseCitations(text string, passages []message.Passage) (string, []string) {
	seen := make(map[int]bool)
	var used []string
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		for _, field := range strings.Split(m[1], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil || n < 1 || n > len(passages) || seen[n] {
				continue
			}
			seen[n] = true
			used = append(used, passages[n-1].DocumentID)
		}
	}
	if len(used) == 0 {
		for _, p := range passages {
			used = append(used, p.DocumentID)
		}
	}

	clean := citationRe.ReplaceAllString(text, "")
	clean = spacesRe.ReplaceAllString(clean, " ")
	return strings.TrimSpace(clean), used
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
