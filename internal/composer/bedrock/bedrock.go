// Package bedrock implements the composer LLM with the AWS Bedrock Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/nadzzz/agrivoice/internal/composer"
	"github.com/nadzzz/agrivoice/internal/config"
)

// ConverseAPI is the subset of the bedrockruntime client in use.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// LLM calls a Bedrock model through Converse.
type LLM struct {
	api   ConverseAPI
	model string
}

// New wraps an existing Converse client.
func New(api ConverseAPI, model string) *LLM {
	if api == nil {
		panic("bedrock: converse client cannot be nil")
	}
	return &LLM{api: api, model: model}
}

// NewFromConfig loads AWS credentials from the environment and builds a client.
func NewFromConfig(ctx context.Context, cfg config.BedrockConfig, model string) (*LLM, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load aws config: %w", err)
	}
	return New(bedrockruntime.NewFromConfig(awsCfg), model), nil
}

// Name returns the backend identifier.
func (l *LLM) Name() string { return "bedrock" }

// Complete runs one Converse call.
func (l *LLM) Complete(ctx context.Context, req composer.Request) (*composer.Response, error) {
	model := req.Model
	if model == "" {
		model = l.model
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("bedrock: model id is required")
	}

	var system []brtypes.SystemContentBlock
	if strings.TrimSpace(req.System) != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: req.System})
	}

	msgs := make([]brtypes.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == composer.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		msgs = append(msgs, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
		})
	}

	inference := &brtypes.InferenceConfiguration{Temperature: aws.Float32(req.Temperature)}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.TopP > 0 {
		inference.TopP = aws.Float32(req.TopP)
	}

	out, err := l.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		System:          system,
		Messages:        msgs,
		InferenceConfig: inference,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse failed: %w", err)
	}

	text, err := outputText(out)
	if err != nil {
		return nil, err
	}
	return &composer.Response{Text: text, StopReason: string(out.StopReason)}, nil
}

func outputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("bedrock: response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: response did not include a message")
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", composer.ErrEmptyAnswer
	}
	return text, nil
}
