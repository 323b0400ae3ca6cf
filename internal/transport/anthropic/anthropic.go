// Package anthropic implements transport.Transport with the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"kairos/internal/transport"
)

const (
	DefaultModel     = anthropic.ModelClaude3_5Sonnet20241022
	defaultMaxTokens = 2048
)

// jsonOnly is appended to the system prompt since the Messages API has no
// JSON response mode.
const jsonOnly = "\n\nRespond with a single JSON document and nothing else."

type Transport struct {
	client *anthropic.Client
	model  anthropic.Model
}

// New builds a transport. An empty apiKey falls back to ANTHROPIC_API_KEY.
func New(apiKey, model string) *Transport {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return NewFromClient(&client, model)
}

func NewFromClient(client *anthropic.Client, model string) *Transport {
	m := DefaultModel
	if model != "" {
		m = anthropic.Model(model)
	}
	return &Transport{client: client, model: m}
}

func (t *Transport) Complete(ctx context.Context, systemPrompt, userPrompt string, opts transport.Options) (string, error) {
	model := t.model
	if opts.Model != "" {
		model = anthropic.Model(opts.Model)
	}
	maxTokens := int64(defaultMaxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	if opts.JSONMode {
		systemPrompt += jsonOnly
	}
	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	msg, err := t.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", transport.ErrEmptyCompletion
	}
	return sb.String(), nil
}
