// Package openai implements transport.Transport with the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"kairos/internal/transport"
)

const DefaultModel = openai.ChatModelGPT4oMini

type Transport struct {
	client *openai.Client
	model  string
}

// New builds a transport. An empty apiKey falls back to OPENAI_API_KEY.
func New(apiKey, model string) *Transport {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(opts...)
	return NewFromClient(&client, model)
}

func NewFromClient(client *openai.Client, model string) *Transport {
	if model == "" {
		model = DefaultModel
	}
	return &Transport{client: client, model: model}
}

func (t *Transport) Complete(ctx context.Context, systemPrompt, userPrompt string, opts transport.Options) (string, error) {
	model := t.model
	if opts.Model != "" {
		model = opts.Model
	}
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", transport.ErrEmptyCompletion
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", transport.ErrEmptyCompletion
	}
	return text, nil
}
