// Package gemini implements transport.Transport with the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"kairos/internal/transport"
)

const DefaultModel = "gemini-2.0-flash"

type Transport struct {
	client *genai.Client
	model  string
}

// New builds a transport. An empty apiKey lets the SDK read GOOGLE_API_KEY
// or GEMINI_API_KEY.
func New(ctx context.Context, apiKey, model string) (*Transport, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Transport{client: client, model: model}, nil
}

func (t *Transport) Complete(ctx context.Context, systemPrompt, userPrompt string, opts transport.Options) (string, error) {
	model := t.model
	if opts.Model != "" {
		model = opts.Model
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	if opts.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	resp, err := t.client.Models.GenerateContent(ctx, model, genai.Text(userPrompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", transport.ErrEmptyCompletion
	}
	return text, nil
}
