package llmclient

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GoogleClient adapts google.golang.org/genai's non-streaming GenerateContent
// call to the Client contract.
type GoogleClient struct {
	client       *genai.Client
	defaultModel string
}

func NewGoogleClient(ctx context.Context, apiKey, defaultModel string) (*GoogleClient, error) {
	if apiKey == "" {
		return nil, errors.New("llmclient: google api key is required")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("llmclient: create google client: %w", err)
	}

	return &GoogleClient{client: client, defaultModel: defaultModel}, nil
}

func (c *GoogleClient) Generate(ctx context.Context, prompt string, options map[string]any) (string, error) {
	model := stringOption(options, "model", c.defaultModel)

	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}},
	}

	var cfg *genai.GenerateContentConfig
	if system := stringOption(options, "system", ""); system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("llmclient: google generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("llmclient: google returned no candidates")
	}

	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		out += part.Text
	}
	return out, nil
}
