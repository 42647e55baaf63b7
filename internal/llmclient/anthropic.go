package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient adapts anthropic-sdk-go's non-streaming Messages.New call
// to the Client contract.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
}

func NewAnthropicClient(apiKey, baseURL, defaultModel string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("llmclient: anthropic api key is required")
	}
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicClient{client: anthropic.NewClient(opts...), defaultModel: defaultModel}, nil
}

func (c *AnthropicClient) Generate(ctx context.Context, prompt string, options map[string]any) (string, error) {
	params := anthropic.MessageNewParams{
		Model: anthropic.Model(stringOption(options, "model", c.defaultModel)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		MaxTokens: int64(intOption(options, "max_tokens", 1024)),
	}
	if system := stringOption(options, "system", ""); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llmclient: anthropic generate: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			out.WriteString(text.Text)
		}
	}
	return out.String(), nil
}
