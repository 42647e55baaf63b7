package llmclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient adapts sashabaranov/go-openai's chat completion call to the
// Client contract.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
}

func NewOpenAIClient(apiKey, defaultModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("llmclient: openai api key is required")
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClient(apiKey), defaultModel: defaultModel}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options map[string]any) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	if system := stringOption(options, "system", ""); system != "" {
		messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		}, messages...)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       stringOption(options, "model", c.defaultModel),
		Messages:    messages,
		MaxTokens:   intOption(options, "max_tokens", 1024),
		Temperature: float32(floatOption(options, "temperature", 1.0)),
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llmclient: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
