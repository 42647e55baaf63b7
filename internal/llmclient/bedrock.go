package llmclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockClient adapts the AWS Bedrock runtime's non-streaming Converse
// call to the Client contract.
type BedrockClient struct {
	client       *bedrockruntime.Client
	defaultModel string
}

func NewBedrockClient(ctx context.Context, region, defaultModel string) (*BedrockClient, error) {
	if region == "" {
		region = "us-east-1"
	}
	if defaultModel == "" {
		defaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("llmclient: load aws config: %w", err)
	}

	return &BedrockClient{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: defaultModel,
	}, nil
}

func (c *BedrockClient) Generate(ctx context.Context, prompt string, options map[string]any) (string, error) {
	model := stringOption(options, "model", c.defaultModel)

	req := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
			},
		},
	}
	if system := stringOption(options, "system", ""); system != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	if maxTokens := intOption(options, "max_tokens", 0); maxTokens > 0 {
		req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}

	resp, err := c.client.Converse(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llmclient: bedrock generate: %w", err)
	}

	output, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("llmclient: bedrock returned no message output")
	}

	var out string
	for _, block := range output.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			out += text.Value
		}
	}
	return out, nil
}
