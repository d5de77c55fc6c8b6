package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/storyforge/pipeline/platform"
	"github.com/storyforge/pipeline/resilience"
)

// DefaultBedrockModel is used when Options.Model is left blank on a
// BedrockClient call.
const DefaultBedrockModel = "anthropic.claude-3-sonnet-20240229-v1:0"

// BedrockClient implements Client against AWS Bedrock's Converse API,
// adapted from the teacher's ai/providers/bedrock.Client. NewClient
// returns it when the configured AI provider is "bedrock".
type BedrockClient struct {
	runtime *bedrockruntime.Client
	region  string
	retry   *resilience.RetryConfig
	logger  platform.Logger
}

// NewBedrockClient wraps an already-resolved aws.Config (region,
// credentials) in a BedrockClient. A nil retry falls back to
// resilience.DefaultRetryConfig.
func NewBedrockClient(cfg aws.Config, region string, retry *resilience.RetryConfig, logger platform.Logger) *BedrockClient {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	return &BedrockClient{
		runtime: bedrockruntime.NewFromConfig(cfg),
		region:  region,
		retry:   retry,
		logger:  logger,
	}
}

func (c *BedrockClient) GenerateResponse(ctx context.Context, prompt string, options *Options) (*Response, error) {
	options = applyDefaults(options)
	model := options.Model
	if model == "gpt-4o-mini" {
		model = DefaultBedrockModel
	}

	messages := []types.Message{
		{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		},
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(options.MaxTokens)),
			Temperature: aws.Float32(options.Temperature),
		},
	}
	if options.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: options.SystemPrompt}}
	}

	c.logger.DebugWithContext(ctx, "ai: dispatching bedrock request", map[string]interface{}{"model": model, "region": c.region})
	start := time.Now()
	var out *bedrockruntime.ConverseOutput
	err := resilience.Retry(ctx, c.retry, func() error {
		converseOut, convErr := c.runtime.Converse(ctx, input)
		if convErr != nil {
			return fmt.Errorf("%w: bedrock converse: %v", platform.ErrUpstreamFailure, convErr)
		}
		out = converseOut
		return nil
	})
	if err != nil {
		return nil, err
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || len(msg.Value.Content) == 0 {
		return nil, fmt.Errorf("%w: bedrock returned no content", platform.ErrUpstreamFailure)
	}
	text, ok := msg.Value.Content[0].(*types.ContentBlockMemberText)
	if !ok {
		return nil, fmt.Errorf("%w: bedrock returned non-text content block", platform.ErrUpstreamFailure)
	}

	usage := TokenUsage{}
	if out.Usage != nil {
		usage = TokenUsage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	c.logger.DebugWithContext(ctx, "ai: bedrock request complete", map[string]interface{}{"elapsed": time.Since(start).String()})

	return &Response{Content: text.Value, Model: model, Usage: usage}, nil
}
