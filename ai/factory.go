package ai

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/storyforge/pipeline/platform"
	"github.com/storyforge/pipeline/resilience"
)

// NewClient builds the Client named by cfg.Provider ("openai", "bedrock",
// or "mock"), following the same provider-string routing the teacher's
// ai.Provider vocabulary uses. cfg.Mock forces MockClient regardless of
// Provider.
//
// Every non-mock client is wrapped with a resilience.RetryConfig built
// from rcfg's attempt and backoff settings, so a transient OpenAI/Bedrock hiccup is retried at the provider boundary
// before it ever surfaces as a tool-call failure the Orchestrator has to
// negotiate around.
func NewClient(ctx context.Context, cfg platform.AIConfig, rcfg platform.ResilienceConfig, logger platform.Logger) (Client, error) {
	if cfg.Mock {
		return NewMockClient(), nil
	}
	retry := resilience.CreateRetryConfig(resilience.ResilienceSettings{
		MaxAttempts:    rcfg.MaxAttempts,
		InitialBackoff: rcfg.InitialBackoff,
		MaxBackoff:     rcfg.MaxBackoff,
	}, resilience.ResilienceDependencies{Logger: logger})
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(cfg.APIKey, "", retry, logger), nil
	case "bedrock":
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("%w: load aws config: %v", platform.ErrInvalidConfiguration, err)
		}
		return NewBedrockClient(awsCfg, cfg.Region, retry, logger), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("%w: unknown ai provider %q", platform.ErrInvalidConfiguration, cfg.Provider)
	}
}
