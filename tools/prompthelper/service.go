// Package prompthelper implements the Prompt Helper tool service: builds
// per-phase prompt packages and reports a recommended generation model per
// language (spec.md §4.3).
package prompthelper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storyforge/pipeline/ai"
	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
	"github.com/storyforge/pipeline/toolsvc"
)

const (
	ToolGenerateStoryPrompts      = "generate_story_prompts"
	ToolGenerateValidationPrompts = "generate_validation_prompts"
	ToolGenerateConstraintPrompts = "generate_constraint_prompts"
	ToolGetModelForLanguage       = "get_model_for_language"
)

// modelsByLanguage is a small, explicit routing table. Languages with rich
// non-Latin tokenization route to bedrock's Claude models; everything
// else gets defaultModelID, an OpenAI-compatible model. This is a
// policy table, not a protocol: operators can extend it without touching
// the tool's request/response shape.
var modelsByLanguage = map[string]domain.ModelRoute{
	"en": {ModelID: "gpt-4o-mini", Provider: "openai"},
	"ja": {ModelID: "anthropic.claude-3-sonnet-20240229-v1:0", Provider: "bedrock"},
	"zh": {ModelID: "anthropic.claude-3-sonnet-20240229-v1:0", Provider: "bedrock"},
}

const defaultModelProvider = "openai"
const defaultModelID = "gpt-4o-mini"

type storyPromptArgs struct {
	Theme             string   `json:"theme"`
	AgeGroup          string   `json:"age_group"`
	Language          string   `json:"language"`
	EducationalGoals  []string `json:"educational_goals"`
	VocabularyLevel   string   `json:"vocabulary_level"`
}

type languageArgs struct {
	Language string `json:"language"`
}

// Build constructs the Prompt Helper toolsvc.Service, wiring the three
// prompt-generation tools against client for the (out-of-protocol)
// generation calls that shape prompt wording; get_model_for_language only
// consults modelsByLanguage.
func Build(b bus.Bus, logger platform.Logger, telem platform.Telemetry, client ai.Client) (*toolsvc.Service, error) {
	svc := toolsvc.New("prompt-helper", "1.0.0", "storyforge.prompt-helper", b, logger, telem)

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolGenerateStoryPrompts, ServiceName: "prompt-helper", ServiceVersion: "1.0.0", Capabilities: []domain.Capability{domain.CapabilityCaching}},
		storyPromptSchema, 15*time.Second,
		handleGenerateStoryPrompts(client),
	); err != nil {
		return nil, err
	}

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolGenerateValidationPrompts, ServiceName: "prompt-helper", ServiceVersion: "1.0.0", Capabilities: []domain.Capability{domain.CapabilityCaching}},
		storyPromptSchema, 15*time.Second,
		handleGenerateValidationPrompts(client),
	); err != nil {
		return nil, err
	}

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolGenerateConstraintPrompts, ServiceName: "prompt-helper", ServiceVersion: "1.0.0", Capabilities: []domain.Capability{domain.CapabilityCaching}},
		storyPromptSchema, 15*time.Second,
		handleGenerateConstraintPrompts(client),
	); err != nil {
		return nil, err
	}

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolGetModelForLanguage, ServiceName: "prompt-helper", ServiceVersion: "1.0.0"},
		languageSchema, 2*time.Second,
		handleGetModelForLanguage,
	); err != nil {
		return nil, err
	}

	return svc, nil
}

func handleGenerateStoryPrompts(client ai.Client) toolsvc.ToolFunc {
	return func(ctx context.Context, raw []byte) (*domain.ToolResponse, error) {
		var args storyPromptArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
		}
		prompt := fmt.Sprintf(
			"Design a %d-node interactive story structure about %q for age group %s, written in %s, targeting vocabulary level %s, covering educational goals %v.",
			16, args.Theme, args.AgeGroup, args.Language, args.VocabularyLevel, args.EducationalGoals,
		)
		resp, err := client.GenerateResponse(ctx, prompt, &ai.Options{SystemPrompt: "You are a children's interactive-fiction story architect."})
		if err != nil {
			return nil, err
		}
		pkg := domain.PromptPackage{
			SystemPrompt: "You are a children's interactive-fiction story architect.",
			UserPrompt:   resp.Content,
			Extra:        map[string]string{"theme": args.Theme, "language": args.Language},
		}
		return domain.NewJSONResponse(pkg)
	}
}

func handleGenerateValidationPrompts(client ai.Client) toolsvc.ToolFunc {
	return func(ctx context.Context, raw []byte) (*domain.ToolResponse, error) {
		var args storyPromptArgs
		_ = json.Unmarshal(raw, &args)
		prompt := fmt.Sprintf("Draft a content-quality rubric for age group %s covering educational goals %v.", args.AgeGroup, args.EducationalGoals)
		resp, err := client.GenerateResponse(ctx, prompt, &ai.Options{SystemPrompt: "You are a children's content quality reviewer."})
		if err != nil {
			return nil, err
		}
		pkg := domain.PromptPackage{SystemPrompt: "You are a children's content quality reviewer.", UserPrompt: resp.Content}
		return domain.NewJSONResponse(pkg)
	}
}

func handleGenerateConstraintPrompts(client ai.Client) toolsvc.ToolFunc {
	return func(ctx context.Context, raw []byte) (*domain.ToolResponse, error) {
		var args storyPromptArgs
		_ = json.Unmarshal(raw, &args)
		prompt := fmt.Sprintf("List vocabulary and theme constraints for a %q story at vocabulary level %s.", args.Theme, args.VocabularyLevel)
		resp, err := client.GenerateResponse(ctx, prompt, &ai.Options{SystemPrompt: "You are a constraint-enforcement specialist."})
		if err != nil {
			return nil, err
		}
		pkg := domain.PromptPackage{SystemPrompt: "You are a constraint-enforcement specialist.", UserPrompt: resp.Content}
		return domain.NewJSONResponse(pkg)
	}
}

func handleGetModelForLanguage(_ context.Context, raw []byte) (*domain.ToolResponse, error) {
	var args languageArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
	}
	route, ok := modelsByLanguage[args.Language]
	if !ok {
		route = domain.ModelRoute{ModelID: defaultModelID, Provider: defaultModelProvider}
	}
	return domain.NewJSONResponse(route)
}
