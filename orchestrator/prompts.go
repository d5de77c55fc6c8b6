package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/storyforge/pipeline/domain"
)

// runPromptGeneration fans out the four Prompt Helper calls in parallel
// (spec.md §4.4's PromptGeneration phase). A partial failure falls back to
// a hardcoded, non-AI PromptPackage for the missing slice rather than
// failing the whole phase; only a total failure (bus/service unreachable
// for every call) fails PromptGeneration.
func (e *execution) runPromptGeneration(ctx context.Context) error {
	timeout := e.o.cfg.PhaseTimeout
	subject := e.o.subjects.PromptHelper

	type slot struct {
		name string
		fn   func() error
	}

	var mu sync.Mutex
	var failures int
	bundle := &domain.PromptPackages{}

	storyArgs := map[string]interface{}{
		"theme": e.req.Theme, "age_group": e.req.AgeGroup, "language": e.req.Language,
		"educational_goals": e.req.EducationalGoals, "vocabulary_level": e.req.VocabularyLevel,
	}
	languageArgs := map[string]interface{}{"language": e.req.Language}

	slots := []slot{
		{
			name: "generate_story_prompts",
			fn: func() error {
				resp, err := e.callTool(ctx, "prompt-helper", subject, "generate_story_prompts", domain.PhasePromptGeneration, storyArgs, timeout)
				if err != nil {
					return err
				}
				var pkg domain.PromptPackage
				if err := decodeInto(resp, &pkg); err != nil {
					return err
				}
				mu.Lock()
				bundle.Structure = &pkg
				bundle.Generation = &pkg
				mu.Unlock()
				return nil
			},
		},
		{
			name: "generate_validation_prompts",
			fn: func() error {
				resp, err := e.callTool(ctx, "prompt-helper", subject, "generate_validation_prompts", domain.PhasePromptGeneration, storyArgs, timeout)
				if err != nil {
					return err
				}
				var pkg domain.PromptPackage
				if err := decodeInto(resp, &pkg); err != nil {
					return err
				}
				mu.Lock()
				bundle.Validation = &pkg
				mu.Unlock()
				return nil
			},
		},
		{
			name: "generate_constraint_prompts",
			fn: func() error {
				resp, err := e.callTool(ctx, "prompt-helper", subject, "generate_constraint_prompts", domain.PhasePromptGeneration, storyArgs, timeout)
				if err != nil {
					return err
				}
				var pkg domain.PromptPackage
				if err := decodeInto(resp, &pkg); err != nil {
					return err
				}
				mu.Lock()
				bundle.Constraint = &pkg
				mu.Unlock()
				return nil
			},
		},
		{
			name: "get_model_for_language",
			fn: func() error {
				resp, err := e.callTool(ctx, "prompt-helper", subject, "get_model_for_language", domain.PhasePromptGeneration, languageArgs, timeout)
				if err != nil {
					return err
				}
				var route domain.ModelRoute
				if err := decodeInto(resp, &route); err != nil {
					return err
				}
				mu.Lock()
				bundle.ModelRouting = &route
				mu.Unlock()
				return nil
			},
		},
	}

	var wg sync.WaitGroup
	wg.Add(len(slots))
	for _, s := range slots {
		s := s
		go func() {
			defer wg.Done()
			if err := s.fn(); err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				e.o.logger.WarnWithContext(ctx, "prompt-helper call failed, falling back", map[string]interface{}{"tool": s.name, "error": err.Error()})
			}
		}()
	}
	wg.Wait()

	if failures == len(slots) {
		return errAllPromptCallsFailed
	}

	fallbackPromptPackages(bundle, e.req)
	e.req.Prompts = bundle
	return nil
}

// fallbackPromptPackages fills any slice the fan-out left empty with a
// plain, deterministic prompt package so downstream phases always see a
// complete bundle (domain.PromptPackages.Complete()).
func fallbackPromptPackages(bundle *domain.PromptPackages, req domain.GenerationRequest) {
	if bundle.Structure == nil {
		bundle.Structure = &domain.PromptPackage{
			SystemPrompt: "You are an interactive-fiction story architect.",
			UserPrompt:   "Design a branching story structure about " + req.Theme + " for age group " + req.AgeGroup + ".",
		}
	}
	if bundle.Generation == nil {
		bundle.Generation = bundle.Structure
	}
	if bundle.Validation == nil {
		bundle.Validation = &domain.PromptPackage{
			SystemPrompt: "You are a children's content quality reviewer.",
			UserPrompt:   "Review narrative content for age group " + req.AgeGroup + ".",
		}
	}
	if bundle.Constraint == nil {
		bundle.Constraint = &domain.PromptPackage{
			SystemPrompt: "You are a constraint-enforcement specialist.",
			UserPrompt:   "Check narrative content against theme " + req.Theme + " and its required elements.",
		}
	}
	if bundle.ModelRouting == nil {
		bundle.ModelRouting = &domain.ModelRoute{ModelID: "gpt-4o-mini", Provider: "openai"}
	}
}

func decodeInto(resp *domain.ToolResponse, v interface{}) error {
	return json.Unmarshal(resp.JSONResult(), v)
}

var errAllPromptCallsFailed = promptGenerationError{}

type promptGenerationError struct{}

func (promptGenerationError) Error() string { return "all prompt-helper calls failed" }
