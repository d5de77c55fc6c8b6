// Package qualitycontrol implements the Quality Control tool service:
// checks a node's narrative content against length and vocabulary
// expectations and proposes self-fix patches (spec.md §4.3).
package qualitycontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
	"github.com/storyforge/pipeline/toolsvc"
)

const (
	ToolValidateContent     = "validate_content"
	ToolBatchValidate       = "batch_validate"
	ToolSuggestCorrections  = "suggest_corrections"
)

// targetWordCount and its tolerance implement spec.md §1's "~400 words of
// narrative" expectation as a checkable range rather than a fixed count.
const (
	targetWordCount = 400
	wordCountSlack  = 150
)

var vocabularyCeilingByAgeGroup = map[string]int{
	"4-6":   6,
	"6-8":   8,
	"9-11":  11,
	"12-14": 14,
}

type validateContentArgs struct {
	Node             domain.ContentNode `json:"node"`
	AgeGroup         string             `json:"age_group"`
	EducationalGoals []string           `json:"educational_goals"`
}

type batchValidateArgs struct {
	Nodes            []domain.ContentNode `json:"nodes"`
	AgeGroup         string                `json:"age_group"`
	EducationalGoals []string              `json:"educational_goals"`
}

type suggestCorrectionsArgs struct {
	Node       domain.ContentNode `json:"node"`
	Violations []domain.Violation `json:"violations"`
}

// Build constructs the Quality Control toolsvc.Service.
func Build(b bus.Bus, logger platform.Logger, telem platform.Telemetry) (*toolsvc.Service, error) {
	svc := toolsvc.New("quality-control", "1.0.0", "storyforge.quality-control", b, logger, telem)

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolValidateContent, ServiceName: "quality-control", ServiceVersion: "1.0.0"},
		validateContentArgsSchema, 5*time.Second,
		handleValidateContent,
	); err != nil {
		return nil, err
	}

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolBatchValidate, ServiceName: "quality-control", ServiceVersion: "1.0.0", Capabilities: []domain.Capability{domain.CapabilityBatching}},
		batchValidateArgsSchema, 15*time.Second,
		handleBatchValidate,
	); err != nil {
		return nil, err
	}

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolSuggestCorrections, ServiceName: "quality-control", ServiceVersion: "1.0.0"},
		suggestCorrectionsArgsSchema, 10*time.Second,
		handleSuggestCorrections,
	); err != nil {
		return nil, err
	}

	return svc, nil
}

func handleValidateContent(_ context.Context, raw []byte) (*domain.ToolResponse, error) {
	var args validateContentArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
	}
	result := validateNode(args.Node, args.AgeGroup, args.EducationalGoals)
	return domain.NewJSONResponse(result)
}

func handleBatchValidate(_ context.Context, raw []byte) (*domain.ToolResponse, error) {
	var args batchValidateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
	}
	results := make([]domain.ValidationResult, 0, len(args.Nodes))
	for _, node := range args.Nodes {
		results = append(results, validateNode(node, args.AgeGroup, args.EducationalGoals))
	}
	return domain.NewJSONResponse(results)
}

// validateNode applies the length and vocabulary checks a single node must
// pass, returning a capability hint the Orchestrator's negotiation phase
// consumes on failure.
func validateNode(node domain.ContentNode, ageGroup string, goals []string) domain.ValidationResult {
	result := domain.ValidationResult{NodeID: node.ID, Passed: true}

	words := strings.Fields(node.Content.Text)
	wordCount := len(words)

	if node.Content.Text == "" {
		result.Passed = false
		result.Violations = append(result.Violations, domain.Violation{
			Rule: "non_empty_text", Severity: domain.SeverityCritical, Message: "node text is empty",
		})
		result.Capability = domain.CapabilityRegenerateNode
		return result
	}

	if wordCount < targetWordCount-wordCountSlack {
		result.Passed = false
		result.Violations = append(result.Violations, domain.Violation{
			Rule: "word_count_minimum", Severity: domain.SeverityWarning,
			Message: fmt.Sprintf("node has %d words, expected at least %d", wordCount, targetWordCount-wordCountSlack),
		})
	}
	if wordCount > targetWordCount+wordCountSlack {
		result.Passed = false
		result.Violations = append(result.Violations, domain.Violation{
			Rule: "word_count_maximum", Severity: domain.SeverityWarning,
			Message: fmt.Sprintf("node has %d words, expected at most %d", wordCount, targetWordCount+wordCountSlack),
		})
	}

	if ceiling, ok := vocabularyCeilingByAgeGroup[ageGroup]; ok {
		if longest := longestWordLength(words); longest > ceiling+6 {
			result.Passed = false
			result.Violations = append(result.Violations, domain.Violation{
				Rule: "vocabulary_level", Severity: domain.SeverityWarning,
				Message: fmt.Sprintf("longest word has %d characters, above the %s ceiling", longest, ageGroup),
			})
		}
	}

	if len(node.Content.Choices) != 3 {
		result.Passed = false
		result.Violations = append(result.Violations, domain.Violation{
			Rule: "choice_count", Severity: domain.SeverityError,
			Message: fmt.Sprintf("node has %d choices, want 3", len(node.Content.Choices)),
		})
		result.Capability = domain.CapabilityRegenerateNode
		return result
	}
	for _, choice := range node.Content.Choices {
		if strings.TrimSpace(choice.Text) == "" {
			result.Passed = false
			result.Violations = append(result.Violations, domain.Violation{
				Rule: "choice_text_non_empty", Severity: domain.SeverityError,
				Message: fmt.Sprintf("choice %s has empty text", choice.ID),
			})
			result.Capability = domain.CapabilityRegenerateNode
			return result
		}
	}

	if !result.Passed && result.Capability == "" {
		result.Capability = domain.CapabilitySelfFix
	}
	return result
}

func longestWordLength(words []string) int {
	max := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'")
		if len(w) > max {
			max = len(w)
		}
	}
	return max
}

func handleSuggestCorrections(_ context.Context, raw []byte) (*domain.ToolResponse, error) {
	var args suggestCorrectionsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
	}

	corrections := domain.Corrections{Capability: domain.CapabilitySelfFix}
	for _, v := range args.Violations {
		switch v.Rule {
		case "word_count_minimum":
			corrections.Patches = append(corrections.Patches, domain.Patch{
				NodeID: args.Node.ID, Field: "content.text",
				Replacement: args.Node.Content.Text + " " + padNarrative(),
			})
		case "word_count_maximum":
			corrections.Patches = append(corrections.Patches, domain.Patch{
				NodeID: args.Node.ID, Field: "content.text",
				Replacement: truncateToWordCount(args.Node.Content.Text, targetWordCount+wordCountSlack),
			})
		case "choice_text_non_empty":
			corrections.Capability = domain.CapabilityRegenerateNode
		case "non_empty_text", "choice_count":
			corrections.Capability = domain.CapabilityRegenerateNode
		}
	}
	if len(corrections.Patches) == 0 && corrections.Capability == domain.CapabilitySelfFix {
		corrections.Capability = domain.CapabilityRegenerateNode
	}
	return domain.NewJSONResponse(corrections)
}

func padNarrative() string {
	return "The adventure continued a little further before the choice arrived."
}

func truncateToWordCount(text string, max int) string {
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	return strings.Join(words[:max], " ")
}
