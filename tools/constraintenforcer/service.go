// Package constraintenforcer implements the Constraint Enforcer tool
// service: checks a node's content against the request's required
// elements, theme, and a banned-term list (spec.md §4.3).
package constraintenforcer

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
	ToolEnforceConstraints = "enforce_constraints"
	ToolSuggestCorrections = "suggest_corrections"
)

// defaultBannedTerms is a small rule-based list; spec.md §1 scopes content
// moderation out beyond rule-based constraint checks, so this stays
// intentionally narrow rather than growing into a classifier.
var defaultBannedTerms = []string{"weapon", "blood", "kill"}

type enforceConstraintsArgs struct {
	Node             domain.ContentNode `json:"node"`
	Theme            string             `json:"theme"`
	RequiredElements []string           `json:"required_elements"`
	BannedTerms      []string           `json:"banned_terms"`
}

type suggestCorrectionsArgs struct {
	Node       domain.ContentNode `json:"node"`
	Violations []domain.Violation `json:"violations"`
}

// Build constructs the Constraint Enforcer toolsvc.Service.
func Build(b bus.Bus, logger platform.Logger, telem platform.Telemetry) (*toolsvc.Service, error) {
	svc := toolsvc.New("constraint-enforcer", "1.0.0", "storyforge.constraint-enforcer", b, logger, telem)

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolEnforceConstraints, ServiceName: "constraint-enforcer", ServiceVersion: "1.0.0", Capabilities: []domain.Capability{domain.CapabilityBatching}},
		enforceConstraintsArgsSchema, 10*time.Second,
		handleEnforceConstraints,
	); err != nil {
		return nil, err
	}

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolSuggestCorrections, ServiceName: "constraint-enforcer", ServiceVersion: "1.0.0"},
		suggestCorrectionsArgsSchema, 10*time.Second,
		handleSuggestCorrections,
	); err != nil {
		return nil, err
	}

	return svc, nil
}

func handleEnforceConstraints(_ context.Context, raw []byte) (*domain.ToolResponse, error) {
	var args enforceConstraintsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
	}

	banned := defaultBannedTerms
	if len(args.BannedTerms) > 0 {
		banned = args.BannedTerms
	}

	result := domain.ConstraintResult{NodeID: args.Node.ID, Passed: true}
	lowerText := strings.ToLower(args.Node.Content.Text)

	for _, term := range banned {
		if strings.Contains(lowerText, strings.ToLower(term)) {
			result.Passed = false
			result.Violations = append(result.Violations, domain.Violation{
				Rule: "banned_term", Severity: domain.SeverityCritical,
				Message: fmt.Sprintf("node text contains banned term %q", term),
			})
			result.Capability = domain.CapabilityRegenerateNode
		}
	}

	for _, element := range args.RequiredElements {
		if element == "" {
			continue
		}
		if !strings.Contains(lowerText, strings.ToLower(element)) {
			result.Passed = false
			result.Violations = append(result.Violations, domain.Violation{
				Rule: "required_element_missing", Severity: domain.SeverityWarning,
				Message: fmt.Sprintf("required element %q not found in node text", element),
			})
			if result.Capability == "" {
				result.Capability = domain.CapabilityRegenerateNode
			}
		}
	}

	if args.Theme != "" && !strings.Contains(lowerText, strings.ToLower(firstWord(args.Theme))) && len(args.RequiredElements) == 0 {
		// Weak theme-drift signal: only raised when the request gave no
		// required elements to check against instead.
		result.Passed = false
		result.Violations = append(result.Violations, domain.Violation{
			Rule: "theme_drift", Severity: domain.SeverityInfo,
			Message: fmt.Sprintf("node text does not obviously reference theme %q", args.Theme),
		})
		if result.Capability == "" {
			result.Capability = domain.CapabilitySelfFix
		}
	}

	return domain.NewJSONResponse(result)
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

func handleSuggestCorrections(_ context.Context, raw []byte) (*domain.ToolResponse, error) {
	var args suggestCorrectionsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
	}

	corrections := domain.Corrections{Capability: domain.CapabilitySelfFix}
	for _, v := range args.Violations {
		switch v.Rule {
		case "theme_drift":
			corrections.Patches = append(corrections.Patches, domain.Patch{
				NodeID:      args.Node.ID,
				Field:       "content.text",
				Replacement: strings.TrimSpace(args.Node.Content.Text + " The adventure stayed true to its theme."),
			})
		default:
			corrections.Capability = domain.CapabilityRegenerateNode
		}
	}
	if len(corrections.Patches) == 0 {
		corrections.Capability = domain.CapabilityRegenerateNode
	}
	return domain.NewJSONResponse(corrections)
}
