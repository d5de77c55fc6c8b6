// Package storygenerator implements the Story Generator tool service:
// builds the DAG skeleton and fills node content with the configured AI
// provider (spec.md §4.3).
package storygenerator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/storyforge/pipeline/ai"
	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
	"github.com/storyforge/pipeline/toolsvc"
)

const (
	ToolGenerateStructure = "generate_structure"
	ToolGenerateNodes     = "generate_nodes"
	ToolValidatePaths     = "validate_paths"
)

type structureArgs struct {
	NodeCount int    `json:"node_count"`
	Theme     string `json:"theme"`
	AgeGroup  string `json:"age_group"`
	Language  string `json:"language"`
}

type generateNodesArgs struct {
	NodeIDs   []string       `json:"node_ids"`
	Theme     string         `json:"theme"`
	AgeGroup  string         `json:"age_group"`
	Language  string         `json:"language"`
	OutDegree map[string]int `json:"out_degree"`
}

type validatePathsArgs struct {
	DAG               domain.DAG `json:"dag"`
	ExpectedNodeCount int        `json:"expected_node_count"`
}

type pathValidationReport struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations,omitempty"`
}

// Build constructs the Story Generator toolsvc.Service.
func Build(b bus.Bus, logger platform.Logger, telem platform.Telemetry, client ai.Client) (*toolsvc.Service, error) {
	svc := toolsvc.New("story-generator", "1.0.0", "storyforge.story-generator", b, logger, telem)

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolGenerateStructure, ServiceName: "story-generator", ServiceVersion: "1.0.0"},
		structureArgsSchema, 10*time.Second,
		handleGenerateStructure,
	); err != nil {
		return nil, err
	}

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolGenerateNodes, ServiceName: "story-generator", ServiceVersion: "1.0.0", Capabilities: []domain.Capability{domain.CapabilityBatching, domain.CapabilityRetry}},
		generateNodesArgsSchema, 45*time.Second,
		handleGenerateNodes(client),
	); err != nil {
		return nil, err
	}

	if err := svc.RegisterTool(
		domain.ToolRegistration{ToolName: ToolValidatePaths, ServiceName: "story-generator", ServiceVersion: "1.0.0"},
		validatePathsArgsSchema, 5*time.Second,
		handleValidatePaths,
	); err != nil {
		return nil, err
	}

	return svc, nil
}

func handleGenerateStructure(_ context.Context, raw []byte) (*domain.ToolResponse, error) {
	var args structureArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
	}
	dag, err := buildDAGSkeleton(args.NodeCount)
	if err != nil {
		return domain.NewErrorResponse(domain.ErrKindInvalidArgument, err.Error()), nil
	}
	return domain.NewJSONResponse(dag)
}

func handleGenerateNodes(client ai.Client) toolsvc.ToolFunc {
	return func(ctx context.Context, raw []byte) (*domain.ToolResponse, error) {
		var args generateNodesArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
		}
		if len(args.NodeIDs) == 0 {
			return domain.NewErrorResponse(domain.ErrKindInvalidArgument, "node_ids must not be empty"), nil
		}

		nodes := make([]domain.ContentNode, 0, len(args.NodeIDs))
		for _, id := range args.NodeIDs {
			degree := args.OutDegree[id]
			node, err := generateOneNode(ctx, client, id, degree, args)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
		return domain.NewJSONResponse(nodes)
	}
}

// generateOneNode drives a single AI call for node id and shapes the
// response into narrative text plus exactly outDegree choices, one per
// the node's outgoing skeleton edges (zero for a terminal node). Choice
// ids follow the same "choice-N" convention the skeleton's edges use, so
// the Orchestrator's DAG.LinkChoices can match a choice straight back to
// the edge it belongs to once every node has content.
func generateOneNode(ctx context.Context, client ai.Client, id string, outDegree int, args generateNodesArgs) (domain.ContentNode, error) {
	var prompt string
	if outDegree == 0 {
		prompt = fmt.Sprintf(
			"Write the closing scene of an interactive story about %q for age group %s in %s. Node id: %s. "+
				"This is an ending: do not offer the reader any further choices.",
			args.Theme, args.AgeGroup, args.Language, id,
		)
	} else {
		prompt = fmt.Sprintf(
			"Write one scene of an interactive story about %q for age group %s in %s. Node id: %s. "+
				"Follow with exactly %d short choice phrases a reader could pick, one per line, prefixed with '- '.",
			args.Theme, args.AgeGroup, args.Language, id, outDegree,
		)
	}
	resp, err := client.GenerateResponse(ctx, prompt, &ai.Options{SystemPrompt: "You are an interactive-fiction scene writer for children."})
	if err != nil {
		return domain.ContentNode{}, err
	}

	text, choiceLines := splitSceneAndChoices(resp.Content)
	choices := make([]domain.Choice, 0, outDegree)
	for i := 0; i < outDegree; i++ {
		line := "Continue the story."
		if i < len(choiceLines) {
			line = choiceLines[i]
		}
		choices = append(choices, domain.Choice{ID: fmt.Sprintf("choice-%d", i+1), Text: line})
	}

	return domain.ContentNode{
		ID: id,
		Content: domain.NodeContent{
			Text:    text,
			Choices: choices,
		},
		Metadata: domain.NodeMetadata{WordCount: len(strings.Fields(text))},
	}, nil
}

// splitSceneAndChoices separates narrative text from trailing "- " choice
// lines a prompted model is asked to produce.
func splitSceneAndChoices(content string) (string, []string) {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	var textLines, choiceLines []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") {
			choiceLines = append(choiceLines, strings.TrimPrefix(trimmed, "- "))
		} else if trimmed != "" {
			textLines = append(textLines, trimmed)
		}
	}
	return strings.Join(textLines, " "), choiceLines
}

func handleValidatePaths(_ context.Context, raw []byte) (*domain.ToolResponse, error) {
	var args validatePathsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrInvalidArgument, err)
	}

	report := pathValidationReport{Passed: true}
	if err := args.DAG.ValidateStructure(args.ExpectedNodeCount); err != nil {
		report.Passed = false
		report.Violations = append(report.Violations, err.Error())
	}
	if unreached := unreachableNodes(&args.DAG); len(unreached) > 0 {
		report.Passed = false
		report.Violations = append(report.Violations, fmt.Sprintf("unreachable from start: %v", unreached))
	}
	return domain.NewJSONResponse(report)
}

// unreachableNodes returns, sorted, every node id not reachable from
// StartNodeID by a breadth-first walk of Edges.
func unreachableNodes(dag *domain.DAG) []string {
	visited := map[string]bool{dag.StartNodeID: true}
	queue := []string{dag.StartNodeID}
	adj := make(map[string][]string)
	for _, e := range dag.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range adj[n] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	var unreached []string
	for _, id := range dag.NodeIDs() {
		if !visited[id] {
			unreached = append(unreached, id)
		}
	}
	return unreached
}
