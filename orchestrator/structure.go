package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storyforge/pipeline/domain"
)

// runStructure calls Story Generator's generate_structure once and
// validates the resulting skeleton against the request's node count
// (spec.md §4.4's Structure phase).
func (e *execution) runStructure(ctx context.Context) (*domain.DAG, error) {
	args := map[string]interface{}{
		"node_count": e.req.NodeCount,
		"theme":      e.req.Theme,
		"age_group":  e.req.AgeGroup,
		"language":   e.req.Language,
	}

	resp, err := e.callTool(ctx, "story-generator", e.o.subjects.StoryGenerator, "generate_structure", domain.PhaseStructure, args, e.o.cfg.PhaseTimeout)
	if err != nil {
		return nil, err
	}

	var dag domain.DAG
	if err := json.Unmarshal(resp.JSONResult(), &dag); err != nil {
		return nil, fmt.Errorf("decode generate_structure response: %w", err)
	}
	if err := dag.ValidateStructure(e.req.NodeCount); err != nil {
		return nil, fmt.Errorf("generate_structure produced an invalid skeleton: %w", err)
	}
	return &dag, nil
}
