package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/storyforge/pipeline/domain"
)

// runValidation runs Quality Control's batch_validate (one call, every
// node) and Constraint Enforcer's enforce_constraints (one call per node,
// bounded by cfg.Concurrency) concurrently, per spec.md §4.4's Validation
// phase.
func (e *execution) runValidation(ctx context.Context, dag *domain.DAG) (map[string]domain.ValidationResult, map[string]domain.ConstraintResult, error) {
	var wg sync.WaitGroup
	var qcResults map[string]domain.ValidationResult
	var ceResults map[string]domain.ConstraintResult
	var qcErr, ceErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		qcResults, qcErr = e.batchValidateContent(ctx, dag)
	}()
	go func() {
		defer wg.Done()
		ceResults, ceErr = e.enforceConstraintsAll(ctx, dag)
	}()
	wg.Wait()

	if qcErr != nil {
		return nil, nil, qcErr
	}
	if ceErr != nil {
		return nil, nil, ceErr
	}
	return qcResults, ceResults, nil
}

func (e *execution) batchValidateContent(ctx context.Context, dag *domain.DAG) (map[string]domain.ValidationResult, error) {
	nodes := make([]domain.ContentNode, 0, len(dag.Nodes))
	for _, id := range dag.NodeIDs() {
		nodes = append(nodes, *dag.Nodes[id])
	}
	args := map[string]interface{}{
		"nodes":             nodes,
		"age_group":         e.req.AgeGroup,
		"educational_goals": e.req.EducationalGoals,
	}

	resp, err := e.callTool(ctx, "quality-control", e.o.subjects.QualityControl, "batch_validate", domain.PhaseValidation, args, e.o.cfg.PhaseTimeout)
	if err != nil {
		return nil, err
	}

	var results []domain.ValidationResult
	if err := json.Unmarshal(resp.JSONResult(), &results); err != nil {
		return nil, fmt.Errorf("decode batch_validate response: %w", err)
	}

	byID := make(map[string]domain.ValidationResult, len(results))
	for _, r := range results {
		byID[r.NodeID] = r
	}
	return byID, nil
}

func (e *execution) enforceConstraintsAll(ctx context.Context, dag *domain.DAG) (map[string]domain.ConstraintResult, error) {
	ids := dag.NodeIDs()
	sem := make(chan struct{}, e.o.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]domain.ConstraintResult, len(ids))
	var firstErr error

	for _, id := range ids {
		id := id
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			args := map[string]interface{}{
				"node":              *dag.Nodes[id],
				"theme":             e.req.Theme,
				"required_elements": e.req.RequiredElements,
			}
			resp, err := e.callTool(ctx, "constraint-enforcer", e.o.subjects.ConstraintEnforcer, "enforce_constraints", domain.PhaseValidation, args, e.o.cfg.PhaseTimeout)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			var result domain.ConstraintResult
			if err := json.Unmarshal(resp.JSONResult(), &result); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("decode enforce_constraints response: %w", err)
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			results[id] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// negotiationNeeded reports whether any node failed either validator.
func negotiationNeeded(dag *domain.DAG, qc map[string]domain.ValidationResult, ce map[string]domain.ConstraintResult) bool {
	for _, id := range dag.NodeIDs() {
		if r, ok := qc[id]; ok && !r.Passed {
			return true
		}
		if r, ok := ce[id]; ok && !r.Passed {
			return true
		}
	}
	return false
}
