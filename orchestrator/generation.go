package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/storyforge/pipeline/domain"
)

// runGeneration fills dag's nodes with content: node ids are split into
// batches of cfg.BatchSize, up to cfg.Concurrency batches run at once, and
// a failed or partial batch is attempted up to cfg.RetryBudget times in total before
// falling back to one quarantined single-node attempt per still-missing
// node (spec.md §4.4's Generation phase and §5's batching algorithm).
//
// The skeleton's Edges, not the generated choice text, are the authority
// on where a choice leads: once every node has content, LinkChoices sets
// each choice's next_node_id from the matching skeleton edge, and
// ValidateContent confirms spec.md §3's post-phase-2 content invariant
// before the DAG is allowed into Validation.
func (e *execution) runGeneration(ctx context.Context, dag *domain.DAG) error {
	batches := batchNodeIDs(dag.NodeIDs(), e.o.cfg.BatchSize)

	sem := make(chan struct{}, e.o.cfg.Concurrency)
	var wg sync.WaitGroup
	errs := make([]error, len(batches))

	for i, batch := range batches {
		i, batch := i, batch
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = e.generateBatchWithRetry(ctx, dag, batch, nil)
		}()
	}
	wg.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			e.o.logger.WarnWithContext(ctx, "node batch failed after retry budget, quarantining", map[string]interface{}{"batch": batches[i], "error": err.Error()})
			failed = append(failed, batches[i]...)
		}
	}
	if len(failed) > 0 {
		if err := e.quarantineSingleNodeRetry(ctx, dag, failed); err != nil {
			return err
		}
	}

	dag.LinkChoices()
	return dag.ValidateContent()
}

// batchNodeIDs splits a sorted id list into fixed-size chunks, preserving
// order so batch assignment is deterministic across retries.
func batchNodeIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var batches [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

// generateBatchWithRetry calls generate_nodes for ids, making up to
// cfg.RetryBudget attempts in total with exponential backoff between them. A partial
// response (fewer nodes than requested) narrows the next attempt to just
// the still-missing ids rather than failing the batch outright.
//
// requestID is stamped fresh whenever the requested node set changes
// (a genuinely new attempt) but held constant across a same-arguments
// retry, so a retry after a transport failure re-sends the same envelope
// bytes spec.md §4.1 requires and toolsvc's idempotence window can
// recognize the resend instead of re-running the generation.
func (e *execution) generateBatchWithRetry(ctx context.Context, dag *domain.DAG, ids []string, violationContext map[string][]string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.o.backoff.InitialBackoff
	bo.MaxInterval = e.o.backoff.MaxBackoff
	bo.Reset()

	remaining := append([]string(nil), ids...)
	requestID := uuid.New().String()
	var lastErr error

	for attempt := 1; attempt <= e.o.cfg.RetryBudget; attempt++ {
		nodes, err := e.requestNodes(ctx, requestID, dag, remaining, violationContext)
		if err == nil {
			dag.ApplyNodes(nodes)
			got := make(map[string]bool, len(nodes))
			for _, n := range nodes {
				got[n.ID] = true
			}
			var missing []string
			for _, id := range remaining {
				if !got[id] {
					missing = append(missing, id)
				}
			}
			if len(missing) == 0 {
				return nil
			}
			lastErr = fmt.Errorf("generate_nodes returned %d of %d requested nodes", len(nodes), len(remaining))
			remaining = missing
			requestID = uuid.New().String()
		} else {
			lastErr = err
		}

		if attempt == e.o.cfg.RetryBudget {
			break
		}
		delay := bo.NextBackOff()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("batch %v exhausted retry budget: %w", ids, lastErr)
}

// quarantineSingleNodeRetry gives each still-missing node exactly one more
// single-node attempt, per spec.md §4.4's "an optional single-node retry"
// wording — this is not a fresh R-attempt budget.
func (e *execution) quarantineSingleNodeRetry(ctx context.Context, dag *domain.DAG, ids []string) error {
	var failed []string
	for _, id := range ids {
		nodes, err := e.requestNodes(ctx, uuid.New().String(), dag, []string{id}, nil)
		if err != nil || len(nodes) == 0 {
			failed = append(failed, id)
			continue
		}
		dag.ApplyNodes(nodes)
	}
	if len(failed) > 0 {
		return fmt.Errorf("nodes %v failed generation after quarantine retry", failed)
	}
	return nil
}

func (e *execution) requestNodes(ctx context.Context, requestID string, dag *domain.DAG, ids []string, violationContext map[string][]string) ([]domain.ContentNode, error) {
	outDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		outDegree[id] = dag.OutDegree(id)
	}
	args := map[string]interface{}{
		"node_ids":   ids,
		"theme":      e.req.Theme,
		"age_group":  e.req.AgeGroup,
		"language":   e.req.Language,
		"out_degree": outDegree,
	}
	if len(violationContext) > 0 {
		args["violation_context"] = violationContext
	}

	resp, err := e.callToolWithRequestID(ctx, requestID, "story-generator", e.o.subjects.StoryGenerator, "generate_nodes", domain.PhaseGeneration, args, e.o.cfg.PhaseTimeout)
	if err != nil {
		return nil, err
	}

	var nodes []domain.ContentNode
	if err := json.Unmarshal(resp.JSONResult(), &nodes); err != nil {
		return nil, fmt.Errorf("decode generate_nodes response: %w", err)
	}
	return nodes, nil
}
