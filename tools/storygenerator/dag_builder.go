package storygenerator

import (
	"fmt"

	"github.com/storyforge/pipeline/domain"
)

// maxOpenBranches bounds how many sibling branches stay simultaneously
// open before new choices start converging into an already-open branch,
// resolving spec.md §9's open convergence-point question the way
// SPEC_FULL.md §4.7 decides it: at most 3 simultaneous open branches.
const maxOpenBranches = 3

// buildDAGSkeleton produces the node/edge structure for count nodes
// (spec.md §4.3's generate_structure), deterministically, with no LLM
// call: the graph topology is a layout decision, not creative content.
//
// Node ids are allocated in increasing index order and nodes are expanded
// in queue order; an edge only ever targets a fresh node, a node still
// waiting in the queue, or the terminal, never a node already expanded,
// so the construction is acyclic by design. Once maxOpenBranches siblings are already open
// (or the node budget is exhausted), further choices recycle into an
// already-open branch — a convergence point — round-robining across the
// open set so repeat convergence doesn't pile onto a single node.
func buildDAGSkeleton(count int) (*domain.DAG, error) {
	if count < 4 {
		return nil, fmt.Errorf("node count %d too small for a three-choice story graph", count)
	}
	ids := nodeIDs(count)
	dag := &domain.DAG{
		Nodes:             make(map[string]*domain.ContentNode, count),
		StartNodeID:       ids[0],
		ConvergencePoints: make(map[string]struct{}),
	}
	for _, id := range ids {
		dag.Nodes[id] = &domain.ContentNode{ID: id}
	}

	terminal := ids[count-1]
	inDegree := make(map[string]int, count)

	queue := []string{ids[0]}
	nextFree := 1

	for len(queue) > 0 {
		source := queue[0]
		queue = queue[1:]

		for c := 0; c < 3; c++ {
			var target string
			if nextFree <= count-2 && len(queue) < maxOpenBranches {
				target = ids[nextFree]
				nextFree++
				queue = append(queue, target)
			} else if len(queue) > 0 {
				target = queue[0]
				queue = append(queue[1:], queue[0]) // rotate: spread convergence across open branches
			} else {
				target = terminal
			}

			inDegree[target]++
			if inDegree[target] > 1 {
				dag.ConvergencePoints[target] = struct{}{}
			}
			dag.Edges = append(dag.Edges, domain.Edge{From: source, To: target, ChoiceID: fmt.Sprintf("choice-%d", c+1)})
		}
	}

	return dag, nil
}

// nodeIDs returns count zero-padded ids, "n01".."n{count}", wide enough to
// sort lexicographically in numeric order.
func nodeIDs(count int) []string {
	width := len(fmt.Sprintf("%d", count))
	ids := make([]string, count)
	for i := 0; i < count; i++ {
		ids[i] = fmt.Sprintf("n%0*d", width, i+1)
	}
	return ids
}
