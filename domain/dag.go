package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/storyforge/pipeline/platform"
)

// Choice is one of a node's (ordinarily three) outgoing edges from the
// reader's point of view.
type Choice struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	NextNodeID string `json:"next_node_id"`
}

// NodeContent is a node's narrative payload.
type NodeContent struct {
	Text    string   `json:"text"`
	Choices []Choice `json:"choices"`
}

// NodeMetadata carries Quality-Control-relevant descriptive statistics.
type NodeMetadata struct {
	WordCount    int    `json:"word_count"`
	ReadingLevel string `json:"reading_level,omitempty"`
}

// ContentNode is one vertex of the story DAG.
type ContentNode struct {
	ID                 string                 `json:"id"`
	Content             NodeContent            `json:"content"`
	Metadata           NodeMetadata           `json:"metadata"`
	GenerationMetadata map[string]interface{} `json:"generation_metadata,omitempty"`
}

// Edge is one directed connection between two nodes, labelled with the
// choice id a reader selected to traverse it.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	ChoiceID string `json:"choice_id"`
}

// DAG is the directed acyclic story graph.
type DAG struct {
	Nodes             map[string]*ContentNode `json:"nodes"`
	Edges             []Edge                  `json:"edges"`
	StartNodeID       string                  `json:"start_node_id"`
	ConvergencePoints map[string]struct{}     `json:"-"`
}

// dagWire is DAG's JSON form: ConvergencePoints travels as a sorted slice
// (Go maps don't marshal deterministically as sets).
type dagWire struct {
	Nodes             map[string]*ContentNode `json:"nodes"`
	Edges             []Edge                  `json:"edges"`
	StartNodeID       string                  `json:"start_node_id"`
	ConvergencePoints []string                `json:"convergence_points"`
}

// MarshalJSON renders ConvergencePoints as a sorted string slice.
func (d *DAG) MarshalJSON() ([]byte, error) {
	points := make([]string, 0, len(d.ConvergencePoints))
	for id := range d.ConvergencePoints {
		points = append(points, id)
	}
	sort.Strings(points)
	return json.Marshal(dagWire{
		Nodes:             d.Nodes,
		Edges:             d.Edges,
		StartNodeID:       d.StartNodeID,
		ConvergencePoints: points,
	})
}

// UnmarshalJSON restores ConvergencePoints from its wire-format slice.
func (d *DAG) UnmarshalJSON(data []byte) error {
	var w dagWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.Nodes = w.Nodes
	d.Edges = w.Edges
	d.StartNodeID = w.StartNodeID
	d.ConvergencePoints = make(map[string]struct{}, len(w.ConvergencePoints))
	for _, id := range w.ConvergencePoints {
		d.ConvergencePoints[id] = struct{}{}
	}
	return nil
}

// NodeIDs returns the DAG's node ids in sorted order, the deterministic
// ordering the Generation phase's batching algorithm partitions over.
func (d *DAG) NodeIDs() []string {
	ids := make([]string, 0, len(d.Nodes))
	for id := range d.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OutDegree returns node id's number of outgoing edges.
func (d *DAG) OutDegree(nodeID string) int {
	n := 0
	for _, e := range d.Edges {
		if e.From == nodeID {
			n++
		}
	}
	return n
}

// InDegree returns node id's number of incoming edges.
func (d *DAG) InDegree(nodeID string) int {
	n := 0
	for _, e := range d.Edges {
		if e.To == nodeID {
			n++
		}
	}
	return n
}

// IsTerminal reports whether nodeID has no outgoing edges.
func (d *DAG) IsTerminal(nodeID string) bool {
	return d.OutDegree(nodeID) == 0
}

// ValidateStructure checks the structural invariants spec.md §3(i)-(iv)
// require after phase 1 (Structure), before any node content exists:
// every edge endpoint is a node key, start_node_id is a node, node count
// matches the requested value, and the graph has no directed cycles.
// Invariant (v) — exactly three outgoing edges per non-terminal node — is
// also checked here since edges are already final by the end of phase 1.
func (d *DAG) ValidateStructure(expectedNodeCount int) error {
	if _, ok := d.Nodes[d.StartNodeID]; !ok {
		return fmt.Errorf("%w: start_node_id %q is not a node", platform.ErrSchemaViolation, d.StartNodeID)
	}
	if len(d.Nodes) != expectedNodeCount {
		return fmt.Errorf("%w: dag has %d nodes, requested %d", platform.ErrSchemaViolation, len(d.Nodes), expectedNodeCount)
	}
	for _, e := range d.Edges {
		if _, ok := d.Nodes[e.From]; !ok {
			return fmt.Errorf("%w: edge references unknown from-node %q", platform.ErrSchemaViolation, e.From)
		}
		if _, ok := d.Nodes[e.To]; !ok {
			return fmt.Errorf("%w: edge references unknown to-node %q", platform.ErrSchemaViolation, e.To)
		}
	}
	if err := d.detectCycle(); err != nil {
		return err
	}
	for id := range d.Nodes {
		if d.IsTerminal(id) {
			continue
		}
		if d.OutDegree(id) != 3 {
			return fmt.Errorf("%w: non-terminal node %q has %d outgoing edges, want 3", platform.ErrSchemaViolation, id, d.OutDegree(id))
		}
	}
	return nil
}

// detectCycle runs a standard three-color DFS over the edge list.
func (d *DAG) detectCycle() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.Nodes))
	adj := make(map[string][]string, len(d.Nodes))
	for _, e := range d.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	var visit func(string) error
	visit = func(node string) error {
		color[node] = gray
		for _, next := range adj[node] {
			switch color[next] {
			case gray:
				return fmt.Errorf("%w: cycle detected through node %q", platform.ErrSchemaViolation, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[node] = black
		return nil
	}

	for _, id := range d.NodeIDs() {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateContent checks spec.md §3's post-phase-2 content invariant: every
// node's text is non-empty and every choice's next_node_id exists.
func (d *DAG) ValidateContent() error {
	for id, node := range d.Nodes {
		if node.Content.Text == "" {
			return fmt.Errorf("%w: node %q has empty text", platform.ErrSchemaViolation, id)
		}
		for _, choice := range node.Content.Choices {
			if _, ok := d.Nodes[choice.NextNodeID]; !ok {
				return fmt.Errorf("%w: node %q choice %q targets unknown node %q", platform.ErrSchemaViolation, id, choice.ID, choice.NextNodeID)
			}
		}
	}
	return nil
}

// MissingContentIDs returns, in sorted order, the ids of nodes whose
// content has not yet been generated (empty text). Used by the Generation
// phase to compute what remains after a partial batch success.
func (d *DAG) MissingContentIDs() []string {
	var missing []string
	for _, id := range d.NodeIDs() {
		if d.Nodes[id].Content.Text == "" {
			missing = append(missing, id)
		}
	}
	return missing
}

// ApplyNodes assembles generated content nodes onto the DAG, keyed by node
// id. Assembly is commutative: callers may apply nodes from concurrent
// batches in any order.
func (d *DAG) ApplyNodes(nodes []ContentNode) {
	for i := range nodes {
		n := nodes[i]
		if existing, ok := d.Nodes[n.ID]; ok {
			*existing = n
		} else {
			d.Nodes[n.ID] = &n
		}
	}
}

// LinkChoices sets every choice's next_node_id from the skeleton's Edges,
// matching a node's outgoing Edge.ChoiceID against the node's
// Content.Choices[i].ID — the generated content carries choice text, but
// the skeleton built in the Structure phase is the sole authority on
// where a choice actually leads. Call once all node content has been
// applied, before ValidateContent.
func (d *DAG) LinkChoices() {
	outgoing := make(map[string][]Edge, len(d.Nodes))
	for _, e := range d.Edges {
		outgoing[e.From] = append(outgoing[e.From], e)
	}
	for id, node := range d.Nodes {
		for i := range node.Content.Choices {
			choice := &node.Content.Choices[i]
			for _, e := range outgoing[id] {
				if e.ChoiceID == choice.ID {
					choice.NextNodeID = e.To
					break
				}
			}
		}
	}
}
