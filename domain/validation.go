package domain

// Severity grades a single rule violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Violation is one rule failure a validator or constraint enforcer reports
// against a node.
type Violation struct {
	Rule         string   `json:"rule"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	SuggestedFix *Patch   `json:"suggested_fix,omitempty"`
}

// ResolutionCapability is the closed vocabulary a validator declares per
// failed node: what it (or the Orchestrator) can do about the failure.
type ResolutionCapability string

const (
	CapabilitySelfFix         ResolutionCapability = "self_fix"
	CapabilityRegenerateNode  ResolutionCapability = "regenerate_node"
	CapabilityDiscardTrail    ResolutionCapability = "discard_trail"
)

// ValidationResult is Quality Control's per-node verdict.
type ValidationResult struct {
	NodeID     string                `json:"node_id"`
	Passed     bool                  `json:"passed"`
	Violations []Violation           `json:"violations,omitempty"`
	Capability ResolutionCapability  `json:"capability,omitempty"`
}

// ConstraintResult is Constraint Enforcer's per-node verdict. Same shape as
// ValidationResult; kept as a distinct type because the two validators are
// independent services with independently evolving schemas, per spec.md §3.
type ConstraintResult struct {
	NodeID     string                `json:"node_id"`
	Passed     bool                  `json:"passed"`
	Violations []Violation           `json:"violations,omitempty"`
	Capability ResolutionCapability  `json:"capability,omitempty"`
}

// Patch is a content-level correction suggest_corrections proposes for a
// self_fix-capable verdict.
type Patch struct {
	NodeID      string `json:"node_id"`
	Field       string `json:"field"`        // "content.text" or "content.choices[].text" (index in ChoiceIndex)
	ChoiceIndex int    `json:"choice_index,omitempty"`
	Replacement string `json:"replacement"`
}

// Apply mutates node in place per the patch's Field selector. Returns false
// if Field names something Apply does not recognize, leaving node
// untouched so the caller can fall back to regeneration.
func (p *Patch) Apply(node *ContentNode) bool {
	switch p.Field {
	case "content.text":
		node.Content.Text = p.Replacement
		return true
	case "content.choices[].text":
		if p.ChoiceIndex >= 0 && p.ChoiceIndex < len(node.Content.Choices) {
			node.Content.Choices[p.ChoiceIndex].Text = p.Replacement
			return true
		}
		return false
	default:
		return false
	}
}

// Corrections is suggest_corrections' result: a patch set plus the
// validator's capability claim about whether these patches alone suffice.
type Corrections struct {
	Patches    []Patch               `json:"patches"`
	Capability ResolutionCapability  `json:"capability"`
}
