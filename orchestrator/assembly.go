package orchestrator

import "github.com/storyforge/pipeline/domain"

// assemble builds the final Trail once dag has passed Validation (and, if
// needed, Negotiation) — spec.md §4.4's Assembly phase.
func (e *execution) assemble(dag *domain.DAG) *domain.Trail {
	return &domain.Trail{
		RequestID:     e.requestID,
		Tenant:        e.tenant,
		Request:       e.req,
		DAG:           dag,
		InvocationLog: e.snapshotLog(),
	}
}
