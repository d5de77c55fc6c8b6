package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storyforge/pipeline/domain"
)

// runNegotiation implements spec.md §4.4's resolution algorithm: collect
// verdicts per failing node, discard_trail anywhere fails the whole
// request, an all-self_fix node is patched and re-validated locally, and
// any regenerate_node verdict adds the node to a batch replayed through
// Generation. The loop runs at most cfg.NegotiationRounds times.
func (e *execution) runNegotiation(ctx context.Context, dag *domain.DAG, qc map[string]domain.ValidationResult, ce map[string]domain.ConstraintResult) error {
	for round := 0; round < e.o.cfg.NegotiationRounds; round++ {
		failing := failingNodes(dag, qc, ce)
		if len(failing) == 0 {
			return nil
		}

		var regenerate []string
		violationContext := make(map[string][]string)

		for _, id := range failing {
			qr, hasQC := qc[id]
			cr, hasCE := ce[id]

			if (hasQC && qr.Capability == domain.CapabilityDiscardTrail) || (hasCE && cr.Capability == domain.CapabilityDiscardTrail) {
				return &negotiationFailure{kind: ErrValidationUnrecoverable, err: fmt.Errorf("node %s: discard_trail verdict, request cannot be salvaged", id)}
			}

			needsRegenerate := (hasQC && qr.Capability == domain.CapabilityRegenerateNode) || (hasCE && cr.Capability == domain.CapabilityRegenerateNode)
			if needsRegenerate {
				regenerate = append(regenerate, id)
				violationContext[id] = collectMessages(qr, cr)
				continue
			}

			// Every remaining verdict for this node is self_fix.
			fixed, err := e.applySelfFix(ctx, dag, id, qr, cr, hasQC, hasCE)
			if err != nil {
				return err
			}
			if !fixed {
				regenerate = append(regenerate, id)
				violationContext[id] = collectMessages(qr, cr)
			}
		}

		if len(regenerate) > 0 {
			if err := e.generateBatchWithRetry(ctx, dag, regenerate, violationContext); err != nil {
				return &negotiationFailure{kind: ErrContentFailed, err: err}
			}
		}

		var err error
		qc, ce, err = e.runValidation(ctx, dag)
		if err != nil {
			return err
		}
	}

	failing := failingNodes(dag, qc, ce)
	if len(failing) == 0 {
		return nil
	}
	kind := ErrValidationUnrecoverable
	if onlyConstraintFailures(failing, qc, ce) {
		kind = ErrConstraintUnrecoverable
	}
	return &negotiationFailure{kind: kind, err: fmt.Errorf("nodes %v still failing after %d negotiation rounds", failing, e.o.cfg.NegotiationRounds)}
}

func failingNodes(dag *domain.DAG, qc map[string]domain.ValidationResult, ce map[string]domain.ConstraintResult) []string {
	var failing []string
	for _, id := range dag.NodeIDs() {
		if r, ok := qc[id]; ok && !r.Passed {
			failing = append(failing, id)
			continue
		}
		if r, ok := ce[id]; ok && !r.Passed {
			failing = append(failing, id)
		}
	}
	return failing
}

// onlyConstraintFailures reports whether every still-failing node fails
// solely because of Constraint Enforcer, with Quality Control passing —
// the Orchestrator uses this to choose ErrConstraintUnrecoverable over
// the default ErrValidationUnrecoverable.
func onlyConstraintFailures(failing []string, qc map[string]domain.ValidationResult, ce map[string]domain.ConstraintResult) bool {
	for _, id := range failing {
		if r, ok := qc[id]; ok && !r.Passed {
			return false
		}
	}
	return true
}

func collectMessages(qr domain.ValidationResult, cr domain.ConstraintResult) []string {
	var msgs []string
	for _, v := range qr.Violations {
		msgs = append(msgs, v.Message)
	}
	for _, v := range cr.Violations {
		msgs = append(msgs, v.Message)
	}
	return msgs
}

// applySelfFix calls suggest_corrections on whichever validator(s)
// reported self_fix, applies the returned patches locally to dag, and
// re-validates the single node synchronously. It reports whether the node
// now passes both validators; a false result escalates the node to
// regeneration in the caller's current round rather than spending another
// negotiation round on it.
func (e *execution) applySelfFix(ctx context.Context, dag *domain.DAG, id string, qr domain.ValidationResult, cr domain.ConstraintResult, hasQC, hasCE bool) (bool, error) {
	node := dag.Nodes[id]

	if hasQC && !qr.Passed && qr.Capability == domain.CapabilitySelfFix {
		patches, err := e.suggestCorrections(ctx, e.o.subjects.QualityControl, "quality-control", *node, qr.Violations)
		if err != nil {
			return false, err
		}
		for _, p := range patches.Patches {
			p.Apply(node)
		}
	}
	if hasCE && !cr.Passed && cr.Capability == domain.CapabilitySelfFix {
		patches, err := e.suggestCorrections(ctx, e.o.subjects.ConstraintEnforcer, "constraint-enforcer", *node, cr.Violations)
		if err != nil {
			return false, err
		}
		for _, p := range patches.Patches {
			p.Apply(node)
		}
	}

	newQR, newCR, err := e.revalidateOne(ctx, *node)
	if err != nil {
		return false, err
	}
	return newQR.Passed && newCR.Passed, nil
}

func (e *execution) suggestCorrections(ctx context.Context, subject, service string, node domain.ContentNode, violations []domain.Violation) (domain.Corrections, error) {
	args := map[string]interface{}{"node": node, "violations": violations}
	resp, err := e.callTool(ctx, service, subject, "suggest_corrections", domain.PhaseNegotiation, args, e.o.cfg.PhaseTimeout)
	if err != nil {
		return domain.Corrections{}, err
	}
	var corrections domain.Corrections
	if err := json.Unmarshal(resp.JSONResult(), &corrections); err != nil {
		return domain.Corrections{}, fmt.Errorf("decode suggest_corrections response: %w", err)
	}
	return corrections, nil
}

func (e *execution) revalidateOne(ctx context.Context, node domain.ContentNode) (domain.ValidationResult, domain.ConstraintResult, error) {
	qcArgs := map[string]interface{}{"node": node, "age_group": e.req.AgeGroup, "educational_goals": e.req.EducationalGoals}
	qcResp, err := e.callTool(ctx, "quality-control", e.o.subjects.QualityControl, "validate_content", domain.PhaseNegotiation, qcArgs, e.o.cfg.PhaseTimeout)
	if err != nil {
		return domain.ValidationResult{}, domain.ConstraintResult{}, err
	}
	var qr domain.ValidationResult
	if err := json.Unmarshal(qcResp.JSONResult(), &qr); err != nil {
		return domain.ValidationResult{}, domain.ConstraintResult{}, fmt.Errorf("decode validate_content response: %w", err)
	}

	ceArgs := map[string]interface{}{"node": node, "theme": e.req.Theme, "required_elements": e.req.RequiredElements}
	ceResp, err := e.callTool(ctx, "constraint-enforcer", e.o.subjects.ConstraintEnforcer, "enforce_constraints", domain.PhaseNegotiation, ceArgs, e.o.cfg.PhaseTimeout)
	if err != nil {
		return domain.ValidationResult{}, domain.ConstraintResult{}, err
	}
	var cr domain.ConstraintResult
	if err := json.Unmarshal(ceResp.JSONResult(), &cr); err != nil {
		return domain.ValidationResult{}, domain.ConstraintResult{}, fmt.Errorf("decode enforce_constraints response: %w", err)
	}

	return qr, cr, nil
}
