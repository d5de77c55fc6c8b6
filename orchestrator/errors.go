package orchestrator

import (
	"fmt"

	"github.com/storyforge/pipeline/domain"
)

// OrchestrationErrorKind enumerates spec.md §4.4's closed error vocabulary
// for generate's failure outcome.
type OrchestrationErrorKind string

const (
	ErrDiscoveryFailed         OrchestrationErrorKind = "DiscoveryFailed"
	ErrPromptFailed            OrchestrationErrorKind = "PromptFailed"
	ErrStructureFailed         OrchestrationErrorKind = "StructureFailed"
	ErrContentFailed           OrchestrationErrorKind = "ContentFailed"
	ErrValidationUnrecoverable OrchestrationErrorKind = "ValidationUnrecoverable"
	ErrConstraintUnrecoverable OrchestrationErrorKind = "ConstraintUnrecoverable"
	ErrTimeoutExceeded         OrchestrationErrorKind = "TimeoutExceeded"
	ErrCancelled               OrchestrationErrorKind = "Cancelled"
)

// OrchestrationError is generate's structured failure outcome: the failing
// phase, the last-known state summary, and the accumulated invocation log
// (spec.md §7's "user-visible failure" contract).
type OrchestrationError struct {
	Kind    OrchestrationErrorKind
	Phase   domain.GenerationPhase
	Message string
	Log     []domain.InvocationLogEntry
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestration failed in phase %s: %s: %s", e.Phase, e.Kind, e.Message)
}

// negotiationFailure carries the OrchestrationErrorKind the negotiation
// phase has already determined (ValidationUnrecoverable vs
// ConstraintUnrecoverable) so Generate doesn't have to re-derive it.
type negotiationFailure struct {
	kind OrchestrationErrorKind
	err  error
}

func (n *negotiationFailure) Error() string { return n.err.Error() }
func (n *negotiationFailure) Unwrap() error { return n.err }
