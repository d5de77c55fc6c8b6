package domain

import "time"

// InvocationOutcome classifies one logged tool call's result.
type InvocationOutcome string

const (
	OutcomeSuccess InvocationOutcome = "success"
	OutcomeFailure InvocationOutcome = "failure"
	OutcomeRetried InvocationOutcome = "retried"
)

// InvocationLogEntry records one tool call the Orchestrator made, for
// inclusion in the final Trail and for the "last-known state summary" an
// OrchestrationError surfaces on failure.
type InvocationLogEntry struct {
	Service   string            `json:"service"`
	Phase     GenerationPhase   `json:"phase"`
	Tool      string            `json:"tool"`
	Start     time.Time         `json:"start"`
	Duration  time.Duration     `json:"duration"`
	Outcome   InvocationOutcome `json:"outcome"`
	Error     string            `json:"error,omitempty"`
	Attempt   int               `json:"attempt,omitempty"`
	NodeIDs   []string          `json:"node_ids,omitempty"`
}

// Trail is the final assembled artefact: DAG plus request metadata plus
// the per-service invocation log. Persisted externally; the core only
// produces the document.
type Trail struct {
	RequestID      string                `json:"request_id"`
	Tenant         string                `json:"tenant"`
	Request        GenerationRequest     `json:"request"`
	DAG            *DAG                  `json:"dag"`
	InvocationLog  []InvocationLogEntry  `json:"invocation_log"`
	CompletedAt    time.Time             `json:"completed_at"`
}
