// Package platform supplies the ambient engineering layer shared by every
// storyforge service: configuration, structured logging, telemetry wiring
// and a common error taxonomy. None of it is domain-specific; the envelope,
// orchestrator and tool-service packages build on top of it.
package platform

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is(). Grouped by the
// responsibility that raises them.
var (
	// Transport
	ErrTimeout           = errors.New("transport timeout")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrBusUnavailable    = errors.New("message bus unavailable")
	ErrContextCanceled   = errors.New("context canceled")

	// Envelope
	ErrSchemaViolation    = errors.New("envelope schema violation")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrDuplicatePayload   = errors.New("envelope carries more than one payload variant")

	// Discovery
	ErrMissingTool      = errors.New("required tool missing from discovery")
	ErrServiceUnhealthy = errors.New("service reported unhealthy")
	ErrDiscoveryTimeout = errors.New("discovery request timed out")

	// Tool application
	ErrInvalidArgument       = errors.New("invalid tool argument")
	ErrUpstreamFailure       = errors.New("upstream provider failure")
	ErrUnsupportedTool       = errors.New("unsupported tool name")
	ErrOutputSchemaViolation = errors.New("tool output failed schema validation")
	ErrBudgetExceeded        = errors.New("tool execution budget exceeded")

	// Orchestration
	ErrNegotiationExceeded = errors.New("negotiation round budget exceeded")
	ErrRetryBudgetExceeded = errors.New("retry budget exceeded")
	ErrDiscardTrail        = errors.New("validator declared the trail unrecoverable")
	ErrCancelled           = errors.New("request cancelled")

	// Resilience
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Configuration / state
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
	ErrAlreadyStarted       = errors.New("already started")
	ErrNotInitialized       = errors.New("not initialized")
)

// FrameworkError carries structured context for an error: which operation
// failed, what kind of failure it was, and an optional entity id, wrapping
// an underlying sentinel or transport error so errors.Is/As keep working.
type FrameworkError struct {
	Op      string // e.g. "envelope.Validate", "discovery.Preflight"
	Kind    string // e.g. "envelope", "discovery", "orchestration"
	ID      string // optional: request id, node id, service name
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error { return e.Err }

// NewFrameworkError wraps err with operation/kind context.
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// IsRetryable reports whether err represents a transient condition the
// caller should retry with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrBusUnavailable) ||
		errors.Is(err, ErrDiscoveryTimeout)
}

// IsEnvelopeError reports whether err is a protocol-level (not retryable)
// envelope failure.
func IsEnvelopeError(err error) bool {
	return errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrDuplicatePayload)
}

// IsDiscoveryError reports whether err originates from the discovery
// pre-flight.
func IsDiscoveryError(err error) bool {
	return errors.Is(err, ErrMissingTool) ||
		errors.Is(err, ErrServiceUnhealthy) ||
		errors.Is(err, ErrDiscoveryTimeout)
}

// IsCancelled reports whether err represents request cancellation rather
// than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrContextCanceled)
}

// IsConfigurationError reports whether err is a configuration problem.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrMissingConfiguration)
}

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMissingTool) || errors.Is(err, ErrUnsupportedTool)
}

// IsStateError reports whether err is an invalid-state-transition error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) || errors.Is(err, ErrNotInitialized)
}
