// Package domain defines the wire contract every storyforge service speaks:
// the envelope, its tool-call payload variants, the DAG/trail content model,
// and the validator capability vocabulary. None of it touches transport;
// bus and discovery build on top of these types.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/pipeline/platform"
)

// EnvelopeVersion is the current and minimum supported envelope schema
// version. validate rejects anything outside [MinEnvelopeVersion,
// EnvelopeVersion].
const (
	EnvelopeVersion    = 1
	MinEnvelopeVersion = 1
)

// GenerationPhase is the domain extension stored under meta.extensions at
// the well-known key ExtensionPhase.
type GenerationPhase string

const (
	PhasePromptGeneration GenerationPhase = "PromptGeneration"
	PhaseStructure        GenerationPhase = "Structure"
	PhaseGeneration       GenerationPhase = "Generation"
	PhaseValidation       GenerationPhase = "Validation"
	PhaseNegotiation      GenerationPhase = "Negotiation"
	PhaseAssembly         GenerationPhase = "Assembly"
	PhaseComplete         GenerationPhase = "Complete"
)

// Well-known meta.extensions keys for the domain extension described in
// spec.md §3.
const (
	ExtensionPhase         = "generation_phase"
	ExtensionBatchID       = "batch_id"
	ExtensionCorrelationID = "correlation_id"
)

// Meta is the envelope's metadata block. Extensions is an open mapping so
// unknown keys round-trip unchanged through serialize/deserialize.
type Meta struct {
	RequestID     string        `json:"request_id"`
	CorrelationID string        `json:"correlation_id"`
	Tenant        string        `json:"tenant,omitempty"`
	Version       int           `json:"version"`
	Timestamp     time.Time     `json:"timestamp"`
	Duration      time.Duration `json:"duration,omitempty"`
	SourceService string        `json:"source_service,omitempty"`
	Protocol      string        `json:"protocol,omitempty"`

	Security   map[string]interface{} `json:"security,omitempty"`
	Tracing    map[string]interface{} `json:"tracing,omitempty"`
	Performance map[string]interface{} `json:"performance,omitempty"`
	Monitoring map[string]interface{} `json:"monitoring,omitempty"`
	Debug      map[string]interface{} `json:"debug,omitempty"`

	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Phase reads the ExtensionPhase key, returning "" if unset or malformed.
func (m *Meta) Phase() GenerationPhase {
	if m.Extensions == nil {
		return ""
	}
	if v, ok := m.Extensions[ExtensionPhase]; ok {
		if s, ok := v.(string); ok {
			return GenerationPhase(s)
		}
	}
	return ""
}

// SetPhase writes the ExtensionPhase key.
func (m *Meta) SetPhase(p GenerationPhase) {
	if m.Extensions == nil {
		m.Extensions = make(map[string]interface{})
	}
	m.Extensions[ExtensionPhase] = string(p)
}

// BatchID reads the ExtensionBatchID key, returning "" if unset.
func (m *Meta) BatchID() string {
	if m.Extensions == nil {
		return ""
	}
	if v, ok := m.Extensions[ExtensionBatchID]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SetBatchID writes the ExtensionBatchID key.
func (m *Meta) SetBatchID(id string) {
	if m.Extensions == nil {
		m.Extensions = make(map[string]interface{})
	}
	m.Extensions[ExtensionBatchID] = id
}

// Payload is a tagged variant: exactly one of the four fields is non-nil on
// a validated envelope. The discriminator is implicit in which field is
// set, matching spec.md §3's "tagged payload" description.
type Payload struct {
	ToolCall         *ToolCall         `json:"tool_call,omitempty"`
	ToolResponse     *ToolResponse     `json:"tool_response,omitempty"`
	ToolRegistration *ToolRegistration `json:"tool_registration,omitempty"`
	DiscoveryData    *DiscoveryInfo    `json:"discovery_data,omitempty"`
}

// variantCount returns how many of Payload's fields are set.
func (p Payload) variantCount() int {
	n := 0
	if p.ToolCall != nil {
		n++
	}
	if p.ToolResponse != nil {
		n++
	}
	if p.ToolRegistration != nil {
		n++
	}
	if p.DiscoveryData != nil {
		n++
	}
	return n
}

// EnvelopeError is a structured, envelope-level failure. Distinct from a
// tool_response's is_error flag: this is reserved for protocol violations
// (spec.md §3's invariant).
type EnvelopeError struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *EnvelopeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Envelope is the uniform wrapper on every request and reply that crosses
// the bus.
type Envelope struct {
	Meta    Meta           `json:"meta"`
	Payload Payload        `json:"payload"`
	Error   *EnvelopeError `json:"error,omitempty"`
}

// Wrap constructs an envelope from meta and payload. It stamps a fresh
// RequestID and Timestamp when the caller has not already supplied one;
// caller-supplied ids are preserved untouched.
func Wrap(meta Meta, payload Payload) *Envelope {
	if meta.RequestID == "" {
		meta.RequestID = uuid.New().String()
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = meta.RequestID
	}
	if meta.Version == 0 {
		meta.Version = EnvelopeVersion
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	return &Envelope{Meta: meta, Payload: payload}
}

// ReplyFrom produces a response envelope that inherits RequestID,
// CorrelationID, Tenant, and Extensions from request, stamps a fresh reply
// Timestamp, fills Duration (time elapsed since request.Meta.Timestamp),
// and sets SourceService to responder.
func ReplyFrom(request *Envelope, responder string, payload Payload) *Envelope {
	now := time.Now().UTC()
	extensions := make(map[string]interface{}, len(request.Meta.Extensions))
	for k, v := range request.Meta.Extensions {
		extensions[k] = v
	}
	reply := &Envelope{
		Meta: Meta{
			RequestID:     request.Meta.RequestID,
			CorrelationID: request.Meta.CorrelationID,
			Tenant:        request.Meta.Tenant,
			Version:       EnvelopeVersion,
			Timestamp:     now,
			SourceService: responder,
			Protocol:      request.Meta.Protocol,
			Extensions:    extensions,
		},
		Payload: payload,
	}
	if !request.Meta.Timestamp.IsZero() {
		reply.Meta.Duration = now.Sub(request.Meta.Timestamp)
	}
	return reply
}

// ReplyError produces an envelope-level error reply inheriting context from
// request, the same way ReplyFrom does for a success payload.
func ReplyError(request *Envelope, responder string, envErr *EnvelopeError) *Envelope {
	reply := ReplyFrom(request, responder, Payload{})
	reply.Error = envErr
	return reply
}

// Validate fails with platform.ErrSchemaViolation when any declared
// required field is missing, platform.ErrDuplicatePayload when payload
// carries more than one variant, or platform.ErrUnsupportedVersion when
// Meta.Version is outside the supported range.
func Validate(e *Envelope) error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", platform.ErrSchemaViolation)
	}
	if e.Meta.RequestID == "" {
		return fmt.Errorf("%w: missing meta.request_id", platform.ErrSchemaViolation)
	}
	if e.Meta.CorrelationID == "" {
		return fmt.Errorf("%w: missing meta.correlation_id", platform.ErrSchemaViolation)
	}
	if e.Meta.Version < MinEnvelopeVersion || e.Meta.Version > EnvelopeVersion {
		return fmt.Errorf("%w: version %d not in [%d,%d]", platform.ErrUnsupportedVersion, e.Meta.Version, MinEnvelopeVersion, EnvelopeVersion)
	}
	n := e.Payload.variantCount()
	if n > 1 {
		return fmt.Errorf("%w: %d payload variants set", platform.ErrDuplicatePayload, n)
	}
	if n == 0 && e.Error == nil {
		return fmt.Errorf("%w: envelope carries neither a payload variant nor an error", platform.ErrSchemaViolation)
	}
	return nil
}

// Serialize renders e as round-trip-stable JSON.
func Serialize(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Deserialize parses bytes produced by Serialize. Unknown fields under
// meta.extensions are preserved because Extensions is a generic map, not a
// struct.
func Deserialize(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrSchemaViolation, err)
	}
	return &e, nil
}
