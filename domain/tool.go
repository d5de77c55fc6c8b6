package domain

import "encoding/json"

// ToolCall is the request-side payload variant: a tool name plus its
// JSON-Schema-validated arguments.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentItemType discriminates ToolResponse.Content entries.
type ContentItemType string

const (
	ContentJSON ContentItemType = "json"
	ContentText ContentItemType = "text"
)

// ContentItem is one entry in a ToolResponse's ordered content sequence.
// The canonical result is the first ContentJSON item; additional items may
// carry human-readable text.
type ContentItem struct {
	Type ContentItemType `json:"type"`
	JSON json.RawMessage `json:"json,omitempty"`
	Text string          `json:"text,omitempty"`
}

// ToolErrorKind enumerates the application-error sub-kinds spec.md §7
// names under "Tool application".
type ToolErrorKind string

const (
	ErrKindInvalidArgument       ToolErrorKind = "InvalidArgument"
	ErrKindUpstreamFailure       ToolErrorKind = "UpstreamFailure"
	ErrKindTimeout               ToolErrorKind = "Timeout"
	ErrKindUnsupportedTool       ToolErrorKind = "UnsupportedTool"
	ErrKindSchemaValidationFailed ToolErrorKind = "SchemaValidationFailed"
	ErrKindBudgetExceeded        ToolErrorKind = "BudgetExceeded"
)

// ToolErrorDetail is carried as a JSON content item when IsError is true.
type ToolErrorDetail struct {
	ErrorKind ToolErrorKind `json:"error_kind"`
	Message   string        `json:"message"`
}

// ToolResponse is the reply-side payload variant.
type ToolResponse struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"is_error"`
}

// JSONResult returns the first ContentJSON item's raw bytes, or nil if
// none is present.
func (r *ToolResponse) JSONResult() json.RawMessage {
	for _, item := range r.Content {
		if item.Type == ContentJSON {
			return item.JSON
		}
	}
	return nil
}

// NewJSONResponse builds a success ToolResponse wrapping v as its single
// canonical JSON content item.
func NewJSONResponse(v interface{}) (*ToolResponse, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &ToolResponse{Content: []ContentItem{{Type: ContentJSON, JSON: raw}}}, nil
}

// NewErrorResponse builds an application-error ToolResponse.
func NewErrorResponse(kind ToolErrorKind, message string) *ToolResponse {
	detail := ToolErrorDetail{ErrorKind: kind, Message: message}
	raw, _ := json.Marshal(detail)
	return &ToolResponse{
		IsError: true,
		Content: []ContentItem{{Type: ContentJSON, JSON: raw}},
	}
}

// Capability is drawn from the closed vocabulary a tool declares at
// registration time.
type Capability string

const (
	CapabilityBatching  Capability = "Batching"
	CapabilityStreaming Capability = "Streaming"
	CapabilityCaching   Capability = "Caching"
	CapabilityRetry     Capability = "Retry"
)

// ToolRegistration describes one tool a service exposes.
type ToolRegistration struct {
	ToolName       string          `json:"tool_name"`
	ToolSchema     json.RawMessage `json:"tool_schema"`
	ServiceName    string          `json:"service_name"`
	ServiceVersion string          `json:"service_version"`
	Capabilities   []Capability    `json:"capabilities"`
}

// HasCapability reports whether the registration declares cap.
func (t *ToolRegistration) HasCapability(cap Capability) bool {
	for _, c := range t.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// ServiceHealth is DiscoveryInfo's health vocabulary, matching the closed
// set spec.md §3 and §4.2 describe.
type ServiceHealth string

const (
	HealthHealthy   ServiceHealth = "healthy"
	HealthDegraded  ServiceHealth = "degraded"
	HealthUnhealthy ServiceHealth = "unhealthy"
)

// DiscoveryInfo is the reply-side payload a service's discovery endpoint
// returns.
type DiscoveryInfo struct {
	AvailableTools []ToolRegistration `json:"available_tools"`
	ServiceHealth  ServiceHealth      `json:"service_health"`
	UptimeSeconds  float64            `json:"uptime_seconds"`
}

// HasTool reports whether name is among AvailableTools.
func (d *DiscoveryInfo) HasTool(name string) bool {
	for _, t := range d.AvailableTools {
		if t.ToolName == name {
			return true
		}
	}
	return false
}
