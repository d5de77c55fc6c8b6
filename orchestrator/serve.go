package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/domain"
)

// ToolGenerate is the name of the single tool call the Orchestrator
// exposes over the bus: the public entry point named in spec.md §6's
// "Auxiliary CLI" contract, which wraps any tool call in a full Envelope
// and expects a reply envelope back.
const ToolGenerate = "generate"

// ServeBus exposes Generate as a bus-facing tool call on subject within
// queueGroup, so the operator CLI (or any other caller speaking the
// envelope protocol) can trigger one generation without importing this
// package directly.
func (o *Orchestrator) ServeBus(b bus.Bus, subject, queueGroup string) (bus.Subscription, error) {
	return b.QueueSubscribe(subject, queueGroup, o.handleBusRequest)
}

func (o *Orchestrator) handleBusRequest(ctx context.Context, req *domain.Envelope) (*domain.Envelope, error) {
	if err := domain.Validate(req); err != nil {
		return domain.ReplyError(req, "orchestrator", &domain.EnvelopeError{Kind: "SchemaViolation", Message: err.Error()}), nil
	}
	call := req.Payload.ToolCall
	if call == nil {
		return domain.ReplyError(req, "orchestrator", &domain.EnvelopeError{Kind: "SchemaViolation", Message: "expected a tool_call payload"}), nil
	}
	if call.Name != ToolGenerate {
		resp := domain.NewErrorResponse(domain.ErrKindUnsupportedTool, fmt.Sprintf("orchestrator does not expose tool %q", call.Name))
		return domain.ReplyFrom(req, "orchestrator", domain.Payload{ToolResponse: resp}), nil
	}

	var genReq domain.GenerationRequest
	if err := json.Unmarshal(call.Arguments, &genReq); err != nil {
		resp := domain.NewErrorResponse(domain.ErrKindInvalidArgument, err.Error())
		return domain.ReplyFrom(req, "orchestrator", domain.Payload{ToolResponse: resp}), nil
	}
	if genReq.Tenant == "" {
		genReq.Tenant = req.Meta.Tenant
	}

	trail, orchErr := o.Generate(ctx, genReq)
	if orchErr != nil {
		resp := domain.NewErrorResponse(domain.ToolErrorKind(orchErr.Kind), orchErr.Message)
		return domain.ReplyFrom(req, "orchestrator", domain.Payload{ToolResponse: resp}), nil
	}

	raw, err := json.Marshal(trail)
	if err != nil {
		resp := domain.NewErrorResponse(domain.ErrKindUpstreamFailure, err.Error())
		return domain.ReplyFrom(req, "orchestrator", domain.Payload{ToolResponse: resp}), nil
	}
	return domain.ReplyFrom(req, "orchestrator", domain.Payload{ToolResponse: &domain.ToolResponse{
		Content: []domain.ContentItem{{Type: domain.ContentJSON, JSON: raw}},
	}}), nil
}
