// Package toolsvc is the shared message loop every tool service (Prompt
// Helper, Story Generator, Quality Control, Constraint Enforcer) runs:
// subscribe on one subject within a queue group, validate and dispatch by
// tool_call.name, wrap execution in a deadline, and answer discovery and
// health queries. Spec.md §4.3 names this scaffolding once so it is built
// once, here, rather than four times.
package toolsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
)

// ToolFunc executes one tool call. args is the raw tool_call.arguments
// JSON; implementations unmarshal it themselves after schema validation
// has already passed.
type ToolFunc func(ctx context.Context, args []byte) (*domain.ToolResponse, error)

// registeredTool bundles a ToolFunc with its registration metadata and a
// pre-compiled schema validator.
type registeredTool struct {
	reg      domain.ToolRegistration
	fn       ToolFunc
	schema   *jsonschema.Schema
	deadline time.Duration
}

// Service is the shared scaffold every tool service embeds. It owns the
// bus subscription, tool dispatch table, idempotence cache, and discovery
// responder.
type Service struct {
	Name    string
	Version string
	Subject string
	Queue   string

	bus     bus.Bus
	logger  platform.Logger
	telem   platform.Telemetry
	started time.Time

	mu    sync.RWMutex
	tools map[string]*registeredTool

	idemMu     sync.Mutex
	idempotent map[string]idempotentEntry
	idemWindow time.Duration

	healthFn func() domain.ServiceHealth

	sub        bus.Subscription
	discoverySub bus.Subscription
}

type idempotentEntry struct {
	at    time.Time
	reply *domain.Envelope
}

// New constructs a Service. subject is this service's tool-invocation
// subject; discoverySubject its discovery endpoint (spec.md §4.2/§6).
func New(name, version, subject string, b bus.Bus, logger platform.Logger, telem platform.Telemetry) *Service {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if telem == nil {
		telem = platform.NoOpTelemetry{}
	}
	return &Service{
		Name:       name,
		Version:    version,
		Subject:    subject,
		Queue:      name + "-workers",
		bus:        b,
		logger:     logger,
		telem:      telem,
		started:    time.Now(),
		tools:      make(map[string]*registeredTool),
		idempotent: make(map[string]idempotentEntry),
		idemWindow: bus.DefaultIdempotenceWindow,
		healthFn:   func() domain.ServiceHealth { return domain.HealthHealthy },
	}
}

// SetHealthFunc overrides the default always-healthy health callback.
func (s *Service) SetHealthFunc(fn func() domain.ServiceHealth) { s.healthFn = fn }

// DiscoveryInfo reports the same {available_tools, service_health,
// uptime_seconds} document the bus discovery endpoint replies with, for
// the HTTP /readyz surface (spec.md §4.2, §4.7).
func (s *Service) DiscoveryInfo() domain.DiscoveryInfo {
	return domain.DiscoveryInfo{
		AvailableTools: s.Registrations(),
		ServiceHealth:  s.healthFn(),
		UptimeSeconds:  time.Since(s.started).Seconds(),
	}
}

// RegisterTool adds tool to the dispatch table. schemaJSON is the tool's
// JSON Schema for its input (compiled once, at registration time);
// deadline bounds a single call's execution (spec.md §4.3's per-call
// deadline).
func (s *Service) RegisterTool(reg domain.ToolRegistration, schemaJSON []byte, deadline time.Duration, fn ToolFunc) error {
	compiler := jsonschema.NewCompiler()
	var compiled *jsonschema.Schema
	if len(schemaJSON) > 0 {
		resourceName := reg.ToolName + ".schema.json"
		if err := compiler.AddResource(resourceName, jsonDecode(schemaJSON)); err != nil {
			return fmt.Errorf("%w: compile schema for %s: %v", platform.ErrInvalidConfiguration, reg.ToolName, err)
		}
		sc, err := compiler.Compile(resourceName)
		if err != nil {
			return fmt.Errorf("%w: compile schema for %s: %v", platform.ErrInvalidConfiguration, reg.ToolName, err)
		}
		compiled = sc
	}
	reg.ToolSchema = schemaJSON
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[reg.ToolName] = &registeredTool{reg: reg, fn: fn, schema: compiled, deadline: deadline}
	return nil
}

// Registrations returns every registered tool's ToolRegistration, in the
// shape a discovery reply needs.
func (s *Service) Registrations() []domain.ToolRegistration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ToolRegistration, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.reg)
	}
	return out
}

// Start subscribes the tool-invocation and discovery handlers within the
// service's queue group, so replicas load-balance (spec.md §4.3).
func (s *Service) Start() error {
	sub, err := s.bus.QueueSubscribe(s.Subject, s.Queue, s.handle)
	if err != nil {
		return err
	}
	s.sub = sub

	discoverySubject := s.Subject + ".discovery"
	dsub, err := s.bus.QueueSubscribe(discoverySubject, s.Queue, s.handleDiscovery)
	if err != nil {
		_ = sub.Unsubscribe()
		return err
	}
	s.discoverySub = dsub
	return nil
}

// Stop tears down both subscriptions.
func (s *Service) Stop() error {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.discoverySub != nil {
		_ = s.discoverySub.Unsubscribe()
	}
	return nil
}

func (s *Service) handleDiscovery(ctx context.Context, req *domain.Envelope) (*domain.Envelope, error) {
	info := domain.DiscoveryInfo{
		AvailableTools: s.Registrations(),
		ServiceHealth:  s.healthFn(),
		UptimeSeconds:  time.Since(s.started).Seconds(),
	}
	return domain.ReplyFrom(req, s.Name, domain.Payload{DiscoveryData: &info}), nil
}

// handle is the Bus Handler every incoming tool_call envelope runs
// through: schema validation, idempotence check, deadline-bounded
// dispatch, error mapping.
func (s *Service) handle(ctx context.Context, req *domain.Envelope) (*domain.Envelope, error) {
	spanCtx, span := s.telem.StartSpan(ctx, "tool."+s.Name+".dispatch")
	defer span.End()

	if err := domain.Validate(req); err != nil {
		return domain.ReplyError(req, s.Name, &domain.EnvelopeError{Kind: "SchemaViolation", Message: err.Error()}), nil
	}
	if req.Payload.ToolCall == nil {
		return domain.ReplyError(req, s.Name, &domain.EnvelopeError{Kind: "SchemaViolation", Message: "envelope carries no tool_call"}), nil
	}

	if cached, ok := s.idempotentLookup(req.Meta.RequestID); ok {
		s.logger.DebugWithContext(spanCtx, "toolsvc: idempotent replay", map[string]interface{}{"request_id": req.Meta.RequestID})
		return cached, nil
	}

	call := req.Payload.ToolCall
	s.mu.RLock()
	tool, ok := s.tools[call.Name]
	s.mu.RUnlock()
	if !ok {
		resp := domain.NewErrorResponse(domain.ErrKindUnsupportedTool, fmt.Sprintf("unsupported tool %q", call.Name))
		reply := domain.ReplyFrom(req, s.Name, domain.Payload{ToolResponse: resp})
		return reply, nil
	}

	if tool.schema != nil {
		if err := validateArguments(tool.schema, call.Arguments); err != nil {
			resp := domain.NewErrorResponse(domain.ErrKindInvalidArgument, err.Error())
			return domain.ReplyFrom(req, s.Name, domain.Payload{ToolResponse: resp}), nil
		}
	}

	deadline := tool.deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(spanCtx, deadline)
	defer cancel()

	start := time.Now()
	resp, err := tool.fn(callCtx, call.Arguments)
	elapsed := time.Since(start)
	s.telem.RecordMetric("storyforge.tool.call", 1, map[string]string{"service": s.Name, "tool": call.Name})

	if err != nil {
		if callCtx.Err() != nil {
			resp = domain.NewErrorResponse(domain.ErrKindTimeout, fmt.Sprintf("%s exceeded %s deadline", call.Name, deadline))
		} else {
			resp = domain.NewErrorResponse(domain.ErrKindUpstreamFailure, err.Error())
		}
	}

	reply := domain.ReplyFrom(req, s.Name, domain.Payload{ToolResponse: resp})
	s.logger.InfoWithContext(spanCtx, "toolsvc: dispatched tool call", map[string]interface{}{
		"tool": call.Name, "duration_ms": elapsed.Milliseconds(), "is_error": resp.IsError,
	})
	s.idempotentStore(req.Meta.RequestID, reply)
	return reply, nil
}

func (s *Service) idempotentLookup(requestID string) (*domain.Envelope, bool) {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	entry, ok := s.idempotent[requestID]
	if !ok || time.Since(entry.at) > s.idemWindow {
		return nil, false
	}
	return entry.reply, true
}

func (s *Service) idempotentStore(requestID string, reply *domain.Envelope) {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	now := time.Now()
	s.idempotent[requestID] = idempotentEntry{at: now, reply: reply}
	for id, e := range s.idempotent {
		if now.Sub(e.at) > s.idemWindow {
			delete(s.idempotent, id)
		}
	}
}
