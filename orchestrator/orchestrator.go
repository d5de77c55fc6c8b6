// Package orchestrator implements the state machine that drives one
// generation request through PromptGeneration, Structure, Generation,
// Validation, Negotiation, and Assembly (spec.md §4.4), coordinating the
// four tool services over the bus.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/discovery"
	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
	"github.com/storyforge/pipeline/resilience"
)

// Orchestrator coordinates one generation at a time per call to Generate;
// it holds no per-request state between calls (spec.md §3's "Lifecycles").
type Orchestrator struct {
	bus       bus.Bus
	subjects  Subjects
	preflight *discovery.Preflight
	targets   []discovery.ServiceTarget
	cfg       platform.OrchestrationConfig
	backoff   platform.ResilienceConfig
	logger    platform.Logger
	telem     platform.Telemetry
	breakers  map[string]*resilience.CircuitBreaker
	onPhase   func(requestID string, phase domain.GenerationPhase)
}

// OnPhase registers a callback invoked on every phase transition, for an
// out-of-core progress feed (e.g. httpapi.ProgressHub.Publish) consumed by
// the trail viewer UI named out of scope in spec.md §1. A nil callback
// (the default) makes phase reporting a no-op.
func (o *Orchestrator) OnPhase(fn func(requestID string, phase domain.GenerationPhase)) {
	o.onPhase = fn
}

func (o *Orchestrator) reportPhase(requestID string, phase domain.GenerationPhase) {
	if o.onPhase != nil {
		o.onPhase(requestID, phase)
	}
}

// New constructs an Orchestrator. subjectPrefix feeds both the invocation
// Subjects and discovery's ServiceTarget set so the two stay consistent. One
// circuit breaker is created per downstream service so a degraded tool
// service fails its calls fast instead of starving the concurrency
// semaphore waiting on a timeout every attempt (spec.md §4.6).
func New(b bus.Bus, pre *discovery.Preflight, subjectPrefix string, cfg platform.OrchestrationConfig, backoffCfg platform.ResilienceConfig, logger platform.Logger, telem platform.Telemetry) *Orchestrator {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if telem == nil {
		telem = platform.NoOpTelemetry{}
	}
	breakers := make(map[string]*resilience.CircuitBreaker, 4)
	for _, svc := range []string{"prompt-helper", "story-generator", "quality-control", "constraint-enforcer"} {
		cb, err := resilience.CreateCircuitBreaker(svc, resilience.ResilienceDependencies{Logger: logger, Telemetry: telem})
		if err == nil {
			breakers[svc] = cb
		}
	}
	return &Orchestrator{
		bus:       b,
		subjects:  NewSubjects(subjectPrefix),
		preflight: pre,
		targets:   discovery.DefaultTargets(subjectPrefix),
		cfg:       cfg,
		backoff:   backoffCfg,
		logger:    logger,
		telem:     telem,
		breakers:  breakers,
	}
}

// Start runs the discovery pre-flight spec.md §4.2 requires before the
// Orchestrator accepts any generation work. A missing required tool or an
// unhealthy service aborts startup.
func (o *Orchestrator) Start(ctx context.Context) error {
	_, err := o.preflight.Run(ctx, o.targets)
	return err
}

// Generate drives request through every phase to a finished Trail, or
// returns a structured OrchestrationError naming the failing phase.
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.Trail, *OrchestrationError) {
	if req.NodeCount <= 0 {
		req.NodeCount = o.cfg.NodeCount
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	exec := &execution{
		o:         o,
		req:       req,
		requestID: uuid.New().String(),
		tenant:    req.Tenant,
	}

	spanCtx, span := o.telem.StartSpan(ctx, "orchestrator.generate")
	defer span.End()

	if err := exec.checkCancelled(spanCtx); err != nil {
		return nil, exec.fail(kindForCancellation(err), domain.PhasePromptGeneration, err)
	}
	o.reportPhase(exec.requestID, domain.PhasePromptGeneration)
	if err := exec.runPromptGeneration(spanCtx); err != nil {
		return nil, exec.failCtx(spanCtx, ErrPromptFailed, domain.PhasePromptGeneration, err)
	}

	o.reportPhase(exec.requestID, domain.PhaseStructure)
	dag, err := exec.runStructure(spanCtx)
	if err != nil {
		return nil, exec.failCtx(spanCtx, ErrStructureFailed, domain.PhaseStructure, err)
	}

	o.reportPhase(exec.requestID, domain.PhaseGeneration)
	if err := exec.runGeneration(spanCtx, dag); err != nil {
		return nil, exec.failCtx(spanCtx, ErrContentFailed, domain.PhaseGeneration, err)
	}

	o.reportPhase(exec.requestID, domain.PhaseValidation)
	qc, ce, err := exec.runValidation(spanCtx, dag)
	if err != nil {
		return nil, exec.failCtx(spanCtx, ErrContentFailed, domain.PhaseValidation, err)
	}

	if negotiationNeeded(dag, qc, ce) {
		o.reportPhase(exec.requestID, domain.PhaseNegotiation)
		if err := exec.runNegotiation(spanCtx, dag, qc, ce); err != nil {
			var nf *negotiationFailure
			if errors.As(err, &nf) {
				return nil, exec.failCtx(spanCtx, nf.kind, domain.PhaseNegotiation, nf.err)
			}
			return nil, exec.failCtx(spanCtx, ErrValidationUnrecoverable, domain.PhaseNegotiation, err)
		}
		// Negotiation may have replayed regenerate_node ids through
		// generateBatchWithRetry, overwriting their choices with unlinked
		// ones, so re-link and re-check the content invariant.
		dag.LinkChoices()
		if err := dag.ValidateContent(); err != nil {
			return nil, exec.failCtx(spanCtx, ErrContentFailed, domain.PhaseNegotiation, err)
		}
	}

	o.reportPhase(exec.requestID, domain.PhaseAssembly)
	trail := exec.assemble(dag)
	o.reportPhase(exec.requestID, domain.PhaseComplete)
	o.logger.InfoWithContext(spanCtx, "orchestrator: generation complete", map[string]interface{}{
		"request_id": exec.requestID, "node_count": len(dag.Nodes),
	})
	return trail, nil
}

func kindForCancellation(err error) OrchestrationErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeoutExceeded
	}
	return ErrCancelled
}

// execution is the per-request mutable state a generation accumulates:
// the invocation log plus the original request. Exactly one goroutine
// owns phase sequencing; within a phase, concurrent tool calls append to
// log under mu (spec.md §5's "node assembly... is commutative" extends to
// log assembly here).
type execution struct {
	o         *Orchestrator
	req       domain.GenerationRequest
	requestID string
	tenant    string

	mu  sync.Mutex
	log []domain.InvocationLogEntry
}

func (e *execution) record(entry domain.InvocationLogEntry) {
	e.mu.Lock()
	e.log = append(e.log, entry)
	e.mu.Unlock()
}

func (e *execution) snapshotLog() []domain.InvocationLogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.InvocationLogEntry, len(e.log))
	copy(out, e.log)
	return out
}

func (e *execution) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (e *execution) fail(kind OrchestrationErrorKind, phase domain.GenerationPhase, err error) *OrchestrationError {
	return &OrchestrationError{Kind: kind, Phase: phase, Message: err.Error(), Log: e.snapshotLog()}
}

// failCtx prefers a cancellation/timeout classification over the phase's
// own error kind when ctx itself is why the phase gave up.
func (e *execution) failCtx(ctx context.Context, kind OrchestrationErrorKind, phase domain.GenerationPhase, err error) *OrchestrationError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return e.fail(kindForCancellation(ctxErr), phase, ctxErr)
	}
	return e.fail(kind, phase, err)
}

// callTool wraps one tool_call round-trip with a fresh request_id, for the
// phases that never retry a call with unchanged arguments.
func (e *execution) callTool(ctx context.Context, service, subject, tool string, phase domain.GenerationPhase, args interface{}, timeout time.Duration) (*domain.ToolResponse, error) {
	return e.callToolWithRequestID(ctx, "", service, subject, tool, phase, args, timeout)
}

// callToolWithRequestID wraps one tool_call round-trip: envelope
// construction, the bus request, invocation-log recording, and error
// classification. Every phase in this package goes through this one path
// (spec.md §4.1's envelope protocol applied uniformly).
//
// requestID, when non-empty, is stamped onto the envelope so a caller
// re-sending the exact same arguments after a failed attempt reuses the
// same request_id (spec.md §4.1's "retries re-send the same envelope
// bytes"), letting toolsvc's idempotence window recognize the resend. An
// empty requestID lets domain.Wrap mint a fresh one, for calls that are
// never retried with identical arguments.
func (e *execution) callToolWithRequestID(ctx context.Context, requestID string, service, subject, tool string, phase domain.GenerationPhase, args interface{}, timeout time.Duration) (*domain.ToolResponse, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %s arguments: %v", platform.ErrInvalidArgument, tool, err)
	}

	meta := domain.Meta{RequestID: requestID, CorrelationID: e.requestID, Tenant: e.tenant, SourceService: "orchestrator"}
	meta.SetPhase(phase)
	reqEnv := domain.Wrap(meta, domain.Payload{ToolCall: &domain.ToolCall{Name: tool, Arguments: raw}})

	start := time.Now()
	var reply *domain.Envelope
	if cb, ok := e.o.breakers[service]; ok {
		err = cb.ExecuteWithTimeout(ctx, timeout, func() error {
			var reqErr error
			reply, reqErr = e.o.bus.Request(ctx, subject, reqEnv, timeout)
			return reqErr
		})
	} else {
		reply, err = e.o.bus.Request(ctx, subject, reqEnv, timeout)
	}
	duration := time.Since(start)
	entry := domain.InvocationLogEntry{Service: service, Phase: phase, Tool: tool, Start: start, Duration: duration, NodeIDs: extractNodeIDs(args)}

	if err != nil {
		entry.Outcome = domain.OutcomeFailure
		entry.Error = err.Error()
		e.record(entry)
		return nil, err
	}
	if reply.Error != nil {
		entry.Outcome = domain.OutcomeFailure
		entry.Error = reply.Error.Error()
		e.record(entry)
		return nil, fmt.Errorf("%w: %s", platform.ErrSchemaViolation, reply.Error.Message)
	}
	if reply.Payload.ToolResponse == nil {
		entry.Outcome = domain.OutcomeFailure
		entry.Error = "reply carries no tool_response"
		e.record(entry)
		return nil, fmt.Errorf("%w: %s returned no tool_response", platform.ErrSchemaViolation, tool)
	}
	if reply.Payload.ToolResponse.IsError {
		var detail domain.ToolErrorDetail
		_ = json.Unmarshal(reply.Payload.ToolResponse.JSONResult(), &detail)
		entry.Outcome = domain.OutcomeFailure
		entry.Error = detail.Message
		e.record(entry)
		return reply.Payload.ToolResponse, fmt.Errorf("%s: %s", detail.ErrorKind, detail.Message)
	}

	entry.Outcome = domain.OutcomeSuccess
	e.record(entry)
	return reply.Payload.ToolResponse, nil
}

// extractNodeIDs pulls a "node_ids" field out of args, for invocation-log
// visibility, when the tool call's argument shape carries one.
func extractNodeIDs(args interface{}) []string {
	m, ok := args.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := m["node_ids"]
	if !ok {
		return nil
	}
	ids, ok := raw.([]string)
	if !ok {
		return nil
	}
	return ids
}
