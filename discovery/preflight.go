package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
)

// RequiredTool names one tool a service must expose for the Orchestrator
// to accept work, per spec.md §4.2.
type RequiredTool struct {
	Service string
	Tool    string
}

// ServiceTarget is one discoverable service: its discovery subject and the
// tools it must/may expose.
type ServiceTarget struct {
	Name             string
	DiscoverySubject string
	RequiredTools    []string
	OptionalTools    []string
}

// DefaultTargets is the canonical service set spec.md §4.2 names.
func DefaultTargets(subjectPrefix string) []ServiceTarget {
	if subjectPrefix == "" {
		subjectPrefix = "storyforge"
	}
	return []ServiceTarget{
		{
			Name:             "prompt-helper",
			DiscoverySubject: subjectPrefix + ".prompt-helper.discovery",
			RequiredTools:    []string{"generate_story_prompts"},
			OptionalTools:    []string{"generate_validation_prompts", "generate_constraint_prompts", "get_model_for_language"},
		},
		{
			Name:             "story-generator",
			DiscoverySubject: subjectPrefix + ".story-generator.discovery",
			RequiredTools:    []string{"generate_structure", "generate_nodes"},
			OptionalTools:    []string{"validate_paths"},
		},
		{
			Name:             "quality-control",
			DiscoverySubject: subjectPrefix + ".quality-control.discovery",
			RequiredTools:    []string{"validate_content"},
			OptionalTools:    []string{"batch_validate", "suggest_corrections"},
		},
		{
			Name:             "constraint-enforcer",
			DiscoverySubject: subjectPrefix + ".constraint-enforcer.discovery",
			RequiredTools:    []string{"enforce_constraints"},
			OptionalTools:    []string{"suggest_corrections"},
		},
	}
}

// StartupError reports a fatal pre-flight failure (spec.md §4.2/§7): a
// required tool is missing, or a service never answered discovery.
type StartupError struct {
	Service string
	Tool    string
	Reason  string
}

func (e *StartupError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("startup: service %q missing required tool %q", e.Service, e.Tool)
	}
	return fmt.Sprintf("startup: service %q: %s", e.Service, e.Reason)
}

func (e *StartupError) Unwrap() error { return platform.ErrMissingTool }

// Preflight queries each target's discovery endpoint, validates required
// tools are present, and maintains the per-service capability Cache.
type Preflight struct {
	bus     bus.Bus
	cache   Cache
	logger  platform.Logger
	timeout time.Duration
	ttl     time.Duration
}

// NewPreflight builds a Preflight client over bus b, backed by cache, with
// the given per-call timeout and cache TTL.
func NewPreflight(b bus.Bus, cache Cache, logger platform.Logger, timeout, ttl time.Duration) *Preflight {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	return &Preflight{bus: b, cache: cache, logger: logger, timeout: timeout, ttl: ttl}
}

// Discover queries target's discovery subject directly, bypassing the
// cache. Used both by Run and by the background health-cadence refresh.
func (p *Preflight) Discover(ctx context.Context, target ServiceTarget) (domain.DiscoveryInfo, error) {
	req := domain.Wrap(domain.Meta{SourceService: "orchestrator"}, domain.Payload{})
	reply, err := p.bus.Request(ctx, target.DiscoverySubject, req, p.timeout)
	if err != nil {
		return domain.DiscoveryInfo{}, fmt.Errorf("%w: %s: %v", platform.ErrDiscoveryTimeout, target.Name, err)
	}
	if reply.Error != nil {
		return domain.DiscoveryInfo{}, fmt.Errorf("%w: %s: %s", platform.ErrServiceUnhealthy, target.Name, reply.Error.Message)
	}
	if reply.Payload.DiscoveryData == nil {
		return domain.DiscoveryInfo{}, fmt.Errorf("%w: %s: discovery reply missing discovery_data", platform.ErrSchemaViolation, target.Name)
	}
	return *reply.Payload.DiscoveryData, nil
}

// Lookup returns target's cached DiscoveryInfo, refreshing it if the entry
// is missing or has expired.
func (p *Preflight) Lookup(ctx context.Context, target ServiceTarget) (domain.DiscoveryInfo, error) {
	if entry, ok, err := p.cache.Get(ctx, target.Name); err == nil && ok && !entry.Expired(p.ttl, time.Now()) {
		return entry.Info, nil
	}
	info, err := p.Discover(ctx, target)
	if err != nil {
		return domain.DiscoveryInfo{}, err
	}
	_ = p.cache.Set(ctx, target.Name, Entry{DiscoveredAt: time.Now(), Info: info})
	return info, nil
}

// Run executes the full pre-flight over targets: discovers each service,
// fails fast with *StartupError on a missing required tool or an unhealthy
// service, logs (and records, but does not fail on) missing optional
// tools.
func (p *Preflight) Run(ctx context.Context, targets []ServiceTarget) (map[string]domain.DiscoveryInfo, error) {
	results := make(map[string]domain.DiscoveryInfo, len(targets))
	for _, target := range targets {
		info, err := p.Discover(ctx, target)
		if err != nil {
			return nil, &StartupError{Service: target.Name, Reason: err.Error()}
		}
		if info.ServiceHealth == domain.HealthUnhealthy {
			return nil, &StartupError{Service: target.Name, Reason: "service reported unhealthy"}
		}
		for _, tool := range target.RequiredTools {
			if !info.HasTool(tool) {
				return nil, &StartupError{Service: target.Name, Tool: tool}
			}
		}
		for _, tool := range target.OptionalTools {
			if !info.HasTool(tool) {
				p.logger.Warn("preflight: optional tool missing", map[string]interface{}{
					"service": target.Name,
					"tool":    tool,
				})
			}
		}
		_ = p.cache.Set(ctx, target.Name, Entry{DiscoveredAt: time.Now(), Info: info})
		results[target.Name] = info
	}
	return results, nil
}
