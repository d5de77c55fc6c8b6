package discovery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	busm "github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/domain"
)

func registerDiscoveryResponder(t *testing.T, b *busm.InMemory, subject string, info domain.DiscoveryInfo) {
	t.Helper()
	_, err := b.QueueSubscribe(subject, "q", func(ctx context.Context, req *domain.Envelope) (*domain.Envelope, error) {
		cp := info
		return domain.ReplyFrom(req, subject, domain.Payload{DiscoveryData: &cp}), nil
	})
	require.NoError(t, err)
}

func toolReg(name string) domain.ToolRegistration {
	schema, _ := json.Marshal(map[string]string{"type": "object"})
	return domain.ToolRegistration{ToolName: name, ToolSchema: schema, ServiceName: "svc", ServiceVersion: "1.0.0"}
}

func TestPreflightRunSucceedsWhenAllRequiredToolsPresent(t *testing.T) {
	b := busm.NewInMemory()
	targets := DefaultTargets("sf")
	for _, tgt := range targets {
		info := domain.DiscoveryInfo{ServiceHealth: domain.HealthHealthy}
		for _, tool := range tgt.RequiredTools {
			info.AvailableTools = append(info.AvailableTools, toolReg(tool))
		}
		registerDiscoveryResponder(t, b, tgt.DiscoverySubject, info)
	}

	pf := NewPreflight(b, NewMemoryCache(), nil, time.Second, time.Minute)
	results, err := pf.Run(context.Background(), targets)
	require.NoError(t, err)
	assert.Len(t, results, len(targets))
}

func TestPreflightRunFailsOnMissingRequiredTool(t *testing.T) {
	b := busm.NewInMemory()
	targets := []ServiceTarget{{
		Name:             "story-generator",
		DiscoverySubject: "sf.story-generator.discovery",
		RequiredTools:    []string{"generate_structure", "generate_nodes"},
	}}
	info := domain.DiscoveryInfo{ServiceHealth: domain.HealthHealthy, AvailableTools: []domain.ToolRegistration{toolReg("generate_structure")}}
	registerDiscoveryResponder(t, b, targets[0].DiscoverySubject, info)

	pf := NewPreflight(b, NewMemoryCache(), nil, time.Second, time.Minute)
	_, err := pf.Run(context.Background(), targets)
	require.Error(t, err)
	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, "generate_nodes", startupErr.Tool)
}

func TestPreflightRunFailsOnUnhealthyService(t *testing.T) {
	b := busm.NewInMemory()
	targets := []ServiceTarget{{Name: "quality-control", DiscoverySubject: "sf.qc.discovery", RequiredTools: []string{"validate_content"}}}
	info := domain.DiscoveryInfo{ServiceHealth: domain.HealthUnhealthy, AvailableTools: []domain.ToolRegistration{toolReg("validate_content")}}
	registerDiscoveryResponder(t, b, targets[0].DiscoverySubject, info)

	pf := NewPreflight(b, NewMemoryCache(), nil, time.Second, time.Minute)
	_, err := pf.Run(context.Background(), targets)
	require.Error(t, err)
}

func TestPreflightLookupUsesCacheUntilExpiry(t *testing.T) {
	b := busm.NewInMemory()
	calls := 0
	target := ServiceTarget{Name: "prompt-helper", DiscoverySubject: "sf.ph.discovery", RequiredTools: []string{"generate_story_prompts"}}
	_, err := b.QueueSubscribe(target.DiscoverySubject, "q", func(ctx context.Context, req *domain.Envelope) (*domain.Envelope, error) {
		calls++
		info := domain.DiscoveryInfo{ServiceHealth: domain.HealthHealthy, AvailableTools: []domain.ToolRegistration{toolReg("generate_story_prompts")}}
		return domain.ReplyFrom(req, "prompt-helper", domain.Payload{DiscoveryData: &info}), nil
	})
	require.NoError(t, err)

	pf := NewPreflight(b, NewMemoryCache(), nil, time.Second, time.Hour)
	_, err = pf.Lookup(context.Background(), target)
	require.NoError(t, err)
	_, err = pf.Lookup(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second lookup should hit the cache, not re-discover")
}
