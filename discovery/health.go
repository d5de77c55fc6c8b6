package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
)

// HealthMonitor polls each target's discovery endpoint on a fixed cadence
// and keeps a last-known domain.ServiceHealth per service, so the
// Orchestrator can treat an unhealthy service as absent without blocking
// on a fresh discovery call for every request (spec.md §4.2).
type HealthMonitor struct {
	preflight *Preflight
	targets   []ServiceTarget
	interval  time.Duration
	logger    platform.Logger

	mu     sync.RWMutex
	status map[string]domain.ServiceHealth

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor builds a monitor that will poll targets through
// preflight every interval once Start is called.
func NewHealthMonitor(preflight *Preflight, targets []ServiceTarget, interval time.Duration, logger platform.Logger) *HealthMonitor {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	return &HealthMonitor{
		preflight: preflight,
		targets:   targets,
		interval:  interval,
		logger:    logger,
		status:    make(map[string]domain.ServiceHealth),
	}
}

// Start begins the polling loop in a background goroutine. Stop must be
// called to release it; it is a no-op if already started.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(loopCtx)
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *HealthMonitor) pollOnce(ctx context.Context) {
	for _, target := range m.targets {
		info, err := m.preflight.Discover(ctx, target)
		m.mu.Lock()
		if err != nil {
			m.status[target.Name] = domain.HealthUnhealthy
			m.logger.Warn("health: discovery failed", map[string]interface{}{"service": target.Name, "error": err.Error()})
		} else {
			m.status[target.Name] = info.ServiceHealth
		}
		m.mu.Unlock()
	}
}

// Status returns the last-observed health of service, or HealthUnhealthy
// if it has never been polled.
func (m *HealthMonitor) Status(service string) domain.ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.status[service]
	if !ok {
		return domain.HealthUnhealthy
	}
	return h
}

// Stop halts the polling loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
