// Package bus defines the pub/sub transport every storyforge service
// speaks, and two implementations: a real NATS-backed Bus for production,
// and an in-memory Bus for unit and integration tests that need no
// running broker.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
)

// Handler processes one incoming envelope on a subject and returns the
// reply envelope. Returning an error causes the Bus to reply with an
// envelope-level error built from it.
type Handler func(ctx context.Context, req *domain.Envelope) (*domain.Envelope, error)

// Subscription is a live queue-group subscription; Unsubscribe tears it
// down.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the uniform request/reply transport contract. Every subject is
// deployment configuration, never hardcoded by callers (spec.md §6).
type Bus interface {
	// Request sends req on subject and blocks for a reply or timeout.
	Request(ctx context.Context, subject string, req *domain.Envelope, timeout time.Duration) (*domain.Envelope, error)

	// QueueSubscribe registers handler on subject within queue group
	// queueGroup; replicas sharing a queue group load-balance incoming
	// requests. Returns a Subscription the caller closes on shutdown.
	QueueSubscribe(subject, queueGroup string, handler Handler) (Subscription, error)

	// Publish fires-and-forgets req on subject (used for the monitoring
	// event-publication subject, §6).
	Publish(ctx context.Context, subject string, req *domain.Envelope) error

	// Close tears down the underlying connection.
	Close() error
}

// DefaultIdempotenceWindow is how long a tool service's Dispatch layer treats a
// repeated request_id as a cache hit rather than recomputing (spec.md
// §4.1's retry idempotence contract). toolsvc.New applies it to every
// service; no binary overrides it.
const DefaultIdempotenceWindow = 30 * time.Second

// ErrNoResponder is returned by InMemory.Request when no QueueSubscribe
// handler is registered for the requested subject.
var ErrNoResponder = fmt.Errorf("%w: no responder for subject", platform.ErrBusUnavailable)

// InMemory is a mutex-protected, in-process Bus with no network
// dependency, used by tests. Built the way
// the teacher's MockDiscovery is built: plain maps behind a RWMutex, no
// goroutine leaks on Close.
type InMemory struct {
	mu       sync.RWMutex
	handlers map[string][]*inMemorySub // subject -> round-robin handler list
	next     map[string]int
	closed   bool
}

type inMemorySub struct {
	queueGroup string
	handler    Handler
	bus        *InMemory
	subject    string
}

// NewInMemory constructs an empty in-memory bus.
func NewInMemory() *InMemory {
	return &InMemory{
		handlers: make(map[string][]*inMemorySub),
		next:     make(map[string]int),
	}
}

func (b *InMemory) QueueSubscribe(subject, queueGroup string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, platform.ErrBusUnavailable
	}
	sub := &inMemorySub{queueGroup: queueGroup, handler: handler, bus: b, subject: subject}
	b.handlers[subject] = append(b.handlers[subject], sub)
	return sub, nil
}

func (s *inMemorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.handlers[s.subject]
	for i, h := range subs {
		if h == s {
			s.bus.handlers[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// Request picks one handler for subject (round-robin across queue-group
// members, mirroring NATS queue-group semantics) and invokes it inline,
// honoring ctx/timeout cancellation.
func (b *InMemory) Request(ctx context.Context, subject string, req *domain.Envelope, timeout time.Duration) (*domain.Envelope, error) {
	b.mu.Lock()
	subs := b.handlers[subject]
	if len(subs) == 0 {
		b.mu.Unlock()
		return nil, ErrNoResponder
	}
	idx := b.next[subject] % len(subs)
	b.next[subject] = idx + 1
	handler := subs[idx].handler
	b.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		reply *domain.Envelope
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		reply, err := handler(callCtx, req)
		ch <- result{reply, err}
	}()

	select {
	case <-callCtx.Done():
		return nil, fmt.Errorf("%w: %s", platform.ErrTimeout, subject)
	case r := <-ch:
		if r.err != nil {
			return domain.ReplyError(req, "", &domain.EnvelopeError{Kind: "HandlerError", Message: r.err.Error()}), nil
		}
		return r.reply, nil
	}
}

// Publish delivers req to every subscriber of subject without waiting for
// a reply, matching the fire-and-forget monitoring event subject.
func (b *InMemory) Publish(ctx context.Context, subject string, req *domain.Envelope) error {
	b.mu.RLock()
	subs := append([]*inMemorySub{}, b.handlers[subject]...)
	b.mu.RUnlock()
	for _, s := range subs {
		go func(h Handler) { _, _ = h(ctx, req) }(s.handler)
	}
	return nil
}

func (b *InMemory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
