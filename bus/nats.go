package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
)

// NATSBus backs Bus with a real `github.com/nats-io/nats.go` connection:
// core pub/sub, request/reply, and queue-group load balancing exactly as
// spec.md §6 assumes the message bus provides. TLS and key-based auth are
// configured on the underlying nats.Conn by the caller before NewNATSBus
// (spec.md §2 treats the bus's security model as an external collaborator).
type NATSBus struct {
	conn   *nats.Conn
	logger platform.Logger
}

// NewNATSBus dials url and wraps the connection.
func NewNATSBus(url string, logger platform.Logger, opts ...nats.Option) (*NATSBus, error) {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", platform.ErrConnectionFailed, url, err)
	}
	return &NATSBus{conn: conn, logger: logger}, nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, req *domain.Envelope, timeout time.Duration) (*domain.Envelope, error) {
	if err := domain.Validate(req); err != nil {
		return nil, err
	}
	data, err := domain.Serialize(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrSchemaViolation, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := b.conn.RequestWithContext(callCtx, subject, data)
	if err != nil {
		if err == nats.ErrTimeout || callCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", platform.ErrTimeout, subject, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", platform.ErrBusUnavailable, subject, err)
	}

	reply, err := domain.Deserialize(msg.Data)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (b *NATSBus) QueueSubscribe(subject, queueGroup string, handler Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
		req, err := domain.Deserialize(msg.Data)
		if err != nil {
			b.logger.Error("bus: malformed envelope", map[string]interface{}{"subject": subject, "error": err.Error()})
			return
		}
		// No per-message deadline derivation here: the caller's Handler is
		// responsible for its own context.Background()-rooted deadline,
		// since nats.Msg carries no request-scoped context.
		reply, herr := handler(context.Background(), req)
		if herr != nil {
			reply = domain.ReplyError(req, "", &domain.EnvelopeError{Kind: "HandlerError", Message: herr.Error()})
		}
		if reply == nil {
			return
		}
		data, err := domain.Serialize(reply)
		if err != nil {
			b.logger.Error("bus: failed to serialize reply", map[string]interface{}{"subject": subject, "error": err.Error()})
			return
		}
		if err := msg.Respond(data); err != nil {
			b.logger.Error("bus: failed to respond", map[string]interface{}{"subject": subject, "error": err.Error()})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", platform.ErrBusUnavailable, subject, err)
	}
	return &natsSub{sub: sub}, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, req *domain.Envelope) error {
	data, err := domain.Serialize(req)
	if err != nil {
		return fmt.Errorf("%w: %v", platform.ErrSchemaViolation, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("%w: publish %s: %v", platform.ErrBusUnavailable, subject, err)
	}
	return nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
