// Package broker owns the message-broker connection: it consumes inbound
// content-collected events, drives the handler, and republishes results.
//
// Acknowledgement contract: an event is acked only when the handler returns
// nil. A handler error nacks, so the broker redelivers per its own policy.
// Undecodable payloads are acked and dropped, since redelivery cannot fix a
// malformed message. A handler that records a job as Failed and returns nil
// still acks; job-level failure is data, not a transport failure.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/cenkalti/backoff/v5"

	"github.com/ngqkhai/script-generator/internal/config"
	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/event"
	"github.com/ngqkhai/script-generator/internal/ids"
	"github.com/ngqkhai/script-generator/internal/jsoncodec"
	"github.com/ngqkhai/script-generator/internal/logging"
	"github.com/ngqkhai/script-generator/internal/metrics"
)

// State tracks the gateway lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConsuming:
		return "consuming"
	default:
		return "disconnected"
	}
}

// EventHandler processes one inbound event. Returning nil acknowledges the
// event; returning an error leaves it unacknowledged for redelivery. msgID is
// stable across redeliveries of the same message, so handlers can use it for
// dedup.
type EventHandler func(ctx context.Context, evt event.ContentCollected, msgID string) error

// Gateway owns the broker transport exclusively. It is not safe to share the
// transport outside the gateway.
type Gateway struct {
	conf     *config.Config
	log      logging.ServiceLogger
	metrics  *metrics.Metrics
	factory  TransportFactory
	wmLogger watermill.LoggerAdapter

	state atomic.Int32

	mu        sync.Mutex
	transport *Transport
	router    *message.Router
	closed    bool
}

// Option tunes a Gateway.
type Option func(*Gateway)

// WithTransportFactory substitutes the transport construction, for tests.
func WithTransportFactory(factory TransportFactory) Option {
	return func(g *Gateway) { g.factory = factory }
}

func NewGateway(conf *config.Config, log logging.ServiceLogger, m *metrics.Metrics, opts ...Option) *Gateway {
	g := &Gateway{
		conf:     conf,
		log:      log,
		metrics:  m,
		factory:  AMQPTransport,
		wmLogger: logging.NewWatermillAdapter(log),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

func (g *Gateway) setState(s State) {
	g.state.Store(int32(s))
}

// Connect establishes the transport and declares the inbound queue topology.
// Safe to call repeatedly; a no-op when already connected.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errs.ErrGatewayClosed
	}
	if g.transport != nil {
		return nil
	}

	g.setState(StateConnecting)
	transport, err := g.factory(ctx, g.conf, g.wmLogger)
	if err != nil {
		g.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, err)
	}

	// Declaration is idempotent; skipped by transports that create topology
	// lazily on subscribe.
	if initializer, ok := transport.Subscriber.(message.SubscribeInitializer); ok {
		if err := initializer.SubscribeInitialize(g.conf.ConsumeQueue); err != nil {
			g.closeTransportLocked(&transport)
			g.setState(StateDisconnected)
			return fmt.Errorf("%w: declare queue %s: %v", errs.ErrBrokerUnavailable, g.conf.ConsumeQueue, err)
		}
	}

	g.transport = &transport
	g.setState(StateConnected)
	g.log.Info("broker connected", logging.LogFields{
		"consume_queue":  g.conf.ConsumeQueue,
		"publish_topics": g.conf.PublishTopics,
	})
	return nil
}

// Consume blocks processing inbound events in delivery order until the
// context is cancelled or the transport fails. Either way the gateway returns
// to Disconnected and must be reconnected by its owner.
func (g *Gateway) Consume(ctx context.Context, handler EventHandler) error {
	if handler == nil {
		return errs.ErrHandlerRequired
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return errs.ErrGatewayClosed
	}
	if g.transport == nil {
		g.mu.Unlock()
		return fmt.Errorf("%w: not connected", errs.ErrBrokerUnavailable)
	}

	router, err := message.NewRouter(message.RouterConfig{}, g.wmLogger)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	router.AddMiddleware(middleware.CorrelationID, middleware.Recoverer)
	router.AddNoPublisherHandler(
		"content-collected",
		g.conf.ConsumeQueue,
		g.transport.Subscriber,
		g.consumeHandler(handler),
	)
	g.router = router
	g.mu.Unlock()

	// Consuming only once the router has actually subscribed; Running never
	// closes when startup fails.
	stopped := make(chan struct{})
	go func() {
		select {
		case <-router.Running():
			g.setState(StateConsuming)
		case <-stopped:
		}
	}()
	runErr := router.Run(ctx)
	close(stopped)

	g.mu.Lock()
	g.router = nil
	g.closeTransportLocked(g.transport)
	g.transport = nil
	g.mu.Unlock()
	g.setState(StateDisconnected)

	if runErr != nil {
		return fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, runErr)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: consume loop ended", errs.ErrBrokerUnavailable)
}

func (g *Gateway) consumeHandler(handler EventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		g.metrics.IncEventsConsumed()

		evt, err := event.DecodeContentCollected(msg.Payload)
		if err != nil {
			// Redelivery cannot fix a malformed payload: ack and drop.
			g.log.Error("dropping malformed event", err, logging.LogFields{
				"message_uuid": msg.UUID,
				"payload":      truncatePayload(msg.Payload),
			})
			g.metrics.IncEventsDropped()
			return nil
		}

		g.log.Info("event received", logging.LogFields{
			"message_uuid":  msg.UUID,
			"source_name":   evt.SourceName,
			"collection_id": evt.CollectionID,
		})

		if err := handler(msg.Context(), evt, msg.UUID); err != nil {
			return err
		}
		g.metrics.IncEventsAcked()
		return nil
	}
}

// PublishScriptGenerated serializes the outbound event and publishes it to
// every configured destination with persistent delivery. A failed destination
// is reported but does not roll back the others.
func (g *Gateway) PublishScriptGenerated(ctx context.Context, evt event.ScriptGenerated) error {
	return g.Publish(ctx, g.conf.PublishTopics, evt)
}

// Publish sends the event to each destination in order.
func (g *Gateway) Publish(ctx context.Context, destinations []string, evt event.ScriptGenerated) error {
	if len(destinations) == 0 {
		return errs.ErrTopicRequired
	}

	g.mu.Lock()
	transport := g.transport
	g.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("%w: not connected", errs.ErrBrokerUnavailable)
	}

	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode outbound event: %w", err)
	}

	var publishErrs []error
	for _, destination := range destinations {
		msg := message.NewMessage(ids.NewULID(), payload)
		msg.SetContext(ctx)
		msg.Metadata.Set("event_type", "script_generated")
		msg.Metadata.Set("job_id", evt.JobID)

		if err := transport.Publisher.Publish(destination, msg); err != nil {
			publishErrs = append(publishErrs, fmt.Errorf("publish to %s: %w", destination, err))
			continue
		}
		g.metrics.IncEventsPublished(destination)
	}
	return errors.Join(publishErrs...)
}

// Run connects and consumes, reconnecting with exponential backoff after
// transport failures. MaxRetries 0 retries until the context ends; the
// backoff resets after every session that reached Consuming.
func (g *Gateway) Run(ctx context.Context, handler EventHandler) error {
	policy := backoff.NewExponentialBackOff()
	if g.conf.BrokerReconnectInitial > 0 {
		policy.InitialInterval = g.conf.BrokerReconnectInitial
	}
	if g.conf.BrokerReconnectMax > 0 {
		policy.MaxInterval = g.conf.BrokerReconnectMax
	}
	policy.Reset()

	attempts := 0
	for {
		connected, err := g.connectAndConsume(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errs.ErrGatewayClosed) {
			return err
		}
		if connected {
			// The session made it to Consuming; start the policy over.
			policy.Reset()
			attempts = 0
		}

		attempts++
		if g.conf.BrokerMaxRetries > 0 && attempts >= g.conf.BrokerMaxRetries {
			return fmt.Errorf("broker reconnect attempts exhausted: %w", err)
		}

		wait := policy.NextBackOff()
		g.log.Error("broker session ended, reconnecting", err, logging.LogFields{
			"attempt":  attempts,
			"retry_in": wait.String(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (g *Gateway) connectAndConsume(ctx context.Context, handler EventHandler) (bool, error) {
	if err := g.Connect(ctx); err != nil {
		return false, err
	}
	return true, g.Consume(ctx, handler)
}

// Close stops consuming and releases the transport. Safe to call repeatedly.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	var closeErr error
	if g.router != nil {
		closeErr = g.router.Close()
		g.router = nil
	}
	if g.transport != nil {
		g.closeTransportLocked(g.transport)
		g.transport = nil
	}
	g.setState(StateDisconnected)
	return closeErr
}

func (g *Gateway) closeTransportLocked(t *Transport) {
	if t == nil {
		return
	}
	if t.Subscriber != nil {
		_ = t.Subscriber.Close()
	}
	if t.Publisher != nil {
		_ = t.Publisher.Close()
	}
	if t.Close != nil {
		_ = t.Close()
	}
}

func truncatePayload(payload []byte) string {
	const max = 200
	if len(payload) <= max {
		return string(payload)
	}
	return string(payload[:max]) + "..."
}
