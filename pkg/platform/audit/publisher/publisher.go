// Package publisher turns buffered audit entries into broker messages.
//
// The Publisher owns a single producer connection. It is dialed lazily on the
// first publish and discarded after any failure, so the next call starts from
// a fresh connection instead of retrying on a possibly poisoned one.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auditrelay/internal/platform/metrics"
	audit "auditrelay/pkg/platform/audit"
	"auditrelay/pkg/platform/audit/codec"
	"auditrelay/pkg/platform/broker"
)

// ConnState is the lifecycle of the producer connection.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Faulted
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// Publisher publishes audit entries through a lazily dialed producer.
// Publishes are serialized; the relay is its only caller in practice.
type Publisher struct {
	dial  broker.ProducerDialer
	topic string

	mu       sync.Mutex
	producer broker.Producer
	closed   bool
	state    atomic.Int32

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for connection and delivery errors.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a publisher writing to topic. No connection is opened until
// the first publish.
func New(dial broker.ProducerDialer, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		dial:   dial,
		topic:  topic,
		tracer: otel.Tracer("auditrelay/publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the current connection state.
func (p *Publisher) State() ConnState {
	return ConnState(p.state.Load())
}

func (p *Publisher) setState(s ConnState) {
	p.state.Store(int32(s))
	p.metrics.SetPublisherState(int(s))
}

// PublishOne publishes a single entry.
func (p *Publisher) PublishOne(ctx context.Context, entry audit.AuditEntry) error {
	return p.PublishBatch(ctx, []audit.AuditEntry{entry})
}

// PublishBatch publishes entries keyed by their id and returns only after
// every message has an outcome. Any failed message fails the whole call with
// audit.ErrDelivery and tears the connection down.
func (p *Publisher) PublishBatch(ctx context.Context, entries []audit.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "audit.publish",
		trace.WithAttributes(
			attribute.String("messaging.destination.name", p.topic),
			attribute.Int("messaging.batch.message_count", len(entries)),
		))
	defer span.End()

	msgs := make([]broker.Message, 0, len(entries))
	for _, e := range entries {
		key, value, err := codec.Encode(e)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "encode failed")
			return audit.Wrap(audit.ErrDelivery, fmt.Errorf("encode entry %q: %w", e.ID, err))
		}
		msgs = append(msgs, broker.Message{Topic: p.topic, Key: key, Value: value})
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return audit.Wrap(audit.ErrDelivery, broker.ErrClosed)
	}

	producer, err := p.connectLocked(ctx)
	if err != nil {
		p.metrics.IncPublishFailures()
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		return audit.Wrap(audit.ErrDelivery, fmt.Errorf("connect producer: %w", err))
	}

	if err := producer.Produce(ctx, msgs...); err != nil {
		p.faultLocked(ctx, err)
		p.metrics.IncPublishFailures()
		span.RecordError(err)
		span.SetStatus(codes.Error, "produce failed")
		return audit.Wrap(audit.ErrDelivery, fmt.Errorf("publish %d entries: %w", len(msgs), err))
	}

	p.metrics.ObservePublished(len(msgs))
	return nil
}

func (p *Publisher) connectLocked(ctx context.Context) (broker.Producer, error) {
	if p.producer != nil {
		return p.producer, nil
	}

	p.setState(Connecting)
	producer, err := p.dial(ctx)
	if err != nil {
		p.setState(Disconnected)
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit producer connect failed",
				"topic", p.topic,
				"error", err,
			)
		}
		return nil, err
	}

	p.producer = producer
	p.metrics.IncPublisherDials()
	p.setState(Connected)
	if p.logger != nil {
		p.logger.InfoContext(ctx, "audit producer connected", "topic", p.topic)
	}
	return producer, nil
}

// faultLocked discards the current producer; the next publish dials again.
func (p *Publisher) faultLocked(ctx context.Context, cause error) {
	p.setState(Faulted)
	if p.logger != nil {
		p.logger.ErrorContext(ctx, "audit publish failed, dropping connection",
			"topic", p.topic,
			"error", cause,
		)
	}
	if p.producer != nil {
		if err := p.producer.Close(); err != nil && p.logger != nil {
			p.logger.WarnContext(ctx, "closing faulted producer", "error", err)
		}
		p.producer = nil
	}
	p.setState(Disconnected)
}

// Close releases the connection. Later publishes fail with broker.ErrClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.producer == nil {
		return nil
	}
	err := p.producer.Close()
	p.producer = nil
	p.setState(Disconnected)
	return err
}
