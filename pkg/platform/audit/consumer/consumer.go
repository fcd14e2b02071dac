// Package consumer persists audit entries read from the broker.
//
// A Consumer owns one group subscription. Each message is decoded and
// inserted into the store; undecodable messages are logged and skipped so a
// poison message never stalls the group. A broker read failure or a store
// failure tears the subscription down and the run loop backs off before
// reconnecting. An entry whose insert failed is retried after the reconnect,
// since the broker has already auto-committed past it. The retry is bounded
// by MaxInsertAttempts; an entry the store rejects outright is dropped at
// once.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auditrelay/internal/platform/metrics"
	audit "auditrelay/pkg/platform/audit"
	"auditrelay/pkg/platform/audit/codec"
	"auditrelay/pkg/platform/broker"
)

// Outcome is the result of a single ConsumeNext call.
type Outcome int

const (
	// OutcomeIdle means nothing was stored: the poll timed out or failed.
	OutcomeIdle Outcome = iota
	OutcomeStored
	// OutcomeSkipped means a message was dropped: it could not be decoded
	// or the store would not accept it.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "idle"
	}
}

// Config tunes polling and backoff.
type Config struct {
	PollTimeout    time.Duration
	ConsumeBackoff time.Duration
	StoreBackoff   time.Duration
	// InsertTimeout bounds one store write; the write is not cut short by
	// shutdown.
	InsertTimeout time.Duration
	// MaxInsertAttempts caps the writes tried for one entry before it is
	// dropped.
	MaxInsertAttempts int
}

// Consumer moves messages from a subscription into an audit.Writer. It is
// driven by a single goroutine.
type Consumer struct {
	dial  broker.SubscriptionDialer
	store audit.Writer
	cfg   Config

	sub       broker.Subscription
	retry     *audit.AuditEntry
	attempts  int
	connected atomic.Bool

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures the Consumer.
type Option func(*Consumer)

// WithLogger sets a logger for skipped messages and failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// New creates a consumer. The subscription is dialed on first use.
func New(dial broker.SubscriptionDialer, store audit.Writer, cfg Config, opts ...Option) *Consumer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.ConsumeBackoff <= 0 {
		cfg.ConsumeBackoff = 5 * time.Second
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 10 * time.Second
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = 10 * time.Second
	}
	if cfg.MaxInsertAttempts <= 0 {
		cfg.MaxInsertAttempts = 5
	}
	c := &Consumer{
		dial:   dial,
		store:  store,
		cfg:    cfg,
		tracer: otel.Tracer("auditrelay/consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether a subscription is currently open. Safe to call
// from any goroutine.
func (c *Consumer) Connected() bool {
	return c.connected.Load()
}

// Run consumes until ctx is done. It always returns nil; failures are
// logged and retried after the matching backoff.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.teardown(context.WithoutCancel(ctx))

	for ctx.Err() == nil {
		_, err := c.ConsumeNext(ctx, c.cfg.PollTimeout)
		if err == nil || ctx.Err() != nil {
			continue
		}

		wait := c.cfg.ConsumeBackoff
		if errors.Is(err, audit.ErrStore) {
			wait = c.cfg.StoreBackoff
		}
		if c.logger != nil {
			c.logger.ErrorContext(ctx, "audit consumer failed, reconnecting after backoff",
				"backoff", wait,
				"error", err,
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
	return nil
}

// ConsumeNext handles at most one message, waiting up to timeout for it.
// Consume failures are wrapped with audit.ErrConsume and insert failures with
// audit.ErrStore; both leave the consumer disconnected. An entry that is
// dropped after a failed insert yields OutcomeSkipped and no error.
func (c *Consumer) ConsumeNext(ctx context.Context, timeout time.Duration) (Outcome, error) {
	sub, err := c.connect(ctx)
	if err != nil {
		c.metrics.IncConsumerError("consume")
		return OutcomeIdle, audit.Wrap(audit.ErrConsume, err)
	}

	if c.retry != nil {
		return c.insert(ctx, *c.retry)
	}

	msg, err := sub.Poll(ctx, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeIdle, ctx.Err()
		}
		c.metrics.IncConsumerError("consume")
		c.teardown(ctx)
		return OutcomeIdle, audit.Wrap(audit.ErrConsume, err)
	}
	if msg == nil {
		return OutcomeIdle, nil
	}

	entry, err := codec.Decode(msg.Key, msg.Value)
	if err != nil {
		c.metrics.IncSkipped()
		if c.logger != nil {
			c.logger.WarnContext(ctx, "skipping undecodable audit message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		}
		return OutcomeSkipped, nil
	}
	return c.insert(ctx, entry)
}

func (c *Consumer) insert(ctx context.Context, entry audit.AuditEntry) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "audit.store",
		trace.WithAttributes(attribute.String("audit.entry_id", entry.ID)))
	defer span.End()

	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.InsertTimeout)
	defer cancel()

	if err := c.store.Insert(insertCtx, entry); err != nil {
		c.attempts++
		c.metrics.IncConsumerError("store")
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")

		if errors.Is(err, audit.ErrRejected) || c.attempts >= c.cfg.MaxInsertAttempts {
			c.drop(ctx, entry, err)
			return OutcomeSkipped, nil
		}
		c.retry = &entry
		c.teardown(ctx)
		return OutcomeIdle, audit.Wrap(audit.ErrStore, err)
	}

	c.retry = nil
	c.attempts = 0
	c.metrics.IncStored()
	return OutcomeStored, nil
}

// drop gives up on entry. The subscription stays open so the next message
// is read normally.
func (c *Consumer) drop(ctx context.Context, entry audit.AuditEntry, err error) {
	if c.logger != nil {
		c.logger.ErrorContext(ctx, "dropping audit entry the store will not accept",
			"entry_id", entry.ID,
			"attempts", c.attempts,
			"error", err,
		)
	}
	c.retry = nil
	c.attempts = 0
	c.metrics.IncSkipped()
}

func (c *Consumer) connect(ctx context.Context) (broker.Subscription, error) {
	if c.sub != nil {
		return c.sub, nil
	}
	sub, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	c.connected.Store(true)
	if c.logger != nil {
		c.logger.InfoContext(ctx, "audit consumer subscribed")
	}
	return sub, nil
}

func (c *Consumer) teardown(ctx context.Context) {
	if c.sub == nil {
		return
	}
	if err := c.sub.Close(); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "closing audit subscription", "error", err)
	}
	c.sub = nil
	c.connected.Store(false)
}
