// Package relay moves captured entries from the in-memory buffer to the
// broker on a fixed cadence.
//
// Each cycle drains at most BatchSize entries and publishes them as one batch.
// A full batch is followed by another drain straight away so bursts clear
// faster than the steady-state interval. A failed batch is kept and retried
// after a longer backoff; it is only lost if the process dies before the
// retry succeeds.
package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"auditrelay/internal/platform/metrics"
	audit "auditrelay/pkg/platform/audit"
)

// Source is the buffer side of the relay.
type Source interface {
	DrainUpTo(n int) []audit.AuditEntry
	DrainAll() []audit.AuditEntry
	Size() int
}

// Publisher is the broker side of the relay.
type Publisher interface {
	PublishBatch(ctx context.Context, entries []audit.AuditEntry) error
}

// State is where the loop currently is.
type State int32

const (
	Idle State = iota
	Draining
	Publishing
	Backoff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Publishing:
		return "publishing"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Config tunes the loop cadence.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// Backoff is the wait after a failed publish; zero means 5x Interval.
	Backoff        time.Duration
	PublishTimeout time.Duration
	// ShutdownTimeout bounds the final flush once Run's context is done.
	ShutdownTimeout time.Duration
}

// Relay drains a Source into a Publisher. It is driven by a single goroutine.
type Relay struct {
	source    Source
	publisher Publisher
	cfg       Config

	pending []audit.AuditEntry
	state   atomic.Int32

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Relay.
type Option func(*Relay)

// WithLogger sets a logger for publish failures and shutdown.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// New creates a relay. Non-positive Interval and BatchSize fall back to one
// second and 100 entries.
func New(source Source, publisher Publisher, cfg Config, opts ...Option) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * cfg.Interval
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	r := &Relay{source: source, publisher: publisher, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State reports the loop's current state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

// Pending returns how many entries are held back for retry.
func (r *Relay) Pending() int {
	return len(r.pending)
}

// Run loops until ctx is done, then flushes whatever is left. It always
// returns nil; failures are logged and retried.
func (r *Relay) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		wait := r.Step(ctx)
		if wait == 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	r.flush()
	return nil
}

// Step runs one drain/publish cycle and returns how long to wait before the
// next. Zero means drain again immediately.
func (r *Relay) Step(ctx context.Context) time.Duration {
	batch := r.pending
	if batch == nil {
		r.setState(Draining)
		batch = r.source.DrainUpTo(r.cfg.BatchSize)
	}
	r.metrics.SetBufferSize(r.source.Size())

	if len(batch) == 0 {
		r.setState(Idle)
		return r.cfg.Interval
	}

	r.setState(Publishing)
	if err := r.publish(ctx, batch); err != nil {
		r.pending = batch
		r.setState(Backoff)
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "audit relay publish failed, backing off",
				"entries", len(batch),
				"backoff", r.cfg.Backoff,
				"error", err,
			)
		}
		return r.cfg.Backoff
	}

	r.pending = nil
	if len(batch) >= r.cfg.BatchSize {
		r.setState(Draining)
		return 0
	}
	r.setState(Idle)
	return r.cfg.Interval
}

// publish lets an in-flight send finish even if ctx is cancelled meanwhile.
func (r *Relay) publish(ctx context.Context, batch []audit.AuditEntry) error {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PublishTimeout)
	defer cancel()
	return r.publisher.PublishBatch(pubCtx, batch)
}

// flush makes a best-effort attempt to publish everything still buffered.
func (r *Relay) flush() {
	remaining := append(r.pending, r.source.DrainAll()...)
	r.pending = nil
	if len(remaining) == 0 {
		r.setState(Idle)
		return
	}

	timeout := r.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = r.cfg.PublishTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for len(remaining) > 0 {
		n := min(len(remaining), r.cfg.BatchSize)
		if err := r.publisher.PublishBatch(ctx, remaining[:n]); err != nil {
			if r.logger != nil {
				r.logger.ErrorContext(ctx, "audit relay shutdown flush failed, entries lost",
					"lost", len(remaining),
					"error", err,
				)
			}
			break
		}
		remaining = remaining[n:]
	}
	r.setState(Idle)
	if r.logger != nil && len(remaining) == 0 {
		r.logger.InfoContext(ctx, "audit relay flushed on shutdown")
	}
}

func (r *Relay) setState(s State) {
	r.state.Store(int32(s))
}
