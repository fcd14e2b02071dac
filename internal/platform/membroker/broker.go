// Package membroker is an in-process broker implementing the broker contract.
// It backs the zero-configuration dev mode and the pipeline tests: topics are
// append-only logs, consumer groups track their own offsets, and connections
// can be broken on demand to exercise reconnect paths.
package membroker

import (
	"context"
	"errors"
	"sync"
	"time"

	"auditrelay/pkg/platform/broker"
)

// ErrUnavailable is returned while the broker is marked down or after a
// connection was broken.
var ErrUnavailable = errors.New("in-memory broker unavailable")

// Broker holds every topic log and group offset.
type Broker struct {
	mu      sync.Mutex
	topics  map[string][]broker.Message
	offsets map[groupTopic]int
	wake    chan struct{}
	down    bool
	epoch   uint64
	dials   int
}

type groupTopic struct {
	group string
	topic string
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{
		topics:  make(map[string][]broker.Message),
		offsets: make(map[groupTopic]int),
		wake:    make(chan struct{}),
	}
}

// SetDown makes dials and every open connection fail until set back to false.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// BreakConnections poisons every connection opened so far. New dials work.
func (b *Broker) BreakConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.epoch++
}

// Dials returns how many connections have been opened successfully.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Messages returns a copy of the topic log.
func (b *Broker) Messages(topic string) []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broker.Message(nil), b.topics[topic]...)
}

func (b *Broker) connect() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return 0, ErrUnavailable
	}
	b.dials++
	return b.epoch, nil
}

// usableLocked reports whether a connection opened at epoch still works.
func (b *Broker) usableLocked(epoch uint64) bool {
	return !b.down && epoch == b.epoch
}

// ProducerDialer returns a dialer for producers writing to topic.
func (b *Broker) ProducerDialer(topic string) broker.ProducerDialer {
	return func(ctx context.Context) (broker.Producer, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		epoch, err := b.connect()
		if err != nil {
			return nil, err
		}
		return &producer{b: b, topic: topic, epoch: epoch}, nil
	}
}

// SubscriptionDialer returns a dialer for group members reading topic.
func (b *Broker) SubscriptionDialer(topic, group string) broker.SubscriptionDialer {
	return func(ctx context.Context) (broker.Subscription, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		epoch, err := b.connect()
		if err != nil {
			return nil, err
		}
		return &subscription{b: b, key: groupTopic{group: group, topic: topic}, epoch: epoch}, nil
	}
}

type producer struct {
	b      *Broker
	topic  string
	epoch  uint64
	closed bool
}

// Produce appends the whole batch atomically or not at all.
func (p *producer) Produce(ctx context.Context, msgs ...broker.Message) error {
	if p.closed {
		return broker.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := p.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.usableLocked(p.epoch) {
		return ErrUnavailable
	}

	now := time.Now().UTC()
	for _, m := range msgs {
		topic := m.Topic
		if topic == "" {
			topic = p.topic
		}
		m.Topic = topic
		m.Offset = int64(len(b.topics[topic]))
		m.Timestamp = now
		b.topics[topic] = append(b.topics[topic], m)
	}
	if len(msgs) > 0 {
		close(b.wake)
		b.wake = make(chan struct{})
	}
	return nil
}

func (p *producer) Close() error {
	p.closed = true
	return nil
}

type subscription struct {
	b      *Broker
	key    groupTopic
	epoch  uint64
	closed bool
}

// Poll hands out the next message for the group, advancing the group offset
// immediately (auto-commit).
func (s *subscription) Poll(ctx context.Context, timeout time.Duration) (*broker.Message, error) {
	if s.closed {
		return nil, broker.ErrClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		msg, wake, err := s.next()
		if err != nil || msg != nil {
			return msg, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wake:
		}
	}
}

func (s *subscription) next() (*broker.Message, <-chan struct{}, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.usableLocked(s.epoch) {
		return nil, nil, ErrUnavailable
	}
	topicLog := b.topics[s.key.topic]
	off := b.offsets[s.key]
	if off < len(topicLog) {
		b.offsets[s.key] = off + 1
		msg := topicLog[off]
		return &msg, nil, nil
	}
	return nil, b.wake, nil
}

func (s *subscription) Close() error {
	s.closed = true
	return nil
}
