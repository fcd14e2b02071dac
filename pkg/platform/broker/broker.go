// Package broker defines the minimal durable-broker contract the audit
// pipeline depends on: key/value byte messages with at-least-once delivery.
// Kafka, Redis Streams and the in-process broker all implement it.
package broker

//go:generate mockgen -source=broker.go -destination=mocks/mocks.go -package=mocks Producer,Subscription

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by producers and subscriptions used after Close.
var ErrClosed = errors.New("broker connection closed")

// Message is one record on the broker.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// Producer publishes messages. Produce must not return until every message
// has a delivery outcome; any failed message fails the whole call.
type Producer interface {
	Produce(ctx context.Context, msgs ...Message) error
	Close() error
}

// Subscription is a consumer-group membership on a single topic.
type Subscription interface {
	// Poll returns the next message, or nil when none arrives within timeout.
	Poll(ctx context.Context, timeout time.Duration) (*Message, error)
	Close() error
}

// ProducerDialer opens a new producer connection.
type ProducerDialer func(ctx context.Context) (Producer, error)

// SubscriptionDialer joins the consumer group and subscribes to the topic.
type SubscriptionDialer func(ctx context.Context) (Subscription, error)
