package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"auditrelay/internal/platform/config"
	"auditrelay/pkg/platform/broker"
)

// Subscription is a consumer-group member reading one topic. Offsets are
// auto-committed; the store write is the durability boundary.
type Subscription struct {
	client *kgo.Client
}

// NewSubscriptionDialer returns a dialer joining group on topic, starting at
// the earliest offset when the group has no committed position.
func NewSubscriptionDialer(cfg config.KafkaConfig, topic, group string) broker.SubscriptionDialer {
	return func(ctx context.Context) (broker.Subscription, error) {
		client, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Brokers...),
			kgo.ClientID(cfg.ClientID+"-consumer"),
			kgo.ConsumerGroup(group),
			kgo.ConsumeTopics(topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
		if err != nil {
			return nil, fmt.Errorf("create kafka consumer: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping kafka brokers %v: %w", cfg.Brokers, err)
		}
		return &Subscription{client: client}, nil
	}
}

// Poll returns at most one record. Remaining fetched records stay buffered in
// the client for the next call.
func (s *Subscription) Poll(ctx context.Context, timeout time.Duration) (*broker.Message, error) {
	if s.client == nil {
		return nil, broker.ErrClosed
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := s.client.PollRecords(pollCtx, 1)
	if fetches.IsClientClosed() {
		return nil, broker.ErrClosed
	}
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return nil, fmt.Errorf("fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
	}

	records := fetches.Records()
	if len(records) == 0 {
		return nil, nil
	}
	r := records[0]
	return &broker.Message{
		Topic:     r.Topic,
		Key:       r.Key,
		Value:     r.Value,
		Partition: r.Partition,
		Offset:    r.Offset,
		Timestamp: r.Timestamp,
	}, nil
}

// Close leaves the group, committing auto-commit marks first.
func (s *Subscription) Close() error {
	if s.client == nil {
		return nil
	}
	s.client.Close()
	s.client = nil
	return nil
}
