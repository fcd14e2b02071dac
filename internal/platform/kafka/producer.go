// Package kafka adapts franz-go to the broker contract used by the audit
// pipeline: a producer dialer for the relay and a group subscription for the
// persistence consumer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"auditrelay/internal/platform/config"
	"auditrelay/pkg/platform/broker"
)

// Producer publishes audit messages to a single topic.
type Producer struct {
	client *kgo.Client
	topic  string
}

// producerOpts builds the franz-go options for a durable, throughput-oriented
// producer. Idempotent writes need all-ISR acks, so "leader" acks turn them off.
func producerOpts(cfg config.KafkaConfig, topic string) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(cfg.Linger),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
		kgo.RecordRetries(cfg.RecordRetries),
	}
	if cfg.BatchMaxBytes > 0 {
		opts = append(opts, kgo.ProducerBatchMaxBytes(cfg.BatchMaxBytes))
	}
	if strings.EqualFold(cfg.Acks, "leader") {
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	} else {
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	return opts
}

// NewProducerDialer returns a dialer that creates a fresh client per call and
// verifies broker reachability before handing it out.
func NewProducerDialer(cfg config.KafkaConfig, topic string) broker.ProducerDialer {
	return func(ctx context.Context) (broker.Producer, error) {
		client, err := kgo.NewClient(producerOpts(cfg, topic)...)
		if err != nil {
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping kafka brokers %v: %w", cfg.Brokers, err)
		}
		return &Producer{client: client, topic: topic}, nil
	}
}

// Produce sends every message and waits for all delivery outcomes. franz-go
// coalesces records into wire batches on its own linger window.
func (p *Producer) Produce(ctx context.Context, msgs ...broker.Message) error {
	if p.client == nil {
		return broker.ErrClosed
	}
	if len(msgs) == 0 {
		return nil
	}

	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		topic := m.Topic
		if topic == "" {
			topic = p.topic
		}
		records[i] = &kgo.Record{Topic: topic, Key: m.Key, Value: m.Value}
	}

	results := p.client.ProduceSync(ctx, records...)
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("produce key %s: %w", r.Record.Key, r.Err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d records failed: %w", len(errs), len(records), errors.Join(errs...))
	}
	return nil
}

// Close flushes nothing: a failed or finished producer is discarded.
func (p *Producer) Close() error {
	if p.client == nil {
		return nil
	}
	p.client.Close()
	p.client = nil
	return nil
}
