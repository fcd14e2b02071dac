// Package redisstream implements the broker contract on Redis Streams. Each
// audit message is one stream entry with "key" and "value" fields; consumers
// read through a consumer group with NOACK, the stream equivalent of Kafka
// auto-commit.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"auditrelay/internal/platform/config"
	"auditrelay/internal/platform/redis"
	"auditrelay/pkg/platform/broker"
)

const (
	fieldKey   = "key"
	fieldValue = "value"
)

// Producer appends messages to a stream.
type Producer struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewProducerDialer returns a dialer opening a new Redis connection per call.
func NewProducerDialer(cfg config.RedisConfig, stream string) broker.ProducerDialer {
	return func(ctx context.Context) (broker.Producer, error) {
		client, err := redis.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Producer{client: client, stream: stream, maxLen: cfg.StreamMaxLen}, nil
	}
}

// Produce pipelines one XADD per message and fails if any of them failed.
func (p *Producer) Produce(ctx context.Context, msgs ...broker.Message) error {
	if p.client == nil {
		return broker.ErrClosed
	}
	if len(msgs) == 0 {
		return nil
	}

	cmds, err := p.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, m := range msgs {
			stream := m.Topic
			if stream == "" {
				stream = p.stream
			}
			args := &goredis.XAddArgs{
				Stream: stream,
				Values: map[string]any{fieldKey: m.Key, fieldValue: m.Value},
			}
			if p.maxLen > 0 {
				args.MaxLen = p.maxLen
				args.Approx = true
			}
			pipe.XAdd(ctx, args)
		}
		return nil
	})
	if err != nil {
		failed := 0
		for _, c := range cmds {
			if c.Err() != nil {
				failed++
			}
		}
		return fmt.Errorf("xadd %d of %d messages failed: %w", failed, len(msgs), err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (p *Producer) Close() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// Subscription reads a stream through a consumer group.
type Subscription struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

// NewSubscriptionDialer returns a dialer that creates the consumer group (and
// stream) when missing, starting from the beginning of the stream.
func NewSubscriptionDialer(cfg config.RedisConfig, stream, group string) broker.SubscriptionDialer {
	return func(ctx context.Context) (broker.Subscription, error) {
		client, err := redis.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		err = client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			_ = client.Close()
			return nil, fmt.Errorf("create consumer group %s on %s: %w", group, stream, err)
		}
		return &Subscription{
			client:   client,
			stream:   stream,
			group:    group,
			consumer: consumerName(),
		}, nil
	}
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "auditrelay"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

// Poll blocks up to timeout for the next entry delivered to this group.
func (s *Subscription) Poll(ctx context.Context, timeout time.Duration) (*broker.Message, error) {
	if s.client == nil {
		return nil, broker.ErrClosed
	}

	streams, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    timeout,
		NoAck:    true,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", s.stream, err)
	}

	for _, st := range streams {
		if len(st.Messages) > 0 {
			return toMessage(st.Stream, st.Messages[0]), nil
		}
	}
	return nil, nil
}

func toMessage(stream string, m goredis.XMessage) *broker.Message {
	msg := &broker.Message{
		Topic: stream,
		Key:   fieldBytes(m.Values[fieldKey]),
		Value: fieldBytes(m.Values[fieldValue]),
	}
	// Stream ids are "<unix-ms>-<seq>".
	if ms, seq, ok := strings.Cut(m.ID, "-"); ok {
		if millis, err := strconv.ParseInt(ms, 10, 64); err == nil {
			msg.Timestamp = time.UnixMilli(millis).UTC()
		}
		if n, err := strconv.ParseInt(seq, 10, 64); err == nil {
			msg.Offset = n
		}
	}
	return msg
}

func fieldBytes(v any) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	default:
		return nil
	}
}

// Close releases the connection; NOACK reads leave nothing pending.
func (s *Subscription) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
