//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"auditrelay/internal/platform/config"
	"auditrelay/pkg/platform/broker"
	"auditrelay/pkg/testutil/containers"
)

type KafkaSuite struct {
	suite.Suite
	cfg config.KafkaConfig
}

func TestKafkaSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSuite))
}

func (s *KafkaSuite) SetupSuite() {
	rp := containers.GetManager().GetRedpanda(s.T())
	s.cfg = config.Default().Kafka
	s.cfg.Brokers = []string{rp.Broker}
	s.cfg.Partitions = 1
}

func (s *KafkaSuite) TestProduceThenConsume() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	topic := "audit-" + uuid.NewString()
	s.Require().NoError(EnsureTopic(ctx, s.cfg, topic))
	s.Require().NoError(EnsureTopic(ctx, s.cfg, topic), "existing topic is not an error")

	producer, err := NewProducerDialer(s.cfg, topic)(ctx)
	s.Require().NoError(err)
	defer producer.Close()

	s.Require().NoError(producer.Produce(ctx,
		broker.Message{Key: []byte("a"), Value: []byte(`{"id":"a"}`)},
		broker.Message{Key: []byte("b"), Value: []byte(`{"id":"b"}`)},
	))

	sub, err := NewSubscriptionDialer(s.cfg, topic, "group-"+uuid.NewString())(ctx)
	s.Require().NoError(err)
	defer sub.Close()

	var keys []string
	for len(keys) < 2 && ctx.Err() == nil {
		msg, err := sub.Poll(ctx, time.Second)
		s.Require().NoError(err)
		if msg != nil {
			s.Equal(topic, msg.Topic)
			keys = append(keys, string(msg.Key))
		}
	}
	s.Equal([]string{"a", "b"}, keys, "single partition preserves order")
}

func (s *KafkaSuite) TestClosedProducer() {
	ctx := context.Background()
	producer, err := NewProducerDialer(s.cfg, "audit-closed")(ctx)
	s.Require().NoError(err)
	s.Require().NoError(producer.Close())

	s.ErrorIs(producer.Produce(ctx, broker.Message{Key: []byte("k")}), broker.ErrClosed)
}

func (s *KafkaSuite) TestUnreachableBroker() {
	cfg := s.cfg
	cfg.Brokers = []string{"127.0.0.1:1"}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewProducerDialer(cfg, "audit-unreachable")(ctx)
	s.Error(err)
}
