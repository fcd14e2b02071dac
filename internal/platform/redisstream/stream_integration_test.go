//go:build integration

package redisstream

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

type StreamSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cfg   config.RedisConfig
}

func TestStreamSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StreamSuite))
}

func (s *StreamSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cfg = config.Default().Redis
	s.cfg.URL = s.redis.URL
}

func (s *StreamSuite) SetupTest() {
	s.Require().NoError(s.redis.Reset(context.Background()))
}

func (s *StreamSuite) TestProduceThenConsume() {
	ctx := context.Background()
	stream := "audit-" + uuid.NewString()

	producer, err := NewProducerDialer(s.cfg, stream)(ctx)
	s.Require().NoError(err)
	defer producer.Close()

	s.Require().NoError(producer.Produce(ctx,
		broker.Message{Key: []byte("a"), Value: []byte(`{"id":"a"}`)},
		broker.Message{Key: []byte("b"), Value: []byte(`{"id":"b"}`)},
	))

	sub, err := NewSubscriptionDialer(s.cfg, stream, "audit-store-consumer")(ctx)
	s.Require().NoError(err)
	defer sub.Close()

	first, err := sub.Poll(ctx, time.Second)
	s.Require().NoError(err)
	s.Require().NotNil(first)
	s.Equal("a", string(first.Key))
	s.JSONEq(`{"id":"a"}`, string(first.Value))
	s.Equal(stream, first.Topic)
	s.False(first.Timestamp.IsZero())

	second, err := sub.Poll(ctx, time.Second)
	s.Require().NoError(err)
	s.Require().NotNil(second)
	s.Equal("b", string(second.Key))

	none, err := sub.Poll(ctx, 50*time.Millisecond)
	s.NoError(err)
	s.Nil(none)
}

func (s *StreamSuite) TestGroupSurvivesRedial() {
	ctx := context.Background()
	stream := "audit-" + uuid.NewString()
	dial := NewSubscriptionDialer(s.cfg, stream, "audit-store-consumer")

	sub, err := dial(ctx)
	s.Require().NoError(err)
	s.Require().NoError(sub.Close())

	// Second dial hits BUSYGROUP and must still succeed.
	sub, err = dial(ctx)
	s.Require().NoError(err)
	s.Require().NoError(sub.Close())

	_, err = sub.Poll(ctx, time.Millisecond)
	s.ErrorIs(err, broker.ErrClosed)
}

func (s *StreamSuite) TestProduceWithMaxLen() {
	ctx := context.Background()
	stream := "audit-" + uuid.NewString()
	cfg := s.cfg
	cfg.StreamMaxLen = 2

	producer, err := NewProducerDialer(cfg, stream)(ctx)
	s.Require().NoError(err)
	defer producer.Close()

	for i := range 5 {
		s.Require().NoError(producer.Produce(ctx, broker.Message{Key: []byte{byte('a' + i)}}))
	}

	n, err := s.redis.Client.XLen(ctx, stream).Result()
	s.Require().NoError(err)
	s.LessOrEqual(n, int64(5))
	s.GreaterOrEqual(n, int64(2))
}
