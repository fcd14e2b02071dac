package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"auditrelay/internal/platform/config"
)

func TestProducerOpts(t *testing.T) {
	t.Run("all acks", func(t *testing.T) {
		cl, err := kgo.NewClient(producerOpts(config.Default().Kafka, "audit-events")...)
		require.NoError(t, err)
		defer cl.Close()

		assert.Equal(t, "auditing-api-producer", cl.OptValue(kgo.ClientID))
		assert.Equal(t, "audit-events", cl.OptValue(kgo.DefaultProduceTopic))
		assert.Equal(t, kgo.AllISRAcks(), cl.OptValue(kgo.RequiredAcks))
	})

	t.Run("leader acks disable idempotent writes", func(t *testing.T) {
		cfg := config.Default().Kafka
		cfg.Acks = "leader"

		// franz-go rejects leader acks on an idempotent producer at construction.
		cl, err := kgo.NewClient(producerOpts(cfg, "audit-events")...)
		require.NoError(t, err)
		defer cl.Close()

		assert.Equal(t, kgo.LeaderAck(), cl.OptValue(kgo.RequiredAcks))
	})
}
