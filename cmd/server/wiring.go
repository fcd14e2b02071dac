package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"auditrelay/internal/platform/config"
	"auditrelay/internal/platform/kafka"
	"auditrelay/internal/platform/membroker"
	"auditrelay/internal/platform/postgres"
	"auditrelay/internal/platform/redisstream"
	audit "auditrelay/pkg/platform/audit"
	"auditrelay/pkg/platform/audit/store/memory"
	pgstore "auditrelay/pkg/platform/audit/store/postgres"
	"auditrelay/pkg/platform/broker"
)

type brokerDialers struct {
	producer     broker.ProducerDialer
	subscription broker.SubscriptionDialer
}

// newBrokerDialers picks the broker implementation. Dialing is lazy; only
// topic creation talks to Kafka here.
func newBrokerDialers(ctx context.Context, cfg *config.Config, log *slog.Logger) (brokerDialers, error) {
	topic, group := cfg.Broker.Topic, cfg.Broker.ConsumerGroup

	switch cfg.Broker.Driver {
	case config.DriverKafka:
		if cfg.Kafka.EnsureTopic {
			if err := kafka.EnsureTopic(ctx, cfg.Kafka, topic); err != nil {
				// The relay and consumer retry on their own; a broker that is
				// down at startup is not fatal.
				log.Warn("ensure kafka topic failed", "topic", topic, "error", err)
			}
		}
		return brokerDialers{
			producer:     kafka.NewProducerDialer(cfg.Kafka, topic),
			subscription: kafka.NewSubscriptionDialer(cfg.Kafka, topic, group),
		}, nil
	case config.DriverRedis:
		return brokerDialers{
			producer:     redisstream.NewProducerDialer(cfg.Redis, topic),
			subscription: redisstream.NewSubscriptionDialer(cfg.Redis, topic, group),
		}, nil
	case config.DriverMemory:
		b := membroker.New()
		return brokerDialers{
			producer:     b.ProducerDialer(topic),
			subscription: b.SubscriptionDialer(topic, group),
		}, nil
	default:
		return brokerDialers{}, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

type auditStore struct {
	audit.Store
	db *sql.DB
}

func (s auditStore) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func newAuditStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (auditStore, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return auditStore{}, err
		}
		store := pgstore.New(db, cfg.Postgres.Table)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return auditStore{}, fmt.Errorf("ensure audit schema: %w", err)
		}
		log.Info("audit store ready", "driver", config.DriverPostgres, "table", cfg.Postgres.Table)
		return auditStore{Store: store, db: db}, nil
	case config.DriverMemory:
		return auditStore{Store: memory.NewInMemoryStore()}, nil
	default:
		return auditStore{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
