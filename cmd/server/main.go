package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	auditinghandler "auditrelay/internal/auditing/handler"
	"auditrelay/internal/health"
	httpapi "auditrelay/internal/http"
	"auditrelay/internal/platform/config"
	"auditrelay/internal/platform/httpserver"
	"auditrelay/internal/platform/logger"
	"auditrelay/internal/platform/metrics"
	samplehandler "auditrelay/internal/sample/handler"
	samplestore "auditrelay/internal/sample/store"
	"auditrelay/pkg/platform/audit/buffer"
	"auditrelay/pkg/platform/audit/capture"
	"auditrelay/pkg/platform/audit/consumer"
	"auditrelay/pkg/platform/audit/publisher"
	"auditrelay/pkg/platform/audit/query"
	"auditrelay/pkg/platform/audit/relay"
)

// main wires the capture -> buffer -> relay -> broker -> consumer -> store
// pipeline and the HTTP surface, then runs until SIGINT or SIGTERM.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("auditrelay stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("auditrelay stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	brokers, err := newBrokerDialers(ctx, cfg, log)
	if err != nil {
		return err
	}
	store, err := newAuditStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	buf := buffer.New(cfg.Relay.BatchSize)
	metrics.RegisterBufferTotals(reg, buf)
	pub := publisher.New(brokers.producer, cfg.Broker.Topic,
		publisher.WithLogger(log), publisher.WithMetrics(m))
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("close publisher", "error", err)
		}
	}()

	rly := relay.New(buf, pub, relay.Config{
		Interval:        cfg.Relay.Interval,
		BatchSize:       cfg.Relay.BatchSize,
		Backoff:         cfg.Relay.Backoff,
		PublishTimeout:  cfg.Relay.PublishTimeout,
		ShutdownTimeout: cfg.Relay.ShutdownTimeout,
	}, relay.WithLogger(log), relay.WithMetrics(m))

	cons := consumer.New(brokers.subscription, store, consumer.Config{
		PollTimeout:       cfg.Consumer.PollTimeout,
		ConsumeBackoff:    cfg.Consumer.ConsumeBackoff,
		StoreBackoff:      cfg.Consumer.StoreBackoff,
		InsertTimeout:     cfg.Consumer.InsertTimeout,
		MaxInsertAttempts: cfg.Consumer.MaxInsertAttempts,
	}, consumer.WithLogger(log), consumer.WithMetrics(m))

	queries := query.New(store,
		query.WithPageSizes(cfg.Pagination.DefaultPageSize, cfg.Pagination.MaxPageSize),
		query.WithMetrics(m))

	router := httpapi.NewRouter(httpapi.Deps{
		Capture: capture.New(buf, capture.Config{
			MaxBodyBytes:      cfg.Capture.MaxBodyBytes,
			SkipPaths:         cfg.Capture.SkipPaths,
			TrustProxyHeaders: cfg.Capture.TrustProxyHeaders,
		}, capture.WithLogger(log), capture.WithMetrics(m)),
		Gatherer: reg,
		Routes: []httpapi.Registrar{
			auditinghandler.New(queries, log),
			samplehandler.New(samplestore.NewInMemory(), log),
			health.New(buf, pub, cons),
		},
	})
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting auditrelay",
			"addr", cfg.Server.Addr,
			"broker", cfg.Broker.Driver,
			"store", cfg.Store.Driver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error { return rly.Run(gctx) })
	g.Go(func() error { return cons.Run(gctx) })

	return g.Wait()
}
