package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/api"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/application"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/config"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/infrastructure/db"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/infrastructure/memory"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/infrastructure/messaging"
	outboxinfra "github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/infrastructure/outbox"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/infrastructure/poller"
)

func main() {
	cfg := config.Load("3002")
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)
	log.Info("Starting shipping service", "port", cfg.HttpPort, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		shipments  domain.ShipmentRepository
		dueActions domain.DueActionRepository
		outbox     domain.OutboxRepository
	)
	if cfg.StoreDriver == "memory" {
		store := memory.NewShipmentStore()
		shipments, dueActions, outbox = store, store, store
	} else {
		shippingDB, err := db.Open(ctx, cfg.ShippingPgDsn, db.ShippingStore)
		if err != nil {
			log.Error("failed to open shipping store", "err", err)
			os.Exit(1)
		}
		defer shippingDB.Close()
		shipments = db.NewPgShipmentRepository(shippingDB)
		dueActions = db.NewPgDueActionRepository(shippingDB)
		outbox = db.NewPgOutboxRepository(shippingDB)
	}

	lifecycle := application.NewShipmentLifecycle(shipments, dueActions, lifecycleConfig(cfg), log)
	runner := application.NewDueActionRunner(dueActions, lifecycle, cfg.DueActionBatchSize, cfg.DueActionMaxAttempts, log)
	scheduler := poller.New("due-actions", runner, time.Duration(cfg.DueActionIntervalSec)*time.Second, log)

	notifier := messaging.NewShipmentNotifier(
		messaging.NewNotificationBus(cfg.RabbitUri, cfg.NotifyExchange),
		cfg.BrokerTimeout,
	)
	dispatcher := outboxinfra.NewDispatcher(outbox, notifier, cfg.OutboxMaxRetry, cfg.OutboxBatchSize, log)
	relay := poller.New("shipping-outbox", dispatcher, time.Duration(cfg.OutboxIntervalSec)*time.Second, log)

	consumer := messaging.NewConsumer(messaging.ConsumerOptions{
		URI: cfg.RabbitUri,
		Topology: messaging.Topology{
			Exchange:           cfg.OrderExchange,
			Queue:              cfg.ShippingQueue,
			RoutingKey:         domain.OrderCreatedRoutingKey,
			DeadLetterExchange: cfg.ShippingDLX,
			DeadLetterQueue:    cfg.ShippingDLQ,
		},
		Prefetch:   cfg.ConsumerPrefetch,
		Workers:    cfg.ConsumerWorkers,
		MaxRetry:   cfg.ConsumerMaxRetry,
		RetryDelay: time.Duration(cfg.ConsumerRetryMs) * time.Millisecond,
		Timeout:    cfg.BrokerTimeout,
	}, application.NewOrderCreatedHandler(lifecycle, log), log)

	mux := http.NewServeMux()
	api.NewShippingServer(lifecycle, log).RegisterRoutes(mux)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HttpPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		log.Info("HTTP listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down shipping service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shipping service stopped with error", "err", err)
		os.Exit(1)
	}
}

func lifecycleConfig(cfg config.Config) application.LifecycleConfig {
	lc := application.DefaultLifecycleConfig()
	lc.Carrier = cfg.Carrier
	lc.StoreTimeout = cfg.StoreTimeout
	lc.AutoAdvance = map[domain.ShipmentStatus]time.Duration{
		domain.ShipmentProcessing: time.Duration(cfg.ShipAfterSec) * time.Second,
		domain.ShipmentShipped:    time.Duration(cfg.TransitAfterSec) * time.Second,
		domain.ShipmentInTransit:  time.Duration(cfg.DeliverAfterSec) * time.Second,
	}
	return lc
}
