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

	"github.com/shopspring/decimal"
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

type stores struct {
	ledger domain.StockLedger
	orders domain.OrderRepository
	outbox domain.OutboxRepository
	close  func()
}

func main() {
	cfg := config.Load("3001")
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)
	log.Info("Starting order service", "port", cfg.HttpPort, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Error("failed to open stores", "err", err)
		os.Exit(1)
	}
	defer st.close()

	publisher := messaging.NewPublisher(messaging.PublisherOptions{
		URI:      cfg.RabbitUri,
		Topology: shippingTopology(cfg),
		Timeout:  cfg.BrokerTimeout,
	}, log)
	defer publisher.Close()

	checker := application.NewAvailabilityChecker(st.ledger, cfg.StockTimeout)
	assembler := application.NewOrderAssembler(
		checker,
		st.ledger,
		st.orders,
		st.outbox,
		publisher,
		application.OrderAssemblerConfig{
			StockTimeout:   cfg.StockTimeout,
			PublishTimeout: cfg.BrokerTimeout,
			StoreTimeout:   cfg.StoreTimeout,
		},
		log,
	)
	catalog := application.NewCatalogService(st.ledger, cfg.StockTimeout)

	// Relay for announcements the request path could not publish
	dispatcher := outboxinfra.NewDispatcher(st.outbox, publisher, cfg.OutboxMaxRetry, cfg.OutboxBatchSize, log)
	relay := poller.New("outbox", dispatcher, time.Duration(cfg.OutboxIntervalSec)*time.Second, log)

	mux := http.NewServeMux()
	api.NewOrderServer(catalog, checker, assembler, dispatcher, log).RegisterRoutes(mux)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HttpPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
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
		log.Info("Shutting down order service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("order service stopped with error", "err", err)
		os.Exit(1)
	}
}

func shippingTopology(cfg config.Config) messaging.Topology {
	return messaging.Topology{
		Exchange:           cfg.OrderExchange,
		Queue:              cfg.ShippingQueue,
		RoutingKey:         domain.OrderCreatedRoutingKey,
		DeadLetterExchange: cfg.ShippingDLX,
		DeadLetterQueue:    cfg.ShippingDLQ,
	}
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		orders := memory.NewOrderStore()
		return &stores{
			ledger: memory.NewStockLedger(demoCatalog()...),
			orders: orders,
			outbox: orders,
			close:  func() {},
		}, nil
	}

	stockDB, err := db.Open(ctx, cfg.StockPgDsn, db.StockStore)
	if err != nil {
		return nil, err
	}
	ordersDB, err := db.Open(ctx, cfg.OrdersPgDsn, db.OrdersStore)
	if err != nil {
		stockDB.Close()
		return nil, err
	}
	return &stores{
		ledger: db.NewPgStockLedger(stockDB),
		orders: db.NewPgOrderRepository(ordersDB),
		outbox: db.NewPgOutboxRepository(ordersDB),
		close: func() {
			stockDB.Close()
			ordersDB.Close()
		},
	}, nil
}

func demoCatalog() []domain.StockItem {
	now := time.Now().UTC()
	item := func(id, sku, name, category, price string, qty int) domain.StockItem {
		return domain.StockItem{
			ID:           id,
			Sku:          sku,
			Name:         name,
			Category:     category,
			Price:        decimal.RequireFromString(price),
			Quantity:     qty,
			CreatedAtUtc: now,
			UpdatedAtUtc: now,
		}
	}
	return []domain.StockItem{
		item("laptop", "LAP-001", "Laptop", "electronics", "1299.99", 10),
		item("mouse", "MOU-001", "Wireless Mouse", "accessories", "49.99", 50),
		item("keyboard", "KEY-001", "Mechanical Keyboard", "accessories", "79.99", 25),
		item("monitor", "MON-001", "27in Monitor", "electronics", "349.99", 8),
	}
}
