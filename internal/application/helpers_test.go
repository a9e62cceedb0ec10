package application

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/infrastructure/memory"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	bodies [][]byte
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func seedCatalog() *memory.StockLedger {
	return memory.NewStockLedger(
		domain.StockItem{ID: "laptop", Sku: "LAP-1", Name: "Laptop", Price: decimal.RequireFromString("1299.99"), Quantity: 10},
		domain.StockItem{ID: "mouse", Sku: "MOU-1", Name: "Mouse", Price: decimal.RequireFromString("49.99"), Quantity: 5},
		domain.StockItem{ID: "keyboard", Sku: "KEY-1", Name: "Keyboard", Price: decimal.RequireFromString("79.99"), Quantity: 3},
	)
}

func orderRequest(items ...domain.ReservationRequest) domain.OrderRequest {
	return domain.OrderRequest{
		Customer:        domain.Customer{ID: "cust-1", Name: "Ada Lovelace", Email: "ada@example.com"},
		Items:           items,
		ShippingAddress: domain.Address{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US"},
	}
}
