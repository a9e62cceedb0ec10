package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type CreateProductRequest struct {
	Sku         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// CatalogService exposes the stock store's catalog entries. Quantity is only
// ever changed through the ledger's conditional operations.
type CatalogService struct {
	ledger  domain.StockLedger
	timeout time.Duration
}

func NewCatalogService(ledger domain.StockLedger, timeout time.Duration) *CatalogService {
	return &CatalogService{ledger: ledger, timeout: timeout}
}

func (s *CatalogService) Create(ctx context.Context, req CreateProductRequest) (*domain.StockItem, error) {
	item, err := domain.NewStockItem(req.Sku, req.Name, req.Price, req.Quantity)
	if err != nil {
		return nil, err
	}
	item.Description = req.Description
	item.Category = req.Category

	qctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.ledger.Create(qctx, item); err != nil {
		if errors.Is(err, domain.ErrDuplicateSku) {
			return nil, domain.NewValidationError("SKU already exists", []string{item.Sku})
		}
		return nil, asUpstream("stock ledger unavailable", err)
	}
	return item, nil
}

func (s *CatalogService) Get(ctx context.Context, productID string) (*domain.StockItem, error) {
	qctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	item, err := s.ledger.Get(qctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewNotFoundError(domain.ReasonProductNotFound)
	}
	if err != nil {
		return nil, asUpstream("stock ledger unavailable", err)
	}
	return item, nil
}

func (s *CatalogService) List(ctx context.Context) ([]domain.StockItem, error) {
	qctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	items, err := s.ledger.List(qctx)
	if err != nil {
		return nil, asUpstream("stock ledger unavailable", err)
	}
	return items, nil
}

// Restock adds units through the ledger's atomic increment.
func (s *CatalogService) Restock(ctx context.Context, productID string, qty int) (*domain.StockItem, error) {
	if qty < 1 {
		return nil, domain.NewValidationError("quantity must be >= 1", nil)
	}
	qctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	item, err := s.ledger.Release(qctx, productID, qty)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewNotFoundError(domain.ReasonProductNotFound)
	}
	if err != nil {
		return nil, asUpstream("stock ledger unavailable", err)
	}
	return item, nil
}
