package memory

import (
	"context"
	"sync"
	"time"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type StockLedger struct {
	mu    sync.Mutex
	items map[string]*domain.StockItem
	order []string
}

func NewStockLedger(seed ...domain.StockItem) *StockLedger {
	l := &StockLedger{items: make(map[string]*domain.StockItem)}
	for i := range seed {
		it := seed[i]
		l.items[it.ID] = &it
		l.order = append(l.order, it.ID)
	}
	return l
}

func (l *StockLedger) Get(ctx context.Context, productID string) (*domain.StockItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (l *StockLedger) GetMany(ctx context.Context, productIDs []string) (map[string]*domain.StockItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*domain.StockItem, len(productIDs))
	for _, id := range productIDs {
		if it, ok := l.items[id]; ok {
			cp := *it
			out[id] = &cp
		}
	}
	return out, nil
}

func (l *StockLedger) List(ctx context.Context) ([]domain.StockItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.StockItem, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.items[id])
	}
	return out, nil
}

func (l *StockLedger) Create(ctx context.Context, item *domain.StockItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it.Sku == item.Sku {
			return domain.ErrDuplicateSku
		}
	}
	cp := *item
	l.items[item.ID] = &cp
	l.order = append(l.order, item.ID)
	return nil
}

func (l *StockLedger) Reserve(ctx context.Context, productID string, qty int) (*domain.StockItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !it.CanReserve(qty) {
		return nil, domain.ErrInsufficientQuantity
	}
	it.Quantity -= qty
	it.UpdatedAtUtc = time.Now().UTC()
	cp := *it
	return &cp, nil
}

func (l *StockLedger) Release(ctx context.Context, productID string, qty int) (*domain.StockItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	it.Quantity += qty
	it.UpdatedAtUtc = time.Now().UTC()
	cp := *it
	return &cp, nil
}
