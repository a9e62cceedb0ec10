package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

func TestStockLedger_ConcurrentReserveNeverOversells(t *testing.T) {
	const initial = 50
	ledger := NewStockLedger(domain.StockItem{ID: "p1", Sku: "SKU-1", Name: "Widget", Price: decimal.NewFromInt(3), Quantity: initial})
	ctx := context.Background()

	var wg sync.WaitGroup
	var granted atomic.Int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx, "p1", qty); err == nil {
				granted.Add(int64(qty))
			} else {
				assert.ErrorIs(t, err, domain.ErrInsufficientQuantity)
			}
		}(i%3 + 1)
	}
	wg.Wait()

	item, err := ledger.Get(ctx, "p1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, item.Quantity, 0)
	assert.LessOrEqual(t, granted.Load(), int64(initial))
	assert.Equal(t, int64(initial), granted.Load()+int64(item.Quantity))
}

func TestStockLedger_ReserveRelease(t *testing.T) {
	ledger := NewStockLedger(domain.StockItem{ID: "p1", Sku: "SKU-1", Name: "Widget", Quantity: 5})
	ctx := context.Background()

	snap, err := ledger.Reserve(ctx, "p1", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Quantity)

	_, err = ledger.Reserve(ctx, "p1", 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientQuantity)

	_, err = ledger.Reserve(ctx, "nope", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap, err = ledger.Release(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Quantity)

	_, err = ledger.Release(ctx, "nope", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStockLedger_CreateRejectsDuplicateSku(t *testing.T) {
	ledger := NewStockLedger()
	ctx := context.Background()

	a, err := domain.NewStockItem("SKU-1", "A", decimal.NewFromInt(1), 1)
	require.NoError(t, err)
	b, err := domain.NewStockItem("SKU-1", "B", decimal.NewFromInt(1), 1)
	require.NoError(t, err)

	require.NoError(t, ledger.Create(ctx, a))
	assert.ErrorIs(t, ledger.Create(ctx, b), domain.ErrDuplicateSku)
}
