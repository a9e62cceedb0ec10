package application

import (
	"context"
	"time"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// AvailabilityChecker is advisory only: a positive verdict is not a
// reservation.
type AvailabilityChecker struct {
	ledger  domain.StockLedger
	timeout time.Duration
}

func NewAvailabilityChecker(ledger domain.StockLedger, timeout time.Duration) *AvailabilityChecker {
	return &AvailabilityChecker{ledger: ledger, timeout: timeout}
}

func (c *AvailabilityChecker) Check(
	ctx context.Context,
	items []domain.ReservationRequest,
) (domain.AvailabilityResult, error) {
	if problems := domain.ValidateItems(items); len(problems) > 0 {
		return domain.AvailabilityResult{}, domain.NewValidationError("invalid availability request", problems)
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}

	qctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	stock, err := c.ledger.GetMany(qctx, ids)
	if err != nil {
		return domain.AvailabilityResult{}, asUpstream("stock ledger unavailable", err)
	}

	result := domain.AvailabilityResult{
		Available: true,
		Items:     make([]domain.ItemAvailability, 0, len(items)),
	}
	for _, it := range items {
		verdict := classify(it, stock[it.ProductID])
		result.Available = result.Available && verdict.Available
		result.Items = append(result.Items, verdict)
	}
	return result, nil
}

func classify(req domain.ReservationRequest, item *domain.StockItem) domain.ItemAvailability {
	if item == nil {
		return domain.ItemAvailability{
			ProductID: req.ProductID,
			Available: false,
			Reason:    domain.ReasonProductNotFound,
		}
	}
	if item.Quantity < req.Quantity {
		have, want := item.Quantity, req.Quantity
		return domain.ItemAvailability{
			ProductID:         req.ProductID,
			Available:         false,
			Reason:            domain.ReasonInsufficientQuantity,
			AvailableQuantity: &have,
			RequestedQuantity: &want,
		}
	}
	return domain.ItemAvailability{
		ProductID: req.ProductID,
		Available: true,
		Product:   item,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
