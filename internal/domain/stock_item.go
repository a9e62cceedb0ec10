package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockItem is a catalog entry together with the quantity on hand.
// Quantity only changes through StockLedger.Reserve/Release.
type StockItem struct {
	ID           string          `json:"id"`
	Sku          string          `json:"sku"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	CreatedAtUtc time.Time       `json:"createdAt"`
	UpdatedAtUtc time.Time       `json:"updatedAt"`
}

func NewStockItem(sku, name string, price decimal.Decimal, quantity int) (*StockItem, error) {
	item := &StockItem{
		ID:       uuid.NewString(),
		Sku:      strings.TrimSpace(sku),
		Name:     strings.TrimSpace(name),
		Price:    price,
		Quantity: quantity,
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	item.CreatedAtUtc = now
	item.UpdatedAtUtc = now
	return item, nil
}

func (s *StockItem) Validate() error {
	var problems []string
	if s.Sku == "" {
		problems = append(problems, "sku is required")
	}
	if s.Name == "" {
		problems = append(problems, "name is required")
	}
	if s.Price.IsNegative() {
		problems = append(problems, "price must be >= 0")
	}
	if s.Quantity < 0 {
		problems = append(problems, "quantity must be >= 0")
	}
	if len(problems) > 0 {
		return NewValidationError("invalid product", problems)
	}
	return nil
}

func (s *StockItem) CanReserve(qty int) bool {
	return qty > 0 && s.Quantity >= qty
}

// ReservationRequest is one candidate line of an order.
type ReservationRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ItemAvailability is the per-item verdict of an availability check.
type ItemAvailability struct {
	ProductID         string     `json:"productId"`
	Available         bool       `json:"available"`
	Reason            string     `json:"reason,omitempty"`
	AvailableQuantity *int       `json:"availableQuantity,omitempty"`
	RequestedQuantity *int       `json:"requestedQuantity,omitempty"`
	Product           *StockItem `json:"product,omitempty"`
}

type AvailabilityResult struct {
	Available bool               `json:"available"`
	Items     []ItemAvailability `json:"items"`
}

// Unavailable returns only the failing items.
func (r AvailabilityResult) Unavailable() []ItemAvailability {
	out := make([]ItemAvailability, 0)
	for _, it := range r.Items {
		if !it.Available {
			out = append(out, it)
		}
	}
	return out
}

const (
	ReasonProductNotFound      = "Product not found"
	ReasonInsufficientQuantity = "Insufficient quantity"
	ReasonReservedConcurrently = "Stock changed during reservation"
)
