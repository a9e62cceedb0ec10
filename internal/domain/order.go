package domain

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderConfirmed OrderStatus = "confirmed"
	OrderFailed    OrderStatus = "failed"
)

var (
	invoiceTaxRate = decimal.RequireFromString("0.1")
	invoiceDueIn   = 30 * 24 * time.Hour
)

type Customer struct {
	ID    string `json:"customerId"`
	Name  string `json:"customerName"`
	Email string `json:"customerEmail"`
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

func (a Address) missingFields() []string {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"zipCode", a.ZipCode},
		{"country", a.Country},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, "shippingAddress."+f.name+" is required")
		}
	}
	return missing
}

type LineItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// Order is immutable once confirmed.
type Order struct {
	OrderID         string          `json:"orderId"`
	CustomerID      string          `json:"customerId"`
	CustomerName    string          `json:"customerName"`
	CustomerEmail   string          `json:"customerEmail"`
	Items           []LineItem      `json:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress Address         `json:"shippingAddress"`
	CreatedAtUtc    time.Time       `json:"createdAt"`
}

// OrderRequest is the client-facing input of order creation.
type OrderRequest struct {
	Customer
	Items           []ReservationRequest `json:"items"`
	ShippingAddress Address              `json:"shippingAddress"`
}

// Validate reports every malformed field at once.
func (r OrderRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.ID) == "" {
		problems = append(problems, "customerId is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "customerName is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		problems = append(problems, "customerEmail is invalid")
	}
	problems = append(problems, ValidateItems(r.Items)...)
	problems = append(problems, r.ShippingAddress.missingFields()...)
	if len(problems) > 0 {
		return NewValidationError("invalid order request", problems)
	}
	return nil
}

// ValidateItems lists what is wrong with a set of requested lines. Each
// product may appear once, with a quantity of at least 1.
func ValidateItems(items []ReservationRequest) []string {
	var problems []string
	if len(items) == 0 {
		problems = append(problems, "items must not be empty")
	}
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			problems = append(problems, "items["+itoa(i)+"].productId is required")
			continue
		}
		if it.Quantity < 1 {
			problems = append(problems, "items["+itoa(i)+"].quantity must be >= 1 (productId "+it.ProductID+")")
		}
		if seen[it.ProductID] {
			problems = append(problems, "items["+itoa(i)+"].productId "+it.ProductID+" is duplicated")
		}
		seen[it.ProductID] = true
	}
	return problems
}

// NewConfirmedOrder prices every line from the reservation-time snapshot.
// items and reserved are index-aligned.
func NewConfirmedOrder(req OrderRequest, reserved []StockItem) *Order {
	lines := make([]LineItem, 0, len(req.Items))
	total := decimal.Zero
	for i, it := range req.Items {
		snap := reserved[i]
		lineTotal := snap.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		lines = append(lines, LineItem{
			ProductID:   it.ProductID,
			ProductName: snap.Name,
			Quantity:    it.Quantity,
			UnitPrice:   snap.Price,
			LineTotal:   lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return &Order{
		OrderID:         uuid.NewString(),
		CustomerID:      req.ID,
		CustomerName:    req.Name,
		CustomerEmail:   req.Email,
		Items:           lines,
		TotalAmount:     total,
		Status:          OrderConfirmed,
		ShippingAddress: req.ShippingAddress,
		CreatedAtUtc:    time.Now().UTC(),
	}
}

type CustomerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Invoice struct {
	InvoiceID       string          `json:"invoiceId"`
	OrderID         string          `json:"orderId"`
	CustomerInfo    CustomerInfo    `json:"customerInfo"`
	Items           []LineItem      `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	IssueDate       time.Time       `json:"issueDate"`
	DueDate         time.Time       `json:"dueDate"`
	ShippingAddress Address         `json:"shippingAddress"`
}

func (o *Order) Invoice(now time.Time) Invoice {
	tax := o.TotalAmount.Mul(invoiceTaxRate)
	return Invoice{
		InvoiceID: "INV-" + o.OrderID,
		OrderID:   o.OrderID,
		CustomerInfo: CustomerInfo{
			ID:    o.CustomerID,
			Name:  o.CustomerName,
			Email: o.CustomerEmail,
		},
		Items:           o.Items,
		Subtotal:        o.TotalAmount,
		Tax:             tax,
		Total:           o.TotalAmount.Add(tax),
		IssueDate:       now.UTC(),
		DueDate:         now.UTC().Add(invoiceDueIn),
		ShippingAddress: o.ShippingAddress,
	}
}
