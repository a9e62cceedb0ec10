package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ShipmentStatus string

const (
	ShipmentProcessing ShipmentStatus = "processing"
	ShipmentShipped    ShipmentStatus = "shipped"
	ShipmentInTransit  ShipmentStatus = "in-transit"
	ShipmentDelivered  ShipmentStatus = "delivered"
	ShipmentFailed     ShipmentStatus = "failed"
)

// deliveryPath is the only forward path a shipment may follow.
var deliveryPath = []ShipmentStatus{
	ShipmentProcessing,
	ShipmentShipped,
	ShipmentInTransit,
	ShipmentDelivered,
}

func ParseShipmentStatus(s string) (ShipmentStatus, bool) {
	switch st := ShipmentStatus(s); st {
	case ShipmentProcessing, ShipmentShipped, ShipmentInTransit, ShipmentDelivered, ShipmentFailed:
		return st, true
	}
	return "", false
}

func (s ShipmentStatus) IsTerminal() bool {
	return s == ShipmentDelivered || s == ShipmentFailed
}

func (s ShipmentStatus) rank() int {
	for i, st := range deliveryPath {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the successor on the delivery path.
func (s ShipmentStatus) Next() (ShipmentStatus, bool) {
	r := s.rank()
	if r < 0 || r+1 >= len(deliveryPath) {
		return "", false
	}
	return deliveryPath[r+1], true
}

// Reached reports whether s is target or already past it on the delivery path.
func (s ShipmentStatus) Reached(target ShipmentStatus) bool {
	rs, rt := s.rank(), target.rank()
	return rs >= 0 && rt >= 0 && rs >= rt
}

type ShipmentItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type Shipment struct {
	ShippingID        string          `json:"shippingId"`
	OrderID           string          `json:"orderId"`
	CustomerID        string          `json:"customerId"`
	CustomerName      string          `json:"customerName"`
	CustomerEmail     string          `json:"customerEmail"`
	ShippingAddress   Address         `json:"shippingAddress"`
	Items             []ShipmentItem  `json:"items"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	Status            ShipmentStatus  `json:"status"`
	TrackingNumber    string          `json:"trackingNumber"`
	Carrier           string          `json:"carrier"`
	EstimatedDelivery time.Time       `json:"estimatedDelivery"`
	ShippedAt         *time.Time      `json:"shippedAt,omitempty"`
	InTransitAt       *time.Time      `json:"inTransitAt,omitempty"`
	ActualDelivery    *time.Time      `json:"actualDelivery,omitempty"`
	FailedAt          *time.Time      `json:"failedAt,omitempty"`
	CreatedAtUtc      time.Time       `json:"createdAt"`
	UpdatedAtUtc      time.Time       `json:"updatedAt"`
}

// NewShipment builds the processing-state shipment for a confirmed order.
func NewShipment(order Order, carrier string, leadTime time.Duration, now time.Time) *Shipment {
	items := make([]ShipmentItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, ShipmentItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.UnitPrice,
		})
	}
	now = now.UTC()
	return &Shipment{
		ShippingID:        NewShippingID(),
		OrderID:           order.OrderID,
		CustomerID:        order.CustomerID,
		CustomerName:      order.CustomerName,
		CustomerEmail:     order.CustomerEmail,
		ShippingAddress:   order.ShippingAddress,
		Items:             items,
		TotalAmount:       order.TotalAmount,
		Status:            ShipmentProcessing,
		TrackingNumber:    NewTrackingNumber(now),
		Carrier:           carrier,
		EstimatedDelivery: now.Add(leadTime),
		CreatedAtUtc:      now,
		UpdatedAtUtc:      now,
	}
}

// Advance moves the shipment toward target. Forward moves walk the delivery
// path one status at a time so every intermediate status gets stamped.
// Requesting the current status is a no-op and returns changed=false.
func (s *Shipment) Advance(target ShipmentStatus, now time.Time) (changed bool, err error) {
	if _, ok := ParseShipmentStatus(string(target)); !ok {
		return false, NewValidationError(fmt.Sprintf("unknown shipment status %q", target), nil)
	}
	if target == s.Status {
		return false, nil
	}
	if s.Status.IsTerminal() {
		return false, NewInvalidTransitionError(s.Status, target)
	}
	now = now.UTC()
	if target == ShipmentFailed {
		s.Status = ShipmentFailed
		s.FailedAt = &now
		s.UpdatedAtUtc = now
		return true, nil
	}
	if s.Status.Reached(target) {
		return false, NewInvalidTransitionError(s.Status, target)
	}
	for s.Status != target {
		next, _ := s.Status.Next()
		s.stamp(next, now)
	}
	s.UpdatedAtUtc = now
	return true, nil
}

func (s *Shipment) stamp(st ShipmentStatus, now time.Time) {
	s.Status = st
	switch st {
	case ShipmentShipped:
		if s.ShippedAt == nil {
			s.ShippedAt = &now
		}
	case ShipmentInTransit:
		if s.InTransitAt == nil {
			s.InTransitAt = &now
		}
	case ShipmentDelivered:
		if s.ActualDelivery == nil {
			s.ActualDelivery = &now
		}
	}
}

type TimelineEntry struct {
	Status      ShipmentStatus `json:"status"`
	Date        time.Time      `json:"date"`
	Description string         `json:"description"`
}

// Timeline derives the tracking history from persisted state only.
func Timeline(s Shipment) []TimelineEntry {
	tl := []TimelineEntry{{
		Status:      ShipmentProcessing,
		Date:        s.CreatedAtUtc,
		Description: "Order received and processing started",
	}}
	at := func(t *time.Time) time.Time {
		if t != nil {
			return *t
		}
		return s.UpdatedAtUtc
	}
	if s.Status.Reached(ShipmentShipped) || (s.Status == ShipmentFailed && s.ShippedAt != nil) {
		tl = append(tl, TimelineEntry{
			Status:      ShipmentShipped,
			Date:        at(s.ShippedAt),
			Description: "Package shipped with " + s.Carrier,
		})
	}
	if s.Status.Reached(ShipmentInTransit) || (s.Status == ShipmentFailed && s.InTransitAt != nil) {
		tl = append(tl, TimelineEntry{
			Status:      ShipmentInTransit,
			Date:        at(s.InTransitAt),
			Description: "Package is in transit",
		})
	}
	if s.Status == ShipmentDelivered && s.ActualDelivery != nil {
		tl = append(tl, TimelineEntry{
			Status:      ShipmentDelivered,
			Date:        *s.ActualDelivery,
			Description: "Package delivered successfully",
		})
	}
	if s.Status == ShipmentFailed {
		tl = append(tl, TimelineEntry{
			Status:      ShipmentFailed,
			Date:        at(s.FailedAt),
			Description: "Delivery failed",
		})
	}
	return tl
}

type Tracking struct {
	TrackingNumber    string          `json:"trackingNumber"`
	OrderID           string          `json:"orderId"`
	ShippingID        string          `json:"shippingId"`
	Status            ShipmentStatus  `json:"status"`
	EstimatedDelivery time.Time       `json:"estimatedDelivery"`
	ActualDelivery    *time.Time      `json:"actualDelivery,omitempty"`
	Carrier           string          `json:"carrier"`
	ShippingAddress   Address         `json:"shippingAddress"`
	Timeline          []TimelineEntry `json:"timeline"`
}

func (s Shipment) Tracking() Tracking {
	return Tracking{
		TrackingNumber:    s.TrackingNumber,
		OrderID:           s.OrderID,
		ShippingID:        s.ShippingID,
		Status:            s.Status,
		EstimatedDelivery: s.EstimatedDelivery,
		ActualDelivery:    s.ActualDelivery,
		Carrier:           s.Carrier,
		ShippingAddress:   s.ShippingAddress,
		Timeline:          Timeline(s),
	}
}

func NewShippingID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "SHIP-" + strings.ToUpper(id[:8])
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func NewTrackingNumber(now time.Time) string {
	suffix := make([]byte, 3)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base36))))
		if err != nil {
			n = big.NewInt(int64(now.UnixNano()+int64(i)) % int64(len(base36)))
		}
		suffix[i] = base36[n.Int64()]
	}
	return fmt.Sprintf("TRK%d%s", now.UnixMilli(), suffix)
}
