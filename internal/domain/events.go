package domain

import (
	"time"

	"github.com/rodolfodevapp/eventshop-messaging-go/core/primitives"
)

const (
	OrderCreatedRoutingKey = "order.created"
	OrderCreatedType       = "ORDER_CREATED"

	ShipmentStatusChangedType = "ShipmentStatusChanged"
)

// OrderCreatedEvent is the persistent body published on order.created.
type OrderCreatedEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Order     `json:"data"`
}

func NewOrderCreatedEvent(order Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		Type:      OrderCreatedType,
		Timestamp: time.Now().UTC(),
		Data:      order,
	}
}

// ShipmentStatusChangedEvent is announced on shipping.events after every
// applied transition.
type ShipmentStatusChangedEvent struct {
	primitives.BaseEvent
	ShippingID     string         `json:"shippingId"`
	OrderID        string         `json:"orderId"`
	TrackingNumber string         `json:"trackingNumber"`
	FromStatus     ShipmentStatus `json:"fromStatus"`
	ToStatus       ShipmentStatus `json:"toStatus"`
	Scheduled      bool           `json:"scheduled"`
	OccurredAtUtc  time.Time      `json:"occurredAtUtc"`
}

func NewShipmentStatusChangedEvent(s Shipment, from ShipmentStatus, scheduled bool) *ShipmentStatusChangedEvent {
	ev := &ShipmentStatusChangedEvent{
		BaseEvent:      primitives.NewBaseEvent(),
		ShippingID:     s.ShippingID,
		OrderID:        s.OrderID,
		TrackingNumber: s.TrackingNumber,
		FromStatus:     from,
		ToStatus:       s.Status,
		Scheduled:      scheduled,
		OccurredAtUtc:  time.Now().UTC(),
	}
	ev.SetRoutingKey(ShipmentStatusChangedType)
	return ev
}
