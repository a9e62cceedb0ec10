package application

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// MessageHandler processes one raw broker delivery. A PoisonMessage error
// means the body can never succeed and must not be retried.
type MessageHandler interface {
	Handle(ctx context.Context, body []byte) error
}

type OrderCreatedHandler struct {
	lifecycle *ShipmentLifecycle
	log       *slog.Logger
}

func NewOrderCreatedHandler(l *ShipmentLifecycle, log *slog.Logger) *OrderCreatedHandler {
	return &OrderCreatedHandler{lifecycle: l, log: log}
}

func (h *OrderCreatedHandler) Handle(ctx context.Context, body []byte) error {
	var ev domain.OrderCreatedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.NewPoisonMessageError("undecodable order event", err)
	}

	h.log.Info("received order event", "order_id", ev.Data.OrderID)

	s, created, err := h.lifecycle.OnOrderCreated(ctx, ev)
	if err != nil {
		return err
	}
	if !created {
		h.log.Info("shipment already exists, skipping (idempotent)",
			"order_id", ev.Data.OrderID, "shipping_id", s.ShippingID)
	}
	return nil
}
