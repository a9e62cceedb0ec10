package domain

import (
	"time"

	"github.com/google/uuid"
)

type DueActionState string

const (
	DueActionPending   DueActionState = "PENDING"
	DueActionApplied   DueActionState = "APPLIED"
	DueActionDiscarded DueActionState = "DISCARDED"
)

// DueAction is a persisted, restart-safe scheduled status transition.
// FromStatus pins the state the action was scheduled for; if the shipment
// has moved on by the time the action fires, it is discarded.
type DueAction struct {
	ID           uuid.UUID
	ShippingID   string
	FromStatus   ShipmentStatus
	TargetStatus ShipmentStatus
	DueAtUtc     time.Time
	State        DueActionState
	Attempts     int
	CreatedAtUtc time.Time
	SettledAtUtc *time.Time
}

func NewDueAction(shippingID string, from, target ShipmentStatus, dueAt time.Time) DueAction {
	return DueAction{
		ID:           uuid.New(),
		ShippingID:   shippingID,
		FromStatus:   from,
		TargetStatus: target,
		DueAtUtc:     dueAt.UTC(),
		State:        DueActionPending,
		CreatedAtUtc: time.Now().UTC(),
	}
}
