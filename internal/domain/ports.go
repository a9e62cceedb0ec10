package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StockLedger owns per-item quantity. Reserve is a compare-and-decrement:
// it fails with ErrInsufficientQuantity without touching the row when
// quantity < qty. Both Reserve and Release return the post-update snapshot.
type StockLedger interface {
	Get(ctx context.Context, productID string) (*StockItem, error)
	GetMany(ctx context.Context, productIDs []string) (map[string]*StockItem, error)
	List(ctx context.Context) ([]StockItem, error)
	Create(ctx context.Context, item *StockItem) error
	Reserve(ctx context.Context, productID string, qty int) (*StockItem, error)
	Release(ctx context.Context, productID string, qty int) (*StockItem, error)
}

// OrderRepository persists orders together with their outbox rows so the
// announcement can never be lost once the order commits.
type OrderRepository interface {
	InsertWithOutbox(ctx context.Context, order *Order, msg OutboxMessage) error
	GetByID(ctx context.Context, orderID string) (*Order, error)
	List(ctx context.Context) ([]Order, error)
}

type OutboxRepository interface {
	GetPendingBatch(ctx context.Context, maxRetry, batchSize int) ([]OutboxMessage, error)
	Save(ctx context.Context, msg OutboxMessage) error
	CountExhausted(ctx context.Context, maxRetry int) (int, error)
}

type OutboxMessage struct {
	ID             uuid.UUID
	Type           string
	RoutingKey     string
	PayloadJSON    string
	OccurredAtUtc  int64
	RetryCount     int
	ProcessedAtUtc *int64
	LastError      string
}

// ShipmentRepository: Create is first-writer-wins on OrderID and returns
// ErrAlreadyExists for losers. The due action is persisted atomically with
// the shipment.
type ShipmentRepository interface {
	Create(ctx context.Context, s *Shipment, next *DueAction) error
	GetByShippingID(ctx context.Context, shippingID string) (*Shipment, error)
	GetByOrderID(ctx context.Context, orderID string) (*Shipment, error)
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Shipment, error)
	List(ctx context.Context) ([]Shipment, error)
	// UpdateStatus persists a transition only if the stored status still
	// equals change.Expected; otherwise it returns ErrConflict. In the same
	// unit of work every pending due action of the shipment is discarded
	// (AppliedAction, when set, is marked applied instead), Next, when set,
	// is scheduled and Notification, when set, is queued in the outbox.
	UpdateStatus(ctx context.Context, change StatusChange) error
}

type StatusChange struct {
	Shipment      *Shipment
	Expected      ShipmentStatus
	Next          *DueAction
	AppliedAction *uuid.UUID
	Notification  *OutboxMessage
}

type DueActionRepository interface {
	GetDue(ctx context.Context, now time.Time, limit int) ([]DueAction, error)
	// Discard settles a still-pending action as discarded.
	Discard(ctx context.Context, id uuid.UUID, at time.Time) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	ListByShipping(ctx context.Context, shippingID string) ([]DueAction, error)
}

// EventPublisher must return only after the broker accepted the message,
// and never later than ctx allows.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}
