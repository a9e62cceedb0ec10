package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

func TestShipmentStore_CreateIsFirstWriterWins(t *testing.T) {
	store := NewShipmentStore()
	ctx := context.Background()
	order := domain.Order{OrderID: "o1", Items: []domain.LineItem{{ProductID: "p"}}}

	first := domain.NewShipment(order, "Standard Shipping", time.Hour, time.Now())
	second := domain.NewShipment(order, "Standard Shipping", time.Hour, time.Now())

	require.NoError(t, store.Create(ctx, first, nil))
	assert.ErrorIs(t, store.Create(ctx, second, nil), domain.ErrAlreadyExists)

	got, err := store.GetByOrderID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, first.ShippingID, got.ShippingID)
}

func TestShipmentStore_UpdateStatusSettlesPendingActions(t *testing.T) {
	store := NewShipmentStore()
	ctx := context.Background()
	now := time.Now().UTC()
	sh := domain.NewShipment(domain.Order{OrderID: "o1"}, "Standard Shipping", time.Hour, now)
	pending := domain.NewDueAction(sh.ShippingID, domain.ShipmentProcessing, domain.ShipmentShipped, now.Add(time.Minute))
	require.NoError(t, store.Create(ctx, sh, &pending))

	_, err := sh.Advance(domain.ShipmentShipped, now)
	require.NoError(t, err)

	err = store.UpdateStatus(ctx, domain.StatusChange{Shipment: sh, Expected: domain.ShipmentInTransit})
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, store.UpdateStatus(ctx, domain.StatusChange{Shipment: sh, Expected: domain.ShipmentProcessing}))

	actions, err := store.ListByShipping(ctx, sh.ShippingID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.DueActionDiscarded, actions[0].State)

	due, err := store.GetDue(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestShipmentStore_NotificationCommitsWithStatus(t *testing.T) {
	store := NewShipmentStore()
	ctx := context.Background()
	now := time.Now().UTC()
	sh := domain.NewShipment(domain.Order{OrderID: "o1"}, "Standard Shipping", time.Hour, now)
	require.NoError(t, store.Create(ctx, sh, nil))
	_, err := sh.Advance(domain.ShipmentShipped, now)
	require.NoError(t, err)

	note := func() *domain.OutboxMessage {
		return &domain.OutboxMessage{ID: uuid.New(), RoutingKey: domain.ShipmentStatusChangedType, PayloadJSON: `{}`}
	}

	err = store.UpdateStatus(ctx, domain.StatusChange{Shipment: sh, Expected: domain.ShipmentDelivered, Notification: note()})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, store.Outbox())

	require.NoError(t, store.UpdateStatus(ctx, domain.StatusChange{Shipment: sh, Expected: domain.ShipmentProcessing, Notification: note()}))
	pending, err := store.GetPendingBatch(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	done := now.Unix()
	pending[0].ProcessedAtUtc = &done
	require.NoError(t, store.Save(ctx, pending[0]))
	pending, err = store.GetPendingBatch(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, store.Save(ctx, *note()), domain.ErrNotFound)
}
