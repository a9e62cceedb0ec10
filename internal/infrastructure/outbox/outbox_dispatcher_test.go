package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/infrastructure/memory"
)

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	published []string
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, routingKey)
	return nil
}

func seedOutbox(t *testing.T, store *memory.OrderStore, payload string) {
	t.Helper()
	order := &domain.Order{OrderID: uuid.NewString()}
	msg := domain.OutboxMessage{
		ID:          uuid.New(),
		Type:        domain.OrderCreatedType,
		RoutingKey:  domain.OrderCreatedRoutingKey,
		PayloadJSON: payload,
	}
	require.NoError(t, store.InsertWithOutbox(context.Background(), order, msg))
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDispatcher_PublishesPending(t *testing.T) {
	store := memory.NewOrderStore()
	seedOutbox(t, store, `{"type":"ORDER_CREATED"}`)
	seedOutbox(t, store, `{"type":"ORDER_CREATED"}`)
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, 3, 10, discard())

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"order.created", "order.created"}, pub.published)

	n, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "processed rows are not re-sent")
}

func TestDispatcher_RetriesThenGivesUp(t *testing.T) {
	store := memory.NewOrderStore()
	seedOutbox(t, store, `{"type":"ORDER_CREATED"}`)
	pub := &fakePublisher{err: errors.New("broker down")}
	d := NewDispatcher(store, pub, 2, 10, discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n, err := d.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	rows := store.Outbox()
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].RetryCount)
	assert.Nil(t, rows[0].ProcessedAtUtc)
	assert.Equal(t, "broker down", rows[0].LastError)

	exhausted, err := d.Exhausted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, exhausted)

	// broker recovered: exhausted rows are left for reconciliation
	pub.err = nil
	n, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatcher_InvalidPayloadIsParked(t *testing.T) {
	store := memory.NewOrderStore()
	seedOutbox(t, store, `{not json`)
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, 3, 10, discard())

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.published)
	assert.Equal(t, 3, store.Outbox()[0].RetryCount)
}

func TestDispatcher_BrokerOutageStopsTheSweep(t *testing.T) {
	store := memory.NewOrderStore()
	for i := 0; i < 3; i++ {
		seedOutbox(t, store, `{"type":"ORDER_CREATED"}`)
	}
	pub := &fakePublisher{err: domain.NewUpstreamUnavailableError("broker unavailable", errors.New("refused"))}
	d := NewDispatcher(store, pub, 5, 10, discard())

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	charged := 0
	for _, row := range store.Outbox() {
		charged += row.RetryCount
	}
	assert.Equal(t, 1, charged)

	pub.err = nil
	n, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDispatcher_RelaysShipmentNotifications(t *testing.T) {
	store := memory.NewShipmentStore()
	ctx := context.Background()
	now := time.Now().UTC()
	sh := domain.NewShipment(domain.Order{OrderID: "o1"}, "Standard Shipping", time.Hour, now)
	require.NoError(t, store.Create(ctx, sh, nil))

	_, err := sh.Advance(domain.ShipmentShipped, now)
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, domain.StatusChange{
		Shipment: sh,
		Expected: domain.ShipmentProcessing,
		Notification: &domain.OutboxMessage{
			ID:          uuid.New(),
			Type:        domain.ShipmentStatusChangedType,
			RoutingKey:  domain.ShipmentStatusChangedType,
			PayloadJSON: `{"status":"shipped"}`,
		},
	}))

	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, 3, 10, discard())
	n, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{domain.ShipmentStatusChangedType}, pub.published)
	require.NotNil(t, store.Outbox()[0].ProcessedAtUtc)
}
