package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rodolfodevapp/eventshop-messaging-go/core/abstractions"
	"github.com/rodolfodevapp/eventshop-messaging-go/core/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type stubBus struct {
	mu     sync.Mutex
	block  chan struct{}
	err    error
	events []*primitives.IntegrationEventEnvelope
}

func (b *stubBus) Publish(_ context.Context, event primitives.Event) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if env, ok := event.(*primitives.IntegrationEventEnvelope); ok {
		b.events = append(b.events, env)
	}
	return b.err
}

func (b *stubBus) Subscribe(string, abstractions.EventHandler) abstractions.EventBus { return b }

func (b *stubBus) SendCommand(context.Context, primitives.Command) error { return nil }

func TestShipmentNotifier_WrapsBodyInEnvelope(t *testing.T) {
	bus := &stubBus{}
	n := NewShipmentNotifier(bus, time.Second)

	err := n.Publish(context.Background(), domain.ShipmentStatusChangedType, []byte(`{"status":"shipped"}`))

	require.NoError(t, err)
	require.Len(t, bus.events, 1)
	assert.Equal(t, domain.ShipmentStatusChangedType, bus.events[0].Type)
	assert.Equal(t, domain.ShipmentStatusChangedType, bus.events[0].GetRoutingKey())
	assert.JSONEq(t, `{"status":"shipped"}`, bus.events[0].PayloadJSON)
}

func TestShipmentNotifier_BusErrorIsUpstreamUnavailable(t *testing.T) {
	n := NewShipmentNotifier(&stubBus{err: errors.New("dial tcp: refused")}, time.Second)

	err := n.Publish(context.Background(), domain.ShipmentStatusChangedType, []byte(`{}`))

	assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))
}

func TestShipmentNotifier_StuckBusReturnsAtTimeoutAndRefusesOverlap(t *testing.T) {
	bus := &stubBus{block: make(chan struct{})}
	n := NewShipmentNotifier(bus, 50*time.Millisecond)

	start := time.Now()
	err := n.Publish(context.Background(), domain.ShipmentStatusChangedType, []byte(`{}`))
	assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)

	start = time.Now()
	err = n.Publish(context.Background(), domain.ShipmentStatusChangedType, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(bus.block)
	assert.Eventually(t, func() bool {
		return n.Publish(context.Background(), domain.ShipmentStatusChangedType, []byte(`{}`)) == nil
	}, time.Second, 10*time.Millisecond)
}
