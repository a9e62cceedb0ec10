package messaging

import (
	"context"
	"time"

	"github.com/rodolfodevapp/eventshop-messaging-go/core/abstractions"
	"github.com/rodolfodevapp/eventshop-messaging-go/core/primitives"
	messaging "github.com/rodolfodevapp/eventshop-messaging-go/rabbitmq"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// Bus for shipping.events integration notifications.
func NewNotificationBus(
	rabbitUri string,
	exchange string,
) *messaging.RabbitMqEventBus {
	opts := messaging.RabbitMqOptions{
		URI:          rabbitUri,
		ExchangeName: exchange,
		QueuePrefix:  "shipping.notifier.v1",
		Prefetch:     32,
		RetryDelayMs: 30000,
	}
	return messaging.NewRabbitMqEventBus(opts, nil, nil)
}

// ShipmentNotifier relays queued shipment notifications onto the bus in the
// standard integration envelope. The bus dials without honoring ctx, so a
// publish runs aside and the caller stops waiting at its deadline. While one
// publish is still in flight further calls fail fast.
type ShipmentNotifier struct {
	bus      abstractions.EventBus
	timeout  time.Duration
	inflight chan struct{}
}

func NewShipmentNotifier(bus abstractions.EventBus, timeout time.Duration) *ShipmentNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ShipmentNotifier{bus: bus, timeout: timeout, inflight: make(chan struct{}, 1)}
}

func (n *ShipmentNotifier) Publish(ctx context.Context, routingKey string, body []byte) error {
	select {
	case n.inflight <- struct{}{}:
	default:
		return domain.NewUpstreamUnavailableError("notification bus busy", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	envelope := primitives.NewIntegrationEventEnvelope(routingKey, string(body))
	envelope.SetRoutingKey(routingKey)

	done := make(chan error, 1)
	go func() {
		defer func() { <-n.inflight }()
		done <- n.bus.Publish(ctx, &envelope)
	}()

	select {
	case err := <-done:
		if err != nil {
			return domain.NewUpstreamUnavailableError("notification publish failed", err)
		}
		return nil
	case <-ctx.Done():
		return domain.NewUpstreamUnavailableError("notification publish timed out", ctx.Err())
	}
}
