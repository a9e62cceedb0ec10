package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// Dispatcher is the relay half of the transactional outbox: it re-publishes
// rows the request path could not announce. Rows that exhaust maxRetry stay
// in the table for out-of-band reconciliation.
type Dispatcher struct {
	repo      domain.OutboxRepository
	publisher domain.EventPublisher
	maxRetry  int
	batchSize int
	log       *slog.Logger
}

func NewDispatcher(
	repo domain.OutboxRepository,
	publisher domain.EventPublisher,
	maxRetry, batchSize int,
	log *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		publisher: publisher,
		maxRetry:  maxRetry,
		batchSize: batchSize,
		log:       log,
	}
}

func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	msgs, err := d.repo.GetPendingBatch(ctx, d.maxRetry, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	processed := 0
	for i := range msgs {
		msg := &msgs[i]

		if !json.Valid([]byte(msg.PayloadJSON)) {
			d.log.Error("outbox: payload is not valid JSON", "id", msg.ID, "type", msg.Type)
			msg.RetryCount = d.maxRetry
			msg.LastError = "invalid payload"
			d.save(ctx, msg)
			continue
		}

		if err := d.publisher.Publish(ctx, msg.RoutingKey, []byte(msg.PayloadJSON)); err != nil {
			msg.RetryCount++
			msg.LastError = err.Error()
			if msg.RetryCount >= d.maxRetry {
				d.log.Error("outbox: giving up, needs reconciliation",
					"kind", domain.KindMessagingDelivery, "id", msg.ID, "type", msg.Type,
					"routing_key", msg.RoutingKey, "retries", msg.RetryCount, "err", err)
			} else {
				d.log.Warn("outbox: failed to publish", "id", msg.ID, "type", msg.Type, "err", err)
			}
			if domain.KindOf(err) == domain.KindUpstreamUnavailable {
				// broker is down: leave the rest of the batch uncharged
				d.save(ctx, msg)
				break
			}
		} else {
			now := time.Now().UTC().Unix()
			msg.ProcessedAtUtc = &now
			msg.LastError = ""
			processed++
		}

		d.save(ctx, msg)
	}

	return processed, nil
}

func (d *Dispatcher) save(ctx context.Context, msg *domain.OutboxMessage) {
	if err := d.repo.Save(ctx, *msg); err != nil {
		d.log.Error("outbox: failed to save message", "id", msg.ID, "err", err)
	}
}

// Exhausted reports how many messages need out-of-band reconciliation.
func (d *Dispatcher) Exhausted(ctx context.Context) (int, error) {
	return d.repo.CountExhausted(ctx, d.maxRetry)
}
