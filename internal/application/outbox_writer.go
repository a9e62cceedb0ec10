package application

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// NewOutboxMessage serializes an event into a pending outbox row.
func NewOutboxMessage(eventType, routingKey string, ev any) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return domain.OutboxMessage{}, err
	}

	return domain.OutboxMessage{
		ID:             uuid.New(),
		Type:           eventType,
		RoutingKey:     routingKey,
		PayloadJSON:    string(payload),
		OccurredAtUtc:  time.Now().UTC().Unix(),
		RetryCount:     0,
		ProcessedAtUtc: nil,
	}, nil
}
