package memory

import "github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"

// outboxTable is the in-memory outbox_messages table. The owning store
// holds its lock around every call.
type outboxTable struct {
	rows []domain.OutboxMessage
}

func (t *outboxTable) add(msg domain.OutboxMessage) {
	t.rows = append(t.rows, msg)
}

func (t *outboxTable) pending(maxRetry, batchSize int) []domain.OutboxMessage {
	var out []domain.OutboxMessage
	for _, m := range t.rows {
		if m.ProcessedAtUtc == nil && m.RetryCount < maxRetry {
			out = append(out, m)
			if len(out) == batchSize {
				break
			}
		}
	}
	return out
}

func (t *outboxTable) save(msg domain.OutboxMessage) error {
	for i := range t.rows {
		if t.rows[i].ID == msg.ID {
			if msg.ProcessedAtUtc == nil {
				msg.ProcessedAtUtc = t.rows[i].ProcessedAtUtc
			}
			t.rows[i] = msg
			return nil
		}
	}
	return domain.ErrNotFound
}

func (t *outboxTable) exhausted(maxRetry int) int {
	n := 0
	for _, m := range t.rows {
		if m.ProcessedAtUtc == nil && m.RetryCount >= maxRetry {
			n++
		}
	}
	return n
}

func (t *outboxTable) snapshot() []domain.OutboxMessage {
	out := make([]domain.OutboxMessage, len(t.rows))
	copy(out, t.rows)
	return out
}
