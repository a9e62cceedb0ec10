package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// OrderStore holds orders and their outbox rows, mirroring the orders
// database where both tables live.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	outbox outboxTable

	// FailInsert makes InsertWithOutbox fail, for exercising compensation.
	FailInsert error
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]domain.Order)}
}

func (s *OrderStore) InsertWithOutbox(ctx context.Context, order *domain.Order, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return s.FailInsert
	}
	if _, ok := s.orders[order.OrderID]; ok {
		return domain.ErrAlreadyExists
	}
	s.orders[order.OrderID] = *order
	s.outbox.add(msg)
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (s *OrderStore) List(ctx context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUtc.After(out[j].CreatedAtUtc) })
	return out, nil
}

func (s *OrderStore) GetPendingBatch(ctx context.Context, maxRetry, batchSize int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.pending(maxRetry, batchSize), nil
}

func (s *OrderStore) Save(ctx context.Context, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.save(msg)
}

func (s *OrderStore) CountExhausted(ctx context.Context, maxRetry int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.exhausted(maxRetry), nil
}

// Outbox returns a copy of every outbox row.
func (s *OrderStore) Outbox() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.snapshot()
}
