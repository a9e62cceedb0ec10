package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// ShipmentStore holds shipments and their due actions under one lock so
// that a status change and its scheduling side effects are atomic.
type ShipmentStore struct {
	mu        sync.Mutex
	shipments map[string]domain.Shipment
	byOrder   map[string]string
	byTrack   map[string]string
	actions   map[uuid.UUID]domain.DueAction
	outbox    outboxTable

	// FailWrites makes Create and UpdateStatus fail, for exercising retries.
	FailWrites error
}

func NewShipmentStore() *ShipmentStore {
	return &ShipmentStore{
		shipments: make(map[string]domain.Shipment),
		byOrder:   make(map[string]string),
		byTrack:   make(map[string]string),
		actions:   make(map[uuid.UUID]domain.DueAction),
	}
}

func (s *ShipmentStore) Create(ctx context.Context, sh *domain.Shipment, next *domain.DueAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if _, ok := s.byOrder[sh.OrderID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := s.shipments[sh.ShippingID]; ok {
		return domain.ErrConflict
	}
	if _, ok := s.byTrack[sh.TrackingNumber]; ok {
		return domain.ErrConflict
	}
	s.shipments[sh.ShippingID] = *sh
	s.byOrder[sh.OrderID] = sh.ShippingID
	s.byTrack[sh.TrackingNumber] = sh.ShippingID
	if next != nil {
		s.actions[next.ID] = *next
	}
	return nil
}

func (s *ShipmentStore) get(shippingID string) (*domain.Shipment, error) {
	sh, ok := s.shipments[shippingID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sh, nil
}

func (s *ShipmentStore) GetByShippingID(ctx context.Context, shippingID string) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(shippingID)
}

func (s *ShipmentStore) GetByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(s.byOrder[orderID])
}

func (s *ShipmentStore) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(s.byTrack[trackingNumber])
}

func (s *ShipmentStore) List(ctx context.Context) ([]domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Shipment, 0, len(s.shipments))
	for _, sh := range s.shipments {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUtc.After(out[j].CreatedAtUtc) })
	return out, nil
}

func (s *ShipmentStore) UpdateStatus(ctx context.Context, change domain.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	cur, ok := s.shipments[change.Shipment.ShippingID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != change.Expected {
		return domain.ErrConflict
	}
	s.shipments[cur.ShippingID] = *change.Shipment

	now := change.Shipment.UpdatedAtUtc
	for id, a := range s.actions {
		if a.ShippingID != cur.ShippingID || a.State != domain.DueActionPending {
			continue
		}
		a.State = domain.DueActionDiscarded
		if change.AppliedAction != nil && *change.AppliedAction == id {
			a.State = domain.DueActionApplied
		}
		a.SettledAtUtc = &now
		s.actions[id] = a
	}
	if change.Next != nil {
		s.actions[change.Next.ID] = *change.Next
	}
	if change.Notification != nil {
		s.outbox.add(*change.Notification)
	}
	return nil
}

func (s *ShipmentStore) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.DueAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DueAction
	for _, a := range s.actions {
		if a.State == domain.DueActionPending && !a.DueAtUtc.After(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAtUtc.Before(out[j].DueAtUtc) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ShipmentStore) Discard(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.State != domain.DueActionPending {
		return nil
	}
	a.State = domain.DueActionDiscarded
	a.SettledAtUtc = &at
	s.actions[id] = a
	return nil
}

func (s *ShipmentStore) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	a.Attempts++
	s.actions[id] = a
	return a.Attempts, nil
}

func (s *ShipmentStore) ListByShipping(ctx context.Context, shippingID string) ([]domain.DueAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DueAction
	for _, a := range s.actions {
		if a.ShippingID == shippingID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUtc.Before(out[j].CreatedAtUtc) })
	return out, nil
}

func (s *ShipmentStore) GetPendingBatch(ctx context.Context, maxRetry, batchSize int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.pending(maxRetry, batchSize), nil
}

func (s *ShipmentStore) Save(ctx context.Context, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.save(msg)
}

func (s *ShipmentStore) CountExhausted(ctx context.Context, maxRetry int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.exhausted(maxRetry), nil
}

// Outbox returns a copy of the queued status notifications.
func (s *ShipmentStore) Outbox() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.snapshot()
}
