package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

const maxWriteAttempts = 3

type LifecycleConfig struct {
	Carrier     string
	MinLeadDays int
	MaxLeadDays int
	// Upper bound for one operation against the shipping store.
	StoreTimeout time.Duration
	// Delay before the automatic move out of a status. Zero means the
	// status only changes on a manual update.
	AutoAdvance map[domain.ShipmentStatus]time.Duration
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		Carrier:      "Standard Shipping",
		MinLeadDays:  5,
		MaxLeadDays:  7,
		StoreTimeout: 3 * time.Second,
		AutoAdvance: map[domain.ShipmentStatus]time.Duration{
			domain.ShipmentProcessing: time.Minute,
			domain.ShipmentShipped:    time.Hour,
		},
	}
}

type ShipmentLifecycle struct {
	shipments  domain.ShipmentRepository
	dueActions domain.DueActionRepository
	cfg        LifecycleConfig
	log        *slog.Logger
	now        func() time.Time
}

func NewShipmentLifecycle(
	shipments domain.ShipmentRepository,
	dueActions domain.DueActionRepository,
	cfg LifecycleConfig,
	log *slog.Logger,
) *ShipmentLifecycle {
	return &ShipmentLifecycle{
		shipments:  shipments,
		dueActions: dueActions,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// OnOrderCreated creates the shipment for an order exactly once no matter
// how often the event is delivered. created reports whether this call won.
func (l *ShipmentLifecycle) OnOrderCreated(
	ctx context.Context,
	ev domain.OrderCreatedEvent,
) (shipment *domain.Shipment, created bool, err error) {
	if ev.Type != domain.OrderCreatedType {
		return nil, false, domain.NewPoisonMessageError(fmt.Sprintf("unexpected event type %q", ev.Type), nil)
	}
	if ev.Data.OrderID == "" || len(ev.Data.Items) == 0 {
		return nil, false, domain.NewPoisonMessageError("order snapshot without orderId or items", nil)
	}
	ctx, cancel := withTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	existing, err := l.shipments.GetByOrderID(ctx, ev.Data.OrderID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	for attempt := 1; ; attempt++ {
		now := l.now()
		s := domain.NewShipment(ev.Data, l.cfg.Carrier, l.leadTime(), now)
		err = l.shipments.Create(ctx, s, l.nextAction(s, now))
		switch {
		case err == nil:
			l.log.Info("shipment created",
				"order_id", s.OrderID, "shipping_id", s.ShippingID, "tracking_number", s.TrackingNumber)
			return s, true, nil
		case errors.Is(err, domain.ErrAlreadyExists):
			existing, gerr := l.shipments.GetByOrderID(ctx, ev.Data.OrderID)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		case errors.Is(err, domain.ErrConflict) && attempt < maxWriteAttempts:
			// shippingId or trackingNumber collided; draw new ones
			continue
		default:
			return nil, false, err
		}
	}
}

// Advance applies a manual status update. Manual updates supersede any
// pending scheduled transition of the shipment.
func (l *ShipmentLifecycle) Advance(
	ctx context.Context,
	shippingID string,
	target domain.ShipmentStatus,
) (*domain.Shipment, error) {
	ctx, cancel := withTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		s, err := l.GetShipment(ctx, shippingID)
		if err != nil {
			return nil, err
		}
		from := s.Status
		now := l.now()
		changed, err := s.Advance(target, now)
		if err != nil || !changed {
			return s, err
		}

		err = l.shipments.UpdateStatus(ctx, domain.StatusChange{
			Shipment:     s,
			Expected:     from,
			Next:         l.nextAction(s, now),
			Notification: l.notification(s, from, false),
		})
		if errors.Is(err, domain.ErrConflict) && attempt < maxWriteAttempts {
			continue
		}
		if err != nil {
			return nil, asUpstream("shipment store unavailable", err)
		}
		l.log.Info("shipment status updated",
			"shipping_id", s.ShippingID, "from", from, "to", s.Status)
		return s, nil
	}
}

// ApplyDueAction fires a scheduled transition. Actions whose shipment has
// already left FromStatus are stale and get discarded, which makes firing
// the same action twice harmless.
func (l *ShipmentLifecycle) ApplyDueAction(ctx context.Context, action domain.DueAction) (applied bool, err error) {
	ctx, cancel := withTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	now := l.now()
	s, err := l.shipments.GetByShippingID(ctx, action.ShippingID)
	if err != nil {
		return false, err
	}
	if s.Status != action.FromStatus {
		return false, l.discard(ctx, action, now, s.Status)
	}

	changed, err := s.Advance(action.TargetStatus, now)
	if err != nil || !changed {
		return false, l.discard(ctx, action, now, s.Status)
	}

	id := action.ID
	err = l.shipments.UpdateStatus(ctx, domain.StatusChange{
		Shipment:      s,
		Expected:      action.FromStatus,
		Next:          l.nextAction(s, now),
		AppliedAction: &id,
		Notification:  l.notification(s, action.FromStatus, true),
	})
	if errors.Is(err, domain.ErrConflict) {
		// a manual update won the race
		return false, l.discard(ctx, action, now, "")
	}
	if err != nil {
		return false, err
	}
	l.log.Info("scheduled shipment transition applied",
		"shipping_id", s.ShippingID, "from", action.FromStatus, "to", s.Status)
	return true, nil
}

func (l *ShipmentLifecycle) discard(ctx context.Context, action domain.DueAction, now time.Time, current domain.ShipmentStatus) error {
	l.log.Info("discarding stale scheduled transition",
		"shipping_id", action.ShippingID, "from", action.FromStatus,
		"to", action.TargetStatus, "current", current)
	return l.dueActions.Discard(ctx, action.ID, now)
}

func (l *ShipmentLifecycle) nextAction(s *domain.Shipment, now time.Time) *domain.DueAction {
	delay := l.cfg.AutoAdvance[s.Status]
	next, ok := s.Status.Next()
	if delay <= 0 || !ok {
		return nil
	}
	a := domain.NewDueAction(s.ShippingID, s.Status, next, now.Add(delay))
	return &a
}

func (l *ShipmentLifecycle) leadTime() time.Duration {
	days := l.cfg.MinLeadDays
	if spread := l.cfg.MaxLeadDays - l.cfg.MinLeadDays; spread > 0 {
		days += rand.IntN(spread + 1)
	}
	return time.Duration(days) * 24 * time.Hour
}

// notification is queued in the same write as the transition it reports;
// the outbox relay publishes it on shipping.events.
func (l *ShipmentLifecycle) notification(s *domain.Shipment, from domain.ShipmentStatus, scheduled bool) *domain.OutboxMessage {
	ev := domain.NewShipmentStatusChangedEvent(*s, from, scheduled)
	msg, err := NewOutboxMessage(domain.ShipmentStatusChangedType, domain.ShipmentStatusChangedType, ev)
	if err != nil {
		l.log.Warn("shipment status notification not queued", "shipping_id", s.ShippingID, "err", err)
		return nil
	}
	return &msg
}

func (l *ShipmentLifecycle) GetShipment(ctx context.Context, shippingID string) (*domain.Shipment, error) {
	ctx, cancel := withTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()
	return l.lookup(l.shipments.GetByShippingID(ctx, shippingID))
}

func (l *ShipmentLifecycle) GetByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error) {
	ctx, cancel := withTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()
	return l.lookup(l.shipments.GetByOrderID(ctx, orderID))
}

func (l *ShipmentLifecycle) Track(ctx context.Context, trackingNumber string) (domain.Tracking, error) {
	ctx, cancel := withTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()
	s, err := l.lookup(l.shipments.GetByTrackingNumber(ctx, trackingNumber))
	if err != nil {
		return domain.Tracking{}, err
	}
	return s.Tracking(), nil
}

func (l *ShipmentLifecycle) ListShipments(ctx context.Context) ([]domain.Shipment, error) {
	ctx, cancel := withTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()
	list, err := l.shipments.List(ctx)
	if err != nil {
		return nil, asUpstream("shipment store unavailable", err)
	}
	return list, nil
}

func (l *ShipmentLifecycle) lookup(s *domain.Shipment, err error) (*domain.Shipment, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewNotFoundError("Shipping record not found")
	}
	if err != nil {
		return nil, asUpstream("shipment store unavailable", err)
	}
	return s, nil
}
