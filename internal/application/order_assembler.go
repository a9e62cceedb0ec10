package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type OrderAssemblerConfig struct {
	StockTimeout   time.Duration
	PublishTimeout time.Duration
	// Upper bound for one call to the order store. Zero means no bound.
	StoreTimeout time.Duration
	ReleaseTries uint
}

// OrderAssembler runs the reservation saga: pre-check, reserve every line
// in ascending productId order, compensate on the first failure, persist
// the order together with its outbox row, then try to announce it.
type OrderAssembler struct {
	checker   *AvailabilityChecker
	ledger    domain.StockLedger
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	publisher domain.EventPublisher
	cfg       OrderAssemblerConfig
	log       *slog.Logger
}

func NewOrderAssembler(
	checker *AvailabilityChecker,
	ledger domain.StockLedger,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	publisher domain.EventPublisher,
	cfg OrderAssemblerConfig,
	log *slog.Logger,
) *OrderAssembler {
	if cfg.ReleaseTries == 0 {
		cfg.ReleaseTries = 3
	}
	return &OrderAssembler{
		checker:   checker,
		ledger:    ledger,
		orders:    orders,
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

type reservedLine struct {
	productID string
	quantity  int
	snapshot  domain.StockItem
}

func (a *OrderAssembler) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	availability, err := a.checker.Check(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	if !availability.Available {
		return nil, domain.NewInsufficientAvailabilityError(availability.Unavailable())
	}

	reserved, err := a.reserveAll(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string]domain.StockItem, len(reserved))
	for _, r := range reserved {
		byProduct[r.productID] = r.snapshot
	}
	snapshots := make([]domain.StockItem, 0, len(req.Items))
	for _, it := range req.Items {
		snapshots = append(snapshots, byProduct[it.ProductID])
	}
	order := domain.NewConfirmedOrder(req, snapshots)

	msg, err := NewOutboxMessage(
		domain.OrderCreatedType,
		domain.OrderCreatedRoutingKey,
		domain.NewOrderCreatedEvent(*order),
	)
	if err != nil {
		a.compensate(ctx, reserved)
		return nil, err
	}

	if err := a.insert(ctx, order, msg); err != nil {
		if !a.stored(ctx, order.OrderID) {
			a.compensate(ctx, reserved)
			return nil, asUpstream("order store unavailable", err)
		}
		a.log.Warn("order insert reported an error but the order was committed",
			"order_id", order.OrderID, "err", err)
	}

	a.announce(ctx, order, msg)
	return order, nil
}

func (a *OrderAssembler) insert(ctx context.Context, order *domain.Order, msg domain.OutboxMessage) error {
	ctx, cancel := withTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	return a.orders.InsertWithOutbox(ctx, order, msg)
}

// stored reports whether a failed insert actually committed, e.g. when the
// connection dropped while the commit was in flight. Releasing stock for an
// order that exists would let it be sold twice.
func (a *OrderAssembler) stored(ctx context.Context, orderID string) bool {
	lctx, cancel := withTimeout(context.WithoutCancel(ctx), a.cfg.StoreTimeout)
	defer cancel()
	_, err := a.orders.GetByID(lctx, orderID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.log.Warn("could not confirm order after failed insert, compensating",
			"order_id", orderID, "err", err)
	}
	return err == nil
}

// reserveAll never leaves a partial reservation behind: either every line
// is reserved or everything reserved so far has been released.
func (a *OrderAssembler) reserveAll(
	ctx context.Context,
	items []domain.ReservationRequest,
) ([]reservedLine, error) {
	ordered := make([]domain.ReservationRequest, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	reserved := make([]reservedLine, 0, len(ordered))
	for _, it := range ordered {
		rctx, cancel := withTimeout(ctx, a.cfg.StockTimeout)
		snap, err := a.ledger.Reserve(rctx, it.ProductID, it.Quantity)
		cancel()
		if err == nil {
			reserved = append(reserved, reservedLine{productID: it.ProductID, quantity: it.Quantity, snapshot: *snap})
			continue
		}

		a.compensate(ctx, reserved)

		want := it.Quantity
		switch {
		case errors.Is(err, domain.ErrInsufficientQuantity):
			return nil, domain.NewInsufficientAvailabilityError([]domain.ItemAvailability{{
				ProductID:         it.ProductID,
				Available:         false,
				Reason:            domain.ReasonReservedConcurrently,
				RequestedQuantity: &want,
			}})
		case errors.Is(err, domain.ErrNotFound):
			return nil, domain.NewInsufficientAvailabilityError([]domain.ItemAvailability{{
				ProductID: it.ProductID,
				Available: false,
				Reason:    domain.ReasonProductNotFound,
			}})
		default:
			return nil, domain.NewUpstreamUnavailableError("stock ledger unavailable reserving "+it.ProductID, err)
		}
	}
	return reserved, nil
}

// compensate releases on a context detached from the caller so an aborted
// request still returns its stock.
func (a *OrderAssembler) compensate(ctx context.Context, reserved []reservedLine) {
	if len(reserved) == 0 {
		return
	}
	cctx := context.WithoutCancel(ctx)

	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		_, err := backoff.Retry(cctx, func() (*domain.StockItem, error) {
			rctx, cancel := withTimeout(cctx, a.cfg.StockTimeout)
			defer cancel()
			item, err := a.ledger.Release(rctx, r.productID, r.quantity)
			if errors.Is(err, domain.ErrNotFound) {
				return nil, backoff.Permanent(err)
			}
			return item, err
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(a.cfg.ReleaseTries),
		)
		if err != nil {
			a.log.Error("compensation release failed",
				"product_id", r.productID, "quantity", r.quantity, "err", err)
			continue
		}
		a.log.Info("compensated reservation", "product_id", r.productID, "quantity", r.quantity)
	}
}

// announce is best effort: the order is already committed and its outbox
// row stays pending for the relay if the broker is unreachable.
func (a *OrderAssembler) announce(ctx context.Context, order *domain.Order, msg domain.OutboxMessage) {
	pctx, cancel := withTimeout(context.WithoutCancel(ctx), a.cfg.PublishTimeout)
	defer cancel()

	if err := a.publisher.Publish(pctx, msg.RoutingKey, []byte(msg.PayloadJSON)); err != nil {
		a.log.Warn("order event not published, left for outbox relay",
			"kind", domain.KindMessagingDelivery, "order_id", order.OrderID, "err", err)
		return
	}

	now := time.Now().UTC().Unix()
	msg.ProcessedAtUtc = &now
	if err := a.outbox.Save(pctx, msg); err != nil {
		// the relay will publish it again; the consumer is idempotent
		a.log.Warn("failed to mark outbox message processed", "order_id", order.OrderID, "err", err)
	}
}

func (a *OrderAssembler) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, cancel := withTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	o, err := a.orders.GetByID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewNotFoundError("Order not found")
	}
	if err != nil {
		return nil, asUpstream("order store unavailable", err)
	}
	return o, nil
}

func (a *OrderAssembler) ListOrders(ctx context.Context) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	orders, err := a.orders.List(ctx)
	if err != nil {
		return nil, asUpstream("order store unavailable", err)
	}
	return orders, nil
}

func (a *OrderAssembler) Invoice(ctx context.Context, orderID string) (domain.Invoice, error) {
	o, err := a.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return o.Invoice(time.Now()), nil
}
