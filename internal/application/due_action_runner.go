package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

// DueActionRunner fires persisted scheduled transitions whose due time has
// passed. It is driven by a poller so pending actions survive restarts.
type DueActionRunner struct {
	repo        domain.DueActionRepository
	lifecycle   *ShipmentLifecycle
	batchSize   int
	maxAttempts int
	log         *slog.Logger
}

func NewDueActionRunner(
	repo domain.DueActionRepository,
	lifecycle *ShipmentLifecycle,
	batchSize, maxAttempts int,
	log *slog.Logger,
) *DueActionRunner {
	return &DueActionRunner{
		repo:        repo,
		lifecycle:   lifecycle,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

func (r *DueActionRunner) RunOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due, err := r.repo.GetDue(ctx, now, r.batchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, action := range due {
		ok, err := r.lifecycle.ApplyDueAction(ctx, action)
		if err == nil {
			if ok {
				applied++
			}
			continue
		}

		attempts, ierr := r.repo.IncrementAttempts(ctx, action.ID)
		if ierr != nil {
			r.log.Error("failed to record due action attempt", "action_id", action.ID, "err", ierr)
			continue
		}
		if attempts >= r.maxAttempts {
			r.log.Error("giving up on scheduled transition",
				"action_id", action.ID, "shipping_id", action.ShippingID, "attempts", attempts, "err", err)
			if derr := r.repo.Discard(ctx, action.ID, now); derr != nil {
				r.log.Error("failed to discard due action", "action_id", action.ID, "err", derr)
			}
			continue
		}
		r.log.Warn("scheduled transition failed, will retry",
			"action_id", action.ID, "shipping_id", action.ShippingID, "attempts", attempts, "err", err)
	}
	return applied, nil
}
