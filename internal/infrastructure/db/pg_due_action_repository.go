package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type PgDueActionRepository struct {
	db *sql.DB
}

func NewPgDueActionRepository(db *sql.DB) *PgDueActionRepository {
	return &PgDueActionRepository{db: db}
}

func insertDueAction(ctx context.Context, tx *sql.Tx, a domain.DueAction) error {
	_, err := tx.ExecContext(ctx, `
        insert into shipment_due_actions
        (id, shipping_id, from_status, target_status, due_at_utc, state, attempts, created_at_utc)
        values ($1,$2,$3,$4,$5,$6,$7,$8)
    `,
		a.ID, a.ShippingID, string(a.FromStatus), string(a.TargetStatus),
		a.DueAtUtc, string(a.State), a.Attempts, a.CreatedAtUtc,
	)
	return err
}

const dueActionColumns = `id, shipping_id, from_status, target_status, due_at_utc, state, attempts, created_at_utc, settled_at_utc`

func scanDueActions(rows *sql.Rows) ([]domain.DueAction, error) {
	defer rows.Close()

	var result []domain.DueAction
	for rows.Next() {
		var a domain.DueAction
		var from, target, state string
		var settled sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.ShippingID, &from, &target, &a.DueAtUtc, &state, &a.Attempts, &a.CreatedAtUtc, &settled,
		); err != nil {
			return nil, err
		}
		a.FromStatus = domain.ShipmentStatus(from)
		a.TargetStatus = domain.ShipmentStatus(target)
		a.State = domain.DueActionState(state)
		a.DueAtUtc = a.DueAtUtc.UTC()
		a.CreatedAtUtc = a.CreatedAtUtc.UTC()
		a.SettledAtUtc = timePtr(settled)
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *PgDueActionRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.DueAction, error) {
	rows, err := r.db.QueryContext(ctx, `
        select `+dueActionColumns+`
        from shipment_due_actions
        where state = 'PENDING' and due_at_utc <= $1
        order by due_at_utc asc
        limit $2
    `, now, limit)
	if err != nil {
		return nil, err
	}
	return scanDueActions(rows)
}

func (r *PgDueActionRepository) ListByShipping(ctx context.Context, shippingID string) ([]domain.DueAction, error) {
	rows, err := r.db.QueryContext(ctx, `
        select `+dueActionColumns+`
        from shipment_due_actions
        where shipping_id = $1
        order by created_at_utc asc
    `, shippingID)
	if err != nil {
		return nil, err
	}
	return scanDueActions(rows)
}

func (r *PgDueActionRepository) Discard(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
        update shipment_due_actions
        set state = 'DISCARDED', settled_at_utc = $2
        where id = $1 and state = 'PENDING'
    `, id, at)
	return err
}

func (r *PgDueActionRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
        update shipment_due_actions
        set attempts = attempts + 1
        where id = $1
        returning attempts
    `, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	return attempts, err
}
