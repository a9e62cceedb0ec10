package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type PgShipmentRepository struct {
	db *sql.DB
}

func NewPgShipmentRepository(db *sql.DB) *PgShipmentRepository {
	return &PgShipmentRepository{db: db}
}

const shipmentColumns = `shipping_id, order_id, customer_id, customer_name, customer_email,
        ship_street, ship_city, ship_state, ship_zip_code, ship_country,
        items_json, total_amount, status, tracking_number, carrier, estimated_delivery,
        shipped_at, in_transit_at, actual_delivery, failed_at, created_at_utc, updated_at_utc`

func scanShipment(row rowScanner) (*domain.Shipment, error) {
	var s domain.Shipment
	var status string
	var itemsJSON []byte
	var shipped, inTransit, delivered, failed sql.NullTime
	a := &s.ShippingAddress
	if err := row.Scan(
		&s.ShippingID, &s.OrderID, &s.CustomerID, &s.CustomerName, &s.CustomerEmail,
		&a.Street, &a.City, &a.State, &a.ZipCode, &a.Country,
		&itemsJSON, &s.TotalAmount, &status, &s.TrackingNumber, &s.Carrier, &s.EstimatedDelivery,
		&shipped, &inTransit, &delivered, &failed, &s.CreatedAtUtc, &s.UpdatedAtUtc,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &s.Items); err != nil {
		return nil, err
	}
	s.Status = domain.ShipmentStatus(status)
	s.ShippedAt = timePtr(shipped)
	s.InTransitAt = timePtr(inTransit)
	s.ActualDelivery = timePtr(delivered)
	s.FailedAt = timePtr(failed)
	s.EstimatedDelivery = s.EstimatedDelivery.UTC()
	s.CreatedAtUtc = s.CreatedAtUtc.UTC()
	s.UpdatedAtUtc = s.UpdatedAtUtc.UTC()
	return &s, nil
}

// Create relies on the order_id unique constraint: concurrent deliveries of
// the same event race on the insert and only the first one lands.
func (r *PgShipmentRepository) Create(ctx context.Context, s *domain.Shipment, next *domain.DueAction) error {
	itemsJSON, err := json.Marshal(s.Items)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a := s.ShippingAddress
	_, err = tx.ExecContext(ctx, `
        insert into shipments (`+shipmentColumns+`)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
    `,
		s.ShippingID, s.OrderID, s.CustomerID, s.CustomerName, s.CustomerEmail,
		a.Street, a.City, a.State, a.ZipCode, a.Country,
		string(itemsJSON), s.TotalAmount, string(s.Status), s.TrackingNumber, s.Carrier, s.EstimatedDelivery,
		nullTime(s.ShippedAt), nullTime(s.InTransitAt), nullTime(s.ActualDelivery), nullTime(s.FailedAt),
		s.CreatedAtUtc, s.UpdatedAtUtc,
	)
	switch uniqueViolation(err) {
	case "":
	case "uq_shipments_order_id":
		return domain.ErrAlreadyExists
	default:
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}

	if next != nil {
		if err := insertDueAction(ctx, tx, *next); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PgShipmentRepository) getBy(ctx context.Context, column, value string) (*domain.Shipment, error) {
	row := r.db.QueryRowContext(ctx, `select `+shipmentColumns+` from shipments where `+column+` = $1`, value)
	s, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return s, err
}

func (r *PgShipmentRepository) GetByShippingID(ctx context.Context, shippingID string) (*domain.Shipment, error) {
	return r.getBy(ctx, "shipping_id", shippingID)
}

func (r *PgShipmentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return r.getBy(ctx, "order_id", orderID)
}

func (r *PgShipmentRepository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	return r.getBy(ctx, "tracking_number", trackingNumber)
}

func (r *PgShipmentRepository) List(ctx context.Context) ([]domain.Shipment, error) {
	rows, err := r.db.QueryContext(ctx, `select `+shipmentColumns+` from shipments order by created_at_utc desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// UpdateStatus is an optimistic compare-and-set on status; the due-action
// bookkeeping and the status notification commit in the same transaction.
func (r *PgShipmentRepository) UpdateStatus(ctx context.Context, change domain.StatusChange) error {
	s := change.Shipment

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        update shipments
        set status = $3,
            shipped_at = $4,
            in_transit_at = $5,
            actual_delivery = $6,
            failed_at = $7,
            updated_at_utc = $8
        where shipping_id = $1 and status = $2
    `,
		s.ShippingID, string(change.Expected), string(s.Status),
		nullTime(s.ShippedAt), nullTime(s.InTransitAt), nullTime(s.ActualDelivery), nullTime(s.FailedAt),
		s.UpdatedAtUtc,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := r.GetByShippingID(ctx, s.ShippingID); errors.Is(gerr, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}

	var applied any
	if change.AppliedAction != nil {
		applied = *change.AppliedAction
	}
	if _, err := tx.ExecContext(ctx, `
        update shipment_due_actions
        set state = case when id = $2 then 'APPLIED' else 'DISCARDED' end,
            settled_at_utc = $3
        where shipping_id = $1 and state = 'PENDING'
    `, s.ShippingID, applied, s.UpdatedAtUtc); err != nil {
		return err
	}

	if change.Next != nil {
		if err := insertDueAction(ctx, tx, *change.Next); err != nil {
			return err
		}
	}
	if change.Notification != nil {
		if err := insertOutbox(ctx, tx, *change.Notification); err != nil {
			return err
		}
	}
	return tx.Commit()
}
