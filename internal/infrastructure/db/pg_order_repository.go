package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

type PgOrderRepository struct {
	db *sql.DB
}

func NewPgOrderRepository(db *sql.DB) *PgOrderRepository {
	return &PgOrderRepository{db: db}
}

func (r *PgOrderRepository) InsertWithOutbox(
	ctx context.Context,
	order *domain.Order,
	msg domain.OutboxMessage,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a := order.ShippingAddress
	if _, err := tx.ExecContext(ctx, `
        insert into orders
        (order_id, customer_id, customer_name, customer_email, total_amount, status,
         ship_street, ship_city, ship_state, ship_zip_code, ship_country, created_at_utc)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    `,
		order.OrderID,
		order.CustomerID,
		order.CustomerName,
		order.CustomerEmail,
		order.TotalAmount,
		string(order.Status),
		a.Street, a.City, a.State, a.ZipCode, a.Country,
		order.CreatedAtUtc,
	); err != nil {
		if uniqueViolation(err) != "" {
			return domain.ErrAlreadyExists
		}
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
        insert into order_lines
        (order_id, line_no, product_id, product_name, quantity, unit_price, line_total)
        values ($1,$2,$3,$4,$5,$6,$7)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, li := range order.Items {
		if _, err := stmt.ExecContext(ctx,
			order.OrderID, i, li.ProductID, li.ProductName, li.Quantity, li.UnitPrice, li.LineTotal,
		); err != nil {
			return err
		}
	}

	if err := insertOutbox(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit()
}

const orderColumns = `order_id, customer_id, customer_name, customer_email, total_amount, status,
        ship_street, ship_city, ship_state, ship_zip_code, ship_country, created_at_utc`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var status string
	a := &o.ShippingAddress
	if err := row.Scan(
		&o.OrderID,
		&o.CustomerID,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.TotalAmount,
		&status,
		&a.Street, &a.City, &a.State, &a.ZipCode, &a.Country,
		&o.CreatedAtUtc,
	); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAtUtc = o.CreatedAtUtc.UTC()
	return &o, nil
}

func (r *PgOrderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `select `+orderColumns+` from orders where order_id = $1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	lines, err := r.loadLines(ctx, []string{o.OrderID})
	if err != nil {
		return nil, err
	}
	o.Items = lines[o.OrderID]
	return o, nil
}

func (r *PgOrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `select `+orderColumns+` from orders order by created_at_utc desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
		ids = append(ids, o.OrderID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = lines[orders[i].OrderID]
	}
	return orders, nil
}

func (r *PgOrderRepository) loadLines(ctx context.Context, orderIDs []string) (map[string][]domain.LineItem, error) {
	result := make(map[string][]domain.LineItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `
        select order_id, product_id, product_name, quantity, unit_price, line_total
        from order_lines
        where order_id = any($1)
        order by order_id, line_no
    `, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var li domain.LineItem
		if err := rows.Scan(&orderID, &li.ProductID, &li.ProductName, &li.Quantity, &li.UnitPrice, &li.LineTotal); err != nil {
			return nil, err
		}
		result[orderID] = append(result[orderID], li)
	}
	return result, rows.Err()
}
