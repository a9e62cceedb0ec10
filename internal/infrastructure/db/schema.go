package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const stockSchema = `
create table if not exists stock_items (
    id             text primary key,
    sku            text not null unique,
    name           text not null,
    description    text not null default '',
    category       text not null default '',
    price          numeric(12,2) not null check (price >= 0),
    quantity       integer not null check (quantity >= 0),
    created_at_utc timestamptz not null,
    updated_at_utc timestamptz not null
);
`

const ordersSchema = `
create table if not exists orders (
    order_id         text primary key,
    customer_id      text not null,
    customer_name    text not null,
    customer_email   text not null,
    total_amount     numeric(14,2) not null,
    status           text not null,
    ship_street      text not null,
    ship_city        text not null,
    ship_state       text not null,
    ship_zip_code    text not null,
    ship_country     text not null,
    created_at_utc   timestamptz not null
);

create table if not exists order_lines (
    order_id     text not null references orders(order_id),
    line_no      integer not null,
    product_id   text not null,
    product_name text not null,
    quantity     integer not null check (quantity > 0),
    unit_price   numeric(12,2) not null,
    line_total   numeric(14,2) not null,
    primary key (order_id, line_no)
);
`

// outboxSchema lives in every store that announces its own changes.
const outboxSchema = `
create table if not exists outbox_messages (
    id               uuid primary key,
    type             text not null,
    routing_key      text not null,
    payload_json     text not null,
    occurred_at_utc  timestamptz not null,
    retry_count      integer not null default 0,
    processed_at_utc timestamptz null,
    last_error       text not null default ''
);

create index if not exists ix_outbox_pending
    on outbox_messages (occurred_at_utc) where processed_at_utc is null;
`

const shippingSchema = `
create table if not exists shipments (
    shipping_id        text primary key,
    order_id           text not null,
    customer_id        text not null,
    customer_name      text not null,
    customer_email     text not null,
    ship_street        text not null,
    ship_city          text not null,
    ship_state         text not null,
    ship_zip_code      text not null,
    ship_country       text not null,
    items_json         jsonb not null,
    total_amount       numeric(14,2) not null,
    status             text not null,
    tracking_number    text not null,
    carrier            text not null,
    estimated_delivery timestamptz not null,
    shipped_at         timestamptz null,
    in_transit_at      timestamptz null,
    actual_delivery    timestamptz null,
    failed_at          timestamptz null,
    created_at_utc     timestamptz not null,
    updated_at_utc     timestamptz not null,
    constraint uq_shipments_order_id unique (order_id),
    constraint uq_shipments_tracking_number unique (tracking_number)
);

create table if not exists shipment_due_actions (
    id              uuid primary key,
    shipping_id     text not null references shipments(shipping_id),
    from_status     text not null,
    target_status   text not null,
    due_at_utc      timestamptz not null,
    state           text not null,
    attempts        integer not null default 0,
    created_at_utc  timestamptz not null,
    settled_at_utc  timestamptz null
);

create index if not exists ix_due_actions_pending
    on shipment_due_actions (due_at_utc) where state = 'PENDING';
`

type Store string

const (
	StockStore    Store = "stock"
	OrdersStore   Store = "orders"
	ShippingStore Store = "shipping"
)

var schemas = map[Store]string{
	StockStore:    stockSchema,
	OrdersStore:   ordersSchema + outboxSchema,
	ShippingStore: shippingSchema + outboxSchema,
}

// Open connects to one of the independently owned stores and applies its
// schema.
func Open(ctx context.Context, dsn string, store Store) (*sql.DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", store, err)
	}
	conn.SetMaxOpenConns(20)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping %s store: %w", store, err)
	}
	if _, err := conn.ExecContext(ctx, schemas[store]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate %s store: %w", store, err)
	}

	slog.Info("Database connected and migrated", "store", store)
	return conn, nil
}

// uniqueViolation returns the violated constraint name, or "" when err is
// not a unique violation.
func uniqueViolation(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "" {
			return "unknown"
		}
		return pgErr.ConstraintName
	}
	return ""
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
