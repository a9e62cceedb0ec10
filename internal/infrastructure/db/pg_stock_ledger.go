package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/RodolfoDevApp/eventshop-fulfillment-go/internal/domain"
)

const stockColumns = `id, sku, name, description, category, price, quantity, created_at_utc, updated_at_utc`

type PgStockLedger struct {
	db *sql.DB
}

func NewPgStockLedger(db *sql.DB) *PgStockLedger {
	return &PgStockLedger{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockItem(row rowScanner) (*domain.StockItem, error) {
	var item domain.StockItem
	if err := row.Scan(
		&item.ID,
		&item.Sku,
		&item.Name,
		&item.Description,
		&item.Category,
		&item.Price,
		&item.Quantity,
		&item.CreatedAtUtc,
		&item.UpdatedAtUtc,
	); err != nil {
		return nil, err
	}
	item.CreatedAtUtc = item.CreatedAtUtc.UTC()
	item.UpdatedAtUtc = item.UpdatedAtUtc.UTC()
	return &item, nil
}

func (r *PgStockLedger) Get(ctx context.Context, productID string) (*domain.StockItem, error) {
	row := r.db.QueryRowContext(ctx, `select `+stockColumns+` from stock_items where id = $1`, productID)
	item, err := scanStockItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (r *PgStockLedger) GetMany(ctx context.Context, productIDs []string) (map[string]*domain.StockItem, error) {
	if len(productIDs) == 0 {
		return map[string]*domain.StockItem{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`select `+stockColumns+` from stock_items where id = any($1)`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]*domain.StockItem)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	// missing ids are simply absent
	return result, rows.Err()
}

func (r *PgStockLedger) List(ctx context.Context) ([]domain.StockItem, error) {
	rows, err := r.db.QueryContext(ctx, `select `+stockColumns+` from stock_items order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	return result, rows.Err()
}

func (r *PgStockLedger) Create(ctx context.Context, item *domain.StockItem) error {
	_, err := r.db.ExecContext(ctx, `
        insert into stock_items (`+stockColumns+`)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `,
		item.ID,
		item.Sku,
		item.Name,
		item.Description,
		item.Category,
		item.Price,
		item.Quantity,
		item.CreatedAtUtc,
		item.UpdatedAtUtc,
	)
	if uniqueViolation(err) != "" {
		return domain.ErrDuplicateSku
	}
	return err
}

// Reserve is a single conditional update, so concurrent reservations on the
// same row serialize on the row lock and can never oversell.
func (r *PgStockLedger) Reserve(ctx context.Context, productID string, qty int) (*domain.StockItem, error) {
	row := r.db.QueryRowContext(ctx, `
        update stock_items
        set quantity = quantity - $2,
            updated_at_utc = now()
        where id = $1 and quantity >= $2
        returning `+stockColumns,
		productID, qty,
	)
	item, err := scanStockItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		// tell a missing row apart from a short one
		if _, gerr := r.Get(ctx, productID); errors.Is(gerr, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrInsufficientQuantity
	}
	return item, err
}

func (r *PgStockLedger) Release(ctx context.Context, productID string, qty int) (*domain.StockItem, error) {
	row := r.db.QueryRowContext(ctx, `
        update stock_items
        set quantity = quantity + $2,
            updated_at_utc = now()
        where id = $1
        returning `+stockColumns,
		productID, qty,
	)
	item, err := scanStockItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}
