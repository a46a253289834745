package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/motomarket/api/internal/domain"
	ppostgres "github.com/motomarket/api/internal/platform/postgres"
	"github.com/motomarket/api/internal/repositories"
)

const orderColumns = `id, reference, user_id, first_name, last_name, phone, email, ship_address, total_price::text, status, created_at, updated_at`

const orderLineColumns = `id, order_id, product_id, quantity, price::text, make, model, year`

// OrderRepository persists order headers and their snapshot lines.
type OrderRepository struct {
	provider *ppostgres.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a PostgreSQL backed order repository.
func NewOrderRepository(provider *ppostgres.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires postgres provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// Insert writes the header then each line. Callers run it inside a transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	const op = "orders.insert"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}

	c := order.Customer
	stored, err := scanOrder(db.QueryRow(ctx, `INSERT INTO orders
		(reference, user_id, first_name, last_name, phone, email, ship_address, total_price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11)
		RETURNING `+orderColumns,
		order.Reference, order.UserID, c.FirstName, c.LastName, c.Phone, c.Email, c.ShipAddress,
		order.TotalPrice.String(), string(order.Status), order.CreatedAt, order.UpdatedAt))
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}

	stored.Lines = make([]domain.OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		saved, err := scanOrderLine(db.QueryRow(ctx, `INSERT INTO order_lines
			(order_id, product_id, quantity, price, make, model, year)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
			RETURNING `+orderLineColumns,
			stored.ID, line.ProductID, line.Quantity, line.Price.String(), line.Make, line.Model, line.Year))
		if err != nil {
			return domain.Order{}, ppostgres.WrapError(op, err)
		}
		stored.Lines = append(stored.Lines, saved)
	}
	return stored, nil
}

// FindByID loads the order header with its lines.
func (r *OrderRepository) FindByID(ctx context.Context, orderID int64) (domain.Order, error) {
	const op = "orders.find"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	order, err := scanOrder(db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, ppostgres.NotFound(op, fmt.Sprintf("order %d not found", orderID))
	}
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}

	orders := []domain.Order{order}
	if err := attachLines(ctx, db, orders); err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	return orders[0], nil
}

// List returns orders newest first with the unpaginated total.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderListFilter) (domain.Page[domain.Order], error) {
	const op = "orders.list"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Page[domain.Order]{}, ppostgres.WrapError(op, err)
	}

	var (
		clauses []string
		args    []any
	)
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		clauses = append(clauses, "user_id = $"+strconv.Itoa(len(args)))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		args = append(args, statuses)
		clauses = append(clauses, "status = ANY($"+strconv.Itoa(len(args))+")")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return domain.Page[domain.Order]{}, ppostgres.WrapError(op, err)
	}

	query, args := withPaging(`SELECT `+orderColumns+` FROM orders`+where+` ORDER BY created_at DESC, id DESC`, args, filter.Pagination)
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Order]{}, ppostgres.WrapError(op, err)
	}
	items := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.Page[domain.Order]{}, ppostgres.WrapError(op, err)
		}
		items = append(items, order)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Order]{}, ppostgres.WrapError(op, err)
	}

	if err := attachLines(ctx, db, items); err != nil {
		return domain.Page[domain.Order]{}, ppostgres.WrapError(op, err)
	}
	return domain.Page[domain.Order]{Items: items, Total: int(total)}, nil
}

// UpdateStatus writes the new status only while the row still holds the expected one.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID int64, from, to domain.OrderStatus, updatedAt time.Time) (domain.Order, error) {
	const op = "orders.update_status"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	order, err := scanOrder(db.QueryRow(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4 RETURNING `+orderColumns,
		orderID, string(to), updatedAt, string(from)))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
			return domain.Order{}, ppostgres.WrapError(op, err)
		}
		if !exists {
			return domain.Order{}, ppostgres.NotFound(op, fmt.Sprintf("order %d not found", orderID))
		}
		return domain.Order{}, ppostgres.Conflict(op, fmt.Sprintf("order %d is no longer %s", orderID, from))
	}
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}

	orders := []domain.Order{order}
	if err := attachLines(ctx, db, orders); err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	return orders[0], nil
}

// Delete removes the lines then the header.
func (r *OrderRepository) Delete(ctx context.Context, orderID int64) error {
	const op = "orders.delete"
	db, err := r.provider.Conn(ctx)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	if _, err := db.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID); err != nil {
		return ppostgres.WrapError(op, err)
	}
	tag, err := db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound(op, fmt.Sprintf("order %d not found", orderID))
	}
	return nil
}

// attachLines loads the lines of every order in one query and assigns them in id order.
func attachLines(ctx context.Context, db ppostgres.Querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Lines = make([]domain.OrderLine, 0)
	}

	rows, err := db.Query(ctx, `SELECT `+orderLineColumns+` FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		line, err := scanOrderLine(rows)
		if err != nil {
			return err
		}
		if i, ok := index[line.OrderID]; ok {
			orders[i].Lines = append(orders[i].Lines, line)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order  domain.Order
		total  string
		status string
	)
	c := &order.Customer
	if err := row.Scan(&order.ID, &order.Reference, &order.UserID, &c.FirstName, &c.LastName, &c.Phone, &c.Email, &c.ShipAddress,
		&total, &status, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("parse total %q: %w", total, err)
	}
	order.TotalPrice = amount
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func scanOrderLine(row pgx.Row) (domain.OrderLine, error) {
	var (
		line  domain.OrderLine
		price string
	)
	if err := row.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &price, &line.Make, &line.Model, &line.Year); err != nil {
		return domain.OrderLine{}, err
	}
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return domain.OrderLine{}, fmt.Errorf("parse line price %q: %w", price, err)
	}
	line.Price = amount
	return line, nil
}
