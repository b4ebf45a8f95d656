package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts order unless another order already holds its idempotency
// key. It reports whether a row was written and returns the stored order
// either way.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) (*domain.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()

	var id string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders.orders (id, idempotency_key, operator_id, customer_id, mode, subtotal, discount, total, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, order.ID, order.IdempotencyKey, order.OperatorID, order.CustomerID, order.Mode,
		order.Subtotal, order.Discount, order.Total, order.Status, order.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		existing, err := r.GetByIdempotencyKey(ctx, order.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("order with key %s vanished after conflict", order.IdempotencyKey)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders.order_items (order_id, position, product_id, name, size, category, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, order.ID, i, item.ProductID, item.Name, item.Size, item.Category, item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return nil, false, err
		}
	}

	for _, part := range order.Payments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders.order_payments (order_id, method, amount)
			VALUES ($1, $2, $3)
		`, order.ID, part.Method, part.Amount)
		if err != nil {
			return nil, false, err
		}
	}

	for _, a := range order.ItemPayments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders.order_item_payments (order_id, line_key, method, quantity)
			VALUES ($1, $2, $3, $4)
		`, order.ID, a.LineKey, a.Method, a.Quantity)
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return order, true, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, "id = $1", id)
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.getOne(ctx, "idempotency_key = $1", key)
}

// getOne returns nil, nil when no order matches.
func (r *OrderRepository) getOne(ctx context.Context, where string, arg any) (*domain.Order, error) {
	order := &domain.Order{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, operator_id, customer_id, mode, subtotal, discount, total, status, created_at
		FROM orders.orders
		WHERE `+where, arg).Scan(orderFields(order)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	byID := map[string]*domain.Order{order.ID: order}
	if err := r.loadLines(ctx, byID, []string{order.ID}); err != nil {
		return nil, err
	}
	return order, nil
}

// List returns the most recent orders first, with their lines loaded in
// batched queries.
func (r *OrderRepository) List(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, idempotency_key, operator_id, customer_id, mode, subtotal, discount, total, status, created_at
		FROM orders.orders
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*domain.Order)
	var ids []string

	for rows.Next() {
		order := &domain.Order{}
		if err := rows.Scan(orderFields(order)...); err != nil {
			return nil, err
		}
		byID[order.ID] = order
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.loadLines(ctx, byID, ids); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, *byID[id])
	}
	return orders, nil
}

func (r *OrderRepository) loadLines(ctx context.Context, byID map[string]*domain.Order, ids []string) error {
	for _, o := range byID {
		o.Items = []domain.OrderItem{}
		o.Payments = []domain.PaymentPart{}
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, size, category, quantity, unit_price, line_total
		FROM orders.order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.Size, &item.Category,
			&item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return err
		}
		byID[orderID].Items = append(byID[orderID].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return err
	}

	paymentRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, method, amount
		FROM orders.order_payments
		WHERE order_id = ANY($1)
		ORDER BY order_id, method
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = paymentRows.Close() }()

	for paymentRows.Next() {
		var orderID string
		var part domain.PaymentPart
		if err := paymentRows.Scan(&orderID, &part.Method, &part.Amount); err != nil {
			return err
		}
		byID[orderID].Payments = append(byID[orderID].Payments, part)
	}
	if err := paymentRows.Err(); err != nil {
		return err
	}

	assignmentRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, line_key, method, quantity
		FROM orders.order_item_payments
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_key, method
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = assignmentRows.Close() }()

	for assignmentRows.Next() {
		var orderID string
		var a domain.ItemAssignment
		if err := assignmentRows.Scan(&orderID, &a.LineKey, &a.Method, &a.Quantity); err != nil {
			return err
		}
		byID[orderID].ItemPayments = append(byID[orderID].ItemPayments, a)
	}
	return assignmentRows.Err()
}

func orderFields(o *domain.Order) []any {
	return []any{&o.ID, &o.IdempotencyKey, &o.OperatorID, &o.CustomerID, &o.Mode,
		&o.Subtotal, &o.Discount, &o.Total, &o.Status, &o.CreatedAt}
}
