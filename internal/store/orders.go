package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
)

type orderRow struct {
	models.Order
	MetadataRaw []byte `db:"metadata"`
}

func (r *orderRow) toOrder() (*models.Order, error) {
	order := r.Order
	if len(r.MetadataRaw) > 0 {
		if err := json.Unmarshal(r.MetadataRaw, &order.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode order metadata: %w", err)
		}
	}
	return &order, nil
}

// CreateOrder inserts the order and its items in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	metadata, err := json.Marshal(order.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode order metadata: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO orders (order_id, user_id, status, total_amount, currency, shipping_address, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		order.ID, order.UserID, order.Status, order.TotalAmount,
		order.Currency, order.ShippingAddress, metadata,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrder retrieves an order with its items
func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM orders WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("order", orderID)
	}
	if err != nil {
		return nil, err
	}

	order, err := row.toOrder()
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders retrieves all orders with their items
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.listOrders(ctx, "SELECT * FROM orders ORDER BY created_at DESC")
}

// ListOrdersByUser retrieves a user's orders with their items
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.listOrders(ctx,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(rows))
	for i := range rows {
		order, err := rows[i].toOrder()
		if err != nil {
			return nil, err
		}
		if err := s.db.SelectContext(ctx, &order.Items,
			"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// UpdateOrderStatus updates order status and, when set, the payment id.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status, paymentID string) error {
	var result sql.Result
	var err error
	if paymentID != "" {
		result, err = s.db.ExecContext(ctx,
			"UPDATE orders SET status = $1, payment_id = $2, updated_at = NOW() WHERE order_id = $3",
			status, paymentID, orderID)
	} else {
		result, err = s.db.ExecContext(ctx,
			"UPDATE orders SET status = $1, updated_at = NOW() WHERE order_id = $2",
			status, orderID)
	}
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound("order", orderID)
	}
	return nil
}

// SetItemReservation records the reservation id obtained for an order item
func (s *Store) SetItemReservation(ctx context.Context, orderID string, productID int64, reservationID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE order_items SET reservation_id = $1 WHERE order_id = $2 AND product_id = $3",
		reservationID, orderID, productID)
	return err
}
