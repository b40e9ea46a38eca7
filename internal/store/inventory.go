package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
)

// GetStock retrieves the stock row for a product
func (s *Store) GetStock(ctx context.Context, productID int64) (*models.Stock, error) {
	var st models.Stock
	err := s.db.GetContext(ctx, &st,
		"SELECT product_id, total, reserved, updated_at FROM stock WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("product", productID)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateReservation atomically checks availability, increments the reserved
// quantity, and inserts the reservation row. The FOR UPDATE lock serializes
// concurrent reserves on the same product.
func (s *Store) CreateReservation(ctx context.Context, res *models.StockReservation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var st models.Stock
	err = tx.GetContext(ctx, &st,
		"SELECT product_id, total, reserved, updated_at FROM stock WHERE product_id = $1 FOR UPDATE",
		res.ProductID)
	if err == sql.ErrNoRows {
		return errs.NotFound("product", res.ProductID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock stock: %w", err)
	}

	if st.Total-st.Reserved < res.Quantity {
		return fmt.Errorf("%w: product %d: available=%d, requested=%d",
			errs.ErrInsufficientStock, res.ProductID, st.Total-st.Reserved, res.Quantity)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE stock SET reserved = reserved + $1, updated_at = NOW() WHERE product_id = $2",
		res.Quantity, res.ProductID)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	err = tx.GetContext(ctx, &res.CreatedAt, `
		INSERT INTO stock_reservations (reservation_id, product_id, quantity, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		res.ID, res.ProductID, res.Quantity, res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	return tx.Commit()
}

// CommitReservation permanently consumes the reserved stock and deletes the
// reservation row. Expired reservations are left for the sweeper.
func (s *Store) CommitReservation(ctx context.Context, reservationID string) (*models.StockReservation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := lockReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}

	if res.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("%w: reservation %s", errs.ErrReservationExpired, reservationID)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE stock SET total = total - $1, reserved = reserved - $1, updated_at = NOW() WHERE product_id = $2",
		res.Quantity, res.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to commit stock: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM stock_reservations WHERE reservation_id = $1", reservationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// ReleaseReservation returns the held quantity to the available pool and
// deletes the reservation row.
func (s *Store) ReleaseReservation(ctx context.Context, reservationID string) (*models.StockReservation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := lockReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE stock SET reserved = reserved - $1, updated_at = NOW() WHERE product_id = $2",
		res.Quantity, res.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to release stock: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM stock_reservations WHERE reservation_id = $1", reservationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// SweepExpiredReservations resolves every expired reservation in one batch
// transaction. The FOR UPDATE on the reservation rows makes the sweep lose
// to an in-flight commit or release for the same id.
func (s *Store) SweepExpiredReservations(ctx context.Context, now time.Time) ([]models.StockReservation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var expired []models.StockReservation
	err = tx.SelectContext(ctx, &expired, `
		SELECT reservation_id, product_id, quantity, expires_at, created_at
		FROM stock_reservations WHERE expires_at < $1
		ORDER BY product_id FOR UPDATE`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired reservations: %w", err)
	}

	for _, res := range expired {
		_, err = tx.ExecContext(ctx,
			"UPDATE stock SET reserved = reserved - $1, updated_at = NOW() WHERE product_id = $2",
			res.Quantity, res.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to release expired reservation %s: %w", res.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM stock_reservations WHERE expires_at < $1", now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}

// Restock re-adds previously committed quantity (compensation for
// commit_stock).
func (s *Store) Restock(ctx context.Context, productID int64, quantity int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE stock SET total = total + $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound("product", productID)
	}
	return nil
}

func lockReservation(ctx context.Context, tx *sqlx.Tx, reservationID string) (*models.StockReservation, error) {
	var res models.StockReservation
	err := tx.GetContext(ctx, &res, `
		SELECT reservation_id, product_id, quantity, expires_at, created_at
		FROM stock_reservations WHERE reservation_id = $1 FOR UPDATE`, reservationID)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("reservation", reservationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}

	// Lock the stock row too so counter updates are serialized per product.
	if _, err := tx.ExecContext(ctx,
		"SELECT product_id FROM stock WHERE product_id = $1 FOR UPDATE", res.ProductID); err != nil {
		return nil, fmt.Errorf("failed to lock stock: %w", err)
	}

	return &res, nil
}
