package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"order-saga-service/internal/errs"
	"order-saga-service/internal/models"
	"order-saga-service/internal/service"
)

// CreatePayment inserts a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO payments (payment_id, order_id, user_id, amount, currency, status, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		payment.ID, payment.OrderID, payment.UserID, payment.Amount,
		payment.Currency, payment.Status, payment.PaymentMethod,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment with its full transaction history
func (s *Store) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE payment_id = $1", paymentID)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("payment", paymentID)
	}
	if err != nil {
		return nil, err
	}

	payment.Transactions, err = s.ListTransactions(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPayments retrieves all payments
func (s *Store) ListPayments(ctx context.Context) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments ORDER BY created_at DESC")
	return payments, err
}

// ListPaymentsByOrder retrieves payments for an order
func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at", orderID)
	return payments, err
}

// UpdatePaymentStatus updates a payment's status and any reference fields
// carried by the transition.
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID, status string, upd service.PaymentUpdate) error {
	fields := []string{"status = $1", "updated_at = NOW()"}
	args := []interface{}{status}

	if upd.AuthorizationID != "" {
		args = append(args, upd.AuthorizationID)
		fields = append(fields, fmt.Sprintf("authorization_id = $%d", len(args)))
	}
	if upd.CaptureID != "" {
		args = append(args, upd.CaptureID)
		fields = append(fields, fmt.Sprintf("capture_id = $%d", len(args)))
	}
	if upd.FailureReason != "" {
		args = append(args, upd.FailureReason)
		fields = append(fields, fmt.Sprintf("failure_reason = $%d", len(args)))
	}

	args = append(args, paymentID)
	query := fmt.Sprintf("UPDATE payments SET %s WHERE payment_id = $%d",
		strings.Join(fields, ", "), len(args))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound("payment", paymentID)
	}
	return nil
}

// AddTransaction appends one immutable gateway attempt record. Transaction
// rows are never updated or deleted.
func (s *Store) AddTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO payment_transactions (payment_id, transaction_type, amount, status, response_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		txn.PaymentID, txn.Type, txn.Amount, txn.Status, txn.ResponseData,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment transaction: %w", err)
	}
	return nil
}

// ListTransactions retrieves a payment's transaction history, oldest first
func (s *Store) ListTransactions(ctx context.Context, paymentID string) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := s.db.SelectContext(ctx, &txns,
		"SELECT * FROM payment_transactions WHERE payment_id = $1 ORDER BY created_at, id", paymentID)
	return txns, err
}
