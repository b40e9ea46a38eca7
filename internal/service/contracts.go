package service

import (
	"context"
	"time"

	"order-saga-service/internal/models"
)

// StockStore provides the reservation ledger's atomic primitives. Each
// method is a single transaction; operations touching the same product are
// serialized by the implementation (row lock or per-product mutex).
type StockStore interface {
	GetStock(ctx context.Context, productID int64) (*models.Stock, error)

	// CreateReservation checks availability and, if sufficient, increments
	// the reserved quantity and inserts the reservation row atomically.
	// Returns errs.ErrNotFound for unknown products and
	// errs.ErrInsufficientStock when quantity exceeds availability.
	CreateReservation(ctx context.Context, res *models.StockReservation) error

	// CommitReservation deducts both total and reserved by the reservation's
	// quantity and deletes the row. Returns errs.ErrNotFound if the
	// reservation was already resolved and errs.ErrReservationExpired if its
	// expiry has passed (the row is left for the sweeper).
	CommitReservation(ctx context.Context, reservationID string) (*models.StockReservation, error)

	// ReleaseReservation returns the held quantity to the available pool and
	// deletes the row. Returns errs.ErrNotFound if already resolved.
	ReleaseReservation(ctx context.Context, reservationID string) (*models.StockReservation, error)

	// SweepExpiredReservations resolves every reservation whose expiry
	// precedes now, releasing its quantity, and reports what was swept.
	SweepExpiredReservations(ctx context.Context, now time.Time) ([]models.StockReservation, error)

	// Restock re-adds previously committed quantity to a product's total.
	Restock(ctx context.Context, productID int64, quantity int) error
}

// OrderStore persists orders and their items.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, status, paymentID string) error
	SetItemReservation(ctx context.Context, orderID string, productID int64, reservationID string) error
}

// PaymentUpdate carries the optional fields a status change may set.
type PaymentUpdate struct {
	AuthorizationID string
	CaptureID       string
	FailureReason   string
}

// PaymentStore persists payments and their append-only transaction records.
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	ListPayments(ctx context.Context) ([]models.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID, status string, upd PaymentUpdate) error
	AddTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	ListTransactions(ctx context.Context, paymentID string) ([]models.PaymentTransaction, error)
}

// SagaStore persists per-order saga progress.
type SagaStore interface {
	SaveSagaState(ctx context.Context, state *models.SagaState) error
	GetSagaState(ctx context.Context, orderID string) (*models.SagaState, error)
	DeleteSagaState(ctx context.Context, orderID string) error
	ListSagaOrderIDs(ctx context.Context) ([]string, error)
}

// UserStore looks up users for the validation capability.
type UserStore interface {
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
}

// EventStore records consumed event ids for idempotent handling.
type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Store aggregates the persistence contracts. Both the Postgres store and
// the in-memory store satisfy it.
type Store interface {
	StockStore
	OrderStore
	PaymentStore
	SagaStore
	UserStore
	EventStore
}

// GatewayRequest is the abstract request sent to the payment gateway.
type GatewayRequest struct {
	Amount          int64
	Currency        string
	PaymentMethod   string
	AuthorizationID string
	Reason          string
}

// GatewayResult reports the gateway's decision. Success=false with
// ErrorMessage set is a gateway decline; transport-level failures surface
// as the error return of the gateway call.
type GatewayResult struct {
	Success      bool   `json:"success"`
	ReferenceID  string `json:"reference_id,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	RawResponse  string `json:"gateway_response,omitempty"`
}

// PaymentGateway abstracts the external payment processor. Calls may fail
// independent of business validity; failures are reported, not retried.
type PaymentGateway interface {
	Authorize(ctx context.Context, req GatewayRequest) (*GatewayResult, error)
	Capture(ctx context.Context, req GatewayRequest) (*GatewayResult, error)
	Cancel(ctx context.Context, req GatewayRequest) (*GatewayResult, error)
}

// ValidationResult is the user-validation capability's response.
type ValidationResult struct {
	IsValid bool         `json:"is_valid"`
	User    *models.User `json:"user,omitempty"`
}

// UserValidator abstracts the user-validation capability.
type UserValidator interface {
	Validate(ctx context.Context, userID int64) (*ValidationResult, error)
}
