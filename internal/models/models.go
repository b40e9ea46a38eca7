package models

import "time"

// Stock tracks per-product quantities. Reserved never exceeds Total.
type Stock struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Total     int       `db:"total" json:"total"`
	Reserved  int       `db:"reserved" json:"reserved"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StockAvailability is the read-side view of a product's stock.
type StockAvailability struct {
	ProductID int64 `json:"product_id"`
	Total     int   `json:"total"`
	Reserved  int   `json:"reserved"`
	Available int   `json:"available"`
}

// StockReservation is a time-bounded hold on inventory. Exactly one of
// commit, release or sweep resolves it.
type StockReservation struct {
	ID        string    `db:"reservation_id" json:"reservation_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order represents a customer order
type Order struct {
	ID              string            `db:"order_id" json:"order_id"`
	UserID          int64             `db:"user_id" json:"user_id"`
	Status          string            `db:"status" json:"status"`
	TotalAmount     int64             `db:"total_amount" json:"total_amount"`
	Currency        string            `db:"currency" json:"currency"`
	ShippingAddress string            `db:"shipping_address" json:"shipping_address,omitempty"`
	PaymentID       string            `db:"payment_id" json:"payment_id,omitempty"`
	Metadata        map[string]string `db:"-" json:"metadata,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem represents one line of an order
type OrderItem struct {
	ID            int64  `db:"id" json:"id"`
	OrderID       string `db:"order_id" json:"order_id"`
	ProductID     int64  `db:"product_id" json:"product_id"`
	Quantity      int    `db:"quantity" json:"quantity"`
	UnitPrice     int64  `db:"unit_price" json:"unit_price"`
	TotalPrice    int64  `db:"total_price" json:"total_price"`
	ReservationID string `db:"reservation_id" json:"reservation_id,omitempty"`
}

// Payment represents a payment and its position in the
// pending -> authorized -> captured lifecycle.
type Payment struct {
	ID              string    `db:"payment_id" json:"payment_id"`
	OrderID         string    `db:"order_id" json:"order_id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Amount          int64     `db:"amount" json:"amount"`
	Currency        string    `db:"currency" json:"currency"`
	Status          string    `db:"status" json:"status"`
	PaymentMethod   string    `db:"payment_method" json:"payment_method"`
	AuthorizationID string    `db:"authorization_id" json:"authorization_id,omitempty"`
	CaptureID       string    `db:"capture_id" json:"capture_id,omitempty"`
	FailureReason   string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`

	Transactions []PaymentTransaction `db:"-" json:"transactions,omitempty"`
}

// PaymentTransaction is one immutable gateway attempt record. The audit
// trail is append-only; rows are never updated or deleted.
type PaymentTransaction struct {
	ID           int64     `db:"id" json:"id"`
	PaymentID    string    `db:"payment_id" json:"payment_id"`
	Type         string    `db:"transaction_type" json:"transaction_type"`
	Amount       int64     `db:"amount" json:"amount"`
	Status       string    `db:"status" json:"status"`
	ResponseData string    `db:"response_data" json:"response_data,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// User is the slice of a user the validation capability exposes
type User struct {
	ID    int64  `db:"id" json:"id"`
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name"`
}

// SagaState is the durable record of an in-flight order saga, deleted once
// the saga concludes. CompletedSteps is always a strict prefix of the fixed
// step sequence.
type SagaState struct {
	OrderID           string    `db:"order_id" json:"order_id"`
	CurrentStep       string    `db:"current_step" json:"current_step"`
	CompletedSteps    []string  `db:"-" json:"completed_steps"`
	FailedStep        string    `db:"failed_step" json:"failed_step,omitempty"`
	CompensationSteps []string  `db:"-" json:"compensation_steps,omitempty"`
	Data              SagaData  `db:"-" json:"saga_data"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// HasCompleted reports whether the named step is in CompletedSteps.
func (s *SagaState) HasCompleted(step string) bool {
	for _, done := range s.CompletedSteps {
		if done == step {
			return true
		}
	}
	return false
}

// SagaData accumulates step outputs used as input to later steps.
// Persisted as JSON alongside the saga record.
type SagaData struct {
	UserID          int64             `json:"user_id"`
	PaymentMethod   string            `json:"payment_method,omitempty"`
	Items           []SagaItem        `json:"items"`
	ValidatedUser   *User             `json:"validated_user,omitempty"`
	Reservations    []SagaReservation `json:"reservations,omitempty"`
	Committed       []SagaReservation `json:"committed,omitempty"`
	PaymentID       string            `json:"payment_id,omitempty"`
	AuthorizationID string            `json:"authorization_id,omitempty"`
	CaptureID       string            `json:"capture_id,omitempty"`
}

// SagaItem mirrors an order item inside saga data
type SagaItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// SagaReservation records a stock hold obtained during reserve_stock
type SagaReservation struct {
	ProductID     int64  `json:"product_id"`
	Quantity      int    `json:"quantity"`
	ReservationID string `json:"reservation_id"`
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending    = "pending"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
)

// Payment transaction types
const (
	TransactionTypeAuthorize = "authorize"
	TransactionTypeCapture   = "capture"
	TransactionTypeCancel    = "cancel"
	TransactionTypeRefund    = "refund"
)

// Payment transaction outcomes
const (
	TransactionStatusSuccess = "success"
	TransactionStatusFailed  = "failed"
)

// Saga step names, in execution order
const (
	StepValidateUser     = "validate_user"
	StepReserveStock     = "reserve_stock"
	StepAuthorizePayment = "authorize_payment"
	StepCapturePayment   = "capture_payment"
	StepCommitStock      = "commit_stock"
	StepConfirmOrder     = "confirm_order"
)

// Compensation step names
const (
	CompensationReleaseStock  = "release_stock"
	CompensationCancelPayment = "cancel_payment"
	CompensationRestock       = "restock"
)

// DefaultCurrency is applied when an order does not specify one.
const DefaultCurrency = "VND"
