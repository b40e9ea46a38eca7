package models

import "time"

// Event types
const (
	EventTypeOrderCreated      = "ORDER_CREATED"
	EventTypeOrderConfirmed    = "ORDER_CONFIRMED"
	EventTypeOrderFailed       = "ORDER_FAILED"
	EventTypeOrderCancelled    = "ORDER_CANCELLED"
	EventTypePaymentAuthorized = "PAYMENT_AUTHORIZED"
	EventTypePaymentCaptured   = "PAYMENT_CAPTURED"
	EventTypePaymentFailed     = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order and its saga are created
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string     `json:"order_id"`
	UserID      int64      `json:"user_id"`
	TotalAmount int64      `json:"total_amount"`
	Currency    string     `json:"currency"`
	Items       []SagaItem `json:"items"`
}

// OrderConfirmedEvent published when the saga completes successfully
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	UserID    int64  `json:"user_id"`
	PaymentID string `json:"payment_id"`
}

// OrderFailedEvent published after compensation concludes a failed saga
type OrderFailedEvent struct {
	BaseEvent
	OrderID    string `json:"order_id"`
	FailedStep string `json:"failed_step"`
	Reason     string `json:"reason"`
}

// OrderCancelledEvent published on user-initiated cancellation
type OrderCancelledEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentAuthorizedEvent published when a payment reaches authorized
type PaymentAuthorizedEvent struct {
	BaseEvent
	OrderID         string `json:"order_id"`
	PaymentID       string `json:"payment_id"`
	Amount          int64  `json:"amount"`
	AuthorizationID string `json:"authorization_id"`
}

// PaymentCapturedEvent published when a payment reaches captured
type PaymentCapturedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	CaptureID string `json:"capture_id"`
}

// PaymentFailedEvent published when a gateway attempt fails
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}
