package broker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"order-saga-service/internal/models"
)

// EventPublisher builds and publishes typed lifecycle events. Publishing is
// best effort; callers log failures and carry on.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// PublishOrderCreated announces a new order and its saga
func (p *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order, items []models.SagaItem) error {
	event := models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		Items:       items,
	}
	return p.producer.PublishEvent(ctx, order.ID, event)
}

// PublishOrderConfirmed announces a successfully completed saga
func (p *EventPublisher) PublishOrderConfirmed(ctx context.Context, orderID string, userID int64, paymentID string) error {
	event := models.OrderConfirmedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderConfirmed),
		OrderID:   orderID,
		UserID:    userID,
		PaymentID: paymentID,
	}
	return p.producer.PublishEvent(ctx, orderID, event)
}

// PublishOrderFailed announces a saga that failed and was compensated
func (p *EventPublisher) PublishOrderFailed(ctx context.Context, orderID, failedStep, reason string) error {
	event := models.OrderFailedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderFailed),
		OrderID:    orderID,
		FailedStep: failedStep,
		Reason:     reason,
	}
	return p.producer.PublishEvent(ctx, orderID, event)
}

// PublishOrderCancelled announces a user-initiated cancellation
func (p *EventPublisher) PublishOrderCancelled(ctx context.Context, orderID, reason string) error {
	event := models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   orderID,
		Reason:    reason,
	}
	return p.producer.PublishEvent(ctx, orderID, event)
}

// PublishPaymentAuthorized announces a payment reaching authorized
func (p *EventPublisher) PublishPaymentAuthorized(ctx context.Context, payment *models.Payment, authorizationID string) error {
	event := models.PaymentAuthorizedEvent{
		BaseEvent:       newBaseEvent(models.EventTypePaymentAuthorized),
		OrderID:         payment.OrderID,
		PaymentID:       payment.ID,
		Amount:          payment.Amount,
		AuthorizationID: authorizationID,
	}
	return p.producer.PublishEvent(ctx, payment.OrderID, event)
}

// PublishPaymentCaptured announces a payment reaching captured
func (p *EventPublisher) PublishPaymentCaptured(ctx context.Context, payment *models.Payment, amount int64, captureID string) error {
	event := models.PaymentCapturedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCaptured),
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Amount:    amount,
		CaptureID: captureID,
	}
	return p.producer.PublishEvent(ctx, payment.OrderID, event)
}

// PublishPaymentFailed announces a failed gateway attempt
func (p *EventPublisher) PublishPaymentFailed(ctx context.Context, payment *models.Payment, reason string) error {
	event := models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed),
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Reason:    reason,
	}
	return p.producer.PublishEvent(ctx, payment.OrderID, event)
}
